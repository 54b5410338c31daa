package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func eventsCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "task-id",
			Required: true,
			Sources:  cli.EnvVars("KARAKURI_TASK_ID"),
			Usage:    "Task whose events are dumped",
		},
		&cli.IntFlag{
			Name:  "cursor",
			Usage: "Dump events with an ID greater than this",
		},
		&cli.BoolFlag{
			Name:    "follow",
			Aliases: []string{"f"},
			Usage:   "Keep a live subscription open and stream new events",
		},
	}
	flags = append(flags, backendFlags()...)

	return &cli.Command{
		Name:   "events",
		Usage:  "Dump a task's events as JSON lines",
		Flags:  flags,
		Action: eventsAction,
	}
}

func eventsAction(ctx context.Context, cmd *cli.Command) error {
	elog, closeLog, err := newEventLog(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeLog()
	}()

	taskID := cmd.String("task-id")
	cursor := int64(cmd.Int("cursor"))
	enc := json.NewEncoder(os.Stdout)

	if !cmd.Bool("follow") {
		events, err := elog.ReadSince(ctx, taskID, cursor, 0)
		if err != nil {
			return goerr.Wrap(err, "failed to read events", goerr.V("task_id", taskID))
		}
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return goerr.Wrap(err, "failed to encode event")
			}
		}
		return nil
	}

	sub, err := elog.Subscribe(ctx, taskID, cursor)
	if err != nil {
		return goerr.Wrap(err, "failed to subscribe", goerr.V("task_id", taskID))
	}
	defer sub.Close()

	for ev := range sub.Events() {
		if err := enc.Encode(ev); err != nil {
			return goerr.Wrap(err, "failed to encode event")
		}
	}
	return sub.Err()
}
