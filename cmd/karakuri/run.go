package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/mcp"
	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "max-concurrency",
			Value:   karakuri.DefaultMaxConcurrency,
			Sources: cli.EnvVars("KARAKURI_MAX_CONCURRENCY"),
			Usage:   "Max operations of one batch running at the same time",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Value:   time.Minute,
			Sources: cli.EnvVars("KARAKURI_TIMEOUT"),
			Usage:   "Per-operation timeout (0 disables)",
		},
		&cli.IntFlag{
			Name:    "retention",
			Sources: cli.EnvVars("KARAKURI_RETENTION"),
			Usage:   "Max events retained per task after a run (0 keeps everything)",
		},
		&cli.IntFlag{
			Name:    "loop-limit",
			Value:   karakuri.DefaultLoopLimit,
			Sources: cli.EnvVars("KARAKURI_LOOP_LIMIT"),
			Usage:   "Max loop iterations for one plan run",
		},
		&cli.StringSliceFlag{
			Name:    "mcp-stdio",
			Sources: cli.EnvVars("KARAKURI_MCP_STDIO"),
			Usage:   "Command line of a local MCP server (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:    "mcp-sse",
			Sources: cli.EnvVars("KARAKURI_MCP_SSE"),
			Usage:   "Base URL of a remote MCP server via SSE (repeatable)",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Sources: cli.EnvVars("KARAKURI_LOG_LEVEL"),
			Usage:   "Log level (debug, info, warn or error)",
		},
	}
	flags = append(flags, providerFlags()...)
	flags = append(flags, backendFlags()...)

	return &cli.Command{
		Name:      "run",
		Usage:     "Run a task and stream its events until the plan finishes",
		ArgsUsage: "<task description>",
		Flags:     flags,
		Action:    runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	description := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if description == "" {
		return goerr.New("task description is required")
	}

	logger, err := newLogger(cmd.String("log-level"))
	if err != nil {
		return err
	}

	svc, closeSvc, err := newPlanningService(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSvc(); err != nil {
			logger.Warn("failed to close planning service", "error", err)
		}
	}()

	elog, closeLog, err := newEventLog(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLog(); err != nil {
			logger.Warn("failed to close event log", "error", err)
		}
	}()

	toolSets, closeToolSets, err := newToolSets(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeToolSets()

	agent := karakuri.New(svc,
		karakuri.WithEventLog(elog),
		karakuri.WithLogger(logger),
		karakuri.WithToolSets(toolSets...),
		karakuri.WithMaxConcurrency(int(cmd.Int("max-concurrency"))),
		karakuri.WithOperationTimeout(cmd.Duration("timeout")),
		karakuri.WithLoopLimit(int(cmd.Int("loop-limit"))),
		karakuri.WithRetention(int(cmd.Int("retention"))),
	)
	defer agent.Stop()

	taskID, err := agent.StartTask(ctx, description)
	if err != nil {
		return err
	}

	sub, err := elog.Subscribe(ctx, taskID, 0)
	if err != nil {
		return goerr.Wrap(err, "failed to subscribe", goerr.V("task_id", taskID))
	}
	defer sub.Close()

	// The loop emits exactly one agent message per run; seeing it means the
	// plan is terminal and the results are submitted.
	enc := json.NewEncoder(os.Stdout)
	for ev := range sub.Events() {
		if err := enc.Encode(ev); err != nil {
			return goerr.Wrap(err, "failed to encode event")
		}
		if ev.Type != karakuri.EventMessage {
			continue
		}
		if msg, err := ev.Message(); err == nil && msg.Role == karakuri.RoleAgent {
			break
		}
	}
	if err := sub.Err(); err != nil {
		return goerr.Wrap(err, "event stream failed", goerr.V("task_id", taskID))
	}

	if err := agent.CancelTask(taskID); err != nil {
		return err
	}
	if err := agent.Wait(context.WithoutCancel(ctx), taskID); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newToolSets(ctx context.Context, cmd *cli.Command) ([]karakuri.ToolSet, func(), error) {
	var clients []*mcp.Client
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}

	for _, command := range cmd.StringSlice("mcp-stdio") {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			continue
		}
		client, err := mcp.NewStdio(ctx, fields[0], fields[1:])
		if err != nil {
			closeAll()
			return nil, nil, goerr.Wrap(err, "failed to start MCP server", goerr.V("command", command))
		}
		clients = append(clients, client)
	}

	for _, baseURL := range cmd.StringSlice("mcp-sse") {
		client, err := mcp.NewSSE(ctx, baseURL)
		if err != nil {
			closeAll()
			return nil, nil, goerr.Wrap(err, "failed to connect to MCP server", goerr.V("url", baseURL))
		}
		clients = append(clients, client)
	}

	toolSets := make([]karakuri.ToolSet, len(clients))
	for i, c := range clients {
		toolSets[i] = c
	}
	return toolSets, closeAll, nil
}
