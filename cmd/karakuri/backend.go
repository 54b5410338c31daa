package main

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/karakuri"
	redislog "github.com/m-mizutani/karakuri/eventlog/redis"
	sqlitelog "github.com/m-mizutani/karakuri/eventlog/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "backend",
			Value:   "memory",
			Sources: cli.EnvVars("KARAKURI_BACKEND"),
			Usage:   "Event log backend (memory, redis or sqlite)",
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Value:   "localhost:6379",
			Sources: cli.EnvVars("KARAKURI_REDIS_ADDR"),
			Usage:   "Redis server address for the redis backend",
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Sources: cli.EnvVars("KARAKURI_REDIS_PASSWORD"),
			Usage:   "Redis password for the redis backend",
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Value:   "karakuri.db",
			Sources: cli.EnvVars("KARAKURI_SQLITE_PATH"),
			Usage:   "Database file path for the sqlite backend",
		},
	}
}

// newEventLog builds the event log backend selected by the flags. The
// returned closer releases backend resources; for the in-memory log it is a
// no-op.
func newEventLog(ctx context.Context, cmd *cli.Command) (karakuri.EventLog, func() error, error) {
	switch backend := cmd.String("backend"); backend {
	case "memory":
		return karakuri.NewMemoryLog(), func() error { return nil }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cmd.String("redis-addr"),
			Password: cmd.String("redis-password"),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to connect to redis",
				goerr.V("addr", cmd.String("redis-addr")))
		}
		return redislog.New(client), client.Close, nil

	case "sqlite":
		elog, err := sqlitelog.New(ctx, cmd.String("sqlite-path"))
		if err != nil {
			return nil, nil, err
		}
		return elog, elog.Close, nil

	default:
		return nil, nil, goerr.New("unknown backend", goerr.V("backend", backend))
	}
}
