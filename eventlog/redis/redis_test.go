package redis_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/eventlog/redis"
)

// testClient connects to the Redis instance named by TEST_REDIS_ADDR and
// returns a unique stream key prefix so runs do not interfere.
func testClient(t *testing.T) (*goredis.Client, string) {
	t.Helper()
	addr, ok := os.LookupEnv("TEST_REDIS_ADDR")
	if !ok {
		t.Skip("TEST_REDIS_ADDR is not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	prefix := "karakuri:test:" + uuid.New().String() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, err := client.Keys(ctx, prefix+"*").Result()
		if err == nil && len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
	return client, prefix
}

func newLog(t *testing.T) *redis.Log {
	t.Helper()
	client, prefix := testClient(t)
	return redis.New(client, redis.WithKeyPrefix(prefix), redis.WithReadBlock(time.Second))
}

func appendN(t *testing.T, elog *redis.Log, taskID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		ev, err := elog.Append(ctx, taskID, karakuri.EventMessage, karakuri.MessageContent{
			Role: karakuri.RoleUser,
			Text: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		require.Equal(t, int64(i), ev.ID)
	}
}

func recv(t *testing.T, sub karakuri.Subscription) *karakuri.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestLogRoundTrip(t *testing.T) {
	elog := newLog(t)
	ctx := context.Background()

	appendN(t, elog, "task-a", 3)
	appendN(t, elog, "task-b", 1)

	events, err := elog.ReadSince(ctx, "task-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.ID)
		assert.Equal(t, "task-a", ev.TaskID)
		assert.Equal(t, karakuri.EventMessage, ev.Type)
	}

	msg, err := events[2].Message()
	require.NoError(t, err)
	assert.Equal(t, karakuri.RoleUser, msg.Role)
	assert.Equal(t, "message 3", msg.Text)
	assert.False(t, events[2].CreatedAt.IsZero())

	events, err = elog.ReadSince(ctx, "task-a", 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].ID)

	events, err = elog.ReadSince(ctx, "task-a", 0, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = elog.ReadSince(ctx, "nobody", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLogCounterRecovery(t *testing.T) {
	client, prefix := testClient(t)
	elog := redis.New(client, redis.WithKeyPrefix(prefix))
	appendN(t, elog, "task-a", 3)

	// A fresh instance on the same stream resumes from the stream tail.
	restarted := redis.New(client, redis.WithKeyPrefix(prefix))
	ev, err := restarted.Append(context.Background(), "task-a", karakuri.EventMessage, karakuri.MessageContent{
		Role: karakuri.RoleUser,
		Text: "message 4",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), ev.ID)
}

func TestLogSubscribe(t *testing.T) {
	elog := newLog(t)
	ctx := context.Background()

	appendN(t, elog, "task-a", 2)

	sub, err := elog.Subscribe(ctx, "task-a", 0)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, int64(1), recv(t, sub).ID)
	assert.Equal(t, int64(2), recv(t, sub).ID)

	_, err = elog.Append(ctx, "task-a", karakuri.EventMessage, karakuri.MessageContent{Role: karakuri.RoleUser, Text: "live"})
	require.NoError(t, err)

	ev := recv(t, sub)
	assert.Equal(t, int64(3), ev.ID)
	msg, err := ev.Message()
	require.NoError(t, err)
	assert.Equal(t, "live", msg.Text)

	require.NoError(t, sub.Close())
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close")
	}
	assert.NoError(t, sub.Err())
}

func TestLogTrim(t *testing.T) {
	elog := newLog(t)
	ctx := context.Background()

	t.Run("keeps only the newest events", func(t *testing.T) {
		appendN(t, elog, "trim-a", 5)
		require.NoError(t, elog.Trim(ctx, "trim-a", 2))

		events, err := elog.ReadSince(ctx, "trim-a", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(4), events[0].ID)
		assert.Equal(t, int64(5), events[1].ID)
	})

	t.Run("negative retention is rejected", func(t *testing.T) {
		err := elog.Trim(ctx, "trim-b", -1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, karakuri.ErrInvalidParameter))
	})

	t.Run("a subscriber cursor blocks the trim", func(t *testing.T) {
		appendN(t, elog, "trim-c", 5)

		sub, err := elog.Subscribe(ctx, "trim-c", 0)
		require.NoError(t, err)
		defer sub.Close()

		// Nothing consumed yet, so the cursor still pins the oldest event.
		err = elog.Trim(ctx, "trim-c", 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, karakuri.ErrRetentionViolation))

		for i := 0; i < 5; i++ {
			recv(t, sub)
		}
		require.NoError(t, elog.Trim(ctx, "trim-c", 2))

		events, err := elog.ReadSince(ctx, "trim-c", 0, 0)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}
