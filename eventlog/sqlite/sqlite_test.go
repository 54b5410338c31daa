package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/eventlog/sqlite"
)

func newMemoryLog(t *testing.T) *sqlite.Log {
	t.Helper()
	elog, err := sqlite.New(context.Background(), ":memory:", sqlite.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = elog.Close() })
	return elog
}

func appendN(t *testing.T, elog *sqlite.Log, taskID string, n int) {
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
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestLogAppendRead(t *testing.T) {
	ctx := context.Background()

	t.Run("IDs are sequential per task", func(t *testing.T) {
		elog := newMemoryLog(t)
		appendN(t, elog, "task-a", 3)
		appendN(t, elog, "task-b", 2)

		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, ev := range events {
			assert.Equal(t, int64(i+1), ev.ID)
			assert.Equal(t, "task-a", ev.TaskID)
		}

		events, err = elog.ReadSince(ctx, "task-b", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
	})

	t.Run("cursor and limit page through the log", func(t *testing.T) {
		elog := newMemoryLog(t)
		appendN(t, elog, "task-a", 5)

		events, err := elog.ReadSince(ctx, "task-a", 2, 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(3), events[0].ID)

		events, err = elog.ReadSince(ctx, "task-a", 0, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(2), events[1].ID)
	})

	t.Run("content survives the round trip", func(t *testing.T) {
		elog := newMemoryLog(t)
		appendN(t, elog, "task-a", 1)

		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, karakuri.EventMessage, events[0].Type)
		assert.False(t, events[0].CreatedAt.IsZero())

		msg, err := events[0].Message()
		require.NoError(t, err)
		assert.Equal(t, karakuri.RoleUser, msg.Role)
		assert.Equal(t, "message 1", msg.Text)
	})

	t.Run("unknown task reads empty", func(t *testing.T) {
		elog := newMemoryLog(t)
		events, err := elog.ReadSince(ctx, "nobody", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestLogSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("replays stored events then feeds live ones", func(t *testing.T) {
		elog := newMemoryLog(t)
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
	})

	t.Run("cursor skips already consumed events", func(t *testing.T) {
		elog := newMemoryLog(t)
		appendN(t, elog, "task-a", 3)

		sub, err := elog.Subscribe(ctx, "task-a", 2)
		require.NoError(t, err)
		defer sub.Close()

		assert.Equal(t, int64(3), recv(t, sub).ID)
	})

	t.Run("close ends the feed cleanly", func(t *testing.T) {
		elog := newMemoryLog(t)
		appendN(t, elog, "task-a", 1)

		sub, err := elog.Subscribe(ctx, "task-a", 0)
		require.NoError(t, err)
		recv(t, sub)
		require.NoError(t, sub.Close())

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("channel did not close")
		}
		assert.NoError(t, sub.Err())
	})

	t.Run("tasks do not cross feeds", func(t *testing.T) {
		elog := newMemoryLog(t)
		sub, err := elog.Subscribe(ctx, "task-a", 0)
		require.NoError(t, err)
		defer sub.Close()

		appendN(t, elog, "task-b", 1)
		appendN(t, elog, "task-a", 1)

		ev := recv(t, sub)
		assert.Equal(t, "task-a", ev.TaskID)
		assert.Equal(t, int64(1), ev.ID)
	})
}

func TestLogTrim(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps only the newest events", func(t *testing.T) {
		elog := newMemoryLog(t)
		appendN(t, elog, "task-a", 5)

		require.NoError(t, elog.Trim(ctx, "task-a", 2))

		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(4), events[0].ID)
		assert.Equal(t, int64(5), events[1].ID)

		// New IDs keep counting from the retained maximum.
		ev, err := elog.Append(ctx, "task-a", karakuri.EventMessage, karakuri.MessageContent{Role: karakuri.RoleUser, Text: "next"})
		require.NoError(t, err)
		assert.Equal(t, int64(6), ev.ID)
	})

	t.Run("no-op when nothing exceeds the retention", func(t *testing.T) {
		elog := newMemoryLog(t)
		appendN(t, elog, "task-a", 2)
		require.NoError(t, elog.Trim(ctx, "task-a", 5))

		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("negative retention is rejected", func(t *testing.T) {
		elog := newMemoryLog(t)
		err := elog.Trim(ctx, "task-a", -1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, karakuri.ErrInvalidParameter))
	})

	t.Run("a subscriber cursor blocks the trim", func(t *testing.T) {
		elog := newMemoryLog(t)
		appendN(t, elog, "task-a", 5)

		sub, err := elog.Subscribe(ctx, "task-a", 0)
		require.NoError(t, err)
		defer sub.Close()

		// Nothing consumed yet, so the cursor still pins the oldest event.
		err = elog.Trim(ctx, "task-a", 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, karakuri.ErrRetentionViolation))

		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		require.NoError(t, err)
		assert.Len(t, events, 5)

		for i := 0; i < 5; i++ {
			recv(t, sub)
		}
		require.NoError(t, elog.Trim(ctx, "task-a", 2))

		events, err = elog.ReadSince(ctx, "task-a", 0, 0)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}

func TestLogPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	elog, err := sqlite.New(ctx, path)
	require.NoError(t, err)
	appendN(t, elog, "task-a", 3)
	require.NoError(t, elog.Close())

	reopened, err := sqlite.New(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.ReadSince(ctx, "task-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	msg, err := events[2].Message()
	require.NoError(t, err)
	assert.Equal(t, "message 3", msg.Text)

	// Appends continue the task's sequence after a reopen.
	ev, err := reopened.Append(ctx, "task-a", karakuri.EventMessage, karakuri.MessageContent{Role: karakuri.RoleUser, Text: "message 4"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), ev.ID)
}
