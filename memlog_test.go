package karakuri_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/karakuri"
)

func appendMessages(t *testing.T, elog karakuri.EventLog, taskID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		ev, err := elog.Append(ctx, taskID, karakuri.EventMessage, karakuri.MessageContent{
			Role: karakuri.RoleUser,
			Text: fmt.Sprintf("message %d", i),
		})
		gt.NoError(t, err).Required()
		gt.Equal(t, ev.ID, int64(i))
	}
}

func recvEvent(t *testing.T, sub karakuri.Subscription) *karakuri.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return nil
}

func TestMemoryLogAppendRead(t *testing.T) {
	ctx := context.Background()

	t.Run("ids are sequential per task", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 3)

		ev, err := elog.Append(ctx, "task-b", karakuri.EventMessage, karakuri.MessageContent{Role: karakuri.RoleUser, Text: "other"})
		gt.NoError(t, err).Required()
		gt.Equal(t, ev.ID, int64(1))
	})

	t.Run("read since returns events after the cursor in order", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 5)

		events, err := elog.ReadSince(ctx, "task-a", 2, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, events).Length(3).Required()
		gt.Equal(t, events[0].ID, int64(3))
		gt.Equal(t, events[2].ID, int64(5))

		msg, err := events[0].Message()
		gt.NoError(t, err).Required()
		gt.Equal(t, msg.Text, "message 3")
	})

	t.Run("limit caps the page", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 5)

		events, err := elog.ReadSince(ctx, "task-a", 0, 2)
		gt.NoError(t, err).Required()
		gt.Array(t, events).Length(2).Required()
		gt.Equal(t, events[0].ID, int64(1))
		gt.Equal(t, events[1].ID, int64(2))
	})

	t.Run("unknown task reads as empty", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		events, err := elog.ReadSince(ctx, "nobody", 0, 0)
		gt.NoError(t, err)
		gt.Equal(t, len(events), 0)
	})

	t.Run("readers get clones, not the stored event", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 1)

		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		gt.NoError(t, err).Required()
		events[0].Content[0] = 'X'

		again, err := elog.ReadSince(ctx, "task-a", 0, 0)
		gt.NoError(t, err).Required()
		msg, err := again[0].Message()
		gt.NoError(t, err)
		gt.Equal(t, msg.Text, "message 1")
	})
}

func TestMemoryLogSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("replays stored events then follows appends", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 2)

		sub, err := elog.Subscribe(ctx, "task-a", 0)
		gt.NoError(t, err).Required()
		defer func() { _ = sub.Close() }()

		gt.Equal(t, recvEvent(t, sub).ID, int64(1))
		gt.Equal(t, recvEvent(t, sub).ID, int64(2))

		_, err = elog.Append(ctx, "task-a", karakuri.EventMessage, karakuri.MessageContent{Role: karakuri.RoleUser, Text: "live"})
		gt.NoError(t, err).Required()

		ev := recvEvent(t, sub)
		gt.Equal(t, ev.ID, int64(3))
		msg, err := ev.Message()
		gt.NoError(t, err)
		gt.Equal(t, msg.Text, "live")
	})

	t.Run("cursor skips already consumed events", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 3)

		sub, err := elog.Subscribe(ctx, "task-a", 2)
		gt.NoError(t, err).Required()
		defer func() { _ = sub.Close() }()

		gt.Equal(t, recvEvent(t, sub).ID, int64(3))
	})

	t.Run("close ends the feed cleanly", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 1)

		sub, err := elog.Subscribe(ctx, "task-a", 0)
		gt.NoError(t, err).Required()
		gt.Equal(t, recvEvent(t, sub).ID, int64(1))

		gt.NoError(t, sub.Close())
		for range sub.Events() {
		}
		gt.NoError(t, sub.Err())
	})

	t.Run("tasks are isolated", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 1)

		sub, err := elog.Subscribe(ctx, "task-b", 0)
		gt.NoError(t, err).Required()
		defer func() { _ = sub.Close() }()

		_, err = elog.Append(ctx, "task-b", karakuri.EventMessage, karakuri.MessageContent{Role: karakuri.RoleUser, Text: "own task"})
		gt.NoError(t, err).Required()

		ev := recvEvent(t, sub)
		gt.Equal(t, ev.TaskID, "task-b")
		gt.Equal(t, ev.ID, int64(1))
	})
}

func TestMemoryLogTrim(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps only the newest events", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 5)

		gt.NoError(t, elog.Trim(ctx, "task-a", 2))

		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, events).Length(2).Required()
		gt.Equal(t, events[0].ID, int64(4))
		gt.Equal(t, events[1].ID, int64(5))
	})

	t.Run("no-op when nothing needs to go", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 2)

		gt.NoError(t, elog.Trim(ctx, "task-a", 5))
		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		gt.NoError(t, err)
		gt.Array(t, events).Length(2)
	})

	t.Run("negative retain is rejected", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		err := elog.Trim(ctx, "task-a", -1)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, karakuri.ErrInvalidParameter))
	})

	t.Run("refuses to pass a subscriber cursor", func(t *testing.T) {
		elog := karakuri.NewMemoryLog()
		appendMessages(t, elog, "task-a", 5)

		sub, err := elog.Subscribe(ctx, "task-a", 0)
		gt.NoError(t, err).Required()
		defer func() { _ = sub.Close() }()

		err = elog.Trim(ctx, "task-a", 2)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, karakuri.ErrRetentionViolation))

		// Nothing was removed.
		events, err := elog.ReadSince(ctx, "task-a", 0, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, events).Length(5)

		// Once the subscriber catches up past the boundary, the same trim
		// goes through.
		for i := 0; i < 5; i++ {
			recvEvent(t, sub)
		}
		gt.NoError(t, elog.Trim(ctx, "task-a", 2))

		events, err = elog.ReadSince(ctx, "task-a", 0, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, events).Length(2)
	})
}
