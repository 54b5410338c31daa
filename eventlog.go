package karakuri

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// EventLog is an append-only, per-task ordered event store with live
// subscription. Implementations must be safe for concurrent use across tasks
// and must serialize appends within one task so that IDs stay monotonic.
//
// Append failures propagate to the caller; the log never drops a write
// silently. Subscriber notification is best-effort: a subscriber that misses a
// wakeup recovers by polling ReadSince from its cursor.
type EventLog interface {
	// Append assigns the next monotonic ID for the task, persists the event
	// and notifies live subscribers. The content is marshaled to JSON.
	Append(ctx context.Context, taskID string, eventType EventType, content any) (*Event, error)

	// ReadSince returns events with ID > cursor, oldest first, up to limit
	// (limit <= 0 means no limit). Safe to call concurrently with Append.
	ReadSince(ctx context.Context, taskID string, cursor int64, limit int) ([]*Event, error)

	// Subscribe returns a live subscription delivering events with
	// ID > cursor in order. It blocks on new data rather than busy polling.
	// The subscription ends when ctx is canceled or Close is called; after
	// the channel closes, Err reports why.
	Subscribe(ctx context.Context, taskID string, cursor int64) (Subscription, error)

	// Trim removes the oldest events of the task so that at most retain
	// events remain. It must never remove an event at or after a registered
	// subscriber's cursor; such a request fails with ErrRetentionViolation
	// and removes nothing.
	Trim(ctx context.Context, taskID string, retain int) error
}

// Subscription is a live, resumable feed of one task's events. Re-subscribing
// with the last seen event ID as the cursor continues the feed without gaps.
type Subscription interface {
	// Events yields events in log order. The channel is closed when the
	// subscription ends.
	Events() <-chan *Event

	// Err returns nil after a clean shutdown (ctx canceled or Close), or the
	// reason the feed ended, e.g. ErrSubscriptionLost on transport loss.
	Err() error

	Close() error
}

// EncodeContent marshals an event payload for Append. Raw JSON passes
// through untouched.
func EncodeContent(content any) (json.RawMessage, error) {
	switch v := content.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal event content")
	}
	return json.RawMessage(raw), nil
}
