package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/m-mizutani/karakuri"
)

const (
	// DefaultKeyPrefix is prepended to the task ID to form the stream key.
	DefaultKeyPrefix = "karakuri:events:"

	// DefaultReadBlock is how long one blocking read waits before the
	// subscription re-checks its context.
	DefaultReadBlock = 5 * time.Second
)

// Log is an event log backed by one Redis stream per task. Event IDs are
// written as explicit stream IDs of the form "<id>-0", so the application
// cursor maps directly onto the stream range queries.
type Log struct {
	client    *redis.Client
	keyPrefix string
	readBlock time.Duration

	mu     sync.Mutex
	nextID map[string]int64
	subs   map[string]map[*subscription]struct{}
}

// Option is the type for the options of the Redis event log.
type Option func(*Log)

// WithKeyPrefix sets the stream key prefix. Default is DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(x *Log) {
		x.keyPrefix = prefix
	}
}

// WithReadBlock sets the blocking duration of one subscription read. Default
// is DefaultReadBlock.
func WithReadBlock(d time.Duration) Option {
	return func(x *Log) {
		x.readBlock = d
	}
}

// New creates an event log on the given Redis client.
func New(client *redis.Client, options ...Option) *Log {
	x := &Log{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
		readBlock: DefaultReadBlock,
		nextID:    map[string]int64{},
		subs:      map[string]map[*subscription]struct{}{},
	}
	for _, opt := range options {
		opt(x)
	}
	return x
}

func (x *Log) key(taskID string) string {
	return x.keyPrefix + taskID
}

// Append writes the event to the task's stream under the next monotonic ID.
// The ID counter is recovered from the stream tail on first use, so appends
// continue correctly after a restart.
func (x *Log) Append(ctx context.Context, taskID string, eventType karakuri.EventType, content any) (*karakuri.Event, error) {
	raw, err := karakuri.EncodeContent(content)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	id, err := x.nextIDLocked(ctx, taskID)
	if err != nil {
		return nil, err
	}

	ev := &karakuri.Event{
		ID:        id,
		TaskID:    taskID,
		Type:      eventType,
		Content:   raw,
		CreatedAt: time.Now().UTC(),
	}

	args := &redis.XAddArgs{
		Stream: x.key(taskID),
		ID:     streamID(id),
		Values: map[string]any{
			"type":       string(ev.Type),
			"content":    string(ev.Content),
			"created_at": ev.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if err := x.client.XAdd(ctx, args).Err(); err != nil {
		delete(x.nextID, taskID)
		return nil, goerr.Wrap(err, "failed to append event to stream",
			goerr.V("task_id", taskID), goerr.V("event_id", id))
	}
	x.nextID[taskID] = id + 1

	return ev, nil
}

func (x *Log) nextIDLocked(ctx context.Context, taskID string) (int64, error) {
	if id, ok := x.nextID[taskID]; ok {
		return id, nil
	}

	msgs, err := x.client.XRevRangeN(ctx, x.key(taskID), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, goerr.Wrap(err, "failed to read stream tail", goerr.V("task_id", taskID))
	}
	if len(msgs) == 0 {
		return 1, nil
	}

	last, err := parseStreamID(msgs[0].ID)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// ReadSince returns events with an ID greater than cursor in append order,
// up to limit. A limit of zero or less means no limit.
func (x *Log) ReadSince(ctx context.Context, taskID string, cursor int64, limit int) ([]*karakuri.Event, error) {
	// Stream IDs carry sequence 0, so "<cursor>-1" starts strictly after the
	// cursor without the exclusive-range syntax.
	start := strconv.FormatInt(cursor, 10) + "-1"

	var msgs []redis.XMessage
	var err error
	if limit > 0 {
		msgs, err = x.client.XRangeN(ctx, x.key(taskID), start, "+", int64(limit)).Result()
	} else {
		msgs, err = x.client.XRange(ctx, x.key(taskID), start, "+").Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, goerr.Wrap(err, "failed to read stream range",
			goerr.V("task_id", taskID), goerr.V("cursor", cursor))
	}

	events := make([]*karakuri.Event, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := decodeMessage(taskID, msg)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Subscribe starts a blocking-read subscription after cursor. A transport
// failure closes the event channel with ErrSubscriptionLost so the caller
// can resume from its last cursor.
func (x *Log) Subscribe(ctx context.Context, taskID string, cursor int64) (karakuri.Subscription, error) {
	sub := &subscription{
		log:    x,
		taskID: taskID,
		ch:     make(chan *karakuri.Event),
		closed: make(chan struct{}),
	}
	sub.cursor.Store(cursor)

	x.mu.Lock()
	if x.subs[taskID] == nil {
		x.subs[taskID] = map[*subscription]struct{}{}
	}
	x.subs[taskID][sub] = struct{}{}
	x.mu.Unlock()

	go sub.pump(ctx)
	return sub, nil
}

// Trim drops the oldest events of the task so that at most retain remain. It
// refuses to drop any event at or after the cursor of a subscription
// registered on this instance.
func (x *Log) Trim(ctx context.Context, taskID string, retain int) error {
	if retain < 0 {
		return goerr.Wrap(karakuri.ErrInvalidParameter, "retain must not be negative", goerr.V("retain", retain))
	}

	key := x.key(taskID)
	count, err := x.client.XLen(ctx, key).Result()
	if err != nil {
		return goerr.Wrap(err, "failed to read stream length", goerr.V("task_id", taskID))
	}
	drop := int(count) - retain
	if drop <= 0 {
		return nil
	}

	// The first drop+1 entries give both the newest dropped ID and the
	// boundary the stream is trimmed to.
	msgs, err := x.client.XRangeN(ctx, key, "-", "+", int64(drop)+1).Result()
	if err != nil {
		return goerr.Wrap(err, "failed to read trim boundary", goerr.V("task_id", taskID))
	}
	if len(msgs) < drop {
		return nil
	}

	maxDeleted, err := parseStreamID(msgs[drop-1].ID)
	if err != nil {
		return err
	}

	x.mu.Lock()
	for sub := range x.subs[taskID] {
		if cur := sub.cursor.Load(); cur <= maxDeleted {
			x.mu.Unlock()
			return goerr.Wrap(karakuri.ErrRetentionViolation, "trim would pass a subscriber cursor",
				goerr.V("task_id", taskID), goerr.V("cursor", cur), goerr.V("max_deleted", maxDeleted))
		}
	}
	x.mu.Unlock()

	minID := streamID(maxDeleted + 1)
	if len(msgs) > drop {
		minID = msgs[drop].ID
	}
	if err := x.client.XTrimMinID(ctx, key, minID).Err(); err != nil {
		return goerr.Wrap(err, "failed to trim stream", goerr.V("task_id", taskID))
	}
	return nil
}

func (x *Log) unregister(taskID string, sub *subscription) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if subs, ok := x.subs[taskID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(x.subs, taskID)
		}
	}
}

type subscription struct {
	log    *Log
	taskID string
	cursor atomic.Int64
	ch     chan *karakuri.Event
	closed chan struct{}
	once   sync.Once

	errMu sync.Mutex
	err   error
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.ch)
	defer s.log.unregister(s.taskID, s)

	key := s.log.key(s.taskID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		default:
		}

		args := &redis.XReadArgs{
			Streams: []string{key, streamID(s.cursor.Load())},
			Block:   s.log.readBlock,
		}
		streams, err := s.log.client.XRead(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.setErr(goerr.Wrap(karakuri.ErrSubscriptionLost, "stream read failed",
				goerr.V("task_id", s.taskID), goerr.V("cause", err.Error())))
			return
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				ev, err := decodeMessage(s.taskID, msg)
				if err != nil {
					s.setErr(goerr.Wrap(karakuri.ErrSubscriptionLost, "stream entry is broken",
						goerr.V("task_id", s.taskID), goerr.V("cause", err.Error())))
					return
				}
				select {
				case s.ch <- ev:
					s.cursor.Store(ev.ID)
				case <-ctx.Done():
					return
				case <-s.closed:
					return
				}
			}
		}
	}
}

func (s *subscription) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}

func (s *subscription) Events() <-chan *karakuri.Event {
	return s.ch
}

func (s *subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.closed)
	})
	return nil
}

func streamID(id int64) string {
	return strconv.FormatInt(id, 10) + "-0"
}

func parseStreamID(id string) (int64, error) {
	seq, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0, goerr.New("malformed stream ID", goerr.V("id", id))
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return 0, goerr.Wrap(err, "malformed stream ID", goerr.V("id", id))
	}
	return n, nil
}

func decodeMessage(taskID string, msg redis.XMessage) (*karakuri.Event, error) {
	id, err := parseStreamID(msg.ID)
	if err != nil {
		return nil, err
	}

	ev := &karakuri.Event{
		ID:     id,
		TaskID: taskID,
	}
	if v, ok := msg.Values["type"].(string); ok {
		ev.Type = karakuri.EventType(v)
	}
	if v, ok := msg.Values["content"].(string); ok {
		ev.Content = []byte(v)
	}
	if v, ok := msg.Values["created_at"].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, goerr.Wrap(err, "malformed event timestamp", goerr.V("id", msg.ID))
		}
		ev.CreatedAt = ts
	}
	return ev, nil
}
