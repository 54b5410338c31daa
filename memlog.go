package karakuri

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// MemoryLog is the in-process event log used by default. It keeps every
// event in memory, which suits tests and single-process agents; use the
// eventlog/redis or eventlog/sqlite backends when the log must survive the
// process.
type MemoryLog struct {
	mu    sync.RWMutex
	tasks map[string]*memTaskLog
}

type memTaskLog struct {
	events []*Event
	nextID int64
	subs   map[*memSubscription]struct{}
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{tasks: map[string]*memTaskLog{}}
}

func (x *MemoryLog) taskLog(taskID string) *memTaskLog {
	if t, ok := x.tasks[taskID]; ok {
		return t
	}
	t := &memTaskLog{subs: map[*memSubscription]struct{}{}}
	x.tasks[taskID] = t
	return t
}

// Append assigns the next monotonic event ID of the task, stores the event
// and wakes subscribers. Delivery is decoupled from the append: a slow
// consumer never blocks the writer.
func (x *MemoryLog) Append(ctx context.Context, taskID string, eventType EventType, content any) (*Event, error) {
	raw, err := EncodeContent(content)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	t := x.taskLog(taskID)
	t.nextID++
	ev := &Event{
		ID:        t.nextID,
		TaskID:    taskID,
		Type:      eventType,
		Content:   raw,
		CreatedAt: time.Now().UTC(),
	}
	t.events = append(t.events, ev)
	subs := make([]*memSubscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	x.mu.Unlock()

	for _, sub := range subs {
		sub.wake()
	}

	return ev.Clone(), nil
}

// ReadSince returns events with an ID greater than cursor in append order,
// up to limit. A limit of zero or less means no limit.
func (x *MemoryLog) ReadSince(ctx context.Context, taskID string, cursor int64, limit int) ([]*Event, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	t, ok := x.tasks[taskID]
	if !ok {
		return nil, nil
	}

	idx := sort.Search(len(t.events), func(i int) bool { return t.events[i].ID > cursor })
	events := make([]*Event, 0, len(t.events)-idx)
	for _, ev := range t.events[idx:] {
		if limit > 0 && len(events) >= limit {
			break
		}
		events = append(events, ev.Clone())
	}
	return events, nil
}

// Subscribe registers a live subscription starting after cursor. Events
// already in the log beyond the cursor are replayed first.
func (x *MemoryLog) Subscribe(ctx context.Context, taskID string, cursor int64) (Subscription, error) {
	sub := &memSubscription{
		log:    x,
		taskID: taskID,
		ch:     make(chan *Event),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	sub.cursor.Store(cursor)

	x.mu.Lock()
	x.taskLog(taskID).subs[sub] = struct{}{}
	x.mu.Unlock()

	go sub.pump(ctx)
	return sub, nil
}

// Trim drops the oldest events of the task so that at most retain remain.
// It refuses to drop any event at or after a live subscriber's cursor, since
// a subscriber that missed a notification compensates by reading from its
// cursor.
func (x *MemoryLog) Trim(ctx context.Context, taskID string, retain int) error {
	if retain < 0 {
		return goerr.Wrap(ErrInvalidParameter, "retain must not be negative", goerr.V("retain", retain))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	t, ok := x.tasks[taskID]
	if !ok {
		return nil
	}
	drop := len(t.events) - retain
	if drop <= 0 {
		return nil
	}

	cutoff := t.events[drop-1].ID
	for sub := range t.subs {
		if cur := sub.cursor.Load(); cur <= cutoff {
			return goerr.Wrap(ErrRetentionViolation, "trim would pass a subscriber cursor",
				goerr.V("task_id", taskID), goerr.V("cursor", cur), goerr.V("cutoff", cutoff))
		}
	}

	t.events = append([]*Event(nil), t.events[drop:]...)
	return nil
}

type memSubscription struct {
	log    *MemoryLog
	taskID string
	cursor atomic.Int64
	ch     chan *Event
	notify chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (s *memSubscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memSubscription) pump(ctx context.Context) {
	defer close(s.ch)
	defer s.unregister()

	for {
		events, err := s.log.ReadSince(ctx, s.taskID, s.cursor.Load(), 0)
		if err != nil {
			return
		}
		for _, ev := range events {
			select {
			case s.ch <- ev:
				s.cursor.Store(ev.ID)
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			}
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		}
	}
}

func (s *memSubscription) unregister() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	if t, ok := s.log.tasks[s.taskID]; ok {
		delete(t.subs, s)
	}
}

func (s *memSubscription) Events() <-chan *Event {
	return s.ch
}

// Err reports why the event channel closed. The in-memory transport cannot
// lose a subscription, so this is always nil.
func (s *memSubscription) Err() error {
	return nil
}

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		close(s.closed)
	})
	return nil
}
