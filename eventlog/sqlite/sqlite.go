package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/m-mizutani/karakuri"
)

// DefaultPollInterval is how often a subscription re-checks the table for
// events written by other processes.
const DefaultPollInterval = time.Second

const schema = `
CREATE TABLE IF NOT EXISTS events (
	task_id    TEXT    NOT NULL,
	id         INTEGER NOT NULL,
	type       TEXT    NOT NULL,
	content    BLOB    NOT NULL,
	created_at TEXT    NOT NULL,
	PRIMARY KEY (task_id, id)
)
`

// Log is an event log stored in a SQLite database. Appends through one Log
// instance wake its subscriptions immediately; appends by other processes
// are picked up on the next poll.
type Log struct {
	db           *sql.DB
	pollInterval time.Duration

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

// Option is the type for the options of the SQLite event log.
type Option func(*Log)

// WithPollInterval sets how often subscriptions poll for events written
// outside this process. Default is DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(x *Log) {
		x.pollInterval = d
	}
}

// New opens (or creates) the database at path and prepares the events table.
// Use ":memory:" for an ephemeral log.
func New(ctx context.Context, path string, options ...Option) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}
	// SQLite allows one writer at a time; a single connection avoids busy
	// errors between the loop and observers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to create events table", goerr.V("path", path))
	}

	x := &Log{
		db:           db,
		pollInterval: DefaultPollInterval,
		subs:         map[string]map[*subscription]struct{}{},
	}
	for _, opt := range options {
		opt(x)
	}
	return x, nil
}

// Close closes the underlying database.
func (x *Log) Close() error {
	if err := x.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close database")
	}
	return nil
}

// Append inserts the event under the next monotonic ID of the task and wakes
// subscriptions registered on this instance.
func (x *Log) Append(ctx context.Context, taskID string, eventType karakuri.EventType, content any) (*karakuri.Event, error) {
	raw, err := karakuri.EncodeContent(content)
	if err != nil {
		return nil, err
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to begin append transaction", goerr.V("task_id", taskID))
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM events WHERE task_id = ?`, taskID)
	if err := row.Scan(&id); err != nil {
		return nil, goerr.Wrap(err, "failed to allocate event ID", goerr.V("task_id", taskID))
	}

	ev := &karakuri.Event{
		ID:        id,
		TaskID:    taskID,
		Type:      eventType,
		Content:   raw,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (task_id, id, type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.TaskID, ev.ID, string(ev.Type), []byte(ev.Content), ev.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return nil, goerr.Wrap(err, "failed to insert event",
			goerr.V("task_id", taskID), goerr.V("event_id", id))
	}

	if err := tx.Commit(); err != nil {
		return nil, goerr.Wrap(err, "failed to commit event", goerr.V("task_id", taskID))
	}

	x.mu.Lock()
	for sub := range x.subs[taskID] {
		sub.wake()
	}
	x.mu.Unlock()

	return ev, nil
}

// ReadSince returns events with an ID greater than cursor in append order,
// up to limit. A limit of zero or less means no limit.
func (x *Log) ReadSince(ctx context.Context, taskID string, cursor int64, limit int) ([]*karakuri.Event, error) {
	query := `SELECT id, type, content, created_at FROM events WHERE task_id = ? AND id > ? ORDER BY id`
	args := []any{taskID, cursor}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query events",
			goerr.V("task_id", taskID), goerr.V("cursor", cursor))
	}
	defer func() { _ = rows.Close() }()

	var events []*karakuri.Event
	for rows.Next() {
		ev := &karakuri.Event{TaskID: taskID}
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Type, (*[]byte)(&ev.Content), &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan event row", goerr.V("task_id", taskID))
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, goerr.Wrap(err, "malformed event timestamp", goerr.V("event_id", ev.ID))
		}
		ev.CreatedAt = ts
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate event rows", goerr.V("task_id", taskID))
	}
	return events, nil
}

// Subscribe registers a subscription starting after cursor. Events already
// stored beyond the cursor are replayed first.
func (x *Log) Subscribe(ctx context.Context, taskID string, cursor int64) (karakuri.Subscription, error) {
	sub := &subscription{
		log:    x,
		taskID: taskID,
		ch:     make(chan *karakuri.Event),
		notify: make(chan struct{}, 1),
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

// Trim deletes the oldest events of the task so that at most retain remain.
// It refuses to delete any event at or after the cursor of a subscription
// registered on this instance.
func (x *Log) Trim(ctx context.Context, taskID string, retain int) error {
	if retain < 0 {
		return goerr.Wrap(karakuri.ErrInvalidParameter, "retain must not be negative", goerr.V("retain", retain))
	}

	var count int
	row := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE task_id = ?`, taskID)
	if err := row.Scan(&count); err != nil {
		return goerr.Wrap(err, "failed to count events", goerr.V("task_id", taskID))
	}
	drop := count - retain
	if drop <= 0 {
		return nil
	}

	var maxDeleted int64
	row = x.db.QueryRowContext(ctx,
		`SELECT id FROM events WHERE task_id = ? ORDER BY id LIMIT 1 OFFSET ?`, taskID, drop-1)
	if err := row.Scan(&maxDeleted); err != nil {
		return goerr.Wrap(err, "failed to find trim boundary", goerr.V("task_id", taskID))
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

	if _, err := x.db.ExecContext(ctx,
		`DELETE FROM events WHERE task_id = ? AND id <= ?`, taskID, maxDeleted); err != nil {
		return goerr.Wrap(err, "failed to delete trimmed events", goerr.V("task_id", taskID))
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
	notify chan struct{}
	closed chan struct{}
	once   sync.Once

	errMu sync.Mutex
	err   error
}

func (s *subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.ch)
	defer s.log.unregister(s.taskID, s)

	ticker := time.NewTicker(s.log.pollInterval)
	defer ticker.Stop()

	for {
		events, err := s.log.ReadSince(ctx, s.taskID, s.cursor.Load(), 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setErr(goerr.Wrap(karakuri.ErrSubscriptionLost, "event query failed",
				goerr.V("task_id", s.taskID), goerr.V("cause", err.Error())))
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
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-s.closed:
			return
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
