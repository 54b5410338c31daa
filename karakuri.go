package karakuri

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

//go:generate go tool moq -out mock/mock.go -pkg mock . EventLog Subscription PlanningService Tool ToolSet ToolInvoker

const (
	// DefaultLoopLimit is the maximum number of iterations for one plan run
	// (select ready steps and execute their operations is one iteration).
	DefaultLoopLimit = 32
)

// Agent is the core structure of the package. It runs one loop goroutine per
// started task; loops of different tasks share only the event log.
type Agent struct {
	svc PlanningService

	agentConfig

	mu     sync.Mutex
	tasks  map[string]*taskRun
	wg     sync.WaitGroup
	closed bool
}

type taskRun struct {
	taskID string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type agentConfig struct {
	eventLog EventLog

	maxConcurrency   int
	operationTimeout time.Duration
	retryLimit       int
	loopLimit        int
	retention        int
	digestThreshold  int

	tools    []Tool
	toolSets []ToolSet

	infer  InferDependencies
	logger *slog.Logger

	phaseHook             PhaseHook
	messageHook           MessageHook
	operationRequestHook  OperationRequestHook
	operationResponseHook OperationResponseHook
	operationErrorHook    OperationErrorHook
}

func (c *agentConfig) Clone() *agentConfig {
	return &agentConfig{
		eventLog: c.eventLog,

		maxConcurrency:   c.maxConcurrency,
		operationTimeout: c.operationTimeout,
		retryLimit:       c.retryLimit,
		loopLimit:        c.loopLimit,
		retention:        c.retention,
		digestThreshold:  c.digestThreshold,

		tools:    c.tools[:],
		toolSets: c.toolSets[:],

		infer:  c.infer,
		logger: c.logger,

		phaseHook:             c.phaseHook,
		messageHook:           c.messageHook,
		operationRequestHook:  c.operationRequestHook,
		operationResponseHook: c.operationResponseHook,
		operationErrorHook:    c.operationErrorHook,
	}
}

// New creates a new karakuri agent. The planning service is the only required
// collaborator; everything else has a default (in-memory event log, no tools,
// discard logger).
func New(svc PlanningService, options ...Option) *Agent {
	x := &Agent{
		svc: svc,
		agentConfig: agentConfig{
			maxConcurrency: DefaultMaxConcurrency,
			retryLimit:     DefaultRetryLimit,
			loopLimit:      DefaultLoopLimit,

			logger: slog.New(slog.DiscardHandler),

			phaseHook:             defaultPhaseHook,
			messageHook:           defaultMessageHook,
			operationRequestHook:  defaultOperationRequestHook,
			operationResponseHook: defaultOperationResponseHook,
			operationErrorHook:    defaultOperationErrorHook,
		},
		tasks: map[string]*taskRun{},
	}

	for _, opt := range options {
		opt(&x.agentConfig)
	}
	if x.eventLog == nil {
		x.eventLog = NewMemoryLog()
	}

	x.logger.Info("karakuri agent created",
		"max_concurrency", x.maxConcurrency,
		"operation_timeout", x.operationTimeout,
		"retry_limit", x.retryLimit,
		"loop_limit", x.loopLimit,
		"retention", x.retention,
		"digest_threshold", x.digestThreshold,
		"tools_count", len(x.tools),
		"tool_sets_count", len(x.toolSets),
	)

	return x
}

// Option is the type for the options of the karakuri agent.
type Option func(*agentConfig)

// WithEventLog sets the event log backend. Default is an in-memory log.
func WithEventLog(elog EventLog) Option {
	return func(c *agentConfig) {
		c.eventLog = elog
	}
}

// WithTools adds tools the planner may schedule.
func WithTools(tools ...Tool) Option {
	return func(c *agentConfig) {
		c.tools = append(c.tools, tools...)
	}
}

// WithToolSets adds tool sets the planner may schedule, e.g. an MCP server.
func WithToolSets(toolSets ...ToolSet) Option {
	return func(c *agentConfig) {
		c.toolSets = append(c.toolSets, toolSets...)
	}
}

// WithMaxConcurrency sets how many operations of one batch may run at the
// same time. Default is DefaultMaxConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(c *agentConfig) {
		c.maxConcurrency = n
	}
}

// WithOperationTimeout sets the timeout applied to each operation. Default
// is no timeout.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *agentConfig) {
		c.operationTimeout = d
	}
}

// WithRetryLimit sets the maximum number of retries for a failing plan step.
// When the limit is reached the step fails for good and its dependents are
// skipped. Default is DefaultRetryLimit.
func WithRetryLimit(n int) Option {
	return func(c *agentConfig) {
		c.retryLimit = n
	}
}

// WithLoopLimit sets the maximum number of iterations for one plan run.
// Default is DefaultLoopLimit.
func WithLoopLimit(n int) Option {
	return func(c *agentConfig) {
		c.loopLimit = n
	}
}

// WithRetention keeps only the newest n events of a task after each run,
// subject to the event log's subscriber guard. Default is to keep everything.
func WithRetention(n int) Option {
	return func(c *agentConfig) {
		c.retention = n
	}
}

// WithDigestThreshold condenses observations into a knowledge event whenever
// this many have accumulated since the last digest. Default is disabled.
func WithDigestThreshold(n int) Option {
	return func(c *agentConfig) {
		c.digestThreshold = n
	}
}

// WithInferDependencies replaces the dependency inference applied to
// operation batches without declared edges. Default is
// DefaultInferDependencies.
func WithInferDependencies(fn InferDependencies) Option {
	return func(c *agentConfig) {
		c.infer = fn
	}
}

// WithLogger sets the logger for the karakuri agent. Default is discard
// logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *agentConfig) {
		c.logger = logger
	}
}

// WithPhaseHook sets a callback for loop phase transitions. If the callback
// returns an error, the task is aborted.
func WithPhaseHook(callback PhaseHook) Option {
	return func(c *agentConfig) {
		c.phaseHook = callback
	}
}

// WithMessageHook sets a callback for messages emitted by the agent,
// including the final result of each run. If the callback returns an error,
// the task is aborted.
func WithMessageHook(callback MessageHook) Option {
	return func(c *agentConfig) {
		c.messageHook = callback
	}
}

// WithOperationRequestHook sets a callback invoked just before a batch of
// operations is executed, once per operation. If the callback returns an
// error, the batch is not executed and the task is aborted.
func WithOperationRequestHook(callback OperationRequestHook) Option {
	return func(c *agentConfig) {
		c.operationRequestHook = callback
	}
}

// WithOperationResponseHook sets a callback invoked for each succeeded
// operation. If the callback returns an error, the task is aborted.
func WithOperationResponseHook(callback OperationResponseHook) Option {
	return func(c *agentConfig) {
		c.operationResponseHook = callback
	}
}

// WithOperationErrorHook sets a callback invoked for each failed operation.
// Returning nil continues the run with the step retry policy; returning an
// error aborts the task.
func WithOperationErrorHook(callback OperationErrorHook) Option {
	return func(c *agentConfig) {
		c.operationErrorHook = callback
	}
}

// StartTask records the task description as the first event, creates the
// loop state and starts the loop goroutine. Per-task options override the
// agent defaults for this task only. It returns the new task ID without
// waiting for the plan.
func (x *Agent) StartTask(ctx context.Context, description string, options ...Option) (string, error) {
	if description == "" {
		return "", goerr.Wrap(ErrInvalidParameter, "task description is empty")
	}

	cfg := x.agentConfig.Clone()
	for _, opt := range options {
		opt(cfg)
	}

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return "", goerr.Wrap(ErrAgentClosed, "agent is stopped")
	}
	x.mu.Unlock()

	registry, err := newToolRegistry(ctx, cfg.tools, cfg.toolSets)
	if err != nil {
		return "", err
	}

	taskID := uuid.New().String()
	logger := cfg.logger.With("task_id", taskID)

	ev, err := cfg.eventLog.Append(ctxWithLogger(ctx, logger), taskID, EventMessage, MessageContent{
		Role: RoleUser,
		Text: description,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to append task message", goerr.V("task_id", taskID))
	}

	var schedOptions []SchedulerOption
	if cfg.infer != nil {
		schedOptions = append(schedOptions, WithInference(cfg.infer))
	}

	l := &loop{
		taskID:    taskID,
		planner:   NewPlanner(x.svc, WithStepRetryLimit(cfg.retryLimit)),
		scheduler: NewScheduler(&registryInvoker{registry: registry}, schedOptions...),
		elog:      cfg.eventLog,
		registry:  registry,
		cfg:       cfg,
		state: loopState{
			phase:           PhaseAnalyzeEvents,
			cursor:          ev.ID,
			taskDescription: description,
		},
	}

	runCtx, cancel := context.WithCancel(ctxWithLogger(context.Background(), logger))
	run := &taskRun{taskID: taskID, cancel: cancel, done: make(chan struct{})}

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		cancel()
		return "", goerr.Wrap(ErrAgentClosed, "agent is stopped")
	}
	x.tasks[taskID] = run
	x.wg.Add(1)
	x.mu.Unlock()

	go func() {
		defer x.wg.Done()
		defer close(run.done)
		defer cancel()
		run.err = l.run(runCtx)
	}()

	logger.Info("task started", "description", description)
	return taskID, nil
}

func (x *Agent) task(taskID string) (*taskRun, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	run, ok := x.tasks[taskID]
	if !ok {
		return nil, goerr.Wrap(ErrTaskNotFound, "unknown task", goerr.V("task_id", taskID))
	}
	return run, nil
}

// CancelTask signals the task's cancellation token. In-flight operations
// receive the cancellation cooperatively; the loop records an aborted plan
// and a final message before it stops.
func (x *Agent) CancelTask(taskID string) error {
	run, err := x.task(taskID)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// SendMessage appends a user message to the task's event log. A task in
// standby picks it up as a new request; a running task folds it into its
// working context.
func (x *Agent) SendMessage(ctx context.Context, taskID, text string) error {
	if _, err := x.task(taskID); err != nil {
		return err
	}
	if _, err := x.eventLog.Append(ctx, taskID, EventMessage, MessageContent{Role: RoleUser, Text: text}); err != nil {
		return goerr.Wrap(err, "failed to append user message", goerr.V("task_id", taskID))
	}
	return nil
}

// Events returns all events of the task with an ID greater than cursor, in
// append order. It is a read-only passthrough to the event log for
// observers.
func (x *Agent) Events(ctx context.Context, taskID string, cursor int64) ([]*Event, error) {
	return x.eventLog.ReadSince(ctx, taskID, cursor, 0)
}

// Wait blocks until the task's loop goroutine has stopped, which happens on
// cancellation or an unrecoverable failure. It returns the failure of the
// task's most recent run, nil when it completed.
func (x *Agent) Wait(ctx context.Context, taskID string) error {
	run, err := x.task(taskID)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "wait canceled", goerr.V("task_id", taskID))
	case <-run.done:
		return run.err
	}
}

// Stop cancels every task and waits for all loop goroutines to finish. The
// agent accepts no new tasks afterwards.
func (x *Agent) Stop() {
	x.mu.Lock()
	x.closed = true
	for _, run := range x.tasks {
		run.cancel()
	}
	x.mu.Unlock()
	x.wg.Wait()
	x.logger.Info("karakuri agent stopped")
}
