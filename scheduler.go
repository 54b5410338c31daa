package karakuri

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency bounds the active operation set of one batch when the
// caller passes no explicit limit.
const DefaultMaxConcurrency = 4

// ToolInvoker executes one named tool. It is the only capability the
// scheduler needs from the outside; the agent backs it with its tool
// registry. Invoke must honor ctx cancellation.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any) (map[string]any, error)
}

// Scheduler executes batches of operations with bounded concurrency while
// respecting dependency edges. It is stateless across batches; every call to
// ExecuteBatch builds a fresh graph.
type Scheduler struct {
	invoker ToolInvoker
	infer   InferDependencies
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInference replaces the dependency inference applied to batches whose
// operations declare no explicit edges. Default is DefaultInferDependencies.
func WithInference(fn InferDependencies) SchedulerOption {
	return func(s *Scheduler) {
		s.infer = fn
	}
}

// NewScheduler creates a scheduler that executes operations via the given
// invoker.
func NewScheduler(invoker ToolInvoker, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		invoker: invoker,
		infer:   DefaultInferDependencies,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

type opResult struct {
	opID   string
	result map[string]any
	err    error
}

// ExecuteBatch runs the batch and returns one terminal outcome per
// operation. At most maxConcurrency operations run at once (0 or negative
// selects DefaultMaxConcurrency); perOpTimeout bounds each single operation
// (0 disables the bound).
//
// Ready operations are admitted in batch order. When an operation fails, all
// its transitive dependents are marked skipped before the next admission, so
// no dependent of a failed operation ever starts. A dependency cycle rejects
// the batch with ErrCyclicDependency before anything runs. Cancelling ctx
// stops further admissions; in-flight operations see the cancellation through
// their own contexts, and operations never admitted end up skipped.
func (x *Scheduler) ExecuteBatch(ctx context.Context, ops []*Operation, maxConcurrency int, perOpTimeout time.Duration) (map[string]*Outcome, error) {
	outcomes := make(map[string]*Outcome, len(ops))
	if len(ops) == 0 {
		return outcomes, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	graph, err := newExecutionGraph(ops, x.batchEdges(ops))
	if err != nil {
		return nil, err
	}

	logger := LoggerFromContext(ctx)
	logger.Debug("batch started",
		"operations", len(ops),
		"max_concurrency", maxConcurrency,
		"per_op_timeout", perOpTimeout,
	)

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	results := make(chan opResult)
	running := 0

	for {
		// Admission round. The dispatcher is the only goroutine touching the
		// graph, so skip propagation from a failure is always complete before
		// the next node starts.
		if ctx.Err() == nil {
			for {
				node := graph.nextReady()
				if node == nil {
					break
				}
				if !sem.TryAcquire(1) {
					break
				}
				node.status = nodeRunning
				running++
				logger.Debug("operation admitted", "op_id", node.op.ID, "tool", node.op.Tool)
				go x.runOperation(ctx, node.op, perOpTimeout, results)
			}
		}

		if running == 0 {
			break
		}

		res := <-results
		running--
		sem.Release(1)

		node := graph.byID[res.opID]
		if res.err != nil {
			outcomes[res.opID] = &Outcome{
				OpID:   res.opID,
				Status: OutcomeFailed,
				Err:    res.err,
			}
			for _, skipped := range graph.markFailed(node) {
				outcomes[skipped.op.ID] = &Outcome{
					OpID:   skipped.op.ID,
					Status: OutcomeSkipped,
					Err:    goerr.Wrap(ErrUpstreamFailure, "dependency failed", goerr.V("failed_op_id", res.opID)),
					Reason: "upstream failure",
				}
			}
			logger.Debug("operation failed", "op_id", res.opID, "error", res.err)
		} else {
			outcomes[res.opID] = &Outcome{
				OpID:   res.opID,
				Status: OutcomeSuccess,
				Result: res.result,
			}
			graph.markDone(node)
		}
	}

	// Left over only when admissions stopped on cancellation.
	for _, node := range graph.nodes {
		if !node.status.terminal() {
			node.status = nodeSkipped
			outcomes[node.op.ID] = &Outcome{
				OpID:   node.op.ID,
				Status: OutcomeSkipped,
				Err:    goerr.Wrap(ctx.Err(), "batch canceled before admission", goerr.V("op_id", node.op.ID)),
				Reason: "canceled",
			}
		}
	}

	logger.Debug("batch finished", "operations", len(ops))
	return outcomes, nil
}

// batchEdges collects the explicit dependency edges of the batch, falling
// back to inference when no operation declares any.
func (x *Scheduler) batchEdges(ops []*Operation) map[string][]string {
	edges := map[string][]string{}
	for _, op := range ops {
		if len(op.DependsOn) > 0 {
			edges[op.ID] = op.DependsOn
		}
	}
	if len(edges) == 0 && x.infer != nil {
		return x.infer(ops)
	}
	return edges
}

func (x *Scheduler) runOperation(ctx context.Context, op *Operation, timeout time.Duration, results chan<- opResult) {
	opCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	result, err := x.invoker.Invoke(opCtx, op.Tool, op.Arguments)
	if err != nil {
		// The per-operation deadline firing while the batch is still alive is
		// a timeout of this operation, whatever error the tool surfaced.
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = goerr.Wrap(ErrOperationTimeout, "operation exceeded timeout",
				goerr.V("op_id", op.ID), goerr.V("tool", op.Tool), goerr.V("timeout", timeout))
		}
	}

	results <- opResult{opID: op.ID, result: result, err: err}
}

func withOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}
