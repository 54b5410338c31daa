package karakuri_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/mock"
)

func okInvoker() *mock.ToolInvokerMock {
	return &mock.ToolInvokerMock{
		InvokeFunc: func(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
			return map[string]any{"tool": toolName}, nil
		},
	}
}

func TestSchedulerExecuteBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("empty batch yields no outcomes", func(t *testing.T) {
		invoker := okInvoker()
		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, nil, 4, 0)
		gt.NoError(t, err)
		gt.Equal(t, len(outcomes), 0)
		gt.Array(t, invoker.InvokeCalls()).Length(0)
	})

	t.Run("runs dependencies before dependents", func(t *testing.T) {
		invoker := okInvoker()
		ops := []*karakuri.Operation{
			{ID: "a", Tool: "a"},
			{ID: "b", Tool: "b", DependsOn: []string{"a"}},
			{ID: "c", Tool: "c", DependsOn: []string{"b"}},
		}

		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 4, 0)
		gt.NoError(t, err).Required()
		gt.Equal(t, len(outcomes), 3)
		for _, op := range ops {
			gt.Equal(t, outcomes[op.ID].Status, karakuri.OutcomeSuccess)
			gt.Equal(t, outcomes[op.ID].Result, map[string]any{"tool": op.Tool})
		}

		calls := invoker.InvokeCalls()
		gt.Array(t, calls).Length(3).Required()
		gt.Equal(t, calls[0].ToolName, "a")
		gt.Equal(t, calls[1].ToolName, "b")
		gt.Equal(t, calls[2].ToolName, "c")
	})

	t.Run("bounds concurrent operations", func(t *testing.T) {
		var mu sync.Mutex
		active, maxActive := 0, 0

		invoker := &mock.ToolInvokerMock{
			InvokeFunc: func(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return map[string]any{}, nil
			},
		}

		var ops []*karakuri.Operation
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("op_%d", i)
			ops = append(ops, &karakuri.Operation{ID: id, Tool: id})
		}

		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 3, 0)
		gt.NoError(t, err).Required()
		gt.Equal(t, len(outcomes), 10)
		for _, out := range outcomes {
			gt.Equal(t, out.Status, karakuri.OutcomeSuccess)
		}

		mu.Lock()
		defer mu.Unlock()
		gt.True(t, maxActive <= 3)
		gt.N(t, maxActive).Greater(1)
	})

	t.Run("a failed operation is an outcome, not a batch error", func(t *testing.T) {
		invoker := &mock.ToolInvokerMock{
			InvokeFunc: func(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
				return nil, errors.New("disk on fire")
			},
		}
		ops := []*karakuri.Operation{{ID: "a", Tool: "a"}}

		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 1, 0)
		gt.NoError(t, err).Required()
		gt.Equal(t, outcomes["a"].Status, karakuri.OutcomeFailed)
		gt.S(t, outcomes["a"].Err.Error()).Contains("disk on fire")
	})

	t.Run("failure skips transitive dependents", func(t *testing.T) {
		invoker := &mock.ToolInvokerMock{
			InvokeFunc: func(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
				if toolName == "a" {
					return nil, errors.New("boom")
				}
				return map[string]any{}, nil
			},
		}
		ops := []*karakuri.Operation{
			{ID: "a", Tool: "a"},
			{ID: "b", Tool: "b", DependsOn: []string{"a"}},
			{ID: "c", Tool: "c", DependsOn: []string{"b"}},
			{ID: "d", Tool: "d"},
		}

		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 1, 0)
		gt.NoError(t, err).Required()
		gt.Equal(t, outcomes["a"].Status, karakuri.OutcomeFailed)
		gt.Equal(t, outcomes["b"].Status, karakuri.OutcomeSkipped)
		gt.Equal(t, outcomes["c"].Status, karakuri.OutcomeSkipped)
		gt.Equal(t, outcomes["d"].Status, karakuri.OutcomeSuccess)

		gt.True(t, errors.Is(outcomes["b"].Err, karakuri.ErrUpstreamFailure))
		gt.True(t, errors.Is(outcomes["c"].Err, karakuri.ErrUpstreamFailure))
		gt.Equal(t, outcomes["b"].Reason, "upstream failure")

		// Skipped operations never reach the invoker.
		calls := invoker.InvokeCalls()
		gt.Array(t, calls).Length(2).Required()
		gt.Equal(t, calls[0].ToolName, "a")
		gt.Equal(t, calls[1].ToolName, "d")
	})

	t.Run("per-operation timeout becomes ErrOperationTimeout", func(t *testing.T) {
		invoker := &mock.ToolInvokerMock{
			InvokeFunc: func(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Second):
					return map[string]any{}, nil
				}
			},
		}
		ops := []*karakuri.Operation{{ID: "slow", Tool: "slow"}}

		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 1, 30*time.Millisecond)
		gt.NoError(t, err).Required()
		gt.Equal(t, outcomes["slow"].Status, karakuri.OutcomeFailed)
		gt.True(t, errors.Is(outcomes["slow"].Err, karakuri.ErrOperationTimeout))
	})

	t.Run("cycle rejects the batch before anything runs", func(t *testing.T) {
		invoker := okInvoker()
		ops := []*karakuri.Operation{
			{ID: "a", Tool: "a", DependsOn: []string{"b"}},
			{ID: "b", Tool: "b", DependsOn: []string{"a"}},
		}

		_, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 4, 0)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, karakuri.ErrCyclicDependency))
		gt.Array(t, invoker.InvokeCalls()).Length(0)
	})

	t.Run("duplicate operation id is rejected", func(t *testing.T) {
		ops := []*karakuri.Operation{
			{ID: "a", Tool: "a"},
			{ID: "a", Tool: "a"},
		}
		_, err := karakuri.NewScheduler(okInvoker()).ExecuteBatch(ctx, ops, 4, 0)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, karakuri.ErrInvalidParameter))
	})

	t.Run("dependency on an unknown operation is rejected", func(t *testing.T) {
		ops := []*karakuri.Operation{
			{ID: "a", Tool: "a", DependsOn: []string{"ghost"}},
		}
		_, err := karakuri.NewScheduler(okInvoker()).ExecuteBatch(ctx, ops, 4, 0)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, karakuri.ErrInvalidParameter))
	})

	t.Run("cancellation skips operations never admitted", func(t *testing.T) {
		batchCtx, cancel := context.WithCancel(ctx)
		invoker := &mock.ToolInvokerMock{
			InvokeFunc: func(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
				cancel()
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		ops := []*karakuri.Operation{
			{ID: "a", Tool: "a"},
			{ID: "b", Tool: "b"},
			{ID: "c", Tool: "c"},
		}

		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(batchCtx, ops, 1, 0)
		gt.NoError(t, err).Required()
		gt.Equal(t, outcomes["a"].Status, karakuri.OutcomeFailed)
		gt.Equal(t, outcomes["b"].Status, karakuri.OutcomeSkipped)
		gt.Equal(t, outcomes["c"].Status, karakuri.OutcomeSkipped)
		gt.Equal(t, outcomes["b"].Reason, "canceled")
		gt.True(t, errors.Is(outcomes["b"].Err, context.Canceled))
		gt.Array(t, invoker.InvokeCalls()).Length(1)
	})
}

func TestSchedulerInference(t *testing.T) {
	ctx := context.Background()

	t.Run("data dependencies are inferred when no edges are declared", func(t *testing.T) {
		invoker := okInvoker()
		ops := []*karakuri.Operation{
			{ID: "fetch", Tool: "fetch_page", Produces: []string{"page_text"}},
			{ID: "sum", Tool: "summarize", Arguments: map[string]any{"input": "page_text"}},
		}

		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 4, 0)
		gt.NoError(t, err).Required()
		gt.Equal(t, outcomes["fetch"].Status, karakuri.OutcomeSuccess)
		gt.Equal(t, outcomes["sum"].Status, karakuri.OutcomeSuccess)

		calls := invoker.InvokeCalls()
		gt.Array(t, calls).Length(2).Required()
		gt.Equal(t, calls[0].ToolName, "fetch_page")
		gt.Equal(t, calls[1].ToolName, "summarize")
	})

	t.Run("inferred failure cascades like a declared edge", func(t *testing.T) {
		invoker := &mock.ToolInvokerMock{
			InvokeFunc: func(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
				if toolName == "fetch_page" {
					return nil, errors.New("404")
				}
				return map[string]any{}, nil
			},
		}
		ops := []*karakuri.Operation{
			{ID: "fetch", Tool: "fetch_page", Produces: []string{"page_text"}},
			{ID: "sum", Tool: "summarize", Arguments: map[string]any{"input": "page_text"}},
		}

		outcomes, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 4, 0)
		gt.NoError(t, err).Required()
		gt.Equal(t, outcomes["fetch"].Status, karakuri.OutcomeFailed)
		gt.Equal(t, outcomes["sum"].Status, karakuri.OutcomeSkipped)
	})

	t.Run("custom inference replaces the default", func(t *testing.T) {
		invoker := okInvoker()
		sched := karakuri.NewScheduler(invoker, karakuri.WithInference(func(ops []*karakuri.Operation) map[string][]string {
			return map[string][]string{"b": {"a"}}
		}))
		ops := []*karakuri.Operation{
			{ID: "b", Tool: "b"},
			{ID: "a", Tool: "a"},
		}

		_, err := sched.ExecuteBatch(ctx, ops, 4, 0)
		gt.NoError(t, err).Required()

		calls := invoker.InvokeCalls()
		gt.Array(t, calls).Length(2).Required()
		gt.Equal(t, calls[0].ToolName, "a")
		gt.Equal(t, calls[1].ToolName, "b")
	})

	t.Run("declared edges suppress inference", func(t *testing.T) {
		invoker := okInvoker()
		ops := []*karakuri.Operation{
			{ID: "fetch", Tool: "fetch_page", Produces: []string{"page_text"}, DependsOn: []string{"sum"}},
			{ID: "sum", Tool: "summarize", Arguments: map[string]any{"input": "page_text"}},
		}

		_, err := karakuri.NewScheduler(invoker).ExecuteBatch(ctx, ops, 4, 0)
		gt.NoError(t, err).Required()

		calls := invoker.InvokeCalls()
		gt.Array(t, calls).Length(2).Required()
		gt.Equal(t, calls[0].ToolName, "summarize")
		gt.Equal(t, calls[1].ToolName, "fetch_page")
	})
}
