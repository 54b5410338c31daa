package karakuri

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Phase identifies a stage of the task loop state machine.
type Phase string

const (
	PhaseAnalyzeEvents    Phase = "analyze_events"
	PhaseSelectTools      Phase = "select_tools"
	PhaseWaitForExecution Phase = "wait_for_execution"
	PhaseIterate          Phase = "iterate"
	PhaseSubmitResults    Phase = "submit_results"
	PhaseStandby          Phase = "standby"
)

// phaseExit is returned by a phase handler to stop the loop for good.
const phaseExit Phase = ""

const (
	// analyzeReadLimit is the event page size used when catching up on the
	// log during the analyze phase.
	analyzeReadLimit = 256

	// stallPollInterval is how long the loop waits before re-checking the
	// plan when no step is ready but some are still in progress.
	stallPollInterval = 500 * time.Millisecond
)

// loopState is the mutable per-task state of one loop. Everything in here is
// owned by the loop goroutine; nothing else reads or writes it.
type loopState struct {
	phase           Phase
	cursor          int64
	iteration       int
	taskDescription string
	plan            *ExecutionPlan
	failure         error

	knowledge    []string
	observations []*ObservationContent
	sinceDigest  int

	batch    []string
	ops      []*Operation
	outcomes map[string]*Outcome
	batchErr error
}

// loop drives one task through the six phases until the plan is terminal,
// then parks in standby waiting for the next user message. One loop runs per
// task; loops of different tasks share nothing but the event log.
type loop struct {
	taskID    string
	planner   *Planner
	scheduler *Scheduler
	elog      EventLog
	registry  *toolRegistry
	cfg       *agentConfig

	state loopState
}

// run executes the state machine until the task is canceled or an
// unrecoverable error occurs. The returned error is the final failure of the
// most recent plan run, nil when it completed.
func (x *loop) run(ctx context.Context) error {
	ctx = ctxWithTaskID(ctx, x.taskID)
	logger := LoggerFromContext(ctx)
	logger.Info("task loop started", "task_id", x.taskID, "description", x.state.taskDescription)

	var runErr error
	for {
		// Cancellation is checked at the top of every phase. Submit still runs
		// so the log records how the task ended.
		if ctx.Err() != nil && x.state.phase != PhaseSubmitResults {
			if x.state.phase == PhaseStandby {
				logger.Info("task loop stopped", "task_id", x.taskID)
				return runErr
			}
			if runErr == nil {
				runErr = goerr.Wrap(ctx.Err(), "task canceled", goerr.V("task_id", x.taskID))
			}
			x.abortPlan("task canceled")
			x.state.failure = runErr
			if err := x.transition(ctx, PhaseSubmitResults); err != nil {
				return err
			}
			continue
		}

		var next Phase
		var err error
		switch x.state.phase {
		case PhaseAnalyzeEvents:
			next, err = x.analyzeEvents(ctx)
		case PhaseSelectTools:
			next, err = x.selectTools(ctx)
		case PhaseWaitForExecution:
			next, err = x.waitForExecution(ctx)
		case PhaseIterate:
			next, err = x.iterate(ctx)
		case PhaseSubmitResults:
			next, err = x.submitResults(ctx)
		case PhaseStandby:
			next, err = x.standby(ctx)
		default:
			return goerr.Wrap(ErrInvalidTransition, "unknown loop phase", goerr.V("phase", x.state.phase))
		}

		if err != nil {
			if x.state.phase == PhaseSubmitResults || x.state.phase == PhaseStandby {
				return err
			}
			logger.Error("task run failed", "task_id", x.taskID, "phase", x.state.phase, "error", err)
			runErr = err
			x.abortPlan("internal error")
			x.state.failure = err
			if terr := x.transition(ctx, PhaseSubmitResults); terr != nil {
				return terr
			}
			continue
		}

		if next == phaseExit {
			logger.Info("task loop stopped", "task_id", x.taskID)
			return runErr
		}
		if x.state.phase == PhaseStandby && next == PhaseAnalyzeEvents {
			runErr = nil
		}
		if err := x.transition(ctx, next); err != nil {
			return err
		}
	}
}

func (x *loop) transition(ctx context.Context, to Phase) error {
	if err := x.cfg.phaseHook(ctx, x.taskID, x.state.phase, to); err != nil {
		return goerr.Wrap(err, "phase hook failed",
			goerr.V("from", x.state.phase), goerr.V("to", to))
	}
	LoggerFromContext(ctx).Debug("phase transition",
		"task_id", x.taskID, "from", x.state.phase, "to", to)
	x.state.phase = to
	return nil
}

// analyzeEvents catches up on the event log from the cursor, folds what it
// reads into the loop's context, and creates the plan when none exists yet.
func (x *loop) analyzeEvents(ctx context.Context) (Phase, error) {
	for {
		events, err := x.elog.ReadSince(ctx, x.taskID, x.state.cursor, analyzeReadLimit)
		if err != nil {
			return phaseExit, goerr.Wrap(err, "failed to read events",
				goerr.V("task_id", x.taskID), goerr.V("cursor", x.state.cursor))
		}
		for _, ev := range events {
			x.fold(ev)
			x.state.cursor = ev.ID
		}
		if len(events) < analyzeReadLimit {
			break
		}
	}

	if x.cfg.digestThreshold > 0 && x.state.sinceDigest >= x.cfg.digestThreshold {
		if err := x.writeDigest(ctx); err != nil {
			return phaseExit, err
		}
	}

	if x.state.plan == nil {
		plan, err := x.planner.CreatePlan(ctx, x.taskID, x.state.taskDescription, x.registry.specs(), x.state.knowledge)
		if err != nil {
			return phaseExit, err
		}
		x.state.plan = plan
		if err := x.appendPlanEvent(ctx, plan); err != nil {
			return phaseExit, err
		}
	}

	return PhaseSelectTools, nil
}

// selectTools pulls the next ready batch from the plan, starts each step and
// expands it into operations. Steps with no operations complete on the spot.
func (x *loop) selectTools(ctx context.Context) (Phase, error) {
	plan := x.state.plan
	batch := x.planner.NextReadyBatch(plan)
	if len(batch) == 0 {
		if plan.Status().Terminal() {
			return PhaseSubmitResults, nil
		}

		inProgress := 0
		for _, step := range plan.steps {
			if step.Status == StepInProgress {
				inProgress++
			}
		}
		if inProgress == 0 {
			return phaseExit, goerr.Wrap(ErrPlanStalled, "no ready and no in-progress steps",
				goerr.V("task_id", x.taskID), goerr.V("plan_id", plan.ID()))
		}

		select {
		case <-ctx.Done():
		case <-time.After(stallPollInterval):
		}
		return PhaseAnalyzeEvents, nil
	}

	x.state.batch = x.state.batch[:0]
	var ops []*Operation
	for i := range batch {
		step := &batch[i]
		if err := x.planner.StartStep(plan, step.ID); err != nil {
			return phaseExit, err
		}
		x.state.batch = append(x.state.batch, step.ID)

		if len(step.Operations) == 0 {
			if err := x.planner.CompleteStep(plan, step.ID, nil); err != nil {
				return phaseExit, err
			}
			continue
		}

		for _, stepOp := range step.Operations {
			op := NewOperation(stepOp.Tool, stepOp.Arguments)
			op.StepID = step.ID
			if tool, err := x.registry.find(stepOp.Tool); err == nil {
				spec := tool.Spec()
				op.Produces = spec.Produces
				op.Mutates = spec.Mutates
			}
			ops = append(ops, op)
		}
	}
	x.state.ops = ops

	return PhaseWaitForExecution, nil
}

// waitForExecution records an action event per operation and hands the batch
// to the scheduler. Batch rejection (a dependency cycle) is carried to the
// iterate phase instead of failing the whole run.
func (x *loop) waitForExecution(ctx context.Context) (Phase, error) {
	for _, op := range x.state.ops {
		if err := x.cfg.operationRequestHook(ctx, op); err != nil {
			return phaseExit, goerr.Wrap(err, "operation request hook failed",
				goerr.V("op_id", op.ID), goerr.V("tool", op.Tool))
		}
	}

	for _, op := range x.state.ops {
		content := ActionContent{
			StepID:    op.StepID,
			OpID:      op.ID,
			Tool:      op.Tool,
			Arguments: op.Arguments,
		}
		if _, err := x.elog.Append(ctx, x.taskID, EventAction, content); err != nil {
			return phaseExit, goerr.Wrap(err, "failed to append action event", goerr.V("op_id", op.ID))
		}
	}

	outcomes, err := x.scheduler.ExecuteBatch(ctx, x.state.ops, x.cfg.maxConcurrency, x.cfg.operationTimeout)
	if err != nil {
		x.state.outcomes = nil
		x.state.batchErr = err
		return PhaseIterate, nil
	}
	x.state.outcomes = outcomes
	x.state.batchErr = nil

	return PhaseIterate, nil
}

// iterate appends an observation event per outcome, runs the operation
// hooks, folds outcomes into step transitions and advances the iteration
// counter.
func (x *loop) iterate(ctx context.Context) (Phase, error) {
	plan := x.state.plan

	for _, op := range x.state.ops {
		var content ObservationContent
		switch {
		case x.state.batchErr != nil:
			content = ObservationContent{
				StepID: op.StepID,
				OpID:   op.ID,
				Tool:   op.Tool,
				Status: OutcomeFailed,
				Error:  x.state.batchErr.Error(),
			}
		case x.state.outcomes[op.ID] != nil:
			out := x.state.outcomes[op.ID]
			content = ObservationContent{
				StepID: op.StepID,
				OpID:   op.ID,
				Tool:   op.Tool,
				Status: out.Status,
				Result: out.Result,
			}
			if out.Err != nil {
				content.Error = out.Err.Error()
			} else if out.Reason != "" {
				content.Error = out.Reason
			}
		default:
			continue
		}
		if _, err := x.elog.Append(ctx, x.taskID, EventObservation, content); err != nil {
			return phaseExit, goerr.Wrap(err, "failed to append observation event", goerr.V("op_id", op.ID))
		}
	}

	if x.state.batchErr == nil {
		for _, op := range x.state.ops {
			out := x.state.outcomes[op.ID]
			if out == nil {
				continue
			}
			switch out.Status {
			case OutcomeSuccess:
				if err := x.cfg.operationResponseHook(ctx, op, out.Result); err != nil {
					return phaseExit, goerr.Wrap(err, "operation response hook failed", goerr.V("op_id", op.ID))
				}
			case OutcomeFailed:
				if err := x.cfg.operationErrorHook(ctx, out.Err, op); err != nil {
					return phaseExit, goerr.Wrap(err, "operation error hook failed", goerr.V("op_id", op.ID))
				}
			}
		}
	}

	if err := x.foldOutcomes(plan); err != nil {
		return phaseExit, err
	}

	x.state.batch = nil
	x.state.ops = nil
	x.state.outcomes = nil
	x.state.batchErr = nil

	x.state.iteration++
	if x.state.iteration > x.cfg.loopLimit {
		return phaseExit, goerr.Wrap(ErrLoopLimitExceeded, "loop limit exceeded",
			goerr.V("task_id", x.taskID), goerr.V("limit", x.cfg.loopLimit))
	}

	if plan.Status().Terminal() {
		return PhaseSubmitResults, nil
	}
	return PhaseAnalyzeEvents, nil
}

// foldOutcomes maps operation outcomes back onto their owning steps. A step
// completes only when every one of its operations succeeded; a failed
// operation fails the step, and a skipped one marks it a victim of upstream
// failure.
func (x *loop) foldOutcomes(plan *ExecutionPlan) error {
	if x.state.batchErr != nil {
		for _, stepID := range x.state.batch {
			step, ok := plan.byID[stepID]
			if !ok || step.Status != StepInProgress {
				continue
			}
			if err := x.planner.FailStep(plan, stepID, x.state.batchErr); err != nil {
				return err
			}
		}
		return nil
	}

	type stepOutcome struct {
		failed  error
		skipped bool
		results []map[string]any
		single  map[string]any
		opIDs   []string
	}
	perStep := map[string]*stepOutcome{}
	for _, op := range x.state.ops {
		out := x.state.outcomes[op.ID]
		if out == nil {
			continue
		}
		agg := perStep[op.StepID]
		if agg == nil {
			agg = &stepOutcome{}
			perStep[op.StepID] = agg
		}
		switch out.Status {
		case OutcomeFailed:
			if agg.failed == nil {
				agg.failed = out.Err
			}
		case OutcomeSkipped:
			agg.skipped = true
		case OutcomeSuccess:
			agg.single = out.Result
			agg.results = append(agg.results, out.Result)
			agg.opIDs = append(agg.opIDs, op.ID)
		}
	}

	for _, stepID := range x.state.batch {
		agg := perStep[stepID]
		if agg == nil {
			continue
		}
		switch {
		case agg.failed != nil:
			if err := x.planner.FailStep(plan, stepID, agg.failed); err != nil {
				return err
			}
		case agg.skipped:
			cause := goerr.Wrap(ErrUpstreamFailure, "operations skipped", goerr.V("step_id", stepID))
			if err := x.planner.FailStep(plan, stepID, cause); err != nil {
				return err
			}
		default:
			result := agg.single
			if len(agg.results) > 1 {
				result = map[string]any{}
				for i, r := range agg.results {
					result[agg.opIDs[i]] = r
				}
			}
			if err := x.planner.CompleteStep(plan, stepID, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// submitResults records the final plan snapshot and exactly one message
// event describing how the run ended, then applies retention trimming. It
// must run even for a canceled task, so appends use a context detached from
// cancellation.
func (x *loop) submitResults(ctx context.Context) (Phase, error) {
	ctx = context.WithoutCancel(ctx)
	logger := LoggerFromContext(ctx)

	if x.state.plan != nil {
		if err := x.appendPlanEvent(ctx, x.state.plan); err != nil {
			return phaseExit, err
		}
	}

	msg := x.resultMessage()
	if err := x.cfg.messageHook(ctx, x.taskID, msg); err != nil {
		return phaseExit, goerr.Wrap(err, "message hook failed", goerr.V("task_id", x.taskID))
	}
	if _, err := x.elog.Append(ctx, x.taskID, EventMessage, MessageContent{Role: RoleAgent, Text: msg}); err != nil {
		return phaseExit, goerr.Wrap(err, "failed to append result message", goerr.V("task_id", x.taskID))
	}
	x.state.failure = nil

	if x.cfg.retention > 0 {
		if err := x.elog.Trim(ctx, x.taskID, x.cfg.retention); err != nil {
			logger.Warn("failed to trim events", "task_id", x.taskID, "error", err)
		}
	}

	status := PlanStatus("none")
	if x.state.plan != nil {
		status = x.state.plan.Status()
	}
	logger.Info("task run finished", "task_id", x.taskID, "status", status, "iterations", x.state.iteration)

	return PhaseStandby, nil
}

// standby blocks on the event log subscription until a new user message
// retriggers the loop or the task is canceled. A lost subscription is
// transparently re-established at the current cursor.
func (x *loop) standby(ctx context.Context) (Phase, error) {
	logger := LoggerFromContext(ctx)
	logger.Info("entering standby", "task_id", x.taskID, "cursor", x.state.cursor)

	for {
		if ctx.Err() != nil {
			return phaseExit, nil
		}

		sub, err := x.elog.Subscribe(ctx, x.taskID, x.state.cursor)
		if err != nil {
			if errors.Is(err, ErrSubscriptionLost) {
				time.Sleep(stallPollInterval)
				continue
			}
			return phaseExit, goerr.Wrap(err, "failed to subscribe", goerr.V("task_id", x.taskID))
		}

		for ev := range sub.Events() {
			if ev.Type == EventMessage {
				if msg, merr := ev.Message(); merr == nil && msg.Role == RoleUser {
					_ = sub.Close()
					x.retrigger(msg.Text, ev.ID)
					logger.Info("task retriggered", "task_id", x.taskID, "cursor", x.state.cursor)
					return PhaseAnalyzeEvents, nil
				}
			}
			x.fold(ev)
			x.state.cursor = ev.ID
		}

		serr := sub.Err()
		_ = sub.Close()
		if ctx.Err() != nil {
			return phaseExit, nil
		}
		if serr != nil && !errors.Is(serr, ErrSubscriptionLost) {
			return phaseExit, goerr.Wrap(serr, "subscription failed", goerr.V("task_id", x.taskID))
		}
		logger.Warn("subscription ended, resubscribing", "task_id", x.taskID, "cursor", x.state.cursor)
	}
}

// fold absorbs one event into the loop's working context. User messages
// become knowledge for later proposals; observations feed the digest buffer
// when digesting is enabled.
func (x *loop) fold(ev *Event) {
	switch ev.Type {
	case EventMessage:
		if msg, err := ev.Message(); err == nil && msg.Role == RoleUser && msg.Text != x.state.taskDescription {
			x.state.knowledge = append(x.state.knowledge, "user message: "+msg.Text)
		}
	case EventObservation:
		if x.cfg.digestThreshold <= 0 {
			return
		}
		if obs, err := ev.Observation(); err == nil {
			x.state.observations = append(x.state.observations, obs)
			x.state.sinceDigest++
		}
	case EventKnowledge:
		if k, err := ev.Knowledge(); err == nil {
			x.state.knowledge = append(x.state.knowledge, k.Text)
		}
	}
}

func (x *loop) writeDigest(ctx context.Context) error {
	content := KnowledgeContent{
		Topic:      "activity digest",
		Text:       summarizeObservations(x.state.observations),
		SourceUpTo: x.state.cursor,
	}
	if _, err := x.elog.Append(ctx, x.taskID, EventKnowledge, content); err != nil {
		return goerr.Wrap(err, "failed to append knowledge event", goerr.V("task_id", x.taskID))
	}
	x.state.observations = x.state.observations[:0]
	x.state.sinceDigest = 0
	return nil
}

func summarizeObservations(observations []*ObservationContent) string {
	var success, failed, skipped int
	var failures []string
	for _, obs := range observations {
		switch obs.Status {
		case OutcomeSuccess:
			success++
		case OutcomeFailed:
			failed++
			if len(failures) < 3 {
				failures = append(failures, fmt.Sprintf("%s: %s", obs.Tool, obs.Error))
			}
		case OutcomeSkipped:
			skipped++
		}
	}

	text := fmt.Sprintf("%d operations: %d success, %d failed, %d skipped",
		len(observations), success, failed, skipped)
	if len(failures) > 0 {
		text += "; failures: " + strings.Join(failures, "; ")
	}
	return text
}

func (x *loop) appendPlanEvent(ctx context.Context, plan *ExecutionPlan) error {
	snapshot, err := plan.Serialize()
	if err != nil {
		return goerr.Wrap(err, "failed to serialize plan", goerr.V("plan_id", plan.ID()))
	}
	content := PlanContent{PlanID: plan.ID(), Snapshot: snapshot}
	if _, err := x.elog.Append(ctx, x.taskID, EventPlan, content); err != nil {
		return goerr.Wrap(err, "failed to append plan event", goerr.V("plan_id", plan.ID()))
	}
	return nil
}

func (x *loop) abortPlan(reason string) {
	if x.state.plan != nil && !x.state.plan.Status().Terminal() {
		x.state.plan.abort(reason)
	}
}

func (x *loop) resultMessage() string {
	if x.state.failure != nil {
		if x.state.plan != nil {
			return fmt.Sprintf("task failed: %v (%s)", x.state.failure, x.state.plan.Summary())
		}
		return fmt.Sprintf("task failed: %v", x.state.failure)
	}
	if x.state.plan == nil {
		return "task ended before a plan was created"
	}
	return x.state.plan.Summary()
}

// retrigger resets the loop for a fresh plan run under the same task ID. The
// cursor and accumulated knowledge carry over; the plan and counters do not.
func (x *loop) retrigger(description string, cursor int64) {
	x.state.taskDescription = description
	x.state.cursor = cursor
	x.state.plan = nil
	x.state.failure = nil
	x.state.iteration = 0
	x.state.batch = nil
	x.state.ops = nil
	x.state.outcomes = nil
	x.state.batchErr = nil
}
