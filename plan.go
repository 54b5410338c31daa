package karakuri

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// PlanStatus represents the lifecycle state of an execution plan.
type PlanStatus string

const (
	PlanActive   PlanStatus = "active"
	PlanComplete PlanStatus = "complete"
	PlanFailed   PlanStatus = "failed"
	PlanAborted  PlanStatus = "aborted"
)

// Terminal reports whether the plan reached a final state.
func (x PlanStatus) Terminal() bool {
	return x != PlanActive
}

// StepStatus represents the state of a single plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepReady      StepStatus = "ready"
	StepInProgress StepStatus = "in_progress"
	StepComplete   StepStatus = "complete"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

func (x StepStatus) terminal() bool {
	return x == StepComplete || x == StepFailed || x == StepSkipped
}

// StepOperation is one tool invocation a step expands into. A step may carry
// zero or more of them; steps without operations complete as soon as they are
// selected.
type StepOperation struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// PlanStep is a planner-level unit of work. Its dependency edges reference
// other step IDs of the same plan and always form a DAG.
type PlanStep struct {
	ID          string          `json:"step_id"`
	Description string          `json:"description"`
	Operations  []StepOperation `json:"operations,omitempty"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Status      StepStatus      `json:"status"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       error           `json:"-"`
	ErrorMsg    string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	Critical    bool            `json:"critical,omitempty"`
}

// ExecutionPlan is the ordered set of steps for one task. It is owned by the
// loop running that task; all state transitions go through Planner methods.
type ExecutionPlan struct {
	id              string
	taskDescription string
	steps           []*PlanStep
	status          PlanStatus

	byID       map[string]*PlanStep
	dependents map[string][]string
}

// ID returns the plan ID, which equals the owning task ID.
func (p *ExecutionPlan) ID() string {
	return p.id
}

// TaskDescription returns the request this plan was created for.
func (p *ExecutionPlan) TaskDescription() string {
	return p.taskDescription
}

// Status returns the current plan status.
func (p *ExecutionPlan) Status() PlanStatus {
	return p.status
}

// Steps returns a copy of all steps in plan order.
func (p *ExecutionPlan) Steps() []PlanStep {
	steps := make([]PlanStep, len(p.steps))
	for i, step := range p.steps {
		steps[i] = *step
	}
	return steps
}

func (p *ExecutionPlan) step(stepID string) (*PlanStep, error) {
	step, ok := p.byID[stepID]
	if !ok {
		return nil, goerr.Wrap(ErrInvalidTransition, "unknown step", goerr.V("step_id", stepID))
	}
	return step, nil
}

func (p *ExecutionPlan) reindex() {
	p.byID = make(map[string]*PlanStep, len(p.steps))
	p.dependents = make(map[string][]string, len(p.steps))
	for _, step := range p.steps {
		p.byID[step.ID] = step
	}
	for _, step := range p.steps {
		for _, depID := range step.DependsOn {
			p.dependents[depID] = append(p.dependents[depID], step.ID)
		}
	}
}

// recomputeReady promotes pending steps whose dependencies are all complete.
func (p *ExecutionPlan) recomputeReady() {
	for _, step := range p.steps {
		if step.Status != StepPending {
			continue
		}
		ready := true
		for _, depID := range step.DependsOn {
			if dep, ok := p.byID[depID]; !ok || dep.Status != StepComplete {
				ready = false
				break
			}
		}
		if ready {
			step.Status = StepReady
		}
	}
}

// propagateSkip marks every transitive dependent of the step as skipped
// unless it already reached a terminal state.
func (p *ExecutionPlan) propagateSkip(stepID string) {
	for _, depID := range p.dependents[stepID] {
		step := p.byID[depID]
		if step == nil || step.Status.terminal() {
			continue
		}
		step.Status = StepSkipped
		step.ErrorMsg = "upstream failure"
		p.propagateSkip(depID)
	}
}

// refreshStatus recomputes the plan status from its steps. The plan stays
// active while any step is pending, ready or in progress; once all steps are
// terminal it completes, or fails when a critical step failed.
func (p *ExecutionPlan) refreshStatus() {
	if p.status.Terminal() {
		return
	}

	failed := false
	for _, step := range p.steps {
		if !step.Status.terminal() {
			return
		}
		if step.Status == StepFailed && step.Critical {
			failed = true
		}
	}

	if failed {
		p.status = PlanFailed
	} else {
		p.status = PlanComplete
	}
}

// abort transitions the plan to aborted and skips everything not yet
// terminal. Used for external cancellation only.
func (p *ExecutionPlan) abort(reason string) {
	for _, step := range p.steps {
		if !step.Status.terminal() {
			step.Status = StepSkipped
			step.ErrorMsg = reason
		}
	}
	p.status = PlanAborted
}

// Summary renders a one-line human-readable outcome of the plan.
func (p *ExecutionPlan) Summary() string {
	counts := map[StepStatus]int{}
	for _, step := range p.steps {
		counts[step.Status]++
	}

	parts := make([]string, 0, 4)
	for _, st := range []StepStatus{StepComplete, StepFailed, StepSkipped} {
		if counts[st] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[st], st))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no steps")
	}

	return fmt.Sprintf("plan %s: %s (%d steps: %s)",
		p.status, p.taskDescription, len(p.steps), strings.Join(parts, ", "))
}

const (
	// DefaultRetryLimit is the number of times a failing step is re-queued
	// before its failure becomes final.
	DefaultRetryLimit = 8
)

// Planner materializes plans from the planning service's proposals and owns
// every step state transition. Step statuses move only through StartStep,
// CompleteStep and FailStep; any other transition is rejected with
// ErrInvalidTransition.
type Planner struct {
	svc        PlanningService
	retryLimit int
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithStepRetryLimit sets how many times a failing step is re-queued before
// it fails for good. Default is DefaultRetryLimit.
func WithStepRetryLimit(limit int) PlannerOption {
	return func(p *Planner) {
		p.retryLimit = limit
	}
}

// NewPlanner creates a planner backed by the given planning service.
func NewPlanner(svc PlanningService, options ...PlannerOption) *Planner {
	p := &Planner{
		svc:        svc,
		retryLimit: DefaultRetryLimit,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// CreatePlan asks the planning service for a step proposal once and
// materializes it into an executable plan. Proposed dependency indices must
// reference steps of the same proposal and form a DAG; tools must exist in
// the given specs. Steps without dependencies start out ready.
func (x *Planner) CreatePlan(ctx context.Context, taskID, taskDescription string, tools []ToolSpec, knowledge []string) (*ExecutionPlan, error) {
	proposal, err := x.svc.ProposeSteps(ctx, &ProposalRequest{
		TaskDescription: taskDescription,
		Tools:           tools,
		Knowledge:       knowledge,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to propose steps", goerr.V("task_id", taskID))
	}
	if proposal == nil || len(proposal.Steps) == 0 {
		return nil, goerr.Wrap(ErrInvalidProposal, "planning service returned no steps", goerr.V("task_id", taskID))
	}

	known := map[string]bool{}
	for _, spec := range tools {
		known[spec.Name] = true
	}

	plan := &ExecutionPlan{
		id:              taskID,
		taskDescription: taskDescription,
		status:          PlanActive,
		steps:           make([]*PlanStep, 0, len(proposal.Steps)),
	}

	for i, proposed := range proposal.Steps {
		step := &PlanStep{
			ID:          fmt.Sprintf("step_%d", i+1),
			Description: proposed.Description,
			Operations:  proposed.Operations,
			Status:      StepPending,
			Critical:    proposed.Critical,
		}

		for _, op := range proposed.Operations {
			if !known[op.Tool] {
				return nil, goerr.Wrap(ErrToolNotFound, "proposal references unknown tool",
					goerr.V("step", step.ID), goerr.V("tool", op.Tool))
			}
		}

		for _, depIdx := range proposed.DependsOn {
			if depIdx < 0 || depIdx >= len(proposal.Steps) {
				return nil, goerr.Wrap(ErrInvalidProposal, "dependency index out of range",
					goerr.V("step", step.ID), goerr.V("index", depIdx))
			}
			if depIdx == i {
				return nil, goerr.Wrap(ErrCyclicDependency, "step depends on itself", goerr.V("step", step.ID))
			}
			step.DependsOn = append(step.DependsOn, fmt.Sprintf("step_%d", depIdx+1))
		}

		plan.steps = append(plan.steps, step)
	}

	plan.reindex()

	order := make([]string, len(plan.steps))
	edges := make(map[string][]string, len(plan.steps))
	for i, step := range plan.steps {
		order[i] = step.ID
		edges[step.ID] = step.DependsOn
	}
	if cycle := detectCycle(order, edges); len(cycle) > 0 {
		return nil, goerr.Wrap(ErrCyclicDependency, "proposed steps contain a dependency cycle",
			goerr.V("cycle", strings.Join(cycle, " -> ")))
	}

	plan.recomputeReady()

	LoggerFromContext(ctx).Info("plan created",
		"task_id", taskID,
		"steps", len(plan.steps),
		"description", taskDescription,
	)

	return plan, nil
}

// NextReadyBatch returns all ready steps in plan order without mutating any
// state. Calling it repeatedly without an intervening transition returns the
// same batch.
func (x *Planner) NextReadyBatch(plan *ExecutionPlan) []PlanStep {
	var batch []PlanStep
	for _, step := range plan.steps {
		if step.Status == StepReady {
			batch = append(batch, *step)
		}
	}
	return batch
}

// StartStep transitions a ready step to in progress.
func (x *Planner) StartStep(plan *ExecutionPlan, stepID string) error {
	step, err := plan.step(stepID)
	if err != nil {
		return err
	}
	if step.Status != StepReady {
		return goerr.Wrap(ErrInvalidTransition, "step is not ready",
			goerr.V("step_id", stepID), goerr.V("status", step.Status))
	}
	step.Status = StepInProgress
	return nil
}

// CompleteStep transitions an in-progress step to complete, records its
// result and promotes steps whose dependencies are now satisfied.
func (x *Planner) CompleteStep(plan *ExecutionPlan, stepID string, result map[string]any) error {
	step, err := plan.step(stepID)
	if err != nil {
		return err
	}
	if step.Status != StepInProgress {
		return goerr.Wrap(ErrInvalidTransition, "step is not in progress",
			goerr.V("step_id", stepID), goerr.V("status", step.Status))
	}

	step.Status = StepComplete
	step.Result = result
	step.Error = nil
	step.ErrorMsg = ""

	plan.recomputeReady()
	plan.refreshStatus()
	return nil
}

// FailStep records a step failure. While the retry budget lasts the step
// returns to pending with its retry count incremented and is re-queued;
// once exhausted the failure is final and every transitive dependent is
// skipped. Two causes bypass the retry budget: ErrUpstreamFailure marks the
// step skipped instead of failed, and ErrCyclicDependency fails it
// immediately since retrying would rebuild the same cycle.
func (x *Planner) FailStep(plan *ExecutionPlan, stepID string, cause error) error {
	step, err := plan.step(stepID)
	if err != nil {
		return err
	}
	if step.Status != StepInProgress {
		return goerr.Wrap(ErrInvalidTransition, "step is not in progress",
			goerr.V("step_id", stepID), goerr.V("status", step.Status))
	}

	step.Error = cause
	if cause != nil {
		step.ErrorMsg = cause.Error()
	}

	switch {
	case errors.Is(cause, ErrUpstreamFailure):
		step.Status = StepSkipped
		plan.propagateSkip(stepID)
		plan.refreshStatus()
		return nil

	case errors.Is(cause, ErrCyclicDependency):
		step.Status = StepFailed
		plan.propagateSkip(stepID)
		plan.refreshStatus()
		return nil
	}

	if step.RetryCount >= x.retryLimit {
		step.Status = StepFailed
		plan.propagateSkip(stepID)
		plan.refreshStatus()
		return nil
	}

	step.RetryCount++
	step.Status = StepPending
	plan.recomputeReady()
	return nil
}

// PlanVersion tags serialized plan snapshots.
const PlanVersion = 1

// planData is the serializable form of a plan.
type planData struct {
	Version         int         `json:"version"`
	ID              string      `json:"id"`
	TaskDescription string      `json:"task_description"`
	Steps           []*PlanStep `json:"steps"`
	Status          PlanStatus  `json:"status"`
}

// Serialize serializes the plan to JSON.
func (p *ExecutionPlan) Serialize() ([]byte, error) {
	return json.Marshal(p)
}

// MarshalJSON implements json.Marshaler for ExecutionPlan.
func (p *ExecutionPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planData{
		Version:         PlanVersion,
		ID:              p.id,
		TaskDescription: p.taskDescription,
		Steps:           p.steps,
		Status:          p.status,
	})
}

// UnmarshalJSON implements json.Unmarshaler for ExecutionPlan.
func (p *ExecutionPlan) UnmarshalJSON(data []byte) error {
	var pd planData
	if err := json.Unmarshal(data, &pd); err != nil {
		return goerr.Wrap(err, "failed to unmarshal plan data")
	}
	if pd.Version != PlanVersion {
		return goerr.Wrap(ErrInvalidPlanData, "plan version mismatch",
			goerr.V("expected", PlanVersion), goerr.V("actual", pd.Version))
	}

	p.id = pd.ID
	p.taskDescription = pd.TaskDescription
	p.steps = pd.Steps
	p.status = pd.Status
	p.reindex()
	return nil
}

// RestorePlan rebuilds a plan from a serialized snapshot.
func RestorePlan(data []byte) (*ExecutionPlan, error) {
	var plan ExecutionPlan
	if err := plan.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &plan, nil
}
