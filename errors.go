package karakuri

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrInvalidTransition is returned when a plan step is moved to a state
	// that is not reachable from its current state. This is a logic error of
	// the caller and aborts the plan.
	ErrInvalidTransition = goerr.New("invalid step transition")

	// ErrCyclicDependency is returned when a batch of operations or a set of
	// plan steps contains a dependency cycle. The batch is rejected before any
	// operation starts.
	ErrCyclicDependency = goerr.New("cyclic dependency")

	// ErrOperationTimeout is the error kind recorded when a single operation
	// exceeds the per-operation timeout. It is distinct from errors returned
	// by the tool itself.
	ErrOperationTimeout = goerr.New("operation timed out")

	// ErrUpstreamFailure is the reason recorded on outcomes and steps that are
	// skipped because a dependency failed. Skipped work is never retried.
	ErrUpstreamFailure = goerr.New("upstream failure")

	// ErrPlanStalled is returned when a plan has no ready steps and nothing in
	// progress while non-terminal steps remain. The task fails.
	ErrPlanStalled = goerr.New("plan stalled")

	// ErrRetentionViolation is returned by Trim when the requested retention
	// would remove events at or after a registered subscriber cursor.
	ErrRetentionViolation = goerr.New("retention violates subscriber cursor")

	// ErrSubscriptionLost signals that a live subscription lost its transport.
	// The loop recovers by re-subscribing from its last cursor.
	ErrSubscriptionLost = goerr.New("subscription lost")

	ErrToolNameConflict  = goerr.New("tool name conflict")
	ErrToolNotFound      = goerr.New("tool not found")
	ErrInvalidTool       = goerr.New("invalid tool specification")
	ErrInvalidParameter  = goerr.New("invalid parameter")
	ErrInvalidProposal   = goerr.New("invalid step proposal")
	ErrInvalidPlanData   = goerr.New("invalid plan data")
	ErrTaskNotFound      = goerr.New("task not found")
	ErrLoopLimitExceeded = goerr.New("loop limit exceeded")
	ErrAgentClosed       = goerr.New("agent closed")
)
