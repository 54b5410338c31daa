package karakuri

import (
	"github.com/google/uuid"
)

// Operation is one unit of work submitted to the scheduler: a single tool
// invocation with its arguments and dependency edges. Operations are derived
// from plan steps but carry their own edges; a step may fan out into several
// operations that the scheduler is free to run concurrently.
type Operation struct {
	ID        string
	Tool      string
	Arguments map[string]any

	// DependsOn lists operation IDs that must succeed before this operation
	// starts. When no operation in a batch declares edges, the scheduler
	// infers them (see InferDependencies).
	DependsOn []string

	// Produces and Mutates are the dependency-inference declarations, copied
	// from the tool spec when the operation is built.
	Produces []string
	Mutates  []string

	// StepID is the plan step this operation belongs to. Empty for operations
	// submitted directly to the scheduler.
	StepID string
}

// NewOperation creates an operation for the named tool with a fresh ID.
func NewOperation(tool string, args map[string]any) *Operation {
	return &Operation{
		ID:        uuid.New().String(),
		Tool:      tool,
		Arguments: args,
	}
}

// OutcomeStatus is the terminal status of one operation.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the per-operation result of a batch execution. Exactly one
// outcome exists per submitted operation. Errors of failed operations are
// carried here, never returned from ExecuteBatch itself: a tool failure is
// data, not a scheduler failure.
type Outcome struct {
	OpID   string
	Status OutcomeStatus

	// Result is the tool's return value for successful operations.
	Result map[string]any

	// Err is set for failed operations. A timeout is reported as
	// ErrOperationTimeout, distinct from errors the tool returned.
	Err error

	// Reason describes why a skipped operation was not attempted.
	Reason string
}

// InferDependencies derives dependency edges for a batch of operations that
// declared none. The result maps an operation ID to the IDs it depends on.
// Implementations must not introduce cycles.
type InferDependencies func(ops []*Operation) map[string][]string

// DefaultInferDependencies connects operations by data flow and by shared
// mutated resources. An operation depends on an earlier one when its argument
// keys or string argument values reference an output key the earlier one
// produces, or when both mutate the same named resource. Edges only ever
// point to earlier batch positions, so the result is acyclic by
// construction. Operations with no such relation stay independent regardless
// of batch order.
func DefaultInferDependencies(ops []*Operation) map[string][]string {
	edges := make(map[string][]string, len(ops))

	producers := map[string][]int{}
	for i, op := range ops {
		for _, key := range op.Produces {
			producers[key] = append(producers[key], i)
		}
	}

	lastMutator := map[string]int{}

	for i, op := range ops {
		seen := map[string]bool{}
		addEdge := func(j int) {
			depID := ops[j].ID
			if depID == op.ID || seen[depID] {
				return
			}
			seen[depID] = true
			edges[op.ID] = append(edges[op.ID], depID)
		}

		for _, ref := range referencedNames(op.Arguments) {
			for _, j := range producers[ref] {
				if j < i {
					addEdge(j)
				}
			}
		}

		for _, resource := range op.Mutates {
			if j, ok := lastMutator[resource]; ok && j < i {
				addEdge(j)
			}
			lastMutator[resource] = i
		}
	}

	return edges
}

// referencedNames collects argument keys and string values, walking nested
// maps and arrays. These are the names an operation can use to refer to
// another operation's output.
func referencedNames(args map[string]any) []string {
	var names []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			names = append(names, t)
		case map[string]any:
			for k, e := range t {
				names = append(names, k)
				walk(e)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	for k, v := range args {
		names = append(names, k)
		walk(v)
	}
	return names
}
