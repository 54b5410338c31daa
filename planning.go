package karakuri

import "context"

// ProposalRequest carries everything a planning service needs to break a
// task into steps: the task itself, the tool inventory it may draw on, and
// any knowledge digests accumulated from earlier activity.
type ProposalRequest struct {
	TaskDescription string
	Tools           []ToolSpec
	Knowledge       []string
}

// ProposedStep is one step of a proposal. DependsOn holds zero-based indices
// into the same proposal's step list; the planner converts them into step
// IDs and validates that they form a DAG.
type ProposedStep struct {
	Description string          `json:"description"`
	Operations  []StepOperation `json:"operations,omitempty"`
	DependsOn   []int           `json:"depends_on,omitempty"`
	Critical    bool            `json:"critical,omitempty"`
}

// StepProposal is the planning service's answer to a proposal request.
type StepProposal struct {
	Steps []ProposedStep `json:"steps"`
}

// PlanningService produces step proposals for tasks. Implementations are
// expected to be stateless between calls; the planner passes the full
// request context every time. The planner calls ProposeSteps exactly once
// per plan and never retries it on its own.
type PlanningService interface {
	ProposeSteps(ctx context.Context, req *ProposalRequest) (*StepProposal, error)
}
