// Package planning holds the prompt contract shared by the LLM-backed
// planning services. Every provider asks its model to call the same
// propose_plan tool; the packages under this directory only differ in how
// they encode that tool for their API.
package planning

import (
	"fmt"
	"slices"
	"strings"

	"github.com/m-mizutani/karakuri"
)

// ToolName is the tool through which the model returns its plan.
const ToolName = "propose_plan"

// ToolDescription is the description attached to the propose_plan tool.
const ToolDescription = "Submit the execution plan for the task"

// Instructions is the base system prompt for plan generation.
const Instructions = `You are the planning engine of an autonomous agent.
Decompose the given task into concrete steps executable with the available tools.

Rules:
- Use only the tools listed in the request. Never invent tools.
- Each step holds one or more tool operations that run concurrently.
- Declare ordering with depends_on, a list of zero-based indexes of earlier steps. Steps without dependencies start immediately, in parallel.
- Mark a step critical when the task cannot succeed without it.
- A step may have no operations when it only joins its dependencies.
- Always respond by calling the propose_plan tool.`

// TaskPrompt renders the task, the tool inventory and the accumulated
// knowledge into a single user message.
func TaskPrompt(req *karakuri.ProposalRequest) string {
	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(req.TaskDescription)

	b.WriteString("\n\nAvailable tools:\n")
	for _, spec := range req.Tools {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		for name, param := range spec.Parameters {
			required := ""
			if slices.Contains(spec.Required, name) {
				required = ", required"
			}
			fmt.Fprintf(&b, "    %s (%s%s): %s\n", name, param.Type, required, param.Description)
		}
	}

	if len(req.Knowledge) > 0 {
		b.WriteString("\nKnowledge from earlier activity:\n")
		for _, knowledge := range req.Knowledge {
			fmt.Fprintf(&b, "- %s\n", knowledge)
		}
	}

	return b.String()
}

// Schema returns the JSON schema of the propose_plan tool input as a
// generic map. It mirrors karakuri.StepProposal so the tool call
// arguments unmarshal into it directly.
func Schema() map[string]any {
	operation := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool": map[string]any{
				"type":        "string",
				"description": "Name of the tool to invoke",
			},
			"arguments": map[string]any{
				"type":        "object",
				"description": "Arguments passed to the tool",
			},
		},
		"required": []string{"tool"},
	}

	step := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "What this step accomplishes",
			},
			"operations": map[string]any{
				"type":        "array",
				"description": "Tool operations of this step, executed concurrently",
				"items":       operation,
			},
			"depends_on": map[string]any{
				"type":        "array",
				"description": "Zero-based indexes of steps that must complete before this one",
				"items":       map[string]any{"type": "integer"},
			},
			"critical": map[string]any{
				"type":        "boolean",
				"description": "True when the task fails if this step fails",
			},
		},
		"required": []string{"description"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"steps": map[string]any{
				"type":        "array",
				"description": "Steps of the proposed plan, in index order",
				"items":       step,
			},
		},
		"required": []string{"steps"},
	}
}
