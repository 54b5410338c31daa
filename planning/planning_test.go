package planning_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/planning"
)

func TestTaskPrompt(t *testing.T) {
	prompt := planning.TaskPrompt(&karakuri.ProposalRequest{
		TaskDescription: "summarize example.com",
		Tools: []karakuri.ToolSpec{
			{
				Name:        "fetch_page",
				Description: "Fetch a web page",
				Parameters: map[string]*karakuri.Parameter{
					"url": {Type: karakuri.TypeString, Description: "Page URL"},
				},
				Required: []string{"url"},
			},
		},
		Knowledge: []string{"the user prefers brevity"},
	})

	gt.S(t, prompt).Contains("summarize example.com")
	gt.S(t, prompt).Contains("fetch_page: Fetch a web page")
	gt.S(t, prompt).Contains("url (string, required): Page URL")
	gt.S(t, prompt).Contains("the user prefers brevity")
}

func TestTaskPromptWithoutKnowledge(t *testing.T) {
	prompt := planning.TaskPrompt(&karakuri.ProposalRequest{
		TaskDescription: "just think",
	})
	gt.S(t, prompt).Contains("just think")
	gt.True(t, !strings.Contains(prompt, "Knowledge from earlier activity"))
}

func TestSchema(t *testing.T) {
	schema := planning.Schema()
	gt.Equal(t, schema["type"], "object")

	props, ok := schema["properties"].(map[string]any)
	gt.True(t, ok)
	steps, ok := props["steps"].(map[string]any)
	gt.True(t, ok)
	gt.Equal(t, steps["type"], "array")

	step, ok := steps["items"].(map[string]any)
	gt.True(t, ok)
	stepProps, ok := step["properties"].(map[string]any)
	gt.True(t, ok)
	for _, key := range []string{"description", "operations", "depends_on", "critical"} {
		gt.NotNil(t, stepProps[key])
	}
}
