package claude

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/planning"
)

// generationParameters represents the parameters for plan generation.
type generationParameters struct {
	// Temperature controls randomness in the output.
	// Higher values make proposals more varied, lower values make them more focused.
	Temperature float64

	// TopP controls diversity via nucleus sampling.
	// Higher values allow more diverse outputs.
	TopP float64

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int64
}

// Client is a planning service backed by the Claude API.
// It requests step proposals through a forced tool call so the response is
// always structured data rather than free text.
type Client struct {
	// client is the underlying Claude client.
	client *anthropic.Client

	// defaultModel is the model to use for plan generation.
	// It can be overridden using WithModel option.
	defaultModel string

	// systemPrompt is appended to the built-in planning instructions.
	systemPrompt string

	// generation parameters
	params generationParameters
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithModel sets the model to use for plan generation.
// The model name should be a valid Claude model identifier.
// Default: anthropic.ModelClaudeSonnet4_5_20250929
func WithModel(modelName string) Option {
	return func(c *Client) {
		c.defaultModel = modelName
	}
}

// WithSystemPrompt appends extra instructions to the planning prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		c.systemPrompt = prompt
	}
}

// WithTemperature sets the temperature parameter for plan generation.
// Higher values make the output more random, lower values make it more focused.
// Range: 0.0 to 1.0
// Default: 0.7
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithTopP sets the top_p parameter for plan generation.
// Controls diversity via nucleus sampling.
// Range: 0.0 to 1.0
// Default: 1.0
func WithTopP(topP float64) Option {
	return func(c *Client) {
		c.params.TopP = topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
// Default: 4096
func WithMaxTokens(maxTokens int64) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

// New creates a new planning service for the Claude API.
// It requires an API key and can be configured with additional options.
func New(ctx context.Context, apiKey string, options ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("api key is required")
	}

	client := &Client{
		defaultModel: string(anthropic.ModelClaudeSonnet4_5_20250929),
		params: generationParameters{
			Temperature: 0.7,
			TopP:        1.0,
			MaxTokens:   4096,
		},
	}

	for _, opt := range options {
		opt(client)
	}

	newClient := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	client.client = &newClient

	return client, nil
}

// ProposeSteps asks Claude to decompose a task into executable steps.
func (c *Client) ProposeSteps(ctx context.Context, req *karakuri.ProposalRequest) (*karakuri.StepProposal, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.defaultModel),
		MaxTokens:   c.params.MaxTokens,
		Temperature: anthropic.Float(c.params.Temperature),
		TopP:        anthropic.Float(c.params.TopP),
		System:      c.createSystemPrompt(),
		Tools:       []anthropic.ToolUnionParam{proposalTool()},
		ToolChoice:  anthropic.ToolChoiceParamOfTool(planning.ToolName),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(planning.TaskPrompt(req))),
		},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create message")
	}

	for _, content := range resp.Content {
		if content.Type != "tool_use" || content.Name != planning.ToolName {
			continue
		}

		var proposal karakuri.StepProposal
		if err := json.Unmarshal(content.Input, &proposal); err != nil {
			return nil, goerr.Wrap(karakuri.ErrInvalidProposal, "failed to unmarshal step proposal",
				goerr.V("input", string(content.Input)))
		}
		return &proposal, nil
	}

	return nil, goerr.Wrap(karakuri.ErrInvalidProposal, "no step proposal in response",
		goerr.V("stop_reason", string(resp.StopReason)))
}

// createSystemPrompt assembles the system instructions for plan generation.
func (c *Client) createSystemPrompt() []anthropic.TextBlockParam {
	prompt := planning.Instructions
	if c.systemPrompt != "" {
		prompt = prompt + "\n\n" + c.systemPrompt
	}
	return []anthropic.TextBlockParam{{Text: prompt}}
}

// proposalTool encodes the propose_plan tool for the Messages API.
func proposalTool() anthropic.ToolUnionParam {
	schema := planning.Schema()
	inputSchema := anthropic.ToolInputSchemaParam{
		Properties: schema["properties"],
		ExtraFields: map[string]any{
			"required": schema["required"],
		},
	}

	tool := anthropic.ToolUnionParamOfTool(inputSchema, planning.ToolName)
	if tool.OfTool != nil {
		tool.OfTool.Description = anthropic.String(planning.ToolDescription)
	}
	return tool
}
