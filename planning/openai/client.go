package openai

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/planning"
	"github.com/sashabaranov/go-openai"
)

// DefaultModel is the model used when WithModel is not given.
const DefaultModel = "gpt-5"

// generationParameters represents the parameters for plan generation.
type generationParameters struct {
	// Temperature controls randomness in the output.
	// Higher values make proposals more varied, lower values make them more focused.
	Temperature float32

	// TopP controls diversity via nucleus sampling.
	// Higher values allow more diverse outputs.
	TopP float32

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int
}

// Client is a planning service backed by the OpenAI API.
// It requests step proposals through a forced function call so the response
// is always structured data rather than free text.
type Client struct {
	// client is the underlying OpenAI client.
	client *openai.Client

	// defaultModel is the model to use for plan generation.
	// It can be overridden using WithModel option.
	defaultModel string

	// baseURL is the custom base URL for the OpenAI API.
	// If empty, uses the default OpenAI API endpoints.
	baseURL string

	// systemPrompt is appended to the built-in planning instructions.
	systemPrompt string

	// generation parameters
	params generationParameters
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithModel sets the model to use for plan generation.
// The model name should be a valid OpenAI model identifier.
// See default model in [DefaultModel].
func WithModel(modelName string) Option {
	return func(c *Client) {
		c.defaultModel = modelName
	}
}

// WithBaseURL sets the custom base URL for the OpenAI API.
// Allows usage with compatible endpoints, proxies, or self-hosted instances.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
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
func WithTemperature(temp float32) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithTopP sets the top_p parameter for plan generation.
// Controls diversity via nucleus sampling.
func WithTopP(topP float32) Option {
	return func(c *Client) {
		c.params.TopP = topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

// New creates a new planning service for the OpenAI API.
// It requires an API key and can be configured with additional options.
func New(ctx context.Context, apiKey string, options ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("api key is required")
	}

	client := &Client{
		defaultModel: DefaultModel,
		params: generationParameters{
			Temperature: 0.7,
			TopP:        1.0,
		},
	}

	for _, opt := range options {
		opt(client)
	}

	config := openai.DefaultConfig(apiKey)
	if client.baseURL != "" {
		config.BaseURL = client.baseURL
	}
	client.client = openai.NewClientWithConfig(config)

	return client, nil
}

// ProposeSteps asks an OpenAI model to decompose a task into executable steps.
func (c *Client) ProposeSteps(ctx context.Context, req *karakuri.ProposalRequest) (*karakuri.StepProposal, error) {
	systemPrompt := planning.Instructions
	if c.systemPrompt != "" {
		systemPrompt = systemPrompt + "\n\n" + c.systemPrompt
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.defaultModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: planning.TaskPrompt(req),
			},
		},
		Tools: []openai.Tool{proposalTool()},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: planning.ToolName},
		},
		Temperature: c.params.Temperature,
		TopP:        c.params.TopP,
		MaxTokens:   c.params.MaxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat completion")
	}

	if len(resp.Choices) == 0 {
		return nil, goerr.Wrap(karakuri.ErrInvalidProposal, "no choices in response")
	}

	for _, toolCall := range resp.Choices[0].Message.ToolCalls {
		if toolCall.Function.Name != planning.ToolName {
			continue
		}

		var proposal karakuri.StepProposal
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &proposal); err != nil {
			return nil, goerr.Wrap(karakuri.ErrInvalidProposal, "failed to unmarshal step proposal",
				goerr.V("arguments", toolCall.Function.Arguments))
		}
		return &proposal, nil
	}

	return nil, goerr.Wrap(karakuri.ErrInvalidProposal, "no step proposal in response",
		goerr.V("finish_reason", string(resp.Choices[0].FinishReason)))
}

// proposalTool encodes the propose_plan tool for the chat completions API.
func proposalTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        planning.ToolName,
			Description: planning.ToolDescription,
			Parameters:  planning.Schema(),
		},
	}
}
