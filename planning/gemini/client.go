package gemini

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/vertexai/genai"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/planning"
	"google.golang.org/api/option"
)

// DefaultModel is the model used when WithModel is not given.
const DefaultModel = "gemini-2.0-flash"

// generationParameters represents the parameters for plan generation.
type generationParameters struct {
	// Temperature controls randomness in the output.
	// Higher values make proposals more varied, lower values make them more focused.
	Temperature float32

	// TopP controls diversity via nucleus sampling.
	// Higher values allow more diverse outputs.
	TopP float32

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int32
}

// Client is a planning service backed by Gemini on Vertex AI.
// It requests step proposals through a forced function call so the response
// is always structured data rather than free text.
type Client struct {
	projectID string
	location  string

	// client is the underlying Vertex AI client.
	client *genai.Client

	// defaultModel is the model to use for plan generation.
	// It can be overridden using WithModel option.
	defaultModel string

	// gcpOptions are additional options for Google Cloud Platform.
	// They can be set using WithGoogleCloudOptions.
	gcpOptions []option.ClientOption

	// systemPrompt is appended to the built-in planning instructions.
	systemPrompt string

	// generation parameters
	params generationParameters
}

// Option is a configuration option for the Gemini client.
type Option func(*Client)

// WithModel sets the model to use for plan generation.
// See default model in [DefaultModel].
func WithModel(modelName string) Option {
	return func(c *Client) {
		c.defaultModel = modelName
	}
}

// WithGoogleCloudOptions sets additional Google Cloud options.
// These can include authentication credentials, endpoint overrides, etc.
func WithGoogleCloudOptions(opts ...option.ClientOption) Option {
	return func(c *Client) {
		c.gcpOptions = append(c.gcpOptions, opts...)
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
// Range: 0.0 to 2.0
// Default: 0.7
func WithTemperature(temp float32) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithTopP sets the top_p parameter for plan generation.
// Controls diversity via nucleus sampling.
// Range: 0.0 to 1.0
// Default: 1.0
func WithTopP(topP float32) Option {
	return func(c *Client) {
		c.params.TopP = topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
// Default: 4096
func WithMaxTokens(maxTokens int32) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

// New creates a new planning service for Gemini on Vertex AI.
// It requires a project ID and location, and can be configured with
// additional options.
func New(ctx context.Context, projectID, location string, options ...Option) (*Client, error) {
	if projectID == "" {
		return nil, goerr.New("projectID is required")
	}
	if location == "" {
		return nil, goerr.New("location is required")
	}

	client := &Client{
		projectID:    projectID,
		location:     location,
		defaultModel: DefaultModel,
		params: generationParameters{
			Temperature: 0.7,
			TopP:        1.0,
			MaxTokens:   4096,
		},
	}

	for _, opt := range options {
		opt(client)
	}

	newClient, err := genai.NewClient(ctx, projectID, location, client.gcpOptions...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Vertex AI client")
	}
	client.client = newClient

	return client, nil
}

// Close releases the underlying Vertex AI connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// ProposeSteps asks Gemini to decompose a task into executable steps.
func (c *Client) ProposeSteps(ctx context.Context, req *karakuri.ProposalRequest) (*karakuri.StepProposal, error) {
	systemPrompt := planning.Instructions
	if c.systemPrompt != "" {
		systemPrompt = systemPrompt + "\n\n" + c.systemPrompt
	}

	model := c.client.GenerativeModel(c.defaultModel)
	model.SetTemperature(c.params.Temperature)
	model.SetTopP(c.params.TopP)
	model.SetMaxOutputTokens(c.params.MaxTokens)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.Tools = []*genai.Tool{proposalTool()}
	model.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingAny,
			AllowedFunctionNames: []string{planning.ToolName},
		},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(planning.TaskPrompt(req)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			fc, ok := part.(genai.FunctionCall)
			if !ok || fc.Name != planning.ToolName {
				continue
			}

			data, err := json.Marshal(fc.Args)
			if err != nil {
				return nil, goerr.Wrap(karakuri.ErrInvalidProposal, "failed to marshal function call arguments")
			}
			var proposal karakuri.StepProposal
			if err := json.Unmarshal(data, &proposal); err != nil {
				return nil, goerr.Wrap(karakuri.ErrInvalidProposal, "failed to unmarshal step proposal",
					goerr.V("arguments", fc.Args))
			}
			return &proposal, nil
		}
	}

	return nil, goerr.Wrap(karakuri.ErrInvalidProposal, "no step proposal in response")
}

// proposalTool encodes the propose_plan tool as a Vertex AI function
// declaration. The schema is typed, unlike the generic map the other
// providers accept, so it is rebuilt here from the shared contract.
func proposalTool() *genai.Tool {
	operation := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"tool": {
				Type:        genai.TypeString,
				Description: "Name of the tool to invoke",
			},
			"arguments": {
				Type:        genai.TypeObject,
				Description: "Arguments passed to the tool",
			},
		},
		Required: []string{"tool"},
	}

	step := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"description": {
				Type:        genai.TypeString,
				Description: "What this step accomplishes",
			},
			"operations": {
				Type:        genai.TypeArray,
				Description: "Tool operations of this step, executed concurrently",
				Items:       operation,
			},
			"depends_on": {
				Type:        genai.TypeArray,
				Description: "Zero-based indexes of steps that must complete before this one",
				Items:       &genai.Schema{Type: genai.TypeInteger},
			},
			"critical": {
				Type:        genai.TypeBoolean,
				Description: "True when the task fails if this step fails",
			},
		},
		Required: []string{"description"},
	}

	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        planning.ToolName,
			Description: planning.ToolDescription,
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"steps": {
						Type:        genai.TypeArray,
						Description: "Steps of the proposed plan, in index order",
						Items:       step,
					},
				},
				Required: []string{"steps"},
			},
		}},
	}
}
