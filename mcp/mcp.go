package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/karakuri"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// DefaultClientName is the client name advertised to MCP servers.
	DefaultClientName = "karakuri"
	// DefaultClientVersion is the client version advertised to MCP servers.
	DefaultClientVersion = "0.0.1"
)

// Client connects to one MCP server and exposes its tools as a
// karakuri.ToolSet. Create it with NewStdio for a local server process or
// NewSSE for a remote server, and close it with Close when the agent stops.
type Client struct {
	// For a local MCP server executable
	path    string
	args    []string
	envVars []string

	// For a remote MCP server
	baseURL string
	headers map[string]string

	name    string
	version string

	client     *client.Client
	initResult *mcp.InitializeResult

	initMutex sync.Mutex
}

// Specs implements karakuri.ToolSet.
func (c *Client) Specs(ctx context.Context) ([]karakuri.ToolSpec, error) {
	tools, err := c.listTools(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tools")
	}

	specs := make([]karakuri.ToolSpec, len(tools))
	toolNames := make([]string, len(tools))

	for i, tool := range tools {
		toolNames[i] = tool.Name

		spec, err := toolToSpec(tool)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert tool to spec", goerr.V("tool.name", tool.Name))
		}
		specs[i] = spec
	}

	karakuri.LoggerFromContext(ctx).Debug("found MCP tools", "names", toolNames)

	return specs, nil
}

// Run implements karakuri.ToolSet. A result with IsError set is returned as
// an error so that the operation records a failure outcome instead of a
// bogus success.
func (c *Client) Run(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	karakuri.LoggerFromContext(ctx).Debug("call MCP tool", "name", name, "args", args)

	resp, err := c.callTool(ctx, name, args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool")
	}

	result := contentToMap(resp.Content)
	if resp.IsError {
		return nil, goerr.New("tool reported error", goerr.V("tool.name", name), goerr.V("result", result))
	}

	return result, nil
}

// StdioOption is the option for the MCP client for local MCP executable server via stdio.
type StdioOption func(*Client)

// WithEnvVars sets the environment variables for the MCP server process. It appends the environment variables to the existing ones.
func WithEnvVars(envVars []string) StdioOption {
	return func(c *Client) {
		c.envVars = append(c.envVars, envVars...)
	}
}

// WithStdioClientInfo sets the client name and version advertised to the MCP server.
func WithStdioClientInfo(name, version string) StdioOption {
	return func(c *Client) {
		c.name = name
		c.version = version
	}
}

// NewStdio creates a new MCP client for a local MCP executable server via stdio.
func NewStdio(ctx context.Context, path string, args []string, options ...StdioOption) (*Client, error) {
	c := &Client{
		path:    path,
		args:    args,
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
	for _, option := range options {
		option(c)
	}

	if err := c.start(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// SSEOption is the option for the MCP client for remote MCP server via HTTP SSE.
type SSEOption func(*Client)

// WithHeaders sets the headers for the MCP client. It replaces the existing headers setting.
func WithHeaders(headers map[string]string) SSEOption {
	return func(c *Client) {
		c.headers = headers
	}
}

// WithSSEClientInfo sets the client name and version advertised to the MCP server.
func WithSSEClientInfo(name, version string) SSEOption {
	return func(c *Client) {
		c.name = name
		c.version = version
	}
}

// NewSSE creates a new MCP client for a remote MCP server via HTTP SSE.
func NewSSE(ctx context.Context, baseURL string, options ...SSEOption) (*Client, error) {
	c := &Client{
		baseURL: baseURL,
		headers: make(map[string]string),
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
	for _, option := range options {
		option(c)
	}

	if err := c.start(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) start(ctx context.Context) error {
	c.initMutex.Lock()
	defer c.initMutex.Unlock()

	if c.initResult != nil {
		return nil
	}

	var tp transport.Interface
	if c.path != "" {
		tp = transport.NewStdio(c.path, c.envVars, c.args...)
	}

	if c.baseURL != "" {
		sse, err := transport.NewSSE(c.baseURL, transport.WithHeaders(c.headers))
		if err != nil {
			return goerr.Wrap(err, "failed to create SSE transport")
		}
		tp = sse
	}

	if tp == nil {
		return goerr.New("no transport")
	}

	c.client = client.NewClient(tp)

	if err := c.client.Start(ctx); err != nil {
		return goerr.Wrap(err, "failed to start MCP client")
	}

	var initRequest mcp.InitializeRequest
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    c.name,
		Version: c.version,
	}

	resp, err := c.client.Initialize(ctx, initRequest)
	if err != nil {
		return goerr.Wrap(err, "failed to initialize MCP client")
	}
	c.initResult = resp

	karakuri.LoggerFromContext(ctx).Debug("MCP client initialized",
		"server.name", resp.ServerInfo.Name,
		"server.version", resp.ServerInfo.Version,
	)

	return nil
}

func (c *Client) listTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.initResult == nil {
		return nil, goerr.New("MCP client not initialized")
	}

	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tools")
	}

	return resp.Tools, nil
}

func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.initResult == nil {
		return nil, goerr.New("MCP client not initialized")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	resp, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool")
	}

	return resp, nil
}

// Close shuts down the session and the underlying transport.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close MCP client")
	}
	return nil
}

func toolToSpec(tool mcp.Tool) (karakuri.ToolSpec, error) {
	parameters, err := inputSchemaToParameters(tool.InputSchema)
	if err != nil {
		return karakuri.ToolSpec{}, err
	}

	return karakuri.ToolSpec{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  parameters,
		Required:    tool.InputSchema.Required,
	}, nil
}

func inputSchemaToParameters(inputSchema mcp.ToolInputSchema) (map[string]*karakuri.Parameter, error) {
	parameters := map[string]*karakuri.Parameter{}

	for name, property := range inputSchema.Properties {
		prop, ok := property.(map[string]any)
		if !ok {
			return nil, goerr.New("invalid property", goerr.V("property", property))
		}

		parameter, err := propertyToParameter(prop)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert property", goerr.V("property.name", name))
		}
		parameters[name] = parameter
	}

	return parameters, nil
}

func propertyToParameter(prop map[string]any) (*karakuri.Parameter, error) {
	var properties map[string]*karakuri.Parameter
	var required []string
	var items *karakuri.Parameter
	propType := valueOrEmpty[string](prop["type"])

	if propType == "object" {
		properties = map[string]*karakuri.Parameter{}

		for k, v := range valueOrEmpty[map[string]any](prop["properties"]) {
			nested, ok := v.(map[string]any)
			if !ok {
				return nil, goerr.New("invalid property", goerr.V("property", v))
			}

			objParam, err := propertyToParameter(nested)
			if err != nil {
				return nil, err
			}
			properties[k] = objParam
		}

		for _, req := range valueOrEmpty[[]any](prop["required"]) {
			if s, ok := req.(string); ok {
				required = append(required, s)
			}
		}
	}

	if propType == "array" {
		itemSchema, ok := prop["items"].(map[string]any)
		if !ok {
			return nil, goerr.New("array property without items", goerr.V("property", prop))
		}

		v, err := propertyToParameter(itemSchema)
		if err != nil {
			return nil, err
		}
		items = v
	}

	var enum []string
	for _, e := range valueOrEmpty[[]any](prop["enum"]) {
		enum = append(enum, fmt.Sprintf("%v", e))
	}

	return &karakuri.Parameter{
		Type:        karakuri.ParameterType(propType),
		Title:       valueOrEmpty[string](prop["title"]),
		Description: valueOrEmpty[string](prop["description"]),
		Required:    required,
		Enum:        enum,
		Properties:  properties,
		Items:       items,
		Minimum:     floatOrNil(prop["minimum"]),
		Maximum:     floatOrNil(prop["maximum"]),
		MinLength:   intOrNil(prop["minLength"]),
		MaxLength:   intOrNil(prop["maxLength"]),
		Pattern:     valueOrEmpty[string](prop["pattern"]),
		MinItems:    intOrNil(prop["minItems"]),
		MaxItems:    intOrNil(prop["maxItems"]),
		Default:     prop["default"],
	}, nil
}

func valueOrEmpty[T any](v any) T {
	var empty T
	if v == nil {
		return empty
	}
	if v, ok := v.(T); ok {
		return v
	}
	return empty
}

// JSON numbers decode as float64.
func floatOrNil(v any) *float64 {
	if f, ok := v.(float64); ok {
		return &f
	}
	return nil
}

func intOrNil(v any) *int {
	if f, ok := v.(float64); ok {
		n := int(f)
		return &n
	}
	return nil
}

func contentToMap(contents []mcp.Content) map[string]any {
	if len(contents) == 0 {
		return nil
	}

	if len(contents) == 1 {
		txt, ok := contents[0].(mcp.TextContent)
		if !ok {
			return nil
		}

		var v any
		if err := json.Unmarshal([]byte(txt.Text), &v); err == nil {
			if mapData, ok := v.(map[string]any); ok {
				return mapData
			}

			return map[string]any{
				"result": v,
			}
		}

		return map[string]any{
			"result": txt.Text,
		}
	}

	result := map[string]any{}
	for i, c := range contents {
		if txt, ok := c.(mcp.TextContent); ok {
			result[fmt.Sprintf("content_%d", i+1)] = txt.Text
		}
	}
	return result
}
