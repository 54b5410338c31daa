package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func NewLocalClient(path string, args ...string) *Client {
	return &Client{
		path:    path,
		args:    args,
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
}

func (c *Client) Start(ctx context.Context) error {
	return c.start(ctx)
}

func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

var (
	ToolToSpec              = toolToSpec
	PropertyToParameter     = propertyToParameter
	ContentToMap            = contentToMap
	InputSchemaToParameters = inputSchemaToParameters
)
