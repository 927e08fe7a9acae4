package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// MCPClient is the part of an mcp-go client needed to discover and call tools.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPTool is a retrieval tool served by an MCP server, e.g. web or maps search.
type MCPTool struct {
	server string
	tool   mcp.Tool
	client MCPClient
}

// NewMCPTool binds a discovered tool to the client that serves it.
func NewMCPTool(server string, tool mcp.Tool, client MCPClient) *MCPTool {
	return &MCPTool{server: server, tool: tool, client: client}
}

// Name returns the name of the tool
func (t *MCPTool) Name() string { return t.tool.Name }

// Description returns the description of the tool
func (t *MCPTool) Description() string { return t.tool.Description }

// Server names the MCP server the tool came from.
func (t *MCPTool) Server() string { return t.server }

// Parameters prefers the raw schema sent by the server and falls back to the
// structured one, then to an empty object schema.
func (t *MCPTool) Parameters() json.RawMessage {
	if len(t.tool.RawInputSchema) > 0 && string(t.tool.RawInputSchema) != "null" {
		return t.tool.RawInputSchema
	}
	if t.tool.InputSchema.Type == "" {
		return emptySchema
	}
	b, err := json.Marshal(t.tool.InputSchema)
	if err != nil {
		return emptySchema
	}
	return b
}

// Run calls the tool and returns its first text content. Tool-level errors
// (IsError) are returned as text so the model can read them.
func (t *MCPTool) Run(ctx context.Context, args string) (string, error) {
	var toolArgs map[string]any
	if args != "" {
		if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
			return "", fmt.Errorf("parse arguments for %s: %w", t.tool.Name, err)
		}
	}

	res, err := t.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: t.tool.Name, Arguments: toolArgs},
	})
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", t.tool.Name, t.server, err)
	}
	if res == nil {
		return "", fmt.Errorf("call %s on %s: empty result", t.tool.Name, t.server)
	}

	for _, c := range res.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text, nil
		}
	}
	if res.IsError {
		return "Tool execution resulted in an error without specific text.", nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "Tool executed successfully, but result could not be formatted.", nil
	}
	return string(b), nil
}
