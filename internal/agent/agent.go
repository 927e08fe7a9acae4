package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/muhtesem-assistant/internal/config"
	"github.com/comigor/muhtesem-assistant/internal/llm"
	"github.com/comigor/muhtesem-assistant/internal/logger"
	"github.com/comigor/muhtesem-assistant/pkg/tools"
)

var (
	// ErrMisconfigured is returned by OpenSession when no model or credentials are set.
	ErrMisconfigured = errors.New("agent: language model is not configured")
	// ErrEmptyResponse is returned when the model answers without any choice.
	ErrEmptyResponse = errors.New("agent: model returned no choices")
	// ErrMaxToolRounds is returned when retrieval tool calls never settle into an answer.
	ErrMaxToolRounds = errors.New("agent: exceeded maximum tool rounds")
)

const defaultMaxToolRounds = 5

// Agent is the gateway to the hosted language model. It owns the retrieval
// capabilities discovered from MCP servers and opens chat sessions.
type Agent struct {
	llmClient     llm.Client
	cfg           config.LLMConfig
	maxToolRounds int
	mcpClients    []tools.MCPClient
	retrieval     *tools.ToolManager
}

// New creates an agent and connects every configured MCP server. Servers that
// cannot be started or initialized are logged and skipped.
func New(llmClient llm.Client, appCfg config.Config) *Agent {
	a := &Agent{
		llmClient:     llmClient,
		cfg:           appCfg.LLM,
		maxToolRounds: appCfg.Chat.MaxToolRounds,
		retrieval:     tools.NewToolManager(),
	}
	if a.maxToolRounds <= 0 {
		a.maxToolRounds = defaultMaxToolRounds
	}

	ctx := context.Background()
	for _, serverCfg := range appCfg.MCPServers {
		mcpC, err := newMCPClient(ctx, serverCfg)
		if err != nil {
			logger.L.Error("failed to create MCP client", "name", serverCfg.Name, "error", err)
			continue
		}
		if err := a.AddMCPServer(ctx, serverCfg.Name, mcpC); err != nil {
			logger.L.Error("failed to initialize MCP client", "name", serverCfg.Name, "error", err)
			if cerr := mcpC.Close(); cerr != nil {
				logger.L.Warn("MCP client close error after init failure", "error", cerr)
			}
		}
	}

	if len(appCfg.MCPServers) > 0 && len(a.mcpClients) == 0 {
		logger.L.Warn("no MCP clients were initialized despite servers configured", "configured", len(appCfg.MCPServers))
	}
	return a
}

func newMCPClient(ctx context.Context, serverCfg config.MCPServerConfig) (*client.Client, error) {
	var (
		mcpC *client.Client
		err  error
	)
	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var sseOpts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			sseOpts = append(sseOpts, transport.WithHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(serverCfg.URL, sseOpts...)
	case config.ClientTypeStreamableHTTP:
		var httpOpts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			httpOpts = append(httpOpts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(serverCfg.URL, httpOpts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		// stdio clients are started by the constructor
		return client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q (want sse, streamable_http or stdio)", serverCfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := mcpC.Start(ctx); err != nil {
		if cerr := mcpC.Close(); cerr != nil {
			logger.L.Warn("MCP client close error after start failure", "error", cerr)
		}
		return nil, fmt.Errorf("start transport: %w", err)
	}
	return mcpC, nil
}

// AddMCPServer initializes an MCP client and registers its tools as
// retrieval capabilities. A tool name already taken by another server is
// skipped.
func (a *Agent) AddMCPServer(ctx context.Context, name string, c tools.MCPClient) error {
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{Capabilities: mcp.ClientCapabilities{}},
	}); err != nil {
		return err
	}
	a.mcpClients = append(a.mcpClients, c)
	logger.L.Info("MCP server initialized", "name", name)

	serverTools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		// keep the client; it may still be useful once tools show up
		logger.L.Warn("failed to list tools for MCP client", "name", name, "error", err)
		return nil
	}
	for _, t := range serverTools.Tools {
		if err := a.retrieval.RegisterTool(tools.NewMCPTool(name, t, c)); err != nil {
			logger.L.Warn("tool from MCP server already registered, skipping", "tool", t.Name, "name", name)
			continue
		}
		logger.L.Info("registered retrieval tool", "tool", t.Name, "name", name)
	}
	return nil
}

// RetrievalTools lists the server-side tools every session is given.
func (a *Agent) RetrievalTools() []tools.Tool { return a.retrieval.List() }

// Close shuts down every MCP client.
func (a *Agent) Close() error {
	var errs []error
	for _, c := range a.mcpClients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.mcpClients = nil
	return errors.Join(errs...)
}

// SessionOptions configures a chat session at creation time.
type SessionOptions struct {
	SystemInstruction string
	// Tools are declared before the retrieval capabilities. Tools without a
	// Run method are client actions and are handed back in Response.FunctionCalls.
	Tools []tools.Tool
}

// OpenSession creates a chat session. The instruction and tool list are
// fixed for the lifetime of the session.
func (a *Agent) OpenSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if a.cfg.Model == "" || a.cfg.APIKey == "" {
		return nil, ErrMisconfigured
	}

	manager := tools.NewToolManager()
	for _, t := range opts.Tools {
		if err := manager.RegisterTool(t); err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
	}
	for _, t := range a.retrieval.List() {
		if err := manager.RegisterTool(t); err != nil {
			logger.FromContext(ctx).Warn("retrieval tool shadowed by session tool", "tool", t.Name())
		}
	}

	s := newSession(a.llmClient, a.cfg.Model, a.maxToolRounds, manager, opts.SystemInstruction)
	logger.FromContext(ctx).Debug("chat session opened", "model", a.cfg.Model, "tools", manager.Len())
	return s, nil
}
