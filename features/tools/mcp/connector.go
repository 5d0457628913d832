// Package mcp connects the tool collaborator contracts to MCP (Model Context
// Protocol) servers using github.com/mark3labs/mcp-go. A Connector resolves
// server instance ids to live sessions, enumerates their tools, and dispatches
// tool calls. Sessions are established lazily and reused across calls.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orbitlabs/orbit/runtime/agent/tools"
	"github.com/orbitlabs/orbit/telemetry"
)

const (
	clientName      = "orbit"
	clientVersion   = "1.0.0"
	protocolVersion = "2024-11-05"
)

// ErrUnknownServer is returned when no server config exists for an instance id.
var ErrUnknownServer = errors.New("unknown tool server instance")

// Transport names the wire transport of one MCP server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig describes how to reach one MCP server instance.
type ServerConfig struct {
	// Transport selects the connection strategy; empty defaults to stdio when
	// Command is set and streamable-http otherwise.
	Transport Transport `json:"transport,omitempty" yaml:"transport,omitempty"`
	// URL is the server endpoint for HTTP transports.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Command launches a subprocess for the stdio transport.
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

func (c ServerConfig) transport() Transport {
	if c.Transport != "" {
		return c.Transport
	}
	if c.Command != "" {
		return TransportStdio
	}
	return TransportStreamableHTTP
}

// Session is the subset of the mcp-go client used by the connector. It is
// satisfied by *client.Client.
type Session interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens an uninitialized session for one server config. The connector
// drives Initialize itself.
type Dialer func(ctx context.Context, cfg ServerConfig) (Session, error)

// Options configures a Connector.
type Options struct {
	// Servers maps server instance ids to their connection configs. Required.
	Servers map[string]ServerConfig
	// Dial overrides the transport-selecting default dialer; used in tests.
	Dial Dialer
	// Logger defaults to a noop.
	Logger telemetry.Logger
}

// Connector implements tools.Executor and tools.Discoverer over MCP sessions.
type Connector struct {
	servers map[string]ServerConfig
	dial    Dialer
	logger  telemetry.Logger

	mu       sync.Mutex
	sessions map[string]Session
}

// NewConnector builds a connector over the configured server instances. No
// connections are opened until a tool call or discovery needs one; an empty
// server map is valid and simply resolves no instance ids.
func NewConnector(opts Options) (*Connector, error) {
	if opts.Servers == nil {
		opts.Servers = map[string]ServerConfig{}
	}
	if opts.Dial == nil {
		opts.Dial = dialTransport
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Connector{
		servers:  opts.Servers,
		dial:     opts.Dial,
		logger:   opts.Logger,
		sessions: make(map[string]Session),
	}, nil
}

// dialTransport opens an mcp-go client for the configured transport.
func dialTransport(ctx context.Context, cfg ServerConfig) (Session, error) {
	var (
		c   *client.Client
		err error
	)
	switch cfg.transport() {
	case TransportStdio:
		c, err = client.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
	case TransportSSE:
		c, err = client.NewSSEMCPClient(cfg.URL)
	case TransportStreamableHTTP:
		c, err = client.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// session returns the live session for the instance id, connecting and
// initializing one if needed.
func (c *Connector) session(ctx context.Context, instanceID string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[instanceID]; ok {
		return s, nil
	}
	cfg, ok := c.servers[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, instanceID)
	}
	s, err := c.dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to tool server %s: %w", instanceID, err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := s.Initialize(ctx, initReq); err != nil {
		s.Close()
		return nil, fmt.Errorf("initialize tool server %s: %w", instanceID, err)
	}
	c.logger.Info(ctx, "tool server connected", "server_instance_id", instanceID)
	c.sessions[instanceID] = s
	return s, nil
}

// Discover lists the tools of every requested server instance. A server that
// cannot be reached fails the whole discovery so the caller can retry; partial
// tool lists would silently narrow what the agent can do.
func (c *Connector) Discover(ctx context.Context, serverInstanceIDs []string) ([]tools.Descriptor, error) {
	var out []tools.Descriptor
	for _, id := range serverInstanceIDs {
		s, err := c.session(ctx, id)
		if err != nil {
			return nil, err
		}
		resp, err := s.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			c.evict(id, s)
			return nil, fmt.Errorf("list tools on server %s: %w", id, err)
		}
		for _, t := range resp.Tools {
			out = append(out, tools.Descriptor{
				Name:             t.Name,
				Description:      t.Description,
				Parameters:       schemaMap(t.InputSchema),
				ServerInstanceID: id,
			})
		}
	}
	return out, nil
}

// Execute dispatches one tool call to its server instance. Protocol-level
// tool errors come back as an unsuccessful Result rather than an error so the
// reasoning loop can feed them to the model.
func (c *Connector) Execute(ctx context.Context, req tools.Request) (tools.Result, error) {
	s, err := c.session(ctx, req.ServerInstanceID)
	if err != nil {
		return tools.Result{}, err
	}
	call := mcp.CallToolRequest{}
	call.Params.Name = req.Name
	call.Params.Arguments = req.Arguments

	started := time.Now()
	resp, err := s.CallTool(ctx, call)
	elapsed := time.Since(started)
	if err != nil {
		c.evict(req.ServerInstanceID, s)
		return tools.Result{}, fmt.Errorf("call tool %s on server %s: %w", req.Name, req.ServerInstanceID, err)
	}
	res := tools.Result{
		Success:       !resp.IsError,
		Result:        textContent(resp.Content),
		ExecutionTime: elapsed.String(),
	}
	if !res.Success && res.Result == "" {
		res.Result = "tool reported an error without detail"
	}
	return res, nil
}

// evict drops a session whose transport failed so the next call reconnects.
func (c *Connector) evict(instanceID string, s Session) {
	c.mu.Lock()
	if c.sessions[instanceID] == s {
		delete(c.sessions, instanceID)
	}
	c.mu.Unlock()
	s.Close()
}

// Close shuts down every live session.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for id, s := range c.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
		delete(c.sessions, id)
	}
	return errors.Join(errs...)
}

func textContent(content []mcp.Content) string {
	var texts []string
	for _, block := range content {
		if tc, ok := block.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func schemaMap(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

var (
	_ tools.Executor   = (*Connector)(nil)
	_ tools.Discoverer = (*Connector)(nil)
)
