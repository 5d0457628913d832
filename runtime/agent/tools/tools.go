// Package tools defines the tool-server collaborator contracts: descriptors
// for discovered tools and the executor invoked by activities. Records are
// plain data so they can cross the activity boundary.
package tools

import "context"

// Descriptor describes one tool exposed by a tool server.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is the JSON-schema object describing the tool arguments.
	Parameters map[string]any `json:"parameters,omitempty"`
	// ServerInstanceID identifies the tool-server instance that owns the tool.
	ServerInstanceID string `json:"server_instance_id,omitempty"`
}

// Result is the outcome of a single tool invocation.
type Result struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	// ExecutionTime is the server-reported wall time, when available.
	ExecutionTime string `json:"execution_time,omitempty"`
}

// Request identifies the tool to invoke and its decoded arguments.
type Request struct {
	Name             string         `json:"name"`
	Arguments        map[string]any `json:"arguments,omitempty"`
	ServerInstanceID string         `json:"server_instance_id,omitempty"`
}

// Executor invokes tools on external tool servers. Implementations live under
// features/tools and are only ever invoked from activities.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Discoverer enumerates the tools available from the configured tool servers.
type Discoverer interface {
	Discover(ctx context.Context, serverInstanceIDs []string) ([]Descriptor, error)
}
