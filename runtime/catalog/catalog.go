// Package catalog defines the agent catalogue records and the lookup
// collaborator used by activities to resolve agent configurations. Catalogue
// records reference tool servers by id only; cross-references are resolved
// through lookups inside activities, never through workflow state.
package catalog

import (
	"context"
	"errors"
	"fmt"
)

// ErrAgentNotFound is returned when the catalogue has no agent for the id.
var ErrAgentNotFound = errors.New("agent not found")

// AgentConfig is the persisted configuration of one agent.
type AgentConfig struct {
	ID          string `json:"id" bson:"_id"`
	Name        string `json:"name" bson:"name"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	Instruction string `json:"instruction,omitempty" bson:"instruction,omitempty"`
	ModelID     string `json:"model_id" bson:"model_id"`

	ToolsConfig  ToolsConfig     `json:"tools_config" bson:"tools_config"`
	EventsConfig EventsConfig    `json:"events_config" bson:"events_config"`
	Planning     *PlanningConfig `json:"planning,omitempty" bson:"planning,omitempty"`
}

// ToolsConfig names the tool-server instances an agent may use.
type ToolsConfig struct {
	ServerInstanceIDs []string `json:"server_instance_ids,omitempty" bson:"server_instance_ids,omitempty"`
}

// EventsConfig controls progress event emission for the agent.
type EventsConfig struct {
	// Mode is "immediate" or "batched"; empty defaults to immediate.
	Mode string `json:"mode,omitempty" bson:"mode,omitempty"`
}

// PlanningConfig is the optional planning strategy for the agent.
type PlanningConfig struct {
	Enabled  bool   `json:"enabled" bson:"enabled"`
	Strategy string `json:"strategy,omitempty" bson:"strategy,omitempty"`
}

// Validate checks the fields the execution workflow depends on.
func (c AgentConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent config: id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("agent config: name is required")
	}
	if c.ModelID == "" {
		return fmt.Errorf("agent config: model_id is required")
	}
	return nil
}

// Store resolves agent configurations. Implementations live under
// features/store and are only ever invoked from activities.
type Store interface {
	// LookupAgent returns the configuration for agentID or ErrAgentNotFound.
	LookupAgent(ctx context.Context, agentID string) (AgentConfig, error)
}
