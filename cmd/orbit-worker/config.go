package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orbitlabs/orbit/features/tools/mcp"
	"github.com/orbitlabs/orbit/runtime/trigger/conditions"
)

// Config is the worker process configuration, loaded from YAML. Credentials
// never live here; they resolve from the environment.
type Config struct {
	Temporal TemporalConfig `yaml:"temporal"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Models   ModelsConfig   `yaml:"models"`
	Events   EventsConfig   `yaml:"events"`
	Triggers TriggersConfig `yaml:"triggers"`
	Worker   WorkerConfig   `yaml:"worker"`

	// ToolServers maps MCP server instance ids to connection configs.
	ToolServers map[string]mcp.ServerConfig `yaml:"tool_servers"`
}

type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type ModelsConfig struct {
	// OpenAIModel is the default model for the OpenAI adapter; empty disables
	// the provider.
	OpenAIModel string `yaml:"openai_model"`
	// AnthropicModel is the default model for the Anthropic adapter; empty
	// disables the provider.
	AnthropicModel string `yaml:"anthropic_model"`
	// ConditionModel judges LLM trigger conditions; empty disables the LLM
	// condition evaluator.
	ConditionModel string `yaml:"condition_model"`
}

type EventsConfig struct {
	// RateLimit caps published events per second; zero disables shedding.
	RateLimit float64 `yaml:"rate_limit"`
	// StreamMaxLen bounds entries kept per task stream.
	StreamMaxLen int `yaml:"stream_max_len"`
}

type TriggersConfig struct {
	// ConditionPolicy is "fail_open" (default) or "fail_closed".
	ConditionPolicy string `yaml:"condition_policy"`
}

type WorkerConfig struct {
	MaxConcurrentActivities int `yaml:"max_concurrent_activities"`
	// DefaultBudgetUSD applies to trigger-started tasks.
	DefaultBudgetUSD float64 `yaml:"default_budget_usd"`
	// DefaultMaxIterations bounds trigger-started tasks.
	DefaultMaxIterations int `yaml:"default_max_iterations"`
}

// LoadConfig reads and validates the YAML config at path.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = "localhost:7233"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "orbit"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Triggers.ConditionPolicy == "" {
		c.Triggers.ConditionPolicy = "fail_open"
	}
}

func (c Config) validate() error {
	if c.Models.OpenAIModel == "" && c.Models.AnthropicModel == "" {
		return errors.New("at least one model provider must be configured")
	}
	switch c.Triggers.ConditionPolicy {
	case "fail_open", "fail_closed":
	default:
		return fmt.Errorf("unknown condition policy %q", c.Triggers.ConditionPolicy)
	}
	return nil
}

func (c Config) conditionPolicy() conditions.FailurePolicy {
	if c.Triggers.ConditionPolicy == "fail_closed" {
		return conditions.FailClosed
	}
	return conditions.FailOpen
}
