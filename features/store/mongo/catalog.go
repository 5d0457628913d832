package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"

	"github.com/orbitlabs/orbit/runtime/catalog"
)

const (
	defaultAgentsCollection = "agents"
	catalogStoreName        = "catalog-mongo"
)

// CatalogStoreOptions configures the Mongo agent catalogue.
type CatalogStoreOptions struct {
	// Client is the Mongo client. Required.
	Client *mongo.Client
	// Database is the database name. Required.
	Database string
	// AgentsCollection defaults to "agents".
	AgentsCollection string
	// Timeout bounds individual operations; defaults to 5s.
	Timeout time.Duration
}

// CatalogStore implements catalog.Store on MongoDB.
type CatalogStore struct {
	mongo   *mongo.Client
	agents  collection
	timeout time.Duration
}

// NewCatalogStore validates the options, ensures the indexes, and returns the
// store.
func NewCatalogStore(opts CatalogStoreOptions) (*CatalogStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	agentsName := opts.AgentsCollection
	if agentsName == "" {
		agentsName = defaultAgentsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	agents := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(agentsName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	nameIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := agents.Indexes().CreateOne(ctx, nameIndex); err != nil {
		return nil, fmt.Errorf("create agent index: %w", err)
	}
	return &CatalogStore{mongo: opts.Client, agents: agents, timeout: timeout}, nil
}

// Name identifies the store to health checks.
func (s *CatalogStore) Name() string {
	return catalogStoreName
}

// Ping reports whether the primary is reachable.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// LookupAgent returns the configuration for agentID or catalog.ErrAgentNotFound.
func (s *CatalogStore) LookupAgent(ctx context.Context, agentID string) (catalog.AgentConfig, error) {
	if agentID == "" {
		return catalog.AgentConfig{}, errors.New("agent id is required")
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var cfg catalog.AgentConfig
	if err := s.agents.FindOne(ctx, bson.M{"_id": agentID}).Decode(&cfg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return catalog.AgentConfig{}, catalog.ErrAgentNotFound
		}
		return catalog.AgentConfig{}, err
	}
	return cfg, nil
}

// UpsertAgent inserts or replaces one agent configuration. Used by seeding and
// admin tooling; the execution path only reads.
func (s *CatalogStore) UpsertAgent(ctx context.Context, cfg catalog.AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.agents.ReplaceOne(ctx, bson.M{"_id": cfg.ID}, cfg,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", cfg.ID, err)
	}
	return nil
}

var (
	_ catalog.Store = (*CatalogStore)(nil)
	_ health.Pinger = (*CatalogStore)(nil)
)
