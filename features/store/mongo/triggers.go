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

	"github.com/orbitlabs/orbit/runtime/trigger"
)

const (
	defaultTriggersCollection   = "triggers"
	defaultExecutionsCollection = "trigger_executions"
	triggerStoreName            = "trigger-mongo"
)

// TriggerStoreOptions configures the Mongo trigger store.
type TriggerStoreOptions struct {
	// Client is the Mongo client. Required.
	Client *mongo.Client
	// Database is the database name. Required.
	Database string
	// TriggersCollection defaults to "triggers".
	TriggersCollection string
	// ExecutionsCollection defaults to "trigger_executions".
	ExecutionsCollection string
	// Timeout bounds individual operations; defaults to 5s.
	Timeout time.Duration
}

// TriggerStore implements trigger.Store on MongoDB. Trigger and execution
// records carry their own bson tags, so documents persist without a mapping
// layer.
type TriggerStore struct {
	mongo      *mongo.Client
	triggers   collection
	executions collection
	timeout    time.Duration
}

// NewTriggerStore validates the options, ensures the indexes, and returns the
// store.
func NewTriggerStore(opts TriggerStoreOptions) (*TriggerStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	triggersName := opts.TriggersCollection
	if triggersName == "" {
		triggersName = defaultTriggersCollection
	}
	executionsName := opts.ExecutionsCollection
	if executionsName == "" {
		executionsName = defaultExecutionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	triggers := mongoCollection{coll: db.Collection(triggersName)}
	executions := mongoCollection{coll: db.Collection(executionsName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureTriggerIndexes(ctx, triggers, executions); err != nil {
		return nil, err
	}
	return &TriggerStore{
		mongo:      opts.Client,
		triggers:   triggers,
		executions: executions,
		timeout:    timeout,
	}, nil
}

func ensureTriggerIndexes(ctx context.Context, triggers, executions collection) error {
	models := []struct {
		coll  collection
		model mongo.IndexModel
	}{
		{triggers, mongo.IndexModel{
			Keys: bson.D{{Key: "is_active", Value: 1}},
		}},
		{triggers, mongo.IndexModel{
			Keys:    bson.D{{Key: "webhook.webhook_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		}},
		{executions, mongo.IndexModel{
			Keys: bson.D{{Key: "trigger_id", Value: 1}, {Key: "executed_at", Value: -1}},
		}},
		{executions, mongo.IndexModel{
			Keys: bson.D{{Key: "status", Value: 1}},
		}},
	}
	for _, m := range models {
		if _, err := m.coll.Indexes().CreateOne(ctx, m.model); err != nil {
			return fmt.Errorf("create trigger index: %w", err)
		}
	}
	return nil
}

// Name identifies the store to health checks.
func (s *TriggerStore) Name() string {
	return triggerStoreName
}

// Ping reports whether the primary is reachable.
func (s *TriggerStore) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Insert persists a new trigger record.
func (s *TriggerStore) Insert(ctx context.Context, t trigger.Trigger) error {
	if t.ID == "" {
		return errors.New("trigger id is required")
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.triggers.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("insert trigger %s: %w", t.ID, err)
	}
	return nil
}

// Get returns the trigger for id or trigger.ErrNotFound.
func (s *TriggerStore) Get(ctx context.Context, id string) (trigger.Trigger, error) {
	if id == "" {
		return trigger.Trigger{}, errors.New("trigger id is required")
	}
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByWebhookID resolves a webhook trigger by its public webhook id.
func (s *TriggerStore) GetByWebhookID(ctx context.Context, webhookID string) (trigger.Trigger, error) {
	if webhookID == "" {
		return trigger.Trigger{}, errors.New("webhook id is required")
	}
	return s.findOne(ctx, bson.M{"webhook.webhook_id": webhookID})
}

func (s *TriggerStore) findOne(ctx context.Context, filter bson.M) (trigger.Trigger, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var t trigger.Trigger
	if err := s.triggers.FindOne(ctx, filter).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return trigger.Trigger{}, trigger.ErrNotFound
		}
		return trigger.Trigger{}, err
	}
	return t, nil
}

// Update replaces the stored record; trigger.ErrNotFound when absent.
func (s *TriggerStore) Update(ctx context.Context, t trigger.Trigger) error {
	if t.ID == "" {
		return errors.New("trigger id is required")
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.triggers.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return fmt.Errorf("update trigger %s: %w", t.ID, err)
	}
	if res.MatchedCount == 0 {
		return trigger.ErrNotFound
	}
	return nil
}

// Delete removes the trigger and cascade-deletes its execution records.
func (s *TriggerStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("trigger id is required")
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.triggers.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete trigger %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return trigger.ErrNotFound
	}
	if _, err := s.executions.DeleteMany(ctx, bson.M{"trigger_id": id}); err != nil {
		return fmt.Errorf("delete executions of trigger %s: %w", id, err)
	}
	return nil
}

// ListActive returns every trigger with is_active set.
func (s *TriggerStore) ListActive(ctx context.Context) ([]trigger.Trigger, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.triggers.Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []trigger.Trigger
	for cur.Next(ctx) {
		var t trigger.Trigger
		if err := cur.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertExecution appends one execution record.
func (s *TriggerStore) InsertExecution(ctx context.Context, e trigger.Execution) error {
	if e.ID == "" {
		return errors.New("execution id is required")
	}
	if e.TriggerID == "" {
		return errors.New("trigger id is required")
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.executions.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("insert execution %s: %w", e.ID, err)
	}
	return nil
}

// CountExecutionsSince counts the trigger's executions at or after since.
func (s *TriggerStore) CountExecutionsSince(ctx context.Context, triggerID string, since time.Time) (int64, error) {
	if triggerID == "" {
		return 0, errors.New("trigger id is required")
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	filter := bson.M{
		"trigger_id":  triggerID,
		"executed_at": bson.M{"$gte": since.UTC()},
	}
	return s.executions.CountDocuments(ctx, filter)
}

// ListExecutions returns the trigger's most recent executions, newest first.
func (s *TriggerStore) ListExecutions(ctx context.Context, triggerID string, limit int) ([]trigger.Execution, error) {
	if triggerID == "" {
		return nil, errors.New("trigger id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.executions.Find(ctx, bson.M{"trigger_id": triggerID},
		options.Find().SetSort(bson.D{{Key: "executed_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []trigger.Execution
	for cur.Next(ctx) {
		var e trigger.Execution
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	_ trigger.Store = (*TriggerStore)(nil)
	_ health.Pinger = (*TriggerStore)(nil)
)
