package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/orbitlabs/orbit/runtime/catalog"
	"github.com/orbitlabs/orbit/runtime/trigger"
)

type fakeSingleResult struct {
	doc any
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	raw, err := bson.Marshal(r.doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, val)
}

type fakeCursor struct {
	docs []any
	pos  int
}

func (c *fakeCursor) Close(context.Context) error { return nil }
func (c *fakeCursor) Err() error                  { return nil }

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	raw, err := bson.Marshal(c.docs[c.pos-1])
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, val)
}

type fakeCollection struct {
	findOneFilter any
	findOneDoc    any
	findOneErr    error

	findFilter any
	findOpts   []options.Lister[options.FindOptions]
	findDocs   []any

	inserted []any

	replaceFilter  any
	replacement    any
	replaceMatched int64

	deleteOneFilter  any
	deleteOneCount   int64
	deleteManyFilter any

	countFilter any
	count       int64

	indexModels []mongo.IndexModel
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	f.findOneFilter = filter
	return fakeSingleResult{doc: f.findOneDoc, err: f.findOneErr}
}

func (f *fakeCollection) Find(_ context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	f.findFilter = filter
	f.findOpts = opts
	return &fakeCursor{docs: f.findDocs}, nil
}

func (f *fakeCollection) InsertOne(_ context.Context, document any, _ ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error) {
	f.inserted = append(f.inserted, document)
	return &mongo.InsertOneResult{}, nil
}

func (f *fakeCollection) ReplaceOne(_ context.Context, filter any, replacement any, _ ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error) {
	f.replaceFilter = filter
	f.replacement = replacement
	return &mongo.UpdateResult{MatchedCount: f.replaceMatched}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...options.Lister[options.DeleteOneOptions]) (*mongo.DeleteResult, error) {
	f.deleteOneFilter = filter
	return &mongo.DeleteResult{DeletedCount: f.deleteOneCount}, nil
}

func (f *fakeCollection) DeleteMany(_ context.Context, filter any, _ ...options.Lister[options.DeleteManyOptions]) (*mongo.DeleteResult, error) {
	f.deleteManyFilter = filter
	return &mongo.DeleteResult{}, nil
}

func (f *fakeCollection) CountDocuments(_ context.Context, filter any, _ ...options.Lister[options.CountOptions]) (int64, error) {
	f.countFilter = filter
	return f.count, nil
}

func (f *fakeCollection) Indexes() indexView { return f }

func (f *fakeCollection) CreateOne(_ context.Context, model mongo.IndexModel, _ ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	f.indexModels = append(f.indexModels, model)
	return "", nil
}

func storeFixture() (*TriggerStore, *fakeCollection, *fakeCollection) {
	triggers := &fakeCollection{}
	executions := &fakeCollection{}
	store := &TriggerStore{triggers: triggers, executions: executions, timeout: time.Second}
	return store, triggers, executions
}

func sampleTrigger() trigger.Trigger {
	next := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return trigger.Trigger{
		ID:        "trg-1",
		Type:      trigger.TypeCron,
		Name:      "daily report",
		AgentID:   "agent-1",
		IsActive:  true,
		CreatedBy: "user-1",
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Cron: &trigger.CronSpec{
			Expression:  "0 9 * * *",
			Timezone:    "UTC",
			NextRunTime: &next,
		},
	}
}

func TestGetRoundTripsTriggerDocument(t *testing.T) {
	store, triggers, _ := storeFixture()
	triggers.findOneDoc = sampleTrigger()

	got, err := store.Get(context.Background(), "trg-1")
	require.NoError(t, err)
	assert.Equal(t, bson.M{"_id": "trg-1"}, triggers.findOneFilter)
	assert.Equal(t, sampleTrigger(), got)
}

func TestGetMapsMissingToNotFound(t *testing.T) {
	store, triggers, _ := storeFixture()
	triggers.findOneErr = mongo.ErrNoDocuments

	_, err := store.Get(context.Background(), "trg-1")
	require.ErrorIs(t, err, trigger.ErrNotFound)
}

func TestGetByWebhookIDFiltersOnEmbeddedField(t *testing.T) {
	store, triggers, _ := storeFixture()
	hooked := sampleTrigger()
	hooked.Type = trigger.TypeWebhook
	hooked.Cron = nil
	hooked.Webhook = &trigger.WebhookSpec{
		WebhookID:      "abc123",
		AllowedMethods: []string{"POST"},
		Kind:           trigger.WebhookGeneric,
	}
	triggers.findOneDoc = hooked

	got, err := store.GetByWebhookID(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, bson.M{"webhook.webhook_id": "abc123"}, triggers.findOneFilter)
	require.NotNil(t, got.Webhook)
	assert.Equal(t, "abc123", got.Webhook.WebhookID)
}

func TestUpdateReportsNotFound(t *testing.T) {
	store, triggers, _ := storeFixture()
	triggers.replaceMatched = 0

	err := store.Update(context.Background(), sampleTrigger())
	require.ErrorIs(t, err, trigger.ErrNotFound)

	triggers.replaceMatched = 1
	require.NoError(t, store.Update(context.Background(), sampleTrigger()))
	assert.Equal(t, bson.M{"_id": "trg-1"}, triggers.replaceFilter)
}

func TestDeleteCascadesExecutions(t *testing.T) {
	store, triggers, executions := storeFixture()
	triggers.deleteOneCount = 1

	require.NoError(t, store.Delete(context.Background(), "trg-1"))
	assert.Equal(t, bson.M{"_id": "trg-1"}, triggers.deleteOneFilter)
	assert.Equal(t, bson.M{"trigger_id": "trg-1"}, executions.deleteManyFilter)
}

func TestDeleteMissingTrigger(t *testing.T) {
	store, triggers, executions := storeFixture()
	triggers.deleteOneCount = 0

	err := store.Delete(context.Background(), "trg-1")
	require.ErrorIs(t, err, trigger.ErrNotFound)
	assert.Nil(t, executions.deleteManyFilter)
}

func TestListActiveFilters(t *testing.T) {
	store, triggers, _ := storeFixture()
	triggers.findDocs = []any{sampleTrigger()}

	out, err := store.ListActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bson.M{"is_active": true}, triggers.findFilter)
	require.Len(t, out, 1)
	assert.Equal(t, "trg-1", out[0].ID)
}

func TestCountExecutionsSinceBuildsRangeFilter(t *testing.T) {
	store, _, executions := storeFixture()
	executions.count = 3

	since := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	n, err := store.CountExecutionsSince(context.Background(), "trg-1", since)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, bson.M{
		"trigger_id":  "trg-1",
		"executed_at": bson.M{"$gte": since},
	}, executions.countFilter)
}

func TestListExecutionsDecodesNewestFirst(t *testing.T) {
	store, _, executions := storeFixture()
	executions.findDocs = []any{
		trigger.Execution{ID: "exe-2", TriggerID: "trg-1", Status: trigger.ExecutionSuccess,
			ExecutedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)},
		trigger.Execution{ID: "exe-1", TriggerID: "trg-1", Status: trigger.ExecutionFailed,
			ErrorMessage: "boom",
			ExecutedAt:   time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)},
	}

	out, err := store.ListExecutions(context.Background(), "trg-1", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "exe-2", out[0].ID)
	assert.Equal(t, trigger.ExecutionFailed, out[1].Status)
	assert.NotEmpty(t, executions.findOpts, "sort and limit options are applied")
}

func TestInsertRequiresIDs(t *testing.T) {
	store, triggers, executions := storeFixture()

	require.Error(t, store.Insert(context.Background(), trigger.Trigger{}))
	assert.Empty(t, triggers.inserted)

	require.Error(t, store.InsertExecution(context.Background(), trigger.Execution{ID: "exe-1"}))
	assert.Empty(t, executions.inserted)

	require.NoError(t, store.InsertExecution(context.Background(), trigger.Execution{
		ID: "exe-1", TriggerID: "trg-1", Status: trigger.ExecutionSuccess, ExecutedAt: time.Now().UTC(),
	}))
	assert.Len(t, executions.inserted, 1)
}

func TestCatalogLookupAgent(t *testing.T) {
	agents := &fakeCollection{}
	store := &CatalogStore{agents: agents, timeout: time.Second}
	agents.findOneDoc = catalog.AgentConfig{
		ID:      "agent-1",
		Name:    "researcher",
		ModelID: "claude-sonnet-4",
		ToolsConfig: catalog.ToolsConfig{
			ServerInstanceIDs: []string{"srv-1"},
		},
	}

	cfg, err := store.LookupAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, bson.M{"_id": "agent-1"}, agents.findOneFilter)
	assert.Equal(t, "researcher", cfg.Name)
	assert.Equal(t, []string{"srv-1"}, cfg.ToolsConfig.ServerInstanceIDs)

	agents.findOneErr = mongo.ErrNoDocuments
	_, err = store.LookupAgent(context.Background(), "agent-2")
	require.ErrorIs(t, err, catalog.ErrAgentNotFound)
}

func TestCatalogUpsertValidates(t *testing.T) {
	agents := &fakeCollection{}
	store := &CatalogStore{agents: agents, timeout: time.Second}

	err := store.UpsertAgent(context.Background(), catalog.AgentConfig{ID: "agent-1"})
	require.Error(t, err)

	require.NoError(t, store.UpsertAgent(context.Background(), catalog.AgentConfig{
		ID: "agent-1", Name: "researcher", ModelID: "claude-sonnet-4",
	}))
	assert.Equal(t, bson.M{"_id": "agent-1"}, agents.replaceFilter)
}

func TestDecodeErrorPropagates(t *testing.T) {
	store, triggers, _ := storeFixture()
	triggers.findOneErr = errors.New("network down")

	_, err := store.Get(context.Background(), "trg-1")
	require.ErrorContains(t, err, "network down")
}
