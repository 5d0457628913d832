// Command orbit-worker hosts the Temporal workers for agent executions and
// trigger executions. It wires the Mongo stores, the Pulse event publisher,
// the model provider adapters, and the MCP tool connector into the activity
// implementations and runs both task queues until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	temporalworker "go.temporal.io/sdk/worker"
	"goa.design/clue/log"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/time/rate"

	"github.com/orbitlabs/orbit/features/model/anthropic"
	"github.com/orbitlabs/orbit/features/model/openai"
	"github.com/orbitlabs/orbit/features/model/router"
	mongostore "github.com/orbitlabs/orbit/features/store/mongo"
	"github.com/orbitlabs/orbit/features/stream/pulse"
	clientspulse "github.com/orbitlabs/orbit/features/stream/pulse/clients/pulse"
	"github.com/orbitlabs/orbit/features/tools/mcp"
	"github.com/orbitlabs/orbit/runtime/agent/activities"
	"github.com/orbitlabs/orbit/runtime/agent/model"
	"github.com/orbitlabs/orbit/runtime/secrets"
	"github.com/orbitlabs/orbit/runtime/trigger"
	"github.com/orbitlabs/orbit/runtime/trigger/conditions"
	triggerexec "github.com/orbitlabs/orbit/runtime/trigger/execution"
	"github.com/orbitlabs/orbit/runtime/worker"
	"github.com/orbitlabs/orbit/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the worker config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Optional .env bootstrap for local development.
	_ = godotenv.Load()

	logOpts := []log.LogOption{log.WithFormat(log.FormatJSON)}
	if *debug {
		logOpts = append(logOpts, log.WithDebug())
	}
	ctx := log.Context(context.Background(), logOpts...)

	if err := run(ctx, *configPath); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "worker exited"})
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	resolver := secrets.Env{}

	mongoClient, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()

	triggerStore, err := mongostore.NewTriggerStore(mongostore.TriggerStoreOptions{
		Client:   mongoClient,
		Database: cfg.Mongo.Database,
	})
	if err != nil {
		return fmt.Errorf("build trigger store: %w", err)
	}
	catalogStore, err := mongostore.NewCatalogStore(mongostore.CatalogStoreOptions{
		Client:   mongoClient,
		Database: cfg.Mongo.Database,
	})
	if err != nil {
		return fmt.Errorf("build catalog store: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: optionalSecret(ctx, resolver, "redis_password"),
	})
	defer func() {
		_ = redisClient.Close()
	}()
	pulseClient, err := clientspulse.New(clientspulse.Options{
		Redis:        redisClient,
		StreamMaxLen: cfg.Events.StreamMaxLen,
	})
	if err != nil {
		return fmt.Errorf("build pulse client: %w", err)
	}
	publisher, err := pulse.NewPublisher(pulse.PublisherOptions{
		Client:    pulseClient,
		RateLimit: rate.Limit(cfg.Events.RateLimit),
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("build event publisher: %w", err)
	}

	modelClient, err := buildModelRouter(ctx, cfg, resolver)
	if err != nil {
		return err
	}

	connector, err := mcp.NewConnector(mcp.Options{
		Servers: cfg.ToolServers,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build mcp connector: %w", err)
	}
	defer func() {
		_ = connector.Close()
	}()

	agentActivities, err := activities.New(activities.Deps{
		Model:     modelClient,
		Executor:  connector,
		Discovery: connector,
		Catalog:   catalogStore,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("build agent activities: %w", err)
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer temporalClient.Close()

	starter, err := worker.NewTaskStarter(worker.TaskStarterOptions{
		Client:                 temporalClient,
		Logger:                 logger,
		BudgetUSD:              cfg.Worker.DefaultBudgetUSD,
		MaxReasoningIterations: cfg.Worker.DefaultMaxIterations,
	})
	if err != nil {
		return fmt.Errorf("build task starter: %w", err)
	}

	chain, err := buildConditionChain(cfg, modelClient, logger)
	if err != nil {
		return err
	}
	schedules, err := trigger.NewTemporalSchedules(trigger.TemporalSchedulesOptions{
		Client:       temporalClient,
		WorkflowName: triggerexec.WorkflowName,
		TaskQueue:    triggerexec.TaskQueue,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("build schedule manager: %w", err)
	}
	triggerService, err := trigger.NewService(trigger.ServiceOptions{
		Store:      triggerStore,
		Schedules:  schedules,
		Conditions: chain,
		Tasks:      starter,
		Catalog:    catalogStore,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("build trigger service: %w", err)
	}
	triggerActivities, err := triggerexec.NewActivities(triggerexec.ActivitiesOptions{
		Service: triggerService,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build trigger activities: %w", err)
	}

	w, err := worker.New(worker.Options{
		Client:                  temporalClient,
		AgentActivities:         agentActivities,
		TriggerActivities:       triggerActivities,
		Logger:                  logger,
		MaxConcurrentActivities: cfg.Worker.MaxConcurrentActivities,
	})
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}
	logger.Info(ctx, "orbit worker starting",
		"temporal", cfg.Temporal.HostPort,
		"namespace", cfg.Temporal.Namespace,
		"mongo_db", cfg.Mongo.Database)
	return w.Run(temporalworker.InterruptCh())
}

// buildModelRouter assembles the provider adapters that have both a
// configured model and a resolvable API key.
func buildModelRouter(ctx context.Context, cfg Config, resolver secrets.Resolver) (model.Client, error) {
	var (
		routes []router.Route
		def    model.Client
	)
	if cfg.Models.AnthropicModel != "" {
		key, err := resolver.Resolve(ctx, "anthropic_api_key")
		if err != nil {
			return nil, fmt.Errorf("anthropic provider configured: %w", err)
		}
		c, err := anthropic.NewFromAPIKey(key, cfg.Models.AnthropicModel)
		if err != nil {
			return nil, fmt.Errorf("build anthropic client: %w", err)
		}
		routes = append(routes, router.Route{Prefix: "claude-", Client: c})
		def = c
	}
	if cfg.Models.OpenAIModel != "" {
		key, err := resolver.Resolve(ctx, "openai_api_key")
		if err != nil {
			return nil, fmt.Errorf("openai provider configured: %w", err)
		}
		c, err := openai.NewFromAPIKey(key, cfg.Models.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("build openai client: %w", err)
		}
		routes = append(routes, router.Route{Prefix: "gpt-", Client: c})
		def = c
	}
	return router.New(router.Options{Routes: routes, Default: def})
}

// buildConditionChain layers the optional LLM condition judge over the rule
// evaluator with the configured failure policy.
func buildConditionChain(cfg Config, modelClient model.Client, logger telemetry.Logger) (conditions.Evaluator, error) {
	var primary conditions.Evaluator
	if cfg.Models.ConditionModel != "" {
		llm, err := conditions.NewLLM(conditions.LLMOptions{
			Client:  modelClient,
			ModelID: cfg.Models.ConditionModel,
		})
		if err != nil {
			return nil, fmt.Errorf("build condition evaluator: %w", err)
		}
		primary = llm
	}
	return conditions.NewChain(conditions.ChainOptions{
		Primary: primary,
		Policy:  cfg.conditionPolicy(),
		Logger:  logger,
	}), nil
}

// optionalSecret resolves a secret that may legitimately be absent.
func optionalSecret(ctx context.Context, resolver secrets.Resolver, name string) string {
	val, err := resolver.Resolve(ctx, name)
	if err != nil {
		return ""
	}
	return val
}
