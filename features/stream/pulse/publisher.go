// Package pulse publishes workflow progress events to goa.design/pulse
// streams backed by Redis. Each task gets its own stream so consumers can
// follow one execution without filtering a shared firehose.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	clientspulse "github.com/orbitlabs/orbit/features/stream/pulse/clients/pulse"
	"github.com/orbitlabs/orbit/runtime/agent/events"
	"github.com/orbitlabs/orbit/telemetry"
)

// streamPrefix namespaces per-task streams in Redis.
const streamPrefix = "task/"

// StreamName returns the Pulse stream holding the events of one task.
func StreamName(taskID string) string {
	return streamPrefix + taskID
}

// PublisherOptions configures the Pulse-backed event publisher.
type PublisherOptions struct {
	// Client is the Pulse client used to publish. Required.
	Client clientspulse.Client
	// RateLimit caps published events per second across all tasks; zero
	// disables shedding.
	RateLimit rate.Limit
	// RateBurst is the limiter burst; defaults to 32 when RateLimit is set.
	RateBurst int
	// Logger defaults to a noop.
	Logger telemetry.Logger
	// Metrics defaults to a noop.
	Metrics telemetry.Metrics
}

// Publisher implements events.Publisher over Pulse streams. Delivery is best
// effort: events over the rate limit are dropped and counted rather than
// blocking the publish activity.
type Publisher struct {
	client  clientspulse.Client
	limiter *rate.Limiter
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// NewPublisher validates the options and builds a publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 32
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return &Publisher{
		client:  opts.Client,
		limiter: limiter,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Publish appends each event to its task's stream. Events missing a task id
// or rejected by the limiter are dropped; transport failures surface so the
// caller can decide whether to retry.
func (p *Publisher) Publish(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, ev := range batch {
		taskID, _ := ev.Data["task_id"].(string)
		if taskID == "" {
			p.logger.Warn(ctx, "event dropped: no task id", "event_type", ev.Type)
			p.metrics.IncCounter("events_dropped", 1, "reason", "missing_task_id")
			continue
		}
		if p.limiter != nil && !p.limiter.Allow() {
			p.logger.Warn(ctx, "event dropped: rate limited",
				"event_type", ev.Type, "task_id", taskID)
			p.metrics.IncCounter("events_dropped", 1, "reason", "rate_limited")
			continue
		}
		if err := p.publishOne(ctx, taskID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publishOne(ctx context.Context, taskID string, ev events.Event) error {
	stream, err := p.client.Stream(StreamName(taskID))
	if err != nil {
		return fmt.Errorf("open stream for task %s: %w", taskID, err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	if _, err := stream.Add(ctx, string(ev.Type), payload); err != nil {
		return fmt.Errorf("publish event %s for task %s: %w", ev.ID, taskID, err)
	}
	p.metrics.IncCounter("events_published", 1, "event_type", string(ev.Type))
	return nil
}

// Close delegates to the Pulse client.
func (p *Publisher) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

var _ events.Publisher = (*Publisher)(nil)
