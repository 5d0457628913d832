package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/orbitlabs/orbit/features/stream/pulse/clients/pulse"
	"github.com/orbitlabs/orbit/runtime/agent/events"
)

// SubscriberOptions configures a Pulse-backed event subscriber.
type SubscriberOptions struct {
	// Client is the Pulse client used to consume events. Required.
	Client clientspulse.Client
	// SinkName identifies the consumer group. Defaults to "orbit_subscriber".
	SinkName string
	// Buffer is the event channel capacity. Defaults to 64.
	Buffer int
}

// Subscriber reads the progress events of one task from its Pulse stream.
type Subscriber struct {
	client clientspulse.Client
	name   string
	buffer int
}

// NewSubscriber validates the options and builds a subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "orbit_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscriber{client: opts.Client, name: name, buffer: buffer}, nil
}

// Subscribe opens a consumer group on the task's stream and returns channels
// for decoded events and errors. The cancel function stops consumption and
// closes both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	taskID string,
	opts ...streamopts.Sink,
) (<-chan events.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(StreamName(taskID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	out := make(chan events.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, out, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, errs, cancelFunc, nil
}

// consume reads from the sink, decodes payloads, and acks after emission.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- events.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			var decoded events.Event
			if err := json.Unmarshal(evt.Payload, &decoded); err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}
