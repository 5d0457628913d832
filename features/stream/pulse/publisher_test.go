package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
	"golang.org/x/time/rate"

	clientspulse "github.com/orbitlabs/orbit/features/stream/pulse/clients/pulse"
	"github.com/orbitlabs/orbit/runtime/agent/events"
)

type fakeClient struct {
	streams map[string]*fakeStream
	err     error
}

func (f *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.streams == nil {
		f.streams = make(map[string]*fakeStream)
	}
	s, ok := f.streams[name]
	if !ok {
		s = &fakeStream{}
		f.streams[name] = s
	}
	return s, nil
}

func (f *fakeClient) Close(context.Context) error { return nil }

type added struct {
	event   string
	payload []byte
}

type fakeStream struct {
	entries []added
	addErr  error
	sink    *fakeSink
}

func (f *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.entries = append(f.entries, added{event: event, payload: payload})
	return "1-0", nil
}

func (f *fakeStream) NewSink(_ context.Context, _ string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	return f.sink, nil
}

func (f *fakeStream) Destroy(context.Context) error { return nil }

type fakeSink struct {
	ch     chan *streaming.Event
	acked  []string
	closed bool
}

func (f *fakeSink) Subscribe() <-chan *streaming.Event { return f.ch }

func (f *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	f.acked = append(f.acked, evt.ID)
	return nil
}

func (f *fakeSink) Close(context.Context) { f.closed = true }

func taskEvent(taskID string, typ events.Type) events.Event {
	return events.Event{
		ID:        "evt-" + taskID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"task_id": taskID, "iteration": 1},
	}
}

func TestNewPublisherRequiresClient(t *testing.T) {
	_, err := NewPublisher(PublisherOptions{})
	require.Error(t, err)
}

func TestPublishRoutesEventsToTaskStreams(t *testing.T) {
	client := &fakeClient{}
	pub, err := NewPublisher(PublisherOptions{Client: client})
	require.NoError(t, err)

	batch := []events.Event{
		taskEvent("task-1", events.IterationStarted),
		taskEvent("task-2", events.WorkflowStarted),
	}
	require.NoError(t, pub.Publish(context.Background(), batch))

	s1 := client.streams[StreamName("task-1")]
	require.NotNil(t, s1)
	require.Len(t, s1.entries, 1)
	assert.Equal(t, string(events.IterationStarted), s1.entries[0].event)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(s1.entries[0].payload, &decoded))
	assert.Equal(t, "evt-task-1", decoded.ID)
	assert.Equal(t, "task-1", decoded.Data["task_id"])

	s2 := client.streams[StreamName("task-2")]
	require.NotNil(t, s2)
	require.Len(t, s2.entries, 1)
}

func TestPublishDropsEventsWithoutTaskID(t *testing.T) {
	client := &fakeClient{}
	pub, err := NewPublisher(PublisherOptions{Client: client})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), []events.Event{{
		ID:   "evt-1",
		Type: events.WorkflowStarted,
		Data: map[string]any{},
	}})
	require.NoError(t, err)
	assert.Empty(t, client.streams)
}

func TestPublishShedsOverRateLimit(t *testing.T) {
	client := &fakeClient{}
	pub, err := NewPublisher(PublisherOptions{
		Client:    client,
		RateLimit: rate.Limit(1e-9),
		RateBurst: 1,
	})
	require.NoError(t, err)

	batch := []events.Event{
		taskEvent("task-1", events.IterationStarted),
		taskEvent("task-1", events.IterationCompleted),
	}
	require.NoError(t, pub.Publish(context.Background(), batch))

	// Burst admits one event; the second is shed, not an error.
	require.Len(t, client.streams[StreamName("task-1")].entries, 1)
}

func TestPublishSurfacesTransportErrors(t *testing.T) {
	client := &fakeClient{err: errors.New("redis gone")}
	pub, err := NewPublisher(PublisherOptions{Client: client})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), []events.Event{taskEvent("task-1", events.WorkflowStarted)})
	require.ErrorContains(t, err, "redis gone")
}

func TestSubscribeEmitsDecodedEvents(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 1)}
	client := &fakeClient{streams: map[string]*fakeStream{
		StreamName("task-1"): {sink: sink},
	}}
	sub, err := NewSubscriber(SubscriberOptions{Client: client, Buffer: 2})
	require.NoError(t, err)

	out, errs, cancel, err := sub.Subscribe(context.Background(), "task-1")
	require.NoError(t, err)
	defer cancel()

	payload, err := json.Marshal(taskEvent("task-1", events.ToolCallStarted))
	require.NoError(t, err)
	sink.ch <- &streaming.Event{ID: "1-0", Payload: payload}
	close(sink.ch)

	got := <-out
	assert.Equal(t, events.ToolCallStarted, got.Type)
	assert.Equal(t, "task-1", got.Data["task_id"])
	assert.Empty(t, errs)
	assert.Equal(t, []string{"1-0"}, sink.acked)
}

func TestSubscribeReportsDecodeFailure(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 1)}
	client := &fakeClient{streams: map[string]*fakeStream{
		StreamName("task-1"): {sink: sink},
	}}
	sub, err := NewSubscriber(SubscriberOptions{Client: client})
	require.NoError(t, err)

	out, errs, cancel, err := sub.Subscribe(context.Background(), "task-1")
	require.NoError(t, err)
	defer cancel()

	sink.ch <- &streaming.Event{ID: "1-0", Payload: []byte("not json")}
	close(sink.ch)

	require.Empty(t, out)
	require.ErrorContains(t, <-errs, "pulse decode payload")
}
