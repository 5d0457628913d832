package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/runtime/agent/model"
)

type recordingClient struct {
	name   string
	lastID string
}

func (c *recordingClient) Complete(_ context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	c.lastID = req.ModelID
	return model.CompletionResponse{
		Message: model.Message{Role: model.RoleAssistant, Content: c.name},
	}, nil
}

func TestNewRequiresRoutesOrDefault(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Routes: []Route{{Prefix: "gpt-"}}})
	require.Error(t, err)
}

func TestCompleteRoutesByPrefix(t *testing.T) {
	anthropic := &recordingClient{name: "anthropic"}
	openai := &recordingClient{name: "openai"}
	r, err := New(Options{
		Routes: []Route{
			{Prefix: "claude-", Client: anthropic},
			{Prefix: "gpt-", Client: openai},
		},
		Default: openai,
	})
	require.NoError(t, err)

	resp, err := r.Complete(context.Background(), model.CompletionRequest{ModelID: "claude-sonnet-4"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Message.Content)
	assert.Equal(t, "claude-sonnet-4", anthropic.lastID)

	resp, err = r.Complete(context.Background(), model.CompletionRequest{ModelID: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Message.Content)

	// Unmatched ids fall through to the default.
	resp, err = r.Complete(context.Background(), model.CompletionRequest{ModelID: "o3-mini"})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Message.Content)
}

func TestCompleteWithoutMatchOrDefaultFails(t *testing.T) {
	r, err := New(Options{Routes: []Route{{Prefix: "claude-", Client: &recordingClient{}}}})
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), model.CompletionRequest{ModelID: "gpt-4o"})
	require.ErrorContains(t, err, "no provider")
}
