// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates completion requests into ChatCompletion
// calls using github.com/sashabaranov/go-openai and maps responses, token
// usage, and dollar cost back to the generic model structures.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/orbitlabs/orbit/runtime/agent/model"
)

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Pricing is the per-1K-token dollar rate for one model.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// defaultPricing covers the commonly configured models; unknown models fall
// back to DefaultRate.
var defaultPricing = map[string]Pricing{
	"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4.1":     {InputPer1K: 0.002, OutputPer1K: 0.008},
	"o3-mini":     {InputPer1K: 0.0011, OutputPer1K: 0.0044},
}

// DefaultRate applies when the model has no pricing entry.
var DefaultRate = Pricing{InputPer1K: 0.0025, OutputPer1K: 0.01}

// Options configures the OpenAI adapter.
type Options struct {
	// Client is the chat client. Required.
	Client ChatClient
	// DefaultModel applies when a request carries no model id. Required.
	DefaultModel string
	// Pricing overrides or extends the built-in rate table.
	Pricing map[string]Pricing
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat    ChatClient
	model   string
	pricing map[string]Pricing
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	pricing := make(map[string]Pricing, len(defaultPricing)+len(opts.Pricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	for k, v := range opts.Pricing {
		pricing[k] = v
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel, pricing: pricing}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return model.CompletionResponse{}, errors.New("messages are required")
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.model
	}
	request := openai.ChatCompletionRequest{
		Model:     modelID,
		Messages:  encodeMessages(req.Messages),
		MaxTokens: req.MaxTokens,
		Tools:     encodeTools(req.Tools),
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return model.CompletionResponse{}, translateError(err)
	}
	return c.translateResponse(modelID, response), nil
}

func encodeMessages(messages []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		if m.Role == model.RoleTool {
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func encodeTools(defs []model.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			params = []byte(`{"type":"object"}`)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out
}

func (c *Client) translateResponse(modelID string, resp openai.ChatCompletionResponse) model.CompletionResponse {
	msg := model.Message{Role: model.RoleAssistant}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0].Message
		msg.Content = choice.Content
		for _, call := range choice.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				ID:   call.ID,
				Type: model.ToolCallType,
				Function: model.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
	}
	usage := model.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return model.CompletionResponse{
		Message: msg,
		Usage:   usage,
		Cost:    c.cost(modelID, usage),
	}
}

func (c *Client) cost(modelID string, usage model.Usage) float64 {
	rate, ok := c.pricing[modelID]
	if !ok {
		// Dated snapshots (gpt-4o-2024-08-06) price like their base model.
		for name, r := range c.pricing {
			if strings.HasPrefix(modelID, name) {
				rate, ok = r, true
				break
			}
		}
	}
	if !ok {
		rate = DefaultRate
	}
	return float64(usage.PromptTokens)/1000*rate.InputPer1K +
		float64(usage.CompletionTokens)/1000*rate.OutputPer1K
}

// translateError maps go-openai failures onto provider errors so the activity
// layer can distinguish retryable transport issues from terminal request
// errors.
func translateError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return model.NewProviderError("openai", model.ProviderErrorKindUnknown,
			fmt.Sprintf("chat completion: %v", err), true, err)
	}
	switch apiErr.HTTPStatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.NewProviderError("openai", model.ProviderErrorKindAuth, apiErr.Message, false, err)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return model.NewProviderError("openai", model.ProviderErrorKindInvalidRequest, apiErr.Message, false, err)
	case http.StatusTooManyRequests:
		return model.NewProviderError("openai", model.ProviderErrorKindRateLimited, apiErr.Message, true, err)
	default:
		if apiErr.HTTPStatusCode >= 500 {
			return model.NewProviderError("openai", model.ProviderErrorKindUnavailable, apiErr.Message, true, err)
		}
		return model.NewProviderError("openai", model.ProviderErrorKindUnknown, apiErr.Message, true, err)
	}
}
