// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates completion requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go and
// maps responses, token usage, and dollar cost back to the generic model
// structures.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/orbitlabs/orbit/runtime/agent/model"
)

// DefaultMaxTokens caps completions when neither the request nor the options
// set a limit.
const DefaultMaxTokens = 4096

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter. It is satisfied by *sdk.MessageService so callers can pass either
// a real client or a stub in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Pricing is the per-1K-token dollar rate for one model family.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// defaultPricing is matched by prefix against the requested model id.
var defaultPricing = map[string]Pricing{
	"claude-opus":       {InputPer1K: 0.015, OutputPer1K: 0.075},
	"claude-sonnet":     {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-haiku":      {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"claude-3-5-haiku":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"claude-3-5-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
}

// DefaultRate applies when no pricing prefix matches.
var DefaultRate = Pricing{InputPer1K: 0.003, OutputPer1K: 0.015}

// Options configures the Anthropic adapter.
type Options struct {
	// DefaultModel applies when a request carries no model id. Required.
	DefaultModel string
	// MaxTokens is the default completion cap; zero means DefaultMaxTokens.
	MaxTokens int
	// Pricing overrides or extends the built-in rate table.
	Pricing map[string]Pricing
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
	pricing   map[string]Pricing
}

// New builds an Anthropic-backed model client from the provided Messages
// client and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	pricing := make(map[string]Pricing, len(defaultPricing)+len(opts.Pricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	for k, v := range opts.Pricing {
		pricing[k] = v
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTokens: maxTokens, pricing: pricing}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request and translates the
// response.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return model.CompletionResponse{}, errors.New("messages are required")
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	conversation, system, err := encodeMessages(req.Messages)
	if err != nil {
		return model.CompletionResponse{}, err
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	resp, err := c.msg.New(ctx, params)
	if err != nil {
		return model.CompletionResponse{}, translateError(err)
	}
	return c.translateResponse(modelID, resp)
}

// encodeMessages splits the transcript into Anthropic's system blocks and
// conversation turns. Tool results become tool_result blocks on user turns;
// assistant tool calls become tool_use blocks.
func encodeMessages(messages []model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(messages))
	var system []sdk.TextBlockParam
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case model.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case model.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						return nil, nil, fmt.Errorf("decode arguments of tool call %s: %w", tc.ID, err)
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return conversation, system, nil
}

func encodeTools(defs []model.ToolDefinition) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		u := sdk.ToolUnionParamOfTool(toolInputSchema(def.Parameters), def.Name)
		if def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func toolInputSchema(schema map[string]any) sdk.ToolInputSchemaParam {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: schema}
}

func (c *Client) translateResponse(modelID string, resp *sdk.Message) (model.CompletionResponse, error) {
	if resp == nil {
		return model.CompletionResponse{}, errors.New("anthropic: response message is nil")
	}
	msg := model.Message{Role: model.RoleAssistant}
	var texts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				ID:   block.ID,
				Type: model.ToolCallType,
				Function: model.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}
	msg.Content = strings.Join(texts, "\n")
	usage := model.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return model.CompletionResponse{
		Message: msg,
		Usage:   usage,
		Cost:    c.cost(modelID, usage),
	}, nil
}

func (c *Client) cost(modelID string, usage model.Usage) float64 {
	rate, ok := Pricing{}, false
	for prefix, r := range c.pricing {
		if strings.HasPrefix(modelID, prefix) {
			rate, ok = r, true
			break
		}
	}
	if !ok {
		rate = DefaultRate
	}
	return float64(usage.PromptTokens)/1000*rate.InputPer1K +
		float64(usage.CompletionTokens)/1000*rate.OutputPer1K
}

// translateError maps SDK failures onto provider errors for the activity
// layer's retry classification.
func translateError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return model.NewProviderError("anthropic", model.ProviderErrorKindUnknown,
			fmt.Sprintf("messages call: %v", err), true, err)
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.NewProviderError("anthropic", model.ProviderErrorKindAuth, apiErr.Error(), false, err)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return model.NewProviderError("anthropic", model.ProviderErrorKindInvalidRequest, apiErr.Error(), false, err)
	case http.StatusTooManyRequests:
		return model.NewProviderError("anthropic", model.ProviderErrorKindRateLimited, apiErr.Error(), true, err)
	default:
		if apiErr.StatusCode >= 500 {
			return model.NewProviderError("anthropic", model.ProviderErrorKindUnavailable, apiErr.Error(), true, err)
		}
		return model.NewProviderError("anthropic", model.ProviderErrorKindUnknown, apiErr.Error(), true, err)
	}
}
