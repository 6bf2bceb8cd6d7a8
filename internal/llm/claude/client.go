// Package claude implements triage.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/casewise/internal/triage"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// statusOverloaded is Anthropic's "overloaded" status code.
const statusOverloaded = 529

// Client implements triage.Provider for the Claude API.
type Client struct {
	client sdkMessages
	model  string
}

// sdkMessages is the slice of the SDK client Send needs.
type sdkMessages interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// New creates a Claude client. SDK-level retries are disabled; the triage
// engine owns retry policy for rate limits.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	c := anthropic.NewClient(append(base, opts...)...)
	return &Client{client: &c.Messages, model: model}
}

// Send sends a request to the Claude API and returns the response. Rate-limit
// and overload rejections wrap triage.ErrRateLimited.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	// zero means provider default
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := c.client.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == statusOverloaded) {
			return nil, fmt.Errorf("claude: %w: %v", triage.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("claude: %w", err)
	}

	return fromSDKResponse(msg), nil
}

func toSDKMessages(msgs []triage.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			if b.Type != "text" {
				continue
			}
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		}
		switch m.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func fromSDKResponse(msg *anthropic.Message) *triage.LLMResponse {
	content := make([]triage.ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		content = append(content, triage.ContentBlock{Type: b.Type, Text: b.Text})
	}

	return &triage.LLMResponse{
		Content:    content,
		StopReason: triage.StopReason(msg.StopReason),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Model: string(msg.Model),
	}
}
