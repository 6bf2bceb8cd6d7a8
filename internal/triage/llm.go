package triage

import (
	"context"
	"errors"
	"strings"
)

// ErrRateLimited is returned (wrapped) by providers when the backend rejects a
// call for quota or overload reasons. Synthesis retries these with backoff.
var ErrRateLimited = errors.New("llm: rate limited")

// Provider is the interface for any LLM backend.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest represents the input to the LLM provider.
type LLMRequest struct {
	MaxTokens   int
	System      string
	Messages    []Message
	Temperature float64
}

// LLMResponse represents the output from the LLM provider, including the generated content, stop reason, and token usage.
type LLMResponse struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
	Model      string
}

// Text returns the concatenated text blocks of the response.
func (r *LLMResponse) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// StopReason indicates why the LLM stopped generating content.
type StopReason string

const (
	StopEnd       StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
)

// Message is a single conversation message.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// userMessage wraps text in a single-block user message.
func userMessage(text string) Message {
	return Message{Role: "user", Content: []ContentBlock{{Type: "text", Text: text}}}
}

// IsRateLimited reports whether err is a quota or overload rejection. Errors
// from providers that do not wrap ErrRateLimited are matched on their text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
