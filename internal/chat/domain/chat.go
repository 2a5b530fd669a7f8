// Package domain defines the streaming chat contract: a Completer streams
// model output and reports token usage, and the service reconciles the
// pre-stream credit estimate against that usage.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidRequest = errors.New("chat_invalid_request")
	ErrNoCompleter    = errors.New("chat_completer_unavailable")
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting returned by a provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// CompletionRequest is the provider-facing request.
type CompletionRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// Sink receives streamed content chunks in order.
type Sink func(chunk string) error

// Completer streams a completion to the sink and returns the usage the
// provider attributed to the stream. A nil usage means the provider sent
// none.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest, sink Sink) (*Usage, error)
}

// StreamRequest starts one credit-gated chat stream.
type StreamRequest struct {
	UserID   snowflake.ID
	OrgID    snowflake.ID
	Model    string
	Messages []Message
	Sink     Sink
}

// StreamResult reports what the stream produced and what was charged.
type StreamResult struct {
	Usage            *Usage `json:"usage,omitempty"`
	EstimatedCredits int64  `json:"estimated_credits"`
	ChargedCredits   int64  `json:"charged_credits"`
	Cancelled        bool   `json:"cancelled"`
}

// Service runs the estimate-then-reconcile chat flow.
type Service interface {
	StreamCompletion(ctx context.Context, req StreamRequest) (*StreamResult, error)
}
