package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chatdomain "github.com/atelierhq/atelier/internal/chat/domain"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCompleter(t *testing.T, handler http.HandlerFunc) *Completer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	completer, err := NewCompleter(config.ChatConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	return completer
}

func TestNewCompleter_RequiresAPIKey(t *testing.T) {
	_, err := NewCompleter(config.ChatConfig{BaseURL: "https://api.openai.com/v1"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestComplete_StreamsChunksAndUsage(t *testing.T) {
	completer := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":", teapot"}}]}`,
			``,
			`data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`,
			``,
			`data: [DONE]`,
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	})

	var streamed strings.Builder
	usage, err := completer.Complete(context.Background(), chatdomain.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []chatdomain.Message{{Role: "user", Content: "hi"}},
	}, func(chunk string) error {
		streamed.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, teapot", streamed.String())
	require.NotNil(t, usage)
	assert.Equal(t, int64(17), usage.TotalTokens)
}

func TestComplete_NonOKStatus(t *testing.T) {
	completer := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	_, err := completer.Complete(context.Background(), chatdomain.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []chatdomain.Message{{Role: "user", Content: "hi"}},
	}, func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestComplete_SinkErrorStopsStream(t *testing.T) {
	completer := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"more"}}]}` + "\n"))
	})

	calls := 0
	_, err := completer.Complete(context.Background(), chatdomain.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []chatdomain.Message{{Role: "user", Content: "hi"}},
	}, func(string) error {
		calls++
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}
