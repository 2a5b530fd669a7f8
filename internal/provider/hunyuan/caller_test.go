package hunyuan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atelierhq/atelier/internal/config"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCaller(t *testing.T, handler http.HandlerFunc) *Caller {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	caller, err := newCaller("test-id", "test-key", "ap-guangzhou", server.URL)
	require.NoError(t, err)
	return caller
}

func TestNewCaller_MissingCredentials(t *testing.T) {
	t.Setenv("TENCENTCLOUD_SECRET_ID", "")
	t.Setenv("TENCENTCLOUD_SECRET_KEY", "")

	_, err := NewCaller(config.ProviderConfig{})
	assert.ErrorIs(t, err, providerdomain.ErrMissingCredentials)
}

func TestNewCaller_EnvFallback(t *testing.T) {
	t.Setenv("TENCENTCLOUD_SECRET_ID", "env-id")
	t.Setenv("TENCENTCLOUD_SECRET_KEY", "env-key")

	caller, err := NewCaller(config.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "env-id", caller.secretID)

	// Explicit configuration wins over the environment.
	caller, err = NewCaller(config.ProviderConfig{HunyuanSecretID: "cfg-id", HunyuanSecretKey: "cfg-key"})
	require.NoError(t, err)
	assert.Equal(t, "cfg-id", caller.secretID)
}

func TestSubmit(t *testing.T) {
	var gotAction string
	caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("X-TC-Action")
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-TC-Timestamp"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Response": map[string]any{"JobId": "job-123", "RequestId": "req-1"},
		})
	})

	jobID, err := caller.Submit(context.Background(), "SubmitHunyuanTo3DJob", map[string]any{"Prompt": "a chair"})
	require.NoError(t, err)
	assert.Equal(t, "job-123", jobID)
	assert.Equal(t, "SubmitHunyuanTo3DJob", gotAction)
}

func TestSubmit_StructuredErrorOn200(t *testing.T) {
	caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Response": map[string]any{
				"Error": map[string]any{"Code": "InvalidParameter", "Message": "prompt required"},
			},
		})
	})

	_, err := caller.Submit(context.Background(), "SubmitHunyuanTo3DJob", nil)
	assert.ErrorIs(t, err, providerdomain.ErrProvider)
	assert.Contains(t, err.Error(), "prompt required")
}

func TestSubmit_AuthFailure(t *testing.T) {
	caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Response": map[string]any{
				"Error": map[string]any{"Code": "AuthFailure.SignatureFailure", "Message": "signature mismatch"},
			},
		})
	})

	_, err := caller.Submit(context.Background(), "SubmitHunyuanTo3DJob", nil)
	assert.ErrorIs(t, err, providerdomain.ErrInvalidCredentials)
}

func TestPoll_States(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		state    providerdomain.JobState
	}{
		{
			name:     "wait maps to pending",
			response: map[string]any{"Status": "WAIT"},
			state:    providerdomain.JobStatePending,
		},
		{
			name:     "run maps to pending",
			response: map[string]any{"Status": "RUN"},
			state:    providerdomain.JobStatePending,
		},
		{
			name: "done carries the result file",
			response: map[string]any{
				"Status": "DONE",
				"ResultFile3Ds": []map[string]any{
					{"Type": "GLB", "Url": "https://files.example.com/a.glb", "PreviewImageUrl": "https://files.example.com/a.png"},
				},
			},
			state: providerdomain.JobStateDone,
		},
		{
			name:     "fail carries the message",
			response: map[string]any{"Status": "FAIL", "ErrorMessage": "generation failed"},
			state:    providerdomain.JobStateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"Response": tt.response})
			})

			poll, err := caller.Poll(context.Background(), "job-123")
			require.NoError(t, err)
			assert.Equal(t, tt.state, poll.State)

			switch tt.state {
			case providerdomain.JobStateDone:
				require.NotNil(t, poll.Result)
				assert.Equal(t, "glb", poll.Result.Format)
				assert.Equal(t, "https://files.example.com/a.glb", poll.Result.ModelURL)
				assert.Equal(t, "https://files.example.com/a.png", poll.Result.PreviewURL)
			case providerdomain.JobStateFailed:
				assert.Equal(t, "generation failed", poll.ErrorMessage)
			}
		})
	}
}

func TestPoll_DoneWithoutFileIsError(t *testing.T) {
	caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Response": map[string]any{"Status": "DONE", "ResultFile3Ds": []map[string]any{}},
		})
	})

	_, err := caller.Poll(context.Background(), "job-123")
	assert.ErrorIs(t, err, providerdomain.ErrProvider)
}
