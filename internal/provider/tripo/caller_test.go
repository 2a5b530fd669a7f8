package tripo

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

	caller, err := NewCaller(config.ProviderConfig{
		TripoAPIKey:  "test-key",
		TripoBaseURL: server.URL,
	})
	require.NoError(t, err)
	return caller
}

func TestNewCaller_MissingKey(t *testing.T) {
	t.Setenv("TRIPO_API_KEY", "")
	_, err := NewCaller(config.ProviderConfig{})
	assert.ErrorIs(t, err, providerdomain.ErrMissingCredentials)
}

func TestSubmit(t *testing.T) {
	caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/task", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text_to_model", body["type"])
		assert.Equal(t, "a wooden bench", body["prompt"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"task_id": "task-9"},
		})
	})

	jobID, err := caller.Submit(context.Background(), "text_to_model", map[string]any{"prompt": "a wooden bench"})
	require.NoError(t, err)
	assert.Equal(t, "task-9", jobID)
}

func TestSubmit_ApplicationErrorOn200(t *testing.T) {
	caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 2002, "message": "insufficient provider balance"})
	})

	_, err := caller.Submit(context.Background(), "text_to_model", nil)
	assert.ErrorIs(t, err, providerdomain.ErrProvider)
	assert.Contains(t, err.Error(), "insufficient provider balance")
}

func TestDo_UnauthorizedMapsToInvalidCredentials(t *testing.T) {
	caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := caller.Submit(context.Background(), "text_to_model", nil)
	assert.ErrorIs(t, err, providerdomain.ErrInvalidCredentials)
}

func TestPoll_TerminalStates(t *testing.T) {
	tests := []struct {
		name   string
		status string
		state  providerdomain.JobState
	}{
		{"success is done", "success", providerdomain.JobStateDone},
		{"failed is terminal", "failed", providerdomain.JobStateFailed},
		{"cancelled is terminal", "cancelled", providerdomain.JobStateFailed},
		{"banned is terminal", "banned", providerdomain.JobStateFailed},
		{"queued is pending", "queued", providerdomain.JobStatePending},
		{"running is pending", "running", providerdomain.JobStatePending},
		{"unknown strings stay pending", "something_new", providerdomain.JobStatePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/task/task-9", r.URL.Path)
				data := map[string]any{"status": tt.status}
				if tt.status == "success" {
					data["output"] = map[string]any{"pbr_model": "https://files.example.com/m.glb"}
				}
				_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
			})

			poll, err := caller.Poll(context.Background(), "task-9")
			require.NoError(t, err)
			assert.Equal(t, tt.state, poll.State)
		})
	}
}

func TestExtractResult(t *testing.T) {
	tests := []struct {
		name        string
		output      map[string]any
		wantURL     string
		wantFormat  string
		wantPreview string
		wantErr     bool
	}{
		{
			name: "pbr model wins over base model",
			output: map[string]any{
				"pbr_model":  "https://files.example.com/pbr.glb",
				"base_model": "https://files.example.com/base.glb",
			},
			wantURL:    "https://files.example.com/pbr.glb",
			wantFormat: "glb",
		},
		{
			name: "preview resolved from rendered image",
			output: map[string]any{
				"model":          "https://files.example.com/m.fbx",
				"rendered_image": "https://files.example.com/m.webp",
			},
			wantURL:     "https://files.example.com/m.fbx",
			wantFormat:  "fbx",
			wantPreview: "https://files.example.com/m.webp",
		},
		{
			name: "unknown key falls back to url scan",
			output: map[string]any{
				"some_new_field": "https://files.example.com/out.obj",
			},
			wantURL:    "https://files.example.com/out.obj",
			wantFormat: "obj",
		},
		{
			name: "explicit format field wins over extension",
			output: map[string]any{
				"model":  "https://files.example.com/download?id=42",
				"format": "GLB",
			},
			wantURL:    "https://files.example.com/download?id=42",
			wantFormat: "glb",
		},
		{
			name: "mime fallback when no extension",
			output: map[string]any{
				"model":        "https://files.example.com/download?id=42",
				"content_type": "model/gltf-binary",
			},
			wantURL:    "https://files.example.com/download?id=42",
			wantFormat: "glb",
		},
		{
			name:    "success without any url is a provider error",
			output:  map[string]any{"progress": "100"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.output)
			require.NoError(t, err)

			result, err := extractResult("task-9", raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, providerdomain.ErrProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, result.ModelURL)
			assert.Equal(t, tt.wantFormat, result.Format)
			assert.Equal(t, tt.wantPreview, result.PreviewURL)
		})
	}
}
