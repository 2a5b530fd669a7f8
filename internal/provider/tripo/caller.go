// Package tripo implements the bearer-token REST job calling protocol used by
// the Tripo generation family.
package tripo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/atelierhq/atelier/internal/config"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
)

type Caller struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewCaller resolves the API key from explicit configuration first and the
// process environment second, failing fast when both are absent.
func NewCaller(cfg config.ProviderConfig) (*Caller, error) {
	apiKey := cfg.TripoAPIKey
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("TRIPO_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: tripo api key", providerdomain.ErrMissingCredentials)
	}

	baseURL := strings.TrimRight(cfg.TripoBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.tripo3d.ai/v2/openapi"
	}
	return &Caller{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Caller) Provider() string { return "tripo" }

func (c *Caller) Submit(ctx context.Context, action string, payload map[string]any) (string, error) {
	body := map[string]any{"type": action}
	for key, value := range payload {
		body[key] = value
	}

	var data struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/task", body, &data); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", fmt.Errorf("%w: submit returned no task id", providerdomain.ErrProvider)
	}
	return data.TaskID, nil
}

func (c *Caller) Poll(ctx context.Context, jobID string) (providerdomain.JobPoll, error) {
	var data struct {
		Status string          `json:"status"`
		Output json.RawMessage `json:"output"`
	}
	if err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(jobID), nil, &data); err != nil {
		return providerdomain.JobPoll{}, err
	}

	switch data.Status {
	case "success":
		result, err := extractResult(jobID, data.Output)
		if err != nil {
			return providerdomain.JobPoll{}, err
		}
		return providerdomain.JobPoll{State: providerdomain.JobStateDone, Result: result}, nil
	case "failed", "cancelled", "banned", "expired":
		return providerdomain.JobPoll{
			State:        providerdomain.JobStateFailed,
			ErrorMessage: "task " + data.Status,
		}, nil
	default:
		// queued, running and anything new mean still in flight.
		return providerdomain.JobPoll{State: providerdomain.JobStatePending}, nil
	}
}

func (c *Caller) do(ctx context.Context, method, route string, body map[string]any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", providerdomain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", providerdomain.ErrInvalidCredentials, resp.StatusCode)
	}

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: unexpected response (status %d)", providerdomain.ErrTransport, resp.StatusCode)
	}

	// code != 0 signals an application-level failure even on HTTP 200.
	if envelope.Code != 0 {
		return fmt.Errorf("%w: code %d: %s", providerdomain.ErrProvider, envelope.Code, envelope.Message)
	}
	if out == nil || envelope.Data == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// Known output keys in priority order. Shapes vary per job type, so absence
// of every known key falls back to scanning for the first URL-shaped value.
var (
	modelKeys   = []string{"pbr_model", "model", "base_model"}
	previewKeys = []string{"rendered_image", "preview_image", "preview"}
)

func extractResult(jobID string, output json.RawMessage) (*providerdomain.JobResult, error) {
	fields := map[string]any{}
	if output != nil {
		if err := json.Unmarshal(output, &fields); err != nil {
			return nil, fmt.Errorf("%w: malformed task output", providerdomain.ErrProvider)
		}
	}

	modelURL, format := pickURL(fields, modelKeys)
	if modelURL == "" {
		modelURL, format = firstURLValue(fields)
	}
	if modelURL == "" {
		return nil, fmt.Errorf("%w: task %s succeeded without a downloadable result", providerdomain.ErrProvider, jobID)
	}

	if explicit := stringField(fields, "format"); explicit != "" {
		format = strings.ToLower(explicit)
	}
	if format == "" {
		format = formatFromMime(stringField(fields, "content_type"))
	}

	previewURL, _ := pickURL(fields, previewKeys)

	return &providerdomain.JobResult{
		JobID:      jobID,
		Format:     format,
		ModelURL:   modelURL,
		PreviewURL: previewURL,
	}, nil
}

func pickURL(fields map[string]any, keys []string) (string, string) {
	for _, key := range keys {
		if value := stringField(fields, key); isURL(value) {
			return value, formatFromURL(value)
		}
	}
	return "", ""
}

func firstURLValue(fields map[string]any) (string, string) {
	for _, value := range fields {
		if s, ok := value.(string); ok && isURL(s) {
			return s, formatFromURL(s)
		}
	}
	return "", ""
}

func stringField(fields map[string]any, key string) string {
	if value, ok := fields[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func isURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

func formatFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(parsed.Path)), ".")
	switch ext {
	case "glb", "gltf", "fbx", "obj", "stl", "usdz", "ply":
		return ext
	default:
		return ""
	}
}

func formatFromMime(mime string) string {
	switch strings.ToLower(mime) {
	case "model/gltf-binary":
		return "glb"
	case "model/gltf+json":
		return "gltf"
	case "model/obj":
		return "obj"
	case "model/stl":
		return "stl"
	default:
		return ""
	}
}
