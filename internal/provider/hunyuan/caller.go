// Package hunyuan implements the signed-request job calling protocol used by
// the Hunyuan 3D generation family.
package hunyuan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atelierhq/atelier/internal/config"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
)

const (
	defaultEndpoint = "https://ai3d.tencentcloudapi.com"
	apiVersion      = "2025-05-13"

	// Poll action paired with every submit action of this family.
	queryAction = "QueryHunyuanTo3DJob"
)

type Caller struct {
	secretID  string
	secretKey string
	region    string
	endpoint  string
	host      string
	client    *http.Client
	now       func() time.Time
}

// NewCaller resolves credentials from explicit configuration first and the
// process environment second, and fails fast when both are absent.
func NewCaller(cfg config.ProviderConfig) (*Caller, error) {
	secretID := cfg.HunyuanSecretID
	if secretID == "" {
		secretID = strings.TrimSpace(os.Getenv("TENCENTCLOUD_SECRET_ID"))
	}
	secretKey := cfg.HunyuanSecretKey
	if secretKey == "" {
		secretKey = strings.TrimSpace(os.Getenv("TENCENTCLOUD_SECRET_KEY"))
	}
	if secretID == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: hunyuan secret id/key", providerdomain.ErrMissingCredentials)
	}

	return newCaller(secretID, secretKey, cfg.HunyuanRegion, defaultEndpoint)
}

func newCaller(secretID, secretKey, region, endpoint string) (*Caller, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	return &Caller{
		secretID:  secretID,
		secretKey: secretKey,
		region:    region,
		endpoint:  endpoint,
		host:      parsed.Host,
		client:    &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}, nil
}

func (c *Caller) Provider() string { return "hunyuan" }

func (c *Caller) Submit(ctx context.Context, action string, payload map[string]any) (string, error) {
	var out struct {
		JobID string `json:"JobId"`
	}
	if err := c.do(ctx, action, payload, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("%w: submit returned no job id", providerdomain.ErrProvider)
	}
	return out.JobID, nil
}

func (c *Caller) Poll(ctx context.Context, jobID string) (providerdomain.JobPoll, error) {
	var out struct {
		Status        string `json:"Status"`
		ErrorCode     string `json:"ErrorCode"`
		ErrorMessage  string `json:"ErrorMessage"`
		ResultFile3Ds []struct {
			Type            string `json:"Type"`
			URL             string `json:"Url"`
			PreviewImageURL string `json:"PreviewImageUrl"`
		} `json:"ResultFile3Ds"`
	}
	if err := c.do(ctx, queryAction, map[string]any{"JobId": jobID}, &out); err != nil {
		return providerdomain.JobPoll{}, err
	}

	switch out.Status {
	case "DONE":
		if len(out.ResultFile3Ds) == 0 || out.ResultFile3Ds[0].URL == "" {
			return providerdomain.JobPoll{}, fmt.Errorf("%w: job %s done without result file", providerdomain.ErrProvider, jobID)
		}
		file := out.ResultFile3Ds[0]
		return providerdomain.JobPoll{
			State: providerdomain.JobStateDone,
			Result: &providerdomain.JobResult{
				JobID:      jobID,
				Format:     strings.ToLower(file.Type),
				ModelURL:   file.URL,
				PreviewURL: file.PreviewImageURL,
			},
		}, nil
	case "FAIL":
		message := out.ErrorMessage
		if message == "" {
			message = out.ErrorCode
		}
		return providerdomain.JobPoll{State: providerdomain.JobStateFailed, ErrorMessage: message}, nil
	default:
		// WAIT and RUN both mean the job is still in flight.
		return providerdomain.JobPoll{State: providerdomain.JobStatePending}, nil
	}
}

type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

func (c *Caller) do(ctx context.Context, action string, payload map[string]any, out any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ts := c.now().UTC()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Host", c.host)
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set("X-TC-Version", apiVersion)
	if c.region != "" {
		req.Header.Set("X-TC-Region", c.region)
	}
	req.Header.Set("Authorization", buildAuthorization(c.secretID, c.secretKey, c.host, action, body, ts))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", providerdomain.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", providerdomain.ErrTransport, err)
	}

	// Structured errors arrive with HTTP 200 and must be parsed, never
	// treated as a bare status-code failure.
	var envelope struct {
		Response json.RawMessage `json:"Response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Response == nil {
		return fmt.Errorf("%w: unexpected response (status %d)", providerdomain.ErrTransport, resp.StatusCode)
	}

	var failure struct {
		Error *apiError `json:"Error"`
	}
	if err := json.Unmarshal(envelope.Response, &failure); err == nil && failure.Error != nil {
		if strings.HasPrefix(failure.Error.Code, "AuthFailure") {
			return fmt.Errorf("%w: %s", providerdomain.ErrInvalidCredentials, failure.Error.Message)
		}
		return fmt.Errorf("%w: %s: %s", providerdomain.ErrProvider, failure.Error.Code, failure.Error.Message)
	}

	return json.Unmarshal(envelope.Response, out)
}
