package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relay/internal/config"
	"relay/internal/constants"
	pkgerrors "relay/pkg/errors"
)

// Client talks to the external pipeline-execution API:
//
//	POST {base}/pipelines/{name}/run  -> {"runId": "..."}
//	GET  {base}/runs/{runId}          -> {"status": "..."}
type Client interface {
	Run(ctx context.Context, pipelineName string, parameters map[string]interface{}) (string, error)
	GetStatus(ctx context.Context, runID string) (Status, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(cfg config.InvokerConfig) *HTTPClient {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type runRequest struct {
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type runResponse struct {
	RunID string `json:"runId"`
}

type statusResponse struct {
	Status Status `json:"status"`
}

func (c *HTTPClient) Run(ctx context.Context, pipelineName string, parameters map[string]interface{}) (string, error) {
	body, err := json.Marshal(runRequest{Parameters: parameters})
	if err != nil {
		return "", pkgerrors.ErrValidation.WithCause(err).WithDetail("message", "cannot encode run parameters")
	}

	url := fmt.Sprintf("%s/pipelines/%s/run", c.baseURL, pipelineName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", pkgerrors.ErrUpstream.WithCause(err).WithDetail("message", fmt.Sprintf("pipeline API unreachable for %s", pipelineName))
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return "", err
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", pkgerrors.ErrUpstream.WithCause(err).WithDetail("message", "malformed run response")
	}
	if out.RunID == "" {
		return "", pkgerrors.ErrUpstream.WithDetail("message", "run response lacks runId")
	}

	return out.RunID, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, runID string) (Status, error) {
	url := fmt.Sprintf("%s/runs/%s", c.baseURL, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", pkgerrors.ErrUpstream.WithCause(err).WithDetail("message", fmt.Sprintf("pipeline API unreachable for run %s", runID))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("run %s is unknown", runID))
	}

	if err := checkResponse(resp); err != nil {
		return "", err
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", pkgerrors.ErrUpstream.WithCause(err).WithDetail("message", "malformed status response")
	}

	return out.Status, nil
}

// checkResponse maps HTTP failures onto the error taxonomy. 5xx is
// transient and retryable, and so are 429 and 408 since throttling
// clears on its own; the remaining 4xx are caller mistakes and are not.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return pkgerrors.ErrUpstream.WithDetail("message", fmt.Sprintf("pipeline API returned %d: %s", resp.StatusCode, snippet))
	}

	return pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("pipeline API rejected request with %d: %s", resp.StatusCode, snippet))
}
