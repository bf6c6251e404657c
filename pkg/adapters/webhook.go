package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

// WebhookConfig configures a WebhookAdapter.
type WebhookConfig struct {
	// Name is the adapter instance name.
	Name string `yaml:"name" json:"name"`

	// Framework is the framework identifier served. Defaults to "webhook".
	Framework string `yaml:"framework" json:"framework"`

	// URL receives action POSTs.
	URL string `yaml:"url" json:"url"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// HealthPath is GETed for health checks. Defaults to the action URL.
	HealthPath string `yaml:"health_path,omitempty" json:"health_path,omitempty"`

	// Capabilities restricts the accepted action names. Empty means any.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// webhookRequest is the JSON body POSTed for each action.
type webhookRequest struct {
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// WebhookAdapter executes actions by POSTing them to an HTTP endpoint.
// Response status codes map onto error classes so the executor can decide
// whether to retry.
type WebhookAdapter struct {
	BaseAdapter

	url        string
	healthURL  string
	headers    map[string]string
	httpClient *http.Client
}

var _ orchestrator.Adapter = (*WebhookAdapter)(nil)

// NewWebhookAdapter creates a webhook adapter. client may be nil.
func NewWebhookAdapter(logger zerolog.Logger, cfg WebhookConfig, client *http.Client) (*WebhookAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook adapter %s requires a URL", cfg.Name)
	}
	framework := cfg.Framework
	if framework == "" {
		framework = "webhook"
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultExecuteTimeout}
	}
	healthURL := cfg.URL
	if cfg.HealthPath != "" {
		healthURL = cfg.HealthPath
	}

	return &WebhookAdapter{
		BaseAdapter: NewBaseAdapter(logger, cfg.Name, framework, cfg.Capabilities),
		url:         cfg.URL,
		healthURL:   healthURL,
		headers:     cfg.Headers,
		httpClient:  client,
	}, nil
}

// Connect verifies the endpoint is reachable.
func (a *WebhookAdapter) Connect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(connectCtx, http.MethodGet, a.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build connect request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach webhook endpoint %s: %w", a.healthURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("webhook endpoint %s unhealthy: status %d", a.healthURL, resp.StatusCode)
	}

	a.setConnected(true)
	logger := a.Logger()
	logger.Info().Str("url", a.url).Msg("Webhook adapter connected")
	return nil
}

// Disconnect marks the adapter disconnected and drops idle connections.
func (a *WebhookAdapter) Disconnect(_ context.Context) error {
	a.setConnected(false)
	a.httpClient.CloseIdleConnections()
	return nil
}

// Execute POSTs the action to the endpoint and decodes the JSON response.
func (a *WebhookAdapter) Execute(ctx context.Context, action rule.Action, execCtx map[string]interface{}) (map[string]interface{}, error) {
	if !a.supports(action.Name) {
		return nil, orchestrator.NewPermanentError(fmt.Sprintf("action %s is not supported", action.Name), nil).
			WithCode(orchestrator.ErrCodeNotFound).
			WithFramework(a.Framework())
	}

	body, err := json.Marshal(webhookRequest{
		Action:     action.Name,
		Parameters: action.Parameters,
		Context:    execCtx,
	})
	if err != nil {
		return nil, orchestrator.NewPermanentError("failed to encode webhook request", err).
			WithCode(orchestrator.ErrCodeValidation).
			WithFramework(a.Framework())
	}

	execCtx2, cancel := withExecuteTimeout(ctx, action)
	defer cancel()

	req, err := http.NewRequestWithContext(execCtx2, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, orchestrator.NewPermanentError("failed to build webhook request", err).
			WithCode(orchestrator.ErrCodeInternal).
			WithFramework(a.Framework())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || execCtx2.Err() != nil {
			return nil, orchestrator.NewTransientError(fmt.Sprintf("webhook call timed out after %s", executeTimeout(action)), err).
				WithCode(orchestrator.ErrCodeTimeout).
				WithFramework(a.Framework())
		}
		return nil, orchestrator.NewTransientError("webhook call failed", err).
			WithCode(orchestrator.ErrCodeAdapterFailed).
			WithFramework(a.Framework())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, orchestrator.NewTransientError("failed to read webhook response", err).
			WithCode(orchestrator.ErrCodeAdapterFailed).
			WithFramework(a.Framework())
	}

	if err := classifyStatus(resp.StatusCode, a.Framework()); err != nil {
		return nil, err
	}

	output := map[string]interface{}{"status_code": resp.StatusCode}
	if len(respBody) > 0 {
		var decoded map[string]interface{}
		if jsonErr := json.Unmarshal(respBody, &decoded); jsonErr == nil {
			for k, v := range decoded {
				output[k] = v
			}
		} else {
			output["body"] = string(respBody)
		}
	}
	return output, nil
}

// Health GETs the health URL and reports the result with latency.
func (a *WebhookAdapter) Health(ctx context.Context) orchestrator.AdapterHealth {
	start := time.Now()

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, a.healthURL, nil)
	if err != nil {
		return a.health(false, err.Error(), time.Since(start))
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return a.health(false, err.Error(), time.Since(start))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return a.health(false, fmt.Sprintf("status %d", resp.StatusCode), time.Since(start))
	}
	return a.health(true, "ok", time.Since(start))
}

// classifyStatus maps HTTP status codes onto error classes.
func classifyStatus(status int, framework string) error {
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusTooManyRequests:
		return orchestrator.NewThrottledError("webhook endpoint throttled the request", nil).
			WithCode(orchestrator.ErrCodeRateLimited).
			WithFramework(framework)
	case status == http.StatusConflict:
		return orchestrator.NewConflictError("webhook endpoint reported a conflict", nil).
			WithCode(orchestrator.ErrCodeConflict).
			WithFramework(framework)
	case status >= http.StatusInternalServerError:
		return orchestrator.NewTransientError(fmt.Sprintf("webhook endpoint failed with status %d", status), nil).
			WithCode(orchestrator.ErrCodeAdapterFailed).
			WithFramework(framework)
	default:
		return orchestrator.NewPermanentError(fmt.Sprintf("webhook endpoint rejected the request with status %d", status), nil).
			WithCode(orchestrator.ErrCodeAdapterFailed).
			WithFramework(framework)
	}
}
