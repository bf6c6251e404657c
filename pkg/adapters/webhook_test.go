package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

func newWebhookAdapter(t *testing.T, url string) *WebhookAdapter {
	t.Helper()
	adapter, err := NewWebhookAdapter(testLogger(), WebhookConfig{
		Name:    "hook",
		URL:     url,
		Headers: map[string]string{"X-Api-Key": "secret"},
	}, nil)
	if err != nil {
		t.Fatalf("NewWebhookAdapter failed: %v", err)
	}
	return adapter
}

func TestWebhookAdapterExecute(t *testing.T) {
	var gotReq webhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Connect's health probe GETs the action URL; only the
			// Execute POST is under test here.
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Error("missing configured header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ticket_id": "T-42"}`))
	}))
	defer server.Close()

	adapter := newWebhookAdapter(t, server.URL)
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	output, err := adapter.Execute(context.Background(), rule.Action{
		Framework:  "webhook",
		Name:       "create_ticket",
		Parameters: map[string]interface{}{"priority": "high"},
	}, map[string]interface{}{"customer_id": "c-1"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if gotReq.Action != "create_ticket" {
		t.Errorf("expected action create_ticket, got %s", gotReq.Action)
	}
	if gotReq.Parameters["priority"] != "high" {
		t.Errorf("unexpected parameters: %v", gotReq.Parameters)
	}
	if gotReq.Context["customer_id"] != "c-1" {
		t.Errorf("unexpected context: %v", gotReq.Context)
	}
	if output["ticket_id"] != "T-42" {
		t.Errorf("unexpected output: %v", output)
	}
	if output["status_code"] != http.StatusOK {
		t.Errorf("expected status_code 200, got %v", output["status_code"])
	}
}

func TestWebhookAdapterStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusTooManyRequests, orchestrator.IsThrottled, "throttled"},
		{http.StatusConflict, orchestrator.IsConflict, "conflict"},
		{http.StatusInternalServerError, orchestrator.IsTransient, "transient"},
		{http.StatusBadRequest, orchestrator.IsPermanent, "permanent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			adapter := newWebhookAdapter(t, server.URL)
			_, err := adapter.Execute(context.Background(), rule.Action{Framework: "webhook", Name: "noop"}, nil)
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if !tt.check(err) {
				t.Errorf("status %d classified incorrectly: %v", tt.status, err)
			}
		})
	}
}

func TestWebhookAdapterCapabilities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	adapter, err := NewWebhookAdapter(testLogger(), WebhookConfig{
		Name:         "hook",
		URL:          server.URL,
		Capabilities: []string{"create_ticket"},
	}, nil)
	if err != nil {
		t.Fatalf("NewWebhookAdapter failed: %v", err)
	}

	if _, err := adapter.Execute(context.Background(), rule.Action{Framework: "webhook", Name: "delete_ticket"}, nil); err == nil {
		t.Error("expected unsupported action to be rejected")
	}
	if _, err := adapter.Execute(context.Background(), rule.Action{Framework: "webhook", Name: "create_ticket"}, nil); err != nil {
		t.Errorf("expected supported action to succeed: %v", err)
	}
}

func TestWebhookAdapterHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	adapter := newWebhookAdapter(t, healthy.URL)
	report := adapter.Health(context.Background())
	if !report.Healthy {
		t.Errorf("expected healthy report, got %+v", report)
	}
	if report.Adapter != "hook" || report.Framework != "webhook" {
		t.Errorf("unexpected identity in report: %+v", report)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	adapter = newWebhookAdapter(t, broken.URL)
	if report := adapter.Health(context.Background()); report.Healthy {
		t.Errorf("expected unhealthy report, got %+v", report)
	}
}

func TestWebhookAdapterRequiresURL(t *testing.T) {
	if _, err := NewWebhookAdapter(testLogger(), WebhookConfig{Name: "hook"}, nil); err == nil {
		t.Error("expected missing URL to be rejected")
	}
}
