package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bizy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}

	if cfg.Service.Name != "bizy" {
		t.Errorf("expected default service name, got %q", cfg.Service.Name)
	}
	if cfg.Events.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.Events.Backend)
	}
	if cfg.Orchestrator.Strategy != "round_robin" {
		t.Errorf("expected round_robin strategy, got %q", cfg.Orchestrator.Strategy)
	}
	if cfg.Orchestrator.BreakerCooldown != 30*time.Second {
		t.Errorf("expected 30s cooldown, got %v", cfg.Orchestrator.BreakerCooldown)
	}
	if !cfg.API.Enabled || cfg.API.Listen != ":8080" {
		t.Errorf("unexpected api defaults: %+v", cfg.API)
	}
	if cfg.Monitor.Window != 5*time.Minute {
		t.Errorf("expected 5m monitor window, got %v", cfg.Monitor.Window)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
service:
  name: bizy-prod
  environment: production
log:
  level: warn
  format: json
store:
  path: /var/lib/bizy/bizy.db
events:
  backend: redis
  redis:
    addr: localhost:6379
    db: 2
orchestrator:
  strategy: adaptive
  max_parallel: 8
  breaker_cooldown: 1m
adapters:
  webhooks:
    - name: payments-main
      framework: payments
      url: https://payments.internal/hooks
      capabilities: [hold_transaction, refund]
  script:
    enabled: true
    timeout: 5s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Service.Name != "bizy-prod" || cfg.Service.Environment != "production" {
		t.Errorf("unexpected service config: %+v", cfg.Service)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Events.Backend != "redis" || cfg.Events.Redis.Addr != "localhost:6379" || cfg.Events.Redis.DB != 2 {
		t.Errorf("unexpected events config: %+v", cfg.Events)
	}
	// Defaults survive a partial file
	if cfg.Events.Redis.Group != "bizy-consumers" {
		t.Errorf("expected default consumer group, got %q", cfg.Events.Redis.Group)
	}
	if cfg.Orchestrator.MaxParallel != 8 || cfg.Orchestrator.BreakerCooldown != time.Minute {
		t.Errorf("unexpected orchestrator config: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.BreakerThreshold != 5 {
		t.Errorf("expected default breaker threshold, got %d", cfg.Orchestrator.BreakerThreshold)
	}
	if len(cfg.Adapters.Webhooks) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(cfg.Adapters.Webhooks))
	}
	hook := cfg.Adapters.Webhooks[0]
	if hook.Name != "payments-main" || hook.Framework != "payments" || len(hook.Capabilities) != 2 {
		t.Errorf("unexpected webhook config: %+v", hook)
	}
	if !cfg.Adapters.Script.Enabled || cfg.Adapters.Script.Timeout != 5*time.Second {
		t.Errorf("unexpected script config: %+v", cfg.Adapters.Script)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BIZY_LOG__LEVEL", "debug")
	t.Setenv("BIZY_ORCHESTRATOR__MAX_PARALLEL", "16")
	t.Setenv("BIZY_STORE__PATH", "/tmp/override.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected env log level, got %q", cfg.Log.Level)
	}
	if cfg.Orchestrator.MaxParallel != 16 {
		t.Errorf("expected env max_parallel 16, got %d", cfg.Orchestrator.MaxParallel)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("expected env store path, got %q", cfg.Store.Path)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad log level",
			yaml:    "log:\n  level: verbose\n",
			wantErr: "Level",
		},
		{
			name:    "bad strategy",
			yaml:    "orchestrator:\n  strategy: fastest\n",
			wantErr: "Strategy",
		},
		{
			name:    "redis backend without addr",
			yaml:    "events:\n  backend: redis\n",
			wantErr: "redis.addr",
		},
		{
			name:    "llm enabled without key",
			yaml:    "adapters:\n  llm:\n    enabled: true\n",
			wantErr: "api_key",
		},
		{
			name:    "watch without dir",
			yaml:    "rules:\n  watch: true\n",
			wantErr: "rules.dir",
		},
		{
			name:    "webhook without url",
			yaml:    "adapters:\n  webhooks:\n    - name: broken\n",
			wantErr: "URL",
		},
		{
			name:    "otlp tracing without endpoint",
			yaml:    "tracing:\n  enabled: true\n  exporter: otlp\n",
			wantErr: "tracing.endpoint",
		},
		{
			name:    "bad trace exporter",
			yaml:    "tracing:\n  enabled: true\n  exporter: jaeger\n",
			wantErr: "Exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestFindConfigIn(t *testing.T) {
	dir := t.TempDir()
	if got := FindConfigIn(dir); got != "" {
		t.Errorf("expected no config, got %q", got)
	}

	path := filepath.Join(dir, ConfigFileNameAlt)
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if got := FindConfigIn(dir); got != path {
		t.Errorf("expected %q, got %q", path, got)
	}
}
