package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config file names searched in the working directory.
const (
	ConfigFileName    = "bizy.yaml"
	ConfigFileNameAlt = "bizy.yml"
)

// envPrefix namespaces environment overrides, e.g. BIZY_STORE__PATH.
const envPrefix = "BIZY_"

// Config is the daemon configuration.
type Config struct {
	Service      ServiceConfig      `koanf:"service"`
	Log          LogConfig          `koanf:"log"`
	Store        StoreConfig        `koanf:"store"`
	Events       EventsConfig       `koanf:"events"`
	Rules        RulesConfig        `koanf:"rules"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Guard        GuardConfig        `koanf:"guard"`
	Adapters     AdaptersConfig     `koanf:"adapters"`
	API          APIConfig          `koanf:"api"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Tracing      TracingConfig      `koanf:"tracing"`
	Monitor      MonitorConfig      `koanf:"monitor"`
}

// ServiceConfig identifies the deployment.
type ServiceConfig struct {
	Name        string `koanf:"name" validate:"required"`
	Environment string `koanf:"environment" validate:"oneof=development staging production"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// EventsConfig selects and tunes the event bus backend.
type EventsConfig struct {
	Backend     string      `koanf:"backend" validate:"oneof=memory redis"`
	HistorySize int         `koanf:"history_size" validate:"gte=0"`
	Redis       RedisConfig `koanf:"redis"`

	// Retention prunes stored events older than this age. Zero keeps
	// everything.
	Retention time.Duration `koanf:"retention" validate:"gte=0"`
}

// RedisConfig configures the Redis streams bus.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
	Prefix   string `koanf:"prefix"`
	Group    string `koanf:"group"`
}

// RulesConfig configures rule loading.
type RulesConfig struct {
	// Dir holds the YAML rule files loaded at startup.
	Dir string `koanf:"dir"`

	// Watch reloads rules when files under Dir change.
	Watch bool `koanf:"watch"`
}

// OrchestratorConfig tunes execution behavior.
type OrchestratorConfig struct {
	Strategy         string        `koanf:"strategy" validate:"oneof=round_robin random least_connections weighted response_time adaptive"`
	MaxParallel      int           `koanf:"max_parallel" validate:"gte=0"`
	BreakerThreshold int           `koanf:"breaker_threshold" validate:"gte=0"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown" validate:"gte=0"`
	HealthInterval   time.Duration `koanf:"health_interval" validate:"gte=0"`
}

// GuardConfig configures the policy gate.
type GuardConfig struct {
	Enabled           bool     `koanf:"enabled"`
	AllowedFrameworks []string `koanf:"allowed_frameworks"`
	PolicyPaths       []string `koanf:"policy_paths"`
}

// AdaptersConfig declares the adapters registered at startup.
type AdaptersConfig struct {
	// Memory lists in-process adapters by "name:framework" or plain name.
	Memory []string `koanf:"memory"`

	Webhooks []WebhookConfig `koanf:"webhooks" validate:"dive"`
	LLM      LLMConfig       `koanf:"llm"`
	Script   ScriptConfig    `koanf:"script"`
}

// WebhookConfig declares one HTTP-backed framework adapter.
type WebhookConfig struct {
	Name         string            `koanf:"name" validate:"required"`
	Framework    string            `koanf:"framework"`
	URL          string            `koanf:"url" validate:"required,url"`
	HealthPath   string            `koanf:"health_path"`
	Headers      map[string]string `koanf:"headers"`
	Capabilities []string          `koanf:"capabilities"`
}

// LLMConfig declares the language-model adapter.
type LLMConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Name      string `koanf:"name"`
	APIKey    string `koanf:"api_key"`
	Model     string `koanf:"model"`
	MaxTokens int64  `koanf:"max_tokens" validate:"gte=0"`
}

// ScriptConfig declares the Starlark adapter.
type ScriptConfig struct {
	Enabled bool          `koanf:"enabled"`
	Name    string        `koanf:"name"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"`
	Path    string `koanf:"path"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Exporter     string  `koanf:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `koanf:"endpoint"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `koanf:"insecure"`
}

// MonitorConfig configures pattern detection.
type MonitorConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Window        time.Duration `koanf:"window" validate:"gte=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gte=0"`
	ErrorRate     float64       `koanf:"error_rate" validate:"gte=0,lte=1"`
}

// defaults are loaded below both the config file and the environment.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"service.name":                   "bizy",
		"service.environment":            "development",
		"log.level":                      "info",
		"log.format":                     "console",
		"store.path":                     "bizy.db",
		"events.backend":                 "memory",
		"events.history_size":            1000,
		"events.retention":               "0s",
		"events.redis.prefix":            "bizy",
		"events.redis.group":             "bizy-consumers",
		"rules.watch":                    false,
		"orchestrator.strategy":          "round_robin",
		"orchestrator.max_parallel":      4,
		"orchestrator.breaker_threshold": 5,
		"orchestrator.breaker_cooldown":  "30s",
		"orchestrator.health_interval":   "30s",
		"guard.enabled":                  false,
		"adapters.llm.model":             "claude-3-5-haiku-latest",
		"adapters.llm.max_tokens":        1024,
		"adapters.script.timeout":        "10s",
		"api.enabled":                    true,
		"api.listen":                     ":8080",
		"metrics.enabled":                true,
		"metrics.listen":                 ":9090",
		"metrics.path":                   "/metrics",
		"tracing.enabled":                false,
		"tracing.exporter":               "none",
		"tracing.sampling_rate":          1.0,
		"monitor.enabled":                true,
		"monitor.window":                 "5m",
		"monitor.sweep_interval":         "30s",
		"monitor.error_rate":             0.1,
	}
}

// Load reads configuration with precedence: env vars over the config file
// over defaults. An empty path searches the working directory for
// bizy.yaml / bizy.yml; a missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configFile := findConfigFile(path)
	if path != "" && configFile == "" {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	// BIZY_STORE__PATH -> store.path. Double underscore separates nesting
	// levels since key names themselves contain underscores.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Events.Backend == "redis" && c.Events.Redis.Addr == "" {
		return fmt.Errorf("events.redis.addr is required with the redis backend")
	}
	if c.Adapters.LLM.Enabled && c.Adapters.LLM.APIKey == "" {
		return fmt.Errorf("adapters.llm.api_key is required when the llm adapter is enabled")
	}
	if c.Rules.Watch && c.Rules.Dir == "" {
		return fmt.Errorf("rules.dir is required when rules.watch is enabled")
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required with the otlp exporter")
	}
	return nil
}

// findConfigFile resolves the config file to load. An explicit path wins;
// otherwise the working directory is searched.
func findConfigFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// FindConfigIn reports whether a config file exists in the directory and
// returns its path.
func FindConfigIn(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
