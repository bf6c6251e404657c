package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bizyhq/bizy/pkg/adapters"
	"github.com/bizyhq/bizy/pkg/api"
	"github.com/bizyhq/bizy/pkg/config"
	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/guard"
	"github.com/bizyhq/bizy/pkg/monitor"
	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
	"github.com/bizyhq/bizy/pkg/stores"
	"github.com/bizyhq/bizy/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration daemon",
		Long: `Run the full orchestration daemon: the HTTP API, the prometheus
metrics endpoint, the configured adapters, the policy guard, the
coordination monitor, and the rule file watcher.

Configuration is read from bizy.yaml (or --config), with BIZY_*
environment variables taking precedence.`,
		Example: `  # Serve with the config file in the working directory
  bizy serve

  # Serve with an explicit config
  bizy serve --config /etc/bizy/bizy.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, version)
		},
	}

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, version string) error {
	tlog, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr",
	})
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	logger := tlog.Zerolog()

	logger.Info().
		Str("service", cfg.Service.Name).
		Str("environment", cfg.Service.Environment).
		Msg("Starting orchestration daemon")

	// Metrics
	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics, err = telemetry.NewMetrics(telemetry.MetricsConfig{
			Enabled:       true,
			ListenAddress: cfg.Metrics.Listen,
			Path:          cfg.Metrics.Path,
			Namespace:     "bizy",
		})
		if err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
		if err := metrics.StartMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Tracing
	var tracer *telemetry.Tracer
	if cfg.Tracing.Enabled {
		tracer, err = telemetry.NewTracer(telemetry.TracingConfig{
			Enabled:            true,
			Exporter:           cfg.Tracing.Exporter,
			Endpoint:           cfg.Tracing.Endpoint,
			SamplingRate:       cfg.Tracing.SamplingRate,
			Insecure:           cfg.Tracing.Insecure,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		}, cfg.Service.Name, version, cfg.Service.Environment)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracer.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
	}

	// Store
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	// Event bus
	bus, err := buildBus(logger, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()
	if mb, ok := bus.(*events.MemoryBus); ok && metrics != nil {
		mb.OnDrop(func(eventType events.Type) {
			metrics.RecordEventDropped(string(eventType))
		})
	}

	// Persist every published event to the durable log via the router,
	// and prune old events when a retention window is configured.
	router := events.NewRouter(logger, bus)
	if err := router.AddRoute(events.Route{
		ID:      "persist-events",
		Enabled: true,
		Handler: func(ctx context.Context, e events.Event) error {
			return store.AppendEvent(ctx, &e)
		},
	}); err != nil {
		return err
	}
	router.Start(ctx)
	defer router.Stop()
	if cfg.Events.Retention > 0 {
		go pruneEvents(ctx, logger, store, cfg.Events.Retention)
	}

	// Adapters
	registry := adapters.NewRegistry(logger, bus)
	if err := registerAdapters(logger, registry, cfg); err != nil {
		return err
	}
	if err := registry.ConnectAll(ctx); err != nil {
		logger.Warn().Err(err).Msg("Some adapters failed to connect")
	}
	defer registry.DisconnectAll(context.Background())

	// Guard
	var g orchestrator.Guard
	if cfg.Guard.Enabled {
		engine, err := guard.NewEngine(guard.Config{
			AllowedFrameworks: cfg.Guard.AllowedFrameworks,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to set up guard: %w", err)
		}
		if len(cfg.Guard.PolicyPaths) > 0 {
			if err := engine.LoadPolicies(ctx, cfg.Guard.PolicyPaths); err != nil {
				return fmt.Errorf("failed to load guard policies: %w", err)
			}
		}
		g = engine
	}

	// Orchestrator
	orch, err := orchestrator.New(logger, orchestrator.Options{
		Registry:         registry,
		Guard:            g,
		Store:            store,
		Bus:              bus,
		Metrics:          metrics,
		Tracer:           tracer,
		Strategy:         orchestrator.Strategy(cfg.Orchestrator.Strategy),
		MaxParallel:      cfg.Orchestrator.MaxParallel,
		BreakerThreshold: cfg.Orchestrator.BreakerThreshold,
		BreakerCooldown:  cfg.Orchestrator.BreakerCooldown,
	})
	if err != nil {
		return err
	}

	// Rules from disk
	if cfg.Rules.Dir != "" {
		if err := loadRuleDir(ctx, logger, store, bus, metrics, cfg.Rules.Dir); err != nil {
			return err
		}
	}
	if cfg.Rules.Watch {
		watcher := rule.NewWatcher(logger, rule.NewParser())
		reload := func(rules []rule.Rule) error {
			return saveRules(ctx, store, bus, metrics, rules)
		}
		if err := watcher.Watch(ctx, []string{cfg.Rules.Dir}, reload); err != nil {
			return fmt.Errorf("failed to watch rules: %w", err)
		}
		defer watcher.Stop()
	}

	// Coordination monitor
	if cfg.Monitor.Enabled {
		mon := monitor.New(monitor.Options{
			Bus:           bus,
			Metrics:       metrics,
			Thresholds:    monitorThresholds(cfg),
			Window:        cfg.Monitor.Window,
			SweepInterval: cfg.Monitor.SweepInterval,
		}, logger)
		if err := mon.Start(ctx); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
		defer mon.Stop()
	}

	// Periodic adapter health checks feed the balancer and metrics.
	if cfg.Orchestrator.HealthInterval > 0 {
		orch.StartHealthLoop(ctx, cfg.Orchestrator.HealthInterval)
	}

	// HTTP API
	if cfg.API.Enabled {
		server, err := api.NewServer(api.Config{
			Listen:       cfg.API.Listen,
			Orchestrator: orch,
			Store:        store,
			Registry:     registry,
			Bus:          bus,
			Metrics:      metrics,
		}, logger)
		if err != nil {
			return err
		}
		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("api server failed: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("API server shutdown failed")
		}
	} else {
		<-ctx.Done()
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

// buildBus creates the configured event bus backend.
func buildBus(logger zerolog.Logger, cfg *config.Config) (events.Bus, error) {
	switch cfg.Events.Backend {
	case "redis":
		return events.NewRedisBus(logger, events.RedisBusConfig{
			Addr:     cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Prefix:   cfg.Events.Redis.Prefix,
			Group:    cfg.Events.Redis.Group,
		})
	default:
		return events.NewMemoryBusSize(logger, cfg.Events.HistorySize), nil
	}
}

// registerAdapters builds and registers every configured adapter.
func registerAdapters(logger zerolog.Logger, registry *adapters.Registry, cfg *config.Config) error {
	for _, decl := range cfg.Adapters.Memory {
		name, framework := splitNameFramework(decl)
		if err := registry.Register(adapters.NewMemoryAdapter(logger, name, framework)); err != nil {
			return err
		}
	}

	for _, wc := range cfg.Adapters.Webhooks {
		adapter, err := adapters.NewWebhookAdapter(logger, adapters.WebhookConfig{
			Name:         wc.Name,
			Framework:    wc.Framework,
			URL:          wc.URL,
			Headers:      wc.Headers,
			HealthPath:   wc.HealthPath,
			Capabilities: wc.Capabilities,
		}, nil)
		if err != nil {
			return fmt.Errorf("invalid webhook adapter %s: %w", wc.Name, err)
		}
		if err := registry.Register(adapter); err != nil {
			return err
		}
	}

	if cfg.Adapters.LLM.Enabled {
		adapter, err := adapters.NewLLMAdapter(logger, adapters.LLMConfig{
			Name:      cfg.Adapters.LLM.Name,
			APIKey:    cfg.Adapters.LLM.APIKey,
			Model:     cfg.Adapters.LLM.Model,
			MaxTokens: cfg.Adapters.LLM.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("invalid llm adapter: %w", err)
		}
		if err := registry.Register(adapter); err != nil {
			return err
		}
	}

	if cfg.Adapters.Script.Enabled {
		name := cfg.Adapters.Script.Name
		if name == "" {
			name = "script"
		}
		if err := registry.Register(adapters.NewScriptAdapter(logger, name, cfg.Adapters.Script.Timeout)); err != nil {
			return err
		}
	}

	return nil
}

// loadRuleDir parses and stores every rule file in dir.
func loadRuleDir(ctx context.Context, logger zerolog.Logger, store *stores.SQLiteStore, bus events.Bus, metrics *telemetry.Metrics, dir string) error {
	rules, err := rule.NewParser().ParseDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load rules from %s: %w", dir, err)
	}
	if err := saveRules(ctx, store, bus, metrics, rules); err != nil {
		return err
	}
	logger.Info().Int("count", len(rules)).Str("dir", dir).Msg("Rules loaded")
	return nil
}

// saveRules validates and upserts a rule set into the store.
func saveRules(ctx context.Context, store *stores.SQLiteStore, bus events.Bus, metrics *telemetry.Metrics, rules []rule.Rule) error {
	validator := rule.NewValidator(nil)
	results, err := validator.ValidateBatch(rules)
	if err != nil {
		return err
	}
	for _, res := range results {
		if !res.Valid() {
			return fmt.Errorf("rule %s is invalid: %v", res.RuleID, res.Errors)
		}
	}
	for i := range rules {
		if err := store.SaveRule(ctx, &rules[i]); err != nil {
			return fmt.Errorf("failed to store rule %s: %w", rules[i].ID, err)
		}
	}
	if metrics != nil {
		metrics.SetRulesLoaded(float64(len(rules)))
	}
	if bus != nil {
		_ = bus.Publish(ctx, events.New(events.TypeRulesLoaded, "rule-loader", map[string]interface{}{
			"count": len(rules),
		}))
	}
	return nil
}

// pruneEvents periodically deletes stored events older than the retention
// window.
func pruneEvents(ctx context.Context, logger zerolog.Logger, store *stores.SQLiteStore, retention time.Duration) {
	interval := retention / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.PruneEvents(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn().Err(err).Msg("Event pruning failed")
				continue
			}
			if pruned > 0 {
				logger.Debug().Int64("pruned", pruned).Msg("Old events pruned")
			}
		}
	}
}

// monitorThresholds applies config overrides onto the default tuning.
func monitorThresholds(cfg *config.Config) monitor.Thresholds {
	t := monitor.DefaultThresholds()
	if cfg.Monitor.ErrorRate > 0 {
		t.ErrorRate = cfg.Monitor.ErrorRate
	}
	return t
}
