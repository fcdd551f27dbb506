package main

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/mbracero/fresco/internal/api"
	"github.com/mbracero/fresco/internal/backends/anthropic"
	"github.com/mbracero/fresco/internal/backends/local"
	"github.com/mbracero/fresco/internal/backends/mediasvc"
	"github.com/mbracero/fresco/internal/backends/memory"
	"github.com/mbracero/fresco/internal/config"
	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/internal/logging"
	"github.com/mbracero/fresco/internal/recorder"
	"github.com/mbracero/fresco/internal/schedule"
	"github.com/mbracero/fresco/internal/secrets"
	"github.com/mbracero/fresco/internal/store"
	"github.com/mbracero/fresco/internal/streaming"
	"github.com/mbracero/fresco/internal/validation"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the FRESCO API server, run engine, and scheduler",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   8420,
				Sources: cli.EnvVars("FRESCO_HTTP_PORT"),
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the libsql database file",
				Sources: cli.EnvVars("FRESCO_DB_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("FRESCO_LOG_LEVEL"),
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, command *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if command.IsSet("port") {
		cfg.HTTPPort = command.Int("port")
	}
	if command.IsSet("db") {
		cfg.Store.Path = command.String("db")
	}
	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}

	logger := logging.Setup(cfg.LogLevel)
	slog.SetDefault(logger)

	st, err := store.NewLibSQLStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close store", slog.String("error", err.Error()))
		}
	}()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	if cfg.Vault.Enabled() {
		vault, err := newVault(cfg, st)
		if err != nil {
			return err
		}
		if err := loadVaultCredentials(ctx, vault, cfg, logger); err != nil {
			return err
		}
	}

	hub := streaming.NewMemoryHub()

	registry, credentials := buildRegistry(cfg, logger)
	manager, err := buildManager(cfg, registry, credentials, logger, recorder.NewMulti(
		recorder.NewSlog(logger),
		recorder.NewStoreRecorder(st, logger),
		recorder.NewStreamRecorder(hub),
	))
	if err != nil {
		return err
	}

	graphValidator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}

	runs := api.NewRunService(st, manager, graphValidator, logger)

	if cfg.Scheduler.Enabled {
		cronSched := schedule.NewScheduler(st, runs, logger)
		if err := cronSched.RecoverMissed(ctx); err != nil {
			logger.WarnContext(ctx, "missed job recovery failed", slog.String("error", err.Error()))
		}
		if err := cronSched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := cronSched.Stop(); err != nil {
				logger.ErrorContext(ctx, "failed to stop scheduler", slog.String("error", err.Error()))
			}
		}()
	}

	srv := api.NewAPI(logger, st, runs, hub, graphValidator)
	app := srv.App()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.ListenAddr())
	}()
	logger.InfoContext(ctx, "fresco server listening", slog.String("addr", cfg.ListenAddr()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

// loadVaultCredentials merges vault-held credentials into the config.
// Keys named "anthropic.<credential>" become inference API keys and
// "mediasvc.token" becomes the media service token. Environment-provided
// values win over vault values.
func loadVaultCredentials(ctx context.Context, vault *secrets.Vault, cfg *config.Config, logger *slog.Logger) error {
	keys, err := vault.Names(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		value, err := vault.Get(ctx, key)
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(key, "anthropic."):
			name := strings.TrimPrefix(key, "anthropic.")
			if cfg.Anthropic.APIKeys == nil {
				cfg.Anthropic.APIKeys = make(map[string]string)
			}
			if _, exists := cfg.Anthropic.APIKeys[name]; !exists {
				cfg.Anthropic.APIKeys[name] = string(value)
			}
		case key == "mediasvc.token":
			if cfg.MediaSvc.Token == "" {
				cfg.MediaSvc.Token = string(value)
			}
		default:
			logger.Debug("unrecognized vault key", slog.String("key", key))
		}
	}
	return nil
}

// buildRegistry binds each task kind to its configured backend. Unconfigured
// remote concerns fall back to the in-memory backend so a bare server still
// answers every kind.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*engine.BackendRegistry, []string) {
	registry := engine.NewBackendRegistry()
	fallback := memory.New()

	localBackend := local.New(local.Config{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
		ScratchDir:  cfg.Media.ScratchDir,
	})
	for _, kind := range localBackend.Kinds() {
		registry.Register(kind, localBackend)
	}

	if cfg.MediaSvc.BaseURL != "" {
		remote := mediasvc.New(mediasvc.Config{
			BaseURL:        cfg.MediaSvc.BaseURL,
			Token:          cfg.MediaSvc.Token,
			RequestTimeout: cfg.MediaSvc.RequestTimeout,
		})
		registry.Register(engine.TaskKindCropRemote, remote)
		registry.Register(engine.TaskKindFrameRemote, remote)
	} else {
		logger.Warn("media service not configured, remote media tasks use the memory backend")
		registry.Register(engine.TaskKindCropRemote, fallback)
		registry.Register(engine.TaskKindFrameRemote, fallback)
	}

	credentials := []string{"primary"}
	if len(cfg.Anthropic.APIKeys) > 0 {
		infer := anthropic.New(anthropic.Config{
			Credentials:       cfg.Anthropic.APIKeys,
			DefaultCredential: cfg.Anthropic.DefaultCredential,
			DefaultModel:      cfg.Anthropic.DefaultModel,
		})
		registry.Register(engine.TaskKindInference, infer)
		credentials = credentialOrder(cfg.Anthropic)
	} else {
		logger.Warn("no inference credentials configured, inference tasks use the memory backend")
		registry.Register(engine.TaskKindInference, fallback)
	}

	return registry, credentials
}

// credentialOrder puts the default credential first so failover starts there.
func credentialOrder(cfg config.AnthropicConfig) []string {
	rest := make([]string, 0, len(cfg.APIKeys))
	for name := range cfg.APIKeys {
		if name != cfg.DefaultCredential {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append([]string{cfg.DefaultCredential}, rest...)
}

// buildManager assembles the dispatcher, executors, and run scheduler.
func buildManager(
	cfg *config.Config,
	registry *engine.BackendRegistry,
	credentials []string,
	logger *slog.Logger,
	rec recorder.RunRecorder,
) (*engine.Manager, error) {
	breakerCfg := engine.DefaultCircuitBreakerConfig()
	breakerCfg.FailureThreshold = cfg.Dispatch.FailureThreshold
	breakerCfg.Cooldown = cfg.Dispatch.BreakerCooldown
	breakers := engine.NewCircuitBreakerRegistry(breakerCfg)

	dispatchCfg := engine.DefaultDispatcherConfig()
	dispatchCfg.PollInterval = cfg.Dispatch.PollInterval
	dispatchCfg.Retry = engine.RetryPolicy{
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		BaseDelay:     cfg.Dispatch.BaseDelay,
		MaxDelay:      cfg.Dispatch.MaxDelay,
		BackoffFactor: 2,
	}
	dispatcher := engine.NewDispatcher(registry, breakers, logger, dispatchCfg)

	executors, err := engine.NewExecutors(dispatcher, logger, credentials)
	if err != nil {
		return nil, err
	}

	scheduler := engine.NewScheduler(executors, rec, logger, cfg.Engine.MaxConcurrency)
	return engine.NewManager(scheduler, logger, cfg.Engine.RunTimeout), nil
}
