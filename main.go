package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seeker/api"
	"seeker/circuitbreaker"
	"seeker/config"
	"seeker/llm"
	"seeker/logger"
	"seeker/metrics"
	"seeker/session"
	"seeker/store"
	"seeker/store/memory"
	"seeker/store/sqlite"
)

const (
	sessionIdleTimeout = 30 * time.Minute
	cleanupInterval    = 5 * time.Minute
)

func main() {
	// Print version information
	fmt.Println(GetBuildInfo())
	fmt.Println()

	// Load configuration with .env support
	cfg, err := config.LoadConfigWithEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := logger.ParseLevel(cfg.LogLevel)
	logger.ConfigureStandardLogger(os.Stdout, level)

	obsLogger, err := logger.NewObservabilityLogger(cfg.LogDir, level, logger.DefaultRotationConfig())
	if err != nil {
		log.Fatalf("Failed to initialize observability logger: %v", err)
	}
	defer obsLogger.Close()

	ctx, appLog := logger.ContextLoggerFromConfig(context.Background(), cfg)
	appLog = appLog.WithComponent("main")

	m := metrics.New(prometheus.DefaultRegisterer)

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.Storage, err)
	}
	defer st.Close()

	health := circuitbreaker.NewHealthManager(circuitbreaker.Config(cfg.CircuitBreaker))
	health.SetObservabilityLogger(obsLogger)
	health.OnFailure(m.EndpointFailed)

	source, err := newTokenSource(ctx, cfg, health)
	if err != nil {
		log.Fatalf("Failed to create %s token source: %v", cfg.Provider, err)
	}

	systemPrompt := llm.BuildSystemPrompt(cfg.PromptOverrides)
	logger.LogSystemPrompt(ctx, appLog, len(systemPrompt))

	sessionOpts := session.Options{
		TitleMaxLength: cfg.TitleMaxLength,
		HistoryLimit:   cfg.HistoryLimit,
		SystemPrompt:   systemPrompt,
		StreamTimeout:  cfg.StreamTimeout,
		Observability:  obsLogger,
		Metrics:        m,
	}
	registry := api.NewRegistry(func(id string) *session.Session {
		return session.New(id, st, source, sessionOpts)
	})
	defer registry.Close()

	handler := api.NewHandler(api.Options{
		Store:          st,
		Registry:       registry,
		Health:         health,
		Metrics:        m,
		Observability:  obsLogger,
		LoggerConfig:   logger.NewConfigAdapter(cfg),
		MetricsHandler: promhttp.Handler(),
		Version:        Version,
	})

	obsLogger.Info(logger.ComponentServer, logger.CategoryRequest, "", "Seeker configuration loaded", map[string]interface{}{
		"provider":        cfg.Provider,
		"model":           cfg.Model,
		"endpoints":       len(cfg.Endpoints),
		"api_key":         config.MaskAPIKey(cfg.APIKey),
		"storage":         cfg.Storage,
		"history_limit":   cfg.HistoryLimit,
		"prompt_override": !cfg.PromptOverrides.IsEmpty(),
		"port":            cfg.Port,
		"version":         GetVersionInfo(),
		"git_commit":      GetGitCommit(),
	})

	// Setup HTTP server with reasonable timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.StreamTimeout + 30*time.Second, // Long timeout for streaming responses
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupSessions(ctx, registry, appLog)

	go func() {
		appLog.Info("Seeker listening on http://localhost:%s (provider %s, storage %s)", cfg.Port, source.Name(), cfg.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obsLogger.Error(logger.ComponentServer, logger.CategoryError, "", "Server failed to start", map[string]interface{}{"error": err.Error()})
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	appLog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Graceful shutdown failed: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		return sqlite.New(cfg.DataDir)
	default:
		return memory.New(), nil
	}
}

func newTokenSource(ctx context.Context, cfg *config.Config, health *circuitbreaker.HealthManager) (llm.TokenSource, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(llm.OpenAIOptions{
			Endpoints:   cfg.Endpoints,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Health:      health,
		}), nil
	case config.ProviderGemini:
		return llm.NewGeminiClient(ctx, llm.GeminiOptions{
			APIKey:      cfg.APIKey,
			Project:     cfg.GCPProject,
			Location:    cfg.GCPLocation,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	case config.ProviderStatic:
		return &llm.StaticSource{Respond: llm.DemoResponse}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// cleanupSessions releases live sessions that have been idle for a while
func cleanupSessions(ctx context.Context, registry *api.Registry, appLog logger.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.CleanupExpiredSessions(sessionIdleTimeout); n > 0 {
				appLog.Debug("Released %d idle sessions", n)
			}
		}
	}
}
