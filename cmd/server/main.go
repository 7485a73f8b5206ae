package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/connectedhealth/careengine/config"
	"github.com/connectedhealth/careengine/health"
	"github.com/connectedhealth/careengine/internal/logger"
	"github.com/connectedhealth/careengine/internal/metrics"
	"github.com/connectedhealth/careengine/knowledge"
	"github.com/connectedhealth/careengine/orchestrator"
	"github.com/connectedhealth/careengine/store"
)

// openStore selects the seeded in-memory store or PostgreSQL. An unreachable
// database is not fatal: the engine starts in degraded mode.
func openStore(cfg config.Config) (store.Store, error) {
	if cfg.UsesMemoryStore() {
		data, err := store.LoadSeedFile(cfg.SeedFile, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		logger.Info("using in-memory store", "seed", cfg.SeedFile)
		return store.NewSeededMemoryStore(data), nil
	}
	return store.OpenPostgres(cfg.DatabaseURL)
}

func run(ctx context.Context, cfg config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	monitor := health.New(cfg.ForceDegradedMode, st, cfg.GeminiAPIKey,
		health.WithProbeTimeout(cfg.ProbeTimeout),
		health.WithObserver(func(s health.Snapshot) { m.SetDegraded(s.Degraded) }),
	)
	corpus := knowledge.NewCorpus(cfg.KnowledgeDataDir,
		knowledge.NewInMemoryCorpusCache(knowledge.CacheConfig{TTL: cfg.CorpusCacheTTL}))

	server, err := NewServer(Deps{
		Store:        st,
		Monitor:      monitor,
		Corpus:       corpus,
		Orchestrator: orchestrator.NewClient(cfg.OrchestratorURL, cfg.OrchestratorTimeout),
		Metrics:      m,
		Gatherer:     registry,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	server.Warm(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.OrchestratorTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "degraded", monitor.Degraded())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := logger.Setup(ctx, logger.Options{
		Level:           cfg.LogLevel,
		ErrorSampleRate: cfg.ErrorSampleRate,
		OTELEnabled:     cfg.OTELEnabled,
		ServiceName:     cfg.ServiceName,
	}); err != nil {
		logger.Warn("logger setup failed", "error", err)
	}

	err = run(ctx, cfg)
	if err != nil {
		logger.Error("server exited", "error", err)
	}
	logger.Shutdown(context.Background())
	if err != nil {
		os.Exit(1)
	}
}
