package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dredigo/internal/command"
	"dredigo/internal/config"
	"dredigo/internal/logging"
	"dredigo/internal/metrics"
	"dredigo/internal/pubsub"
	"dredigo/internal/store"
	"dredigo/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	metricsRegistry := metrics.NewRegistry()

	storage := store.NewStorage(cfg.Store.DBCount)
	hub := pubsub.NewHub(cfg.PubSub.ShardCount, cfg.PubSub.BroadcastQueueSize, cfg.PubSub.BroadcastWorkers, metricsRegistry)
	hub.StartWorkers()

	dispatcher := command.NewDispatcher(storage, hub, metricsRegistry)
	transportServer := transport.NewServer(cfg, logger, hub, dispatcher, metricsRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go store.RunExpirer(ctx, storage, cfg.Store.ExpireInterval, func(n int) {
		if metricsRegistry != nil {
			metricsRegistry.Store.KeysExpiredTotal.Add(float64(n))
		}
	})

	if cfg.Metrics.ProcessSample > 0 {
		go metricsRegistry.SampleProcess(ctx, cfg.Metrics.ProcessSample)
	}

	if err := transportServer.Start(ctx); err != nil {
		logger.Fatal("transport start failed", zap.Error(err))
	}

	startedAt := time.Now()

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- runHTTPServer(ctx, cfg, transportServer, metricsRegistry, startedAt, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
		stop()
	}

	transportServer.Stop()
	logger.Info("transport stopped")
}

func runHTTPServer(ctx context.Context, cfg config.Config, transportServer *transport.Server, metricsRegistry *metrics.Registry, startedAt time.Time, logger *zap.Logger) error {
	if !cfg.Metrics.Enabled {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":      "healthy",
			"uptime":      time.Since(startedAt).String(),
			"connections": transportServer.ActiveConnections(),
		})
	})

	mux.Handle(cfg.Metrics.Endpoint, metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
