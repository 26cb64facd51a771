package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/room4-2/realtime-relay/config"
	"github.com/room4-2/realtime-relay/logging"
	"github.com/room4-2/realtime-relay/metrics"
	"github.com/room4-2/realtime-relay/server"
	"github.com/room4-2/realtime-relay/session"
	"github.com/room4-2/realtime-relay/transcribe"
	"github.com/room4-2/realtime-relay/upstream"
)

func main() {
	bootLog, _ := zap.NewProduction()

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	dialer := upstream.NewDialer(cfg.RealtimeURL, cfg.Model, cfg.OpenAIAPIKey, cfg.UpstreamTimeout)
	api := upstream.NewClient(cfg.APIBaseURL, cfg.OpenAIAPIKey, cfg.UpstreamTimeout, upstream.WithObserver(collector))

	sessionManager, err := session.NewManager(cfg, dialer, api, logger, collector)
	if err != nil {
		logger.Fatal("failed to create session manager", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessionManager.StartCleanupRoutine(ctx)

	opts := []server.Option{server.WithMetrics(collector), server.WithAssistant(api)}
	if cfg.GeminiAPIKey != "" {
		tr, err := transcribe.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("failed to create transcriber", zap.Error(err))
		}
		opts = append(opts, server.WithTranscriber(tr))
	} else {
		logger.Info("GEMINI_API_KEY not set, /transcribe disabled")
	}

	srv := server.NewServer(cfg, sessionManager, api, logger, opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}
