// Command server starts the MailMind inbox assistant HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ai "github.com/mailmind-app/mailmind/internal/adapter/ai"
	httpserver "github.com/mailmind-app/mailmind/internal/adapter/httpserver"
	"github.com/mailmind-app/mailmind/internal/adapter/mail/gmail"
	"github.com/mailmind-app/mailmind/internal/adapter/repo/postgres"
	qdrantcli "github.com/mailmind-app/mailmind/internal/adapter/vector/qdrant"
	"github.com/mailmind-app/mailmind/internal/app"
	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/observability"
	"github.com/mailmind-app/mailmind/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, AI, indexing and poller instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	userRepo := postgres.NewUserRepo(pool)
	msgRepo := postgres.NewMessageRepo(pool)

	vectors := qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)

	chatClient := ai.NewGroqClient(cfg)
	embedder := ai.NewEmbedCache(ai.NewOpenAIEmbedder(cfg), cfg.EmbedCacheSize)

	queryCache := usecase.NewQueryCache(cfg.CacheTTL)
	history := usecase.NewHistoryStore()
	gate := usecase.NewRateLimitGate(cfg.RateLimitCooldown)

	indexer := usecase.NewIndexer(cfg, msgRepo, vectors, embedder, queryCache)
	lifecycle := usecase.NewManager(cfg, userRepo, indexer, vectors, gate)
	lifecycle.Start()
	defer lifecycle.Stop()

	retriever := usecase.NewRetriever(cfg, vectors, embedder, queryCache)
	answerer := usecase.NewAnswerer(cfg, retriever, chatClient, history, gate)

	mailProvider := gmail.New(cfg)
	poller := usecase.NewPoller(cfg, userRepo, msgRepo, mailProvider, lifecycle)
	if err := poller.StartAll(ctx); err != nil {
		slog.Error("poller startup failed", slog.Any("error", err))
	}
	defer poller.StopAll()

	srv := httpserver.NewServer(cfg, userRepo, msgRepo, mailProvider, lifecycle, poller, answerer, queryCache)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
