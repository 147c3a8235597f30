package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transitql/transitql/internal/api"
	"github.com/transitql/transitql/internal/auth"
	"github.com/transitql/transitql/internal/config"
	"github.com/transitql/transitql/internal/engine"
	"github.com/transitql/transitql/internal/ingest"
	"github.com/transitql/transitql/internal/llm"
	"github.com/transitql/transitql/internal/observability"
	"github.com/transitql/transitql/internal/schema"
	s3store "github.com/transitql/transitql/internal/storage/s3"
	"github.com/transitql/transitql/internal/store/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("transitql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := postgres.Open(context.Background(), postgres.DBConfig{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open feed database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ingestOpts := []ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithMaxUncompressedBytes(int64(cfg.Ingest.MaxUncompressedBytes)),
	}
	if cfg.ObjectStore.Enabled {
		archive, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize archive store", slog.Any("error", err))
			os.Exit(1)
		}
		ingestOpts = append(ingestOpts, ingest.WithArchive(archive, cfg.ObjectStore.KeepArchives))
	}
	feeds, err := ingest.NewService(postgres.NewLoader(db), postgres.NewFeedHistory(db), ingestOpts...)
	if err != nil {
		logger.Error("failed to initialize feed ingestion", slog.Any("error", err))
		os.Exit(1)
	}

	catalog := schema.NewCatalog(db)
	executor := postgres.NewExecutor(db,
		postgres.WithStatementTimeout(cfg.Store.StatementTimeout),
		postgres.WithMaxRows(cfg.Store.MaxResultRows),
	)

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(postgres.HealthCheck(db)),
		DependencyTimeout: time.Second,
		Feeds:             feeds,
		Schema:            catalog,
		Executor:          executor,
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize language model gateway", slog.Any("error", err))
		os.Exit(1)
	}
	if gateway != nil {
		answerer, err := engine.New(gateway, executor, catalog, engine.Config{
			MaxRetries:          cfg.Engine.MaxRetries,
			SummaryRows:         cfg.Engine.SummaryRows,
			ValidationRows:      cfg.Engine.ValidationRows,
			GenerationMaxTokens: cfg.Engine.GenerationMaxTokens,
			SummaryMaxTokens:    cfg.Engine.SummaryMaxTokens,
			ValidationMaxTokens: cfg.Engine.ValidationMaxTokens,
		}, engine.WithLogger(logger))
		if err != nil {
			logger.Error("failed to initialize question engine", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Models = gateway
		deps.Engine = answerer
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// newGateway returns nil when no provider has an API key; the chat endpoint
// then reports itself as not configured.
func newGateway(cfg config.Config, logger *slog.Logger) (*llm.Gateway, error) {
	llmCfg := cfg.LLM
	if llmCfg.CatalogFile != "" {
		catalog, err := llm.LoadCatalog(llmCfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		llmCfg = catalog.Apply(llmCfg)
	}

	adapters, err := llm.AdaptersFromConfig(llmCfg, &http.Client{}, logger)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		logger.Warn("no language model provider configured, chat disabled")
		return nil, nil
	}
	return llm.NewGateway(adapters,
		llm.WithTimeout(llmCfg.Timeout),
		llm.WithRateLimit(llmCfg.RatePerSecond, llmCfg.Burst),
		llm.WithGatewayLogger(logger),
	)
}
