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

	"github.com/joho/godotenv"

	"github.com/sheetqa/sheetqa/internal/agent"
	"github.com/sheetqa/sheetqa/internal/api"
	"github.com/sheetqa/sheetqa/internal/archive"
	"github.com/sheetqa/sheetqa/internal/auth"
	"github.com/sheetqa/sheetqa/internal/config"
	"github.com/sheetqa/sheetqa/internal/database"
	"github.com/sheetqa/sheetqa/internal/dataset/sqlstore"
	"github.com/sheetqa/sheetqa/internal/introspect"
	"github.com/sheetqa/sheetqa/internal/llm"
	"github.com/sheetqa/sheetqa/internal/materialize"
	"github.com/sheetqa/sheetqa/internal/nl2sql"
	"github.com/sheetqa/sheetqa/internal/observability"
	"github.com/sheetqa/sheetqa/internal/query"
	"github.com/sheetqa/sheetqa/internal/shape"
	s3store "github.com/sheetqa/sheetqa/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sheetqa-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := database.Open(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	dialect := database.NewDialect(cfg.Database.Driver)
	registry := sqlstore.NewRepository(db, dialect)

	generator, err := llm.New(llmConfig(cfg.AI), logger)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("language model api key is not set; queries will be rejected")
		generator = nil
	case err != nil:
		logger.Error("failed to initialize language model", slog.Any("error", err))
		os.Exit(1)
	}

	service := &agent.Service{
		Datasets:     registry,
		Materializer: materialize.New(db, dialect, logger),
		Introspector: introspect.New(db, dialect,
			introspect.WithSampleRows(cfg.Query.SampleRows),
			introspect.WithMaxValueLength(cfg.Query.SampleValueMaxLen),
		),
		Translator: nl2sql.New(generator, dialect, logger),
		Executor:   query.NewExecutor(db, dialect, cfg.Query.AggregateLimit, logger),
		Narrator:   shape.NewNarrator(generator, logger),
		Config: agent.Config{
			DefaultTopK:  cfg.Query.DefaultTopK,
			MaxTopK:      cfg.Query.MaxTopK,
			HeaderOffset: cfg.Ingest.CSVHeaderOffset,
		},
		Logger: logger,
	}
	var storeCheck api.ReadinessCheck
	if cfg.Ingest.ArchiveEnabled {
		objectStore, err := s3store.New(context.Background(), objectStoreConfig(cfg))
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		service.Archive = archive.New(objectStore, logger)
		storeCheck = objectStore.Ping
	}

	deps := api.Dependencies{
		Logger: logger,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(registry.HealthCheck),
			api.CheckObjectStoreConfig(cfg),
			storeCheck,
		),
		DependencyTimeout: time.Second,
		Agent:             service,
	}
	if cfg.Auth.Required {
		verifier, err := buildVerifier(cfg.Auth)
		if err != nil {
			logger.Error("failed to configure authentication", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, verifier)
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
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("db_driver", string(dialect.Driver)))
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

// buildVerifier chains the static key table and the JWT verifier, in that
// order, skipping whichever is not configured.
func buildVerifier(cfg config.AuthConfig) (auth.Verifier, error) {
	var chain auth.Chain
	if cfg.StaticKeys != "" {
		static, err := auth.NewStaticAPIKeyValidator(cfg.StaticKeys)
		if err != nil {
			return nil, err
		}
		chain = append(chain, static)
	}
	if cfg.JWTSecret != "" {
		jwtVerifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.UserClaim)
		if err != nil {
			return nil, err
		}
		chain = append(chain, jwtVerifier)
	}
	if len(chain) == 0 {
		return nil, errors.New("auth is required but neither SHEETQA_AUTH_STATIC_KEYS nor SHEETQA_AUTH_JWT_SECRET is set")
	}
	return chain, nil
}

func llmConfig(cfg config.AIConfig) llm.Config {
	return llm.Config{
		Provider:          llm.Provider(cfg.Provider),
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Models:            append([]string(nil), cfg.Models...),
		Temperature:       cfg.Temperature,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

func objectStoreConfig(cfg config.Config) s3store.Config {
	return s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	}
}
