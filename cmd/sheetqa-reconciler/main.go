package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sheetqa/sheetqa/internal/archive"
	"github.com/sheetqa/sheetqa/internal/config"
	"github.com/sheetqa/sheetqa/internal/database"
	"github.com/sheetqa/sheetqa/internal/dataset/sqlstore"
	"github.com/sheetqa/sheetqa/internal/introspect"
	"github.com/sheetqa/sheetqa/internal/materialize"
	"github.com/sheetqa/sheetqa/internal/observability"
	"github.com/sheetqa/sheetqa/internal/reconcile"
	s3store "github.com/sheetqa/sheetqa/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sheetqa-reconciler")
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
	svc := &reconcile.Service{
		Registry: sqlstore.NewRepository(db, dialect),
		Tables:   materialize.New(db, dialect, logger),
		Lister:   introspect.New(db, dialect),
		Config: reconcile.Config{
			Interval:   cfg.Reconciler.Interval,
			StaleAfter: cfg.Reconciler.StaleAfter,
		},
		Logger: logger,
	}
	if cfg.Ingest.ArchiveEnabled {
		store, err := s3store.New(context.Background(), s3store.Config{
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
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		svc.Archive = archive.New(store, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("reconciler started", slog.Duration("interval", cfg.Reconciler.Interval), slog.Duration("stale_after", cfg.Reconciler.StaleAfter))
	if err := svc.Run(ctx); err != nil {
		logger.Error("reconciler failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("reconciler stopped")
}
