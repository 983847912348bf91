package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tablechat/tablechat/internal/api"
	"github.com/tablechat/tablechat/internal/archive"
	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/exec"
	"github.com/tablechat/tablechat/internal/history"
	"github.com/tablechat/tablechat/internal/ingest"
	"github.com/tablechat/tablechat/internal/nl2sql"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/schema"
	"github.com/tablechat/tablechat/internal/store/postgres"
	"github.com/tablechat/tablechat/internal/workspace"
)

func main() {
	cfg, err := config.LoadFromEnv("tablechat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := postgres.Open(context.Background(), postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	completer, err := nl2sql.NewOpenAICompleter(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}

	generator := nl2sql.NewGenerator(completer, float32(cfg.AI.Temperature), cfg.AI.MaxTokens, logger)
	classifier := nl2sql.NewIntentClassifier(completer, logger)
	responder := nl2sql.NewChatResponder(completer, logger)
	formatter := nl2sql.NewFormatter(completer, cfg.Pipeline.MaxAnswerRows, logger)
	summarizer := nl2sql.NewSummarizer(completer)

	turns := history.NewLog(db, cfg.Pipeline.HistoryLimit, cfg.Pipeline.SummaryThreshold, summarizer)
	inspector := schema.NewInspector(db, cfg.Pipeline.SchemaMaxUniqueValues, logger)
	executor := exec.New(db, cfg.Pipeline.QueryTimeout, logger)
	askService := pipeline.NewService(inspector, generator, executor, formatter, classifier, responder, turns, logger)
	workspaces := workspace.NewManager(db, logger)

	var archiver *archive.Archiver
	if strings.TrimSpace(cfg.Uploads.Endpoint) == "" {
		logger.Info("upload archive disabled: no object store endpoint configured")
	} else {
		store, err := archive.NewS3Store(context.Background(), archive.S3Config{
			Endpoint:         cfg.Uploads.Endpoint,
			Region:           cfg.Uploads.Region,
			Bucket:           cfg.Uploads.Bucket,
			AccessKeyID:      cfg.Uploads.AccessKeyID,
			SecretAccessKey:  cfg.Uploads.SecretAccessKey,
			UseSSL:           cfg.Uploads.UseSSL,
			AutoCreateBucket: cfg.Uploads.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize upload archive", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = archive.New(store)
	}
	ingestor := ingest.NewService(db, archiver, logger)

	deps := api.Dependencies{
		Logger:     logger,
		Pipeline:   askService,
		Schemas:    inspector,
		Workspaces: workspaces,
		Turns:      turns,
		Ingestor:   ingestor,
		Executor:   executor,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseDSN(cfg),
			api.CheckAIConfig(cfg),
			db.PingContext,
		),
		DependencyTimeout: time.Second,
		MaxUploadBytes:    cfg.Uploads.MaxUploadBytes,
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
