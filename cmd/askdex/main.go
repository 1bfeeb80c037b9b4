package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/config"
	dbRedis "github.com/kailas-cloud/askdex/internal/db/redis"
	logpkg "github.com/kailas-cloud/askdex/internal/logger"
	"github.com/kailas-cloud/askdex/internal/metrics"
	chunkrepo "github.com/kailas-cloud/askdex/internal/repository/chunk"
	conversationrepo "github.com/kailas-cloud/askdex/internal/repository/conversation"
	sourcerepo "github.com/kailas-cloud/askdex/internal/repository/source"
	chiTransport "github.com/kailas-cloud/askdex/internal/transport/chi"
	"github.com/kailas-cloud/askdex/internal/usecase/answer"
	"github.com/kailas-cloud/askdex/internal/usecase/assembler"
	"github.com/kailas-cloud/askdex/internal/usecase/citation"
	healthuc "github.com/kailas-cloud/askdex/internal/usecase/health"
	"github.com/kailas-cloud/askdex/internal/usecase/ingest"
	"github.com/kailas-cloud/askdex/internal/usecase/planner"
	"github.com/kailas-cloud/askdex/internal/usecase/retrieval"
	usageuc "github.com/kailas-cloud/askdex/internal/usecase/usage"
	"github.com/kailas-cloud/askdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, logpkg.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting askdex API server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.Int("providers", len(cfg.Providers)),
		zap.Int("models", len(cfg.Models)),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		return fmt.Errorf("create database store: %w", err)
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterHTTPMetrics()
	metrics.RegisterModelMetrics()
	metrics.RegisterPipelineMetrics()

	gw, err := buildGateway(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	docEmbedder, queryEmbedder := buildEmbedders(cfg, gw, store, logger)

	sources := sourcerepo.New(store)
	chunks := chunkrepo.New(store, chunkrepo.IndexOptions{
		Name:        cfg.Index.Name,
		Dimensions:  cfg.Index.Dimensions,
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	})
	if err := chunks.EnsureIndex(ctx); err != nil {
		return err
	}

	history, err := conversationrepo.Open(ctx, cfg.Conversation.Path, logger)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	ingestSvc := ingest.New(sources, chunks, docEmbedder,
		ingest.NewSummarizer(gw, cfg.Ingest.SummaryWords, logger),
		ingest.Options{
			ChunkSize:    cfg.Ingest.ChunkSize,
			ChunkOverlap: cfg.Ingest.ChunkOverlap,
			BatchSize:    cfg.Embedding.BatchSize,
			Workers:      cfg.Ingest.Workers,
			QueueSize:    cfg.Ingest.QueueSize,
		}, logger)
	ingestSvc.Start(ctx)
	defer ingestSvc.Close()

	answerSvc := answer.New(
		planner.New(gw, logger),
		retrieval.New(chunks, queryEmbedder, retrieval.Options{
			MinScore:          cfg.Retrieval.MinScore,
			TopN:              cfg.Retrieval.TopN,
			TopK:              cfg.Retrieval.TopK,
			Concurrency:       cfg.Retrieval.Concurrency,
			LexicalSaturation: cfg.Retrieval.LexicalSaturation,
		}, logger),
		assembler.New(sources, chunks, cfg.Context.BudgetTokens, logger),
		gw,
		history,
		citation.NewMapper(logger),
		answer.Options{
			Concurrency:      cfg.Answer.Concurrency,
			ContextBudget:    cfg.Context.BudgetTokens,
			HistoryTurns:     cfg.Conversation.HistoryTurns,
			StrategyModel:    cfg.Answer.StrategyModel,
			AnswerModel:      cfg.Answer.AnswerModel,
			FinalAnswerModel: cfg.Answer.FinalAnswerModel,
		},
		logger,
	)

	usageSvc := usageuc.New(gw)
	healthSvc := healthuc.New(store, history, gw)

	go gw.Run(ctx, time.Duration(cfg.Health.CheckIntervalSec)*time.Second)

	server := chiTransport.NewServer(ingestSvc, answerSvc, gw, usageSvc, healthSvc, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	return nil
}
