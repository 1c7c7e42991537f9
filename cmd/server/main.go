package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"intake-triage/internal/config"
	"intake-triage/internal/core"
	"intake-triage/internal/db"
	httpserver "intake-triage/internal/http"
	"intake-triage/internal/llm"
	"intake-triage/internal/logger"
	"intake-triage/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	dbConn, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		zl.Fatal("failed to open database", zap.Error(err))
	}
	defer dbConn.Close()
	dbConn.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbConn.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(pingCtx); err != nil {
		zl.Fatal("failed to ping database", zap.Error(err))
	}
	if err := db.Migrate(ctx, dbConn); err != nil {
		zl.Fatal("failed to run migrations", zap.Error(err))
	}

	repo := db.NewRepository(dbConn)
	notifier := db.NewNotifier(dbConn, cfg.Database.URL, cfg.Database.NotifyChannel, zl)
	go func() {
		if err := notifier.Run(ctx); err != nil {
			zl.Error("notify listener stopped", zap.Error(err))
		}
	}()

	llmClient := llm.NewOpenAIClient(llm.Options{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		ChatModel:    cfg.LLM.ChatModel,
		SummaryModel: cfg.LLM.SummaryModel,
	})
	if !llmClient.Configured() {
		zl.Warn("OPENAI_API_KEY not set, every reply will use fallback triage")
	}
	assessor := core.NewAssessor(llmClient, zl, cfg.LLM.Timeout)
	summarizer := core.NewSummarizer(llmClient, zl)

	srv := httpserver.NewServer(repo, assessor, summarizer, notifier, metrics.NewCollector("intake"), zl, httpserver.Options{
		MessageCap:     cfg.Intake.MessageCap,
		QueueLimit:     cfg.Intake.QueueLimit,
		RatePerSecond:  cfg.RateLimit.RequestsPerSecond,
		RateBurst:      cfg.RateLimit.BurstSize,
		SummaryTimeout: cfg.LLM.Timeout + 10*time.Second,
	})

	httpSrv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		zl.Info("listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
	srv.Wait()
}
