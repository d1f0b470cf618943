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

	"github.com/lmittmann/tint"
	"github.com/mixelka/inboxtriage/internal/api"
	"github.com/mixelka/inboxtriage/internal/classifier"
	"github.com/mixelka/inboxtriage/internal/config"
	"github.com/mixelka/inboxtriage/internal/database"
	"github.com/mixelka/inboxtriage/internal/email"
	"github.com/mixelka/inboxtriage/internal/formatter"
	"github.com/mixelka/inboxtriage/internal/llm"
	"github.com/mixelka/inboxtriage/internal/parser"
	"github.com/mixelka/inboxtriage/internal/pipeline"
	"github.com/mixelka/inboxtriage/internal/smtp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting inbox triage service")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Resolve mailbox server
	imapServer := cfg.IMAPServer
	if imapServer == "" {
		imapServer, err = email.ResolveIMAPServer(ctx, cfg.IMAPEmail)
		if err != nil {
			logger.Error("failed to resolve IMAP server", "error", err)
			os.Exit(1)
		}
		logger.Info("resolved IMAP server", "server", imapServer)
	}

	// Create components
	reader := email.NewReader(email.ReaderConfig{
		Username:    cfg.IMAPEmail,
		Password:    cfg.IMAPPassword,
		Server:      imapServer,
		TLS:         cfg.IMAPTLS,
		Mailbox:     cfg.IMAPMailbox,
		DialTimeout: cfg.IMAPDialTimeout,
	}, logger)

	llmClient := llm.NewClient(llm.Config{
		APIKey:        cfg.LLMAPIKey,
		BaseURL:       cfg.LLMBaseURL,
		ClassifyModel: cfg.LLMClassifyModel,
		ReplyModel:    cfg.LLMReplyModel,
		Timeout:       cfg.LLMTimeout,
	}, logger)

	htmlParser := parser.NewHTMLParser()

	ingestion := pipeline.New(pipeline.Deps{
		Mailbox:     pipeline.FromReader(reader),
		Extractor:   parser.NewExtractor(htmlParser, logger),
		Classifier:  classifier.New(db, llmClient, cfg.Taxonomy(), logger),
		ReplyStatus: db,
		BatchSize:   cfg.BatchSize,
		Logger:      logger,
	})

	sender := smtp.NewSender(smtp.Config{
		Server:   cfg.SMTPServer,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		TLS:      cfg.SMTPTLS,
		Timeout:  cfg.SMTPTimeout,
	}, logger)

	server := api.NewServer(api.Deps{
		Ingestor:  ingestion,
		Replies:   llmClient,
		Sender:    sender,
		Recorder:  db,
		Seen:      reader,
		Formatter: formatter.NewEmailFormatter(),
		HTML:      htmlParser,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
