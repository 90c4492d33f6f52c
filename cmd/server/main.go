package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casebase/voicechat/internal/chat"
	"github.com/casebase/voicechat/internal/config"
	"github.com/casebase/voicechat/internal/document"
	"github.com/casebase/voicechat/internal/history"
	"github.com/casebase/voicechat/internal/metrics"
	"github.com/casebase/voicechat/internal/server"
	"github.com/casebase/voicechat/internal/session"
	"github.com/casebase/voicechat/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voicechat"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.HTTP.Address),
		slog.Int("http_port", cfg.HTTP.Port),
		slog.Int("sample_rate", cfg.Speech.SampleRate),
		slog.String("streaming_url", cfg.Speech.StreamingURL),
		slog.String("transcribe_upload_url", cfg.Transcribe.UploadURL),
		slog.String("completion_url", cfg.Completion.URL),
		slog.Float64("silence_threshold", cfg.Session.SilenceThreshold),
		slog.Int("silence_hold_ms", cfg.Session.SilenceHoldMs),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Completion client and conversation orchestrator
	completer, err := chat.NewCompletionClient(chat.CompletionConfig{
		Endpoint: cfg.Completion.URL,
		APIKey:   cfg.Completion.APIKey,
		Timeout:  time.Duration(cfg.Completion.Timeout) * time.Second,
	})
	if err != nil {
		logger.Error("Failed to create completion client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	orchestrator, err := chat.NewOrchestrator(completer)
	if err != nil {
		logger.Error("Failed to create orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Conversation persistence
	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.NewStore(cfg.History.Path)
		if err != nil {
			logger.Error("Failed to create history store", slog.String("error", err.Error()))
			os.Exit(1)
		}

		saved, err := store.LoadMessages()
		if err != nil {
			logger.Warn("Failed to load saved conversation", slog.String("error", err.Error()))
		} else if len(saved) > 0 {
			if err := orchestrator.Restore(saved); err != nil {
				logger.Warn("Failed to restore conversation", slog.String("error", err.Error()))
			} else {
				logger.Info("Conversation restored", slog.Int("messages", len(saved)))
			}
		}
	}

	// Turn-based transcription client
	turnClient, err := transcription.NewTurnClient(transcription.TurnConfig{
		UploadEndpoint:     cfg.Transcribe.UploadURL,
		TranscriptEndpoint: cfg.Transcribe.JobURL,
		APIKey:             cfg.Transcribe.APIKey,
		Timeout:            cfg.Transcribe.GetTimeoutDuration(),
		PollInterval:       cfg.Transcribe.GetPollIntervalDuration(),
		MaxPollRetries:     cfg.Transcribe.MaxPollRetries,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Document registry and uploader
	uploader, err := document.NewHTTPUploader(document.UploaderConfig{
		Endpoint: cfg.Documents.UploadURL,
		APIKey:   cfg.Documents.APIKey,
	})
	if err != nil {
		logger.Error("Failed to create document uploader", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry, err := document.NewRegistry(uploader, cfg.Documents.MaxFileSize, cfg.Documents.AllowedTypes)
	if err != nil {
		logger.Error("Failed to create document registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if store != nil {
		if records, err := store.LoadFiles(); err != nil {
			logger.Warn("Failed to load saved file records", slog.String("error", err.Error()))
		} else if len(records) > 0 {
			registry.Restore(records)
			logger.Info("File records restored", slog.Int("files", len(records)))
		}
	}

	// Optional inbox directory watcher
	if cfg.Documents.InboxDir != "" {
		watcher, err := document.NewWatcher(cfg.Documents.InboxDir, registry)
		if err != nil {
			logger.Error("Failed to create inbox watcher", slog.String("error", err.Error()))
			os.Exit(1)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Inbox watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// Recording session manager. Finished transcripts land in the chat
	// input buffer.
	streamFactory := func() (*transcription.StreamClient, error) {
		return transcription.NewStreamClient(transcription.StreamConfig{
			Endpoint:   cfg.Speech.StreamingURL,
			APIKey:     cfg.Speech.APIKey,
			SampleRate: cfg.Speech.SampleRate,
			Channels:   cfg.Speech.Channels,
			Language:   cfg.Speech.Language,
			Model:      cfg.Speech.Model,
		})
	}

	sessionMgr := session.NewManager(streamFactory, session.Config{
		SilenceThreshold: cfg.Session.SilenceThreshold,
		SilenceHold:      cfg.Session.GetSilenceHoldDuration(),
	}, func(sessionID, transcript string) {
		if transcript != "" {
			orchestrator.AppendPendingInput(transcript)
		}
	})
	logger.Info("Session manager initialized",
		slog.Float64("silence_threshold", cfg.Session.SilenceThreshold),
		slog.Duration("silence_hold", cfg.Session.GetSilenceHoldDuration()),
	)

	// HTTP API server
	httpServer := server.NewHTTPServer(logger, cfg, orchestrator, turnClient, registry,
		sessionMgr, store, appMetrics)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// End any active recording session
	sessionMgr.Stop()

	// Final conversation snapshot
	if store != nil {
		if err := store.SaveMessages(orchestrator.Messages()); err != nil {
			logger.Error("Failed to save conversation", slog.String("error", err.Error()))
		}
		if err := store.SaveFiles(registry.List()); err != nil {
			logger.Error("Failed to save file records", slog.String("error", err.Error()))
		}
	}

	chatStats := orchestrator.GetStats()
	sessionStats := sessionMgr.GetStats()
	logger.Info("Final service statistics",
		slog.Int("messages", chatStats.Messages),
		slog.Uint64("total_sends", chatStats.TotalSends),
		slog.Uint64("failed_sends", chatStats.FailedSends),
		slog.Uint64("total_sessions", sessionStats.TotalSessions),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}
