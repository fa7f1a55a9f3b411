package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	typewriterchat "github.com/MegaGrindStone/typewriter-chat"
	"github.com/MegaGrindStone/typewriter-chat/internal/conversation"
	"github.com/MegaGrindStone/typewriter-chat/internal/handlers"
	"github.com/MegaGrindStone/typewriter-chat/internal/render"
	"github.com/MegaGrindStone/typewriter-chat/internal/reveal"
	"github.com/MegaGrindStone/typewriter-chat/internal/services"
	"github.com/MegaGrindStone/typewriter-chat/internal/stream"
)

const errLoggerKey = "err"

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}
	cfgPath := filepath.Join(cfgDir, "typewriter-chat")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfgFilePath := os.Getenv("TYPEWRITER_CONFIG")
	if cfgFilePath == "" {
		cfgFilePath = filepath.Join(cfgPath, "config.yaml")
	}
	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel)

	producer, err := cfg.Producer.producer()
	if err != nil {
		return fmt.Errorf("error creating producer: %w", err)
	}

	renderer, err := render.New(cfg.Reveal.Renderer)
	if err != nil {
		return err
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	chatURL := cfg.ChatURL
	if chatURL == "" {
		chatURL = "http://localhost:" + cfg.Port + "/chat"
	}
	ingestor, err := stream.NewIngestor(chatURL, stream.WithLogger(logger))
	if err != nil {
		return err
	}

	conv := conversation.New(ingestor, reveal.NewScheduler(reveal.WithLogger(logger)),
		conversation.WithSettings(boltDB),
		conversation.WithLogger(logger),
	)

	m, err := handlers.NewMain(producer, boltDB, conv,
		handlers.WithLogger(logger),
		handlers.WithRenderer(renderer),
		handlers.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)
	if err != nil {
		return err
	}

	staticFS, err := fs.Sub(typewriterchat.StaticFS, "static")
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(m, staticFS),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		conv.Close()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("chatURL", chatURL),
			slog.String("renderer", string(cfg.Reveal.Renderer)))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}
	return nil
}

func setupLogger(logLevel string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
