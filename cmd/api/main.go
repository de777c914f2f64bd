package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/priynshgupta/zentra-web-chatbot/internal/api"
	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
	"github.com/priynshgupta/zentra-web-chatbot/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to service configuration")
	addr := flag.String("addr", "", "HTTP listen address, overrides configuration")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vector, err := storage.NewQdrantStore(cfg.Vector, logger)
	if err != nil {
		log.Fatalf("failed to initialise vector store: %v", err)
	}

	mapping, err := storage.NewMappingStore(cfg.Mapping)
	if err != nil {
		log.Fatalf("failed to initialise mapping store: %v", err)
	}
	defer mapping.Close()

	var archive storage.PageArchive = storage.NoopArchive{}
	if cfg.DB.DSN != "" {
		sqlArchive, err := storage.NewSQLArchive(cfg.DB)
		if err != nil {
			log.Fatalf("failed to initialise page archive: %v", err)
		}
		archive = sqlArchive
	}
	defer archive.Close()

	manager := api.NewSessionManager(api.ManagerOptions{
		Config:  *cfg,
		Vector:  vector,
		Archive: archive,
		Mapping: mapping,
		Logger:  logger,
		RootCtx: ctx,
	})

	httpServer := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: api.NewServer(manager),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		manager.Shutdown()
	}()

	logger.Info("api server listening", "addr", cfg.API.Addr, "max_sessions", cfg.API.MaxSessions)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("api server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Structured {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
