package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/chat"
	"github.com/Tyrowin/zodiacchat/internal/kv"
	"github.com/Tyrowin/zodiacchat/internal/logging"
	"github.com/Tyrowin/zodiacchat/internal/metrics"
	"github.com/Tyrowin/zodiacchat/internal/registry"
	"github.com/Tyrowin/zodiacchat/internal/sanitize"
	"github.com/Tyrowin/zodiacchat/internal/server"
	"github.com/Tyrowin/zodiacchat/internal/store"
)

func main() {
	cfg, err := server.LoadConfig(os.Args[1:])
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting zodiacchat",
		zap.String("addr", cfg.Port),
		zap.String("store", cfg.Store.Backend))

	backend, err := kv.Open(context.Background(), kv.Options{
		Backend:       cfg.Store.Backend,
		RedisURL:      cfg.Store.RedisURL,
		RedisAddr:     cfg.Store.RedisAddr(),
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		SQLitePath:    cfg.Store.SQLitePath,
	})
	if err != nil {
		logger.Fatal("store connection failed", zap.Error(err))
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	m := metrics.New()
	opts := chat.Options{
		Logger:       logger,
		Metrics:      m,
		HistoryLimit: cfg.HistoryLimit,
	}
	if cfg.SanitizeText {
		opts.Sanitizer = sanitize.New()
	}
	st := store.New(backend)
	svc := chat.New(st, registry.New(), opts)

	hub := server.NewHub(svc, logger, m)
	go hub.Run()

	handlers := server.NewHandlers(cfg, hub, st, logger)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handlers, m.Handler()))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer, logger)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Error("hub shutdown failed", zap.Error(err))
	}
	logger.Info("server exited")
}
