// Command clearstore deletes every user, message and group from the
// configured store. It reads the same configuration as the server.
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/kv"
	"github.com/Tyrowin/zodiacchat/internal/logging"
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := kv.Open(ctx, kv.Options{
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
	defer func() { _ = backend.Close() }()

	if err := store.New(backend).Flush(ctx); err != nil {
		logger.Fatal("clearing store failed", zap.Error(err))
	}
	logger.Info("store cleared", zap.String("store", cfg.Store.Backend))
}
