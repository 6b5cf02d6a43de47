// CodeHive relay server.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/config"
	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/relay"
)

func main() {
	// .env is optional; the system environment still applies without it.
	_ = godotenv.Load()
	logging.Init("relay")
	defer logging.Sync()

	cfg := config.LoadRelay()
	server := relay.NewServer(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logging.L().Fatal("relay failed", zap.Error(err))
	}
	logging.L().Info("relay shut down")
}
