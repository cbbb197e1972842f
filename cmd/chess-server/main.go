package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/park285/cheese-arena/internal/app"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, obslog.L())
	if err != nil {
		obslog.L().Fatal("app_init_failed", zap.Error(err))
	}
	defer a.Close()

	obslog.L().Info("server_start",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("store", cfg.StoreDriver),
	)
	if err := a.Run(ctx); err != nil {
		obslog.L().Error("server_stopped", zap.Error(err))
		return
	}
	obslog.L().Info("server_stop")
}
