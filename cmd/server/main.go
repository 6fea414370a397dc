package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openrally/lobby-backend/internal/config"
	"github.com/openrally/lobby-backend/internal/httpapi"
	"github.com/openrally/lobby-backend/internal/hub"
	"github.com/openrally/lobby-backend/internal/protocol"
	"github.com/openrally/lobby-backend/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	// The server-side launch hook. Scene loading belongs to the game
	// process; the backend just records the handoff.
	launcher := session.LaunchFunc(func(localCar protocol.Car, grid []protocol.GridEntry) {
		log.Info("race starting",
			zap.String("host_car", string(localCar)),
			zap.Int("grid", len(grid)))
	})

	h := hub.NewHub(ctx, cfg.Catalog(), launcher, log)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, cfg.OriginPatterns, log)

	log.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}
