package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/riskeye/internal/app"
	"github.com/riskeye/internal/config"
	"github.com/riskeye/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml or its directory")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	log.Info("riskeye started",
		zap.String("database", cfg.Database.Driver),
		zap.String("monitor_config", cfg.Monitor.ConfigPath),
		zap.Bool("api", cfg.Server.Enabled),
	)
	if err := a.Run(ctx); err != nil {
		log.Error("riskeye stopped", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
	log.Info("riskeye stopped")
}
