package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/iclab/ppglogger/internal/app"
	"codeberg.org/iclab/ppglogger/internal/config"
	"codeberg.org/iclab/ppglogger/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.ParseLevel(string(cfg.LogLevel)), logger.IsService())
	logger.Debug().Str("config_file", cfg.ConfigFile).Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.ErrorWithCode(err).Msg("failed to initialize")
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		logger.ErrorWithCode(err).Msg("error in main loop")
		cancel()
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
