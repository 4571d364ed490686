package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"welcome/internal/chain"
	"welcome/internal/cli"
	"welcome/internal/config"
	"welcome/internal/logger"
	"welcome/internal/privatestate"
	"welcome/internal/storage"
	"welcome/internal/welcome"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "welcome: %v\n", err)
		os.Exit(1)
	}
}

// run returns once every deferred teardown step has completed.
func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if err := logger.Initialize(cfg.Logger()); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	sqliteStorage, err := storage.NewSqliteStorage(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open storage", zap.String("path", cfg.DBPath), zap.Error(err))
		return err
	}
	defer func() {
		if err := sqliteStorage.Close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	network, err := chain.New(
		chain.WithStorage(sqliteStorage),
		chain.WithBlockTime(cfg.BlockTime),
		chain.WithLogger(logger.Named("chain")),
	)
	if err != nil {
		logger.Error("failed to start network", zap.Error(err))
		return err
	}

	providers := welcome.Providers{
		Network: network,
		PrivateState: privatestate.NewNotifier[welcome.PrivateState](
			logger.Named("private-state"),
			privatestate.NewStorageProvider[welcome.PrivateState](sqliteStorage, cfg.PrivateStateStoreName),
			cfg.RetryPolicy(),
		),
	}
	app := welcome.NewAppProviders(logger.Named("welcome"))

	session := cli.NewSession(ctx, os.Stdin, os.Stdout, providers, app, cli.Options{
		InitialParticipants: cfg.InitialParticipants,
		ActionTimeout:       cfg.ActionTimeout,
	})
	defer session.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("session stopped", zap.Error(err))
		}
		return err
	case <-waitForInterrupt():
		logger.Info("interrupted, shutting down")
		cancel()
		return nil
	}
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
