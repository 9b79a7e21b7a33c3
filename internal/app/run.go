package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"grouper-dispatcher/internal/common/logging"
	"grouper-dispatcher/internal/config"
)

// Setup loads .env, initializes logging and returns the validated
// configuration. Callers defer logging.MustSync.
func Setup() (*config.Config, error) {
	// Load environment variables
	_ = godotenv.Load()

	if err := logging.InitGlobalLogger(); err != nil {
		return nil, err
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return nil, err
	}
	return cfg, nil
}

// Run is the main entry point for the dispatcher service. It returns when
// SIGINT or SIGTERM has been handled and the workers have drained.
func Run() error {
	cfg, err := Setup()
	if err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting grouper dispatcher process",
		logging.Int("cpus", runtime.NumCPU()),
		logging.Int("default_threads", cfg.NumThreads),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}

	if err := app.Start(ctx); err != nil {
		logging.Error("Dispatcher stopped with error", err)
		return err
	}

	logging.Info("Dispatcher exited")
	return nil
}
