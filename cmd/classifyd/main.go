// Command classifyd serves image classification over HTTP and runs
// classification jobs whose status snapshots clients poll.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"casewatch/internal/classifier"
	"casewatch/internal/classifyd"
	"casewatch/internal/config"
	"casewatch/internal/jobstore"
	"casewatch/internal/logging"
	"casewatch/internal/services"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(os.Getenv("CASEWATCH_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("create directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg, "classifyd")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	cls, err := classifier.FromConfig(cfg)
	if err != nil {
		logger.Error("configure classifier", logging.Error(err))
		os.Exit(services.ExitConfiguration)
	}

	store, err := jobstore.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		os.Exit(services.ExitFailure)
	}
	defer store.Close()

	srv, err := classifyd.New(cfg, cls, store, logger)
	if err != nil {
		logger.Error("create server", logging.Error(err))
		os.Exit(services.ExitFailure)
	}
	if err := srv.Start(ctx); err != nil {
		code := services.ExitFailure
		if errors.Is(err, classifyd.ErrAlreadyRunning) {
			code = services.ExitConfiguration
		}
		logger.Error("start classifyd", logging.Error(err))
		store.Close()
		os.Exit(code)
	}

	<-ctx.Done()
	logger.Info("classifyd shutting down")
	srv.Stop()
}
