package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lemline/lemline/cmd/runner/activity"
	"github.com/lemline/lemline/cmd/runner/consumer"
	"github.com/lemline/lemline/cmd/runner/definitions"
	"github.com/lemline/lemline/cmd/runner/ops"
	"github.com/lemline/lemline/cmd/runner/outbox"
	"github.com/lemline/lemline/common/broker"
	"github.com/lemline/lemline/common/config"
	"github.com/lemline/lemline/common/db"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/repository"
	"github.com/lemline/lemline/common/secrets"
	"github.com/lemline/lemline/common/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("lemline-runner")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		defStore repository.DefinitionStore
		retries  repository.OutboxStore
		waits    repository.OutboxStore
		checks   = map[string]ops.HealthChecker{}
	)

	switch cfg.Database.Type {
	case "postgresql":
		database, err := db.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		checks["database"] = database

		defRepo := repository.NewDefinitionRepository(database)
		retryRepo := repository.NewOutboxRepository(database, repository.TableRetries)
		waitRepo := repository.NewOutboxRepository(database, repository.TableWaits)
		for _, ensure := range []func(context.Context) error{
			defRepo.EnsureSchema, retryRepo.EnsureSchema, waitRepo.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				return fmt.Errorf("failed to ensure schema: %w", err)
			}
		}
		defStore, retries, waits = defRepo, retryRepo, waitRepo

	default: // in-memory
		defStore = repository.NewMemoryDefinitionRepository()
		retries = repository.NewMemoryOutboxRepository()
		waits = repository.NewMemoryOutboxRepository()
	}

	var bus broker.Broker
	switch cfg.Broker.Type {
	case "redis":
		bus, err = broker.NewRedisBroker(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
	default: // in-memory
		bus = broker.NewMemoryBroker(log)
	}
	defer bus.Close()
	checks["broker"] = bus

	secretStore := secrets.NewEnvStore()
	runners := activity.DefaultRegistry(bus, log)
	cache := definitions.NewCache(defStore, log)

	if cfg.Consumer.Enabled {
		c := consumer.New(cfg, bus, cache, retries, waits, secretStore, runners, log)
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
		log.Info("consumer started", "workers", cfg.Consumer.Workers)
	}

	if cfg.Producer.Enabled {
		outbox.NewProcessor("retry", retries, cfg.Retry, bus.Publish, log).Start(ctx)
		outbox.NewProcessor("wait", waits, cfg.Wait, bus.Publish, log).Start(ctx)
		outbox.NewCleaner("retry", retries, cfg.Retry, log).Start(ctx)
		outbox.NewCleaner("wait", waits, cfg.Wait, log).Start(ctx)
		log.Info("outbox processors started")
	}

	srv := server.New(cfg.Service.Port, log)
	ops.NewHandler(defStore, cache, bus, checks, log).Register(srv.Echo())
	return srv.Start(ctx)
}
