package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/lemline/lemline/cmd/runner/activity"
	"github.com/lemline/lemline/cmd/runner/definitions"
	"github.com/lemline/lemline/cmd/runner/engine"
	"github.com/lemline/lemline/cmd/runner/message"
	"github.com/lemline/lemline/common/broker"
	"github.com/lemline/lemline/common/config"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/models"
	"github.com/lemline/lemline/common/repository"
	"github.com/lemline/lemline/common/secrets"
)

// Consumer processes workflow envelopes from the broker: it advances
// the instance to its next activity boundary and routes the result to
// the broker or one of the outbox tables.
type Consumer struct {
	cfg     *config.Config
	broker  broker.Broker
	cache   *definitions.Cache
	retries repository.OutboxStore
	waits   repository.OutboxStore
	secrets secrets.Store
	runners activity.Registry
	log     *logger.Logger
	sem     chan struct{}
}

func New(
	cfg *config.Config,
	b broker.Broker,
	cache *definitions.Cache,
	retries, waits repository.OutboxStore,
	secretStore secrets.Store,
	runners activity.Registry,
	log *logger.Logger,
) *Consumer {
	workers := cfg.Consumer.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		cfg:     cfg,
		broker:  b,
		cache:   cache,
		retries: retries,
		waits:   waits,
		secrets: secretStore,
		runners: runners,
		log:     log,
		sem:     make(chan struct{}, workers),
	}
}

// Start subscribes the consumer to the broker stream
func (c *Consumer) Start(ctx context.Context) error {
	return c.broker.Subscribe(ctx, c.Handle)
}

// Handle processes one envelope. A returned error tells the broker to
// dead-letter the message; handled instances (including faulted ones)
// return nil.
func (c *Consumer) Handle(ctx context.Context, body string) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	env, err := message.Decode(body)
	if err != nil {
		c.log.Error("undecodable envelope", "error", err)
		c.parkFailed(ctx, body, err.Error())
		return err
	}

	log := c.log.WithWorkflow(env.Name, env.Version).WithPosition(env.Position)

	entry, err := c.cache.Get(ctx, env.Name, env.Version)
	if err != nil {
		log.Error("definition lookup failed", "error", err)
		c.parkFailed(ctx, body, err.Error())
		return err
	}

	secretValues := c.resolveSecrets(entry.Workflow.SecretNames(), log)

	wi := engine.NewInstance(entry.Tree, env.States, engine.Options{
		Secrets: secretValues,
		Runners: c.runners,
		Log:     log,
	})
	if err := wi.Drive(ctx, env.Position); err != nil {
		if wi.Status == models.StatusCancelled {
			// nothing is persisted; the unacknowledged message comes back
			log.Warn("processing cancelled")
			return err
		}
		log.Error("drive failed", "error", err)
		c.parkFailed(ctx, body, err.Error())
		return err
	}

	if root, ok := env.States[""]; ok && root.WorkflowID != "" {
		log = log.WithInstance(root.WorkflowID)
	}
	return c.route(ctx, env, wi, log)
}

// route persists or republishes the instance according to where the
// drive pass stopped
func (c *Consumer) route(ctx context.Context, env *message.Envelope, wi *engine.Instance, log *logger.Logger) error {
	env.Position = wi.Position()

	switch {
	case wi.Status == models.StatusCompleted:
		log.Info("workflow instance completed")
		return nil

	case wi.Status == models.StatusFaulted:
		encoded, err := env.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode envelope: %w", err)
		}
		if err := c.retries.Insert(ctx, models.NewFailedRow(encoded, wi.Fault.Error())); err != nil {
			return fmt.Errorf("failed to park faulted instance: %w", err)
		}
		return nil

	case wi.Status == models.StatusWaiting:
		encoded, err := env.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode envelope: %w", err)
		}
		row := models.NewOutboxRow(encoded, time.Now().Add(*wi.WaitDelay))
		if err := c.waits.Insert(ctx, row); err != nil {
			return fmt.Errorf("failed to persist wait: %w", err)
		}
		log.Info("workflow instance waiting", "until", row.DelayedUntil)
		return nil

	case wi.RetryDelay != nil:
		encoded, err := env.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode envelope: %w", err)
		}
		row := models.NewOutboxRow(encoded, time.Now().Add(*wi.RetryDelay))
		if err := c.retries.Insert(ctx, row); err != nil {
			return fmt.Errorf("failed to persist retry: %w", err)
		}
		log.Info("workflow retry scheduled", "until", row.DelayedUntil)
		return nil

	default:
		encoded, err := env.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode envelope: %w", err)
		}
		if err := c.broker.Publish(ctx, encoded); err != nil {
			return fmt.Errorf("failed to publish envelope: %w", err)
		}
		return nil
	}
}

// parkFailed records an unprocessable message in the retry table so it
// survives the dead-letter queue
func (c *Consumer) parkFailed(ctx context.Context, body, detail string) {
	if err := c.retries.Insert(ctx, models.NewFailedRow(body, detail)); err != nil {
		c.log.Error("failed to park message", "error", err)
	}
}

// resolveSecrets loads the workflow's declared secrets; missing ones
// are skipped so literal values still pass through
func (c *Consumer) resolveSecrets(names []string, log *logger.Logger) map[string]any {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		value, err := c.secrets.Get(name)
		if err != nil {
			log.Warn("secret not available", "secret", name)
			continue
		}
		out[name] = value
	}
	return out
}
