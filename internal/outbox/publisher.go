// Package outbox relays committed outbox records to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/radzio23/gigster/internal/adapters/crdb"
	"github.com/radzio23/gigster/internal/observability"
)

const (
	publishAttempts = 3
	publishBackoff  = 200 * time.Millisecond
)

type Relay interface {
	RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, rec crdb.OutboxRecord) error) (int, time.Duration, error)
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo      Relay
	broker    Broker
	logger    observability.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

func NewPublisher(repo Relay, broker Broker, logger observability.Logger, interval time.Duration, batchSize int) *Publisher {
	return &Publisher{
		repo:      repo,
		broker:    broker,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		backoff:   publishBackoff,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("Outbox publisher started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Flush(ctx)
			if err != nil {
				p.logger.Error("outbox flush failed: ", err)
			}
			if n > 0 {
				p.logger.WithField("published", n).Debug("outbox flushed")
			}
		}
	}
}

// Flush publishes batches until the outbox is drained or a batch fails.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, lag, err := p.repo.RelayOutbox(ctx, p.batchSize, p.publish)
		observability.OutboxLag.Set(lag.Seconds())
		total += n
		if err != nil {
			return total, err
		}
		if n < p.batchSize {
			return total, nil
		}
	}
}

func (p *Publisher) publish(ctx context.Context, rec crdb.OutboxRecord) error {
	msg := amqp.Publishing{
		MessageId:   rec.DedupeKey,
		ContentType: "application/json",
		Type:        rec.EventType,
		Timestamp:   rec.CreatedAt,
		Body:        rec.Payload,
	}

	var err error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff << (attempt - 1)):
			}
		}
		if err = p.broker.Publish(ctx, rec.EventType, msg); err == nil {
			return nil
		}
		p.logger.WithFields(map[string]interface{}{
			"dedupe_key": rec.DedupeKey,
			"attempt":    attempt + 1,
		}).Warn("publish failed: ", err)
	}
	return errors.Wrapf(err, "publish %s after %d attempts", rec.EventType, publishAttempts)
}
