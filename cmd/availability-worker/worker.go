package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/radzio23/gigster/internal/capacity"
	"github.com/radzio23/gigster/internal/domain"
	"github.com/radzio23/gigster/internal/observability"
)

const (
	maxRetries  = 3
	baseBackoff = time.Second
)

var errMalformed = errors.New("malformed message")

type availabilityRefresher interface {
	Refresh(ctx context.Context, concertID int64) (capacity.Snapshot, error)
	Reconcile(ctx context.Context) (int, error)
}

// AvailabilityWorker keeps the availability cache in step with committed
// purchases: it refreshes a concert on every order.created event and
// recomputes all concerts on a timer.
type AvailabilityWorker struct {
	availability availabilityRefresher
	logger       observability.Logger
	backoff      time.Duration
}

func NewAvailabilityWorker(availability availabilityRefresher, logger observability.Logger) *AvailabilityWorker {
	return &AvailabilityWorker{availability: availability, logger: logger, backoff: baseBackoff}
}

func (w *AvailabilityWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.reconcileWithRetry(ctx)
			if err != nil {
				w.logger.Error("failed to reconcile availability after retries: ", err)
				continue
			}
			w.logger.WithField("concerts", n).Debug("availability reconciled")
		}
	}
}

func (w *AvailabilityWorker) reconcileWithRetry(ctx context.Context) (int, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		var n int
		if n, err = w.availability.Reconcile(ctx); err == nil {
			return n, nil
		}
		if err := w.sleep(ctx, i); err != nil {
			return 0, err
		}
	}
	return 0, errors.Wrapf(err, "failed after %d retries", maxRetries)
}

// Consume handles deliveries until the channel closes or ctx is done.
func (w *AvailabilityWorker) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.deliver(ctx, d)
		}
	}
}

func (w *AvailabilityWorker) deliver(ctx context.Context, d amqp.Delivery) {
	log := w.logger.WithField("message_id", d.MessageId)
	err := w.handle(ctx, d.Body)
	switch {
	case err == nil:
		err = d.Ack(false)
	case errors.Is(err, errMalformed):
		log.Error("dropping message: ", err)
		err = d.Nack(false, false)
	default:
		log.Warn("requeueing message: ", err)
		err = d.Nack(false, true)
	}
	if err != nil {
		log.Error("failed to settle message: ", err)
	}
}

func (w *AvailabilityWorker) handle(ctx context.Context, body []byte) error {
	var event domain.OrderCreated
	if err := json.Unmarshal(body, &event); err != nil {
		return errors.Mark(errors.Wrap(err, "decode order.created"), errMalformed)
	}
	if event.ConcertID <= 0 {
		return errors.Wrap(errMalformed, "order.created without concert_id")
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		_, err = w.availability.Refresh(ctx, event.ConcertID)
		if err == nil || errors.Is(err, domain.ErrConcertNotFound) {
			// A deleted concert has nothing left to cache.
			return nil
		}
		if err := w.sleep(ctx, i); err != nil {
			return err
		}
	}
	return errors.Wrapf(err, "refresh concert %d", event.ConcertID)
}

func (w *AvailabilityWorker) sleep(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.backoff << attempt):
		return nil
	}
}
