// Package booking admits ticket purchases against venue capacity.
package booking

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/radzio23/gigster/internal/capacity"
	"github.com/radzio23/gigster/internal/domain"
	"github.com/radzio23/gigster/internal/observability"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultMaxAttempts = 5
	defaultBaseBackoff = 20 * time.Millisecond
	maxBackoff         = 500 * time.Millisecond
)

// Outcome labels for purchase metrics and logs.
const (
	outcomeCommitted   = "committed"
	outcomeSoldOut     = "capacity_exceeded"
	outcomeNotFound    = "concert_not_found"
	outcomeUnavailable = "store_unavailable"
	outcomeConstraint  = "constraint_violation"
	outcomeInvalid     = "invalid_quantity"
)

type Engine struct {
	store       Store
	cache       AvailabilityCache
	audit       AuditLog
	logger      observability.Logger
	tracer      trace.Tracer
	timeout     time.Duration
	maxAttempts int
	baseBackoff time.Duration
}

type Option func(*Engine)

// WithTimeout bounds a whole purchase call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithBaseBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.baseBackoff = d
		}
	}
}

func WithAvailabilityCache(cache AvailabilityCache) Option {
	return func(e *Engine) { e.cache = cache }
}

func WithAuditLog(audit AuditLog) Option {
	return func(e *Engine) { e.audit = audit }
}

func NewEngine(store Store, logger observability.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		logger:      logger,
		tracer:      otel.Tracer("booking"),
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Purchase books quantity tickets for userID at concertID as one order.
//
// The request is all or nothing: either the order and exactly quantity tickets
// are committed, or nothing is. Errors are domain.ErrInvalidQuantity,
// domain.ErrCapacityExceeded, domain.ErrConcertNotFound,
// domain.ErrStoreUnavailable or domain.ErrConstraintViolation.
func (e *Engine) Purchase(ctx context.Context, concertID, userID int64, quantity int) (domain.Purchase, error) {
	start := time.Now()
	logger := e.logger.WithFields(map[string]interface{}{
		"concert_id": concertID,
		"user_id":    userID,
		"quantity":   quantity,
	})

	if quantity < 1 {
		e.finish(logger, outcomeInvalid, start, domain.ErrInvalidQuantity)
		return domain.Purchase{}, domain.ErrInvalidQuantity
	}

	ctx, span := e.tracer.Start(ctx, "booking.Purchase", trace.WithAttributes(
		attribute.Int64("concert.id", concertID),
		attribute.Int64("user.id", userID),
		attribute.Int("quantity", quantity),
	))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		purchase domain.Purchase
		snap     capacity.Snapshot
		err      error
	)
	for attempt := 1; ; attempt++ {
		purchase, snap, err = e.attempt(attemptCtx, concertID, userID, quantity)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			break
		}
		observability.TxRetries.Inc()
		if attempt >= e.maxAttempts {
			err = errors.Mark(errors.Wrapf(err, "gave up after %d attempts", attempt), domain.ErrStoreUnavailable)
			break
		}
		logger.WithField("attempt", attempt).Debug("purchase conflicted, retrying")
		if werr := e.backoff(attemptCtx, attempt); werr != nil {
			err = werr
			break
		}
	}

	err = classify(attemptCtx, err)
	outcome := outcomeOf(err)
	if err != nil {
		span.SetAttributes(attribute.String("outcome", outcome))
		if outcome == outcomeUnavailable || outcome == outcomeConstraint {
			span.SetStatus(codes.Error, err.Error())
		}
		e.finish(logger, outcome, start, err)
		return domain.Purchase{}, err
	}

	span.SetAttributes(attribute.Int64("order.id", purchase.OrderID))
	observability.TicketsSold.Add(float64(quantity))
	e.afterCommit(ctx, logger, purchase, snap)
	e.finish(logger.WithField("order_id", purchase.OrderID), outcome, start, nil)
	return purchase, nil
}

// attempt runs one transactional try: Started, CapacityChecked, then Committed
// or Aborted.
func (e *Engine) attempt(ctx context.Context, concertID, userID int64, quantity int) (domain.Purchase, capacity.Snapshot, error) {
	var (
		purchase domain.Purchase
		snap     capacity.Snapshot
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		snap, err = capacity.NewOracle(tx).Snapshot(ctx, concertID)
		if err != nil {
			return err
		}
		if !snap.Admits(quantity) {
			return errors.Wrapf(domain.ErrCapacityExceeded,
				"concert %d: requested %d, remaining %d", concertID, quantity, snap.Remaining())
		}

		order, err := tx.InsertOrder(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
		ids, err := tx.InsertTickets(ctx, order.ID, concertID, snap.UnitPrice, quantity)
		if err != nil {
			return errors.Wrap(err, "insert tickets")
		}
		if len(ids) != quantity {
			return errors.Mark(
				errors.Newf("inserted %d tickets, want %d", len(ids), quantity),
				domain.ErrConstraintViolation)
		}
		slices.Sort(ids)

		purchase = domain.Purchase{
			OrderID:   order.ID,
			ConcertID: concertID,
			UserID:    userID,
			TicketIDs: ids,
			UnitPrice: snap.UnitPrice,
			CreatedAt: order.CreatedAt,
		}
		return tx.EnqueueOrderCreated(ctx, domain.NewOrderCreated(purchase))
	})
	if err != nil {
		return domain.Purchase{}, capacity.Snapshot{}, err
	}
	snap.Sold += quantity
	return purchase, snap, nil
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	d := e.baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// afterCommit runs side effects that must never change the outcome of a
// committed purchase.
func (e *Engine) afterCommit(ctx context.Context, logger observability.Logger, purchase domain.Purchase, snap capacity.Snapshot) {
	if e.cache != nil {
		if err := e.cache.RecordSold(ctx, snap); err != nil {
			logger.WithField("error", err.Error()).Warn("failed to update availability cache")
		}
	}
	if e.audit != nil {
		if err := e.audit.LogPurchase(ctx, purchase); err != nil {
			logger.WithField("error", err.Error()).Warn("failed to write purchase audit")
		}
	}
}

func (e *Engine) finish(logger observability.Logger, outcome string, start time.Time, err error) {
	observability.PurchasesTotal.WithLabelValues(outcome).Inc()
	observability.PurchaseDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	logger = logger.WithField("outcome", outcome)
	switch outcome {
	case outcomeCommitted:
		logger.Info("purchase committed")
	case outcomeSoldOut, outcomeNotFound, outcomeInvalid:
		logger.Info("purchase rejected: ", err)
	case outcomeUnavailable:
		logger.Warn("purchase aborted: ", err)
	default:
		logger.Error("purchase failed: ", err)
	}
}

// classify maps whatever the attempt loop ended with onto the error taxonomy.
// Timeouts and unrecognised store failures are reported as unavailable.
func classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrConcertNotFound),
		errors.Is(err, domain.ErrConstraintViolation),
		errors.Is(err, domain.ErrStoreUnavailable):
		return err
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errors.Mark(errors.Wrap(err, "purchase deadline exceeded"), domain.ErrStoreUnavailable)
	default:
		return errors.Mark(err, domain.ErrStoreUnavailable)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeCommitted
	case errors.Is(err, domain.ErrCapacityExceeded):
		return outcomeSoldOut
	case errors.Is(err, domain.ErrConcertNotFound):
		return outcomeNotFound
	case errors.Is(err, domain.ErrInvalidQuantity):
		return outcomeInvalid
	case errors.Is(err, domain.ErrConstraintViolation):
		return outcomeConstraint
	default:
		return outcomeUnavailable
	}
}
