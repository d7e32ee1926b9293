package crdb

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radzio23/gigster/internal/booking"
	"github.com/radzio23/gigster/internal/capacity"
	"github.com/radzio23/gigster/internal/domain"
	"github.com/radzio23/gigster/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	DeadlockDetectedCode     = "40P01"
	integrityViolationClass  = "23"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return classify(r.pool.Ping(ctx))
}

// WithTx runs fn in a serializable transaction and commits if fn succeeds.
// Errors from Postgres are marked with the matching domain error.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (r *Repository) withTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "begin transaction"), domain.ErrStoreUnavailable)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	return nil
}

// InTx implements booking.Store.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &bookingTx{repo: r, tx: tx})
	})
}

// ReadSnapshot computes a concert's availability in a read-only transaction
// without taking the concert lock.
func (r *Repository) ReadSnapshot(ctx context.Context, concertID int64) (capacity.Snapshot, error) {
	var snap capacity.Snapshot
	err := r.withTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		snap, err = capacity.NewOracle(capacityReader{q: tx}).Snapshot(ctx, concertID)
		return err
	})
	return snap, err
}

// Occupancy returns the availability of every concert.
func (r *Repository) Occupancy(ctx context.Context) ([]capacity.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.venue_id, v.capacity, c.ticket_price, count(t.id)
		FROM concerts c
		JOIN venues v ON v.id = c.venue_id
		LEFT JOIN tickets t ON t.concert_id = c.id
		GROUP BY c.id, c.venue_id, v.capacity, c.ticket_price
		ORDER BY c.id
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var snaps []capacity.Snapshot
	for rows.Next() {
		var s capacity.Snapshot
		if err := rows.Scan(&s.ConcertID, &s.VenueID, &s.Capacity, &s.UnitPrice, &s.Sold); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, classify(rows.Err())
}

func (r *Repository) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var order domain.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, created_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.UserID, &order.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, concert_id, order_id, price
		FROM tickets WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.ConcertID, &t.OrderID, &t.Price); err != nil {
			return nil, err
		}
		order.Tickets = append(order.Tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return &order, nil
}

// ListUserTickets returns the user's tickets, most recent order first.
func (r *Repository) ListUserTickets(ctx context.Context, userID int64) ([]domain.OwnedTicket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, c.id, c.description, c.starts_at, t.price, o.created_at
		FROM tickets t
		JOIN concerts c ON c.id = t.concert_id
		JOIN orders o ON o.id = t.order_id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC, t.id
	`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	tickets := []domain.OwnedTicket{}
	for rows.Next() {
		var t domain.OwnedTicket
		if err := rows.Scan(&t.TicketID, &t.ConcertID, &t.Concert, &t.StartsAt, &t.Price, &t.PurchasedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, classify(rows.Err())
}

// classify marks Postgres and connection errors with the domain error callers
// branch on. Errors that already carry a domain meaning pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == SerializationFailureCode, pgErr.Code == DeadlockDetectedCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case strings.HasPrefix(pgErr.Code, integrityViolationClass):
			return errors.Mark(err, domain.ErrConstraintViolation)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return errors.Mark(err, domain.ErrStoreUnavailable)
	}
	return err
}
