package crdb

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/radzio23/gigster/internal/capacity"
	"github.com/radzio23/gigster/internal/domain"
)

// capacityReader implements capacity.Reader. With lock set, ConcertCapacity
// locks the concert row, and only that row, until the transaction ends.
type capacityReader struct {
	q    querier
	lock bool
}

func (c capacityReader) ConcertCapacity(ctx context.Context, concertID int64) (capacity.Snapshot, error) {
	query := `
		SELECT c.venue_id, v.capacity, c.ticket_price
		FROM concerts c
		JOIN venues v ON v.id = c.venue_id
		WHERE c.id = $1`
	if c.lock {
		query += `
		FOR UPDATE OF c`
	}

	var snap capacity.Snapshot
	err := c.q.QueryRow(ctx, query, concertID).Scan(&snap.VenueID, &snap.Capacity, &snap.UnitPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return capacity.Snapshot{}, errors.Wrapf(domain.ErrConcertNotFound, "concert %d", concertID)
	}
	if err != nil {
		return capacity.Snapshot{}, errors.Wrapf(err, "load concert %d", concertID)
	}
	snap.ConcertID = concertID
	return snap, nil
}

func (c capacityReader) CountSold(ctx context.Context, concertID int64) (int, error) {
	var sold int
	err := c.q.QueryRow(ctx, `SELECT count(*) FROM tickets WHERE concert_id = $1`, concertID).Scan(&sold)
	return sold, err
}

// bookingTx implements booking.Tx over one pgx transaction.
type bookingTx struct {
	repo *Repository
	tx   pgx.Tx
}

func (b *bookingTx) ConcertCapacity(ctx context.Context, concertID int64) (capacity.Snapshot, error) {
	return capacityReader{q: b.tx, lock: true}.ConcertCapacity(ctx, concertID)
}

func (b *bookingTx) CountSold(ctx context.Context, concertID int64) (int, error) {
	return capacityReader{q: b.tx}.CountSold(ctx, concertID)
}

func (b *bookingTx) InsertOrder(ctx context.Context, userID int64) (domain.Order, error) {
	order := domain.Order{UserID: userID}
	err := b.tx.QueryRow(ctx, `
		INSERT INTO orders (user_id)
		VALUES ($1)
		RETURNING id, created_at
	`, userID).Scan(&order.ID, &order.CreatedAt)
	return order, err
}

// InsertTickets writes quantity rows in one statement and returns their ids
// in no particular order.
func (b *bookingTx) InsertTickets(ctx context.Context, orderID, concertID int64, price decimal.Decimal, quantity int) ([]int64, error) {
	rows, err := b.tx.Query(ctx, `
		INSERT INTO tickets (concert_id, order_id, price)
		SELECT $1::INT8, $2::INT8, $3::DECIMAL
		FROM generate_series(1, $4::INT8)
		RETURNING id
	`, concertID, orderID, price.String(), quantity)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (b *bookingTx) EnqueueOrderCreated(ctx context.Context, event domain.OrderCreated) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode order.created")
	}
	orderID := strconv.FormatInt(event.OrderID, 10)
	return b.repo.InsertOutbox(ctx, b.tx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     EventOrderCreated,
		Payload:       payload,
		DedupeKey:     "order.created:" + orderID,
	})
}
