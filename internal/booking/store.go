package booking

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/radzio23/gigster/internal/capacity"
	"github.com/radzio23/gigster/internal/domain"
)

// Tx is the set of operations a purchase performs inside one transaction.
//
// ConcertCapacity must take the concert's exclusive lock and hold it until the
// transaction ends, so that CountSold and InsertTickets observe no concurrent
// purchase of the same concert.
type Tx interface {
	capacity.Reader
	InsertOrder(ctx context.Context, userID int64) (domain.Order, error)
	InsertTickets(ctx context.Context, orderID, concertID int64, price decimal.Decimal, quantity int) ([]int64, error)
	EnqueueOrderCreated(ctx context.Context, event domain.OrderCreated) error
}

// Store runs fn in a serializable transaction and commits when fn returns nil.
// Any error rolls the transaction back. Implementations report retryable
// conflicts as domain.ErrSerializationFailure, integrity rejections as
// domain.ErrConstraintViolation and infrastructure failures as
// domain.ErrStoreUnavailable.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SnapshotStore serves capacity reads that do not admit a purchase.
type SnapshotStore interface {
	ReadSnapshot(ctx context.Context, concertID int64) (capacity.Snapshot, error)
	Occupancy(ctx context.Context) ([]capacity.Snapshot, error)
}

// AvailabilityCache keeps a best-effort copy of concert availability.
// Set overwrites the cached entry. RecordSold stores the snapshot but never
// lowers the cached sold count.
type AvailabilityCache interface {
	Get(ctx context.Context, concertID int64) (capacity.Snapshot, bool, error)
	Set(ctx context.Context, snap capacity.Snapshot) error
	RecordSold(ctx context.Context, snap capacity.Snapshot) error
}

type AuditLog interface {
	LogPurchase(ctx context.Context, purchase domain.Purchase) error
}
