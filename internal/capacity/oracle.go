// Package capacity computes how many tickets a concert can still sell.
//
// A concert has no capacity of its own; it inherits the capacity of its
// venue. Remaining capacity is venue capacity minus the number of tickets
// already issued for the concert. The figure is only meaningful for admission
// when it is read through a Reader bound to the same transaction that will
// insert the new tickets, with that transaction holding the concert's lock.
package capacity

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Snapshot is a consistent view of a concert's capacity and sales.
type Snapshot struct {
	ConcertID int64
	VenueID   int64
	Capacity  int
	Sold      int
	UnitPrice decimal.Decimal
}

func (s Snapshot) Remaining() int {
	if s.Sold >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Sold
}

func (s Snapshot) SoldOut() bool {
	return s.Remaining() == 0
}

// Admits reports whether quantity more tickets fit. There is no partial
// admission.
func (s Snapshot) Admits(quantity int) bool {
	return quantity > 0 && quantity <= s.Remaining()
}

// Reader loads the persisted state a Snapshot is derived from.
//
// ConcertCapacity returns the snapshot with Sold unset and must fail with
// domain.ErrConcertNotFound when the concert or its venue does not exist.
type Reader interface {
	ConcertCapacity(ctx context.Context, concertID int64) (Snapshot, error)
	CountSold(ctx context.Context, concertID int64) (int, error)
}

type Oracle struct {
	reader Reader
}

func NewOracle(reader Reader) *Oracle {
	return &Oracle{reader: reader}
}

func (o *Oracle) Snapshot(ctx context.Context, concertID int64) (Snapshot, error) {
	snap, err := o.reader.ConcertCapacity(ctx, concertID)
	if err != nil {
		return Snapshot{}, err
	}
	sold, err := o.reader.CountSold(ctx, concertID)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "count sold tickets for concert %d", concertID)
	}
	snap.ConcertID = concertID
	snap.Sold = sold
	return snap, nil
}

func (o *Oracle) RemainingCapacity(ctx context.Context, concertID int64) (int, error) {
	snap, err := o.Snapshot(ctx, concertID)
	if err != nil {
		return 0, err
	}
	return snap.Remaining(), nil
}
