package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/radzio23/gigster/internal/capacity"
	"github.com/radzio23/gigster/internal/observability"
)

const reconcileConcurrency = 8

// Availability answers "how many tickets are left" for display. Its answers
// may be stale and are never used to admit a purchase; Engine re-reads the
// count under the concert lock.
type Availability struct {
	store  SnapshotStore
	cache  AvailabilityCache
	logger observability.Logger
}

func NewAvailability(store SnapshotStore, cache AvailabilityCache, logger observability.Logger) *Availability {
	return &Availability{store: store, cache: cache, logger: logger}
}

// Get serves from the cache when it can and falls back to the store. The
// returned snapshot carries no unit price.
func (a *Availability) Get(ctx context.Context, concertID int64) (capacity.Snapshot, error) {
	if a.cache != nil {
		snap, ok, err := a.cache.Get(ctx, concertID)
		if err != nil {
			a.logger.WithField("concert_id", concertID).Warn("availability cache read failed: ", err)
		} else if ok {
			observability.AvailabilityCacheHits.WithLabelValues("hit").Inc()
			return snap, nil
		}
		observability.AvailabilityCacheHits.WithLabelValues("miss").Inc()
	}
	return a.Refresh(ctx, concertID)
}

// Refresh reads the concert from the store and caches it. A purchase that
// committed after the read keeps its higher sold count in the cache.
func (a *Availability) Refresh(ctx context.Context, concertID int64) (capacity.Snapshot, error) {
	snap, err := a.store.ReadSnapshot(ctx, concertID)
	if err != nil {
		return capacity.Snapshot{}, err
	}
	if a.cache != nil {
		if err := a.cache.RecordSold(ctx, snap); err != nil {
			a.logger.WithField("concert_id", concertID).Warn("availability cache write failed: ", err)
		}
	}
	return snap, nil
}

// Reconcile recomputes every concert and overwrites the cache, repairing
// entries that drifted from the store. It returns the
// number of concerts refreshed.
func (a *Availability) Reconcile(ctx context.Context) (int, error) {
	snaps, err := a.store.Occupancy(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load occupancy")
	}
	if a.cache == nil {
		return len(snaps), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, snap := range snaps {
		g.Go(func() error {
			return errors.Wrapf(a.cache.Set(gctx, snap), "cache concert %d", snap.ConcertID)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(snaps), nil
}
