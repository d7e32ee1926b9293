package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/radzio23/gigster/internal/capacity"
)

const availabilityKeyPrefix = "availability:"

// recordSoldScript stores the snapshot but keeps the cached sold count when
// it is higher, so a late writer never raises remaining.
var recordSoldScript = redis.NewScript(`
local sold = tonumber(ARGV[3])
local cached = tonumber(redis.call('HGET', KEYS[1], 'sold'))
if cached and cached > sold then
	sold = cached
end
redis.call('HSET', KEYS[1], 'venue_id', ARGV[1], 'capacity', ARGV[2], 'sold', sold)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return sold
`)

// Availability caches per-concert capacity and sold counts in a hash.
type Availability struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailability(cache *Cache, ttl time.Duration) *Availability {
	return &Availability{client: cache.Client(), ttl: ttl}
}

func availabilityKey(concertID int64) string {
	return availabilityKeyPrefix + strconv.FormatInt(concertID, 10)
}

func (a *Availability) Get(ctx context.Context, concertID int64) (capacity.Snapshot, bool, error) {
	fields, err := a.client.HGetAll(ctx, availabilityKey(concertID)).Result()
	if err != nil {
		return capacity.Snapshot{}, false, err
	}
	if len(fields) == 0 {
		return capacity.Snapshot{}, false, nil
	}

	snap := capacity.Snapshot{ConcertID: concertID}
	if snap.VenueID, err = strconv.ParseInt(fields["venue_id"], 10, 64); err != nil {
		return capacity.Snapshot{}, false, errors.Wrap(err, "parse venue_id")
	}
	if snap.Capacity, err = strconv.Atoi(fields["capacity"]); err != nil {
		return capacity.Snapshot{}, false, errors.Wrap(err, "parse capacity")
	}
	if snap.Sold, err = strconv.Atoi(fields["sold"]); err != nil {
		return capacity.Snapshot{}, false, errors.Wrap(err, "parse sold")
	}
	return snap, true, nil
}

func (a *Availability) Set(ctx context.Context, snap capacity.Snapshot) error {
	key := availabilityKey(snap.ConcertID)
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "venue_id", snap.VenueID, "capacity", snap.Capacity, "sold", snap.Sold)
		pipe.Expire(ctx, key, a.ttl)
		return nil
	})
	return err
}

func (a *Availability) RecordSold(ctx context.Context, snap capacity.Snapshot) error {
	key := availabilityKey(snap.ConcertID)
	return recordSoldScript.Run(ctx, a.client, []string{key}, snap.VenueID, snap.Capacity, snap.Sold, a.ttl.Milliseconds()).Err()
}
