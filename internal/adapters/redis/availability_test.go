package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radzio23/gigster/internal/capacity"
)

func TestAvailability_GetMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	a := NewAvailability(NewCache(db), 30*time.Second)

	mock.ExpectHGetAll("availability:7").SetVal(map[string]string{})

	_, ok, err := a.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailability_GetHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	a := NewAvailability(NewCache(db), 30*time.Second)

	mock.ExpectHGetAll("availability:7").SetVal(map[string]string{
		"venue_id": "3",
		"capacity": "10",
		"sold":     "4",
	})

	snap, ok, err := a.Get(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, capacity.Snapshot{ConcertID: 7, VenueID: 3, Capacity: 10, Sold: 4}, snap)
	assert.Equal(t, 6, snap.Remaining())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailability_GetCorruptEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	a := NewAvailability(NewCache(db), 30*time.Second)

	mock.ExpectHGetAll("availability:7").SetVal(map[string]string{"venue_id": "3", "capacity": "ten", "sold": "4"})

	_, ok, err := a.Get(context.Background(), 7)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestAvailability_Set(t *testing.T) {
	db, mock := redismock.NewClientMock()
	a := NewAvailability(NewCache(db), 30*time.Second)
	snap := capacity.Snapshot{ConcertID: 7, VenueID: 3, Capacity: 10, Sold: 4}

	mock.ExpectTxPipeline()
	mock.ExpectHSet("availability:7", "venue_id", snap.VenueID, "capacity", snap.Capacity, "sold", snap.Sold).SetVal(3)
	mock.ExpectExpire("availability:7", 30*time.Second).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, a.Set(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailability_RecordSold(t *testing.T) {
	db, mock := redismock.NewClientMock()
	a := NewAvailability(NewCache(db), 30*time.Second)
	snap := capacity.Snapshot{ConcertID: 7, VenueID: 3, Capacity: 10, Sold: 6}

	mock.ExpectEvalSha(recordSoldScript.Hash(), []string{"availability:7"},
		snap.VenueID, snap.Capacity, snap.Sold, int64(30000)).SetVal(int64(6))

	require.NoError(t, a.RecordSold(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestAvailability_RecordSoldNeverLowersSold(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	a := NewAvailability(NewCache(client), time.Minute)
	client.Del(ctx, "availability:9001")

	require.NoError(t, a.RecordSold(ctx, capacity.Snapshot{ConcertID: 9001, VenueID: 1, Capacity: 10, Sold: 6}))
	// A stale read must not win, but its capacity still lands.
	require.NoError(t, a.RecordSold(ctx, capacity.Snapshot{ConcertID: 9001, VenueID: 1, Capacity: 12, Sold: 4}))

	snap, ok, err := a.Get(ctx, 9001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6, snap.Sold)
	assert.Equal(t, 12, snap.Capacity)
	assert.Equal(t, 6, snap.Remaining())

	ttl := client.PTTL(ctx, "availability:9001").Val()
	assert.Greater(t, ttl, time.Duration(0))
}
