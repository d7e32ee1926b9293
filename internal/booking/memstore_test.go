package booking_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/radzio23/gigster/internal/booking"
	"github.com/radzio23/gigster/internal/capacity"
	"github.com/radzio23/gigster/internal/domain"
)

type memConcert struct {
	venueID int64
	price   decimal.Decimal
}

// memStore is an in-memory booking.Store. Each concert has a one-slot
// semaphore standing in for the row lock; staged writes are applied only when
// the transaction function succeeds.
type memStore struct {
	mu       sync.Mutex
	venues   map[int64]int
	concerts map[int64]memConcert
	users    map[int64]bool
	orders   map[int64]domain.Order
	tickets  []domain.Ticket
	events   []domain.OrderCreated
	nextID   int64
	locks    map[int64]chan struct{}

	conflicts    atomic.Int32
	transactions atomic.Int32
	failTickets  error
}

func newMemStore() *memStore {
	return &memStore{
		venues:   map[int64]int{},
		concerts: map[int64]memConcert{},
		users:    map[int64]bool{},
		orders:   map[int64]domain.Order{},
		locks:    map[int64]chan struct{}{},
	}
}

func (s *memStore) addVenue(id int64, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues[id] = capacity
}

func (s *memStore) addConcert(id, venueID int64, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concerts[id] = memConcert{venueID: venueID, price: decimal.RequireFromString(price)}
	s.locks[id] = make(chan struct{}, 1)
}

func (s *memStore) setPrice(id int64, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.concerts[id]
	c.price = decimal.RequireFromString(price)
	s.concerts[id] = c
}

func (s *memStore) addUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = true
}

// seedSold commits n tickets for concertID in one order of user 0.
func (s *memStore) seedSold(concertID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	orderID := s.nextID
	s.orders[orderID] = domain.Order{ID: orderID}
	for i := 0; i < n; i++ {
		s.nextID++
		s.tickets = append(s.tickets, domain.Ticket{ID: s.nextID, ConcertID: concertID, OrderID: orderID, Price: s.concerts[concertID].price})
	}
}

// hold takes the concert lock from outside any transaction and returns its
// release function.
func (s *memStore) hold(concertID int64) func() {
	s.mu.Lock()
	lock := s.locks[concertID]
	s.mu.Unlock()
	lock <- struct{}{}
	return func() { <-lock }
}

func (s *memStore) sold(concertID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		if t.ConcertID == concertID {
			n++
		}
	}
	return n
}

func (s *memStore) ticketsOf(orderID int64) []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) counts() (orders, tickets, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders), len(s.tickets), len(s.events)
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	s.transactions.Add(1)
	tx := &memTx{store: s}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.conflicts.Load() > 0 {
		s.conflicts.Add(-1)
		return errors.Wrap(domain.ErrSerializationFailure, "restart transaction")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range tx.orders {
		s.orders[o.ID] = o
	}
	s.tickets = append(s.tickets, tx.tickets...)
	s.events = append(s.events, tx.events...)
	return nil
}

type memTx struct {
	store   *memStore
	held    []chan struct{}
	orders  []domain.Order
	tickets []domain.Ticket
	events  []domain.OrderCreated
}

func (tx *memTx) release() {
	for _, lock := range tx.held {
		<-lock
	}
}

func (tx *memTx) ConcertCapacity(ctx context.Context, concertID int64) (capacity.Snapshot, error) {
	tx.store.mu.Lock()
	concert, ok := tx.store.concerts[concertID]
	lock := tx.store.locks[concertID]
	tx.store.mu.Unlock()
	if !ok {
		return capacity.Snapshot{}, domain.ErrConcertNotFound
	}

	select {
	case lock <- struct{}{}:
		tx.held = append(tx.held, lock)
	case <-ctx.Done():
		return capacity.Snapshot{}, ctx.Err()
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	concert = tx.store.concerts[concertID]
	return capacity.Snapshot{
		VenueID:   concert.venueID,
		Capacity:  tx.store.venues[concert.venueID],
		UnitPrice: concert.price,
	}, nil
}

func (tx *memTx) CountSold(ctx context.Context, concertID int64) (int, error) {
	return tx.store.sold(concertID), nil
}

func (tx *memTx) InsertOrder(ctx context.Context, userID int64) (domain.Order, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if !tx.store.users[userID] {
		return domain.Order{}, errors.Mark(errors.Newf("user %d does not exist", userID), domain.ErrConstraintViolation)
	}
	tx.store.nextID++
	order := domain.Order{ID: tx.store.nextID, UserID: userID, CreatedAt: time.Now()}
	tx.orders = append(tx.orders, order)
	return order, nil
}

func (tx *memTx) InsertTickets(ctx context.Context, orderID, concertID int64, price decimal.Decimal, quantity int) ([]int64, error) {
	if tx.store.failTickets != nil {
		return nil, tx.store.failTickets
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	ids := make([]int64, 0, quantity)
	for i := 0; i < quantity; i++ {
		tx.store.nextID++
		ids = append(ids, tx.store.nextID)
		tx.tickets = append(tx.tickets, domain.Ticket{ID: tx.store.nextID, ConcertID: concertID, OrderID: orderID, Price: price})
	}
	// Reverse so callers cannot rely on insertion order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

func (tx *memTx) EnqueueOrderCreated(ctx context.Context, event domain.OrderCreated) error {
	tx.events = append(tx.events, event)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[int64]capacity.Snapshot
	err     error
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[int64]capacity.Snapshot{}}
}

func (c *fakeCache) Get(ctx context.Context, concertID int64) (capacity.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return capacity.Snapshot{}, false, c.err
	}
	snap, ok := c.entries[concertID]
	return snap, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, snap capacity.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sets++
	c.entries[snap.ConcertID] = snap
	return nil
}

func (c *fakeCache) RecordSold(ctx context.Context, snap capacity.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if cur, ok := c.entries[snap.ConcertID]; ok && cur.Sold > snap.Sold {
		snap.Sold = cur.Sold
	}
	c.entries[snap.ConcertID] = snap
	return nil
}

type fakeAudit struct {
	mu        sync.Mutex
	purchases []domain.Purchase
}

func (a *fakeAudit) LogPurchase(ctx context.Context, p domain.Purchase) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.purchases = append(a.purchases, p)
	return nil
}
