package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/radzio23/gigster/internal/capacity"
	"github.com/radzio23/gigster/internal/domain"
	"github.com/radzio23/gigster/internal/observability"
)

const readyTimeout = 2 * time.Second

type Purchaser interface {
	Purchase(ctx context.Context, concertID, userID int64, quantity int) (domain.Purchase, error)
}

type AvailabilityReader interface {
	Get(ctx context.Context, concertID int64) (capacity.Snapshot, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	ListUserTickets(ctx context.Context, userID int64) ([]domain.OwnedTicket, error)
}

// Check is a named dependency probed by Readyz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handlers struct {
	purchaser    Purchaser
	availability AvailabilityReader
	orders       OrderReader
	checks       []Check
	logger       observability.Logger
}

func NewHandlers(purchaser Purchaser, availability AvailabilityReader, orders OrderReader, logger observability.Logger, checks ...Check) *Handlers {
	return &Handlers{
		purchaser:    purchaser,
		availability: availability,
		orders:       orders,
		checks:       checks,
		logger:       logger,
	}
}

type purchaseRequest struct {
	ConcertID int64 `json:"concert_id"`
	Quantity  int   `json:"quantity"`
}

type purchaseResponse struct {
	OrderID   int64           `json:"order_id"`
	TicketIDs []int64         `json:"ticket_ids"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

func (h *Handlers) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConcertID <= 0 {
		http.Error(w, "concert_id is required", http.StatusBadRequest)
		return
	}

	purchase, err := h.purchaser.Purchase(r.Context(), req.ConcertID, userID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, purchaseResponse{
		OrderID:   purchase.OrderID,
		TicketIDs: purchase.TicketIDs,
		UnitPrice: purchase.UnitPrice,
		Total:     purchase.Total(),
	})
}

type availabilityResponse struct {
	ConcertID int64 `json:"concert_id"`
	Capacity  int   `json:"capacity"`
	Sold      int   `json:"sold"`
	Remaining int   `json:"remaining"`
	SoldOut   bool  `json:"sold_out"`
}

func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	concertID, ok := idParam(w, r)
	if !ok {
		return
	}

	snap, err := h.availability.Get(r.Context(), concertID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		ConcertID: concertID,
		Capacity:  snap.Capacity,
		Sold:      snap.Sold,
		Remaining: snap.Remaining(),
		SoldOut:   snap.SoldOut(),
	})
}

type ticketResponse struct {
	TicketID    int64           `json:"ticket_id"`
	ConcertID   int64           `json:"concert_id"`
	Concert     string          `json:"concert,omitempty"`
	StartsAt    *time.Time      `json:"starts_at,omitempty"`
	Price       decimal.Decimal `json:"price"`
	PurchasedAt *time.Time      `json:"purchased_at,omitempty"`
}

func (h *Handlers) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	owned, err := h.orders.ListUserTickets(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tickets := make([]ticketResponse, 0, len(owned))
	for _, t := range owned {
		tickets = append(tickets, ticketResponse{
			TicketID:    t.TicketID,
			ConcertID:   t.ConcertID,
			Concert:     t.Concert,
			StartsAt:    &t.StartsAt,
			Price:       t.Price,
			PurchasedAt: &t.PurchasedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tickets": tickets})
}

type orderResponse struct {
	OrderID   int64            `json:"order_id"`
	CreatedAt time.Time        `json:"created_at"`
	Tickets   []ticketResponse `json:"tickets"`
	Total     decimal.Decimal  `json:"total"`
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	orderID, ok := idParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Orders of other users are reported as missing.
	if order.UserID != userID {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	resp := orderResponse{
		OrderID:   order.ID,
		CreatedAt: order.CreatedAt,
		Tickets:   make([]ticketResponse, 0, len(order.Tickets)),
		Total:     order.Total(),
	}
	for _, t := range order.Tickets {
		resp.Tickets = append(resp.Tickets, ticketResponse{TicketID: t.ID, ConcertID: t.ConcertID, Price: t.Price})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz pings every dependency concurrently and fails if any is down.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, check := range h.checks {
		g.Go(func() error {
			return errors.Wrap(check.Ping(gctx), check.Name)
		})
	}
	if err := g.Wait(); err != nil {
		observability.LoggerFrom(r.Context(), h.logger).Warn("readiness check failed: ", err)
		http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		http.Error(w, "quantity must be at least 1", http.StatusBadRequest)
	case errors.Is(err, domain.ErrConcertNotFound):
		http.Error(w, "concert not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrCapacityExceeded):
		http.Error(w, "not enough tickets left", http.StatusConflict)
	case errors.Is(err, domain.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "service unavailable, try again", http.StatusServiceUnavailable)
	default:
		observability.LoggerFrom(r.Context(), h.logger).Error("request failed: ", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
