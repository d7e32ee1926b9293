package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is the committed outcome of one successful booking.
type Purchase struct {
	OrderID   int64
	ConcertID int64
	UserID    int64
	TicketIDs []int64
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}

func (p Purchase) Quantity() int {
	return len(p.TicketIDs)
}

func (p Purchase) Total() decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(len(p.TicketIDs))))
}

// OrderCreated is the payload of the order.created event emitted for every
// committed purchase.
type OrderCreated struct {
	OrderID   int64           `json:"order_id"`
	ConcertID int64           `json:"concert_id"`
	UserID    int64           `json:"user_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewOrderCreated(p Purchase) OrderCreated {
	return OrderCreated{
		OrderID:   p.OrderID,
		ConcertID: p.ConcertID,
		UserID:    p.UserID,
		Quantity:  p.Quantity(),
		UnitPrice: p.UnitPrice,
		CreatedAt: p.CreatedAt,
	}
}
