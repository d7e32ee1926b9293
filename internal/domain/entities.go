package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Venue struct {
	ID       int64
	Name     string
	City     string
	Address  string
	Capacity int
	Image    string
}

type Concert struct {
	ID          int64
	VenueID     int64
	ArtistID    int64
	StartsAt    time.Time
	TicketPrice decimal.Decimal
	Description string
	Image       string
}

// Order groups the tickets bought by one user in one purchase. It carries no
// price or status; its value is the sum of its tickets.
type Order struct {
	ID        int64
	UserID    int64
	CreatedAt time.Time
	Tickets   []Ticket
}

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, t := range o.Tickets {
		total = total.Add(t.Price)
	}
	return total
}

type Ticket struct {
	ID        int64
	ConcertID int64
	OrderID   int64
	Price     decimal.Decimal
}

// OwnedTicket is a ticket as listed to its owner, joined with the concert and
// the order it was bought in.
type OwnedTicket struct {
	TicketID    int64
	ConcertID   int64
	Concert     string
	StartsAt    time.Time
	Price       decimal.Decimal
	PurchasedAt time.Time
}
