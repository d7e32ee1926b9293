package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/radzio23/gigster/internal/domain"
	"github.com/radzio23/gigster/internal/observability"
)

const ActionPurchase = "purchase.committed"

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
	now    func() time.Time
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
		now:    time.Now,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    int64     `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID int64, data bson.M) error {
	log := AuditLog{
		ID:        uuid.New().String(),
		Action:    action,
		UserID:    userID,
		Timestamp: a.now().UTC(),
		Data:      data,
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithField("action", action).Error("failed to insert audit log: ", err)
		return err
	}
	return nil
}

// LogPurchase implements booking.AuditLog.
func (a *AuditLogger) LogPurchase(ctx context.Context, p domain.Purchase) error {
	data := bson.M{
		"order_id":   p.OrderID,
		"concert_id": p.ConcertID,
		"ticket_ids": p.TicketIDs,
		"quantity":   p.Quantity(),
		"unit_price": p.UnitPrice.String(),
		"total":      p.Total().String(),
		"created_at": p.CreatedAt,
	}
	return a.LogEvent(ctx, ActionPurchase, p.UserID, data)
}
