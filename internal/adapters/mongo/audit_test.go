package mongo

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/radzio23/gigster/internal/domain"
	"github.com/radzio23/gigster/internal/observability"
)

func TestAuditLogger_LogPurchase(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	logger := observability.NewLoggerTo(io.Discard, logrus.InfoLevel)

	mt.Run("inserts purchase document", func(mt *mtest.T) {
		audit := NewAuditLogger(mt.DB, logger)
		audit.now = func() time.Time { return time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC) }
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := audit.LogPurchase(context.Background(), domain.Purchase{
			OrderID:   11,
			ConcertID: 3,
			UserID:    42,
			TicketIDs: []int64{101, 102},
			UnitPrice: decimal.RequireFromString("99.50"),
		})
		require.NoError(t, err)

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		assert.Equal(t, "insert", started.CommandName)

		docs := started.Command.Lookup("documents").Array()
		values, err := docs.Values()
		require.NoError(t, err)
		require.Len(t, values, 1)

		var stored AuditLog
		require.NoError(t, bson.Unmarshal(values[0].Document(), &stored))
		assert.Equal(t, ActionPurchase, stored.Action)
		assert.Equal(t, int64(42), stored.UserID)
		assert.Equal(t, "199", stored.Data["total"])
		assert.Equal(t, "99.5", stored.Data["unit_price"])
	})

	mt.Run("reports write errors", func(mt *mtest.T) {
		audit := NewAuditLogger(mt.DB, logger)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		err := audit.LogPurchase(context.Background(), domain.Purchase{OrderID: 1, UserID: 1, TicketIDs: []int64{1}})
		require.Error(t, err)
		assert.True(t, mongo.IsDuplicateKeyError(err))
	})
}
