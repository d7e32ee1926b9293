package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const EventOrderCreated = "order.created"

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// ClaimUnpublished locks up to limit NEW records, oldest first. Rows locked by
// another relay are skipped.
func (r *Repository) ClaimUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}

// RelayOutbox claims a batch of unpublished records and hands them to publish
// in creation order. The batch stops at the first publish failure; records
// published before it are marked and committed, the rest stay NEW.
// It returns the records published and the age of the oldest claimed record.
func (r *Repository) RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, rec OutboxRecord) error) (int, time.Duration, error) {
	var (
		published int
		lag       time.Duration
		pubErr    error
	)
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		published, lag, pubErr = 0, 0, nil
		records, err := r.ClaimUnpublished(ctx, tx, limit)
		if err != nil {
			return errors.Wrap(err, "claim outbox")
		}
		if len(records) > 0 {
			lag = time.Since(records[0].CreatedAt)
		}
		for _, rec := range records {
			if err := publish(ctx, rec); err != nil {
				pubErr = errors.Wrapf(err, "publish %s", rec.DedupeKey)
				break
			}
			if err := r.MarkPublished(ctx, tx, rec.ID, time.Now()); err != nil {
				return errors.Wrapf(err, "mark %s published", rec.DedupeKey)
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, lag, err
	}
	return published, lag, pubErr
}
