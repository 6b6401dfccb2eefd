package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/substatus/backend/internal/domain"
)

// RecordRepository is the durable mirror of per-user subscription records.
// Writes are merge-writes: an empty subscription ID never clears a stored one.
type RecordRepository struct {
	db *pgxpool.Pool
}

func NewRecordRepository(db *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{db: db}
}

// Upsert merge-writes a record keyed by user ID.
func (r *RecordRepository) Upsert(ctx context.Context, rec domain.SubscriptionRecord) error {
	query := `
		INSERT INTO subscription_records (user_id, status, subscription_id, last_checked_at, last_event_at, source, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			status          = EXCLUDED.status,
			subscription_id = COALESCE(NULLIF(EXCLUDED.subscription_id, ''), subscription_records.subscription_id),
			last_checked_at = COALESCE(EXCLUDED.last_checked_at, subscription_records.last_checked_at),
			last_event_at   = COALESCE(EXCLUDED.last_event_at, subscription_records.last_event_at),
			source          = EXCLUDED.source,
			updated_at      = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		rec.UserID, string(rec.Status), rec.SubscriptionID,
		nullableTime(rec.LastCheckedAt), nullableTime(rec.LastEventAt),
		string(rec.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription record: %w", err)
	}
	return nil
}

// List returns all stored records, used to warm the status cache on startup.
func (r *RecordRepository) List(ctx context.Context) ([]domain.SubscriptionRecord, error) {
	query := `
		SELECT user_id, status, COALESCE(subscription_id, ''), last_checked_at, last_event_at, source
		FROM subscription_records
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription records: %w", err)
	}
	defer rows.Close()

	var records []domain.SubscriptionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.SubscriptionRecord, error) {
	var (
		rec            domain.SubscriptionRecord
		status, source string
		checkedAt      *time.Time
		eventAt        *time.Time
	)
	if err := row.Scan(&rec.UserID, &status, &rec.SubscriptionID, &checkedAt, &eventAt, &source); err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	rec.Source = domain.Source(source)
	if checkedAt != nil {
		rec.LastCheckedAt = *checkedAt
	}
	if eventAt != nil {
		rec.LastEventAt = *eventAt
	}
	return &rec, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
