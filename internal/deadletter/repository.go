package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"relay/pkg/models"
)

type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Delete(ctx context.Context, id int64) error
	RecordAttempt(ctx context.Context, id int64) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, entry *Entry) error {
	event, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter event: %w", err)
	}

	now := time.Now()
	if entry.FirstFailedAt.IsZero() {
		entry.FirstFailedAt = now
	}
	if entry.LastAttemptAt.IsZero() {
		entry.LastAttemptAt = now
	}

	query := `
		INSERT INTO dead_letters (message_id, event, failure_reason, attempt_count, first_failed_at, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err = r.db.QueryRowContext(ctx, query,
		entry.Event.ID, event, entry.FailureReason,
		entry.AttemptCount, entry.FirstFailedAt, entry.LastAttemptAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	return nil
}

// List returns the oldest entries first so replay drains in arrival
// order. Re-querying restarts the sequence; the store is the source of
// truth, not an in-memory cursor.
func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, event, failure_reason, attempt_count, replay_count, first_failed_at, last_attempt_at
		FROM dead_letters
		ORDER BY first_failed_at ASC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		var entry Entry
		var event []byte
		if err := rows.Scan(
			&entry.ID, &event, &entry.FailureReason,
			&entry.AttemptCount, &entry.ReplayCount, &entry.FirstFailedAt, &entry.LastAttemptAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}

		if err := json.Unmarshal(event, &entry.Event); err != nil {
			return nil, fmt.Errorf("failed to decode dead-letter event %d: %w", entry.ID, err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letters: %w", err)
	}

	return entries, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter %d: %w", id, err)
	}
	return nil
}

// RecordAttempt counts a failed resubmission. Replay attempts are
// tracked apart from attempt_count so the original dispatch retries do
// not eat into the replay budget.
func (r *PostgresRepository) RecordAttempt(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letters
		SET replay_count = replay_count + 1, last_attempt_at = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record replay attempt for %d: %w", id, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// NewEntry builds a dead-letter entry for an event that exhausted its
// retries or failed validation.
func NewEntry(event models.InboundEvent, reason string, attempts int) *Entry {
	now := time.Now()
	return &Entry{
		Event:         event,
		FailureReason: reason,
		AttemptCount:  attempts,
		FirstFailedAt: now,
		LastAttemptAt: now,
	}
}
