package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
)

// Repository runs on the caller's transaction so events commit or roll back with the
// appointment write that produced them.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	key := evt.Key
	if key == "" {
		key = evt.AggregateID
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, partition_key, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.AggregateType, evt.AggregateID, key, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

// FetchPending locks up to limit unpublished rows that have not exhausted maxAttempts.
// Concurrent publishers skip each other's rows.
func (r *Repository) FetchPending(ctx context.Context, tx pgx.Tx, limit, maxAttempts int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_id, partition_key, event_type, payload,
		       traceparent, tracestate, attempts, created_at
		FROM outbox_events
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rc Record
		err := row.Scan(&rc.ID, &rc.EventID, &rc.AggregateID, &rc.Key, &rc.EventType, &rc.Payload,
			&rc.Traceparent, &rc.Tracestate, &rc.Attempts, &rc.CreatedAt)
		return rc, err
	})
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now(), last_error = '' WHERE id = ANY($1)`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, cause string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events SET attempts = attempts + 1, last_error = left($2, 500) WHERE id = $1
	`, id, cause)
	return err
}

// Prune removes published events older than the retention window.
func (r *Repository) Prune(ctx context.Context, tx pgx.Tx, olderThanDays int) (int64, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE published_at IS NOT NULL AND published_at < now() - make_interval(days => $1)
	`, olderThanDays)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
