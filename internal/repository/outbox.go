package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/outbox"
)

const (
	insertOutboxSQL = `INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// Claimed rows are leased so a crashed relay's batch becomes visible again
	// once the lease lapses.
	claimOutboxSQL = `UPDATE outbox SET attempts = attempts + 1, locked_until = now() + $2::bigint * interval '1 millisecond'
		WHERE id IN (
			SELECT id FROM outbox
			WHERE sent_at IS NULL AND (locked_until IS NULL OR locked_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload, created_at`

	markOutboxSentSQL = `UPDATE outbox SET sent_at = now(), locked_until = NULL WHERE id = ANY($1)`

	countOutboxPendingSQL = `SELECT count(*) FROM outbox WHERE sent_at IS NULL`
)

var (
	_ outbox.Store            = (*OutboxRepository)(nil)
	_ checkout.ReleaseAuditor = (*OutboxRepository)(nil)
)

// OutboxRepository stores and claims outbox events.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Claim leases up to limit unsent events, oldest first.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]outbox.Event, error) {
	rows, err := r.pool.Query(ctx, claimOutboxSQL, limit, lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("claiming outbox events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Event, error) {
		var e outbox.Event
		err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("claiming outbox events: %w", err)
	}
	return events, nil
}

// MarkSent flags the events as delivered.
func (r *OutboxRepository) MarkSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, markOutboxSentSQL, ids); err != nil {
		return fmt.Errorf("marking %d outbox events sent: %w", len(ids), err)
	}
	return nil
}

// Pending returns the number of undelivered events.
func (r *OutboxRepository) Pending(ctx context.Context) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countOutboxPendingSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending outbox events: %w", err)
	}
	return int(n), nil
}

// RecordReleaseFailure stores a coupon.release_failed event for a reservation
// whose compensating release did not apply.
func (r *OutboxRepository) RecordReleaseFailure(ctx context.Context, couponID, code string, cause error) error {
	if err := insertEvent(ctx, r.pool, outbox.CouponReleaseFailed(couponID, code, cause, time.Now())); err != nil {
		return fmt.Errorf("recording release failure for coupon %q: %w", couponID, err)
	}
	return nil
}

func insertEvent(ctx context.Context, q execer, e outbox.Event) error {
	_, err := q.Exec(ctx, insertOutboxSQL, e.ID, e.AggregateType, e.AggregateID, e.Type, e.Payload, e.CreatedAt)
	return err
}
