package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaydesk/channelhub/internal/channel"
)

const outboxColumns = `id, channel, account_id, peer_kind, peer_id, thread_id, payload,
	status, retry_count, retry_at, last_error, created_at, updated_at, delivered_at`

func (s *Store) InsertOutbox(ctx context.Context, rec *channel.OutboxRecord) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO channel_outbox (channel, account_id, peer_kind, peer_id, thread_id, payload, status, retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		rec.Channel, rec.AccountID, rec.PeerKind, rec.PeerID, rec.ThreadID,
		rec.Payload, channel.OutboxStatusPending, rec.RetryAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert outbox: %w", err)
	}
	return id, nil
}

// ClaimDueOutbox returns due pending/retry records oldest first. The
// statement auto-commits, so its row locks end before delivery starts:
// SKIP LOCKED only de-duplicates pollers that overlap on the same instant,
// and two hub instances sharing a database can still deliver the same row
// twice. Rows stay claimable until marked, so a crashed worker's batch is
// retried.
func (s *Store) ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]*channel.OutboxRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+outboxColumns+` FROM channel_outbox
		WHERE status IN ('pending', 'retry') AND retry_at <= $1
		ORDER BY retry_at, created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox: %w", err)
	}
	defer rows.Close()

	var out []*channel.OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) MarkOutboxSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channel_outbox
		SET status = 'sent', delivered_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

func (s *Store) MarkOutboxRetry(ctx context.Context, id string, retryCount int, retryAt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channel_outbox
		SET status = 'retry', retry_count = $2, retry_at = $3, last_error = $4, updated_at = now()
		WHERE id = $1`, id, retryCount, retryAt, lastError)
	if err != nil {
		return fmt.Errorf("mark outbox retry: %w", err)
	}
	return nil
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id string, retryCount int, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channel_outbox
		SET status = 'failed', retry_count = $2, last_error = $3, updated_at = now()
		WHERE id = $1`, id, retryCount, lastError)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (s *Store) GetOutbox(ctx context.Context, id string) (*channel.OutboxRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+outboxColumns+` FROM channel_outbox WHERE id = $1`, id)
	return scanOutbox(row)
}

func (s *Store) ListOutboxByStatus(ctx context.Context, status string, limit int) ([]*channel.OutboxRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+outboxColumns+` FROM channel_outbox
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []*channel.OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOutbox(row rowScanner) (*channel.OutboxRecord, error) {
	var rec channel.OutboxRecord
	err := row.Scan(&rec.ID, &rec.Channel, &rec.AccountID, &rec.PeerKind, &rec.PeerID,
		&rec.ThreadID, &rec.Payload, &rec.Status, &rec.RetryCount, &rec.RetryAt,
		&rec.LastError, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, channel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	return &rec, nil
}
