// Package storage is the PostgreSQL implementation of the hub's
// persistence contract.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/channelhub/internal/channel"
)

// Store implements channel.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const accountColumns = `channel, account_id, status, inbound_token, outbound_url, outbound_token,
	outbound_headers, credentials, allowed_peers, blocked_peers, allowed_senders, blocked_senders,
	default_agent_id, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, ch, accountID string) (*channel.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM channel_accounts WHERE channel = $1 AND account_id = $2`,
		ch, accountID)
	return scanAccount(row)
}

func (s *Store) ListActiveAccounts(ctx context.Context, ch string) ([]*channel.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM channel_accounts WHERE channel = $1 AND status = 'active'`,
		ch)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*channel.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAccount(ctx context.Context, acc *channel.Account) error {
	headers, err := json.Marshal(nonNilHeaders(acc.OutboundHeaders))
	if err != nil {
		return fmt.Errorf("encode outbound headers: %w", err)
	}
	credentials, err := json.Marshal(nonNilMap(acc.Credentials))
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO channel_accounts (
			channel, account_id, status, inbound_token, outbound_url, outbound_token,
			outbound_headers, credentials, allowed_peers, blocked_peers, allowed_senders,
			blocked_senders, default_agent_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (channel, account_id) DO UPDATE SET
			status = EXCLUDED.status,
			inbound_token = EXCLUDED.inbound_token,
			outbound_url = EXCLUDED.outbound_url,
			outbound_token = EXCLUDED.outbound_token,
			outbound_headers = EXCLUDED.outbound_headers,
			credentials = EXCLUDED.credentials,
			allowed_peers = EXCLUDED.allowed_peers,
			blocked_peers = EXCLUDED.blocked_peers,
			allowed_senders = EXCLUDED.allowed_senders,
			blocked_senders = EXCLUDED.blocked_senders,
			default_agent_id = EXCLUDED.default_agent_id,
			updated_at = now()`,
		acc.Channel, acc.AccountID, acc.Status, acc.InboundToken, acc.OutboundURL,
		acc.OutboundToken, headers, credentials,
		nonNilSlice(acc.AllowedPeers), nonNilSlice(acc.BlockedPeers),
		nonNilSlice(acc.AllowedSenders), nonNilSlice(acc.BlockedSenders),
		acc.DefaultAgentID)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *Store) ListEnabledBindings(ctx context.Context) ([]*channel.Binding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel, account_id, peer_kind, peer_id, agent_id, tool_overrides,
			priority, enabled, created_at, updated_at
		FROM channel_bindings WHERE enabled`)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []*channel.Binding
	for rows.Next() {
		var b channel.Binding
		if err := rows.Scan(&b.ID, &b.Channel, &b.AccountID, &b.PeerKind, &b.PeerID,
			&b.AgentID, &b.ToolOverrides, &b.Priority, &b.Enabled,
			&b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) GetUserBinding(ctx context.Context, ch, externalID string) (*channel.UserBinding, error) {
	var ub channel.UserBinding
	err := s.pool.QueryRow(ctx, `
		SELECT channel, external_id, user_id, created_at, updated_at
		FROM channel_user_bindings WHERE channel = $1 AND external_id = $2`,
		ch, externalID).
		Scan(&ub.Channel, &ub.ExternalID, &ub.UserID, &ub.CreatedAt, &ub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, channel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user binding: %w", err)
	}
	return &ub, nil
}

func (s *Store) SaveMessage(ctx context.Context, rec *channel.MessageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_messages (
			channel, account_id, peer_kind, peer_id, thread_id, message_id,
			sender_id, session_id, direction, body
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.Channel, rec.AccountID, rec.PeerKind, rec.PeerID, rec.ThreadID,
		rec.MessageID, rec.SenderID, rec.SessionID, rec.Direction, rec.Body)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *Store) UpsertMediaAsset(ctx context.Context, asset *channel.MediaAsset) error {
	metadata, err := json.Marshal(nonNilMap(asset.Metadata))
	if err != nil {
		return fmt.Errorf("encode asset metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO media_assets (channel, account_id, kind, url, name, mime, size, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (channel, account_id, url) DO UPDATE SET
			kind = EXCLUDED.kind,
			name = EXCLUDED.name,
			mime = EXCLUDED.mime,
			size = EXCLUDED.size,
			metadata = EXCLUDED.metadata,
			updated_at = now()`,
		asset.Channel, asset.AccountID, asset.Kind, asset.URL, asset.Name,
		asset.Mime, asset.Size, metadata)
	if err != nil {
		return fmt.Errorf("upsert media asset: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*channel.Account, error) {
	var acc channel.Account
	var headers, credentials []byte
	err := row.Scan(&acc.Channel, &acc.AccountID, &acc.Status, &acc.InboundToken,
		&acc.OutboundURL, &acc.OutboundToken, &headers, &credentials,
		&acc.AllowedPeers, &acc.BlockedPeers, &acc.AllowedSenders, &acc.BlockedSenders,
		&acc.DefaultAgentID, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, channel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if err := json.Unmarshal(headers, &acc.OutboundHeaders); err != nil {
		return nil, fmt.Errorf("decode outbound headers: %w", err)
	}
	if err := json.Unmarshal(credentials, &acc.Credentials); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return &acc, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilHeaders(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
