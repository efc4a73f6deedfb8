package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/relaydesk/channelhub/internal/channel"
)

func (s *Store) GetSession(ctx context.Context, key channel.SessionKey) (*channel.Session, error) {
	var sess channel.Session
	var metadata []byte
	err := s.pool.QueryRow(ctx, `
		SELECT channel, account_id, peer_kind, peer_id, thread_id, session_id, agent_id,
			user_id, tts_enabled, tts_voice, metadata, created_at, updated_at, last_message_at
		FROM channel_sessions
		WHERE channel = $1 AND account_id = $2 AND peer_kind = $3 AND peer_id = $4 AND thread_id = $5`,
		key.Channel, key.AccountID, key.PeerKind, key.PeerID, key.ThreadID).
		Scan(&sess.Channel, &sess.AccountID, &sess.PeerKind, &sess.PeerID, &sess.ThreadID,
			&sess.SessionID, &sess.AgentID, &sess.UserID, &sess.TTSEnabled, &sess.TTSVoice,
			&metadata, &sess.CreatedAt, &sess.UpdatedAt, &sess.LastMessageAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, channel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal(metadata, &sess.Metadata); err != nil {
		return nil, fmt.Errorf("decode session metadata: %w", err)
	}
	return &sess, nil
}

func (s *Store) UpsertSession(ctx context.Context, sess *channel.Session) error {
	metadata, err := json.Marshal(nonNilMap(sess.Metadata))
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO channel_sessions (
			channel, account_id, peer_kind, peer_id, thread_id, session_id, agent_id,
			user_id, tts_enabled, tts_voice, metadata, last_message_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (channel, account_id, peer_kind, peer_id, thread_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			agent_id = EXCLUDED.agent_id,
			user_id = EXCLUDED.user_id,
			tts_enabled = EXCLUDED.tts_enabled,
			tts_voice = EXCLUDED.tts_voice,
			metadata = EXCLUDED.metadata,
			last_message_at = EXCLUDED.last_message_at,
			updated_at = now()`,
		sess.Channel, sess.AccountID, sess.PeerKind, sess.PeerID, sess.ThreadID,
		sess.SessionID, sess.AgentID, sess.UserID, sess.TTSEnabled, sess.TTSVoice,
		metadata, sess.LastMessageAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Store) GetChatSession(ctx context.Context, id string) (*channel.ChatSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, agent_id, title, tool_overrides, is_main, metadata, created_at, updated_at
		FROM chat_sessions WHERE id = $1`, id)
	return scanChatSession(row)
}

func (s *Store) FindMainChatSession(ctx context.Context, userID, agentID string) (*channel.ChatSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, agent_id, title, tool_overrides, is_main, metadata, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1 AND agent_id = $2 AND is_main
		ORDER BY created_at LIMIT 1`, userID, agentID)
	return scanChatSession(row)
}

func (s *Store) UpsertChatSession(ctx context.Context, cs *channel.ChatSession) error {
	metadata, err := json.Marshal(nonNilMap(cs.Metadata))
	if err != nil {
		return fmt.Errorf("encode chat session metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_sessions (id, user_id, agent_id, title, tool_overrides, is_main, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			agent_id = EXCLUDED.agent_id,
			title = EXCLUDED.title,
			tool_overrides = EXCLUDED.tool_overrides,
			is_main = EXCLUDED.is_main,
			metadata = EXCLUDED.metadata,
			updated_at = now()`,
		cs.ID, cs.UserID, cs.AgentID, cs.Title, nonNilSlice(cs.ToolOverrides), cs.IsMain, metadata)
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	return nil
}

func scanChatSession(row rowScanner) (*channel.ChatSession, error) {
	var cs channel.ChatSession
	var metadata []byte
	err := row.Scan(&cs.ID, &cs.UserID, &cs.AgentID, &cs.Title, &cs.ToolOverrides,
		&cs.IsMain, &metadata, &cs.CreatedAt, &cs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, channel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}
	if err := json.Unmarshal(metadata, &cs.Metadata); err != nil {
		return nil, fmt.Errorf("decode chat session metadata: %w", err)
	}
	return &cs, nil
}
