package channel_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relaydesk/channelhub/internal/channel"
)

// fakeStore is an in-memory channel.Store for pipeline tests.
type fakeStore struct {
	mu           sync.Mutex
	accounts     map[string]*channel.Account
	bindings     []*channel.Binding
	userBindings map[string]string
	sessions     map[channel.SessionKey]*channel.Session
	chatSessions map[string]*channel.ChatSession
	messages     []*channel.MessageRecord
	media        []*channel.MediaAsset
	outbox       map[string]*channel.OutboxRecord
	outboxSeq    int

	failSaveMessage bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:     make(map[string]*channel.Account),
		userBindings: make(map[string]string),
		sessions:     make(map[channel.SessionKey]*channel.Session),
		chatSessions: make(map[string]*channel.ChatSession),
		outbox:       make(map[string]*channel.OutboxRecord),
	}
}

func accountKey(ch, accountID string) string { return ch + ":" + accountID }

func (s *fakeStore) GetAccount(_ context.Context, ch, accountID string) (*channel.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountKey(ch, accountID)]
	if !ok {
		return nil, channel.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *fakeStore) UpsertAccount(_ context.Context, acc *channel.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acc
	s.accounts[accountKey(acc.Channel, acc.AccountID)] = &cp
	return nil
}

func (s *fakeStore) ListActiveAccounts(_ context.Context, ch string) ([]*channel.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*channel.Account
	for _, acc := range s.accounts {
		if acc.Channel == ch && acc.Status == channel.AccountStatusActive {
			cp := *acc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListEnabledBindings(_ context.Context) ([]*channel.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*channel.Binding
	for _, b := range s.bindings {
		if b.Enabled {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) GetUserBinding(_ context.Context, ch, externalID string) (*channel.UserBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.userBindings[ch+":"+externalID]
	if !ok {
		return nil, channel.ErrNotFound
	}
	return &channel.UserBinding{Channel: ch, ExternalID: externalID, UserID: userID}, nil
}

func (s *fakeStore) GetSession(_ context.Context, key channel.SessionKey) (*channel.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, channel.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) UpsertSession(_ context.Context, sess *channel.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	if prev, ok := s.sessions[sess.SessionKey]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	s.sessions[sess.SessionKey] = &cp
	return nil
}

func (s *fakeStore) GetChatSession(_ context.Context, id string) (*channel.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chatSessions[id]
	if !ok {
		return nil, channel.ErrNotFound
	}
	cp := *cs
	return &cp, nil
}

func (s *fakeStore) UpsertChatSession(_ context.Context, cs *channel.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cs
	if prev, ok := s.chatSessions[cs.ID]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	s.chatSessions[cs.ID] = &cp
	return nil
}

func (s *fakeStore) FindMainChatSession(_ context.Context, userID, agentID string) (*channel.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.chatSessions {
		if cs.IsMain && cs.UserID == userID && cs.AgentID == agentID {
			cp := *cs
			return &cp, nil
		}
	}
	return nil, channel.ErrNotFound
}

func (s *fakeStore) SaveMessage(_ context.Context, rec *channel.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveMessage {
		return fmt.Errorf("audit table unavailable")
	}
	cp := *rec
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *fakeStore) UpsertMediaAsset(_ context.Context, asset *channel.MediaAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *asset
	s.media = append(s.media, &cp)
	return nil
}

func (s *fakeStore) InsertOutbox(_ context.Context, rec *channel.OutboxRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboxSeq++
	id := fmt.Sprintf("out-%04d", s.outboxSeq)
	cp := *rec
	cp.ID = id
	cp.Status = channel.OutboxStatusPending
	cp.CreatedAt = time.Now()
	s.outbox[id] = &cp
	return id, nil
}

func (s *fakeStore) ClaimDueOutbox(_ context.Context, now time.Time, limit int) ([]*channel.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*channel.OutboxRecord
	for _, rec := range s.outbox {
		if rec.Status != channel.OutboxStatusPending && rec.Status != channel.OutboxStatusRetry {
			continue
		}
		if rec.RetryAt.After(now) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MarkOutboxSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[id]
	if !ok {
		return channel.ErrNotFound
	}
	rec.Status = channel.OutboxStatusSent
	rec.DeliveredAt = &at
	return nil
}

func (s *fakeStore) MarkOutboxRetry(_ context.Context, id string, retryCount int, retryAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[id]
	if !ok {
		return channel.ErrNotFound
	}
	rec.Status = channel.OutboxStatusRetry
	rec.RetryCount = retryCount
	rec.RetryAt = retryAt
	rec.LastError = lastError
	return nil
}

func (s *fakeStore) MarkOutboxFailed(_ context.Context, id string, retryCount int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[id]
	if !ok {
		return channel.ErrNotFound
	}
	rec.Status = channel.OutboxStatusFailed
	rec.RetryCount = retryCount
	rec.LastError = lastError
	return nil
}

func (s *fakeStore) GetOutbox(_ context.Context, id string) (*channel.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[id]
	if !ok {
		return nil, channel.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) ListOutboxByStatus(_ context.Context, status string, limit int) ([]*channel.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*channel.OutboxRecord
	for _, rec := range s.outbox {
		if rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
