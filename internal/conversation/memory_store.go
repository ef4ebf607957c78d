package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"docqa-ai/internal/apperr"
)

// MemoryStore keeps sessions in a process-local map. Sessions are stored as
// JSON snapshots so callers never share mutable state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	messages map[string][]Message
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		messages: make(map[string][]Message),
	}
}

// GetSession implements Store.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	b, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperr.ErrNotFound)
	}
	return decodeSession(b)
}

// SaveSession implements Store.
func (s *MemoryStore) SaveSession(_ context.Context, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = b
	return nil
}

// DeleteSession implements Store.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	return nil
}

// Messages implements Store.
func (s *MemoryStore) Messages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// ListSessions implements Store.
func (s *MemoryStore) ListSessions(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, b := range s.sessions {
		sess, err := decodeSession(b)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func decodeSession(b []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if sess.Entities == nil {
		sess.Entities = make(map[string]*Entity)
	}
	return &sess, nil
}
