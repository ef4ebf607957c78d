package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/contextutil"
)

// DefaultIdleTTL is how long a session may stay idle before it expires.
const DefaultIdleTTL = 24 * time.Hour

// Config configures a Manager.
type Config struct {
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// ResolutionWindow is how many user turns back an antecedent may have
	// been mentioned and still be substituted.
	ResolutionWindow int `yaml:"resolution_window"`
}

// DefaultConfig returns a 24h idle window and a 3-turn resolution window.
func DefaultConfig() Config {
	return Config{IdleTTL: DefaultIdleTTL, ResolutionWindow: 3}
}

// Manager owns conversation sessions: it starts and resumes them, records
// turns, tracks mentioned entities and resolves references in follow-ups.
type Manager struct {
	store Store
	cfg   Config
	now   func() time.Time

	mu       sync.Mutex
	inFlight map[string]int
	evicting map[string]chan struct{}

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewManager creates a new Manager.
func NewManager(store Store, cfg Config) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.ResolutionWindow <= 0 {
		cfg.ResolutionWindow = DefaultConfig().ResolutionWindow
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		inFlight: make(map[string]int),
		evicting: make(map[string]chan struct{}),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "conversation")
}

func (m *Manager) newID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(m.now()), m.entropy).String()
}

// Begin starts or resumes the (userID, sessionID) session and marks it
// in flight until the returned release func is called. An empty sessionID
// starts a new session. An expired session is replaced by a fresh one with
// the same ID. Sessions of other users are rejected with apperr.ErrOwnership.
func (m *Manager) Begin(ctx context.Context, userID, sessionID string) (*Session, func(), error) {
	if userID == "" {
		return nil, nil, apperr.Invalid("user_id", "must not be empty")
	}
	if sessionID == "" {
		sessionID = m.newID()
	}
	if err := m.acquire(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	var once sync.Once
	release := func() { once.Do(func() { m.release(sessionID) }) }

	sess, err := m.load(ctx, userID, sessionID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return sess, release, nil
}

func (m *Manager) load(ctx context.Context, userID, sessionID string) (*Session, error) {
	logger := getLogger(ctx)
	now := m.now()

	sess, err := m.store.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		sess = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load session: %w", err)
	case sess.UserID != userID:
		return nil, fmt.Errorf("%w: session %s", apperr.ErrOwnership, sessionID)
	case m.State(sess) == StateExpired:
		logger.InfoContext(ctx, "session expired, starting fresh", "session_id", sessionID)
		if err := m.store.DeleteSession(ctx, sessionID); err != nil {
			return nil, err
		}
		sess = nil
	}

	if sess == nil {
		sess = &Session{
			ID:             sessionID,
			UserID:         userID,
			StartedAt:      now,
			LastActivityAt: now,
			Entities:       make(map[string]*Entity),
		}
		if err := m.store.SaveSession(ctx, sess); err != nil {
			return nil, err
		}
		logger.DebugContext(ctx, "session started", "session_id", sessionID)
	}
	return sess, nil
}

// acquire marks sessionID in flight, waiting out a concurrent eviction.
func (m *Manager) acquire(ctx context.Context, sessionID string) error {
	for {
		m.mu.Lock()
		ch, evicting := m.evicting[sessionID]
		if !evicting {
			m.inFlight[sessionID]++
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[sessionID] <= 1 {
		delete(m.inFlight, sessionID)
		return
	}
	m.inFlight[sessionID]--
}

// Record appends a message to the session, harvests its entities and
// updates the session's activity time. User messages advance the turn.
func (m *Manager) Record(ctx context.Context, sess *Session, role Role, content, resolvedQuery string) (Message, error) {
	now := m.now()
	msg := Message{
		ID:            m.newID(),
		SessionID:     sess.ID,
		Role:          role,
		Content:       content,
		ResolvedQuery: resolvedQuery,
		Timestamp:     now,
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return Message{}, err
	}

	if role == RoleUser {
		sess.Turn++
	}
	m.trackEntities(sess, content, role == RoleUser)
	sess.LastActivityAt = now

	if err := m.store.SaveSession(ctx, sess); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m *Manager) trackEntities(sess *Session, content string, fromUser bool) {
	if sess.Entities == nil {
		sess.Entities = make(map[string]*Entity)
	}
	found := harvestEntities(content)
	for _, h := range found {
		k := entityKey(h.typ, h.value)
		e, ok := sess.Entities[k]
		if !ok {
			e = &Entity{Type: h.typ, Value: h.value}
			sess.Entities[k] = e
		}
		e.MentionCount++
		e.LastMentionedTurn = sess.Turn
		if h.expansion != "" {
			e.Expansion = h.expansion
		}
	}
	if fromUser && len(found) > 0 {
		best := found[0]
		for _, h := range found[1:] {
			if h.typ.priority() < best.typ.priority() {
				best = h
			}
		}
		sess.CurrentTopic = best.value
	}
}

// State reports the lifecycle state of the session.
func (m *Manager) State(sess *Session) State {
	if m.now().Sub(sess.LastActivityAt) > m.cfg.IdleTTL {
		return StateExpired
	}
	if sess.Turn == 0 {
		return StateNew
	}
	return StateActive
}

// ResolveReferences substitutes the first pronoun or deictic reference in
// query with the most recently mentioned entity of the session. When no
// entity was mentioned within the resolution window the query is returned
// unchanged with ok false.
func (m *Manager) ResolveReferences(query string, sess *Session) (resolved string, ok bool) {
	start, end, found := referenceSpan(query)
	if !found || sess == nil {
		return query, false
	}
	antecedent := m.antecedent(sess)
	if antecedent == nil {
		return query, false
	}

	replacement := antecedent.Display()
	if strings.EqualFold(query[start:end], "its") {
		replacement += "'s"
	}
	return query[:start] + replacement + query[end:], true
}

// antecedent picks the most recent entity within the resolution window,
// preferring more mentions and then acronyms, quoted terms, phrases and
// section references in that order.
func (m *Manager) antecedent(sess *Session) *Entity {
	candidates := make([]*Entity, 0, len(sess.Entities))
	for _, e := range sess.Entities {
		if sess.Turn-e.LastMentionedTurn < m.cfg.ResolutionWindow {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.LastMentionedTurn != b.LastMentionedTurn {
			return a.LastMentionedTurn > b.LastMentionedTurn
		}
		if a.MentionCount != b.MentionCount {
			return a.MentionCount > b.MentionCount
		}
		if a.Type.priority() != b.Type.priority() {
			return a.Type.priority() < b.Type.priority()
		}
		return a.Value < b.Value
	})
	return candidates[0]
}

// History returns the last limit messages of a session in order.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	return m.store.Messages(ctx, sessionID, limit)
}

// EvictExpired deletes sessions idle for longer than the idle window.
// Sessions with a request in flight are skipped.
func (m *Manager) EvictExpired(ctx context.Context) (int, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, sess := range sessions {
		if m.State(sess) != StateExpired {
			continue
		}

		m.mu.Lock()
		if m.inFlight[sess.ID] > 0 {
			m.mu.Unlock()
			continue
		}
		done := make(chan struct{})
		m.evicting[sess.ID] = done
		m.mu.Unlock()

		deleted, err := m.evictIfExpired(ctx, sess.ID)

		m.mu.Lock()
		delete(m.evicting, sess.ID)
		close(done)
		m.mu.Unlock()

		if err != nil {
			return evicted, err
		}
		if deleted {
			evicted++
		}
	}

	if evicted > 0 {
		getLogger(ctx).InfoContext(ctx, "evicted idle sessions", "count", evicted)
	}
	return evicted, nil
}

// evictIfExpired re-reads the session while new requests are held off, so a
// session resumed after the listing snapshot is kept.
func (m *Manager) evictIfExpired(ctx context.Context, sessionID string) (bool, error) {
	current, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if m.State(current) != StateExpired {
		return false, nil
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return false, err
	}
	return true, nil
}

// RunEviction calls EvictExpired every interval until ctx is done.
func (m *Manager) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.EvictExpired(ctx); err != nil {
				getLogger(ctx).WarnContext(ctx, "session eviction failed", "error", err)
			}
		}
	}
}
