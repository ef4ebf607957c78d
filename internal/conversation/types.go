package conversation

import (
	"context"
	"strings"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// State is the lifecycle state of a session.
type State string

const (
	StateNew     State = "new"
	StateActive  State = "active"
	StateExpired State = "expired"
)

// EntityType classifies a mentioned entity.
type EntityType string

const (
	EntityAcronym EntityType = "acronym"
	EntityQuoted  EntityType = "quoted"
	EntityPhrase  EntityType = "phrase"
	EntitySection EntityType = "section"
)

// priority ranks entity types as reference antecedents; lower wins.
func (t EntityType) priority() int {
	switch t {
	case EntityAcronym:
		return 0
	case EntityQuoted:
		return 1
	case EntityPhrase:
		return 2
	default:
		return 3
	}
}

// Entity is a recently mentioned term tracked for reference resolution.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
	// Expansion is the spelled-out form of an acronym, when one was seen.
	Expansion         string `json:"expansion,omitempty"`
	MentionCount      int    `json:"mentionCount"`
	LastMentionedTurn int    `json:"lastMentionedTurn"`
}

// Display is the form substituted into resolved queries.
func (e *Entity) Display() string {
	if e.Expansion != "" {
		return e.Value + " (" + e.Expansion + ")"
	}
	return e.Value
}

func entityKey(t EntityType, value string) string {
	return string(t) + ":" + strings.ToLower(value)
}

// Session is the per-user conversation state.
type Session struct {
	ID             string             `json:"id"`
	UserID         string             `json:"userId"`
	CurrentTopic   string             `json:"currentTopic,omitempty"`
	StartedAt      time.Time          `json:"startedAt"`
	LastActivityAt time.Time          `json:"lastActivityAt"`
	Entities       map[string]*Entity `json:"entities"`
	// Turn counts user messages recorded so far.
	Turn int `json:"turn"`
}

// Message is one append-only conversation entry. IDs are ULIDs, so sorting
// by ID replays the conversation in order.
type Message struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	ResolvedQuery string    `json:"resolvedQuery,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Store persists sessions and their messages.
type Store interface {
	// GetSession returns apperr.ErrNotFound when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
	// DeleteSession removes the session and its messages.
	DeleteSession(ctx context.Context, sessionID string) error
	AppendMessage(ctx context.Context, m Message) error
	// Messages returns the last limit messages in order; limit <= 0 means all.
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	ListSessions(ctx context.Context) ([]*Session, error)
}
