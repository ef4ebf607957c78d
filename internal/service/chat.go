package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_conversational_service.go -package=mocks docqa-ai/internal/service ConversationalService

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/conversation"
	"docqa-ai/internal/llm"
	"docqa-ai/internal/rag"
)

// SessionManager is the part of conversation.Manager the chat layer uses.
// This interface is defined from the service layer's perspective (consumer-first).
type SessionManager interface {
	Begin(ctx context.Context, userID, sessionID string) (*conversation.Session, func(), error)
	Record(ctx context.Context, sess *conversation.Session, role conversation.Role, content, resolvedQuery string) (conversation.Message, error)
	ResolveReferences(query string, sess *conversation.Session) (string, bool)
	History(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error)
}

// ChatRequest represents a chat request in the domain layer.
type ChatRequest struct {
	UserID string
	// SessionID resumes a conversation; empty starts a new one.
	SessionID   string
	Message     string
	DocumentIDs []string
	Style       string
	Debug       bool
}

// ChatResponse represents a chat response in the domain layer.
type ChatResponse struct {
	SessionID string
	Answer    string
	Intent    Intent
	// ResolvedQuery is the message after reference resolution.
	ResolvedQuery      string
	ReferencesResolved bool
	Sources            []rag.Source
	Confidence         float64
	Degraded           bool
	DegradedReasons    []string
	NoResults          bool
	FollowUps          []string
	Turn               int
	Debug              *rag.DebugInfo
}

// Config configures the conversational layer.
type Config struct {
	MaxFollowUps int `yaml:"max_follow_ups"`
	// HistoryMessages is how many prior messages are passed on as context.
	HistoryMessages    int           `yaml:"history_messages"`
	SynthesisMaxTokens int           `yaml:"synthesis_max_tokens"`
	ExternalTimeout    time.Duration `yaml:"external_timeout"`
}

// DefaultConfig returns the default conversational configuration.
func DefaultConfig() Config {
	return Config{
		MaxFollowUps:       3,
		HistoryMessages:    6,
		SynthesisMaxTokens: 900,
		ExternalTimeout:    30 * time.Second,
	}
}

// ConversationalService answers messages within a conversation.
type ConversationalService interface {
	// Chat processes one user message and returns the assistant's reply.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// conversationalService implements ConversationalService.
type conversationalService struct {
	sessions  SessionManager
	engine    rag.Engine
	generator llm.Generator
	cfg       Config
}

// NewConversationalService creates a new ConversationalService.
func NewConversationalService(sessions SessionManager, engine rag.Engine, generator llm.Generator, cfg Config) ConversationalService {
	d := DefaultConfig()
	if cfg.MaxFollowUps <= 0 {
		cfg.MaxFollowUps = d.MaxFollowUps
	}
	if cfg.HistoryMessages < 0 {
		cfg.HistoryMessages = 0
	}
	if cfg.SynthesisMaxTokens <= 0 {
		cfg.SynthesisMaxTokens = d.SynthesisMaxTokens
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = d.ExternalTimeout
	}
	return &conversationalService{
		sessions:  sessions,
		engine:    engine,
		generator: generator,
		cfg:       cfg,
	}
}

func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "chat")
}

// Chat resolves references against the session, classifies and rewrites the
// message, answers it through the RAG engine, synthesizes a contextual reply
// with follow-up questions, and records both turns. Only validation,
// ownership and session-store failures are returned as errors.
func (s *conversationalService) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	logger := getLogger(ctx)

	message := strings.TrimSpace(req.Message)
	if message == "" {
		logger.WarnContext(ctx, "empty message in chat request")
		return ChatResponse{}, apperr.Invalid("message", "cannot be empty")
	}
	if req.UserID == "" {
		return ChatResponse{}, apperr.Invalid("user_id", "cannot be empty")
	}

	sess, release, err := s.sessions.Begin(ctx, req.UserID, req.SessionID)
	if err != nil {
		return ChatResponse{}, apperr.WrapError(err, "failed to begin session")
	}
	defer release()
	logger = logger.With("session_id", sess.ID)

	history, err := s.history(ctx, sess.ID)
	if err != nil {
		logger.WarnContext(ctx, "failed to load history, continuing without it", "error", err)
	}

	resolved, didResolve := s.sessions.ResolveReferences(message, sess)
	if didResolve {
		logger.InfoContext(ctx, "resolved references", "message", message, "resolved", resolved)
	}

	intent := s.classify(ctx, resolved)
	query := rewriteQuery(intent, resolved, sess.CurrentTopic)
	logger.InfoContext(ctx, "chat message classified", "intent", intent, "query", query)

	base, err := s.engine.ProcessQuery(ctx, rag.Request{
		Query:         message,
		ResolvedQuery: query,
		UserID:        req.UserID,
		DocumentIDs:   req.DocumentIDs,
		Style:         req.Style,
		Instructions:  intentInstructions(intent),
		History:       history,
		Debug:         req.Debug,
	})
	if err != nil {
		return ChatResponse{}, err
	}

	resp := ChatResponse{
		SessionID:          sess.ID,
		Intent:             intent,
		ResolvedQuery:      resolved,
		ReferencesResolved: didResolve,
		Sources:            base.Sources,
		Confidence:         base.Confidence,
		Degraded:           base.Degraded,
		DegradedReasons:    base.DegradedReasons,
		NoResults:          base.NoResults,
		Debug:              base.Debug,
	}
	resp.Answer = s.synthesize(ctx, intent, resolved, base, history)
	if base.NoResults {
		resp.FollowUps = templatedFollowUps(intent, topicOr(sess.CurrentTopic, resolved), s.cfg.MaxFollowUps)
	} else {
		resp.FollowUps = s.followUps(ctx, intent, resolved, resp.Answer, sess.CurrentTopic)
	}

	recordedQuery := ""
	if resolved != message {
		recordedQuery = resolved
	}
	if _, err := s.sessions.Record(ctx, sess, conversation.RoleUser, message, recordedQuery); err != nil {
		return ChatResponse{}, apperr.WrapError(err, "failed to record user turn")
	}
	if _, err := s.sessions.Record(ctx, sess, conversation.RoleAssistant, resp.Answer, ""); err != nil {
		return ChatResponse{}, apperr.WrapError(err, "failed to record assistant turn")
	}
	resp.Turn = sess.Turn

	logger.InfoContext(ctx, "chat request processed successfully",
		"intent", intent,
		"sources", len(resp.Sources),
		"follow_ups", len(resp.FollowUps),
		"degraded", resp.Degraded,
		"turn", resp.Turn,
	)
	return resp, nil
}

func (s *conversationalService) history(ctx context.Context, sessionID string) ([]llm.Message, error) {
	if s.cfg.HistoryMessages == 0 {
		return nil, nil
	}
	msgs, err := s.sessions.History(ctx, sessionID, s.cfg.HistoryMessages)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: string(m.Role), Content: m.Content}
	}
	return out, nil
}

func topicOr(topic, fallback string) string {
	if topic != "" {
		return topic
	}
	return fallback
}
