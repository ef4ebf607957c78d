package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/service"
)

// ChatHandler handles HTTP requests for chat.
type ChatHandler struct {
	chatService service.ConversationalService
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chatService service.ConversationalService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest represents the HTTP request payload for chat.
//
// swagger:model ChatRequest
type ChatRequest struct {
	// SessionID resumes a conversation; omit it to start one.
	SessionID   string   `json:"session_id,omitempty"`
	Message     string   `json:"message"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	Style       string   `json:"style,omitempty"`
}

// ChatResponse represents the HTTP response payload for chat.
//
// swagger:model ChatResponse
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Intent    string `json:"intent"`
	// ResolvedQuery is the message after follow-up references were resolved.
	ResolvedQuery      string           `json:"resolved_query,omitempty"`
	ReferencesResolved bool             `json:"references_resolved"`
	Sources            []SourceResponse `json:"sources"`
	Confidence         float64          `json:"confidence"`
	Degraded           bool             `json:"degraded"`
	DegradedReasons    []string         `json:"degraded_reasons,omitempty"`
	NoResults          bool             `json:"no_results"`
	FollowUps          []string         `json:"follow_ups"`
	Turn               int              `json:"turn"`
	Debug              *DebugInfo       `json:"debug,omitempty"`
}

// ServeHTTP handles HTTP requests for chat.
//
// swagger:route POST /api/v1/chat chat
//
// # Send a chat message
//
// Answers a message within a conversation. Follow-ups such as "what does
// it do?" are resolved against earlier turns of the session.
//
// ---
// consumes:
// - application/json
// produces:
// - application/json
// parameters:
//   - in: body
//     name: body
//     required: true
//     schema:
//     "$ref": "#/definitions/ChatRequest"
//
// responses:
//
//	'200':
//	  description: Reply with sources and follow-up questions
//	  schema:
//	    "$ref": "#/definitions/ChatResponse"
//	'400':
//	  description: Bad request
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
//	'403':
//	  description: Session or document belongs to another user
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	svcResp, err := h.chatService.Chat(ctx, service.ChatRequest{
		UserID:      userID,
		SessionID:   req.SessionID,
		Message:     req.Message,
		DocumentIDs: req.DocumentIDs,
		Style:       normalizeStyle(req.Style),
		Debug:       debugRequested(r),
	})
	if err != nil {
		handleError(w, ctx, err, "Failed to process chat request")
		return
	}

	resp := ChatResponse{
		SessionID:          svcResp.SessionID,
		Reply:              svcResp.Answer,
		Intent:             string(svcResp.Intent),
		ResolvedQuery:      svcResp.ResolvedQuery,
		ReferencesResolved: svcResp.ReferencesResolved,
		Sources:            toSourceResponses(svcResp.Sources),
		Confidence:         svcResp.Confidence,
		Degraded:           svcResp.Degraded,
		DegradedReasons:    svcResp.DegradedReasons,
		NoResults:          svcResp.NoResults,
		FollowUps:          svcResp.FollowUps,
		Turn:               svcResp.Turn,
	}
	if resp.FollowUps == nil {
		resp.FollowUps = []string{}
	}
	if svcResp.Debug != nil {
		resp.Debug = toDebugInfo(svcResp.Debug)
	}

	writeJSON(w, http.StatusOK, resp)
}
