// ABOUTME: HTTP API handlers for conversations, messages, and pending actions.
// ABOUTME: Every handler scopes its store access to the authenticated owner.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/larderhq/larder-gateway/internal/auth"
	"github.com/larderhq/larder-gateway/internal/store"
)

// ConversationResponse is the JSON rendering of a conversation.
type ConversationResponse struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Summary        string `json:"summary,omitempty"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Total         int                    `json:"total"`
	HasMore       bool                   `json:"has_more"`
}

// MessageResponse is the JSON rendering of a message.
type MessageResponse struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Blocks         []store.Block  `json:"blocks"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// ListMessagesResponse is the JSON response for
// GET /api/conversations/{id}/messages.
type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// ActionResponse is the JSON rendering of a pending action.
type ActionResponse struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id,omitempty"`
	ToolName       string         `json:"tool_name"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	AcceptLabel    string         `json:"accept_label"`
	CancelLabel    string         `json:"cancel_label"`
	Status         string         `json:"status"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	ErrorText      string         `json:"error_text,omitempty"`
	CreatedAt      string         `json:"created_at"`
	AcceptedAt     string         `json:"accepted_at,omitempty"`
	CanceledAt     string         `json:"canceled_at,omitempty"`
	ExecutedAt     string         `json:"executed_at,omitempty"`
}

// ListActionsResponse is the JSON response for
// GET /api/conversations/{id}/actions.
type ListActionsResponse struct {
	Actions []ActionResponse `json:"actions"`
}

// ActionResultResponse wraps a single action for accept/cancel responses.
type ActionResultResponse struct {
	Action ActionResponse `json:"action"`
}

// CancelActionRequest is the JSON request body for
// POST /api/actions/{id}/cancel.
type CancelActionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// requestOwner extracts the authenticated owner from the request context.
// The auth middleware guarantees one; a missing context is a wiring bug and
// answers 401 rather than leaking another owner's data.
func (g *Gateway) requestOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil || authCtx.OwnerID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "missing authentication context")
		return "", false
	}
	return authCtx.OwnerID, true
}

// handleConversations handles GET /api/conversations requests.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner, ok := g.requestOwner(w, r)
	if !ok {
		return
	}

	limit, ok := g.parseBoundedInt(w, r, "limit", 20, 100)
	if !ok {
		return
	}
	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	conversations, total, hasMore, err := g.store.ListConversations(r.Context(), owner, limit, offset)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	response := ListConversationsResponse{
		Conversations: make([]ConversationResponse, 0, len(conversations)),
		Total:         total,
		HasMore:       hasMore,
	}
	for _, conv := range conversations {
		response.Conversations = append(response.Conversations, conversationResponse(conv))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleConversationRoutes dispatches /api/conversations/{id} and its
// subresources: DELETE on the conversation itself, GET {id}/messages,
// POST {id}/stream, GET {id}/actions.
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	conversationID := parts[0]
	if conversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	if len(parts) == 1 {
		g.handleDeleteConversation(w, r, conversationID)
		return
	}

	switch parts[1] {
	case "messages":
		g.handleListMessages(w, r, conversationID)
	case "stream":
		g.handleStream(w, r, conversationID)
	case "actions":
		g.handleListActions(w, r, conversationID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleDeleteConversation handles DELETE /api/conversations/{id} requests.
// Deletion cascades to messages, tool calls, and pending actions.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner, ok := g.requestOwner(w, r)
	if !ok {
		return
	}

	if err := g.store.DeleteConversation(r.Context(), conversationID, owner); err != nil {
		g.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages handles GET /api/conversations/{id}/messages requests.
// Messages come back in chronological order; before_id pages backward
// through older history.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner, ok := g.requestOwner(w, r)
	if !ok {
		return
	}

	limit, ok := g.parseBoundedInt(w, r, "limit", 50, 100)
	if !ok {
		return
	}
	beforeID := r.URL.Query().Get("before_id")

	messages, hasMore, err := g.store.ListMessages(r.Context(), conversationID, owner, limit, beforeID)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	response := ListMessagesResponse{
		Messages: make([]MessageResponse, 0, len(messages)),
		HasMore:  hasMore,
	}
	for _, msg := range messages {
		response.Messages = append(response.Messages, messageResponse(msg))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleListActions handles GET /api/conversations/{id}/actions requests.
// The optional status filter must be one of the action lifecycle states.
func (g *Gateway) handleListActions(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner, ok := g.requestOwner(w, r)
	if !ok {
		return
	}

	status := store.ActionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", store.ActionProposed, store.ActionAccepted, store.ActionCanceled,
		store.ActionSucceeded, store.ActionFailed:
	default:
		g.sendJSONError(w, http.StatusBadRequest, "unknown action status")
		return
	}

	actions, err := g.store.ListPendingActions(r.Context(), conversationID, owner, status)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	response := ListActionsResponse{Actions: make([]ActionResponse, 0, len(actions))}
	for _, action := range actions {
		response.Actions = append(response.Actions, actionResponse(action))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleActionRoutes dispatches POST /api/actions/{id}/accept and
// POST /api/actions/{id}/cancel.
func (g *Gateway) handleActionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/actions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	actionID := parts[0]

	switch parts[1] {
	case "accept":
		g.handleAcceptAction(w, r, actionID)
	case "cancel":
		g.handleCancelAction(w, r, actionID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleAcceptAction handles POST /api/actions/{id}/accept requests. The
// response action is terminal: succeeded or failed, never accepted.
func (g *Gateway) handleAcceptAction(w http.ResponseWriter, r *http.Request, actionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner, ok := g.requestOwner(w, r)
	if !ok {
		return
	}

	action, err := g.actions.Accept(r.Context(), actionID, owner)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, ActionResultResponse{Action: actionResponse(action)})
}

// handleCancelAction handles POST /api/actions/{id}/cancel requests.
func (g *Gateway) handleCancelAction(w http.ResponseWriter, r *http.Request, actionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner, ok := g.requestOwner(w, r)
	if !ok {
		return
	}

	var req CancelActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	action, err := g.actions.Cancel(r.Context(), actionID, owner, req.Reason)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, ActionResultResponse{Action: actionResponse(action)})
}

// parseBoundedInt parses a positive integer query parameter with a default
// and an upper bound. Reports false after answering the request on bad input.
func (g *Gateway) parseBoundedInt(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		g.sendJSONError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	if parsed > max {
		parsed = max
	}
	return parsed, true
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendStoreError maps store errors onto HTTP statuses: not-found and
// foreign-owner both answer 404, status conflicts answer 409 naming the
// blocking status, bad cursors answer 400. Anything else is a 500 with the
// detail kept in the log.
func (g *Gateway) sendStoreError(w http.ResponseWriter, err error) {
	var conflict *store.ConflictError
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.As(err, &conflict):
		g.sendJSONError(w, http.StatusConflict, conflict.Error())
	case errors.Is(err, store.ErrConflict):
		g.sendJSONError(w, http.StatusConflict, "conflict")
	case errors.Is(err, store.ErrBadCursor):
		g.sendJSONError(w, http.StatusBadRequest, "invalid before_id cursor")
	default:
		g.logger.Error("store operation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             conv.ID,
		Title:          conv.Title,
		Summary:        conv.Summary,
		CreatedAt:      conv.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt: conv.LastActivityAt.UTC().Format(time.RFC3339),
	}
}

func messageResponse(msg *store.Message) MessageResponse {
	blocks := msg.Blocks
	if blocks == nil {
		blocks = []store.Block{}
	}
	return MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Blocks:         blocks,
		Metadata:       msg.Metadata,
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func actionResponse(action *store.PendingAction) ActionResponse {
	return ActionResponse{
		ID:             action.ID,
		ConversationID: action.ConversationID,
		MessageID:      action.MessageID,
		ToolName:       action.ToolName,
		Arguments:      action.Arguments,
		Title:          action.Title,
		Description:    action.Description,
		AcceptLabel:    action.AcceptLabel,
		CancelLabel:    action.CancelLabel,
		Status:         string(action.Status),
		CancelReason:   action.CancelReason,
		Result:         action.Result,
		ErrorText:      action.ErrorText,
		CreatedAt:      action.CreatedAt.UTC().Format(time.RFC3339),
		AcceptedAt:     optionalTime(action.AcceptedAt),
		CanceledAt:     optionalTime(action.CanceledAt),
		ExecutedAt:     optionalTime(action.ExecutedAt),
	}
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
