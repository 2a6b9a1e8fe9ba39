// ABOUTME: NDJSON push stream for POST /api/conversations/{id}/stream.
// ABOUTME: One envelope per line, flushed per event, capped at the protocol size ceiling.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/larderhq/larder-gateway/internal/chat"
	"github.com/larderhq/larder-gateway/internal/protocol"
)

// StreamRequest is the JSON request body for POST /api/conversations/{id}/stream.
type StreamRequest struct {
	Content       string              `json:"content"`
	Title         string              `json:"title,omitempty"`
	ClientContext *chat.ClientContext `json:"client_context,omitempty"`
}

// ndjsonStream writes protocol events as newline-delimited JSON, flushing
// after every line so clients see events as they happen. Headers go out on
// the first event, which lets a busy conversation still answer 409.
type ndjsonStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	started bool
}

func newNDJSONStream(w http.ResponseWriter, flusher http.Flusher, logger *slog.Logger) *ndjsonStream {
	return &ndjsonStream{w: w, flusher: flusher, logger: logger}
}

// Send encodes one envelope onto the stream. Envelopes over
// protocol.MaxEventBytes have their data replaced by a truncation marker;
// translator-level truncation keeps payloads small, so this guard firing
// means a bug upstream.
func (s *ndjsonStream) Send(ev protocol.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if len(line) > protocol.MaxEventBytes {
		s.logger.Warn("event exceeds size ceiling, truncating payload",
			"event", ev.Event,
			"conversation_id", ev.ConversationID,
			"bytes", len(line),
		)
		ev.Data = map[string]bool{"truncated": true}
		line, err = json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding truncated event: %w", err)
		}
	}

	if !s.started {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// handleStream handles POST /api/conversations/{id}/stream requests. The
// response is an NDJSON event stream; failures after the first event travel
// in-band as error events rather than HTTP statuses.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner, ok := g.requestOwner(w, r)
	if !ok {
		return
	}

	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		g.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turnReq := chat.TurnRequest{
		ConversationID: conversationID,
		OwnerID:        owner,
		Content:        req.Content,
		Title:          req.Title,
	}
	if req.ClientContext != nil {
		turnReq.Client = *req.ClientContext
	}

	stream := newNDJSONStream(w, flusher, g.logger)
	err := g.chat.StreamTurn(r.Context(), turnReq, stream)
	if errors.Is(err, chat.ErrConversationBusy) {
		// The guard rejects before any event, so the response is still
		// headerless and a plain 409 is possible.
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		// Already reported in-band as an error event; nothing more to send.
		g.logger.Debug("stream turn ended with error",
			"conversation_id", conversationID,
			"error", err,
		)
	}
}
