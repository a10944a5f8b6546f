package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ragpal/ragpal/internal/generate"
	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/session"
)

const maxChatBytes = 1 << 20

// chatHandler serves the streaming chat endpoints over SSE and WebSocket.
// Both transports drive the same generation coordinator.
type chatHandler struct {
	coordinator *generate.Coordinator
	sessions    *session.Manager
	logger      log.Logger
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
	// Retrieval toggles knowledge-base grounding for this request only;
	// omitted means the configured default.
	Retrieval *bool `json:"retrieval,omitempty"`
	// K overrides the retrieved chunk count when positive.
	K int `json:"k,omitempty"`
	// History, when present, is a caller-held window used instead of the
	// server-side session history for this request.
	History []session.Turn `json:"history,omitempty"`
}

func (req chatRequest) options() generate.StreamOptions {
	return generate.StreamOptions{
		Retrieval: req.Retrieval,
		TopK:      req.K,
		History:   req.History,
	}
}

// SSE event types for chat streaming.
const (
	eventChunk = "chunk"
	eventDone  = "done"
	eventError = "error"
)

type chunkPayload struct {
	Text string `json:"text"`
}

type donePayload struct {
	Text      string `json:"text"`
	HTML      string `json:"html"`
	SessionID string `json:"sessionId"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// stream handles POST /api/v1/chat/stream.
//
// Request problems detected before the stream opens get plain JSON status
// responses; once SSE headers are out, failures arrive as error events.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeDomainError(w, generate.ErrEmptyQuery, h.logger)
		return
	}

	sess, err := h.sessions.Get(req.SessionID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if sess.Busy() {
		writeDomainError(w, session.ErrBusy, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.logger.Debug("SSE stream started", "session_id", sess.ID)

	transport := &sseTransport{w: w, flusher: flusher, sessionID: sess.ID}
	err = h.coordinator.StreamWith(r.Context(), sess, req.Query, transport, req.options())
	switch {
	case err == nil:
		h.logger.Debug("SSE stream completed", "session_id", sess.ID)
	case errors.Is(err, context.Canceled):
		h.logger.Info("client disconnected", "session_id", sess.ID)
	case errors.Is(err, session.ErrBusy):
		// Lost the race after headers went out; report in-band.
		transport.Fail(r.Context(), err)
	default:
		h.logger.Warn("SSE stream ended with error", "session_id", sess.ID, "error", err)
	}
}

// sseTransport delivers generation output as SSE events. SSE has no start
// sentinel; the open stream itself is the signal.
type sseTransport struct {
	w         io.Writer
	flusher   http.Flusher
	sessionID string
}

func (t *sseTransport) Start(context.Context) error { return nil }

func (t *sseTransport) Fragment(_ context.Context, text string) error {
	return writeEvent(t.w, t.flusher, eventChunk, chunkPayload{Text: text})
}

func (t *sseTransport) Done(_ context.Context, final generate.Final) error {
	return writeEvent(t.w, t.flusher, eventDone, donePayload{
		Text:      final.Text,
		HTML:      final.HTML,
		SessionID: t.sessionID,
	})
}

func (t *sseTransport) Fail(_ context.Context, err error) {
	_, code := classify(err)
	_ = writeEvent(t.w, t.flusher, eventError, errorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

// writeEvent writes one SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
