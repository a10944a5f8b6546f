package api

import (
	"net/http"
	"time"

	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/session"
)

// sessionHandler serves session lifecycle endpoints.
type sessionHandler struct {
	sessions *session.Manager
	logger   log.Logger
}

type sessionResponse struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// create handles POST /api/v1/sessions. A new session always starts with
// an empty history.
func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: s.ID,
		CreatedAt: s.CreatedAt,
	}, h.logger)
}

// remove handles DELETE /api/v1/sessions/{id}.
func (h *sessionHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.sessions.Remove(id) {
		writeDomainError(w, session.ErrNotFound, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id}, h.logger)
}

// history handles GET /api/v1/sessions/{id}/history.
func (h *sessionHandler) history(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	turns := s.History.LastN(s.History.Len())
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns}, h.logger)
}
