package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ragpal/ragpal/internal/knowledge"
	"github.com/ragpal/ragpal/internal/log"
)

const maxIngestBytes = 4 << 20

// knowledgeHandler serves the knowledge-base CRUD endpoints.
type knowledgeHandler struct {
	manager *knowledge.Manager
	logger  log.Logger
}

type ingestRequest struct {
	Text string `json:"text"`
}

type ingestResponse struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
}

// ingest handles POST /api/v1/knowledge. The document arrives either as
// JSON {"text": ...} or, with a text/plain content type, as the raw body.
func (h *knowledgeHandler) ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBytes)

	text, err := readIngestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	doc, err := h.manager.Ingest(r.Context(), text)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{
		DocumentID: doc.ID,
		Chunks:     len(doc.Chunks),
	}, h.logger)
}

// list handles GET /api/v1/knowledge?offset=&limit=.
func (h *knowledgeHandler) list(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)

	view, err := h.manager.List(r.Context(), offset, limit)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, view, h.logger)
}

// remove handles DELETE /api/v1/knowledge/{id}.
func (h *knowledgeHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ok, err := h.manager.Delete(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if !ok {
		writeDomainError(w, knowledge.ErrNotFound, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id}, h.logger)
}

func readIngestBody(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	return req.Text, nil
}

// queryInt parses an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
