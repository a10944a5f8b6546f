package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ragpal/ragpal/internal/embed"
	"github.com/ragpal/ragpal/internal/generate"
	"github.com/ragpal/ragpal/internal/knowledge"
	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/session"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

// errorBody is the JSON error envelope of every non-2xx response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code. Buffer-first
// so headers go out only after successful encoding.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

// writeError writes the JSON error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, errorBody{Code: code, Message: message}, logger)
}

// writeDomainError maps a domain error to its HTTP status and error code.
func writeDomainError(w http.ResponseWriter, err error, logger log.Logger) {
	status, code := classify(err)
	writeError(w, status, code, err.Error(), logger)
}

// classify maps the domain error taxonomy to HTTP status codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, generate.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "generation_in_progress"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, knowledge.ErrNotFound):
		return http.StatusNotFound, "document_not_found"
	case errors.Is(err, vectorstore.ErrUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, embed.ErrService):
		return http.StatusBadGateway, "embedding_failed"
	case errors.Is(err, knowledge.ErrIngestion):
		return http.StatusBadRequest, "ingestion_failed"
	case errors.Is(err, generate.ErrGeneration):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
