package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

// health reports process liveness.
func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// readiness reports whether the vector store answers.
func readiness(store vectorstore.Store, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if _, err := store.Count(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "vector store unreachable", logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	})
}
