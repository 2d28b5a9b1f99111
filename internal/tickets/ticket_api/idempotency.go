package ticket_api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"ms-ticket-market/internal/auth"
	"ms-ticket-market/internal/idempotency"
	"ms-ticket-market/internal/utils"
)

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// idempotent replays the first successful response for a repeated
// Idempotency-Key. Requests without the header run normally.
func (h *Handler) idempotent(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if h.Guard == nil || key == "" {
			next(w, r)
			return
		}

		// Keys are per caller so one account cannot replay another's receipt.
		scope := scope + ":" + auth.UserID(r.Context())
		ctx := r.Context()

		stored, err := h.Guard.Acquire(ctx, scope, key)
		if errors.Is(err, idempotency.ErrInProgress) {
			utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Request already in progress", err.Error()))
			return
		}
		if err != nil {
			h.Logger.Error("REDIS", fmt.Sprintf("Idempotency check failed for %s: %v", scope, err))
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Idempotency store unavailable", err.Error()))
			return
		}
		if stored != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(ReplayedHeader, "true")
			w.WriteHeader(stored.Status)
			w.Write(stored.Body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w}
		next(rec, r)

		if rec.status >= 200 && rec.status < 300 {
			response := idempotency.StoredResponse{Status: rec.status, Body: rec.body.Bytes()}
			if err := h.Guard.Complete(ctx, scope, key, response); err != nil {
				h.Logger.Error("REDIS", fmt.Sprintf("Failed to store response for %s: %v", scope, err))
			}
			return
		}
		// Rejected requests changed nothing, so the key may be reused.
		if err := h.Guard.Release(ctx, scope, key); err != nil {
			h.Logger.Error("REDIS", fmt.Sprintf("Failed to release key for %s: %v", scope, err))
		}
	}
}
