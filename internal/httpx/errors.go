package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/oneshot/internal/app"
	"github.com/haukened/oneshot/internal/domain"
)

// Client-facing messages.
const (
	msgNotFound   = "File not found"
	msgBadKey     = "Key incorrect or message corrupted"
	msgNoFilePart = "No file part"
	msgNoSelected = "No selected file"
)

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		h.log().Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// writeUnauthorized asks the client for Basic credentials.
func (h *Handler) writeUnauthorized(ctx context.Context, w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="oneshot", charset="UTF-8"`)
	h.writeError(ctx, w, http.StatusUnauthorized, "unauthorized")
}

// mapServiceError maps domain/store/service errors to HTTP responses.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	log := h.log()
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Info("service error", "cid", cid, "code", "not_found")
		h.writeError(ctx, w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, domain.ErrAuthenticationFailed):
		log.Info("service error", "cid", cid, "code", "auth_failed")
		h.writeError(ctx, w, http.StatusBadRequest, msgBadKey)
	case errors.Is(err, app.ErrSizeExceeded):
		log.Warn("service error", "cid", cid, "code", "size_exceeded")
		h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "size exceeded")
	case errors.Is(err, app.ErrUnauthenticated):
		h.writeUnauthorized(ctx, w)
	case errors.Is(err, domain.ErrCollision):
		log.Error("service error", "cid", cid, "code", "collision")
		h.writeError(ctx, w, http.StatusServiceUnavailable, "try again")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("service error", "cid", cid, "code", "timeout")
		h.writeError(ctx, w, http.StatusServiceUnavailable, "try again")
	default:
		// do not log the raw error string: it may carry paths or identifiers
		log.Error("unhandled service error", "cid", cid, "code", "unhandled")
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
