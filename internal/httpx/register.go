package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/oneshot/internal/auth"
)

const maxFormBytes = 8 << 10

// handleRegister implements POST /register with form fields username and
// password. Mounted only when self-registration is enabled.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "malformed form")
		return
	}
	user, err := h.Users.Create(ctx, r.PostForm.Get("username"), r.PostForm.Get("password"))
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrUserExists):
		h.writeError(ctx, w, http.StatusConflict, "User already exists")
		return
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrWeakPassword):
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	default:
		h.mapServiceError(ctx, w, err)
		return
	}
	cid, _ := GetCorrelationID(ctx)
	h.log().Info("user registered", "cid", cid, "user", user.Username)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(struct {
		Message  string `json:"message"`
		Username string `json:"username"`
	}{Message: "User registered successfully", Username: user.Username})
}
