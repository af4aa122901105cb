package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/haukened/oneshot/internal/app"
	"github.com/haukened/oneshot/internal/auth"
)

// multipartOverhead bounds the non-file bytes of an upload body
// (boundaries, part headers, other fields).
const multipartOverhead = 64 << 10

var (
	errNoFilePart     = errors.New("no file part")
	errNoSelectedFile = errors.New("no selected file")
)

// handleUpload implements POST /upload.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.URL.Path != "/upload" {
		h.writeError(ctx, w, http.StatusNotFound, "not found")
		return
	}
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.MaxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBody+multipartOverhead)
	}
	name, data, err := readFilePart(r, h.MaxBody)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	receipt, err := h.Service.Upload(ctx, app.Caller{Username: user.Username}, data)
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	cid, _ := GetCorrelationID(ctx)
	h.log().Info("file sealed", "cid", cid, "user", user.Username, "filename", name, "bytes", len(data))
	h.log().Debug("file sealed", "cid", cid, "file_id", receipt.FileID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(receipt)
}

func (h *Handler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, errNoFilePart):
		h.writeError(ctx, w, http.StatusBadRequest, msgNoFilePart)
	case errors.Is(err, errNoSelectedFile):
		h.writeError(ctx, w, http.StatusBadRequest, msgNoSelected)
	case errors.Is(err, app.ErrSizeExceeded), errors.As(err, &tooBig):
		h.mapServiceError(ctx, w, app.ErrSizeExceeded)
	default:
		h.writeError(ctx, w, http.StatusBadRequest, "malformed upload")
	}
}

// authenticate checks HTTP Basic credentials against the user directory and
// writes the failure response itself.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	ctx := r.Context()
	username, password, ok := r.BasicAuth()
	if !ok || h.Users == nil {
		h.writeUnauthorized(ctx, w)
		return auth.User{}, false
	}
	user, err := h.Users.Authenticate(ctx, username, password)
	switch {
	case err == nil:
		return user, true
	case errors.Is(err, auth.ErrInvalidCredentials):
		cid, _ := GetCorrelationID(ctx)
		h.log().Info("authentication failed", "cid", cid, "user", username)
		h.writeUnauthorized(ctx, w)
	default:
		h.mapServiceError(ctx, w, err)
	}
	return auth.User{}, false
}

// readFilePart streams the multipart body and returns the first part named
// "file". limit > 0 caps the file size.
func readFilePart(r *http.Request, limit int64) (string, []byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, errNoFilePart
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, errNoFilePart
		}
		if err != nil {
			return "", nil, err
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		name := part.FileName()
		if name == "" {
			return "", nil, errNoSelectedFile
		}
		var src io.Reader = part
		if limit > 0 {
			src = io.LimitReader(part, limit+1)
		}
		data, err := io.ReadAll(src)
		if err != nil {
			return "", nil, err
		}
		if limit > 0 && int64(len(data)) > limit {
			return "", nil, app.ErrSizeExceeded
		}
		return name, data, nil
	}
}
