package httpx

import (
	"net/http"
	"strconv"
	"strings"
)

// downloadName is the attachment name offered to clients. The original file
// name is not stored.
const downloadName = "downloaded_file"

// handleDownload implements GET /download/{id}/{key}. The key is the
// capability: there is no further authentication.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodGet {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, key, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/download/"), "/")
	if !ok || id == "" || key == "" || strings.Contains(key, "/") {
		h.writeError(ctx, w, http.StatusNotFound, msgNotFound)
		return
	}
	data, err := h.Service.Download(ctx, id, key)
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
