package blob

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// Handler serves stored objects at /files/<key>?token=..., verifying the
// signed-URL token before streaming the payload.
type Handler struct {
	store *LocalStore
}

// NewHTTPHandler wraps the local store with a download endpoint.
func NewHTTPHandler(store *LocalStore) http.Handler {
	return &Handler{store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/files/")
	if key == "" || key == r.URL.Path {
		http.Error(w, "missing object key", http.StatusBadRequest)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if err := h.store.VerifyToken(key, token); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	payload, err := h.store.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer payload.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, payload); err != nil {
		// Response already started; nothing left to report to the client.
		return
	}
}
