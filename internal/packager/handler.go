package packager

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dash-packager/internal/platform/metrics"
	"dash-packager/internal/storage"
)

// Handler exposes the packaged output over HTTP using go-chi: the manifest
// and the init/media segments, read back from the storage sink.
type Handler struct {
	store    storage.Storage
	manifest string
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewHandler returns a Handler serving from the given sink. manifestName is
// the identifier the manifest is stored under. m may be nil to disable
// metric recording (e.g. in tests).
func NewHandler(store storage.Storage, manifestName string, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{store: store, manifest: manifestName, log: log, metrics: m}
}

// GetManifest handles GET /manifest.mpd.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	h.serve(w, h.manifest)
}

// GetFile handles GET /{file} for init and media segments.
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	if name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.serve(w, name)
}

func (h *Handler) serve(w http.ResponseWriter, name string) {
	exists, err := h.store.Exists(name)
	if err != nil {
		h.log.Error("storage stat failed", slog.String("name", name), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	data, err := h.store.Read(name)
	if err != nil {
		h.log.Error("storage read failed", slog.String("name", name), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", storage.ContentType(name))
	w.Header().Set("Cache-Control", storage.CacheControl(name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
