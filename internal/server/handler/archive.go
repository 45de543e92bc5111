package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/arena/internal/domain"
)

// ArchiveHandler lists archived objects. blobs is nil when S3 is not
// configured.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// ListArchives returns archive objects, newest first.
// GET /api/archives?kind=orders
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}
	prefix := "archive/"
	if kind := r.URL.Query().Get("kind"); kind != "" {
		prefix += kind + "/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}
