package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Archiver sweeps settled markets into cold storage.
type Archiver interface {
	ArchiveSettled(ctx context.Context) (int, error)
}

// ArchiveHandler serves the on-demand archive trigger.
type ArchiveHandler struct {
	archiver Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archiver Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, logger: logHandler(logger, "archive")}
}

// Trigger runs one archive sweep synchronously.
// POST /api/archive/run
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: archive sweep requested")
	n, err := h.archiver.ArchiveSettled(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived":     n,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}
