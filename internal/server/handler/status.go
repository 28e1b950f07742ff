package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how this process is running.
type StatusHandler struct {
	Mode      string
	Backend   string
	Asset     string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, backend, asset string) *StatusHandler {
	return &StatusHandler{Mode: mode, Backend: backend, Asset: asset, StartedAt: time.Now().UTC()}
}

// GetStatus responds with the run mode, collaborator backend and base asset.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"backend":        h.Backend,
		"asset":          h.Asset,
		"started_at":     h.StartedAt.Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
