package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/orchestrator"
	"github.com/alanyoungcy/arena/internal/service"
)

// TickController is the slice of the orchestrator the status endpoints use.
type TickController interface {
	Running() bool
	Trigger() error
	LastReport() (orchestrator.TickReport, bool)
	Gate() *service.AgentGate
}

// StatusInfo is static process metadata.
type StatusInfo struct {
	Mode      string
	Symbols   []string
	Agents    []string
	DryRun    bool
	StartedAt time.Time
}

// StatusHandler serves status and the manual tick trigger. ticks is nil in
// server-only mode.
type StatusHandler struct {
	info   StatusInfo
	ticks  TickController
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(info StatusInfo, ticks TickController, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{info: info, ticks: ticks, logger: logger}
}

// GetStatus reports mode, agents, gate state and the last tick.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":          h.info.Mode,
		"symbols":       h.info.Symbols,
		"agents":        h.info.Agents,
		"dryRun":        h.info.DryRun,
		"uptimeSeconds": int64(time.Since(h.info.StartedAt).Seconds()),
		"orchestrator":  h.ticks != nil,
	}
	if h.ticks != nil {
		resp["running"] = h.ticks.Running()
		if g := h.ticks.Gate(); g != nil {
			resp["gates"] = g.Snapshot()
		}
		if rep, ok := h.ticks.LastReport(); ok {
			resp["lastTick"] = rep
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// TriggerTick starts a tick now unless one is running.
// POST /api/tick
func (h *StatusHandler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	if h.ticks == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not running in this mode")
		return
	}
	if err := h.ticks.Trigger(); err != nil {
		if errors.Is(err, domain.ErrTickInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "tick trigger failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to trigger tick")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}
