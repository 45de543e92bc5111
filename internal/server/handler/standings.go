package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/service"
)

// StandingsReader is the slice of service.Standings the handlers use.
type StandingsReader interface {
	Leaderboard(ctx context.Context) ([]domain.EquitySnapshot, error)
	PnL(ctx context.Context) ([]service.AgentPnL, error)
}

// StandingsHandler serves the leaderboard and PnL endpoints.
type StandingsHandler struct {
	standings StandingsReader
	logger    *slog.Logger
}

// NewStandingsHandler creates a StandingsHandler.
func NewStandingsHandler(s StandingsReader, logger *slog.Logger) *StandingsHandler {
	return &StandingsHandler{standings: s, logger: logger}
}

// Leaderboard returns the latest equity per agent, highest first.
// GET /api/leaderboard
func (h *StandingsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.standings.Leaderboard(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "leaderboard failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if board == nil {
		board = []domain.EquitySnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": board})
}

// PnL returns realized PnL per agent from the fill ledger.
// GET /api/pnl
func (h *StandingsHandler) PnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := h.standings.PnL(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "pnl failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute pnl")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pnl": pnl})
}
