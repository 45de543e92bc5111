package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/arena/internal/domain"
)

// priceEpsilon keeps the quantity estimate finite when a symbol has no price.
const priceEpsilon = 1e-6

// RiskConfig holds the tunable parameters for pre-trade risk checks.
type RiskConfig struct {
	MaxPositionUSD float64
}

// RiskService rejects intents that would push a symbol's projected exposure
// above the configured ceiling.
//
// The current quantity is the broker's single shared account position, not a
// per-agent sub-ledger, so one agent's fills consume every other agent's
// headroom on the same symbol. Unfilled orders are not counted.
type RiskService struct {
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService.
func NewRiskService(cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// ProjectedExposure returns |currentQty ± notional/price| * price in USD.
func ProjectedExposure(intent domain.OrderIntent, currentQty, price float64) float64 {
	deltaQty := intent.NotionalUSD / math.Max(price, priceEpsilon)
	return math.Abs(currentQty+intent.Side.Sign()*deltaQty) * price
}

// PreTradeCheck returns the projected exposure of intent and a non-nil error
// wrapping domain.ErrRiskLimit when it exceeds the ceiling.
func (s *RiskService) PreTradeCheck(ctx context.Context, agentID string, intent domain.OrderIntent, currentQty, price float64) (float64, error) {
	exposure := ProjectedExposure(intent, currentQty, price)
	if exposure > s.cfg.MaxPositionUSD {
		s.logger.WarnContext(ctx, "risk_service: intent would exceed position cap",
			slog.String("agent", agentID),
			slog.String("symbol", intent.Symbol),
			slog.String("side", string(intent.Side)),
			slog.Float64("notional_usd", intent.NotionalUSD),
			slog.Float64("current_qty", currentQty),
			slog.Float64("projected_usd", exposure),
			slog.Float64("max_usd", s.cfg.MaxPositionUSD),
		)
		return exposure, fmt.Errorf("risk_service: projected exposure %.2f exceeds max %.2f: %w",
			exposure, s.cfg.MaxPositionUSD, domain.ErrRiskLimit)
	}
	return exposure, nil
}
