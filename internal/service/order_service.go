package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/google/uuid"
)

// OrderPlacer submits limit orders to the broker.
type OrderPlacer interface {
	PlaceLimitOrder(ctx context.Context, req domain.LimitOrderRequest) (domain.OrderAck, error)
}

// Alerter delivers operator notifications for a named event type.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OrderConfig controls how accepted intents reach the broker.
type OrderConfig struct {
	DryRun bool
	// QueueOffHours forces every submission into the off-hours shape (buy,
	// qty 1) even while the market is open.
	QueueOffHours bool
}

// ExecuteRequest is one accepted intent ready for submission.
type ExecuteRequest struct {
	TickAt     time.Time
	AgentID    string
	Intent     domain.OrderIntent
	Price      float64
	MarketOpen bool
}

// OrderService turns accepted intents into broker limit orders and always
// leaves exactly one OrderRecord behind, whatever happens.
type OrderService struct {
	orders   domain.OrderStore
	mappings domain.ClientOrderStore
	placer   OrderPlacer
	audit    domain.AuditStore
	alerter  Alerter
	cfg      OrderConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	mappings domain.ClientOrderStore,
	placer OrderPlacer,
	cfg OrderConfig,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		mappings: mappings,
		placer:   placer,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "order_service")),
		now:      time.Now,
	}
}

// WithAudit attaches an audit log for submitted orders.
func (s *OrderService) WithAudit(audit domain.AuditStore) *OrderService {
	s.audit = audit
	return s
}

// WithAlerter attaches an operator alert channel for failed orders.
func (s *OrderService) WithAlerter(a Alerter) *OrderService {
	s.alerter = a
	return s
}

// NewClientOrderID returns agentID-unixMillis-suffix.
func NewClientOrderID(agentID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", agentID, now.UnixMilli(), suffix)
}

// OrderQty returns max(1, floor(notional/price)).
func OrderQty(notional, price float64) float64 {
	return math.Max(1, math.Floor(notional/math.Max(price, priceEpsilon)))
}

// Execute submits req and persists the outcome. In dry-run mode nothing is
// sent and the record keeps the intended side and notional. Submission
// failures produce an ERROR record carrying the intent's side and notional.
func (s *OrderService) Execute(ctx context.Context, req ExecuteRequest) domain.OrderRecord {
	rec := domain.OrderRecord{
		Timestamp:   req.TickAt,
		AgentID:     req.AgentID,
		Symbol:      req.Intent.Symbol,
		Side:        req.Intent.Side,
		NotionalUSD: req.Intent.NotionalUSD,
	}

	if s.cfg.DryRun {
		rec.Status = domain.OrderStatusDryRun
		s.logger.InfoContext(ctx, "order_service: dry run order",
			slog.String("agent", req.AgentID),
			slog.String("symbol", rec.Symbol),
			slog.String("side", string(rec.Side)),
			slog.Float64("notional_usd", rec.NotionalUSD),
		)
		return s.persist(ctx, rec)
	}

	clientID := NewClientOrderID(req.AgentID, s.now())
	rec.ClientOrderID = clientID

	side := req.Intent.Side
	qty := OrderQty(req.Intent.NotionalUSD, req.Price)
	if !req.MarketOpen || s.cfg.QueueOffHours {
		// Off-hours submissions are always a single-share buy, whatever the
		// agent asked for.
		s.logger.WarnContext(ctx, "order_service: off-hours override to buy qty 1",
			slog.String("agent", req.AgentID),
			slog.String("symbol", rec.Symbol),
			slog.String("intent_side", string(req.Intent.Side)),
			slog.Float64("intent_notional_usd", req.Intent.NotionalUSD),
			slog.Bool("market_open", req.MarketOpen),
		)
		side = domain.OrderSideBuy
		qty = 1
	}

	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return s.fail(ctx, rec, fmt.Errorf("order_service: %s: %w", rec.Symbol, domain.ErrNoPrice))
	}

	// The mapping must exist before the broker can fill the order, otherwise
	// the fill is unattributable.
	if err := s.mappings.Upsert(ctx, domain.ClientOrderMapping{
		ClientOrderID: clientID,
		AgentID:       req.AgentID,
		Symbol:        rec.Symbol,
		CreatedAt:     req.TickAt,
	}); err != nil {
		return s.fail(ctx, rec, fmt.Errorf("order_service: record client order mapping: %w", err))
	}

	ack, err := s.placer.PlaceLimitOrder(ctx, domain.LimitOrderRequest{
		Symbol:        rec.Symbol,
		Side:          side,
		LimitPrice:    req.Price,
		Qty:           qty,
		ClientOrderID: clientID,
	})
	if err != nil {
		return s.fail(ctx, rec, fmt.Errorf("order_service: place limit order: %w", err))
	}

	rec.Side = side
	rec.NotionalUSD = req.Price * qty
	rec.Status = domain.OrderStatus(ack.Status)
	rec.BrokerOrderID = ack.ID

	s.logger.InfoContext(ctx, "order_service: order placed",
		slog.String("agent", req.AgentID),
		slog.String("order_id", ack.ID),
		slog.String("client_order_id", clientID),
		slog.String("symbol", rec.Symbol),
		slog.String("side", string(side)),
		slog.Float64("qty", qty),
		slog.Float64("limit_price", req.Price),
		slog.String("status", ack.Status),
	)

	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, domain.AuditOrderPlaced, map[string]any{
			"agent":           req.AgentID,
			"order_id":        ack.ID,
			"client_order_id": clientID,
			"symbol":          rec.Symbol,
			"side":            string(side),
			"qty":             qty,
			"limit_price":     req.Price,
			"status":          ack.Status,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "order_service: audit log failed",
				slog.String("order_id", ack.ID),
				slog.String("error", auditErr.Error()),
			)
		}
	}

	return s.persist(ctx, rec)
}

func (s *OrderService) fail(ctx context.Context, rec domain.OrderRecord, err error) domain.OrderRecord {
	rec.Status = domain.OrderStatusError
	rec.Error = err.Error()

	s.logger.ErrorContext(ctx, "order_service: order failed",
		slog.String("agent", rec.AgentID),
		slog.String("symbol", rec.Symbol),
		slog.String("side", string(rec.Side)),
		slog.Float64("notional_usd", rec.NotionalUSD),
		slog.String("error", err.Error()),
	)
	if s.alerter != nil {
		NotifyAsync(ctx, s.alerter, s.logger, "order_error",
			"Order failed",
			fmt.Sprintf("%s %s %s $%.2f: %v", rec.AgentID, rec.Side, rec.Symbol, rec.NotionalUSD, err))
	}

	return s.persist(ctx, rec)
}

func (s *OrderService) persist(ctx context.Context, rec domain.OrderRecord) domain.OrderRecord {
	id, err := s.orders.Append(ctx, rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "order_service: persist order record failed",
			slog.String("agent", rec.AgentID),
			slog.String("symbol", rec.Symbol),
			slog.String("status", string(rec.Status)),
			slog.String("error", err.Error()),
		)
		return rec
	}
	rec.ID = id
	return rec
}

// NotifyAsync delivers an alert without holding up the caller. Delivery
// failures are logged only.
func NotifyAsync(ctx context.Context, a Alerter, logger *slog.Logger, event, title, message string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := a.Notify(ctx, event, title, message); err != nil {
			logger.WarnContext(ctx, "notify failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}
