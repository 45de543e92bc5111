package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// statusErr carries an HTTP status the way remote API errors do.
type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) HTTPStatus() int { return e.status }

type fakePrices struct {
	mu       sync.Mutex
	prices   map[string]float64
	fail     map[string]bool
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakePrices) LatestPrice(_ context.Context, symbol string) (float64, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[symbol] {
		return 0, errors.New("upstream unavailable")
	}
	return f.prices[symbol], nil
}

type fakeBroker struct {
	mu        sync.Mutex
	positions []domain.BrokerPosition
	posErr    error
	placed    []domain.LimitOrderRequest
	placeErr  error
	onPlace   func(req domain.LimitOrderRequest)
	fills     []domain.BrokerFill
	fillsErr  error
	afters    []time.Time
}

func (b *fakeBroker) Positions(context.Context) ([]domain.BrokerPosition, error) {
	return b.positions, b.posErr
}

func (b *fakeBroker) PlaceLimitOrder(_ context.Context, req domain.LimitOrderRequest) (domain.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onPlace != nil {
		b.onPlace(req)
	}
	if b.placeErr != nil {
		return domain.OrderAck{}, b.placeErr
	}
	b.placed = append(b.placed, req)
	return domain.OrderAck{ID: "ord-1", ClientOrderID: req.ClientOrderID, Status: "accepted"}, nil
}

func (b *fakeBroker) FillsSince(_ context.Context, after time.Time) ([]domain.BrokerFill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afters = append(b.afters, after)
	return b.fills, b.fillsErr
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAlerter) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}
