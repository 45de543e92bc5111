package agent

import "sync"

// PriceHistory keeps the most recent prices per symbol, oldest first.
type PriceHistory struct {
	capacity int
	prices   map[string][]float64
	mu       sync.Mutex
}

// NewPriceHistory creates a history that retains up to capacity prices per
// symbol.
func NewPriceHistory(capacity int) *PriceHistory {
	return &PriceHistory{
		capacity: capacity,
		prices:   make(map[string][]float64),
	}
}

// Track appends a price and drops the oldest once capacity is exceeded. It
// returns a copy of the symbol's history after the append.
func (h *PriceHistory) Track(symbol string, price float64) []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	pts := append(h.prices[symbol], price)
	if len(pts) > h.capacity {
		pts = pts[len(pts)-h.capacity:]
	}
	h.prices[symbol] = pts

	out := make([]float64, len(pts))
	copy(out, pts)
	return out
}

// Len returns how many prices are held for symbol.
func (h *PriceHistory) Len(symbol string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.prices[symbol])
}

// SMA returns the mean of the last n values, or false when fewer than n
// are available.
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}
