// Package ledger rebuilds per-agent cash, holdings and realized PnL from the
// persisted fill log. Replay is a pure function of the fills: the same input
// always yields the same books.
package ledger

import (
	"sort"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/shopspring/decimal"
)

// Lot is the open long quantity and its total cost for one symbol.
type Lot struct {
	Qty  decimal.Decimal
	Cost decimal.Decimal
}

// AvgCost returns cost per unit, or zero for an empty lot.
func (l Lot) AvgCost() decimal.Decimal {
	if l.Qty.IsZero() {
		return decimal.Zero
	}
	return l.Cost.Div(l.Qty)
}

// Book is one agent's reconstructed account.
type Book struct {
	AgentID  string
	Cash     decimal.Decimal
	Holdings map[string]decimal.Decimal // signed quantity per symbol
	Lots     map[string]Lot             // long-only cost basis per symbol
	Realized decimal.Decimal
}

// Equity marks the book to market. A symbol without a price contributes 0.
func (b *Book) Equity(prices domain.Prices) decimal.Decimal {
	eq := b.Cash
	for sym, qty := range b.Holdings {
		px, ok := prices[sym]
		if !ok {
			continue
		}
		eq = eq.Add(qty.Mul(decimal.NewFromFloat(px)))
	}
	return eq
}

// Ledger holds the books of every agent seen in a replay.
type Ledger struct {
	startingCash decimal.Decimal
	books        map[string]*Book
}

// Replay rebuilds all books from fills. Fills are applied in timestamp order,
// ties broken by store sequence; the input slice is not modified.
//
// Fills owned by domain.UnknownAgent never touch cash or holdings, but their
// realized PnL is still tracked under that id so unattributed activity stays
// visible.
func Replay(fills []domain.FillRecord, startingCash float64) *Ledger {
	ordered := make([]domain.FillRecord, len(fills))
	copy(ordered, fills)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})

	l := &Ledger{
		startingCash: decimal.NewFromFloat(startingCash),
		books:        make(map[string]*Book),
	}
	for _, f := range ordered {
		l.apply(f)
	}
	return l
}

func (l *Ledger) book(agentID string) *Book {
	b, ok := l.books[agentID]
	if !ok {
		b = &Book{
			AgentID:  agentID,
			Cash:     l.startingCash,
			Holdings: make(map[string]decimal.Decimal),
			Lots:     make(map[string]Lot),
		}
		l.books[agentID] = b
	}
	return b
}

func (l *Ledger) apply(f domain.FillRecord) {
	qty := decimal.NewFromFloat(f.Qty)
	px := decimal.NewFromFloat(f.Price)
	notional := qty.Mul(px)
	b := l.book(f.AgentID)

	if f.AgentID != domain.UnknownAgent {
		switch f.Side {
		case domain.OrderSideBuy:
			b.Cash = b.Cash.Sub(notional)
			b.Holdings[f.Symbol] = b.Holdings[f.Symbol].Add(qty)
		case domain.OrderSideSell:
			b.Cash = b.Cash.Add(notional)
			b.Holdings[f.Symbol] = b.Holdings[f.Symbol].Sub(qty)
		}
	}

	lot := b.Lots[f.Symbol]
	switch f.Side {
	case domain.OrderSideBuy:
		lot.Cost = lot.Cost.Add(notional)
		lot.Qty = lot.Qty.Add(qty)
	case domain.OrderSideSell:
		// Sells beyond the open long quantity are not attributed.
		closed := decimal.Min(lot.Qty, qty)
		if closed.IsPositive() {
			avg := lot.AvgCost()
			b.Realized = b.Realized.Add(closed.Mul(px.Sub(avg)))
			lot.Qty = lot.Qty.Sub(closed)
			lot.Cost = lot.Qty.Mul(avg)
		}
	}
	b.Lots[f.Symbol] = lot
}

// Book returns the book for agentID. Agents without fills get a fresh book at
// starting cash.
func (l *Ledger) Book(agentID string) *Book {
	if b, ok := l.books[agentID]; ok {
		return b
	}
	return &Book{
		AgentID:  agentID,
		Cash:     l.startingCash,
		Holdings: map[string]decimal.Decimal{},
		Lots:     map[string]Lot{},
	}
}

// Equity returns agentID's mark-to-market equity in USD.
func (l *Ledger) Equity(agentID string, prices domain.Prices) float64 {
	return l.Book(agentID).Equity(prices).InexactFloat64()
}

// Realized returns realized PnL per agent id, including domain.UnknownAgent
// when unattributed fills exist.
func (l *Ledger) Realized() map[string]float64 {
	out := make(map[string]float64, len(l.books))
	for id, b := range l.books {
		out[id] = b.Realized.InexactFloat64()
	}
	return out
}

// Agents returns the ids that have at least one fill, sorted.
func (l *Ledger) Agents() []string {
	ids := make([]string, 0, len(l.books))
	for id := range l.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
