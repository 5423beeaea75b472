// Package lots implements FIFO purchase-lot matching, the authoritative
// source of realized P&L. Buys push lots to the back of a per-symbol queue;
// sells consume lots front-to-back, realizing quantity × (sell − lot price)
// per consumed slice.
//
// Oversell policy: a sell larger than the open lots consumes everything and
// the unmatched excess realizes nothing — no short lot is opened and the
// tracked position floors at zero. See DESIGN.md for the rationale.
//
// A Matcher is not safe for concurrent use; callers serialize per user.
package lots

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is one open purchase slice awaiting FIFO consumption.
type Lot struct {
	QuantityRemaining decimal.Decimal
	UnitPrice         decimal.Decimal
	AcquiredAt        time.Time
}

// SellResult reports the outcome of matching one sell against open lots.
type SellResult struct {
	// RealizedPnL is Σ consumed × (sellPrice − lot price) over matched lots.
	RealizedPnL decimal.Decimal

	// MatchedQuantity is how much of the sell was covered by open lots.
	MatchedQuantity decimal.Decimal

	// MatchedCost is the cost basis of the consumed lot slices. The
	// realized percentage is RealizedPnL / MatchedCost when positive.
	MatchedCost decimal.Decimal

	// UnmatchedQuantity is the oversell excess that realized nothing.
	UnmatchedQuantity decimal.Decimal
}

// RealizedPercentage returns the realized P&L as a percentage of the matched
// cost basis, or zero when the denominator is not strictly positive.
func (r SellResult) RealizedPercentage() decimal.Decimal {
	if !r.MatchedCost.IsPositive() {
		return decimal.Zero
	}
	return r.RealizedPnL.Div(r.MatchedCost).Mul(decimal.NewFromInt(100))
}

// Matcher maintains per-symbol FIFO lot queues for one user.
type Matcher struct {
	queues map[string][]Lot
}

// NewMatcher creates an empty lot matcher.
func NewMatcher() *Matcher {
	return &Matcher{queues: make(map[string][]Lot)}
}

// OnBuy pushes a new lot to the back of the symbol's queue.
func (m *Matcher) OnBuy(symbol string, qty, price decimal.Decimal, at time.Time) {
	if !qty.IsPositive() {
		return
	}
	m.queues[symbol] = append(m.queues[symbol], Lot{
		QuantityRemaining: qty,
		UnitPrice:         price,
		AcquiredAt:        at,
	})
}

// OnSell consumes lots front-to-back. For each lot,
// consumed = min(remaining sell qty, lot remaining); fully consumed lots are
// dropped. Excess beyond all open lots is returned as UnmatchedQuantity.
func (m *Matcher) OnSell(symbol string, qty, price decimal.Decimal) SellResult {
	res := SellResult{
		RealizedPnL:     decimal.Zero,
		MatchedQuantity: decimal.Zero,
		MatchedCost:     decimal.Zero,
	}
	remaining := qty

	queue := m.queues[symbol]
	for len(queue) > 0 && remaining.IsPositive() {
		lot := &queue[0]

		consumed := remaining
		if lot.QuantityRemaining.LessThan(consumed) {
			consumed = lot.QuantityRemaining
		}

		res.RealizedPnL = res.RealizedPnL.Add(consumed.Mul(price.Sub(lot.UnitPrice)))
		res.MatchedQuantity = res.MatchedQuantity.Add(consumed)
		res.MatchedCost = res.MatchedCost.Add(consumed.Mul(lot.UnitPrice))

		lot.QuantityRemaining = lot.QuantityRemaining.Sub(consumed)
		remaining = remaining.Sub(consumed)

		if lot.QuantityRemaining.IsZero() {
			queue = queue[1:]
		}
	}
	m.queues[symbol] = queue

	res.UnmatchedQuantity = remaining
	return res
}

// Position returns the FIFO-tracked open quantity for a symbol: the sum of
// QuantityRemaining across its lots. This may diverge from the ledger's
// holding quantity after balance reconciliation.
func (m *Matcher) Position(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range m.queues[symbol] {
		total = total.Add(lot.QuantityRemaining)
	}
	return total
}

// OpenCost returns the total cost basis of the open lots for a symbol.
func (m *Matcher) OpenCost(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range m.queues[symbol] {
		total = total.Add(lot.QuantityRemaining.Mul(lot.UnitPrice))
	}
	return total
}

// OpenLots returns a copy of the symbol's queue, front (oldest) first.
func (m *Matcher) OpenLots(symbol string) []Lot {
	return append([]Lot(nil), m.queues[symbol]...)
}

// Symbols returns every symbol with at least one open lot.
func (m *Matcher) Symbols() []string {
	var symbols []string
	for sym, queue := range m.queues {
		if len(queue) > 0 {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}
