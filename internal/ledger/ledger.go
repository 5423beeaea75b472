// Package ledger owns per-(user, asset) position state: weighted-average
// cost basis updated by trades, and quantity reconciliation against external
// balance snapshots. Realized P&L is never computed here; it is supplied by
// the FIFO lot matcher.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/store"
)

// ErrInsufficientPosition is returned by CheckSell when a manually entered
// sell exceeds the available quantity. Batch import never takes this path:
// imported trades are historical facts and are applied with the position
// floored at zero.
var ErrInsufficientPosition = errors.New("ledger: sell quantity exceeds available position")

// ErrInvalidTrade is returned for malformed trade input, before any mutation.
var ErrInvalidTrade = errors.New("ledger: invalid trade")

// ReconcileResult summarizes one balance reconciliation pass.
type ReconcileResult struct {
	Created       int                        `json:"created_assets"`
	Updated       int                        `json:"updated_assets"`
	TotalValueUSD decimal.Decimal            `json:"total_value_usd"`
	Categories    map[string]int             `json:"categories"`
	Unpriced      []string                   `json:"unpriced_assets,omitempty"`
	Prices        map[string]decimal.Decimal `json:"-"`
}

// Ledger applies trades and external balances to holdings. Operations on the
// same user are serialized by a per-user mutex; different users proceed in
// parallel.
type Ledger struct {
	store store.Store

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// New creates a ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		users: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing a single user's mutations.
func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	mu, ok := l.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.users[userID] = mu
	}
	return mu
}

// CheckSell validates a prospective manual sell against the available
// quantity. Returns ErrInsufficientPosition without mutating anything.
func (l *Ledger) CheckSell(ctx context.Context, userID, asset string, qty decimal.Decimal) error {
	h, err := l.store.GetHolding(ctx, userID, asset)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInsufficientPosition
	}
	if err != nil {
		return err
	}
	if qty.GreaterThan(h.AvailableQuantity) {
		return ErrInsufficientPosition
	}
	return nil
}

// ApplyTrade applies one processed trade to the holding for the given base
// asset and returns the updated holding.
//
// BUY:  new_avg = (position·avg + qty·price) / (position + qty);
//       position += qty; total_cost += qty·price.
// SELL: position −= qty (floored at zero); average cost unchanged; the
//       trade's realized P&L (populated by the lot matcher) accumulates on
//       the holding.
func (l *Ledger) ApplyTrade(ctx context.Context, asset string, t *model.Trade) (*model.Holding, error) {
	if err := validateTrade(asset, t); err != nil {
		return nil, err
	}

	mu := l.userLock(t.UserID)
	mu.Lock()
	defer mu.Unlock()

	h, err := l.store.GetHolding(ctx, t.UserID, asset)
	if errors.Is(err, store.ErrNotFound) {
		h = &model.Holding{
			UserID:      t.UserID,
			AssetSymbol: asset,
			Category:    Classify(asset, decimal.Zero),
		}
	} else if err != nil {
		return nil, err
	}

	switch t.Side {
	case model.SideBuy:
		position := h.TotalQuantity
		cost := t.Quantity.Mul(t.Price)
		newPosition := position.Add(t.Quantity)

		h.AverageCostUSD = position.Mul(h.AverageCostUSD).Add(cost).Div(newPosition)
		h.TotalCostUSD = h.TotalCostUSD.Add(cost)
		h.TotalQuantity = newPosition
		h.AvailableQuantity = h.AvailableQuantity.Add(t.Quantity)

	case model.SideSell:
		sold := t.Quantity
		if sold.GreaterThan(h.TotalQuantity) {
			sold = h.TotalQuantity // clamp: no short positions
		}
		h.TotalQuantity = h.TotalQuantity.Sub(sold)
		h.AvailableQuantity = h.AvailableQuantity.Sub(sold)
		if h.AvailableQuantity.IsNegative() {
			h.AvailableQuantity = decimal.Zero
		}
		// Reduce cost basis proportionally; average cost is unchanged.
		h.TotalCostUSD = h.AverageCostUSD.Mul(h.TotalQuantity)
		if t.RealizedPnLUSD != nil {
			h.RealizedPnLUSD = h.RealizedPnLUSD.Add(*t.RealizedPnLUSD)
		}
	}

	h.Category = Classify(h.AssetSymbol, h.TotalQuantity)
	h.UpdatedAt = time.Now().UTC()

	if err := l.store.UpsertHolding(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Reconcile merges an external balance snapshot into the user's holdings.
// Quantity fields and category are created or updated per entry; cost basis
// is never touched — it is trade-driven only. Entries with no resolvable
// price keep nil valuation fields for this cycle (quantity-only update).
// Reconciling the identical snapshot twice yields identical holdings.
func (l *Ledger) Reconcile(ctx context.Context, userID string, balances []model.BalanceEntry, prices map[string]decimal.Decimal) (*ReconcileResult, error) {
	mu := l.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	res := &ReconcileResult{
		TotalValueUSD: decimal.Zero,
		Categories:    make(map[string]int),
		Prices:        prices,
	}

	for _, bal := range balances {
		h, err := l.store.GetHolding(ctx, userID, bal.Asset)
		created := false
		if errors.Is(err, store.ErrNotFound) {
			h = &model.Holding{UserID: userID, AssetSymbol: bal.Asset}
			created = true
		} else if err != nil {
			return nil, err
		}

		h.TotalQuantity = bal.Total
		h.AvailableQuantity = bal.Free
		h.LockedQuantity = bal.Locked
		h.Category = Classify(bal.Asset, bal.Total)

		if price, ok := prices[bal.Asset]; ok {
			value := bal.Total.Mul(price)
			h.CurrentPriceUSD = &price
			h.CurrentValueUSD = &value
			unrealized := value.Sub(h.TotalCostUSD)
			h.UnrealizedPnLUSD = &unrealized
			h.UnrealizedPnLPercentage = percentOf(unrealized, h.TotalCostUSD)
			res.TotalValueUSD = res.TotalValueUSD.Add(value)
		} else {
			// Unknown value stays nil, not zero; an unpriced asset
			// must not drag portfolio totals down.
			h.CurrentPriceUSD = nil
			h.CurrentValueUSD = nil
			h.UnrealizedPnLUSD = nil
			h.UnrealizedPnLPercentage = decimal.Zero
			res.Unpriced = append(res.Unpriced, bal.Asset)
		}
		h.UpdatedAt = time.Now().UTC()

		if err := l.store.UpsertHolding(ctx, h); err != nil {
			return nil, err
		}

		res.Categories[h.Category]++
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	if err := l.recomputeShares(ctx, userID); err != nil {
		return nil, err
	}
	return res, nil
}

// RefreshValuations re-prices a user's holdings from the given quote map and
// recomputes portfolio percentages. Assets absent from the map get nil
// valuation fields.
func (l *Ledger) RefreshValuations(ctx context.Context, userID string, prices map[string]decimal.Decimal) error {
	mu := l.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	holdings, err := l.store.ListHoldings(ctx, userID)
	if err != nil {
		return err
	}

	for i := range holdings {
		h := &holdings[i]
		if price, ok := prices[h.AssetSymbol]; ok {
			value := h.TotalQuantity.Mul(price)
			h.CurrentPriceUSD = &price
			h.CurrentValueUSD = &value
			unrealized := value.Sub(h.TotalCostUSD)
			h.UnrealizedPnLUSD = &unrealized
			h.UnrealizedPnLPercentage = percentOf(unrealized, h.TotalCostUSD)
		} else {
			h.CurrentPriceUSD = nil
			h.CurrentValueUSD = nil
			h.UnrealizedPnLUSD = nil
			h.UnrealizedPnLPercentage = decimal.Zero
		}
		h.UpdatedAt = time.Now().UTC()
		if err := l.store.UpsertHolding(ctx, h); err != nil {
			return err
		}
	}

	return l.recomputeShares(ctx, userID)
}

// recomputeShares rewrites portfolio_percentage across a user's holdings.
// Caller must hold the user lock. Holdings with nil value contribute nothing
// to (and take no share of) the total.
func (l *Ledger) recomputeShares(ctx context.Context, userID string) error {
	holdings, err := l.store.ListHoldings(ctx, userID)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, h := range holdings {
		if h.CurrentValueUSD != nil {
			total = total.Add(*h.CurrentValueUSD)
		}
	}

	for i := range holdings {
		h := &holdings[i]
		share := decimal.Zero
		if h.CurrentValueUSD != nil && total.IsPositive() {
			share = h.CurrentValueUSD.Div(total).Mul(decimal.NewFromInt(100))
		}
		if h.PortfolioPercentage.Equal(share) {
			continue
		}
		h.PortfolioPercentage = share
		if err := l.store.UpsertHolding(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func validateTrade(asset string, t *model.Trade) error {
	if asset == "" {
		return fmt.Errorf("%w: empty asset symbol", ErrInvalidTrade)
	}
	if t.Side != model.SideBuy && t.Side != model.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidTrade, t.Side)
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidTrade)
	}
	if t.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidTrade)
	}
	return nil
}

// percentOf returns part/whole × 100, or zero when whole is not strictly
// positive (never NaN, never an error).
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100))
}
