// Package aggregate produces portfolio roll-ups: daily snapshots, best and
// worst performers, win rate, and realized trade listings.
package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/store"
)

// topHoldingLimit caps the ranked list embedded in a snapshot.
const topHoldingLimit = 5

// Performer is one ranked asset in the performance report.
type Performer struct {
	AssetSymbol        string           `json:"asset_symbol"`
	TotalPnLUSD        decimal.Decimal  `json:"total_pnl_usd"`
	TotalPnLPercentage decimal.Decimal  `json:"total_pnl_percentage"`
	CurrentValueUSD    *decimal.Decimal `json:"current_value_usd"`
}

// PerformerReport ranks a user's assets. Best is present only when the top
// asset is actually up; Worst only when the bottom asset is actually down.
type PerformerReport struct {
	Best         *Performer      `json:"best_performer"`
	Worst        *Performer      `json:"worst_performer"`
	WinRate      decimal.Decimal `json:"win_rate"` // percent of sells with positive realized P&L
	WinningSells int             `json:"winning_sells"`
	TotalSells   int             `json:"total_sells"`
}

// Aggregator computes roll-ups over the persisted portfolio state.
type Aggregator struct {
	store  store.Store
	logger *slog.Logger
}

// New wires an aggregator.
func New(st store.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: st, logger: logger}
}

// Portfolio is the flat holdings view with portfolio totals.
type Portfolio struct {
	Holdings              []model.Holding `json:"holdings"`
	TotalValueUSD         decimal.Decimal `json:"total_value_usd"`
	TotalCostUSD          decimal.Decimal `json:"total_cost_usd"`
	TotalUnrealizedPnLUSD decimal.Decimal `json:"total_unrealized_pnl_usd"`
	TotalRealizedPnLUSD   decimal.Decimal `json:"total_realized_pnl_usd"`
	TotalPnLUSD           decimal.Decimal `json:"total_pnl_usd"`
	AssetCount            int             `json:"asset_count"`
	UnpricedAssets        []string        `json:"unpriced_assets,omitempty"`
}

// GetPortfolio sums the valuation fields maintained on holdings. Unpriced
// holdings are listed but excluded from value and unrealized totals.
func (a *Aggregator) GetPortfolio(ctx context.Context, userID string) (*Portfolio, error) {
	holdings, err := a.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(holdings, func(i, j int) bool {
		return valueOrZero(holdings[i].CurrentValueUSD).GreaterThan(valueOrZero(holdings[j].CurrentValueUSD))
	})

	p := &Portfolio{Holdings: holdings, AssetCount: len(holdings)}
	if p.Holdings == nil {
		p.Holdings = []model.Holding{}
	}
	for _, h := range holdings {
		p.TotalCostUSD = p.TotalCostUSD.Add(h.TotalCostUSD)
		p.TotalRealizedPnLUSD = p.TotalRealizedPnLUSD.Add(h.RealizedPnLUSD)
		if h.CurrentValueUSD == nil {
			p.UnpricedAssets = append(p.UnpricedAssets, h.AssetSymbol)
			continue
		}
		p.TotalValueUSD = p.TotalValueUSD.Add(*h.CurrentValueUSD)
		if h.UnrealizedPnLUSD != nil {
			p.TotalUnrealizedPnLUSD = p.TotalUnrealizedPnLUSD.Add(*h.UnrealizedPnLUSD)
		}
	}
	p.TotalPnLUSD = p.TotalUnrealizedPnLUSD.Add(p.TotalRealizedPnLUSD)
	return p, nil
}

// Snapshot returns the roll-up for the given calendar date, creating it from
// current holdings if it does not exist yet. Snapshots are immutable: a
// second call on the same date returns the stored one unchanged.
func (a *Aggregator) Snapshot(ctx context.Context, userID string, date time.Time) (*model.PortfolioSnapshot, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	existing, err := a.store.GetSnapshot(ctx, userID, day)
	if err == nil {
		return existing, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	holdings, err := a.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap := &model.PortfolioSnapshot{
		ID:           uuid.New().String(),
		UserID:       userID,
		SnapshotDate: day,
		TopHoldings:  []model.TopHolding{},
		AssetCount:   len(holdings),
		CreatedAt:    time.Now().UTC(),
	}

	var unrealized decimal.Decimal
	for _, h := range holdings {
		snap.TotalCostUSD = snap.TotalCostUSD.Add(h.TotalCostUSD)
		snap.TotalPnLUSD = snap.TotalPnLUSD.Add(h.RealizedPnLUSD)
		if h.CurrentValueUSD == nil {
			continue
		}
		snap.TotalValueUSD = snap.TotalValueUSD.Add(*h.CurrentValueUSD)
		if h.UnrealizedPnLUSD != nil {
			unrealized = unrealized.Add(*h.UnrealizedPnLUSD)
		}
	}
	snap.TotalPnLUSD = snap.TotalPnLUSD.Add(unrealized)
	if snap.TotalCostUSD.IsPositive() {
		snap.TotalPnLPercentage = snap.TotalPnLUSD.Div(snap.TotalCostUSD).Mul(decimal.NewFromInt(100))
	}
	snap.TopHoldings = rankHoldings(holdings, snap.TotalValueUSD)

	if err := a.store.InsertSnapshot(ctx, snap); err != nil {
		// Lost a race with a concurrent snapshot for the same date; the
		// stored one wins.
		if stored, getErr := a.store.GetSnapshot(ctx, userID, day); getErr == nil {
			return stored, nil
		}
		return nil, err
	}

	a.logger.Info("snapshot created",
		"user_id", userID,
		"date", day.Format("2006-01-02"),
		"total_value_usd", snap.TotalValueUSD,
		"assets", snap.AssetCount)
	return snap, nil
}

// Performers ranks assets by total P&L percentage and reports the win rate
// over sell trades.
func (a *Aggregator) Performers(ctx context.Context, userID string) (*PerformerReport, error) {
	holdings, err := a.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	performers := make([]Performer, 0, len(holdings))
	for _, h := range holdings {
		p := Performer{
			AssetSymbol:     h.AssetSymbol,
			TotalPnLUSD:     h.RealizedPnLUSD,
			CurrentValueUSD: h.CurrentValueUSD,
		}
		if h.UnrealizedPnLUSD != nil {
			p.TotalPnLUSD = p.TotalPnLUSD.Add(*h.UnrealizedPnLUSD)
		}
		if h.TotalCostUSD.IsPositive() {
			p.TotalPnLPercentage = p.TotalPnLUSD.Div(h.TotalCostUSD).Mul(decimal.NewFromInt(100))
		}
		performers = append(performers, p)
	}

	// Rank by percentage descending; ties go to the larger current value.
	sort.SliceStable(performers, func(i, j int) bool {
		pi, pj := performers[i], performers[j]
		if !pi.TotalPnLPercentage.Equal(pj.TotalPnLPercentage) {
			return pi.TotalPnLPercentage.GreaterThan(pj.TotalPnLPercentage)
		}
		return valueOrZero(pi.CurrentValueUSD).GreaterThan(valueOrZero(pj.CurrentValueUSD))
	})

	report := &PerformerReport{}
	if len(performers) > 0 {
		if top := performers[0]; top.TotalPnLPercentage.IsPositive() {
			report.Best = &top
		}
		if bottom := performers[len(performers)-1]; bottom.TotalPnLPercentage.IsNegative() {
			report.Worst = &bottom
		}
	}

	sells, wins, err := a.sellStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	report.TotalSells = sells
	report.WinningSells = wins
	if sells > 0 {
		report.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(sells))).Mul(decimal.NewFromInt(100))
	}
	return report, nil
}

// RealizedTrades lists sell trades with realized P&L populated, newest
// first, optionally narrowed by the filter.
func (a *Aggregator) RealizedTrades(ctx context.Context, userID string, f store.TradeFilter) ([]model.Trade, error) {
	trades, err := a.store.ListTrades(ctx, userID, f)
	if err != nil {
		return nil, err
	}

	realized := make([]model.Trade, 0)
	for _, t := range trades {
		if t.Side == model.SideSell && t.RealizedPnLUSD != nil {
			realized = append(realized, t)
		}
	}
	sort.Slice(realized, func(i, j int) bool {
		return realized[i].ExecutedAt.After(realized[j].ExecutedAt)
	})
	return realized, nil
}

func (a *Aggregator) sellStats(ctx context.Context, userID string) (sells, wins int, err error) {
	trades, err := a.store.ListTrades(ctx, userID, store.TradeFilter{})
	if err != nil {
		return 0, 0, err
	}
	for _, t := range trades {
		if t.Side != model.SideSell || t.RealizedPnLUSD == nil {
			continue
		}
		sells++
		if t.RealizedPnLUSD.IsPositive() {
			wins++
		}
	}
	return sells, wins, nil
}

// rankHoldings returns the largest priced holdings by value.
func rankHoldings(holdings []model.Holding, totalValue decimal.Decimal) []model.TopHolding {
	priced := make([]model.Holding, 0, len(holdings))
	for _, h := range holdings {
		if h.CurrentValueUSD != nil {
			priced = append(priced, h)
		}
	}
	sort.Slice(priced, func(i, j int) bool {
		return priced[i].CurrentValueUSD.GreaterThan(*priced[j].CurrentValueUSD)
	})
	if len(priced) > topHoldingLimit {
		priced = priced[:topHoldingLimit]
	}

	top := make([]model.TopHolding, 0, len(priced))
	for _, h := range priced {
		entry := model.TopHolding{
			AssetSymbol: h.AssetSymbol,
			ValueUSD:    *h.CurrentValueUSD,
		}
		if totalValue.IsPositive() {
			entry.Percentage = h.CurrentValueUSD.Div(totalValue).Mul(decimal.NewFromInt(100))
		}
		top = append(top, entry)
	}
	return top
}

func valueOrZero(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}
