// Package pnl assembles profit-and-loss reports from holdings, trade history,
// and current prices. Two methodologies coexist and are never merged: the
// FIFO lot replay is authoritative for realized P&L, while the weighted-
// average split derived from holdings is a dashboard approximation.
package pnl

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/lots"
	"github.com/coinledger/portfolio-engine/internal/metrics"
	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/oracle"
	"github.com/coinledger/portfolio-engine/internal/store"
)

// Basis labels for the two methodologies.
const (
	BasisFIFO            = "fifo"
	BasisWeightedAverage = "weighted_average_approximation"
)

// Report is the comprehensive P&L response: five independently computed
// views plus a short summary.
type Report struct {
	UserID       string    `json:"user_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	WindowDays   int       `json:"window_days"`
	SymbolFilter string    `json:"symbol_filter,omitempty"`

	PortfolioBased PortfolioView      `json:"portfolio_based"`
	TradeBased     TradeView          `json:"trade_based"`
	Split          SplitView          `json:"realized_vs_unrealized"`
	TimeSeries     []DailyPoint       `json:"time_series"`
	Performance    PerformanceMetrics `json:"performance_metrics"`
	Summary        Summary            `json:"summary"`
}

// PortfolioView values current holdings at current prices against their
// weighted-average cost. Available even with no trade history.
type PortfolioView struct {
	Holdings              []model.Holding `json:"holdings"`
	TotalValueUSD         decimal.Decimal `json:"total_value_usd"`
	TotalCostUSD          decimal.Decimal `json:"total_cost_usd"`
	TotalUnrealizedPnLUSD decimal.Decimal `json:"total_unrealized_pnl_usd"`
	TotalRealizedPnLUSD   decimal.Decimal `json:"total_realized_pnl_usd"`
	TotalPnLUSD           decimal.Decimal `json:"total_pnl_usd"`
	TotalPnLPercentage    decimal.Decimal `json:"total_pnl_percentage"`
	UnpricedAssets        []string        `json:"unpriced_assets,omitempty"`
}

// SymbolPnL is the FIFO result for one trading pair.
type SymbolPnL struct {
	Symbol           string           `json:"symbol"`
	Asset            string           `json:"asset"`
	TradeCount       int              `json:"trade_count"`
	RealizedPnLUSD   decimal.Decimal  `json:"realized_pnl_usd"`
	OpenQuantity     decimal.Decimal  `json:"open_quantity"`
	OpenCostUSD      decimal.Decimal  `json:"open_cost_usd"`
	UnrealizedPnLUSD *decimal.Decimal `json:"unrealized_pnl_usd"` // nil when unpriced
}

// TradeView is the FIFO replay over the filtered trade set: authoritative
// realized P&L, plus unrealized P&L on the remaining FIFO position.
type TradeView struct {
	Basis                 string          `json:"basis"`
	Symbols               []SymbolPnL     `json:"symbols"`
	TotalRealizedPnLUSD   decimal.Decimal `json:"total_realized_pnl_usd"`
	TotalUnrealizedPnLUSD decimal.Decimal `json:"total_unrealized_pnl_usd"`
	UnpricedAssets        []string        `json:"unpriced_assets,omitempty"`
}

// SplitView is the weighted-average realized/unrealized split from holdings.
// It is an approximation for dashboards, not the authoritative realized
// figure; that is TradeView's.
type SplitView struct {
	Basis            string          `json:"basis"`
	RealizedPnLUSD   decimal.Decimal `json:"realized_pnl_usd"`
	UnrealizedPnLUSD decimal.Decimal `json:"unrealized_pnl_usd"`
	TotalPnLUSD      decimal.Decimal `json:"total_pnl_usd"`
}

// DailyPoint is one calendar-day bucket of realized P&L from sells, with a
// running cumulative sum. Days without trades appear as zero entries.
type DailyPoint struct {
	Date             string          `json:"date"` // YYYY-MM-DD, UTC
	RealizedPnLUSD   decimal.Decimal `json:"realized_pnl_usd"`
	CumulativePnLUSD decimal.Decimal `json:"cumulative_pnl_usd"`
	TradeCount       int             `json:"trade_count"`
}

// PerformanceMetrics summarizes trading activity over the window.
type PerformanceMetrics struct {
	TradeCount      int             `json:"trade_count"`
	BuyCount        int             `json:"buy_count"`
	SellCount       int             `json:"sell_count"`
	TotalVolumeUSD  decimal.Decimal `json:"total_volume_usd"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TradingDays     int             `json:"trading_days"`
	TradesPerDay    decimal.Decimal `json:"trades_per_day"`
	FeePercentage   decimal.Decimal `json:"fee_percentage"`
}

// Summary is the headline block assembled from the views above.
type Summary struct {
	TotalValueUSD        decimal.Decimal `json:"total_value_usd"`
	TotalPnLUSD          decimal.Decimal `json:"total_pnl_usd"`
	FIFORealizedTotalUSD decimal.Decimal `json:"fifo_realized_total_usd"`
	AssetCount           int             `json:"asset_count"`
}

// Engine computes P&L reports.
type Engine struct {
	store  store.Store
	prices oracle.Oracle
	pairs  oracle.PairTable
	logger *slog.Logger
}

// NewEngine wires a P&L engine.
func NewEngine(st store.Store, prices oracle.Oracle, pairs oracle.PairTable, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, prices: prices, pairs: pairs, logger: logger}
}

// ComputeComprehensive builds the full report. symbolFilter narrows the
// trade-derived views to one trading pair ("" means all); windowDays bounds
// the trade window and time series (0 means 30).
func (e *Engine) ComputeComprehensive(ctx context.Context, userID, symbolFilter string, windowDays int) (*Report, error) {
	start := time.Now()
	defer func() {
		metrics.PnLComputeDuration.Observe(time.Since(start).Seconds())
	}()

	if windowDays <= 0 {
		windowDays = 30
	}
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	holdings, err := e.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if symbolFilter != "" {
		asset := e.pairs.BaseAsset(symbolFilter)
		filtered := holdings[:0]
		for _, h := range holdings {
			if h.AssetSymbol == asset {
				filtered = append(filtered, h)
			}
		}
		holdings = filtered
	}

	trades, err := e.store.ListTrades(ctx, userID, store.TradeFilter{
		Symbol: symbolFilter,
		Since:  since,
	})
	if err != nil {
		return nil, err
	}

	priceMap := e.fetchPrices(ctx, holdings, trades)

	report := &Report{
		UserID:       userID,
		GeneratedAt:  now,
		WindowDays:   windowDays,
		SymbolFilter: symbolFilter,
	}
	report.PortfolioBased = e.portfolioView(holdings)
	report.TradeBased = e.tradeView(trades, priceMap)
	report.Split = splitView(report.PortfolioBased)
	report.TimeSeries = timeSeries(trades, since, now)
	report.Performance = performance(trades, windowDays)
	report.Summary = Summary{
		TotalValueUSD:        report.PortfolioBased.TotalValueUSD,
		TotalPnLUSD:          report.PortfolioBased.TotalPnLUSD,
		FIFORealizedTotalUSD: report.TradeBased.TotalRealizedPnLUSD,
		AssetCount:           len(holdings),
	}
	return report, nil
}

// fetchPrices collects every asset the report touches and resolves prices in
// one oracle call. A full oracle outage degrades to an empty map; the views
// then report unrealized P&L as unknown rather than zero.
func (e *Engine) fetchPrices(ctx context.Context, holdings []model.Holding, trades []model.Trade) map[string]decimal.Decimal {
	seen := make(map[string]bool)
	var assets []string
	for _, h := range holdings {
		if !seen[h.AssetSymbol] {
			seen[h.AssetSymbol] = true
			assets = append(assets, h.AssetSymbol)
		}
	}
	for _, t := range trades {
		asset := e.pairs.BaseAsset(t.Symbol)
		if !seen[asset] {
			seen[asset] = true
			assets = append(assets, asset)
		}
	}
	if len(assets) == 0 {
		return map[string]decimal.Decimal{}
	}

	prices, err := e.prices.GetCurrentPrices(ctx, assets)
	if err != nil {
		e.logger.Warn("price fetch failed, reporting without valuations", "error", err)
		return map[string]decimal.Decimal{}
	}
	return prices
}

// portfolioView sums the valuation fields already maintained on holdings.
// Holdings with no current price contribute quantity and cost but are
// excluded from value and unrealized totals.
func (e *Engine) portfolioView(holdings []model.Holding) PortfolioView {
	v := PortfolioView{Holdings: holdings}
	if v.Holdings == nil {
		v.Holdings = []model.Holding{}
	}

	var pricedCost decimal.Decimal
	for _, h := range holdings {
		v.TotalCostUSD = v.TotalCostUSD.Add(h.TotalCostUSD)
		v.TotalRealizedPnLUSD = v.TotalRealizedPnLUSD.Add(h.RealizedPnLUSD)
		if h.CurrentValueUSD == nil {
			v.UnpricedAssets = append(v.UnpricedAssets, h.AssetSymbol)
			continue
		}
		v.TotalValueUSD = v.TotalValueUSD.Add(*h.CurrentValueUSD)
		pricedCost = pricedCost.Add(h.TotalCostUSD)
		if h.UnrealizedPnLUSD != nil {
			v.TotalUnrealizedPnLUSD = v.TotalUnrealizedPnLUSD.Add(*h.UnrealizedPnLUSD)
		}
	}

	v.TotalPnLUSD = v.TotalUnrealizedPnLUSD.Add(v.TotalRealizedPnLUSD)
	if pricedCost.IsPositive() {
		v.TotalPnLPercentage = v.TotalUnrealizedPnLUSD.Div(pricedCost).Mul(decimal.NewFromInt(100))
	}
	return v
}

// tradeView replays the filtered trades through a fresh FIFO matcher.
func (e *Engine) tradeView(trades []model.Trade, prices map[string]decimal.Decimal) TradeView {
	v := TradeView{Basis: BasisFIFO, Symbols: []SymbolPnL{}}

	matcher := lots.NewMatcher()
	realized := make(map[string]decimal.Decimal)
	counts := make(map[string]int)
	for _, t := range trades {
		counts[t.Symbol]++
		switch t.Side {
		case model.SideBuy:
			matcher.OnBuy(t.Symbol, t.Quantity, t.Price, t.ExecutedAt)
		case model.SideSell:
			sell := matcher.OnSell(t.Symbol, t.Quantity, t.Price)
			realized[t.Symbol] = realized[t.Symbol].Add(sell.RealizedPnL)
		}
	}

	symbols := make([]string, 0, len(counts))
	for s := range counts {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		asset := e.pairs.BaseAsset(symbol)
		entry := SymbolPnL{
			Symbol:         symbol,
			Asset:          asset,
			TradeCount:     counts[symbol],
			RealizedPnLUSD: realized[symbol],
			OpenQuantity:   matcher.Position(symbol),
			OpenCostUSD:    matcher.OpenCost(symbol),
		}
		v.TotalRealizedPnLUSD = v.TotalRealizedPnLUSD.Add(entry.RealizedPnLUSD)

		if price, ok := prices[asset]; ok && entry.OpenQuantity.IsPositive() {
			u := entry.OpenQuantity.Mul(price).Sub(entry.OpenCostUSD)
			entry.UnrealizedPnLUSD = &u
			v.TotalUnrealizedPnLUSD = v.TotalUnrealizedPnLUSD.Add(u)
		} else if entry.OpenQuantity.IsPositive() {
			v.UnpricedAssets = append(v.UnpricedAssets, asset)
		}
		v.Symbols = append(v.Symbols, entry)
	}
	return v
}

func splitView(p PortfolioView) SplitView {
	return SplitView{
		Basis:            BasisWeightedAverage,
		RealizedPnLUSD:   p.TotalRealizedPnLUSD,
		UnrealizedPnLUSD: p.TotalUnrealizedPnLUSD,
		TotalPnLUSD:      p.TotalPnLUSD,
	}
}

// timeSeries buckets stored realized P&L from sells by UTC calendar date,
// zero-filling every day in the window and carrying a cumulative sum.
func timeSeries(trades []model.Trade, since, now time.Time) []DailyPoint {
	const layout = "2006-01-02"

	byDay := make(map[string]*DailyPoint)
	for _, t := range trades {
		day := t.ExecutedAt.UTC().Format(layout)
		p, ok := byDay[day]
		if !ok {
			p = &DailyPoint{Date: day}
			byDay[day] = p
		}
		p.TradeCount++
		if t.Side == model.SideSell && t.RealizedPnLUSD != nil {
			p.RealizedPnLUSD = p.RealizedPnLUSD.Add(*t.RealizedPnLUSD)
		}
	}

	startDay := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var series []DailyPoint
	var cumulative decimal.Decimal
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		key := day.Format(layout)
		point := DailyPoint{Date: key}
		if p, ok := byDay[key]; ok {
			point = *p
		}
		cumulative = cumulative.Add(point.RealizedPnLUSD)
		point.CumulativePnLUSD = cumulative
		series = append(series, point)
	}
	return series
}

func performance(trades []model.Trade, windowDays int) PerformanceMetrics {
	m := PerformanceMetrics{}
	days := make(map[string]bool)
	for _, t := range trades {
		m.TradeCount++
		if t.Side == model.SideBuy {
			m.BuyCount++
		} else {
			m.SellCount++
		}
		m.TotalVolumeUSD = m.TotalVolumeUSD.Add(t.QuoteQuantity)
		m.TotalCommission = m.TotalCommission.Add(t.Commission)
		days[t.ExecutedAt.UTC().Format("2006-01-02")] = true
	}
	m.TradingDays = len(days)
	if windowDays > 0 {
		m.TradesPerDay = decimal.NewFromInt(int64(m.TradeCount)).Div(decimal.NewFromInt(int64(windowDays)))
	}
	if m.TotalVolumeUSD.IsPositive() {
		m.FeePercentage = m.TotalCommission.Div(m.TotalVolumeUSD).Mul(decimal.NewFromInt(100))
	}
	return m
}
