package aggregate

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/store"
)

// SymbolBreakdown summarizes trading activity for one pair.
type SymbolBreakdown struct {
	Symbol         string          `json:"symbol"`
	TradeCount     int             `json:"trade_count"`
	BuyCount       int             `json:"buy_count"`
	SellCount      int             `json:"sell_count"`
	VolumeUSD      decimal.Decimal `json:"volume_usd"`
	RealizedPnLUSD decimal.Decimal `json:"realized_pnl_usd"`
}

// DailyVolume is traded volume for one UTC calendar date.
type DailyVolume struct {
	Date       string          `json:"date"`
	VolumeUSD  decimal.Decimal `json:"volume_usd"`
	TradeCount int             `json:"trade_count"`
}

// TradeAnalysis is the per-symbol and per-day breakdown of a trade window.
type TradeAnalysis struct {
	TradeCount       int               `json:"trade_count"`
	Symbols          []SymbolBreakdown `json:"symbols"`
	DailyVolume      []DailyVolume     `json:"daily_volume"`
	LargestTradeUSD  decimal.Decimal   `json:"largest_trade_usd"`
	SmallestTradeUSD decimal.Decimal   `json:"smallest_trade_usd"`
	AverageTradeUSD  decimal.Decimal   `json:"average_trade_usd"`
}

// RealizedReport is the realized-P&L listing with win/loss statistics.
type RealizedReport struct {
	Trades           []model.Trade   `json:"trades"`
	TotalRealizedUSD decimal.Decimal `json:"total_realized_usd"`
	WinningSells     int             `json:"winning_sells"`
	LosingSells      int             `json:"losing_sells"`
	WinRate          decimal.Decimal `json:"win_rate"`
	AverageProfitUSD decimal.Decimal `json:"average_profit_usd"`
	AverageLossUSD   decimal.Decimal `json:"average_loss_usd"`
	ProfitLossRatio  decimal.Decimal `json:"profit_loss_ratio"`
}

// Analyze breaks the filtered trade set down by symbol and calendar day.
func (a *Aggregator) Analyze(ctx context.Context, userID string, f store.TradeFilter) (*TradeAnalysis, error) {
	trades, err := a.store.ListTrades(ctx, userID, f)
	if err != nil {
		return nil, err
	}

	res := &TradeAnalysis{
		Symbols:     []SymbolBreakdown{},
		DailyVolume: []DailyVolume{},
	}

	bySymbol := make(map[string]*SymbolBreakdown)
	byDay := make(map[string]*DailyVolume)
	var totalVolume decimal.Decimal

	for _, t := range trades {
		res.TradeCount++

		s, ok := bySymbol[t.Symbol]
		if !ok {
			s = &SymbolBreakdown{Symbol: t.Symbol}
			bySymbol[t.Symbol] = s
		}
		s.TradeCount++
		if t.Side == model.SideBuy {
			s.BuyCount++
		} else {
			s.SellCount++
		}
		s.VolumeUSD = s.VolumeUSD.Add(t.QuoteQuantity)
		if t.RealizedPnLUSD != nil {
			s.RealizedPnLUSD = s.RealizedPnLUSD.Add(*t.RealizedPnLUSD)
		}

		day := t.ExecutedAt.UTC().Format("2006-01-02")
		dv, ok := byDay[day]
		if !ok {
			dv = &DailyVolume{Date: day}
			byDay[day] = dv
		}
		dv.VolumeUSD = dv.VolumeUSD.Add(t.QuoteQuantity)
		dv.TradeCount++

		totalVolume = totalVolume.Add(t.QuoteQuantity)
		if res.TradeCount == 1 {
			res.LargestTradeUSD = t.QuoteQuantity
			res.SmallestTradeUSD = t.QuoteQuantity
		} else {
			if t.QuoteQuantity.GreaterThan(res.LargestTradeUSD) {
				res.LargestTradeUSD = t.QuoteQuantity
			}
			if t.QuoteQuantity.LessThan(res.SmallestTradeUSD) {
				res.SmallestTradeUSD = t.QuoteQuantity
			}
		}
	}

	if res.TradeCount > 0 {
		res.AverageTradeUSD = totalVolume.Div(decimal.NewFromInt(int64(res.TradeCount)))
	}

	for _, s := range bySymbol {
		res.Symbols = append(res.Symbols, *s)
	}
	sort.Slice(res.Symbols, func(i, j int) bool {
		return res.Symbols[i].VolumeUSD.GreaterThan(res.Symbols[j].VolumeUSD)
	})

	for _, dv := range byDay {
		res.DailyVolume = append(res.DailyVolume, *dv)
	}
	sort.Slice(res.DailyVolume, func(i, j int) bool {
		return res.DailyVolume[i].Date < res.DailyVolume[j].Date
	})

	return res, nil
}

// Realized lists realized sells newest first and derives win/loss stats.
// The profit/loss ratio is average profit over average absolute loss, zero
// when there are no losing sells.
func (a *Aggregator) Realized(ctx context.Context, userID string, f store.TradeFilter) (*RealizedReport, error) {
	trades, err := a.RealizedTrades(ctx, userID, f)
	if err != nil {
		return nil, err
	}

	report := &RealizedReport{Trades: trades}
	var profitSum, lossSum decimal.Decimal
	for _, t := range trades {
		pnl := *t.RealizedPnLUSD
		report.TotalRealizedUSD = report.TotalRealizedUSD.Add(pnl)
		if pnl.IsPositive() {
			report.WinningSells++
			profitSum = profitSum.Add(pnl)
		} else if pnl.IsNegative() {
			report.LosingSells++
			lossSum = lossSum.Add(pnl)
		}
	}

	total := len(trades)
	if total > 0 {
		report.WinRate = decimal.NewFromInt(int64(report.WinningSells)).
			Div(decimal.NewFromInt(int64(total))).Mul(decimal.NewFromInt(100))
	}
	if report.WinningSells > 0 {
		report.AverageProfitUSD = profitSum.Div(decimal.NewFromInt(int64(report.WinningSells)))
	}
	if report.LosingSells > 0 {
		report.AverageLossUSD = lossSum.Div(decimal.NewFromInt(int64(report.LosingSells)))
		report.ProfitLossRatio = report.AverageProfitUSD.Div(report.AverageLossUSD.Abs())
	}
	return report, nil
}
