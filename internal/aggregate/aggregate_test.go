package aggregate_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/aggregate"
	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func dp(f float64) *decimal.Decimal {
	v := decimal.NewFromFloat(f)
	return &v
}

func seedHolding(t *testing.T, st store.Store, userID, asset string, cost, realized float64, value *float64) {
	t.Helper()
	h := &model.Holding{
		UserID:         userID,
		AssetSymbol:    asset,
		TotalQuantity:  d(1),
		TotalCostUSD:   d(cost),
		AverageCostUSD: d(cost),
		RealizedPnLUSD: d(realized),
		UpdatedAt:      time.Now().UTC(),
	}
	if value != nil {
		h.CurrentValueUSD = dp(*value)
		u := d(*value).Sub(d(cost))
		h.UnrealizedPnLUSD = &u
	}
	if err := st.UpsertHolding(context.Background(), h); err != nil {
		t.Fatalf("seed holding %s: %v", asset, err)
	}
}

func seedSell(t *testing.T, st store.Store, userID, tradeID string, realized float64, at time.Time) {
	t.Helper()
	tr := &model.Trade{
		ID:              tradeID,
		UserID:          userID,
		ExchangeTradeID: tradeID,
		Symbol:          "BTCUSDT",
		Side:            model.SideSell,
		Quantity:        d(1),
		Price:           d(20000),
		QuoteQuantity:   d(20000),
		ExecutedAt:      at,
		RealizedPnLUSD:  dp(realized),
	}
	if err := st.InsertTrade(context.Background(), tr); err != nil {
		t.Fatalf("seed trade %s: %v", tradeID, err)
	}
}

func fl(f float64) *float64 { return &f }

func TestSnapshotIsImmutablePerDate(t *testing.T) {
	st := store.NewMemoryStore()
	agg := aggregate.New(st, nil)
	seedHolding(t, st, "alice", "BTC", 10000, 0, fl(15000))
	seedHolding(t, st, "alice", "ETH", 5000, 500, fl(4000))

	date := time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)
	first, err := agg.Snapshot(context.Background(), "alice", date)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !first.SnapshotDate.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("snapshot date = %s, want UTC midnight", first.SnapshotDate)
	}
	if !first.TotalValueUSD.Equal(d(19000)) {
		t.Errorf("total value = %s, want 19000", first.TotalValueUSD)
	}
	// unrealized 5000 - 1000, realized 500
	if !first.TotalPnLUSD.Equal(d(4500)) {
		t.Errorf("total pnl = %s, want 4500", first.TotalPnLUSD)
	}
	if first.AssetCount != 2 {
		t.Errorf("asset count = %d, want 2", first.AssetCount)
	}

	// Holdings change; the stored snapshot must not.
	seedHolding(t, st, "alice", "SOL", 1000, 0, fl(2000))
	second, err := agg.Snapshot(context.Background(), "alice", date.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("second Snapshot: %v", err)
	}
	if second.ID != first.ID || !second.TotalValueUSD.Equal(first.TotalValueUSD) {
		t.Errorf("snapshot mutated on second call: %+v vs %+v", second, first)
	}
}

func TestSnapshotTopHoldingsRanked(t *testing.T) {
	st := store.NewMemoryStore()
	agg := aggregate.New(st, nil)
	seedHolding(t, st, "bob", "BTC", 10000, 0, fl(30000))
	seedHolding(t, st, "bob", "ETH", 5000, 0, fl(10000))
	seedHolding(t, st, "bob", "SOL", 2000, 0, fl(20000))
	seedHolding(t, st, "bob", "XYZ", 1000, 0, nil) // unpriced, excluded

	snap, err := agg.Snapshot(context.Background(), "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.TopHoldings) != 3 {
		t.Fatalf("top holdings = %d, want 3", len(snap.TopHoldings))
	}
	if snap.TopHoldings[0].AssetSymbol != "BTC" || snap.TopHoldings[1].AssetSymbol != "SOL" {
		t.Errorf("ranking = %s, %s; want BTC, SOL", snap.TopHoldings[0].AssetSymbol, snap.TopHoldings[1].AssetSymbol)
	}
	// BTC is 30000 of 60000 total.
	if !snap.TopHoldings[0].Percentage.Equal(d(50)) {
		t.Errorf("BTC share = %s, want 50", snap.TopHoldings[0].Percentage)
	}
}

func TestPerformersBestAndWorst(t *testing.T) {
	st := store.NewMemoryStore()
	agg := aggregate.New(st, nil)
	seedHolding(t, st, "carol", "BTC", 10000, 0, fl(15000)) // +50%
	seedHolding(t, st, "carol", "ETH", 10000, 0, fl(11000)) // +10%
	seedHolding(t, st, "carol", "SOL", 10000, 0, fl(8000))  // -20%

	report, err := agg.Performers(context.Background(), "carol")
	if err != nil {
		t.Fatalf("Performers: %v", err)
	}
	if report.Best == nil || report.Best.AssetSymbol != "BTC" {
		t.Errorf("best = %+v, want BTC", report.Best)
	}
	if report.Worst == nil || report.Worst.AssetSymbol != "SOL" {
		t.Errorf("worst = %+v, want SOL", report.Worst)
	}
}

func TestPerformersAllNegativeHasNoBest(t *testing.T) {
	st := store.NewMemoryStore()
	agg := aggregate.New(st, nil)
	seedHolding(t, st, "dave", "BTC", 10000, 0, fl(9000))
	seedHolding(t, st, "dave", "ETH", 10000, 0, fl(7000))

	report, err := agg.Performers(context.Background(), "dave")
	if err != nil {
		t.Fatalf("Performers: %v", err)
	}
	if report.Best != nil {
		t.Errorf("best = %+v, want nil when everything is down", report.Best)
	}
	if report.Worst == nil || report.Worst.AssetSymbol != "ETH" {
		t.Errorf("worst = %+v, want ETH", report.Worst)
	}
}

func TestPerformersTieBrokenByValue(t *testing.T) {
	st := store.NewMemoryStore()
	agg := aggregate.New(st, nil)
	// Both +50%; ETH position is larger.
	seedHolding(t, st, "erin", "BTC", 10000, 0, fl(15000))
	seedHolding(t, st, "erin", "ETH", 20000, 0, fl(30000))

	report, err := agg.Performers(context.Background(), "erin")
	if err != nil {
		t.Fatalf("Performers: %v", err)
	}
	if report.Best == nil || report.Best.AssetSymbol != "ETH" {
		t.Errorf("best = %+v, want ETH by value tie-break", report.Best)
	}
}

func TestWinRate(t *testing.T) {
	st := store.NewMemoryStore()
	agg := aggregate.New(st, nil)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedSell(t, st, "frank", "1", 500, base)
	seedSell(t, st, "frank", "2", -200, base.Add(time.Hour))
	seedSell(t, st, "frank", "3", 100, base.Add(2*time.Hour))
	seedSell(t, st, "frank", "4", 50, base.Add(3*time.Hour))

	report, err := agg.Performers(context.Background(), "frank")
	if err != nil {
		t.Fatalf("Performers: %v", err)
	}
	if report.TotalSells != 4 || report.WinningSells != 3 {
		t.Errorf("sells = %d/%d, want 3 of 4 winning", report.WinningSells, report.TotalSells)
	}
	if !report.WinRate.Equal(d(75)) {
		t.Errorf("win rate = %s, want 75", report.WinRate)
	}
}

func TestRealizedTradesNewestFirst(t *testing.T) {
	st := store.NewMemoryStore()
	agg := aggregate.New(st, nil)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedSell(t, st, "grace", "1", 100, base)
	seedSell(t, st, "grace", "2", 200, base.Add(24*time.Hour))

	// A buy must not appear in the realized listing.
	buy := &model.Trade{
		ID: "b1", UserID: "grace", ExchangeTradeID: "b1",
		Symbol: "BTCUSDT", Side: model.SideBuy,
		Quantity: d(1), Price: d(20000), QuoteQuantity: d(20000),
		ExecutedAt: base.Add(time.Hour),
	}
	if err := st.InsertTrade(context.Background(), buy); err != nil {
		t.Fatalf("seed buy: %v", err)
	}

	trades, err := agg.RealizedTrades(context.Background(), "grace", store.TradeFilter{})
	if err != nil {
		t.Fatalf("RealizedTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].ExchangeTradeID != "2" {
		t.Errorf("first = %s, want most recent sell", trades[0].ExchangeTradeID)
	}
}
