package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/ledger"
	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestLedger() (*ledger.Ledger, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	return ledger.New(ms), ms
}

func buyTrade(user, symbol string, qty, price float64) *model.Trade {
	return &model.Trade{
		UserID:     user,
		Symbol:     symbol + "USDT",
		Side:       model.SideBuy,
		Quantity:   d(qty),
		Price:      d(price),
		ExecutedAt: time.Now().UTC(),
	}
}

func sellTrade(user, symbol string, qty, price, realized float64) *model.Trade {
	r := d(realized)
	return &model.Trade{
		UserID:         user,
		Symbol:         symbol + "USDT",
		Side:           model.SideSell,
		Quantity:       d(qty),
		Price:          d(price),
		ExecutedAt:     time.Now().UTC(),
		RealizedPnLUSD: &r,
	}
}

// --- Weighted-average cost basis ---

func TestApplyTrade_BuyAveraging(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	h, err := l.ApplyTrade(ctx, "BTC", buyTrade("u1", "BTC", 1, 10000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.AverageCostUSD.Equal(d(10000)) {
		t.Errorf("expected avg 10000, got %s", h.AverageCostUSD)
	}

	h, err = l.ApplyTrade(ctx, "BTC", buyTrade("u1", "BTC", 1, 20000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.AverageCostUSD.Equal(d(15000)) {
		t.Errorf("expected avg 15000, got %s", h.AverageCostUSD)
	}
	if !h.TotalQuantity.Equal(d(2)) {
		t.Errorf("expected qty 2, got %s", h.TotalQuantity)
	}
	if !h.TotalCostUSD.Equal(d(30000)) {
		t.Errorf("expected total cost 30000, got %s", h.TotalCostUSD)
	}
}

// For any sequence of BUY-only trades, avg == total_cost / total_quantity.
func TestApplyTrade_BuyOnlyInvariant(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	buys := []struct{ qty, price float64 }{
		{0.3, 41250.50}, {1.7, 39980.01}, {0.001, 64000}, {2.25, 51003.77},
	}
	var h *model.Holding
	var err error
	for _, b := range buys {
		h, err = l.ApplyTrade(ctx, "BTC", buyTrade("u1", "BTC", b.qty, b.price))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := h.TotalCostUSD.Div(h.TotalQuantity)
	if !h.AverageCostUSD.Sub(want).Abs().LessThan(d(1e-12)) {
		t.Errorf("avg %s != total_cost/total_qty %s", h.AverageCostUSD, want)
	}
}

func TestApplyTrade_SellKeepsAverageCost(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	l.ApplyTrade(ctx, "BTC", buyTrade("u1", "BTC", 2, 15000))
	h, err := l.ApplyTrade(ctx, "BTC", sellTrade("u1", "BTC", 1, 25000, 10000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !h.AverageCostUSD.Equal(d(15000)) {
		t.Errorf("sell must not change average cost, got %s", h.AverageCostUSD)
	}
	if !h.TotalQuantity.Equal(d(1)) {
		t.Errorf("expected qty 1, got %s", h.TotalQuantity)
	}
	if !h.RealizedPnLUSD.Equal(d(10000)) {
		t.Errorf("expected cumulative realized 10000, got %s", h.RealizedPnLUSD)
	}
	if !h.TotalCostUSD.Equal(d(15000)) {
		t.Errorf("expected remaining cost basis 15000, got %s", h.TotalCostUSD)
	}
}

func TestApplyTrade_OversellClampsAtZero(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	l.ApplyTrade(ctx, "BTC", buyTrade("u1", "BTC", 1, 10000))
	h, err := l.ApplyTrade(ctx, "BTC", sellTrade("u1", "BTC", 5, 12000, 2000))
	if err != nil {
		t.Fatalf("oversell must be applied, not rejected: %v", err)
	}
	if !h.TotalQuantity.IsZero() {
		t.Errorf("position must floor at zero, got %s", h.TotalQuantity)
	}
	if h.TotalQuantity.IsNegative() || h.AvailableQuantity.IsNegative() {
		t.Error("quantities must never go negative")
	}
}

func TestApplyTrade_Validation(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	bad := buyTrade("u1", "BTC", 0, 100)
	if _, err := l.ApplyTrade(ctx, "BTC", bad); !errors.Is(err, ledger.ErrInvalidTrade) {
		t.Errorf("zero quantity should fail validation, got %v", err)
	}

	bad = buyTrade("u1", "BTC", 1, 100)
	bad.Side = "HOLD"
	if _, err := l.ApplyTrade(ctx, "BTC", bad); !errors.Is(err, ledger.ErrInvalidTrade) {
		t.Errorf("bad side should fail validation, got %v", err)
	}
}

func TestCheckSell(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	if err := l.CheckSell(ctx, "u1", "BTC", d(1)); !errors.Is(err, ledger.ErrInsufficientPosition) {
		t.Errorf("selling with no holding should be rejected, got %v", err)
	}

	l.ApplyTrade(ctx, "BTC", buyTrade("u1", "BTC", 1, 10000))
	if err := l.CheckSell(ctx, "u1", "BTC", d(0.5)); err != nil {
		t.Errorf("sell within position should pass, got %v", err)
	}
	if err := l.CheckSell(ctx, "u1", "BTC", d(1.5)); !errors.Is(err, ledger.ErrInsufficientPosition) {
		t.Errorf("sell beyond available should be rejected, got %v", err)
	}
}

// --- Reconciliation ---

func balances() []model.BalanceEntry {
	return []model.BalanceEntry{
		{Asset: "BTC", Free: d(1), Locked: d(0.5), Total: d(1.5)},
		{Asset: "USDT", Free: d(1000), Locked: d(0), Total: d(1000)},
		{Asset: "XYZ", Free: d(42), Locked: d(0), Total: d(42)},
	}
}

func TestReconcile_CreatesAndCategorizes(t *testing.T) {
	l, ms := newTestLedger()
	ctx := context.Background()

	prices := map[string]decimal.Decimal{"BTC": d(50000), "USDT": d(1)}
	res, err := l.Reconcile(ctx, "u1", balances(), prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Created != 3 || res.Updated != 0 {
		t.Errorf("expected 3 created, got created=%d updated=%d", res.Created, res.Updated)
	}
	if res.Categories["major"] != 1 || res.Categories["stable"] != 1 || res.Categories["altcoin"] != 1 {
		t.Errorf("unexpected categories: %v", res.Categories)
	}
	// 1.5·50000 + 1000·1; XYZ has no price and contributes nothing.
	if !res.TotalValueUSD.Equal(d(76000)) {
		t.Errorf("expected total value 76000, got %s", res.TotalValueUSD)
	}
	if len(res.Unpriced) != 1 || res.Unpriced[0] != "XYZ" {
		t.Errorf("expected XYZ unpriced, got %v", res.Unpriced)
	}

	h, _ := ms.GetHolding(ctx, "u1", "XYZ")
	if h.CurrentValueUSD != nil || h.CurrentPriceUSD != nil {
		t.Error("unpriced asset must have nil valuation, not zero")
	}
	if !h.TotalQuantity.Equal(d(42)) {
		t.Errorf("quantity-only update expected, got %s", h.TotalQuantity)
	}
}

func TestReconcile_NeverTouchesCostBasis(t *testing.T) {
	l, ms := newTestLedger()
	ctx := context.Background()

	l.ApplyTrade(ctx, "BTC", buyTrade("u1", "BTC", 1, 30000))

	prices := map[string]decimal.Decimal{"BTC": d(50000)}
	if _, err := l.Reconcile(ctx, "u1", balances(), prices); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h, _ := ms.GetHolding(ctx, "u1", "BTC")
	if !h.AverageCostUSD.Equal(d(30000)) {
		t.Errorf("reconcile must not change avg cost, got %s", h.AverageCostUSD)
	}
	if !h.TotalCostUSD.Equal(d(30000)) {
		t.Errorf("reconcile must not change total cost, got %s", h.TotalCostUSD)
	}
	if !h.TotalQuantity.Equal(d(1.5)) {
		t.Errorf("reconcile should set quantity from the snapshot, got %s", h.TotalQuantity)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	l, ms := newTestLedger()
	ctx := context.Background()

	prices := map[string]decimal.Decimal{"BTC": d(50000), "USDT": d(1)}
	if _, err := l.Reconcile(ctx, "u1", balances(), prices); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	first, _ := ms.ListHoldings(ctx, "u1")

	if _, err := l.Reconcile(ctx, "u1", balances(), prices); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	second, _ := ms.ListHoldings(ctx, "u1")

	if len(first) != len(second) {
		t.Fatalf("holding count drifted: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if !a.TotalQuantity.Equal(b.TotalQuantity) ||
			!a.TotalCostUSD.Equal(b.TotalCostUSD) ||
			!a.PortfolioPercentage.Equal(b.PortfolioPercentage) ||
			a.Category != b.Category {
			t.Errorf("holding %s drifted between identical reconciles", a.AssetSymbol)
		}
	}
}

func TestReconcile_PortfolioShares(t *testing.T) {
	l, ms := newTestLedger()
	ctx := context.Background()

	prices := map[string]decimal.Decimal{"BTC": d(50000), "USDT": d(1)}
	if _, err := l.Reconcile(ctx, "u1", balances(), prices); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	btc, _ := ms.GetHolding(ctx, "u1", "BTC")
	// 75000 of 76000 total.
	want := d(75000).Div(d(76000)).Mul(d(100))
	if !btc.PortfolioPercentage.Sub(want).Abs().LessThan(d(1e-9)) {
		t.Errorf("expected share %s, got %s", want, btc.PortfolioPercentage)
	}

	xyz, _ := ms.GetHolding(ctx, "u1", "XYZ")
	if !xyz.PortfolioPercentage.IsZero() {
		t.Errorf("unpriced holding takes no share, got %s", xyz.PortfolioPercentage)
	}
}

// --- Classification table ---

func TestClassify(t *testing.T) {
	cases := []struct {
		asset string
		total float64
		want  string
	}{
		{"BTC", 1, "major"},
		{"SOL", 0, "major"},
		{"USDT", 10, "stable"},
		{"PEPE", 5, "altcoin"},
		{"PEPE", 0, "other"},
	}
	for _, c := range cases {
		if got := ledger.Classify(c.asset, d(c.total)); got != c.want {
			t.Errorf("Classify(%s, %v) = %s, want %s", c.asset, c.total, got, c.want)
		}
	}
}
