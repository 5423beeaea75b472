package oracle_test

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/oracle"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCandidatesFollowQuoteOrder(t *testing.T) {
	pairs := oracle.DefaultPairTable()

	got := pairs.Candidates("SOL")
	want := []string{"SOLUSDT", "SOLUSDC", "SOLBTC", "SOLETH"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates(SOL) = %v, want %v", got, want)
	}

	// An asset never pairs against itself.
	got = pairs.Candidates("BTC")
	want = []string{"BTCUSDT", "BTCUSDC", "BTCETH"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates(BTC) = %v, want %v", got, want)
	}
}

func TestCandidatesOverrideBypassesSuffixes(t *testing.T) {
	pairs := oracle.DefaultPairTable()
	pairs.Overrides = map[string]string{"RUNE": "RUNEBNB"}

	got := pairs.Candidates("RUNE")
	if !reflect.DeepEqual(got, []string{"RUNEBNB"}) {
		t.Errorf("Candidates(RUNE) = %v, want the override only", got)
	}
}

func TestBaseAssetStripsKnownQuote(t *testing.T) {
	pairs := oracle.DefaultPairTable()

	cases := map[string]string{
		"BTCUSDT": "BTC",
		"SOLETH":  "SOL",
		"ETHUSDC": "ETH",
		"BTC":     "BTC", // no suffix to strip
	}
	for pair, want := range cases {
		if got := pairs.BaseAsset(pair); got != want {
			t.Errorf("BaseAsset(%s) = %s, want %s", pair, got, want)
		}
	}
}

func TestResolveStablecoinsPinToOne(t *testing.T) {
	pairs := oracle.DefaultPairTable()

	// No tickers at all: stables still price, nothing else does.
	prices := pairs.Resolve([]string{"USDT", "USDC", "DAI", "BTC"}, nil)
	one := decimal.NewFromInt(1)
	for _, stable := range []string{"USDT", "USDC", "DAI"} {
		if p, ok := prices[stable]; !ok || !p.Equal(one) {
			t.Errorf("%s = %v, want exactly 1", stable, p)
		}
	}
	if _, ok := prices["BTC"]; ok {
		t.Error("BTC resolved with no ticker available")
	}
}

func TestResolveQuoteOrderPrecedence(t *testing.T) {
	pairs := oracle.DefaultPairTable()

	// Both USDT and USDC pairs exist; USDT is tried first and must win.
	tickers := map[string]decimal.Decimal{
		"SOLUSDT": d(100),
		"SOLUSDC": d(99),
	}
	prices := pairs.Resolve([]string{"SOL"}, tickers)
	if !prices["SOL"].Equal(d(100)) {
		t.Errorf("SOL = %s, want 100 from the USDT pair", prices["SOL"])
	}
}

func TestResolveCrossQuoteConvertsThroughUSDT(t *testing.T) {
	pairs := oracle.DefaultPairTable()

	// Only a BTC pair is listed; the price hops through BTCUSDT.
	tickers := map[string]decimal.Decimal{
		"XYZBTC":  d(0.001),
		"BTCUSDT": d(40000),
	}
	prices := pairs.Resolve([]string{"XYZ"}, tickers)
	if !prices["XYZ"].Equal(d(40)) {
		t.Errorf("XYZ = %s, want 40 (0.001 * 40000)", prices["XYZ"])
	}
}

func TestResolveSkipsCrossQuoteWithoutUSDPrice(t *testing.T) {
	pairs := oracle.DefaultPairTable()

	// The BTC pair exists but BTCUSDT does not, so the BTC hop is
	// unusable; the later ETH pair resolves instead.
	tickers := map[string]decimal.Decimal{
		"XYZBTC":  d(0.001),
		"XYZETH":  d(0.02),
		"ETHUSDT": d(2000),
	}
	prices := pairs.Resolve([]string{"XYZ"}, tickers)
	if !prices["XYZ"].Equal(d(40)) {
		t.Errorf("XYZ = %s, want 40 via the ETH pair (0.02 * 2000)", prices["XYZ"])
	}

	// No convertible pair at all: the asset stays unresolved.
	prices = pairs.Resolve([]string{"XYZ"}, map[string]decimal.Decimal{"XYZBTC": d(0.001)})
	if _, ok := prices["XYZ"]; ok {
		t.Error("XYZ resolved through a quote with no USD price")
	}
}

func TestResolveOverridePair(t *testing.T) {
	pairs := oracle.DefaultPairTable()
	pairs.Overrides = map[string]string{"RUNE": "RUNEBNB"}

	tickers := map[string]decimal.Decimal{
		"RUNEBNB":  d(0.01),
		"BNBUSDT":  d(600),
		"RUNEUSDT": d(999), // must be ignored: the override wins
	}
	prices := pairs.Resolve([]string{"RUNE"}, tickers)
	if !prices["RUNE"].Equal(d(6)) {
		t.Errorf("RUNE = %s, want 6 via the override (0.01 * 600)", prices["RUNE"])
	}
}
