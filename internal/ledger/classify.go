package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/model"
)

// Fixed classification tables. Unknown assets default to "other".
var (
	majorCoins = map[string]bool{
		"BTC": true, "ETH": true, "BNB": true, "ADA": true, "DOT": true,
		"SOL": true, "MATIC": true, "AVAX": true, "LINK": true,
	}

	stablecoins = map[string]bool{
		"USDT": true, "USDC": true, "BUSD": true, "DAI": true,
		"TUSD": true, "USDP": true, "FDUSD": true,
	}
)

// Classify assigns an asset category: majors and stables by table lookup,
// anything else held in non-zero quantity is an altcoin, the rest "other".
func Classify(asset string, total decimal.Decimal) string {
	switch {
	case majorCoins[asset]:
		return model.CategoryMajor
	case stablecoins[asset]:
		return model.CategoryStable
	case total.IsPositive():
		return model.CategoryAltcoin
	default:
		return model.CategoryOther
	}
}

// IsStablecoin reports whether the asset is pinned to 1 USD.
func IsStablecoin(asset string) bool { return stablecoins[asset] }
