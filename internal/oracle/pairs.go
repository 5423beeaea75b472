package oracle

import (
	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/ledger"
)

// PairTable maps assets to exchange trading pairs. Quote suffixes are tried
// in order; the first pair with a live ticker wins. Stablecoins never hit
// the exchange; they are pinned to exactly 1 USD.
type PairTable struct {
	// QuoteAssets is the ordered list of quote suffixes to try.
	QuoteAssets []string

	// Overrides maps an asset directly to a trading pair, bypassing the
	// suffix list (e.g. assets only listed against BTC).
	Overrides map[string]string
}

// DefaultPairTable returns the standard USD-first resolution order.
func DefaultPairTable() PairTable {
	return PairTable{
		QuoteAssets: []string{"USDT", "USDC", "BTC", "ETH"},
	}
}

// Candidates returns the trading pairs to try for an asset, in order.
func (t PairTable) Candidates(asset string) []string {
	if pair, ok := t.Overrides[asset]; ok {
		return []string{pair}
	}
	pairs := make([]string, 0, len(t.QuoteAssets))
	for _, quote := range t.QuoteAssets {
		if quote == asset {
			continue
		}
		pairs = append(pairs, asset+quote)
	}
	return pairs
}

// BaseAsset strips a known quote suffix from a trading pair, returning the
// pair unchanged when no suffix matches.
func (t PairTable) BaseAsset(pair string) string {
	for _, quote := range t.QuoteAssets {
		if len(pair) > len(quote) && pair[len(pair)-len(quote):] == quote {
			return pair[:len(pair)-len(quote)]
		}
	}
	return pair
}

// Resolve maps assets to USD prices given a pair→price ticker map. Cross
// quotes (BTC, ETH) are converted through their own USD price when known.
func (t PairTable) Resolve(assets []string, tickers map[string]decimal.Decimal) map[string]decimal.Decimal {
	one := decimal.NewFromInt(1)
	prices := make(map[string]decimal.Decimal, len(assets))

	for _, asset := range assets {
		if ledger.IsStablecoin(asset) {
			prices[asset] = one
			continue
		}
		for _, pair := range t.Candidates(asset) {
			price, ok := tickers[pair]
			if !ok {
				continue
			}
			// Non-USD quote: convert through the quote's own USD price.
			if quote := pair[len(asset):]; !ledger.IsStablecoin(quote) {
				quoteUSD, ok := tickers[quote+"USDT"]
				if !ok {
					continue
				}
				price = price.Mul(quoteUSD)
			}
			prices[asset] = price
			break
		}
	}
	return prices
}
