// Package oracle supplies current USD prices for asset symbols.
//
// A provider may return a strict subset of the requested symbols on partial
// failure; a single missing quote is never an error. Pair resolution uses an
// explicit, configurable asset→quote-pair table rather than trial-and-error
// string concatenation.
package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when the price source itself is
// unreachable (not when individual quotes are missing).
var ErrPriceUnavailable = errors.New("oracle: price source unavailable")

// Oracle supplies current USD prices for asset symbols. Missing quotes are
// simply absent from the returned map.
type Oracle interface {
	GetCurrentPrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error)
}

// Static is a fixed-price oracle for tests and development.
type Static struct {
	Quotes map[string]decimal.Decimal
}

// NewStatic creates a static oracle over the given quote map.
func NewStatic(quotes map[string]decimal.Decimal) *Static {
	return &Static{Quotes: quotes}
}

func (s *Static) GetCurrentPrices(_ context.Context, assets []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(assets))
	for _, asset := range assets {
		if p, ok := s.Quotes[asset]; ok {
			prices[asset] = p
		}
	}
	return prices, nil
}
