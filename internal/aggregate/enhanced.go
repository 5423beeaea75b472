package aggregate

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/model"
)

// CategoryGroup is one asset category with its holdings and totals.
type CategoryGroup struct {
	Category      string          `json:"category"`
	Holdings      []model.Holding `json:"holdings"`
	TotalValueUSD decimal.Decimal `json:"total_value_usd"`
	TotalCostUSD  decimal.Decimal `json:"total_cost_usd"`
	Percentage    decimal.Decimal `json:"percentage"`
	AssetCount    int             `json:"asset_count"`
}

// EnhancedPortfolio is the category-grouped portfolio view.
type EnhancedPortfolio struct {
	Categories    []CategoryGroup `json:"categories"`
	TotalValueUSD decimal.Decimal `json:"total_value_usd"`
	TotalCostUSD  decimal.Decimal `json:"total_cost_usd"`
	AssetCount    int             `json:"asset_count"`
}

// categoryOrder fixes display order; anything unknown sorts last.
var categoryOrder = map[string]int{
	model.CategoryMajor:   0,
	model.CategoryStable:  1,
	model.CategoryAltcoin: 2,
	model.CategoryOther:   3,
}

// Enhanced groups a user's holdings by asset category. Unpriced holdings
// appear in their group but contribute nothing to value totals.
func (a *Aggregator) Enhanced(ctx context.Context, userID string) (*EnhancedPortfolio, error) {
	holdings, err := a.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*CategoryGroup)
	out := &EnhancedPortfolio{Categories: []CategoryGroup{}, AssetCount: len(holdings)}

	for _, h := range holdings {
		g, ok := groups[h.Category]
		if !ok {
			g = &CategoryGroup{Category: h.Category, Holdings: []model.Holding{}}
			groups[h.Category] = g
		}
		g.Holdings = append(g.Holdings, h)
		g.AssetCount++
		g.TotalCostUSD = g.TotalCostUSD.Add(h.TotalCostUSD)
		out.TotalCostUSD = out.TotalCostUSD.Add(h.TotalCostUSD)
		if h.CurrentValueUSD != nil {
			g.TotalValueUSD = g.TotalValueUSD.Add(*h.CurrentValueUSD)
			out.TotalValueUSD = out.TotalValueUSD.Add(*h.CurrentValueUSD)
		}
	}

	for _, g := range groups {
		if out.TotalValueUSD.IsPositive() {
			g.Percentage = g.TotalValueUSD.Div(out.TotalValueUSD).Mul(decimal.NewFromInt(100))
		}
		sort.Slice(g.Holdings, func(i, j int) bool {
			return valueOrZero(g.Holdings[i].CurrentValueUSD).GreaterThan(valueOrZero(g.Holdings[j].CurrentValueUSD))
		})
		out.Categories = append(out.Categories, *g)
	}
	sort.Slice(out.Categories, func(i, j int) bool {
		oi, oki := categoryOrder[out.Categories[i].Category]
		oj, okj := categoryOrder[out.Categories[j].Category]
		if !oki {
			oi = len(categoryOrder)
		}
		if !okj {
			oj = len(categoryOrder)
		}
		return oi < oj
	})

	return out, nil
}
