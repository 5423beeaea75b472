package oracle

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/exchange"
)

// BinanceOracle resolves USD prices from Binance spot tickers through a
// PairTable. One ticker call prices the whole portfolio.
type BinanceOracle struct {
	client *exchange.Client
	pairs  PairTable
}

// NewBinanceOracle creates an oracle over a shared rate-limited client.
func NewBinanceOracle(client *exchange.Client, pairs PairTable) *BinanceOracle {
	return &BinanceOracle{client: client, pairs: pairs}
}

func (o *BinanceOracle) GetCurrentPrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	var tickers []*binance.SymbolPrice
	err := o.client.Call(ctx, func(ctx context.Context, c *binance.Client) error {
		var err error
		tickers, err = c.NewListPricesService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	tickerMap := make(map[string]decimal.Decimal, len(tickers))
	for _, tk := range tickers {
		price, err := decimal.NewFromString(tk.Price)
		if err != nil {
			continue // skip malformed quotes rather than failing the batch
		}
		tickerMap[tk.Symbol] = price
	}

	return o.pairs.Resolve(assets, tickerMap), nil
}
