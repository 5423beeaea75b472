package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/coinledger/portfolio-engine/internal/oracle"
)

// PriceFeed polls the oracle for a fixed set of assets and broadcasts each
// resolved price to the WebSocket hub.
type PriceFeed struct {
	oracle   oracle.Oracle
	hub      *WSHub
	assets   []string
	interval time.Duration
	logger   *slog.Logger
}

// NewPriceFeed wires a feed. A zero interval defaults to 30s.
func NewPriceFeed(or oracle.Oracle, hub *WSHub, assets []string, interval time.Duration, logger *slog.Logger) *PriceFeed {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceFeed{oracle: or, hub: hub, assets: assets, interval: interval, logger: logger}
}

// Run polls until the context is canceled. Oracle failures are logged and
// skipped; the next tick retries.
func (f *PriceFeed) Run(ctx context.Context) {
	if len(f.assets) == 0 {
		return
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

func (f *PriceFeed) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, f.interval)
	defer cancel()

	prices, err := f.oracle.GetCurrentPrices(ctx, f.assets)
	if err != nil {
		f.logger.Warn("price feed tick failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, asset := range f.assets {
		price, ok := prices[asset]
		if !ok {
			continue
		}
		f.hub.Broadcast(PriceUpdate{
			Type:     "price_update",
			Symbol:   asset,
			PriceUSD: price.String(),
			At:       now,
		})
	}
}
