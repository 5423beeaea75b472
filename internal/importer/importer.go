// Package importer normalizes exchange trade history into the trade ledger.
// Importing is idempotent: trades are deduplicated on (user, exchange trade
// ID), and realized P&L is recomputed by replaying the full history through
// the FIFO matcher, so re-importing the same window changes nothing.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/exchange"
	"github.com/coinledger/portfolio-engine/internal/ledger"
	"github.com/coinledger/portfolio-engine/internal/lots"
	"github.com/coinledger/portfolio-engine/internal/metrics"
	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/oracle"
	"github.com/coinledger/portfolio-engine/internal/store"
)

// fetchLimit is the per-symbol page size when pulling history from the
// exchange.
const fetchLimit = 1000

// ImportResult reports what one import batch did.
type ImportResult struct {
	Created         int `json:"created"`
	Updated         int `json:"updated"`
	Skipped         int `json:"skipped"`
	RealizedUpdated int `json:"realized_updated"`
}

// Importer turns raw exchange fills into trade records and keeps realized
// P&L consistent across re-imports.
type Importer struct {
	store  store.Store
	ledger *ledger.Ledger
	source exchange.TradeSource
	pairs  oracle.PairTable
	logger *slog.Logger
}

// New wires an importer. source may be nil when only ImportBatch is used.
func New(st store.Store, lg *ledger.Ledger, source exchange.TradeSource, pairs oracle.PairTable, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: st, ledger: lg, source: source, pairs: pairs, logger: logger}
}

// FetchAndImport pulls trade history for the given symbols from the exchange
// and imports it. The window is inclusive; a zero end means now.
func (im *Importer) FetchAndImport(ctx context.Context, userID string, symbols []string, start, end time.Time) (*ImportResult, error) {
	if im.source == nil {
		return nil, fmt.Errorf("importer: no trade source configured")
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}

	var raws []model.RawTrade
	for _, symbol := range symbols {
		batch, err := im.source.GetTrades(ctx, symbol, start.UnixMilli(), end.UnixMilli(), fetchLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch trades for %s: %w", symbol, err)
		}
		raws = append(raws, batch...)
	}
	return im.ImportBatch(ctx, userID, raws)
}

// ImportBatch imports a batch of raw fills for one user. New fills are
// persisted and applied to holdings; fills already on record are skipped, or
// field-corrected when the exchange reports different values for the same
// trade ID. Realized P&L for every sell is then recomputed from the full
// history.
func (im *Importer) ImportBatch(ctx context.Context, userID string, raws []model.RawTrade) (*ImportResult, error) {
	// Oldest first so FIFO state is built in execution order.
	sort.Slice(raws, func(i, j int) bool {
		if raws[i].Time != raws[j].Time {
			return raws[i].Time < raws[j].Time
		}
		return raws[i].TradeID < raws[j].TradeID
	})

	res := &ImportResult{}
	var createdIDs []string

	for _, raw := range raws {
		existing, err := im.store.GetTradeByExchangeID(ctx, userID, raw.TradeID)
		switch {
		case err == nil:
			if updateFromRaw(existing, raw) {
				existing.UpdatedAt = time.Now().UTC()
				if err := im.store.UpdateTrade(ctx, existing); err != nil {
					return res, fmt.Errorf("update trade %s: %w", raw.TradeID, err)
				}
				res.Updated++
			} else {
				res.Skipped++
			}

		case err == store.ErrNotFound:
			t := newTrade(userID, raw)
			if err := im.store.InsertTrade(ctx, t); err != nil {
				return res, fmt.Errorf("insert trade %s: %w", raw.TradeID, err)
			}
			createdIDs = append(createdIDs, t.ExchangeTradeID)
			res.Created++

		default:
			return res, fmt.Errorf("lookup trade %s: %w", raw.TradeID, err)
		}
	}

	realized, err := im.RecomputeRealized(ctx, userID)
	if err != nil {
		return res, err
	}
	res.RealizedUpdated = realized

	// Apply only the newly created trades to holdings; existing ones were
	// applied when they first arrived.
	for _, tradeID := range createdIDs {
		t, err := im.store.GetTradeByExchangeID(ctx, userID, tradeID)
		if err != nil {
			return res, fmt.Errorf("reload trade %s: %w", tradeID, err)
		}
		asset := im.pairs.BaseAsset(t.Symbol)
		if _, err := im.ledger.ApplyTrade(ctx, asset, t); err != nil {
			return res, fmt.Errorf("apply trade %s: %w", tradeID, err)
		}
	}

	metrics.TradesImported.WithLabelValues("created").Add(float64(res.Created))
	metrics.TradesImported.WithLabelValues("updated").Add(float64(res.Updated))
	metrics.TradesImported.WithLabelValues("skipped").Add(float64(res.Skipped))

	im.logger.Info("trade import complete",
		"user_id", userID,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"realized_updated", res.RealizedUpdated)
	return res, nil
}

// RecomputeRealized replays the user's full trade history through a fresh
// FIFO matcher and rewrites realized P&L on any sell whose stored value
// disagrees with the replay. Returns the number of trades corrected.
func (im *Importer) RecomputeRealized(ctx context.Context, userID string) (int, error) {
	trades, err := im.store.ListTrades(ctx, userID, store.TradeFilter{})
	if err != nil {
		return 0, fmt.Errorf("list trades: %w", err)
	}

	matcher := lots.NewMatcher()
	updated := 0
	for i := range trades {
		t := &trades[i]
		switch t.Side {
		case model.SideBuy:
			matcher.OnBuy(t.Symbol, t.Quantity, t.Price, t.ExecutedAt)

		case model.SideSell:
			sell := matcher.OnSell(t.Symbol, t.Quantity, t.Price)
			pnl := sell.RealizedPnL
			pct := sell.RealizedPercentage()
			if realizedEqual(t.RealizedPnLUSD, pnl) && realizedEqual(t.RealizedPnLPercentage, pct) {
				continue
			}
			t.RealizedPnLUSD = &pnl
			t.RealizedPnLPercentage = &pct
			t.UpdatedAt = time.Now().UTC()
			if err := im.store.UpdateTrade(ctx, t); err != nil {
				return updated, fmt.Errorf("update realized pnl for %s: %w", t.ExchangeTradeID, err)
			}
			updated++
		}
	}
	return updated, nil
}

func newTrade(userID string, raw model.RawTrade) *model.Trade {
	now := time.Now().UTC()
	return &model.Trade{
		ID:              uuid.New().String(),
		UserID:          userID,
		ExchangeOrderID: raw.OrderID,
		ExchangeTradeID: raw.TradeID,
		Symbol:          raw.Symbol,
		Side:            raw.Side(),
		Quantity:        raw.Quantity,
		Price:           raw.Price,
		QuoteQuantity:   raw.QuoteQuantity,
		Commission:      raw.Commission,
		CommissionAsset: raw.CommissionAsset,
		ExecutedAt:      raw.ExecutedAt(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// updateFromRaw copies corrected exchange fields onto an existing trade,
// reporting whether anything actually changed.
func updateFromRaw(t *model.Trade, raw model.RawTrade) bool {
	changed := false
	if !t.Quantity.Equal(raw.Quantity) {
		t.Quantity = raw.Quantity
		changed = true
	}
	if !t.Price.Equal(raw.Price) {
		t.Price = raw.Price
		changed = true
	}
	if !t.QuoteQuantity.Equal(raw.QuoteQuantity) {
		t.QuoteQuantity = raw.QuoteQuantity
		changed = true
	}
	if !t.Commission.Equal(raw.Commission) {
		t.Commission = raw.Commission
		changed = true
	}
	if t.CommissionAsset != raw.CommissionAsset {
		t.CommissionAsset = raw.CommissionAsset
		changed = true
	}
	return changed
}

func realizedEqual(stored *decimal.Decimal, computed decimal.Decimal) bool {
	return stored != nil && stored.Equal(computed)
}
