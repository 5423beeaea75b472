// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/coinledger/portfolio-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// TradeFilter narrows trade listings. Zero values mean "no constraint".
type TradeFilter struct {
	Symbol string
	Since  time.Time
	Until  time.Time
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Holdings ---

	// UpsertHolding atomically creates or replaces the holding keyed by
	// (UserID, AssetSymbol).
	UpsertHolding(ctx context.Context, h *model.Holding) error

	// GetHolding retrieves one holding, ErrNotFound if absent.
	GetHolding(ctx context.Context, userID, assetSymbol string) (*model.Holding, error)

	// ListHoldings returns all holdings for a user.
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// --- Trades ---

	// InsertTrade appends a trade record. The (UserID, ExchangeTradeID)
	// pair must be unique.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// UpdateTrade rewrites the mutable fields of an existing trade
	// (quantity, price, quote quantity, commission, realized P&L).
	UpdateTrade(ctx context.Context, t *model.Trade) error

	// GetTradeByExchangeID looks up a trade by its dedup key.
	GetTradeByExchangeID(ctx context.Context, userID, exchangeTradeID string) (*model.Trade, error)

	// ListTrades returns a user's trades matching the filter, ordered by
	// execution time ascending.
	ListTrades(ctx context.Context, userID string, f TradeFilter) ([]model.Trade, error)

	// --- Snapshots ---

	// InsertSnapshot persists a daily roll-up. At most one snapshot may
	// exist per (UserID, SnapshotDate).
	InsertSnapshot(ctx context.Context, s *model.PortfolioSnapshot) error

	// GetSnapshot retrieves the snapshot for a date, ErrNotFound if absent.
	GetSnapshot(ctx context.Context, userID string, date time.Time) (*model.PortfolioSnapshot, error)

	// --- Sync state ---

	// SetSyncState records the outcome of a reconciliation attempt.
	SetSyncState(ctx context.Context, s *model.SyncState) error

	// GetSyncState returns the last recorded attempt, ErrNotFound if the
	// user has never synced.
	GetSyncState(ctx context.Context, userID string) (*model.SyncState, error)
}
