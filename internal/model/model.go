// Package model defines the core domain types shared across the portfolio engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade side values.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Asset categories assigned during reconciliation.
const (
	CategoryMajor   = "major"
	CategoryStable  = "stable"
	CategoryAltcoin = "altcoin"
	CategoryOther   = "other"
)

// Sync status values recorded per user.
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// Holding is the per-(user, asset) position. Quantity fields are written by
// trade application and by sync reconciliation; the cost-basis fields
// (AverageCostUSD, TotalCostUSD) are trade-driven only and never touched by
// reconciliation. Valuation fields are nil when no price is known — a nil
// value is excluded from portfolio totals, it is not zero.
type Holding struct {
	UserID            string          `json:"user_id" db:"user_id"`
	AssetSymbol       string          `json:"asset_symbol" db:"asset_symbol"`
	TotalQuantity     decimal.Decimal `json:"total_quantity" db:"total_quantity"`
	AvailableQuantity decimal.Decimal `json:"available_quantity" db:"available_quantity"`
	LockedQuantity    decimal.Decimal `json:"locked_quantity" db:"locked_quantity"`

	AverageCostUSD decimal.Decimal `json:"average_cost_usd" db:"average_cost_usd"`
	TotalCostUSD   decimal.Decimal `json:"total_cost_usd" db:"total_cost_usd"`

	CurrentPriceUSD *decimal.Decimal `json:"current_price_usd" db:"current_price_usd"`
	CurrentValueUSD *decimal.Decimal `json:"current_value_usd" db:"current_value_usd"`

	UnrealizedPnLUSD        *decimal.Decimal `json:"unrealized_pnl_usd" db:"unrealized_pnl_usd"`
	UnrealizedPnLPercentage decimal.Decimal  `json:"unrealized_pnl_percentage" db:"unrealized_pnl_percentage"`
	RealizedPnLUSD          decimal.Decimal  `json:"realized_pnl_usd" db:"realized_pnl_usd"`

	PortfolioPercentage decimal.Decimal `json:"portfolio_percentage" db:"portfolio_percentage"`
	Category            string          `json:"category" db:"category"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// Trade is an immutable record of one exchange execution. Once persisted it
// is only touched by dedup-driven field correction on re-import.
// Identity: (UserID, ExchangeTradeID).
type Trade struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	ExchangeOrderID string          `json:"exchange_order_id" db:"exchange_order_id"`
	ExchangeTradeID string          `json:"exchange_trade_id" db:"exchange_trade_id"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Side            string          `json:"side" db:"side"` // "BUY" or "SELL"
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`
	Price           decimal.Decimal `json:"price" db:"price"`
	QuoteQuantity   decimal.Decimal `json:"quote_quantity" db:"quote_quantity"`
	Commission      decimal.Decimal `json:"commission" db:"commission"`
	CommissionAsset string          `json:"commission_asset" db:"commission_asset"`
	ExecutedAt      time.Time       `json:"executed_at" db:"executed_at"`

	// Populated by the FIFO lot matcher when the trade is processed;
	// nil for BUY trades and for sells not yet matched.
	RealizedPnLUSD        *decimal.Decimal `json:"realized_pnl_usd" db:"realized_pnl_usd"`
	RealizedPnLPercentage *decimal.Decimal `json:"realized_pnl_percentage" db:"realized_pnl_percentage"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RawTrade is one record from the exchange trade-history feed, prior to
// normalization by the importer.
type RawTrade struct {
	OrderID         string          `json:"order_id"`
	TradeID         string          `json:"trade_id"`
	Symbol          string          `json:"symbol"`
	Quantity        decimal.Decimal `json:"qty"`
	Price           decimal.Decimal `json:"price"`
	QuoteQuantity   decimal.Decimal `json:"quoteQty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	IsBuyer         bool            `json:"isBuyer"`
	Time            int64           `json:"time"` // epoch milliseconds
}

// Side maps the exchange buyer flag to a trade side.
func (r RawTrade) Side() string {
	if r.IsBuyer {
		return SideBuy
	}
	return SideSell
}

// ExecutedAt converts the epoch-millisecond timestamp to UTC time.
func (r RawTrade) ExecutedAt() time.Time {
	return time.UnixMilli(r.Time).UTC()
}

// BalanceEntry is one asset balance from the exchange account snapshot.
// Total == Free + Locked is a provider precondition the ledger trusts.
type BalanceEntry struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
	Total  decimal.Decimal `json:"total"`
}

// PortfolioSnapshot is a daily roll-up, immutable once created for its date.
type PortfolioSnapshot struct {
	ID                 string          `json:"id" db:"id"`
	UserID             string          `json:"user_id" db:"user_id"`
	SnapshotDate       time.Time       `json:"snapshot_date" db:"snapshot_date"` // UTC midnight
	TotalValueUSD      decimal.Decimal `json:"total_value_usd" db:"total_value_usd"`
	TotalCostUSD       decimal.Decimal `json:"total_cost_usd" db:"total_cost_usd"`
	TotalPnLUSD        decimal.Decimal `json:"total_pnl_usd" db:"total_pnl_usd"`
	TotalPnLPercentage decimal.Decimal `json:"total_pnl_percentage" db:"total_pnl_percentage"`
	TopHoldings        []TopHolding    `json:"top_holdings" db:"top_holdings"`
	AssetCount         int             `json:"asset_count" db:"asset_count"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// TopHolding is one ranked entry in a snapshot.
type TopHolding struct {
	AssetSymbol string          `json:"asset_symbol"`
	ValueUSD    decimal.Decimal `json:"value_usd"`
	Percentage  decimal.Decimal `json:"percentage"`
}

// SyncState is the per-user record of the last reconciliation attempt.
type SyncState struct {
	UserID       string     `json:"user_id" db:"user_id"`
	LastSyncAt   *time.Time `json:"last_sync_at" db:"last_sync_at"`
	LastStatus   string     `json:"last_sync_status" db:"last_sync_status"`
	ErrorMessage string     `json:"sync_error_message,omitempty" db:"sync_error_message"`
}
