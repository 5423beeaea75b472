package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const holdingColumns = `user_id, asset_symbol,
	total_quantity::TEXT, available_quantity::TEXT, locked_quantity::TEXT,
	average_cost_usd::TEXT, total_cost_usd::TEXT,
	current_price_usd::TEXT, current_value_usd::TEXT,
	unrealized_pnl_usd::TEXT, unrealized_pnl_percentage::TEXT,
	realized_pnl_usd::TEXT, portfolio_percentage::TEXT,
	category, updated_at`

func (s *PostgresStore) UpsertHolding(ctx context.Context, h *model.Holding) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holdings (user_id, asset_symbol,
			total_quantity, available_quantity, locked_quantity,
			average_cost_usd, total_cost_usd,
			current_price_usd, current_value_usd,
			unrealized_pnl_usd, unrealized_pnl_percentage,
			realized_pnl_usd, portfolio_percentage,
			category, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC,
			$6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
			$10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14, $15)
		 ON CONFLICT (user_id, asset_symbol) DO UPDATE SET
			total_quantity = EXCLUDED.total_quantity,
			available_quantity = EXCLUDED.available_quantity,
			locked_quantity = EXCLUDED.locked_quantity,
			average_cost_usd = EXCLUDED.average_cost_usd,
			total_cost_usd = EXCLUDED.total_cost_usd,
			current_price_usd = EXCLUDED.current_price_usd,
			current_value_usd = EXCLUDED.current_value_usd,
			unrealized_pnl_usd = EXCLUDED.unrealized_pnl_usd,
			unrealized_pnl_percentage = EXCLUDED.unrealized_pnl_percentage,
			realized_pnl_usd = EXCLUDED.realized_pnl_usd,
			portfolio_percentage = EXCLUDED.portfolio_percentage,
			category = EXCLUDED.category,
			updated_at = EXCLUDED.updated_at`,
		h.UserID, h.AssetSymbol,
		h.TotalQuantity.String(), h.AvailableQuantity.String(), h.LockedQuantity.String(),
		h.AverageCostUSD.String(), h.TotalCostUSD.String(),
		decPtrArg(h.CurrentPriceUSD), decPtrArg(h.CurrentValueUSD),
		decPtrArg(h.UnrealizedPnLUSD), h.UnrealizedPnLPercentage.String(),
		h.RealizedPnLUSD.String(), h.PortfolioPercentage.String(),
		h.Category, h.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetHolding(ctx context.Context, userID, asset string) (*model.Holding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 AND asset_symbol = $2`,
		userID, asset)

	h, err := scanHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", userID, asset, err)
	}
	return h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 ORDER BY asset_symbol`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, *h)
	}
	return holdings, rows.Err()
}

const tradeColumns = `id, user_id, exchange_order_id, exchange_trade_id, symbol, side,
	quantity::TEXT, price::TEXT, quote_quantity::TEXT, commission::TEXT, commission_asset,
	executed_at, realized_pnl_usd::TEXT, realized_pnl_percentage::TEXT, created_at, updated_at`

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, exchange_order_id, exchange_trade_id, symbol, side,
			quantity, price, quote_quantity, commission, commission_asset,
			executed_at, realized_pnl_usd, realized_pnl_percentage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
			$7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11,
			$12, $13::NUMERIC, $14::NUMERIC, $15, $16)`,
		t.ID, t.UserID, t.ExchangeOrderID, t.ExchangeTradeID, t.Symbol, t.Side,
		t.Quantity.String(), t.Price.String(), t.QuoteQuantity.String(),
		t.Commission.String(), t.CommissionAsset,
		t.ExecutedAt, decPtrArg(t.RealizedPnLUSD), decPtrArg(t.RealizedPnLPercentage),
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateTrade(ctx context.Context, t *model.Trade) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET
			quantity = $3::NUMERIC, price = $4::NUMERIC,
			quote_quantity = $5::NUMERIC, commission = $6::NUMERIC,
			commission_asset = $7,
			realized_pnl_usd = $8::NUMERIC, realized_pnl_percentage = $9::NUMERIC,
			updated_at = $10
		 WHERE user_id = $1 AND exchange_trade_id = $2`,
		t.UserID, t.ExchangeTradeID,
		t.Quantity.String(), t.Price.String(), t.QuoteQuantity.String(),
		t.Commission.String(), t.CommissionAsset,
		decPtrArg(t.RealizedPnLUSD), decPtrArg(t.RealizedPnLPercentage),
		t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetTradeByExchangeID(ctx context.Context, userID, exchangeTradeID string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = $1 AND exchange_trade_id = $2`,
		userID, exchangeTradeID)

	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s/%s: %w", userID, exchangeTradeID, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID string, f TradeFilter) ([]model.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = $1`
	args := []any{userID}

	if f.Symbol != "" {
		args = append(args, f.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND executed_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(" AND executed_at <= $%d", len(args))
	}
	query += " ORDER BY executed_at, exchange_trade_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error {
	top, err := json.Marshal(snap.TopHoldings)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots (id, user_id, snapshot_date,
			total_value_usd, total_cost_usd, total_pnl_usd, total_pnl_percentage,
			top_holdings, asset_count, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		snap.ID, snap.UserID, snap.SnapshotDate,
		snap.TotalValueUSD.String(), snap.TotalCostUSD.String(),
		snap.TotalPnLUSD.String(), snap.TotalPnLPercentage.String(),
		top, snap.AssetCount, snap.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, userID string, date time.Time) (*model.PortfolioSnapshot, error) {
	var snap model.PortfolioSnapshot
	var totalValue, totalCost, totalPnL, totalPnLPct string
	var top []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, snapshot_date,
			total_value_usd::TEXT, total_cost_usd::TEXT,
			total_pnl_usd::TEXT, total_pnl_percentage::TEXT,
			top_holdings, asset_count, created_at
		 FROM portfolio_snapshots
		 WHERE user_id = $1 AND snapshot_date = $2`,
		userID, date).
		Scan(&snap.ID, &snap.UserID, &snap.SnapshotDate,
			&totalValue, &totalCost, &totalPnL, &totalPnLPct,
			&top, &snap.AssetCount, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snap.TotalValueUSD, _ = decimal.NewFromString(totalValue)
	snap.TotalCostUSD, _ = decimal.NewFromString(totalCost)
	snap.TotalPnLUSD, _ = decimal.NewFromString(totalPnL)
	snap.TotalPnLPercentage, _ = decimal.NewFromString(totalPnLPct)
	if err := json.Unmarshal(top, &snap.TopHoldings); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) SetSyncState(ctx context.Context, st *model.SyncState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_state (user_id, last_sync_at, last_sync_status, sync_error_message)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			last_sync_status = EXCLUDED.last_sync_status,
			sync_error_message = EXCLUDED.sync_error_message`,
		st.UserID, st.LastSyncAt, st.LastStatus, st.ErrorMessage,
	)
	return err
}

func (s *PostgresStore) GetSyncState(ctx context.Context, userID string) (*model.SyncState, error) {
	var st model.SyncState
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, last_sync_at, last_sync_status, sync_error_message
		 FROM sync_state WHERE user_id = $1`, userID).
		Scan(&st.UserID, &st.LastSyncAt, &st.LastStatus, &st.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Scan helpers ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanHolding(row pgxRow) (*model.Holding, error) {
	var h model.Holding
	var totalQty, availQty, lockedQty, avgCost, totalCost string
	var price, value, unrealized *string
	var unrealizedPct, realized, portfolioPct string

	err := row.Scan(&h.UserID, &h.AssetSymbol,
		&totalQty, &availQty, &lockedQty,
		&avgCost, &totalCost,
		&price, &value, &unrealized, &unrealizedPct,
		&realized, &portfolioPct,
		&h.Category, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}

	h.TotalQuantity, _ = decimal.NewFromString(totalQty)
	h.AvailableQuantity, _ = decimal.NewFromString(availQty)
	h.LockedQuantity, _ = decimal.NewFromString(lockedQty)
	h.AverageCostUSD, _ = decimal.NewFromString(avgCost)
	h.TotalCostUSD, _ = decimal.NewFromString(totalCost)
	h.CurrentPriceUSD = decPtrFromString(price)
	h.CurrentValueUSD = decPtrFromString(value)
	h.UnrealizedPnLUSD = decPtrFromString(unrealized)
	h.UnrealizedPnLPercentage, _ = decimal.NewFromString(unrealizedPct)
	h.RealizedPnLUSD, _ = decimal.NewFromString(realized)
	h.PortfolioPercentage, _ = decimal.NewFromString(portfolioPct)
	return &h, nil
}

func scanTrade(row pgxRow) (*model.Trade, error) {
	var t model.Trade
	var qty, price, quoteQty, commission string
	var realized, realizedPct *string

	err := row.Scan(&t.ID, &t.UserID, &t.ExchangeOrderID, &t.ExchangeTradeID,
		&t.Symbol, &t.Side,
		&qty, &price, &quoteQty, &commission, &t.CommissionAsset,
		&t.ExecutedAt, &realized, &realizedPct, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Quantity, _ = decimal.NewFromString(qty)
	t.Price, _ = decimal.NewFromString(price)
	t.QuoteQuantity, _ = decimal.NewFromString(quoteQty)
	t.Commission, _ = decimal.NewFromString(commission)
	t.RealizedPnLUSD = decPtrFromString(realized)
	t.RealizedPnLPercentage = decPtrFromString(realizedPct)
	return &t, nil
}

// decPtrArg converts an optional decimal to a nullable query argument.
func decPtrArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decPtrFromString(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}
