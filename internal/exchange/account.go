package exchange

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/model"
)

// BalanceProvider supplies the external account balance snapshot.
// total == free + locked is a precondition callers trust.
type BalanceProvider interface {
	GetBalances(ctx context.Context) ([]model.BalanceEntry, error)
}

// TradeSource supplies raw trade history for a trading pair.
type TradeSource interface {
	GetTrades(ctx context.Context, symbol string, start, end int64, limit int) ([]model.RawTrade, error)
}

// AccountService implements BalanceProvider and TradeSource over Binance.
type AccountService struct {
	client *Client
}

// NewAccountService creates the Binance-backed account service.
func NewAccountService(client *Client) *AccountService {
	return &AccountService{client: client}
}

// GetBalances returns every non-zero spot balance.
func (s *AccountService) GetBalances(ctx context.Context) ([]model.BalanceEntry, error) {
	var account *binance.Account
	err := s.client.Call(ctx, func(ctx context.Context, api *binance.Client) error {
		var err error
		account, err = api.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch account balances: %w", err)
	}

	var entries []model.BalanceEntry
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			continue
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		entries = append(entries, model.BalanceEntry{
			Asset:  b.Asset,
			Free:   free,
			Locked: locked,
			Total:  free.Add(locked),
		})
	}
	return entries, nil
}

// GetTrades returns the account's fills for one trading pair within
// [start, end] epoch milliseconds.
func (s *AccountService) GetTrades(ctx context.Context, symbol string, start, end int64, limit int) ([]model.RawTrade, error) {
	var fills []*binance.TradeV3
	err := s.client.Call(ctx, func(ctx context.Context, api *binance.Client) error {
		svc := api.NewListTradesService().Symbol(symbol).Limit(limit)
		if start > 0 {
			svc = svc.StartTime(start)
		}
		if end > 0 {
			svc = svc.EndTime(end)
		}
		var err error
		fills, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch trades for %s: %w", symbol, err)
	}

	raws := make([]model.RawTrade, 0, len(fills))
	for _, f := range fills {
		qty, _ := decimal.NewFromString(f.Quantity)
		price, _ := decimal.NewFromString(f.Price)
		quoteQty, _ := decimal.NewFromString(f.QuoteQuantity)
		commission, _ := decimal.NewFromString(f.Commission)

		raws = append(raws, model.RawTrade{
			OrderID:         strconv.FormatInt(f.OrderID, 10),
			TradeID:         strconv.FormatInt(f.ID, 10),
			Symbol:          f.Symbol,
			Quantity:        qty,
			Price:           price,
			QuoteQuantity:   quoteQty,
			Commission:      commission,
			CommissionAsset: f.CommissionAsset,
			IsBuyer:         f.IsBuyer,
			Time:            f.Time,
		})
	}
	return raws, nil
}
