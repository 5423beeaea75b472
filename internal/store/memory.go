package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coinledger/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	holdings  map[string]*model.Holding           // userID|asset
	trades    map[string]*model.Trade             // userID|exchangeTradeID
	snapshots map[string]*model.PortfolioSnapshot // userID|date
	syncState map[string]*model.SyncState         // userID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings:  make(map[string]*model.Holding),
		trades:    make(map[string]*model.Trade),
		snapshots: make(map[string]*model.PortfolioSnapshot),
		syncState: make(map[string]*model.SyncState),
	}
}

func holdingKey(userID, asset string) string { return userID + "|" + asset }
func tradeKey(userID, tradeID string) string { return userID + "|" + tradeID }
func snapshotKey(userID string, date time.Time) string {
	return userID + "|" + date.UTC().Format("2006-01-02")
}

func (s *MemoryStore) UpsertHolding(_ context.Context, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *h
	s.holdings[holdingKey(h.UserID, h.AssetSymbol)] = &copy
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, userID, asset string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey(userID, asset)]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, h := range s.holdings {
		if h.UserID == userID {
			holdings = append(holdings, *h)
		}
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].AssetSymbol < holdings[j].AssetSymbol
	})
	return holdings, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tradeKey(t.UserID, t.ExchangeTradeID)
	if _, exists := s.trades[key]; exists {
		return fmt.Errorf("trade %s already exists for user %s", t.ExchangeTradeID, t.UserID)
	}
	copy := *t
	s.trades[key] = &copy
	return nil
}

func (s *MemoryStore) UpdateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tradeKey(t.UserID, t.ExchangeTradeID)
	if _, exists := s.trades[key]; !exists {
		return ErrNotFound
	}
	copy := *t
	s.trades[key] = &copy
	return nil
}

func (s *MemoryStore) GetTradeByExchangeID(_ context.Context, userID, exchangeTradeID string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[tradeKey(userID, exchangeTradeID)]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID string, f TradeFilter) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.Trade
	for _, t := range s.trades {
		if t.UserID != userID {
			continue
		}
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if !f.Since.IsZero() && t.ExecutedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && t.ExecutedAt.After(f.Until) {
			continue
		}
		trades = append(trades, *t)
	}
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].ExecutedAt.Equal(trades[j].ExecutedAt) {
			return trades[i].ExchangeTradeID < trades[j].ExchangeTradeID
		}
		return trades[i].ExecutedAt.Before(trades[j].ExecutedAt)
	})
	return trades, nil
}

func (s *MemoryStore) InsertSnapshot(_ context.Context, snap *model.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshotKey(snap.UserID, snap.SnapshotDate)
	if _, exists := s.snapshots[key]; exists {
		return fmt.Errorf("snapshot for %s already exists", snap.SnapshotDate.Format("2006-01-02"))
	}
	copy := *snap
	copy.TopHoldings = append([]model.TopHolding(nil), snap.TopHoldings...)
	s.snapshots[key] = &copy
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, userID string, date time.Time) (*model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[snapshotKey(userID, date)]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *snap
	copy.TopHoldings = append([]model.TopHolding(nil), snap.TopHoldings...)
	return &copy, nil
}

func (s *MemoryStore) SetSyncState(_ context.Context, st *model.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *st
	s.syncState[st.UserID] = &copy
	return nil
}

func (s *MemoryStore) GetSyncState(_ context.Context, userID string) (*model.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.syncState[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *st
	return &copy, nil
}
