package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinledger/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Holdings lists and daily
// snapshots are cached; trade listings are not (they feed FIFO replay, which
// must always see the full persisted history).
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertHolding(ctx context.Context, h *model.Holding) error {
	if err := s.primary.UpsertHolding(ctx, h); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsCacheKey(h.UserID))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) UpdateTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.UpdateTrade(ctx, t)
}

func (s *CachedStore) InsertSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error {
	if err := s.primary.InsertSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, snap)
	return nil
}

func (s *CachedStore) SetSyncState(ctx context.Context, st *model.SyncState) error {
	return s.primary.SetSyncState(ctx, st)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsCacheKey(userID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	// Cache miss: read from primary.
	holdings, err := s.primary.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsCacheKey(userID), data, s.ttl)
	}
	return holdings, nil
}

func (s *CachedStore) GetSnapshot(ctx context.Context, userID string, date time.Time) (*model.PortfolioSnapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotCacheKey(userID, date)).Bytes()
	if err == nil {
		var snap model.PortfolioSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.GetSnapshot(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetHolding(ctx context.Context, userID, asset string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, asset)
}

func (s *CachedStore) GetTradeByExchangeID(ctx context.Context, userID, exchangeTradeID string) (*model.Trade, error) {
	return s.primary.GetTradeByExchangeID(ctx, userID, exchangeTradeID)
}

func (s *CachedStore) ListTrades(ctx context.Context, userID string, f TradeFilter) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, userID, f)
}

func (s *CachedStore) GetSyncState(ctx context.Context, userID string) (*model.SyncState, error) {
	return s.primary.GetSyncState(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotCacheKey(snap.UserID, snap.SnapshotDate), data, s.ttl)
	}
}

func holdingsCacheKey(userID string) string { return fmt.Sprintf("holdings:%s", userID) }
func snapshotCacheKey(userID string, date time.Time) string {
	return fmt.Sprintf("snapshot:%s:%s", userID, date.UTC().Format("2006-01-02"))
}
