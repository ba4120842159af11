package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: market by id, access policy, pass, and
// holder tier. Writes go to the primary store and invalidate the cache.
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

// --- Markets: write-invalidate, read-through ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.readJSON(ctx, marketKey(id), &m) {
		return &m, nil
	}

	fresh, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) UpdateMarketPools(ctx context.Context, id string, yesPool, noPool decimal.Decimal) error {
	if err := s.primary.UpdateMarketPools(ctx, id, yesPool, noPool); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) ResolveMarket(ctx context.Context, id string, m *model.Market) error {
	if err := s.primary.ResolveMarket(ctx, id, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

// --- Passes and tiers: write-invalidate, read-through ---

func (s *CachedStore) UpsertPass(ctx context.Context, p *model.AccessPass) error {
	if err := s.primary.UpsertPass(ctx, p); err != nil {
		return err
	}
	s.cacheJSON(ctx, passKey(p.ID), p)
	return nil
}

func (s *CachedStore) GetPass(ctx context.Context, id string) (*model.AccessPass, error) {
	var p model.AccessPass
	if s.readJSON(ctx, passKey(id), &p) {
		return &p, nil
	}

	fresh, err := s.primary.GetPass(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, passKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) SetTier(ctx context.Context, holder string, tier model.Tier) error {
	if err := s.primary.SetTier(ctx, holder, tier); err != nil {
		return err
	}
	s.rdb.Set(ctx, tierKey(holder), string(tier), s.ttl)
	return nil
}

func (s *CachedStore) GetTier(ctx context.Context, holder string) (model.Tier, error) {
	if v, err := s.rdb.Get(ctx, tierKey(holder)).Result(); err == nil {
		return model.Tier(v), nil
	}

	tier, err := s.primary.GetTier(ctx, holder)
	if err != nil {
		return model.TierFree, err
	}
	s.rdb.Set(ctx, tierKey(holder), string(tier), s.ttl)
	return tier, nil
}

// --- Access policies: write-invalidate, read-through ---

func (s *CachedStore) UpsertPolicy(ctx context.Context, p *model.AccessPolicy) error {
	if err := s.primary.UpsertPolicy(ctx, p); err != nil {
		return err
	}
	s.cacheJSON(ctx, policyKey(p.MarketID), p)
	return nil
}

func (s *CachedStore) GetPolicy(ctx context.Context, marketID string) (*model.AccessPolicy, error) {
	var p model.AccessPolicy
	if s.readJSON(ctx, policyKey(marketID), &p) {
		return &p, nil
	}

	fresh, err := s.primary.GetPolicy(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, policyKey(marketID), fresh)
	return fresh, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) InsertPosition(ctx context.Context, p *model.Position) error {
	return s.primary.InsertPosition(ctx, p)
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) DeletePosition(ctx context.Context, id string) error {
	return s.primary.DeletePosition(ctx, id)
}

func (s *CachedStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	return s.primary.ListPositionsByOwner(ctx, owner)
}

func (s *CachedStore) GetBalance(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	return s.primary.GetBalance(ctx, owner, asset)
}

func (s *CachedStore) Credit(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	return s.primary.Credit(ctx, owner, asset, amount)
}

func (s *CachedStore) Debit(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	return s.primary.Debit(ctx, owner, asset, amount)
}

func (s *CachedStore) IncrementMarketCount(ctx context.Context) (int64, error) {
	return s.primary.IncrementMarketCount(ctx)
}

func (s *CachedStore) MarketCount(ctx context.Context) (int64, error) {
	return s.primary.MarketCount(ctx)
}

func (s *CachedStore) IncrementPassCount(ctx context.Context, tier model.Tier) error {
	return s.primary.IncrementPassCount(ctx, tier)
}

func (s *CachedStore) PassCounts(ctx context.Context) (map[model.Tier]int64, error) {
	return s.primary.PassCounts(ctx)
}

func (s *CachedStore) AppendEvent(ctx context.Context, e *model.Event) error {
	return s.primary.AppendEvent(ctx, e)
}

func (s *CachedStore) ListEventsByMarket(ctx context.Context, marketID string) ([]model.Event, error) {
	return s.primary.ListEventsByMarket(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) readJSON(ctx context.Context, key string, v interface{}) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func passKey(id string) string { return fmt.Sprintf("pass:%s", id) }
func tierKey(holder string) string { return fmt.Sprintf("tier:%s", holder) }
func policyKey(marketID string) string { return fmt.Sprintf("policy:%s", marketID) }
