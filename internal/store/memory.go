package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	positions   map[string]*model.Position
	balances    map[string]decimal.Decimal // key: owner + "\x00" + asset
	marketCount int64
	passes      map[string]*model.AccessPass
	tiers       map[string]model.Tier
	passCounts  map[model.Tier]int64
	policies    map[string]*model.AccessPolicy
	events      []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:    make(map[string]*model.Market),
		positions:  make(map[string]*model.Position),
		balances:   make(map[string]decimal.Decimal),
		passes:     make(map[string]*model.AccessPass),
		tiers:      make(map[string]model.Tier),
		passCounts: make(map[model.Tier]int64),
		policies:   make(map[string]*model.AccessPolicy),
	}
}

func balanceKey(owner, asset string) string {
	return owner + "\x00" + asset
}

// --- Market lifecycle ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s already exists", m.ID)
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) UpdateMarketPools(_ context.Context, id string, yesPool, noPool decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	m.YesPool = yesPool
	m.NoPool = noPool
	return nil
}

func (s *MemoryStore) ResolveMarket(_ context.Context, id string, resolved *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	m.Status = resolved.Status
	m.Outcome = resolved.Outcome
	m.Reasoning = resolved.Reasoning
	m.ResolvedAt = resolved.ResolvedAt
	return nil
}

// --- Position registry ---

func (s *MemoryStore) InsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[p.ID]; exists {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[id]; !ok {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	delete(s.positions, id)
	return nil
}

func (s *MemoryStore) ListPositionsByOwner(_ context.Context, owner string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Owner == owner {
			result = append(result, *p)
		}
	}
	return result, nil
}

// --- Account balances ---

func (s *MemoryStore) GetBalance(_ context.Context, owner, asset string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[balanceKey(owner, asset)], nil
}

func (s *MemoryStore) Credit(_ context.Context, owner, asset string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := balanceKey(owner, asset)
	s.balances[key] = s.balances[key].Add(amount)
	return nil
}

func (s *MemoryStore) Debit(_ context.Context, owner, asset string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := balanceKey(owner, asset)
	if s.balances[key].LessThan(amount) {
		return fmt.Errorf("debit %s %s from %s: %w", amount, asset, owner, ErrInsufficientFunds)
	}
	s.balances[key] = s.balances[key].Sub(amount)
	return nil
}

// --- Market directory ---

func (s *MemoryStore) IncrementMarketCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marketCount++
	return s.marketCount, nil
}

func (s *MemoryStore) MarketCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.marketCount, nil
}

// --- Access passes and tier registry ---

func (s *MemoryStore) UpsertPass(_ context.Context, p *model.AccessPass) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.passes[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPass(_ context.Context, id string) (*model.AccessPass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.passes[id]
	if !ok {
		return nil, fmt.Errorf("pass %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SetTier(_ context.Context, holder string, tier model.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers[holder] = tier
	return nil
}

func (s *MemoryStore) GetTier(_ context.Context, holder string) (model.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tier, ok := s.tiers[holder]; ok {
		return tier, nil
	}
	return model.TierFree, nil
}

func (s *MemoryStore) IncrementPassCount(_ context.Context, tier model.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.passCounts[tier]++
	return nil
}

func (s *MemoryStore) PassCounts(_ context.Context) (map[model.Tier]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.Tier]int64, len(s.passCounts))
	for tier, n := range s.passCounts {
		counts[tier] = n
	}
	return counts, nil
}

// --- Market access policies ---

func (s *MemoryStore) UpsertPolicy(_ context.Context, p *model.AccessPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.policies[p.MarketID] = &cp
	return nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, marketID string) (*model.AccessPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[marketID]
	if !ok {
		return nil, fmt.Errorf("policy for market %s: %w", marketID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// --- Notification log ---

func (s *MemoryStore) AppendEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListEventsByMarket(_ context.Context, marketID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}
