// Package store defines the persistence interface for the settlement
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/model"
)

var (
	// ErrNotFound is returned when a market, position, pass, or policy
	// does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientFunds is returned by Debit when the account balance
	// cannot cover the amount.
	ErrInsufficientFunds = errors.New("store: insufficient funds")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Balances never go negative
// and events, once appended, are immutable.
type Store interface {
	// --- Market lifecycle ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketPools replaces the two pool balances after a stake or claim.
	UpdateMarketPools(ctx context.Context, id string, yesPool, noPool decimal.Decimal) error

	// ResolveMarket fixes the terminal status and outcome. The transition
	// is written once; callers guarantee the market is still Active.
	ResolveMarket(ctx context.Context, id string, m *model.Market) error

	// --- Position registry ---

	// InsertPosition persists a newly minted claim ticket.
	InsertPosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// DeletePosition consumes a claim ticket. Returns ErrNotFound if it
	// was already consumed.
	DeletePosition(ctx context.Context, id string) error

	// ListPositionsByOwner returns all open positions held by owner.
	ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error)

	// --- Account balances ---

	// GetBalance returns the balance of one asset for an account.
	// Unknown accounts read zero.
	GetBalance(ctx context.Context, owner, asset string) (decimal.Decimal, error)

	// Credit adds amount to an account balance.
	Credit(ctx context.Context, owner, asset string, amount decimal.Decimal) error

	// Debit subtracts amount from an account balance, failing with
	// ErrInsufficientFunds rather than going negative.
	Debit(ctx context.Context, owner, asset string, amount decimal.Decimal) error

	// --- Market directory ---

	// IncrementMarketCount bumps the directory counter and returns the
	// new total.
	IncrementMarketCount(ctx context.Context) (int64, error)

	// MarketCount returns the number of markets ever created.
	MarketCount(ctx context.Context) (int64, error)

	// --- Access passes and tier registry ---

	// UpsertPass persists an access pass.
	UpsertPass(ctx context.Context, p *model.AccessPass) error

	// GetPass retrieves a pass by its ID.
	GetPass(ctx context.Context, id string) (*model.AccessPass, error)

	// SetTier records the holder's current tier (last issuance wins).
	SetTier(ctx context.Context, holder string, tier model.Tier) error

	// GetTier returns the holder's current tier, TierFree when the holder
	// has never been issued a pass.
	GetTier(ctx context.Context, holder string) (model.Tier, error)

	// IncrementPassCount bumps the issuance counter for a tier.
	IncrementPassCount(ctx context.Context, tier model.Tier) error

	// PassCounts returns passes ever issued per tier.
	PassCounts(ctx context.Context) (map[model.Tier]int64, error)

	// --- Market access policies ---

	// UpsertPolicy creates or replaces the access policy for a market.
	UpsertPolicy(ctx context.Context, p *model.AccessPolicy) error

	// GetPolicy retrieves the access policy for a market.
	GetPolicy(ctx context.Context, marketID string) (*model.AccessPolicy, error)

	// --- Notification log ---

	// AppendEvent appends an immutable notification record.
	AppendEvent(ctx context.Context, e *model.Event) error

	// ListEventsByMarket returns all events for a market in append order.
	ListEventsByMarket(ctx context.Context, marketID string) ([]model.Event, error)
}
