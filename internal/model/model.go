// Package model defines the core domain types shared across the settlement
// engine. All value amounts use shopspring/decimal — never float64 for money.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Lifecycle status of a market. A market is created Active and transitions
// exactly once to a terminal state.
type Status string

const (
	StatusActive      Status = "active"
	StatusResolvedYes Status = "resolved_yes"
	StatusResolvedNo  Status = "resolved_no"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Outcome of a binary market. Pending until the market is resolved.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeYes     Outcome = "yes"
	OutcomeNo      Outcome = "no"
)

// Binary reports whether the outcome is one of the two resolvable values.
// Pending is not a valid resolution target.
func (o Outcome) Binary() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// StatusFor maps a resolution outcome to its terminal status.
func StatusFor(o Outcome) Status {
	if o == OutcomeYes {
		return StatusResolvedYes
	}
	return StatusResolvedNo
}

// Assets held in accounts. STAKE is the fungible unit the pools are
// denominated in; FEE is the secondary asset consumed by the fee gate.
const (
	AssetStake = "STAKE"
	AssetFee   = "FEE"
)

// Market is the escrow object for one binary question: two segregated
// value pools plus lifecycle state. Invariant: Status == Active iff
// Outcome == Pending. Pools only grow, except by claims.
type Market struct {
	ID          string          `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Category    string          `json:"category" db:"category"`
	Creator     string          `json:"creator" db:"creator"`
	EndDate     time.Time       `json:"end_date" db:"end_date"`
	YesPool     decimal.Decimal `json:"yes_pool" db:"yes_pool"`
	NoPool      decimal.Decimal `json:"no_pool" db:"no_pool"`
	Status      Status          `json:"status" db:"status"`
	Outcome     Outcome         `json:"outcome" db:"outcome"`
	Reasoning   string          `json:"reasoning,omitempty" db:"reasoning"` // opaque resolver text
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt  time.Time       `json:"resolved_at,omitempty" db:"resolved_at"` // zero until resolved
}

// Position is a single stake's claim ticket. Amount is fixed at creation
// and the record is deleted exactly once by a claim, win or lose.
type Position struct {
	ID         string          `json:"id" db:"id"`
	MarketID   string          `json:"market_id" db:"market_id"`
	Owner      string          `json:"owner" db:"owner"`
	Prediction Outcome         `json:"prediction" db:"prediction"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Tier is the access level carried by a pass. Higher ranks include the
// privileges of lower ones.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Rank returns the tier's ordering for comparisons, or -1 for an unknown
// tier string.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierPremium:
		return 1
	case TierEnterprise:
		return 2
	default:
		return -1
	}
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// AccessPass is a tiered, optionally time-limited credential. A zero
// ExpiresAt means the pass never expires.
type AccessPass struct {
	ID        string    `json:"id" db:"id"`
	Owner     string    `json:"owner" db:"owner"`
	Tier      Tier      `json:"tier" db:"tier"`
	IssuedAt  time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// AccessPolicy is the per-market record gating premium resolution evidence.
// The two policy refs identify the external decryption package/object and
// must be non-zero when the policy is configured.
type AccessPolicy struct {
	MarketID             string    `json:"market_id" db:"market_id"`
	RequiresPremium      bool      `json:"requires_premium" db:"requires_premium"`
	PublicOutcomePtr     string    `json:"public_outcome_ptr" db:"public_outcome_ptr"`
	EncryptedEvidencePtr string    `json:"encrypted_evidence_ptr" db:"encrypted_evidence_ptr"`
	PolicyPackageRef     string    `json:"policy_package_ref" db:"policy_package_ref"`
	PolicyObjectRef      string    `json:"policy_object_ref" db:"policy_object_ref"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Event types emitted by commands. One append-only record per successful
// command; none on failure.
const (
	EventMarketCreated    = "market_created"
	EventStakePlaced      = "stake_placed"
	EventMarketResolved   = "market_resolved"
	EventPositionClaimed  = "position_claimed"
	EventPassIssued       = "pass_issued"
	EventAccessConfigured = "access_configured"
	EventAccessGranted    = "access_granted"
)

// Event is an immutable notification record. Once appended, these are
// never modified or deleted.
type Event struct {
	ID        string          `json:"id" db:"id"`
	Type      string          `json:"type" db:"type"`
	MarketID  string          `json:"market_id,omitempty" db:"market_id"`
	Actor     string          `json:"actor" db:"actor"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
