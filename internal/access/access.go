// Package access implements the tiered access-control registry gating
// premium resolution evidence: pass issuance, per-market access policies
// bound to an external decryption policy, and the verification path that
// returns either the public outcome pointer or the gated evidence pointer.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walmarket/settlement-engine/internal/authz"
	"github.com/walmarket/settlement-engine/internal/metrics"
	"github.com/walmarket/settlement-engine/internal/model"
	"github.com/walmarket/settlement-engine/internal/settlement"
	"github.com/walmarket/settlement-engine/internal/store"
)

var (
	// ErrInvalidTier is returned when a pass issuance names an unknown tier.
	ErrInvalidTier = errors.New("access: tier must be free, premium, or enterprise")

	// ErrInvalidPolicyConfig is returned when either external decryption
	// policy reference is the null/zero sentinel.
	ErrInvalidPolicyConfig = errors.New("access: policy references must be non-zero object ids")
)

// refPattern matches an external policy object reference: a 0x-prefixed
// hex id of up to 32 bytes.
var refPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)

// ValidPolicyRef reports whether ref is a well-formed, non-zero external
// object reference. The all-zero id is the null sentinel and is rejected.
func ValidPolicyRef(ref string) bool {
	if !refPattern.MatchString(ref) {
		return false
	}
	return strings.ContainsFunc(ref[2:], func(r rune) bool { return r != '0' })
}

// Registry executes access-control commands against the shared store.
// A mutex serializes issuance so the holder→tier index and the issuance
// counters move together.
type Registry struct {
	store store.Store
	hub   *settlement.Hub // optional event hub for real-time broadcasts
	mu    sync.Mutex
}

// NewRegistry creates an access registry. Pass nil for hub if event
// broadcasting is not needed.
func NewRegistry(st store.Store, hub *settlement.Hub) *Registry {
	return &Registry{store: st, hub: hub}
}

// IssuePass mints a pass to the recipient and records them at the given
// tier (last issuance wins). durationDays of zero means the pass never
// expires.
func (r *Registry) IssuePass(ctx context.Context, recipient string, tier model.Tier, durationDays int) (*model.AccessPass, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidTier, tier)
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidTier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	pass := &model.AccessPass{
		ID:       uuid.New().String(),
		Owner:    recipient,
		Tier:     tier,
		IssuedAt: now,
	}
	if durationDays > 0 {
		pass.ExpiresAt = now.Add(time.Duration(durationDays) * 24 * time.Hour)
	}

	if err := r.store.UpsertPass(ctx, pass); err != nil {
		return nil, err
	}
	if err := r.store.SetTier(ctx, recipient, tier); err != nil {
		return nil, err
	}
	if err := r.store.IncrementPassCount(ctx, tier); err != nil {
		return nil, err
	}

	metrics.PassesIssued.WithLabelValues(string(tier)).Inc()
	err := r.emit(ctx, model.EventPassIssued, "", recipient, map[string]string{
		"pass_id":    pass.ID,
		"tier":       string(tier),
		"expires_at": pass.ExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	return pass, nil
}

// ConfigureAccess creates or replaces the access policy for a market.
// Both external decryption references must be non-zero.
func (r *Registry) ConfigureAccess(ctx context.Context, actor string, policy *model.AccessPolicy) (*model.AccessPolicy, error) {
	if !ValidPolicyRef(policy.PolicyPackageRef) || !ValidPolicyRef(policy.PolicyObjectRef) {
		return nil, ErrInvalidPolicyConfig
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	policy.UpdatedAt = time.Now().UTC()
	if err := r.store.UpsertPolicy(ctx, policy); err != nil {
		return nil, err
	}

	err := r.emit(ctx, model.EventAccessConfigured, policy.MarketID, actor, map[string]string{
		"requires_premium": fmt.Sprintf("%t", policy.RequiresPremium),
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// VerifyAccess resolves the evidence pointer a caller is entitled to.
// Markets without the premium flag hand out the public pointer with no
// authentication at all; gated markets require a live pass at Premium or
// above, presented by its owner.
func (r *Registry) VerifyAccess(ctx context.Context, marketID, passID, caller string) (string, error) {
	policy, err := r.store.GetPolicy(ctx, marketID)
	if err != nil {
		return "", err
	}
	if !policy.RequiresPremium {
		return policy.PublicOutcomePtr, nil
	}

	var pass *model.AccessPass
	if passID != "" {
		if p, err := r.store.GetPass(ctx, passID); err == nil {
			pass = p
		}
	}

	if err := authz.CheckPass(pass, caller, model.TierPremium, time.Now().UTC()); err != nil {
		reason := "insufficient_tier"
		if errors.Is(err, authz.ErrExpiredPass) {
			reason = "expired"
		}
		metrics.AccessDenied.WithLabelValues(reason).Inc()
		return "", err
	}

	err = r.emit(ctx, model.EventAccessGranted, marketID, caller, map[string]string{
		"pass_id": passID,
	})
	if err != nil {
		return "", err
	}
	return policy.EncryptedEvidencePtr, nil
}

// PublicOutcome returns the market's public outcome pointer. No
// authentication, no side effects.
func (r *Registry) PublicOutcome(ctx context.Context, marketID string) (string, error) {
	policy, err := r.store.GetPolicy(ctx, marketID)
	if err != nil {
		return "", err
	}
	return policy.PublicOutcomePtr, nil
}

// Tier reports the holder's current tier; holders with no issued pass
// read Free.
func (r *Registry) Tier(ctx context.Context, holder string) (model.Tier, error) {
	return r.store.GetTier(ctx, holder)
}

// PassCounts returns passes ever issued per tier.
func (r *Registry) PassCounts(ctx context.Context) (map[model.Tier]int64, error) {
	return r.store.PassCounts(ctx)
}

func (r *Registry) emit(ctx context.Context, typ, marketID, actor string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := &model.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		MarketID:  marketID,
		Actor:     actor,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	if r.hub != nil {
		r.hub.Broadcast(ev)
	}
	return nil
}
