// Package authz implements the pure authorization predicates used by the
// settlement and access layers: who may resolve a market, and whether an
// access pass satisfies a tier requirement at a point in time.
//
// Every check is a side-effect-free function over its arguments so the
// predicates can be tested in isolation from any store.
package authz

import (
	"errors"
	"time"

	"github.com/walmarket/settlement-engine/internal/model"
)

var (
	// ErrNotAuthorized is returned when the caller is not the market's
	// designated resolver.
	ErrNotAuthorized = errors.New("authz: caller is not authorized to resolve this market")

	// ErrInsufficientAccess is returned when a pass is missing, owned by
	// someone else, or below the required tier.
	ErrInsufficientAccess = errors.New("authz: access pass does not meet the required tier")

	// ErrExpiredPass is returned when a time-limited pass has lapsed.
	ErrExpiredPass = errors.New("authz: access pass has expired")
)

// CanResolve checks the resolver capability: only the market creator may
// fix the outcome. Fee-gated resolution wraps this externally and never
// reaches the engine without the capability holder's identity.
func CanResolve(m *model.Market, caller string) error {
	if caller == "" || caller != m.Creator {
		return ErrNotAuthorized
	}
	return nil
}

// CheckPass validates a pass against a caller and minimum tier at the
// given instant. Ownership is checked before expiry, expiry before tier,
// so a stolen pass reads as InsufficientAccess rather than leaking its
// expiry state.
func CheckPass(pass *model.AccessPass, caller string, min model.Tier, now time.Time) error {
	if pass == nil || pass.Owner != caller {
		return ErrInsufficientAccess
	}
	if !pass.ExpiresAt.IsZero() && !now.Before(pass.ExpiresAt) {
		return ErrExpiredPass
	}
	if pass.Tier.Rank() < min.Rank() {
		return ErrInsufficientAccess
	}
	return nil
}
