package access_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/walmarket/settlement-engine/internal/access"
	"github.com/walmarket/settlement-engine/internal/authz"
	"github.com/walmarket/settlement-engine/internal/model"
	"github.com/walmarket/settlement-engine/internal/store"
)

const (
	pkgRef = "0x1a2b3c"
	objRef = "0xdeadbeef"
)

func newRegistry(t *testing.T) (*access.Registry, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return access.NewRegistry(ms, nil), ms
}

// seedPolicy configures a policy for marketID directly through the registry.
func seedPolicy(t *testing.T, reg *access.Registry, marketID string, premium bool) *model.AccessPolicy {
	t.Helper()
	policy, err := reg.ConfigureAccess(context.Background(), "alice", &model.AccessPolicy{
		MarketID:             marketID,
		RequiresPremium:      premium,
		PublicOutcomePtr:     "blob:public",
		EncryptedEvidencePtr: "blob:evidence",
		PolicyPackageRef:     pkgRef,
		PolicyObjectRef:      objRef,
	})
	if err != nil {
		t.Fatalf("failed to seed policy: %v", err)
	}
	return policy
}

// --- Pass issuance tests ---

func TestIssuePass_SetsTierAndExpiry(t *testing.T) {
	reg, _ := newRegistry(t)

	before := time.Now().UTC()
	pass, err := reg.IssuePass(context.Background(), "bob", model.TierPremium, 30)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if pass.ID == "" {
		t.Error("expected non-empty pass id")
	}
	if pass.Tier != model.TierPremium {
		t.Errorf("expected premium tier, got %s", pass.Tier)
	}
	wantExpiry := before.Add(30 * 24 * time.Hour)
	if pass.ExpiresAt.Before(wantExpiry) || pass.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expected expiry ≈ %s, got %s", wantExpiry, pass.ExpiresAt)
	}

	tier, _ := reg.Tier(context.Background(), "bob")
	if tier != model.TierPremium {
		t.Errorf("holder tier not recorded, got %s", tier)
	}
}

func TestIssuePass_ZeroDurationNeverExpires(t *testing.T) {
	reg, _ := newRegistry(t)

	pass, err := reg.IssuePass(context.Background(), "bob", model.TierEnterprise, 0)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !pass.ExpiresAt.IsZero() {
		t.Errorf("expected no expiry, got %s", pass.ExpiresAt)
	}
}

func TestIssuePass_InvalidTier(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.IssuePass(context.Background(), "bob", model.Tier("gold"), 0)
	if !errors.Is(err, access.ErrInvalidTier) {
		t.Errorf("expected ErrInvalidTier, got %v", err)
	}
}

func TestIssuePass_LastIssuanceWins(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	reg.IssuePass(ctx, "bob", model.TierEnterprise, 0)
	reg.IssuePass(ctx, "bob", model.TierFree, 0)

	tier, _ := reg.Tier(ctx, "bob")
	if tier != model.TierFree {
		t.Errorf("expected last issuance to win, got %s", tier)
	}
}

func TestTier_DefaultsToFree(t *testing.T) {
	reg, _ := newRegistry(t)

	tier, err := reg.Tier(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("tier lookup failed: %v", err)
	}
	if tier != model.TierFree {
		t.Errorf("expected free for unknown holder, got %s", tier)
	}
}

// --- Policy configuration tests ---

func TestConfigureAccess_RejectsZeroRefs(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		pkgRef, oRef string
	}{
		{"zero package ref", "0x0", objRef},
		{"zero object ref", pkgRef, "0x0000000000000000"},
		{"missing prefix", "1a2b3c", objRef},
		{"empty", "", objRef},
		{"non-hex", "0xzzzz", objRef},
	}
	for _, tt := range tests {
		_, err := reg.ConfigureAccess(ctx, "alice", &model.AccessPolicy{
			MarketID:         "m1",
			PolicyPackageRef: tt.pkgRef,
			PolicyObjectRef:  tt.oRef,
		})
		if !errors.Is(err, access.ErrInvalidPolicyConfig) {
			t.Errorf("%s: expected ErrInvalidPolicyConfig, got %v", tt.name, err)
		}
	}
}

func TestConfigureAccess_ReplacesExisting(t *testing.T) {
	reg, _ := newRegistry(t)
	seedPolicy(t, reg, "m1", false)
	seedPolicy(t, reg, "m1", true)

	// Reconfiguration fully replaces the policy.
	_, err := reg.VerifyAccess(context.Background(), "m1", "", "anyone")
	if !errors.Is(err, authz.ErrInsufficientAccess) {
		t.Errorf("expected gated market after reconfigure, got %v", err)
	}
}

func TestValidPolicyRef(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"0x1", true},
		{"0xDEADbeef", true},
		{"0x" + "0000000000000000000000000000000000000000000000000000000000000001", true},
		{"0x0", false},
		{"0x00000000", false},
		{"0x", false},
		{"1a2b", false},
		{"0xg1", false},
	}
	for _, tt := range tests {
		if got := access.ValidPolicyRef(tt.ref); got != tt.want {
			t.Errorf("ValidPolicyRef(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

// --- Verification tests ---

func TestVerifyAccess_PublicMarketNeedsNoPass(t *testing.T) {
	reg, _ := newRegistry(t)
	seedPolicy(t, reg, "m1", false)

	ptr, err := reg.VerifyAccess(context.Background(), "m1", "", "")
	if err != nil {
		t.Fatalf("expected public access, got %v", err)
	}
	if ptr != "blob:public" {
		t.Errorf("expected public pointer, got %q", ptr)
	}
}

func TestVerifyAccess_PremiumPassUnlocksEvidence(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	seedPolicy(t, reg, "m1", true)

	pass, _ := reg.IssuePass(ctx, "bob", model.TierPremium, 0)

	ptr, err := reg.VerifyAccess(ctx, "m1", pass.ID, "bob")
	if err != nil {
		t.Fatalf("expected access granted, got %v", err)
	}
	if ptr != "blob:evidence" {
		t.Errorf("expected evidence pointer, got %q", ptr)
	}
}

func TestVerifyAccess_FreeTierDenied(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	seedPolicy(t, reg, "m1", true)

	pass, _ := reg.IssuePass(ctx, "bob", model.TierFree, 0)

	_, err := reg.VerifyAccess(ctx, "m1", pass.ID, "bob")
	if !errors.Is(err, authz.ErrInsufficientAccess) {
		t.Errorf("expected ErrInsufficientAccess, got %v", err)
	}
}

func TestVerifyAccess_ExpiredPassDenied(t *testing.T) {
	reg, ms := newRegistry(t)
	ctx := context.Background()
	seedPolicy(t, reg, "m1", true)

	// Seed an already-lapsed pass directly in the store.
	ms.UpsertPass(ctx, &model.AccessPass{
		ID:        "stale-pass",
		Owner:     "bob",
		Tier:      model.TierPremium,
		IssuedAt:  time.Now().UTC().Add(-48 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-24 * time.Hour),
	})

	_, err := reg.VerifyAccess(ctx, "m1", "stale-pass", "bob")
	if !errors.Is(err, authz.ErrExpiredPass) {
		t.Errorf("expected ErrExpiredPass, got %v", err)
	}
}

func TestVerifyAccess_StolenPassDenied(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	seedPolicy(t, reg, "m1", true)

	pass, _ := reg.IssuePass(ctx, "bob", model.TierPremium, 0)

	_, err := reg.VerifyAccess(ctx, "m1", pass.ID, "mallory")
	if !errors.Is(err, authz.ErrInsufficientAccess) {
		t.Errorf("expected ErrInsufficientAccess for non-owner, got %v", err)
	}
}

func TestVerifyAccess_UnknownMarket(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.VerifyAccess(context.Background(), "nope", "", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPublicOutcome_Idempotent(t *testing.T) {
	reg, ms := newRegistry(t)
	ctx := context.Background()
	seedPolicy(t, reg, "m1", true)

	eventsBefore, _ := ms.ListEventsByMarket(ctx, "m1")
	for i := 0; i < 3; i++ {
		ptr, err := reg.PublicOutcome(ctx, "m1")
		if err != nil {
			t.Fatalf("public outcome read failed: %v", err)
		}
		if ptr != "blob:public" {
			t.Errorf("expected public pointer, got %q", ptr)
		}
	}
	eventsAfter, _ := ms.ListEventsByMarket(ctx, "m1")

	// Public reads leave no trace in the log.
	if len(eventsAfter) != len(eventsBefore) {
		t.Errorf("public reads appended events: before=%d after=%d",
			len(eventsBefore), len(eventsAfter))
	}
}

// --- HTTP handler tests ---

func newRouter(t *testing.T) (*access.Registry, chi.Router) {
	t.Helper()
	reg, _ := newRegistry(t)
	svc := access.NewService(reg)

	r := chi.NewRouter()
	r.Post("/api/v1/passes", svc.IssuePass)
	r.Get("/api/v1/tiers/{holder}", svc.GetTier)
	r.Post("/api/v1/markets/{marketID}/access", svc.ConfigureAccess)
	r.Get("/api/v1/markets/{marketID}/access", svc.VerifyAccess)
	r.Get("/api/v1/markets/{marketID}/outcome", svc.GetPublicOutcome)
	return reg, r
}

func TestVerifyAccess_HTTP(t *testing.T) {
	reg, router := newRouter(t)
	ctx := context.Background()
	seedPolicy(t, reg, "m1", true)
	pass, _ := reg.IssuePass(ctx, "bob", model.TierPremium, 0)

	// No pass presented.
	req := httptest.NewRequest("GET", "/api/v1/markets/m1/access", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 without pass, got %d", w.Code)
	}

	// Valid premium pass.
	req = httptest.NewRequest("GET", "/api/v1/markets/m1/access?pass="+pass.ID+"&caller=bob", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with premium pass, got %d: %s", w.Code, w.Body.String())
	}

	// Unknown market.
	req = httptest.NewRequest("GET", "/api/v1/markets/nope/access", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown market, got %d", w.Code)
	}
}
