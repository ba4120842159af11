package access

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/walmarket/settlement-engine/internal/authz"
	"github.com/walmarket/settlement-engine/internal/model"
	"github.com/walmarket/settlement-engine/internal/store"
)

// Service exposes the access registry over HTTP.
type Service struct {
	registry *Registry
}

// NewService creates the access HTTP service.
func NewService(registry *Registry) *Service {
	return &Service{registry: registry}
}

// IssuePassRequest is the JSON body for POST /api/v1/passes.
// DurationDays of zero issues a pass that never expires.
type IssuePassRequest struct {
	Recipient    string     `json:"recipient"`
	Tier         model.Tier `json:"tier"`
	DurationDays int        `json:"duration_days"`
}

// ConfigureAccessRequest is the JSON body for POST /api/v1/markets/{marketID}/access.
type ConfigureAccessRequest struct {
	Actor                string `json:"actor"`
	RequiresPremium      bool   `json:"requires_premium"`
	PublicOutcomePtr     string `json:"public_outcome_ptr"`
	EncryptedEvidencePtr string `json:"encrypted_evidence_ptr"`
	PolicyPackageRef     string `json:"policy_package_ref"`
	PolicyObjectRef      string `json:"policy_object_ref"`
}

// IssuePass handles POST /api/v1/passes
func (s *Service) IssuePass(w http.ResponseWriter, r *http.Request) {
	var req IssuePassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pass, err := s.registry.IssuePass(r.Context(), req.Recipient, req.Tier, req.DurationDays)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("pass issued",
		"pass_id", pass.ID,
		"owner", pass.Owner,
		"tier", pass.Tier,
		"expires_at", pass.ExpiresAt,
	)

	writeJSON(w, http.StatusCreated, pass)
}

// GetTier handles GET /api/v1/tiers/{holder}
// Holders with no issued pass read as Free.
func (s *Service) GetTier(w http.ResponseWriter, r *http.Request) {
	holder := chi.URLParam(r, "holder")

	tier, err := s.registry.Tier(r.Context(), holder)
	if err != nil {
		writeError(w, "failed to load tier", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"holder": holder,
		"tier":   string(tier),
	})
}

// ConfigureAccess handles POST /api/v1/markets/{marketID}/access
func (s *Service) ConfigureAccess(w http.ResponseWriter, r *http.Request) {
	var req ConfigureAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	policy := &model.AccessPolicy{
		MarketID:             chi.URLParam(r, "marketID"),
		RequiresPremium:      req.RequiresPremium,
		PublicOutcomePtr:     req.PublicOutcomePtr,
		EncryptedEvidencePtr: req.EncryptedEvidencePtr,
		PolicyPackageRef:     req.PolicyPackageRef,
		PolicyObjectRef:      req.PolicyObjectRef,
	}

	policy, err := s.registry.ConfigureAccess(r.Context(), req.Actor, policy)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("access configured",
		"market_id", policy.MarketID,
		"requires_premium", policy.RequiresPremium,
	)

	writeJSON(w, http.StatusCreated, policy)
}

// VerifyAccess handles GET /api/v1/markets/{marketID}/access?pass={passID}&caller={caller}
// Returns the pointer the caller is entitled to.
func (s *Service) VerifyAccess(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	passID := r.URL.Query().Get("pass")
	caller := r.URL.Query().Get("caller")

	pointer, err := s.registry.VerifyAccess(r.Context(), marketID, passID, caller)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"market_id": marketID,
		"pointer":   pointer,
	})
}

// GetPublicOutcome handles GET /api/v1/markets/{marketID}/outcome
// Always returns the public pointer, regardless of caller or tier.
func (s *Service) GetPublicOutcome(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	pointer, err := s.registry.PublicOutcome(r.Context(), marketID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"market_id": marketID,
		"pointer":   pointer,
	})
}

// statusFor maps access-control errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTier),
		errors.Is(err, ErrInvalidPolicyConfig):
		return http.StatusBadRequest
	case errors.Is(err, authz.ErrInsufficientAccess),
		errors.Is(err, authz.ErrExpiredPass):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
