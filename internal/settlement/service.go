package settlement

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/authz"
	"github.com/walmarket/settlement-engine/internal/feegate"
	"github.com/walmarket/settlement-engine/internal/model"
	"github.com/walmarket/settlement-engine/internal/oracle"
	"github.com/walmarket/settlement-engine/internal/payout"
	"github.com/walmarket/settlement-engine/internal/store"
)

// Service exposes the settlement engine over HTTP. The create and resolve
// paths are optionally wrapped by fee gates; resolution optionally
// publishes an evidence bundle whose pointers feed the access layer.
type Service struct {
	engine      *Engine
	store       store.Store
	createGate  *feegate.Gate
	resolveGate *feegate.Gate
	publisher   *oracle.Publisher
}

// NewService creates the HTTP service. Gates and publisher may be nil.
func NewService(engine *Engine, st store.Store, createGate, resolveGate *feegate.Gate, publisher *oracle.Publisher) *Service {
	return &Service{
		engine:      engine,
		store:       st,
		createGate:  createGate,
		resolveGate: resolveGate,
		publisher:   publisher,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Creator     string    `json:"creator"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	EndDate     time.Time `json:"end_date"`
}

// StakeRequest is the JSON body for POST /markets/{marketID}/stake.
type StakeRequest struct {
	Staker     string          `json:"staker"`
	Prediction model.Outcome   `json:"prediction"`
	Amount     decimal.Decimal `json:"amount"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
// Reasoning and sources are opaque to the engine; they only feed the
// evidence bundle.
type ResolveRequest struct {
	Caller             string          `json:"caller"`
	Outcome            model.Outcome   `json:"outcome"`
	Reasoning          string          `json:"reasoning"`
	ResolutionCriteria string          `json:"resolution_criteria"`
	Sources            []oracle.Source `json:"sources"`
	SystemPrompt       string          `json:"system_prompt"`
	UserPrompt         string          `json:"user_prompt"`
}

// ResolveResponse returns the resolved market and, when evidence
// publishing is wired, the two blob pointers for ConfigureAccess.
type ResolveResponse struct {
	Market      *model.Market `json:"market"`
	EvidencePtr string        `json:"evidence_ptr,omitempty"`
	PublicPtr   string        `json:"public_ptr,omitempty"`
}

// ClaimRequest is the JSON body for POST /positions/{positionID}/claim.
type ClaimRequest struct {
	Caller string `json:"caller"`
}

// DepositRequest is the JSON body for POST /accounts/{owner}/deposit.
type DepositRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.createGate.Charge(ctx, req.Creator); err != nil {
		writeError(w, err.Error(), http.StatusPaymentRequired)
		return
	}

	m, err := s.engine.CreateMarket(ctx, req.Creator, req.Title, req.Description, req.Category, req.EndDate)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("market created",
		"id", m.ID,
		"creator", m.Creator,
		"title", m.Title,
		"end_date", m.EndDate,
	)

	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetOdds handles GET /api/v1/markets/{marketID}/odds
// Returns the outcome probabilities implied by the pool balances.
func (s *Service) GetOdds(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": payout.ImpliedYes(m.YesPool, m.NoPool),
		"no":  payout.ImpliedNo(m.YesPool, m.NoPool),
	})
}

// GetMarketEvents handles GET /api/v1/markets/{marketID}/events
// Returns the market's append-only notification log.
func (s *Service) GetMarketEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEventsByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Stake handles POST /api/v1/markets/{marketID}/stake
func (s *Service) Stake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Staker == "" {
		writeError(w, "staker is required", http.StatusBadRequest)
		return
	}

	p, err := s.engine.Stake(r.Context(), chi.URLParam(r, "marketID"), req.Staker, req.Prediction, req.Amount)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("stake placed",
		"position_id", p.ID,
		"market_id", p.MarketID,
		"staker", p.Owner,
		"prediction", p.Prediction,
		"amount", p.Amount.String(),
	)

	writeJSON(w, http.StatusCreated, p)
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve
// Charges the resolution fee when a gate is configured, fixes the
// outcome, then publishes the evidence bundle when a publisher is wired.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	marketID := chi.URLParam(r, "marketID")

	if err := s.resolveGate.Charge(ctx, req.Caller); err != nil {
		writeError(w, err.Error(), http.StatusPaymentRequired)
		return
	}

	m, err := s.engine.Resolve(ctx, marketID, req.Caller, req.Outcome, req.Reasoning)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	resp := ResolveResponse{Market: m}
	if s.publisher != nil {
		bundle := oracle.NewBundle(m.ID, m.Title, req.ResolutionCriteria, req.Sources,
			req.Outcome, req.Reasoning, req.SystemPrompt, req.UserPrompt)
		evidencePtr, publicPtr, err := s.publisher.Publish(ctx, bundle)
		if err != nil {
			slog.Error("evidence publish failed", "market_id", m.ID, "err", err)
		} else {
			resp.EvidencePtr = evidencePtr
			resp.PublicPtr = publicPtr
		}
	}

	slog.Info("market resolved",
		"market_id", m.ID,
		"outcome", m.Outcome,
		"caller", req.Caller,
	)

	writeJSON(w, http.StatusOK, resp)
}

// Claim handles POST /api/v1/positions/{positionID}/claim
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.engine.Claim(r.Context(), chi.URLParam(r, "positionID"), req.Caller)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("position claimed",
		"position_id", result.PositionID,
		"market_id", result.MarketID,
		"owner", result.Owner,
		"won", result.Won,
		"payout", result.Payout.String(),
	)

	writeJSON(w, http.StatusOK, result)
}

// ListPositions handles GET /api/v1/positions/{owner}
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListPositionsByOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// Deposit handles POST /api/v1/accounts/{owner}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		req.Asset = model.AssetStake
	}

	owner := chi.URLParam(r, "owner")
	if err := s.engine.Deposit(r.Context(), owner, req.Asset, req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	s.GetAccount(w, r)
}

// GetAccount handles GET /api/v1/accounts/{owner}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := chi.URLParam(r, "owner")

	balances := make(map[string]decimal.Decimal, 2)
	for _, asset := range []string{model.AssetStake, model.AssetFee} {
		b, err := s.store.GetBalance(ctx, owner, asset)
		if err != nil {
			writeError(w, "failed to load balances", http.StatusInternalServerError)
			return
		}
		balances[asset] = b
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":    owner,
		"balances": balances,
	})
}

// Stats handles GET /api/v1/stats
// Market directory counter plus passes issued per tier. Advisory only.
func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	markets, err := s.store.MarketCount(ctx)
	if err != nil {
		writeError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	passes, err := s.store.PassCounts(ctx)
	if err != nil {
		writeError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"markets_created": markets,
		"passes_issued":   passes,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingField),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidOutcome):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrNotResolved):
		return http.StatusConflict
	case errors.Is(err, authz.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, feegate.ErrFeeNotPaid):
		return http.StatusPaymentRequired
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
