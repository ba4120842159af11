package settlement_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/evidence"
	"github.com/walmarket/settlement-engine/internal/feegate"
	"github.com/walmarket/settlement-engine/internal/model"
	"github.com/walmarket/settlement-engine/internal/oracle"
	"github.com/walmarket/settlement-engine/internal/settlement"
	"github.com/walmarket/settlement-engine/internal/store"
)

// newTestEnv creates a test Service with in-memory store, in-memory
// evidence publisher, and chi router. Fee gates are off unless fee > 0.
func newTestEnv(t *testing.T, fee int64) (*settlement.Engine, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	engine := settlement.NewEngine(ms, nil)
	publisher := oracle.NewPublisher(evidence.NewMemoryStore())

	var createGate, resolveGate *feegate.Gate
	if fee > 0 {
		createGate = feegate.New(ms, d(fee), "treasury")
		resolveGate = feegate.New(ms, d(fee), "treasury")
	}
	svc := settlement.NewService(engine, ms, createGate, resolveGate, publisher)

	r := chi.NewRouter()
	r.Get("/api/v1/markets", svc.ListMarkets)
	r.Post("/api/v1/markets", svc.CreateMarket)
	r.Get("/api/v1/markets/{marketID}", svc.GetMarket)
	r.Get("/api/v1/markets/{marketID}/odds", svc.GetOdds)
	r.Get("/api/v1/markets/{marketID}/events", svc.GetMarketEvents)
	r.Post("/api/v1/markets/{marketID}/stake", svc.Stake)
	r.Post("/api/v1/markets/{marketID}/resolve", svc.Resolve)
	r.Post("/api/v1/positions/{positionID}/claim", svc.Claim)
	r.Get("/api/v1/positions/{owner}", svc.ListPositions)
	r.Post("/api/v1/accounts/{owner}/deposit", svc.Deposit)
	r.Get("/api/v1/accounts/{owner}", svc.GetAccount)
	r.Get("/api/v1/stats", svc.Stats)

	return engine, ms, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Market lifecycle over HTTP ---

func TestCreateMarket_HTTP(t *testing.T) {
	_, _, router := newTestEnv(t, 0)

	w := doJSON(t, router, "POST", "/api/v1/markets", settlement.CreateMarketRequest{
		Creator:  "alice",
		Title:    "Will checkout latency drop below 200ms this quarter?",
		Category: "ops",
		EndDate:  time.Now().UTC().Add(30 * 24 * time.Hour),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.ID == "" {
		t.Error("expected non-empty market id")
	}
	if m.Status != model.StatusActive {
		t.Errorf("expected active status, got %s", m.Status)
	}
}

func TestCreateMarket_HTTP_MissingTitle(t *testing.T) {
	_, _, router := newTestEnv(t, 0)

	w := doJSON(t, router, "POST", "/api/v1/markets", settlement.CreateMarketRequest{
		Creator: "alice",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStake_HTTP(t *testing.T) {
	eng, _, router := newTestEnv(t, 0)
	ctx := context.Background()
	m, _ := eng.CreateMarket(ctx, "alice", "test market", "", "", time.Now().UTC())

	w := doJSON(t, router, "POST", "/api/v1/accounts/bob/deposit", settlement.DepositRequest{
		Amount: d(500),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit failed: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/stake", settlement.StakeRequest{
		Staker:     "bob",
		Prediction: model.OutcomeYes,
		Amount:     d(300),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var p model.Position
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.Owner != "bob" || !p.Amount.Equal(d(300)) {
		t.Errorf("unexpected position: owner=%s amount=%s", p.Owner, p.Amount)
	}

	// Over-staking the remaining balance pays 402.
	w = doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/stake", settlement.StakeRequest{
		Staker:     "bob",
		Prediction: model.OutcomeNo,
		Amount:     d(300),
	})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402 for insufficient funds, got %d", w.Code)
	}

	// Fractional stakes are rejected at the edge.
	w = doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/stake", settlement.StakeRequest{
		Staker:     "bob",
		Prediction: model.OutcomeYes,
		Amount:     decimal.NewFromFloat(1.5),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for fractional stake, got %d", w.Code)
	}

	// Unknown market.
	w = doJSON(t, router, "POST", "/api/v1/markets/nope/stake", settlement.StakeRequest{
		Staker:     "bob",
		Prediction: model.OutcomeYes,
		Amount:     d(10),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown market, got %d", w.Code)
	}
}

func TestResolve_HTTP_PublishesEvidence(t *testing.T) {
	eng, _, router := newTestEnv(t, 0)
	m, _ := eng.CreateMarket(context.Background(), "alice", "test market", "", "", time.Now().UTC())

	w := doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve", settlement.ResolveRequest{
		Caller:    "alice",
		Outcome:   model.OutcomeYes,
		Reasoning: "all sources agree",
		Sources:   []oracle.Source{{ID: "s1", URL: "https://example.com", Data: "yes"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp settlement.ResolveResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Market.Status != model.StatusResolvedYes {
		t.Errorf("expected resolved_yes, got %s", resp.Market.Status)
	}
	if resp.EvidencePtr == "" || resp.PublicPtr == "" {
		t.Errorf("expected both evidence pointers, got evidence=%q public=%q",
			resp.EvidencePtr, resp.PublicPtr)
	}
}

func TestResolve_HTTP_Unauthorized(t *testing.T) {
	eng, _, router := newTestEnv(t, 0)
	m, _ := eng.CreateMarket(context.Background(), "alice", "test market", "", "", time.Now().UTC())

	w := doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve", settlement.ResolveRequest{
		Caller:  "mallory",
		Outcome: model.OutcomeYes,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestResolve_HTTP_Twice(t *testing.T) {
	eng, _, router := newTestEnv(t, 0)
	m, _ := eng.CreateMarket(context.Background(), "alice", "test market", "", "", time.Now().UTC())

	req := settlement.ResolveRequest{Caller: "alice", Outcome: model.OutcomeNo}
	if w := doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve", req); w.Code != http.StatusOK {
		t.Fatalf("first resolve failed: %d", w.Code)
	}
	if w := doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve", req); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second resolve, got %d", w.Code)
	}
}

func TestClaim_HTTP(t *testing.T) {
	eng, _, router := newTestEnv(t, 0)
	ctx := context.Background()
	m, _ := eng.CreateMarket(ctx, "alice", "test market", "", "", time.Now().UTC())
	fund(t, eng, "bob", 300)
	fund(t, eng, "carol", 100)

	p, _ := eng.Stake(ctx, m.ID, "bob", model.OutcomeYes, d(300))
	eng.Stake(ctx, m.ID, "carol", model.OutcomeNo, d(100))

	// Claiming before resolution conflicts.
	w := doJSON(t, router, "POST", "/api/v1/positions/"+p.ID+"/claim", settlement.ClaimRequest{Caller: "bob"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 before resolution, got %d", w.Code)
	}

	eng.Resolve(ctx, m.ID, "alice", model.OutcomeYes, "")

	w = doJSON(t, router, "POST", "/api/v1/positions/"+p.ID+"/claim", settlement.ClaimRequest{Caller: "bob"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res settlement.ClaimResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Won || !res.Payout.Equal(d(400)) {
		t.Errorf("expected winning payout 400, got won=%v payout=%s", res.Won, res.Payout)
	}

	// The ticket is gone; a replay 404s.
	w = doJSON(t, router, "POST", "/api/v1/positions/"+p.ID+"/claim", settlement.ClaimRequest{Caller: "bob"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on claim replay, got %d", w.Code)
	}
}

func TestGetOdds_HTTP(t *testing.T) {
	eng, _, router := newTestEnv(t, 0)
	ctx := context.Background()
	m, _ := eng.CreateMarket(ctx, "alice", "test market", "", "", time.Now().UTC())
	fund(t, eng, "bob", 300)
	fund(t, eng, "carol", 100)
	eng.Stake(ctx, m.ID, "bob", model.OutcomeYes, d(300))
	eng.Stake(ctx, m.ID, "carol", model.OutcomeNo, d(100))

	w := doJSON(t, router, "GET", "/api/v1/markets/"+m.ID+"/odds", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var odds map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &odds)
	if !odds["yes"].Equal(decimal.NewFromFloat(0.75)) {
		t.Errorf("expected yes odds 0.75, got %s", odds["yes"])
	}
	if !odds["no"].Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("expected no odds 0.25, got %s", odds["no"])
	}
}

func TestListPositions_HTTP(t *testing.T) {
	eng, _, router := newTestEnv(t, 0)
	ctx := context.Background()
	m, _ := eng.CreateMarket(ctx, "alice", "test market", "", "", time.Now().UTC())
	fund(t, eng, "bob", 100)
	eng.Stake(ctx, m.ID, "bob", model.OutcomeYes, d(100))

	w := doJSON(t, router, "GET", "/api/v1/positions/bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var positions []model.Position
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	// Unknown owners get an empty list, not null.
	w = doJSON(t, router, "GET", "/api/v1/positions/nobody", nil)
	if body := w.Body.String(); body == "null\n" {
		t.Error("expected empty array for unknown owner, got null")
	}
}

// --- Fee gate over HTTP ---

func TestCreateMarket_HTTP_FeeGated(t *testing.T) {
	_, ms, router := newTestEnv(t, 10)

	req := settlement.CreateMarketRequest{
		Creator: "alice",
		Title:   "gated market",
		EndDate: time.Now().UTC(),
	}

	// No FEE balance yet.
	w := doJSON(t, router, "POST", "/api/v1/markets", req)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 without fee balance, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/accounts/alice/deposit", settlement.DepositRequest{
		Asset:  model.AssetFee,
		Amount: d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("fee deposit failed: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/markets", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 after fee deposit, got %d: %s", w.Code, w.Body.String())
	}

	// The fee landed in the treasury.
	tb, err := ms.GetBalance(context.Background(), "treasury", model.AssetFee)
	if err != nil {
		t.Fatalf("failed to read treasury balance: %v", err)
	}
	if !tb.Equal(d(10)) {
		t.Errorf("expected treasury balance 10, got %s", tb)
	}
}

// --- Stats ---

func TestStats_HTTP(t *testing.T) {
	eng, _, router := newTestEnv(t, 0)
	ctx := context.Background()
	eng.CreateMarket(ctx, "alice", "m1", "", "", time.Now().UTC())
	eng.CreateMarket(ctx, "alice", "m2", "", "", time.Now().UTC())

	w := doJSON(t, router, "GET", "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats struct {
		MarketsCreated int64 `json:"markets_created"`
	}
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.MarketsCreated != 2 {
		t.Errorf("expected 2 markets created, got %d", stats.MarketsCreated)
	}
}
