// Package settlement implements the pooled-stake settlement engine:
// market lifecycle, stake accounting, and claim-time payout, plus the
// HTTP handlers and event hub that expose it.
//
// Every command is check-then-commit: all preconditions are validated
// before any state is touched, and each successful command appends
// exactly one notification record. Failed commands leave no trace.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/authz"
	"github.com/walmarket/settlement-engine/internal/metrics"
	"github.com/walmarket/settlement-engine/internal/model"
	"github.com/walmarket/settlement-engine/internal/payout"
	"github.com/walmarket/settlement-engine/internal/store"
)

var (
	// ErrAlreadyResolved is returned when a stake or resolve command
	// targets a market that has left the Active state.
	ErrAlreadyResolved = errors.New("settlement: market is already resolved")

	// ErrNotResolved is returned when a claim targets a market that is
	// still Active.
	ErrNotResolved = errors.New("settlement: market is not resolved yet")

	// ErrInvalidAmount is returned when a stake amount is not a positive
	// whole number of units.
	ErrInvalidAmount = errors.New("settlement: amount must be a positive whole number")

	// ErrInvalidOutcome is returned when a prediction or resolution
	// outcome is neither yes nor no.
	ErrInvalidOutcome = errors.New("settlement: outcome must be yes or no")

	// ErrMissingField is returned by Create when a required field is empty.
	ErrMissingField = errors.New("settlement: required field is empty")
)

// Engine executes settlement commands against the shared store. A mutex
// serializes command execution (single-instance), standing in for the
// host ledger's per-object total order. For horizontal scaling, replace
// with database-level optimistic concurrency.
type Engine struct {
	store store.Store
	hub   *Hub // optional event hub for real-time broadcasts
	mu    sync.Mutex
}

// NewEngine creates a settlement engine. Pass nil for hub if event
// broadcasting is not needed.
func NewEngine(st store.Store, hub *Hub) *Engine {
	return &Engine{store: st, hub: hub}
}

// CreateMarket opens a new binary market with both pools empty. No
// precondition relates endDate to the current time: a market may be
// created already past its nominal end.
func (e *Engine) CreateMarket(ctx context.Context, creator, title, description, category string, endDate time.Time) (*model.Market, error) {
	if creator == "" || title == "" {
		return nil, fmt.Errorf("%w: creator and title are required", ErrMissingField)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m := &model.Market{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Category:    category,
		Creator:     creator,
		EndDate:     endDate,
		YesPool:     decimal.Zero,
		NoPool:      decimal.Zero,
		Status:      model.StatusActive,
		Outcome:     model.OutcomePending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}
	if _, err := e.store.IncrementMarketCount(ctx); err != nil {
		return nil, err
	}

	metrics.MarketsCreated.Inc()
	err := e.emit(ctx, model.EventMarketCreated, m.ID, creator, map[string]string{
		"market_id": m.ID,
		"creator":   creator,
		"title":     title,
		"end_date":  endDate.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Stake routes amount from the staker's balance into the chosen pool and
// mints one claim ticket. The market keeps accepting stakes after its
// nominal end date; only resolution closes it.
func (e *Engine) Stake(ctx context.Context, marketID, staker string, prediction model.Outcome, amount decimal.Decimal) (*model.Position, error) {
	if !prediction.Binary() {
		return nil, ErrInvalidOutcome
	}
	if !payout.ValidStake(amount) {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.StatusActive {
		return nil, ErrAlreadyResolved
	}

	if err := e.store.Debit(ctx, staker, model.AssetStake, amount); err != nil {
		return nil, err
	}

	yes, no := m.YesPool, m.NoPool
	if prediction == model.OutcomeYes {
		yes = yes.Add(amount)
	} else {
		no = no.Add(amount)
	}
	if err := e.store.UpdateMarketPools(ctx, marketID, yes, no); err != nil {
		return nil, err
	}

	p := &model.Position{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		Owner:      staker,
		Prediction: prediction,
		Amount:     amount,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.InsertPosition(ctx, p); err != nil {
		return nil, err
	}

	metrics.StakesTotal.WithLabelValues(string(prediction)).Inc()
	err = e.emit(ctx, model.EventStakePlaced, marketID, staker, map[string]string{
		"position_id": p.ID,
		"prediction":  string(prediction),
		"amount":      amount.String(),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Resolve fixes the market's outcome, irreversibly. Only the creator
// holds the resolver capability; the engine does not gate on end_date —
// callers that want time-gating enforce it before calling through.
func (e *Engine) Resolve(ctx context.Context, marketID, caller string, outcome model.Outcome, reasoning string) (*model.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanResolve(m, caller); err != nil {
		return nil, err
	}
	if m.Status != model.StatusActive {
		return nil, ErrAlreadyResolved
	}
	if !outcome.Binary() {
		return nil, ErrInvalidOutcome
	}

	m.Status = model.StatusFor(outcome)
	m.Outcome = outcome
	m.Reasoning = reasoning
	m.ResolvedAt = time.Now().UTC()
	if err := e.store.ResolveMarket(ctx, marketID, m); err != nil {
		return nil, err
	}

	metrics.ResolutionsTotal.WithLabelValues(string(outcome)).Inc()
	err = e.emit(ctx, model.EventMarketResolved, marketID, caller, map[string]string{
		"outcome": string(outcome),
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ClaimResult describes the settlement of one position.
type ClaimResult struct {
	PositionID string          `json:"position_id"`
	MarketID   string          `json:"market_id"`
	Owner      string          `json:"owner"`
	Won        bool            `json:"won"`
	Payout     decimal.Decimal `json:"payout"`
}

// Claim consumes a position against its resolved market. The ticket is
// destroyed win or lose; a winning ticket settles against the pools as
// they stand right now, so claim order shifts individual payouts.
func (e *Engine) Claim(ctx context.Context, positionID, caller string) (*ClaimResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if p.Owner != caller {
		return nil, authz.ErrNotAuthorized
	}

	m, err := e.store.GetMarket(ctx, p.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Status == model.StatusActive {
		return nil, ErrNotResolved
	}

	won := m.Outcome.Binary() && m.Outcome == p.Prediction

	// Consuming the ticket is what makes the claim exactly-once.
	if err := e.store.DeletePosition(ctx, positionID); err != nil {
		return nil, err
	}

	paid := decimal.Zero
	if won {
		var res payout.Result
		var yes, no decimal.Decimal
		if p.Prediction == model.OutcomeYes {
			res = payout.Winning(p.Amount, m.YesPool, m.NoPool)
			yes = m.YesPool.Sub(res.FromWinning)
			no = m.NoPool.Sub(res.FromLosing)
		} else {
			res = payout.Winning(p.Amount, m.NoPool, m.YesPool)
			no = m.NoPool.Sub(res.FromWinning)
			yes = m.YesPool.Sub(res.FromLosing)
		}
		if err := e.store.UpdateMarketPools(ctx, m.ID, yes, no); err != nil {
			return nil, err
		}
		if err := e.store.Credit(ctx, p.Owner, model.AssetStake, res.Payout); err != nil {
			return nil, err
		}
		paid = res.Payout
	}

	result := "lost"
	if won {
		result = "won"
	}
	metrics.ClaimsTotal.WithLabelValues(result).Inc()
	if won {
		f, _ := paid.Float64()
		metrics.PayoutUnits.Add(f)
	}

	err = e.emit(ctx, model.EventPositionClaimed, m.ID, caller, map[string]string{
		"position_id": positionID,
		"result":      result,
		"payout":      paid.String(),
	})
	if err != nil {
		return nil, err
	}

	return &ClaimResult{
		PositionID: positionID,
		MarketID:   m.ID,
		Owner:      p.Owner,
		Won:        won,
		Payout:     paid,
	}, nil
}

// Deposit credits an account balance. This is the host-ledger faucet used
// by deployments without an external balance source.
func (e *Engine) Deposit(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is required", ErrMissingField)
	}
	if asset != model.AssetStake && asset != model.AssetFee {
		return fmt.Errorf("%w: unknown asset %q", ErrMissingField, asset)
	}
	if !payout.ValidStake(amount) {
		return ErrInvalidAmount
	}
	return e.store.Credit(ctx, owner, asset, amount)
}

// emit appends the command's notification record and pushes it to any
// connected event-stream clients.
func (e *Engine) emit(ctx context.Context, typ, marketID, actor string, payload interface{}) error {
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
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	if e.hub != nil {
		e.hub.Broadcast(ev)
	}
	return nil
}
