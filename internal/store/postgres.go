package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All value amounts are stored as NUMERIC for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Market lifecycle ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, description, category, creator, end_date,
		                      yes_pool, no_pool, status, outcome, reasoning, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13)`,
		m.ID, m.Title, m.Description, m.Category, m.Creator, m.EndDate,
		m.YesPool.String(), m.NoPool.String(), m.Status, m.Outcome,
		m.Reasoning, m.CreatedAt, m.ResolvedAt,
	)
	return err
}

const marketColumns = `id, title, description, category, creator, end_date,
	        yes_pool::TEXT, no_pool::TEXT, status, outcome, reasoning, created_at, resolved_at`

func scanMarket(row interface{ Scan(...interface{}) error }) (*model.Market, error) {
	var m model.Market
	var yesPool, noPool string

	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Creator, &m.EndDate,
		&yesPool, &noPool, &m.Status, &m.Outcome, &m.Reasoning, &m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		return nil, err
	}

	m.YesPool, _ = decimal.NewFromString(yesPool)
	m.NoPool, _ = decimal.NewFromString(noPool)
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketPools(ctx context.Context, id string, yesPool, noPool decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET yes_pool = $2::NUMERIC, no_pool = $3::NUMERIC WHERE id = $1`,
		id, yesPool.String(), noPool.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ResolveMarket(ctx context.Context, id string, m *model.Market) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, outcome = $3, reasoning = $4, resolved_at = $5 WHERE id = $1`,
		id, m.Status, m.Outcome, m.Reasoning, m.ResolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Position registry ---

func (s *PostgresStore) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, market_id, owner, prediction, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		p.ID, p.MarketID, p.Owner, p.Prediction, p.Amount.String(), p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var p model.Position
	var amount string

	err := s.pool.QueryRow(ctx,
		`SELECT id, market_id, owner, prediction, amount::TEXT, created_at
		 FROM positions WHERE id = $1`, id).
		Scan(&p.ID, &p.MarketID, &p.Owner, &p.Prediction, &amount, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, ErrNotFound)
	}

	p.Amount, _ = decimal.NewFromString(amount)
	return &p, nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, owner, prediction, amount::TEXT, created_at
		 FROM positions WHERE owner = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var amount string
		if err := rows.Scan(&p.ID, &p.MarketID, &p.Owner, &p.Prediction, &amount, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Amount, _ = decimal.NewFromString(amount)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- Account balances ---

func (s *PostgresStore) GetBalance(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(
		    (SELECT balance::TEXT FROM balances WHERE owner = $1 AND asset = $2), '0')`,
		owner, asset).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	b, _ := decimal.NewFromString(balance)
	return b, nil
}

func (s *PostgresStore) Credit(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (owner, asset, balance)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (owner, asset) DO UPDATE SET balance = balances.balance + EXCLUDED.balance`,
		owner, asset, amount.String())
	return err
}

func (s *PostgresStore) Debit(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE balances SET balance = balance - $3::NUMERIC
		 WHERE owner = $1 AND asset = $2 AND balance >= $3::NUMERIC`,
		owner, asset, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit %s %s from %s: %w", amount, asset, owner, ErrInsufficientFunds)
	}
	return nil
}

// --- Market directory ---

func (s *PostgresStore) IncrementMarketCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO counters (name, value) VALUES ('markets', 1)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		 RETURNING value`).Scan(&count)
	return count, err
}

func (s *PostgresStore) MarketCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT value FROM counters WHERE name = 'markets'), 0)`).Scan(&count)
	return count, err
}

// --- Access passes and tier registry ---

func (s *PostgresStore) UpsertPass(ctx context.Context, p *model.AccessPass) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO passes (id, owner, tier, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   owner = EXCLUDED.owner, tier = EXCLUDED.tier,
		   issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at`,
		p.ID, p.Owner, p.Tier, p.IssuedAt, p.ExpiresAt)
	return err
}

func (s *PostgresStore) GetPass(ctx context.Context, id string) (*model.AccessPass, error) {
	var p model.AccessPass
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, tier, issued_at, expires_at FROM passes WHERE id = $1`, id).
		Scan(&p.ID, &p.Owner, &p.Tier, &p.IssuedAt, &p.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("get pass %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (s *PostgresStore) SetTier(ctx context.Context, holder string, tier model.Tier) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tiers (holder, tier) VALUES ($1, $2)
		 ON CONFLICT (holder) DO UPDATE SET tier = EXCLUDED.tier`,
		holder, tier)
	return err
}

func (s *PostgresStore) GetTier(ctx context.Context, holder string) (model.Tier, error) {
	var tier model.Tier
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT tier FROM tiers WHERE holder = $1), 'free')`, holder).
		Scan(&tier)
	if err != nil {
		return model.TierFree, err
	}
	return tier, nil
}

func (s *PostgresStore) IncrementPassCount(ctx context.Context, tier model.Tier) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pass_counts (tier, count) VALUES ($1, 1)
		 ON CONFLICT (tier) DO UPDATE SET count = pass_counts.count + 1`, tier)
	return err
}

func (s *PostgresStore) PassCounts(ctx context.Context) (map[model.Tier]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT tier, count FROM pass_counts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.Tier]int64)
	for rows.Next() {
		var tier model.Tier
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		counts[tier] = n
	}
	return counts, rows.Err()
}

// --- Market access policies ---

func (s *PostgresStore) UpsertPolicy(ctx context.Context, p *model.AccessPolicy) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_policies (market_id, requires_premium, public_outcome_ptr,
		                              encrypted_evidence_ptr, policy_package_ref, policy_object_ref, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (market_id) DO UPDATE SET
		   requires_premium = EXCLUDED.requires_premium,
		   public_outcome_ptr = EXCLUDED.public_outcome_ptr,
		   encrypted_evidence_ptr = EXCLUDED.encrypted_evidence_ptr,
		   policy_package_ref = EXCLUDED.policy_package_ref,
		   policy_object_ref = EXCLUDED.policy_object_ref,
		   updated_at = EXCLUDED.updated_at`,
		p.MarketID, p.RequiresPremium, p.PublicOutcomePtr,
		p.EncryptedEvidencePtr, p.PolicyPackageRef, p.PolicyObjectRef, p.UpdatedAt)
	return err
}

func (s *PostgresStore) GetPolicy(ctx context.Context, marketID string) (*model.AccessPolicy, error) {
	var p model.AccessPolicy
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, requires_premium, public_outcome_ptr,
		        encrypted_evidence_ptr, policy_package_ref, policy_object_ref, updated_at
		 FROM access_policies WHERE market_id = $1`, marketID).
		Scan(&p.MarketID, &p.RequiresPremium, &p.PublicOutcomePtr,
			&p.EncryptedEvidencePtr, &p.PolicyPackageRef, &p.PolicyObjectRef, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get policy for market %s: %w", marketID, ErrNotFound)
	}
	return &p, nil
}

// --- Notification log ---

func (s *PostgresStore) AppendEvent(ctx context.Context, e *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, type, market_id, actor, payload, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Type, e.MarketID, e.Actor, []byte(e.Payload), e.Timestamp)
	return err
}

func (s *PostgresStore) ListEventsByMarket(ctx context.Context, marketID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, market_id, actor, payload, timestamp
		 FROM events WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.MarketID, &e.Actor, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}
