// Package feegate implements the pay-per-call fee relay that wraps market
// creation and resolution: an exact fee in the secondary asset is routed
// to the treasury, and only on successful payment does the wrapped
// command execute. The engine itself never validates fees — that is this
// wrapper's contract.
package feegate

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/model"
	"github.com/walmarket/settlement-engine/internal/store"
)

// ErrFeeNotPaid is returned when the caller's fee balance cannot cover
// the exact fee. The wrapped command must not run in that case.
var ErrFeeNotPaid = errors.New("feegate: fee payment failed")

// Gate charges a fixed fee per call. A nil Gate or a zero fee disables
// charging entirely.
type Gate struct {
	store    store.Store
	fee      decimal.Decimal
	treasury string
}

// New creates a fee gate routing payments to the treasury account.
func New(st store.Store, fee decimal.Decimal, treasury string) *Gate {
	return &Gate{store: st, fee: fee, treasury: treasury}
}

// Enabled reports whether the gate actually charges.
func (g *Gate) Enabled() bool {
	return g != nil && g.fee.IsPositive()
}

// Fee returns the configured per-call fee.
func (g *Gate) Fee() decimal.Decimal {
	if g == nil {
		return decimal.Zero
	}
	return g.fee
}

// Charge debits the exact fee from payer and credits the treasury.
// On any failure the caller must not invoke the wrapped command.
func (g *Gate) Charge(ctx context.Context, payer string) error {
	if !g.Enabled() {
		return nil
	}
	if err := g.store.Debit(ctx, payer, model.AssetFee, g.fee); err != nil {
		return fmt.Errorf("%w: charge %s from %s: %v", ErrFeeNotPaid, g.fee, payer, err)
	}
	return g.store.Credit(ctx, g.treasury, model.AssetFee, g.fee)
}
