// Package payout implements the pooled-stake settlement arithmetic for
// binary outcome markets.
//
// Winning stakes share the combined pool pro rata against the winning
// pool's balance at claim time:
//
//	payout = floor(amount * (winning + losing) / winning)
//
// Balances are integer units, so the division is exact integer division
// (QuoRem with zero precision), never a rounded float. Because the formula
// reads the pools as they stand at claim time, claim order is not
// payout-neutral: earlier claimants settle against larger pools.
//
// All monetary values use shopspring/decimal — never float64 for money.
package payout

import "github.com/shopspring/decimal"

// OddsScale is the number of decimal places for implied-odds rounding.
const OddsScale int32 = 8

// Result describes the transfers for one winning claim.
type Result struct {
	// Payout is the total credited to the claimant.
	Payout decimal.Decimal

	// FromWinning is the stake returned out of the winning pool,
	// capped at the pool's remaining balance.
	FromWinning decimal.Decimal

	// FromLosing is the profit drawn from the losing pool. When the
	// losing pool cannot cover the full profit, only what remains is
	// transferred and the claimant is silently under-paid.
	FromLosing decimal.Decimal
}

// Winning computes the claim transfers for a winning position of the given
// amount against the current winning and losing pool balances.
//
// The stake itself comes back out of the winning pool; profit above the
// stake is drawn from the losing pool. Both transfers are capped at their
// pool's remaining balance, so pools never go negative.
func Winning(amount, winningPool, losingPool decimal.Decimal) Result {
	gross := amount
	if winningPool.IsPositive() {
		total := winningPool.Add(losingPool)
		q, _ := amount.Mul(total).QuoRem(winningPool, 0)
		gross = q
	}

	fromWinning := decimal.Min(amount, winningPool)

	fromLosing := decimal.Zero
	if profit := gross.Sub(amount); profit.IsPositive() {
		fromLosing = decimal.Min(profit, losingPool)
	}

	return Result{
		Payout:      fromWinning.Add(fromLosing),
		FromWinning: fromWinning,
		FromLosing:  fromLosing,
	}
}

// ImpliedYes returns the probability of YES implied by the pool balances:
// yes / (yes + no). An empty market has no information and reads 0.5.
func ImpliedYes(yesPool, noPool decimal.Decimal) decimal.Decimal {
	total := yesPool.Add(noPool)
	if !total.IsPositive() {
		return decimal.NewFromFloat(0.5)
	}
	return yesPool.Div(total).Round(OddsScale)
}

// ImpliedNo returns 1 - ImpliedYes.
func ImpliedNo(yesPool, noPool decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(ImpliedYes(yesPool, noPool))
}

// ValidStake reports whether amount is a positive whole number of units.
// Pools are integer balances; fractional stakes are rejected at the edge.
func ValidStake(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.IsInteger()
}
