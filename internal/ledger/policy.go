package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/model"
)

// ErrInvalidPolicy is returned by Validate for out-of-range settings.
var ErrInvalidPolicy = errors.New("ledger: invalid policy")

// Policy holds the rules that differ between staking variants.
type Policy struct {
	// CompletionSteps is the step count at which a still-solvent challenge
	// completes on its own. Zero disables auto-completion; the challenge
	// then only completes through FinishChallenge.
	CompletionSteps int

	// CapStake rejects stakes larger than the running balance once a
	// balance exists (after the first step, or from the start when
	// InitialBalance is positive).
	CapStake bool

	// StrictOdds requires odds > 1 instead of odds > 0.
	StrictOdds bool

	// InitialBalance seeds TotalBefore of the first step.
	InitialBalance decimal.Decimal
}

// DefaultPolicy auto-completes at three steps, does not cap stakes and
// starts from a zero balance.
func DefaultPolicy() Policy {
	return Policy{
		CompletionSteps: 3,
		InitialBalance:  decimal.Zero,
	}
}

// Validate rejects negative thresholds and balances.
func (p Policy) Validate() error {
	if p.CompletionSteps < 0 {
		return fmt.Errorf("%w: completion steps must not be negative, got %d", ErrInvalidPolicy, p.CompletionSteps)
	}
	if p.InitialBalance.IsNegative() {
		return fmt.Errorf("%w: initial balance must not be negative, got %s", ErrInvalidPolicy, p.InitialBalance)
	}
	return nil
}

// CheckStake validates a stake against the challenge's running balance.
// Returns nil if the cap is disabled, no balance exists yet, or the stake
// fits.
func (p Policy) CheckStake(amount decimal.Decimal, c *model.Challenge) error {
	if !p.CapStake {
		return nil
	}
	if len(c.Steps) == 0 && !c.InitialBalance.IsPositive() {
		// First stake of a zero-balance challenge seeds it.
		return nil
	}
	available := c.CurrentTotal()
	if amount.GreaterThan(available) {
		return fmt.Errorf("%w: stake %s, available %s", ErrInsufficientFunds, amount, available)
	}
	return nil
}

// outcome decides the state after a step was appended.
func (p Policy) outcome(result model.BetResult, totalAfter decimal.Decimal, stepNumber int) model.FinalResult {
	if result == model.ResultLoss || totalAfter.LessThanOrEqual(decimal.Zero) {
		return model.FinalFailed
	}
	if p.CompletionSteps > 0 && stepNumber >= p.CompletionSteps {
		return model.FinalCompleted
	}
	return model.FinalInProgress
}
