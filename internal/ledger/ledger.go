// Package ledger implements the step-ledger state machine for staking
// challenges: how a challenge's balance evolves bet by bet and when it
// reaches a terminal state.
//
//	in_progress ──loss or balance <= 0──▶ failed
//	     │
//	     └──step count reaches policy threshold / manual finish──▶ completed
//
// The Engine is stateless apart from its Policy: challenges are passed in
// and a new value is returned, the input is never mutated.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/day"
	"github.com/stakeledger/tracker/internal/model"
)

var (
	// ErrInvalidInput is returned for non-positive stakes or odds, an
	// unsettled result, or a malformed date.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrChallengeTerminated is returned when a completed or failed
	// challenge is mutated.
	ErrChallengeTerminated = errors.New("ledger: challenge is no longer in progress")

	// ErrInsufficientFunds is returned when the stake cap is enforced and
	// the stake exceeds the running balance.
	ErrInsufficientFunds = errors.New("ledger: stake exceeds available balance")

	// ErrCorruptLedger is returned by Verify when persisted steps break the
	// numbering or balance chain.
	ErrCorruptLedger = errors.New("ledger: step sequence is inconsistent")
)

// BetInput is a settled bet to commit to a challenge.
type BetInput struct {
	Amount decimal.Decimal
	Odds   decimal.Decimal
	Result model.BetResult
}

// Engine applies bets to challenges under a fixed Policy.
type Engine struct {
	policy Policy
	now    func() time.Time
	newID  func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for step and challenge timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how step, bet and challenge ids are produced.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine creates an engine for the given policy.
func NewEngine(p Policy, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		policy: p,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Profit computes the balance change of a settled bet:
//
//	win:  amount*odds - amount
//	loss: -amount
func Profit(amount, odds decimal.Decimal, result model.BetResult) decimal.Decimal {
	if result == model.ResultWin {
		return amount.Mul(odds).Sub(amount)
	}
	return amount.Neg()
}

// StartChallenge creates an empty in-progress challenge filed under date.
func (e *Engine) StartChallenge(date string) (model.Challenge, error) {
	if _, err := day.Parse(date); err != nil {
		return model.Challenge{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := e.now().UTC()
	return model.Challenge{
		ID:             e.newID(),
		Date:           date,
		InitialBalance: e.policy.InitialBalance,
		Steps:          []model.Step{},
		TotalProfit:    decimal.Zero,
		FinalResult:    model.FinalInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ApplyBet appends one step for the bet and returns the updated challenge.
// Exactly one step is added and TotalProfit moves by exactly the bet's profit.
func (e *Engine) ApplyBet(c model.Challenge, in BetInput) (model.Challenge, error) {
	if c.FinalResult != model.FinalInProgress {
		return c, fmt.Errorf("%w: %s is %s", ErrChallengeTerminated, c.ID, c.FinalResult)
	}
	if err := e.validateBet(in); err != nil {
		return c, err
	}
	if err := e.policy.CheckStake(in.Amount, &c); err != nil {
		return c, err
	}

	profit := Profit(in.Amount, in.Odds, in.Result)
	before := c.CurrentTotal()
	after := before.Add(profit)
	now := e.now().UTC()

	step := model.Step{
		ID:         e.newID(),
		StepNumber: len(c.Steps) + 1,
		Bet: model.Bet{
			ID:        e.newID(),
			Amount:    in.Amount,
			Odds:      in.Odds,
			Result:    in.Result,
			Profit:    profit,
			Timestamp: now,
		},
		TotalBefore: before,
		TotalAfter:  after,
		Timestamp:   now,
	}

	out := c.Clone()
	out.Steps = append(out.Steps, step)
	out.TotalProfit = c.TotalProfit.Add(profit)
	out.FinalResult = e.policy.outcome(in.Result, after, step.StepNumber)
	out.UpdatedAt = now
	return out, nil
}

// FinishChallenge ends an in-progress challenge as completed regardless of
// its balance.
func (e *Engine) FinishChallenge(c model.Challenge) (model.Challenge, error) {
	if c.FinalResult != model.FinalInProgress {
		return c, fmt.Errorf("%w: %s is %s", ErrChallengeTerminated, c.ID, c.FinalResult)
	}
	out := c.Clone()
	out.FinalResult = model.FinalCompleted
	out.UpdatedAt = e.now().UTC()
	return out, nil
}

// Reconcile returns the state a challenge's steps imply. Terminal challenges
// keep their state; an in-progress one moves to the first terminal outcome
// found among its steps.
func (e *Engine) Reconcile(c model.Challenge) model.FinalResult {
	if c.FinalResult != model.FinalInProgress {
		return c.FinalResult
	}
	for _, s := range c.Steps {
		if r := e.policy.outcome(s.Bet.Result, s.TotalAfter, s.StepNumber); r.Terminal() {
			return r
		}
	}
	return model.FinalInProgress
}

func (e *Engine) validateBet(in BetInput) error {
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidInput, in.Amount)
	}
	if !in.Odds.IsPositive() {
		return fmt.Errorf("%w: odds must be positive, got %s", ErrInvalidInput, in.Odds)
	}
	if e.policy.StrictOdds && in.Odds.LessThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: odds must be greater than 1, got %s", ErrInvalidInput, in.Odds)
	}
	switch in.Result {
	case model.ResultWin, model.ResultLoss:
		return nil
	case model.ResultPending, "":
		return fmt.Errorf("%w: bet result must be settled before it is recorded", ErrInvalidInput)
	default:
		return fmt.Errorf("%w: unknown bet result %q", ErrInvalidInput, in.Result)
	}
}

// Verify checks that a challenge's steps are numbered 1..n, chain their
// balances, and sum to TotalProfit.
func Verify(c model.Challenge) error {
	total := c.InitialBalance
	sum := decimal.Zero
	for i, s := range c.Steps {
		if s.StepNumber != i+1 {
			return fmt.Errorf("%w: step %d has number %d", ErrCorruptLedger, i+1, s.StepNumber)
		}
		if !s.TotalBefore.Equal(total) {
			return fmt.Errorf("%w: step %d starts at %s, expected %s", ErrCorruptLedger, s.StepNumber, s.TotalBefore, total)
		}
		if !s.TotalAfter.Equal(s.TotalBefore.Add(s.Bet.Profit)) {
			return fmt.Errorf("%w: step %d balance does not match its profit", ErrCorruptLedger, s.StepNumber)
		}
		total = s.TotalAfter
		sum = sum.Add(s.Bet.Profit)
	}
	if !sum.Equal(c.TotalProfit) {
		return fmt.Errorf("%w: total profit %s, steps sum to %s", ErrCorruptLedger, c.TotalProfit, sum)
	}
	return nil
}
