package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEngine returns an engine with a fixed clock and sequential ids.
func newTestEngine(t *testing.T, p Policy) *Engine {
	t.Helper()
	clock := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
	n := 0
	e, err := NewEngine(p,
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func start(t *testing.T, e *Engine) model.Challenge {
	t.Helper()
	c, err := e.StartChallenge("2025-08-15")
	if err != nil {
		t.Fatalf("start challenge: %v", err)
	}
	return c
}

func mustApply(t *testing.T, e *Engine, c model.Challenge, amount, odds float64, result model.BetResult) model.Challenge {
	t.Helper()
	out, err := e.ApplyBet(c, BetInput{Amount: d(amount), Odds: d(odds), Result: result})
	if err != nil {
		t.Fatalf("apply bet %v@%v %s: %v", amount, odds, result, err)
	}
	return out
}

// --- Constructor tests ---

func TestNewEngine_NegativeCompletionSteps(t *testing.T) {
	p := DefaultPolicy()
	p.CompletionSteps = -1
	_, err := NewEngine(p)
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestNewEngine_NegativeInitialBalance(t *testing.T) {
	p := DefaultPolicy()
	p.InitialBalance = d(-10)
	_, err := NewEngine(p)
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}

// --- StartChallenge ---

func TestStartChallenge_Empty(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := start(t, e)

	if c.FinalResult != model.FinalInProgress {
		t.Errorf("expected in_progress, got %s", c.FinalResult)
	}
	if len(c.Steps) != 0 {
		t.Errorf("expected no steps, got %d", len(c.Steps))
	}
	if !c.TotalProfit.IsZero() {
		t.Errorf("expected zero profit, got %s", c.TotalProfit)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Error("expected id and created_at to be set")
	}
}

func TestStartChallenge_InvalidDate(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	_, err := e.StartChallenge("15/08/2025")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// --- Profit ---

func TestProfit(t *testing.T) {
	tests := []struct {
		amount, odds float64
		result       model.BetResult
		want         float64
	}{
		{100, 2.0, model.ResultWin, 100},
		{100, 1.5, model.ResultWin, 50},
		{100, 1.5, model.ResultLoss, -100},
		{40, 3.25, model.ResultWin, 90},
		{40, 0.5, model.ResultWin, -20},
	}
	for _, tt := range tests {
		got := Profit(d(tt.amount), d(tt.odds), tt.result)
		if !got.Equal(d(tt.want)) {
			t.Errorf("Profit(%v, %v, %s) = %s, want %v", tt.amount, tt.odds, tt.result, got, tt.want)
		}
	}
}

// --- ApplyBet scenarios ---

func TestApplyBet_WinBelowThreshold(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 100, 2.0, model.ResultWin)

	if len(c.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(c.Steps))
	}
	s := c.Steps[0]
	if !s.Bet.Profit.Equal(d(100)) {
		t.Errorf("expected profit=100, got %s", s.Bet.Profit)
	}
	if !s.TotalBefore.IsZero() {
		t.Errorf("expected total_before=0, got %s", s.TotalBefore)
	}
	if !s.TotalAfter.Equal(d(100)) {
		t.Errorf("expected total_after=100, got %s", s.TotalAfter)
	}
	if c.FinalResult != model.FinalInProgress {
		t.Errorf("expected in_progress below threshold, got %s", c.FinalResult)
	}
}

func TestApplyBet_LossFails(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 100, 2.0, model.ResultWin)
	c = mustApply(t, e, c, 100, 1.5, model.ResultLoss)

	s := c.Steps[1]
	if !s.Bet.Profit.Equal(d(-100)) {
		t.Errorf("expected profit=-100, got %s", s.Bet.Profit)
	}
	if !s.TotalAfter.Equal(s.TotalBefore.Sub(d(100))) {
		t.Errorf("expected total_after=total_before-100, got %s -> %s", s.TotalBefore, s.TotalAfter)
	}
	if c.FinalResult != model.FinalFailed {
		t.Errorf("expected failed after loss, got %s", c.FinalResult)
	}
}

func TestApplyBet_ThreeWinsComplete(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := start(t, e)

	for i := 1; i <= 3; i++ {
		c = mustApply(t, e, c, 10, 2.0, model.ResultWin)
		want := model.FinalInProgress
		if i == 3 {
			want = model.FinalCompleted
		}
		if c.FinalResult != want {
			t.Errorf("after step %d expected %s, got %s", i, want, c.FinalResult)
		}
	}
}

func TestApplyBet_ZeroBalanceAfterLossFails(t *testing.T) {
	p := DefaultPolicy()
	p.InitialBalance = d(100)
	e := newTestEngine(t, p)

	c := mustApply(t, e, start(t, e), 100, 2.0, model.ResultLoss)
	if !c.CurrentTotal().IsZero() {
		t.Fatalf("expected balance 0, got %s", c.CurrentTotal())
	}
	if c.FinalResult != model.FinalFailed {
		t.Errorf("expected failed at balance 0, got %s", c.FinalResult)
	}
}

func TestApplyBet_ZeroBalanceAfterWinFails(t *testing.T) {
	// Odds of exactly 1 return the stake with no profit: balance stays 0.
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 50, 1.0, model.ResultWin)
	if c.FinalResult != model.FinalFailed {
		t.Errorf("expected failed at balance <= 0, got %s", c.FinalResult)
	}
}

func TestApplyBet_ManualCompletionOnly(t *testing.T) {
	p := DefaultPolicy()
	p.CompletionSteps = 0
	e := newTestEngine(t, p)

	c := start(t, e)
	for i := 0; i < 5; i++ {
		c = mustApply(t, e, c, 10, 1.8, model.ResultWin)
	}
	if c.FinalResult != model.FinalInProgress {
		t.Fatalf("expected in_progress without threshold, got %s", c.FinalResult)
	}

	c, err := e.FinishChallenge(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FinalResult != model.FinalCompleted {
		t.Errorf("expected completed after finish, got %s", c.FinalResult)
	}
}

func TestApplyBet_TerminatedRejected(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 100, 2.0, model.ResultLoss)

	_, err := e.ApplyBet(c, BetInput{Amount: d(10), Odds: d(2), Result: model.ResultWin})
	if !errors.Is(err, ErrChallengeTerminated) {
		t.Errorf("expected ErrChallengeTerminated, got %v", err)
	}
}

func TestApplyBet_InvalidInput(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := start(t, e)

	tests := []BetInput{
		{Amount: d(0), Odds: d(2), Result: model.ResultWin},
		{Amount: d(-5), Odds: d(2), Result: model.ResultWin},
		{Amount: d(10), Odds: d(0), Result: model.ResultWin},
		{Amount: d(10), Odds: d(-1.5), Result: model.ResultLoss},
		{Amount: d(10), Odds: d(2), Result: model.ResultPending},
		{Amount: d(10), Odds: d(2), Result: ""},
		{Amount: d(10), Odds: d(2), Result: "push"},
	}
	for _, in := range tests {
		_, err := e.ApplyBet(c, in)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for %+v, got %v", in, err)
		}
	}
}

func TestApplyBet_StrictOdds(t *testing.T) {
	p := DefaultPolicy()
	p.StrictOdds = true
	e := newTestEngine(t, p)
	c := start(t, e)

	_, err := e.ApplyBet(c, BetInput{Amount: d(10), Odds: d(1), Result: model.ResultWin})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for odds=1 under strict odds, got %v", err)
	}
	if _, err := e.ApplyBet(c, BetInput{Amount: d(10), Odds: d(1.01), Result: model.ResultWin}); err != nil {
		t.Errorf("expected odds=1.01 to be accepted, got %v", err)
	}
}

func TestApplyBet_StakeCap(t *testing.T) {
	p := DefaultPolicy()
	p.CapStake = true
	p.CompletionSteps = 0
	e := newTestEngine(t, p)

	// First stake of a zero-balance challenge is not capped.
	c := mustApply(t, e, start(t, e), 100, 2.0, model.ResultWin)

	_, err := e.ApplyBet(c, BetInput{Amount: d(150), Odds: d(2), Result: model.ResultWin})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	// Staking the whole balance is allowed.
	mustApply(t, e, c, 100, 2.0, model.ResultWin)
}

func TestApplyBet_StakeCapWithInitialBalance(t *testing.T) {
	p := DefaultPolicy()
	p.CapStake = true
	p.InitialBalance = d(50)
	e := newTestEngine(t, p)

	_, err := e.ApplyBet(start(t, e), BetInput{Amount: d(60), Odds: d(2), Result: model.ResultWin})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestApplyBet_StakeNotCappedByDefault(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 10, 2.0, model.ResultWin)
	mustApply(t, e, c, 1000, 2.0, model.ResultWin)
}

func TestApplyBet_DoesNotMutateInput(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 10, 2.0, model.ResultWin)
	before := c.Clone()

	mustApply(t, e, c, 10, 2.0, model.ResultWin)

	if len(c.Steps) != len(before.Steps) {
		t.Errorf("input steps changed: %d -> %d", len(before.Steps), len(c.Steps))
	}
	if !c.TotalProfit.Equal(before.TotalProfit) || c.FinalResult != before.FinalResult {
		t.Error("input challenge was mutated")
	}
}

// --- FinishChallenge ---

func TestFinishChallenge_Terminated(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c, err := e.FinishChallenge(start(t, e))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.FinishChallenge(c); !errors.Is(err, ErrChallengeTerminated) {
		t.Errorf("expected ErrChallengeTerminated on second finish, got %v", err)
	}
}

// --- Invariants ---

func TestApplyBet_LedgerInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p := DefaultPolicy()
	p.CompletionSteps = 0
	p.InitialBalance = d(500)

	for trial := 0; trial < 50; trial++ {
		e := newTestEngine(t, p)
		c := start(t, e)
		sum := decimal.Zero

		for i := 0; i < 20 && c.FinalResult == model.FinalInProgress; i++ {
			amount := decimal.NewFromInt(int64(rng.Intn(50) + 1))
			odds := decimal.NewFromInt(int64(rng.Intn(300) + 101)).Div(decimal.NewFromInt(100))
			result := model.ResultWin
			if rng.Intn(10) == 0 {
				result = model.ResultLoss
			}

			next, err := e.ApplyBet(c, BetInput{Amount: amount, Odds: odds, Result: result})
			if err != nil {
				t.Fatalf("trial %d step %d: %v", trial, i+1, err)
			}
			profit := next.Steps[len(next.Steps)-1].Bet.Profit
			if !next.TotalProfit.Sub(c.TotalProfit).Equal(profit) {
				t.Fatalf("total profit moved by %s, bet profit %s", next.TotalProfit.Sub(c.TotalProfit), profit)
			}
			if len(next.Steps) != len(c.Steps)+1 {
				t.Fatalf("expected exactly one appended step")
			}
			sum = sum.Add(profit)
			c = next
		}

		for i, s := range c.Steps {
			if s.StepNumber != i+1 {
				t.Errorf("steps[%d].StepNumber = %d", i, s.StepNumber)
			}
		}
		last := c.Steps[len(c.Steps)-1].TotalAfter
		if !last.Equal(p.InitialBalance.Add(c.TotalProfit)) {
			t.Errorf("last total_after %s != initial + total profit %s", last, p.InitialBalance.Add(c.TotalProfit))
		}
		if !sum.Equal(c.TotalProfit) {
			t.Errorf("sum of profits %s != total profit %s", sum, c.TotalProfit)
		}
		if err := Verify(c); err != nil {
			t.Errorf("verify: %v", err)
		}
	}
}

func TestVerify_DetectsGap(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 10, 2.0, model.ResultWin)
	c = mustApply(t, e, c, 10, 2.0, model.ResultWin)
	c.Steps[1].StepNumber = 3

	if err := Verify(c); !errors.Is(err, ErrCorruptLedger) {
		t.Errorf("expected ErrCorruptLedger, got %v", err)
	}
}

func TestVerify_DetectsBrokenChain(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 10, 2.0, model.ResultWin)
	c = mustApply(t, e, c, 10, 2.0, model.ResultWin)
	c.Steps[1].TotalBefore = d(999)

	if err := Verify(c); !errors.Is(err, ErrCorruptLedger) {
		t.Errorf("expected ErrCorruptLedger, got %v", err)
	}
}

func TestReconcile_LossLeftInProgress(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 100, 2, model.ResultLoss)
	c.FinalResult = model.FinalInProgress

	if got := e.Reconcile(c); got != model.FinalFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestReconcile_ThresholdLeftInProgress(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := start(t, e)
	for i := 0; i < 3; i++ {
		c = mustApply(t, e, c, 10, 2, model.ResultWin)
	}
	c.FinalResult = model.FinalInProgress

	if got := e.Reconcile(c); got != model.FinalCompleted {
		t.Errorf("expected completed, got %s", got)
	}
}

func TestReconcile_Unchanged(t *testing.T) {
	e := newTestEngine(t, DefaultPolicy())
	c := mustApply(t, e, start(t, e), 10, 2, model.ResultWin)
	if got := e.Reconcile(c); got != model.FinalInProgress {
		t.Errorf("expected in_progress, got %s", got)
	}

	finished, err := e.FinishChallenge(c)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got := e.Reconcile(finished); got != model.FinalCompleted {
		t.Errorf("terminal state must be kept, got %s", got)
	}
}
