// Package model defines the core domain types shared across the tracker.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetResult is the outcome of a single bet.
type BetResult string

const (
	ResultWin     BetResult = "win"
	ResultLoss    BetResult = "loss"
	ResultPending BetResult = "pending"
)

// FinalResult is the lifecycle state of a challenge. Summary records may also
// carry FinalAbandoned, which the ledger never produces.
type FinalResult string

const (
	FinalInProgress FinalResult = "in_progress"
	FinalCompleted  FinalResult = "completed"
	FinalFailed     FinalResult = "failed"
	FinalAbandoned  FinalResult = "abandoned"
)

// Terminal reports whether no further steps may be appended.
func (r FinalResult) Terminal() bool {
	return r == FinalCompleted || r == FinalFailed || r == FinalAbandoned
}

// Bet is one wager. Immutable once Result is set.
type Bet struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Odds      decimal.Decimal `json:"odds"`
	Result    BetResult       `json:"result"`
	Profit    decimal.Decimal `json:"profit"` // win: amount*odds - amount, loss: -amount
	Timestamp time.Time       `json:"timestamp"`
}

// Step is one bet placed within a challenge together with the balance change
// it caused. TotalAfter = TotalBefore + Bet.Profit.
type Step struct {
	ID          string          `json:"id"`
	StepNumber  int             `json:"step_number"` // 1-based, no gaps
	Bet         Bet             `json:"bet"`
	TotalBefore decimal.Decimal `json:"total_before"`
	TotalAfter  decimal.Decimal `json:"total_after"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Challenge is one betting session. Steps are append-only and owned
// exclusively by the challenge.
type Challenge struct {
	ID             string          `json:"id"`
	Date           string          `json:"date"` // YYYY-MM-DD
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Steps          []Step          `json:"steps"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	FinalResult    FinalResult     `json:"final_result"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CurrentTotal is the running balance: the last step's TotalAfter, or the
// initial balance before any step.
func (c *Challenge) CurrentTotal() decimal.Decimal {
	if n := len(c.Steps); n > 0 {
		return c.Steps[n-1].TotalAfter
	}
	return c.InitialBalance
}

// Clone returns a deep copy so callers can hand out challenges without
// sharing the step slice.
func (c Challenge) Clone() Challenge {
	steps := make([]Step, len(c.Steps))
	copy(steps, c.Steps)
	c.Steps = steps
	return c
}

// SummarySource tells where a Summary came from.
type SummarySource string

const (
	SourceLedger  SummarySource = "ledger"  // derived from a recorded Challenge
	SourceJournal SummarySource = "journal" // entered by hand
)

// Summary is the flattened per-challenge record used for analytics. Journal
// records are persisted as Summaries directly.
type Summary struct {
	ID                string          `json:"id"`
	Date              string          `json:"date"`
	InitialInvestment decimal.Decimal `json:"initial_investment"`
	TotalSteps        int             `json:"total_steps"`
	MaxAmountReached  decimal.Decimal `json:"max_amount_reached"`
	FinalResult       FinalResult     `json:"final_result"`
	Observations      string          `json:"observations"`
	Source            SummarySource   `json:"source"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SummaryPatch is a partial update to a journal record. Nil fields are left
// unchanged.
type SummaryPatch struct {
	Date              *string          `json:"date,omitempty"`
	InitialInvestment *decimal.Decimal `json:"initial_investment,omitempty"`
	TotalSteps        *int             `json:"total_steps,omitempty"`
	MaxAmountReached  *decimal.Decimal `json:"max_amount_reached,omitempty"`
	FinalResult       *FinalResult     `json:"final_result,omitempty"`
	Observations      *string          `json:"observations,omitempty"`
}

// Apply copies the set fields of p onto s.
func (p SummaryPatch) Apply(s *Summary) {
	if p.Date != nil {
		s.Date = *p.Date
	}
	if p.InitialInvestment != nil {
		s.InitialInvestment = *p.InitialInvestment
	}
	if p.TotalSteps != nil {
		s.TotalSteps = *p.TotalSteps
	}
	if p.MaxAmountReached != nil {
		s.MaxAmountReached = *p.MaxAmountReached
	}
	if p.FinalResult != nil {
		s.FinalResult = *p.FinalResult
	}
	if p.Observations != nil {
		s.Observations = *p.Observations
	}
}

// DailyStats aggregates all challenges started on one calendar day.
type DailyStats struct {
	Date                string          `json:"date"`
	Challenges          []Challenge     `json:"challenges"`
	TotalChallenges     int             `json:"total_challenges"`
	CompletedChallenges int             `json:"completed_challenges"`
	FailedChallenges    int             `json:"failed_challenges"`
	TotalProfit         decimal.Decimal `json:"total_profit"`
}
