// Package analytics derives statistics from challenge history. Every
// function is pure and deterministic; empty input yields zero values,
// never a division error.
package analytics

import (
	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/day"
	"github.com/stakeledger/tracker/internal/model"
)

// ResultAll is the FilterByResult sentinel that keeps every record.
const ResultAll = "all"

// DefaultStepThreshold is the step count a challenge must exceed to count
// as long-running in Analytics.
const DefaultStepThreshold = 5

var hundred = decimal.NewFromInt(100)

// Stats is the headline aggregate over a set of records.
type Stats struct {
	TotalChallenges      int             `json:"total_challenges"`
	AverageSteps         decimal.Decimal `json:"average_steps"`
	TotalInvestment      decimal.Decimal `json:"total_investment"`
	TotalMaxGain         decimal.Decimal `json:"total_max_gain"`
	AveragePerformance   decimal.Decimal `json:"average_performance"`
	CompletedChallenges  int             `json:"completed_challenges"`
	FailedChallenges     int             `json:"failed_challenges"`
	AbandonedChallenges  int             `json:"abandoned_challenges"`
	InProgressChallenges int             `json:"in_progress_challenges"`
}

// Analytics holds comparative figures over a set of records.
type Analytics struct {
	BestPerformingChallenge *model.Summary  `json:"best_performing_challenge"`
	StepThreshold           int             `json:"step_threshold"`
	ChallengesOverThreshold int             `json:"challenges_over_threshold"`
	AveragePerformance      decimal.Decimal `json:"average_performance"`
	TotalNetGain            decimal.Decimal `json:"total_net_gain"`
	SuccessRate             decimal.Decimal `json:"success_rate"`
}

// Performance returns the percentage gained from initial to max:
//
//	(max / initial) * 100 - 100
//
// It is 0 when initial <= 0.
func Performance(maxAmount, initialInvestment decimal.Decimal) decimal.Decimal {
	if initialInvestment.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return maxAmount.Div(initialInvestment).Mul(hundred).Sub(hundred)
}

// NetGain returns max - initial.
func NetGain(maxAmount, initialInvestment decimal.Decimal) decimal.Decimal {
	return maxAmount.Sub(initialInvestment)
}

// RoundHalfUp rounds to places decimals, sending halves toward +∞
// (-2.345 → -2.34, 2.345 → 2.35).
func RoundHalfUp(x decimal.Decimal, places int32) decimal.Decimal {
	half := decimal.New(5, -1)
	return x.Shift(places).Add(half).Floor().Shift(-places)
}

// CalculateStats aggregates the records.
func CalculateStats(records []model.Summary) Stats {
	stats := Stats{
		AverageSteps:       decimal.Zero,
		TotalInvestment:    decimal.Zero,
		TotalMaxGain:       decimal.Zero,
		AveragePerformance: decimal.Zero,
	}
	if len(records) == 0 {
		return stats
	}

	steps := 0
	perf := decimal.Zero
	for _, r := range records {
		steps += r.TotalSteps
		stats.TotalInvestment = stats.TotalInvestment.Add(r.InitialInvestment)
		stats.TotalMaxGain = stats.TotalMaxGain.Add(r.MaxAmountReached)
		perf = perf.Add(Performance(r.MaxAmountReached, r.InitialInvestment))

		switch r.FinalResult {
		case model.FinalCompleted:
			stats.CompletedChallenges++
		case model.FinalFailed:
			stats.FailedChallenges++
		case model.FinalAbandoned:
			stats.AbandonedChallenges++
		case model.FinalInProgress:
			stats.InProgressChallenges++
		}
	}

	n := decimal.NewFromInt(int64(len(records)))
	stats.TotalChallenges = len(records)
	stats.AverageSteps = RoundHalfUp(decimal.NewFromInt(int64(steps)).Div(n), 2)
	stats.AveragePerformance = RoundHalfUp(perf.Div(n), 2)
	return stats
}

// CalculateAnalytics compares the records. threshold <= 0 falls back to
// DefaultStepThreshold.
func CalculateAnalytics(records []model.Summary, threshold int) Analytics {
	if threshold <= 0 {
		threshold = DefaultStepThreshold
	}
	a := Analytics{
		StepThreshold:      threshold,
		AveragePerformance: decimal.Zero,
		TotalNetGain:       decimal.Zero,
		SuccessRate:        decimal.Zero,
	}
	if len(records) == 0 {
		return a
	}

	var best *model.Summary
	var bestPerf decimal.Decimal
	perf := decimal.Zero
	gain := decimal.Zero
	completed := 0

	for i := range records {
		r := &records[i]
		p := Performance(r.MaxAmountReached, r.InitialInvestment)
		// Strictly greater: ties keep the earlier record.
		if best == nil || p.GreaterThan(bestPerf) {
			best, bestPerf = r, p
		}
		if r.TotalSteps > threshold {
			a.ChallengesOverThreshold++
		}
		if r.FinalResult == model.FinalCompleted {
			completed++
		}
		perf = perf.Add(p)
		gain = gain.Add(NetGain(r.MaxAmountReached, r.InitialInvestment))
	}

	n := decimal.NewFromInt(int64(len(records)))
	bestCopy := *best
	a.BestPerformingChallenge = &bestCopy
	a.AveragePerformance = RoundHalfUp(perf.Div(n), 2)
	a.TotalNetGain = RoundHalfUp(gain, 2)
	a.SuccessRate = RoundHalfUp(decimal.NewFromInt(int64(completed)).Div(n).Mul(hundred), 2)
	return a
}

// FilterByDateRange keeps records whose date lies in [start, end]. Dates are
// compared as strings, which matches calendar order for YYYY-MM-DD.
func FilterByDateRange(records []model.Summary, start, end string) []model.Summary {
	r := day.Range{From: start, To: end}
	out := make([]model.Summary, 0, len(records))
	for _, rec := range records {
		if r.Contains(rec.Date) {
			out = append(out, rec)
		}
	}
	return out
}

// FilterByResult keeps records with the given final result. An empty result
// or ResultAll returns the input unchanged.
func FilterByResult(records []model.Summary, result string) []model.Summary {
	if result == "" || result == ResultAll {
		return records
	}
	out := make([]model.Summary, 0, len(records))
	for _, rec := range records {
		if string(rec.FinalResult) == result {
			out = append(out, rec)
		}
	}
	return out
}

// Summarize flattens a ledger challenge into a Summary.
//
// The investment is the initial balance, or the first stake when the
// challenge started from zero. The max amount is the investment plus the
// best running profit, never below the investment.
func Summarize(c model.Challenge) model.Summary {
	investment := c.InitialBalance
	if !investment.IsPositive() {
		investment = decimal.Zero
		if len(c.Steps) > 0 {
			investment = c.Steps[0].Bet.Amount
		}
	}

	peak := decimal.Zero
	for _, s := range c.Steps {
		if running := s.TotalAfter.Sub(c.InitialBalance); running.GreaterThan(peak) {
			peak = running
		}
	}

	return model.Summary{
		ID:                c.ID,
		Date:              c.Date,
		InitialInvestment: investment,
		TotalSteps:        len(c.Steps),
		MaxAmountReached:  investment.Add(peak),
		FinalResult:       c.FinalResult,
		Source:            model.SourceLedger,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// SummarizeAll flattens every challenge, preserving order.
func SummarizeAll(challenges []model.Challenge) []model.Summary {
	out := make([]model.Summary, 0, len(challenges))
	for _, c := range challenges {
		out = append(out, Summarize(c))
	}
	return out
}

// DailyStats totals the challenges of one day.
func DailyStats(date string, challenges []model.Challenge) model.DailyStats {
	ds := model.DailyStats{
		Date:        date,
		Challenges:  challenges,
		TotalProfit: decimal.Zero,
	}
	if ds.Challenges == nil {
		ds.Challenges = []model.Challenge{}
	}
	for _, c := range challenges {
		ds.TotalChallenges++
		ds.TotalProfit = ds.TotalProfit.Add(c.TotalProfit)
		switch c.FinalResult {
		case model.FinalCompleted:
			ds.CompletedChallenges++
		case model.FinalFailed:
			ds.FailedChallenges++
		}
	}
	return ds
}
