// Package tracker runs staking challenges end to end: it threads a Challenge
// value through the ledger, persists every step, publishes lifecycle events
// and serves the aggregate views.
//
// All monetary values use shopspring/decimal, never float64.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/analytics"
	"github.com/stakeledger/tracker/internal/day"
	"github.com/stakeledger/tracker/internal/events"
	"github.com/stakeledger/tracker/internal/ledger"
	"github.com/stakeledger/tracker/internal/metrics"
	"github.com/stakeledger/tracker/internal/model"
	"github.com/stakeledger/tracker/internal/store"
)

// ErrStorageUnavailable wraps backend failures other than missing or
// conflicting rows.
var ErrStorageUnavailable = errors.New("tracker: storage unavailable")

// Service handles challenge operations. Bets are applied under a mutex
// (single-instance); the store's step numbering check catches writers in
// other processes.
type Service struct {
	store         store.Store
	engine        *ledger.Engine
	events        events.Publisher
	stepThreshold int
	log           *slog.Logger
	now           func() time.Time
	newID         func() string
	mu            sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithStepThreshold sets the long-challenge threshold used by Report.
func WithStepThreshold(n int) Option {
	return func(s *Service) { s.stepThreshold = n }
}

// WithClock overrides the time source for default dates and record
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how journal record ids are produced.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a tracker service. Pass nil for pub if events are not
// needed.
func NewService(st store.Store, engine *ledger.Engine, pub events.Publisher, opts ...Option) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	s := &Service{
		store:         st,
		engine:        engine,
		events:        pub,
		stepThreshold: analytics.DefaultStepThreshold,
		log:           slog.Default(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the current day key in UTC.
func (s *Service) Today() string {
	return day.Of(s.now())
}

// --- Challenge ledger ---

// StartChallenge creates and persists an empty challenge. An empty date
// means today.
func (s *Service) StartChallenge(ctx context.Context, date string) (model.Challenge, error) {
	if date == "" {
		date = s.Today()
	}
	c, err := s.engine.StartChallenge(date)
	if err != nil {
		return model.Challenge{}, err
	}
	if err := s.store.CreateChallenge(ctx, &c); err != nil {
		return model.Challenge{}, storageErr("create challenge", err)
	}

	metrics.ChallengesStarted.Inc()
	s.publish(ctx, events.ChallengeStarted, c)
	s.log.Info("challenge started", "id", c.ID, "date", c.Date, "initial_balance", c.InitialBalance.String())
	return c, nil
}

// PlaceBet commits a settled bet to the challenge and returns the updated
// challenge. The step is persisted before the state transition; if the
// second write fails the error is returned and the step stays recorded.
// The next PlaceBet or FinishChallenge on that challenge stores the missed
// transition before anything else.
func (s *Service) PlaceBet(ctx context.Context, id string, in ledger.BetInput) (model.Challenge, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return model.Challenge{}, storageErr("load challenge", err)
	}
	if err := ledger.Verify(*current); err != nil {
		s.log.Error("stored ledger is inconsistent", "id", id, "err", err)
		return model.Challenge{}, err
	}
	if err := s.reconcile(ctx, current); err != nil {
		return model.Challenge{}, err
	}

	next, err := s.engine.ApplyBet(*current, in)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.StakeRejections.Inc()
		}
		return model.Challenge{}, err
	}

	step := next.Steps[len(next.Steps)-1]
	if err := s.store.AppendStep(ctx, id, step); err != nil {
		return model.Challenge{}, storageErr("append step", err)
	}
	if next.FinalResult != current.FinalResult {
		if err := s.store.SetFinalResult(ctx, id, next.FinalResult); err != nil {
			return model.Challenge{}, storageErr("set final result", err)
		}
	}

	metrics.BetsTotal.WithLabelValues(string(in.Result)).Inc()
	metrics.BetLatency.Observe(time.Since(start).Seconds())

	s.publish(ctx, events.StepAppended, next)
	if next.FinalResult.Terminal() {
		metrics.ChallengesFinished.WithLabelValues(string(next.FinalResult)).Inc()
		s.publish(ctx, events.ChallengeFinished, next)
	}

	s.log.Info("bet recorded",
		"id", id,
		"step", step.StepNumber,
		"amount", step.Bet.Amount.String(),
		"odds", step.Bet.Odds.String(),
		"result", step.Bet.Result,
		"profit", step.Bet.Profit.String(),
		"total_after", step.TotalAfter.String(),
		"final_result", next.FinalResult,
	)
	return next, nil
}

// FinishChallenge completes an in-progress challenge by hand.
func (s *Service) FinishChallenge(ctx context.Context, id string) (model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return model.Challenge{}, storageErr("load challenge", err)
	}
	if err := s.reconcile(ctx, current); err != nil {
		return model.Challenge{}, err
	}
	next, err := s.engine.FinishChallenge(*current)
	if err != nil {
		return model.Challenge{}, err
	}
	if err := s.store.SetFinalResult(ctx, id, next.FinalResult); err != nil {
		return model.Challenge{}, storageErr("set final result", err)
	}

	metrics.ChallengesFinished.WithLabelValues(string(next.FinalResult)).Inc()
	s.publish(ctx, events.ChallengeFinished, next)
	s.log.Info("challenge finished", "id", id, "steps", len(next.Steps), "total_profit", next.TotalProfit.String())
	return next, nil
}

// GetChallenge loads one challenge.
func (s *Service) GetChallenge(ctx context.Context, id string) (model.Challenge, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return model.Challenge{}, storageErr("load challenge", err)
	}
	return *c, nil
}

// CurrentChallenge returns the most recent in-progress challenge of the day.
// An empty date means today.
func (s *Service) CurrentChallenge(ctx context.Context, date string) (model.Challenge, error) {
	if date == "" {
		date = s.Today()
	}
	challenges, err := s.ListChallenges(ctx, date)
	if err != nil {
		return model.Challenge{}, err
	}
	for _, c := range challenges {
		if c.FinalResult == model.FinalInProgress {
			return c, nil
		}
	}
	return model.Challenge{}, fmt.Errorf("%w: no challenge in progress on %s", store.ErrNotFound, date)
}

// ListChallenges returns the challenges of one day, or all of them when
// date is empty. Newest first.
func (s *Service) ListChallenges(ctx context.Context, date string) ([]model.Challenge, error) {
	var (
		challenges []model.Challenge
		err        error
	)
	if date == "" {
		challenges, err = s.store.ListAll(ctx)
	} else {
		if _, perr := day.Parse(date); perr != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, perr)
		}
		challenges, err = s.store.ListByDate(ctx, date)
	}
	if err != nil {
		return nil, storageErr("list challenges", err)
	}
	if challenges == nil {
		challenges = []model.Challenge{}
	}
	return challenges, nil
}

// DailyStats totals one day. An empty date means today.
func (s *Service) DailyStats(ctx context.Context, date string) (model.DailyStats, error) {
	if date == "" {
		date = s.Today()
	}
	if _, err := day.Parse(date); err != nil {
		return model.DailyStats{}, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
	}
	stats, err := s.store.GetDailyStats(ctx, date)
	if err != nil {
		return model.DailyStats{}, storageErr("daily stats", err)
	}
	return *stats, nil
}

// --- Analytics ---

// ReportQuery narrows a Report. Empty fields do not filter.
type ReportQuery struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Result string `json:"result,omitempty"`
}

// Report is the analytics view over ledger challenges and journal records.
type Report struct {
	Query     ReportQuery         `json:"query"`
	Stats     analytics.Stats     `json:"stats"`
	Analytics analytics.Analytics `json:"analytics"`
	Records   []model.Summary     `json:"records"`
}

// Report summarizes every recorded challenge plus the journal, filtered by q.
func (s *Service) Report(ctx context.Context, q ReportQuery) (Report, error) {
	rng, err := day.NewRange(q.From, q.To)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
	}
	if !validResultFilter(q.Result) {
		return Report{}, fmt.Errorf("%w: unknown result filter %q", ledger.ErrInvalidInput, q.Result)
	}

	challenges, err := s.store.ListAll(ctx)
	if err != nil {
		return Report{}, storageErr("list challenges", err)
	}
	journal, err := s.store.ListRecords(ctx)
	if err != nil {
		return Report{}, storageErr("list records", err)
	}

	records := append(analytics.SummarizeAll(challenges), journal...)
	records = analytics.FilterByDateRange(records, rng.From, rng.To)
	records = analytics.FilterByResult(records, q.Result)

	return Report{
		Query:     q,
		Stats:     analytics.CalculateStats(records),
		Analytics: analytics.CalculateAnalytics(records, s.stepThreshold),
		Records:   records,
	}, nil
}

func validResultFilter(r string) bool {
	switch model.FinalResult(r) {
	case "", analytics.ResultAll, model.FinalInProgress, model.FinalCompleted, model.FinalFailed, model.FinalAbandoned:
		return true
	}
	return false
}

// --- Journal ---

// RecordInput is a hand-entered challenge summary.
type RecordInput struct {
	Date              string
	InitialInvestment decimal.Decimal
	TotalSteps        int
	MaxAmountReached  decimal.Decimal
	FinalResult       model.FinalResult
	Observations      string
}

// AddRecord validates and stores a journal record.
func (s *Service) AddRecord(ctx context.Context, in RecordInput) (model.Summary, error) {
	now := s.now().UTC()
	r := model.Summary{
		ID:                s.newID(),
		Date:              in.Date,
		InitialInvestment: in.InitialInvestment,
		TotalSteps:        in.TotalSteps,
		MaxAmountReached:  in.MaxAmountReached,
		FinalResult:       in.FinalResult,
		Observations:      in.Observations,
		Source:            model.SourceJournal,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := validateRecord(r); err != nil {
		return model.Summary{}, err
	}
	if err := s.store.AddRecord(ctx, &r); err != nil {
		return model.Summary{}, storageErr("add record", err)
	}
	s.log.Info("journal record added", "id", r.ID, "date", r.Date, "final_result", r.FinalResult)
	return r, nil
}

// UpdateRecord applies a partial update. The merged record must still be
// valid.
func (s *Service) UpdateRecord(ctx context.Context, id string, patch model.SummaryPatch) (model.Summary, error) {
	var probe model.Summary
	patch.Apply(&probe)
	if err := validatePatch(patch, probe); err != nil {
		return model.Summary{}, err
	}
	r, err := s.store.UpdateRecord(ctx, id, patch)
	if err != nil {
		return model.Summary{}, storageErr("update record", err)
	}
	return *r, nil
}

// DeleteRecord removes one journal record.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return storageErr("delete record", err)
	}
	s.log.Info("journal record deleted", "id", id)
	return nil
}

// ListRecords returns the journal, newest first.
func (s *Service) ListRecords(ctx context.Context) ([]model.Summary, error) {
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	if records == nil {
		records = []model.Summary{}
	}
	return records, nil
}

// ClearRecords empties the journal.
func (s *Service) ClearRecords(ctx context.Context) error {
	if err := s.store.ClearRecords(ctx); err != nil {
		return storageErr("clear records", err)
	}
	s.log.Warn("journal cleared")
	return nil
}

func validateRecord(r model.Summary) error {
	if _, err := day.Parse(r.Date); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
	}
	if r.InitialInvestment.IsNegative() || r.MaxAmountReached.IsNegative() {
		return fmt.Errorf("%w: amounts must not be negative", ledger.ErrInvalidInput)
	}
	if r.TotalSteps < 0 {
		return fmt.Errorf("%w: total steps must not be negative", ledger.ErrInvalidInput)
	}
	switch r.FinalResult {
	case model.FinalInProgress, model.FinalCompleted, model.FinalFailed, model.FinalAbandoned:
		return nil
	}
	return fmt.Errorf("%w: unknown final result %q", ledger.ErrInvalidInput, r.FinalResult)
}

// validatePatch checks only the fields the patch sets; probe holds them.
func validatePatch(p model.SummaryPatch, probe model.Summary) error {
	if p.Date != nil {
		if _, err := day.Parse(probe.Date); err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
		}
	}
	if probe.InitialInvestment.IsNegative() || probe.MaxAmountReached.IsNegative() {
		return fmt.Errorf("%w: amounts must not be negative", ledger.ErrInvalidInput)
	}
	if probe.TotalSteps < 0 {
		return fmt.Errorf("%w: total steps must not be negative", ledger.ErrInvalidInput)
	}
	if p.FinalResult != nil {
		switch probe.FinalResult {
		case model.FinalInProgress, model.FinalCompleted, model.FinalFailed, model.FinalAbandoned:
		default:
			return fmt.Errorf("%w: unknown final result %q", ledger.ErrInvalidInput, probe.FinalResult)
		}
	}
	return nil
}

// --- Helpers ---

// reconcile stores the state c's steps imply when a previous transition
// write was lost, and updates c to match.
func (s *Service) reconcile(ctx context.Context, c *model.Challenge) error {
	settled := s.engine.Reconcile(*c)
	if settled == c.FinalResult {
		return nil
	}
	s.log.Warn("storing missed state transition", "id", c.ID, "stored", c.FinalResult, "derived", settled)
	if err := s.store.SetFinalResult(ctx, c.ID, settled); err != nil {
		return storageErr("set final result", err)
	}
	c.FinalResult = settled

	metrics.ChallengesFinished.WithLabelValues(string(settled)).Inc()
	s.publish(ctx, events.ChallengeFinished, *c)
	return nil
}

func (s *Service) publish(ctx context.Context, t events.Type, c model.Challenge) {
	if err := s.events.Publish(ctx, events.NewEvent(t, c)); err != nil {
		metrics.EventPublishFailures.WithLabelValues(string(t)).Inc()
		s.log.Warn("event publish failed", "type", t, "id", c.ID, "err", err)
	}
}

// storageErr passes through errors callers act on and wraps the rest.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrStepOutOfOrder),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
