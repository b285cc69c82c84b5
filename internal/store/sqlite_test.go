package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stakeledger/tracker/internal/ledger"
	"github.com/stakeledger/tracker/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stepOf gives step ids a challenge prefix; step ids are unique per table.
func stepOf(challengeID string, n int, before, profit float64, result model.BetResult) model.Step {
	st := step(n, before, profit, result)
	st.ID = challengeID + "-" + st.ID
	st.Bet.ID = challengeID + "-" + st.Bet.ID
	return st
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite("  "); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestSQLiteStore_CreateAndDuplicate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedChallenge(t, s, "c1", "2025-03-14", t0)

	got, err := s.GetChallenge(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Date != "2025-03-14" || got.FinalResult != model.FinalInProgress || len(got.Steps) != 0 {
		t.Errorf("unexpected challenge: %+v", got)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, t0)
	}

	err = s.CreateChallenge(ctx, &model.Challenge{ID: "c1", Date: "2025-03-14", FinalResult: model.FinalInProgress})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := s.GetChallenge(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_AppendStepAndVerify(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedChallenge(t, s, "c1", "2025-03-14", t0)

	first := stepOf("c1", 1, 0, 50.05, model.ResultWin)
	first.Bet.Amount = d(100.10)
	first.Bet.Odds = d(1.5)
	if err := s.AppendStep(ctx, "c1", first); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := s.AppendStep(ctx, "c1", first); !errors.Is(err, ErrStepOutOfOrder) {
		t.Errorf("expected ErrStepOutOfOrder on re-append, got %v", err)
	}
	if err := s.AppendStep(ctx, "c1", stepOf("c1", 2, 50.05, -10, model.ResultLoss)); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := s.AppendStep(ctx, "missing", stepOf("missing", 1, 0, 10, model.ResultWin)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, err := s.GetChallenge(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(got.Steps))
	}
	if err := ledger.Verify(*got); err != nil {
		t.Errorf("reloaded ledger does not verify: %v", err)
	}
	if !got.TotalProfit.Equal(d(40.05)) {
		t.Errorf("total profit = %s, want 40.05", got.TotalProfit)
	}
	if !got.Steps[0].Bet.Amount.Equal(d(100.10)) || !got.Steps[0].Bet.Odds.Equal(d(1.5)) {
		t.Errorf("bet decimals changed: %s@%s", got.Steps[0].Bet.Amount, got.Steps[0].Bet.Odds)
	}
	if got.Steps[1].Bet.Result != model.ResultLoss || !got.Steps[1].Timestamp.Equal(got.Steps[1].Bet.Timestamp) {
		t.Errorf("unexpected second step: %+v", got.Steps[1])
	}
	if !got.UpdatedAt.Equal(got.Steps[1].Timestamp) {
		t.Errorf("updated_at should follow the last step")
	}
}

func TestSQLiteStore_SetFinalResult(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedChallenge(t, s, "c1", "2025-03-14", t0)

	if err := s.SetFinalResult(ctx, "c1", model.FinalFailed); err != nil {
		t.Fatalf("set final: %v", err)
	}
	got, _ := s.GetChallenge(ctx, "c1")
	if got.FinalResult != model.FinalFailed {
		t.Errorf("final result = %s, want failed", got.FinalResult)
	}
	if err := s.SetFinalResult(ctx, "missing", model.FinalFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListByDateNewestFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedChallenge(t, s, "a", "2025-03-14", t0)
	seedChallenge(t, s, "b", "2025-03-14", t0.Add(time.Hour))
	seedChallenge(t, s, "c", "2025-03-15", t0.Add(24*time.Hour))
	s.AppendStep(ctx, "a", stepOf("a", 1, 0, 10, model.ResultWin))

	got, err := s.ListByDate(ctx, "2025-03-14")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("unexpected order: %v", ids(got))
	}
	if len(got[1].Steps) != 1 {
		t.Errorf("listed challenge should carry its steps, got %d", len(got[1].Steps))
	}

	none, _ := s.ListByDate(ctx, "2024-01-01")
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", none)
	}

	all, _ := s.ListAll(ctx)
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("unexpected ListAll order: %v", ids(all))
	}
}

func TestSQLiteStore_GetDailyStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedChallenge(t, s, "won", "2025-03-14", t0)
	seedChallenge(t, s, "lost", "2025-03-14", t0.Add(time.Minute))
	seedChallenge(t, s, "other", "2025-03-15", t0)

	s.AppendStep(ctx, "won", stepOf("won", 1, 0, 25.5, model.ResultWin))
	s.SetFinalResult(ctx, "won", model.FinalCompleted)
	s.AppendStep(ctx, "lost", stepOf("lost", 1, 0, -10, model.ResultLoss))
	s.SetFinalResult(ctx, "lost", model.FinalFailed)
	s.AppendStep(ctx, "other", stepOf("other", 1, 0, 100, model.ResultWin))

	stats, err := s.GetDailyStats(ctx, "2025-03-14")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalChallenges != 2 || stats.CompletedChallenges != 1 || stats.FailedChallenges != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if !stats.TotalProfit.Equal(d(15.5)) {
		t.Errorf("total profit = %s, want 15.5", stats.TotalProfit)
	}
}

func TestSQLiteStore_RecordLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := &model.Summary{
		ID:                "r1",
		Date:              "2025-03-14",
		InitialInvestment: d(10),
		TotalSteps:        3,
		MaxAmountReached:  d(80.25),
		FinalResult:       model.FinalCompleted,
		Observations:      "steady",
		Source:            model.SourceJournal,
		CreatedAt:         t0,
		UpdatedAt:         t0,
	}
	if err := s.AddRecord(ctx, rec); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddRecord(ctx, rec); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	obs := "stopped early"
	failed := model.FinalFailed
	updated, err := s.UpdateRecord(ctx, "r1", model.SummaryPatch{Observations: &obs, FinalResult: &failed})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Observations != obs || updated.FinalResult != model.FinalFailed {
		t.Errorf("patch not applied: %+v", updated)
	}
	if updated.TotalSteps != 3 || !updated.MaxAmountReached.Equal(d(80.25)) {
		t.Errorf("unset fields changed: %+v", updated)
	}
	if !updated.UpdatedAt.After(t0) {
		t.Errorf("updated_at not advanced: %v", updated.UpdatedAt)
	}
	if _, err := s.UpdateRecord(ctx, "missing", model.SummaryPatch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	listed, err := s.ListRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Observations != obs || listed[0].Source != model.SourceJournal {
		t.Errorf("unexpected records: %+v", listed)
	}

	if err := s.DeleteRecord(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteRecord(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSQLiteStore_ListAndClearRecords(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	s.AddRecord(ctx, &model.Summary{ID: "old", Date: "2025-03-13", FinalResult: model.FinalFailed, CreatedAt: t0})
	s.AddRecord(ctx, &model.Summary{ID: "new", Date: "2025-03-14", FinalResult: model.FinalCompleted, CreatedAt: t0.Add(time.Hour)})

	got, _ := s.ListRecords(ctx)
	if len(got) != 2 || got[0].ID != "new" {
		t.Errorf("unexpected order: %+v", got)
	}

	if err := s.ClearRecords(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = s.ListRecords(ctx)
	if len(got) != 0 {
		t.Errorf("expected no records after clear, got %d", len(got))
	}
}

func TestSQLiteStore_CorruptDecimalIsReported(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedChallenge(t, s, "c1", "2025-03-14", t0)
	if _, err := s.db.ExecContext(ctx, `UPDATE challenges SET total_profit = 'abc' WHERE id = 'c1'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	_, err := s.GetChallenge(ctx, "c1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a parse error, got %v", err)
	}
	if !strings.Contains(err.Error(), "total_profit") {
		t.Errorf("error should name the column: %v", err)
	}
	if _, err := s.ListAll(ctx); err == nil {
		t.Error("expected ListAll to fail on the corrupt row")
	}
}

func TestSQLiteStore_CorruptStepIsReported(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedChallenge(t, s, "c1", "2025-03-14", t0)
	s.AppendStep(ctx, "c1", stepOf("c1", 1, 0, 10, model.ResultWin))
	if _, err := s.db.ExecContext(ctx, `UPDATE challenge_steps SET odds = '' WHERE challenge_id = 'c1'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	_, err := s.GetChallenge(ctx, "c1")
	if err == nil || !strings.Contains(err.Error(), "odds") {
		t.Errorf("expected an odds parse error, got %v", err)
	}
}
