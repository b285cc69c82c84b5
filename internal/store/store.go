// Package store defines the persistence interface for the tracker.
// Implementations include PostgreSQL, SQLite (local single-file storage),
// Firestore (document database), a Redis read-through cache, and in-memory
// (for testing).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/model"
)

var (
	// ErrNotFound is returned when a challenge or journal record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStepOutOfOrder is returned when an appended step is not numbered
	// len(steps)+1.
	ErrStepOutOfOrder = errors.New("store: step number out of order")

	// ErrAlreadyExists is returned when a challenge or record id is reused.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. Challenges are append-only ledgers;
// the journal holds hand-entered summary records.
type Store interface {
	// --- Challenge ledger ---

	// CreateChallenge persists a new, empty challenge.
	CreateChallenge(ctx context.Context, c *model.Challenge) error

	// GetChallenge retrieves a challenge and its steps.
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)

	// AppendStep appends one step and recomputes the stored total profit.
	AppendStep(ctx context.Context, id string, step model.Step) error

	// SetFinalResult records a state transition.
	SetFinalResult(ctx context.Context, id string, result model.FinalResult) error

	// ListByDate returns the challenges of one day, newest first.
	ListByDate(ctx context.Context, date string) ([]model.Challenge, error)

	// ListAll returns every challenge, newest first.
	ListAll(ctx context.Context) ([]model.Challenge, error)

	// GetDailyStats totals the challenges of one day.
	GetDailyStats(ctx context.Context, date string) (*model.DailyStats, error)

	// --- Journal ---

	// AddRecord persists a hand-entered summary.
	AddRecord(ctx context.Context, r *model.Summary) error

	// UpdateRecord applies a partial update and returns the new record.
	UpdateRecord(ctx context.Context, id string, patch model.SummaryPatch) (*model.Summary, error)

	// DeleteRecord removes one record.
	DeleteRecord(ctx context.Context, id string) error

	// ListRecords returns every journal record, newest first.
	ListRecords(ctx context.Context) ([]model.Summary, error)

	// ClearRecords removes every journal record.
	ClearRecords(ctx context.Context) error
}

// sumProfits recomputes a challenge's total from its steps.
func sumProfits(steps []model.Step) decimal.Decimal {
	total := decimal.Zero
	for _, s := range steps {
		total = total.Add(s.Bet.Profit)
	}
	return total
}

// decimalColumns parses the NUMERIC/TEXT columns of one row and keeps the
// first failure. Columns are written from decimal.String, so a failure means
// a corrupt row.
type decimalColumns struct {
	err error
}

func (dc *decimalColumns) parse(column, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && dc.err == nil {
		dc.err = fmt.Errorf("parse %s %q: %w", column, s, err)
	}
	return d
}
