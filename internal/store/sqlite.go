package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/stakeledger/tracker/internal/analytics"
	"github.com/stakeledger/tracker/internal/model"
)

// SQLiteStore implements Store in a single local SQLite file. It replaces
// browser local storage for single-user installs.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO challenges (id, date, initial_balance, total_profit, final_result, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Date, c.InitialBalance.String(), c.TotalProfit.String(),
		string(c.FinalResult), toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if isSQLiteConstraint(err) {
		return fmt.Errorf("%w: challenge %s", ErrAlreadyExists, c.ID)
	}
	return err
}

func (s *SQLiteStore) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, date, initial_balance, total_profit, final_result, created_at, updated_at
		 FROM challenges WHERE id = ?`, id)
	c, err := scanSQLiteChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge %s: %w", id, err)
	}
	if c.Steps, err = s.loadSteps(ctx, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) AppendStep(ctx context.Context, id string, step model.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM challenge_steps WHERE challenge_id = c.id) FROM challenges c WHERE c.id = ?`,
		id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if step.StepNumber != count+1 {
		return fmt.Errorf("%w: got %d, expected %d", ErrStepOutOfOrder, step.StepNumber, count+1)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO challenge_steps (id, challenge_id, step_number, bet_id, amount, odds, result, profit,
		                              bet_timestamp, total_before, total_after, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, id, step.StepNumber, step.Bet.ID,
		step.Bet.Amount.String(), step.Bet.Odds.String(), string(step.Bet.Result), step.Bet.Profit.String(),
		toMillis(step.Bet.Timestamp), step.TotalBefore.String(), step.TotalAfter.String(), toMillis(step.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}

	// SQLite has no decimal type; sum in Go to keep totals exact.
	steps, err := querySteps(ctx, tx, id)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE challenges SET total_profit = ?, updated_at = ? WHERE id = ?`,
		sumProfits(steps).String(), toMillis(step.Timestamp), id,
	)
	if err != nil {
		return fmt.Errorf("update challenge totals: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetFinalResult(ctx context.Context, id string, result model.FinalResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE challenges SET final_result = ?, updated_at = ? WHERE id = ?`,
		string(result), toMillis(time.Now()), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) ListByDate(ctx context.Context, date string) ([]model.Challenge, error) {
	return s.listChallenges(ctx,
		`SELECT id, date, initial_balance, total_profit, final_result, created_at, updated_at
		 FROM challenges WHERE date = ? ORDER BY created_at DESC, id DESC`, date)
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]model.Challenge, error) {
	return s.listChallenges(ctx,
		`SELECT id, date, initial_balance, total_profit, final_result, created_at, updated_at
		 FROM challenges ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) GetDailyStats(ctx context.Context, date string) (*model.DailyStats, error) {
	challenges, err := s.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	stats := analytics.DailyStats(date, challenges)
	return &stats, nil
}

func (s *SQLiteStore) AddRecord(ctx context.Context, r *model.Summary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_records (id, date, initial_investment, total_steps, max_amount_reached,
		                              final_result, observations, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Date, r.InitialInvestment.String(), r.TotalSteps, r.MaxAmountReached.String(),
		string(r.FinalResult), r.Observations, toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	)
	if isSQLiteConstraint(err) {
		return fmt.Errorf("%w: record %s", ErrAlreadyExists, r.ID)
	}
	return err
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, id string, patch model.SummaryPatch) (*model.Summary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, date, initial_investment, total_steps, max_amount_reached,
		        final_result, observations, created_at, updated_at
		 FROM journal_records WHERE id = ?`, id)
	r, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	patch.Apply(&r)
	r.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE journal_records
		 SET date = ?, initial_investment = ?, total_steps = ?, max_amount_reached = ?,
		     final_result = ?, observations = ?, updated_at = ?
		 WHERE id = ?`,
		r.Date, r.InitialInvestment.String(), r.TotalSteps, r.MaxAmountReached.String(),
		string(r.FinalResult), r.Observations, toMillis(r.UpdatedAt), id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM journal_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context) ([]model.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, initial_investment, total_steps, max_amount_reached,
		        final_result, observations, created_at, updated_at
		 FROM journal_records ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.Summary{}
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) ClearRecords(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM journal_records`)
	return err
}

// --- Row helpers ---

func (s *SQLiteStore) listChallenges(ctx context.Context, query string, args ...any) ([]model.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	challenges := []model.Challenge{}
	for rows.Next() {
		c, err := scanSQLiteChallenge(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		challenges = append(challenges, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range challenges {
		if challenges[i].Steps, err = s.loadSteps(ctx, challenges[i].ID); err != nil {
			return nil, err
		}
	}
	return challenges, nil
}

func (s *SQLiteStore) loadSteps(ctx context.Context, challengeID string) ([]model.Step, error) {
	return querySteps(ctx, s.db, challengeID)
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querySteps(ctx context.Context, q sqlQuerier, challengeID string) ([]model.Step, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, step_number, bet_id, amount, odds, result, profit,
		        bet_timestamp, total_before, total_after, timestamp
		 FROM challenge_steps WHERE challenge_id = ? ORDER BY step_number`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	steps := []model.Step{}
	for rows.Next() {
		var st model.Step
		var amountS, oddsS, result, profitS, beforeS, afterS string
		var betTS, ts int64
		if err := rows.Scan(&st.ID, &st.StepNumber, &st.Bet.ID, &amountS, &oddsS, &result, &profitS,
			&betTS, &beforeS, &afterS, &ts); err != nil {
			return nil, err
		}
		var dc decimalColumns
		st.Bet.Amount = dc.parse("amount", amountS)
		st.Bet.Odds = dc.parse("odds", oddsS)
		st.Bet.Result = model.BetResult(result)
		st.Bet.Profit = dc.parse("profit", profitS)
		st.Bet.Timestamp = fromMillis(betTS)
		st.TotalBefore = dc.parse("total_before", beforeS)
		st.TotalAfter = dc.parse("total_after", afterS)
		st.Timestamp = fromMillis(ts)
		if dc.err != nil {
			return nil, fmt.Errorf("step %s: %w", st.ID, dc.err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteChallenge(row sqlRow) (model.Challenge, error) {
	var c model.Challenge
	var initialS, profitS, result string
	var created, updated int64
	if err := row.Scan(&c.ID, &c.Date, &initialS, &profitS, &result, &created, &updated); err != nil {
		return c, err
	}
	var dc decimalColumns
	c.InitialBalance = dc.parse("initial_balance", initialS)
	c.TotalProfit = dc.parse("total_profit", profitS)
	if dc.err != nil {
		return c, fmt.Errorf("challenge %s: %w", c.ID, dc.err)
	}
	c.FinalResult = model.FinalResult(result)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func scanSQLiteRecord(row sqlRow) (model.Summary, error) {
	var r model.Summary
	var investS, maxS, result string
	var created, updated int64
	if err := row.Scan(&r.ID, &r.Date, &investS, &r.TotalSteps, &maxS,
		&result, &r.Observations, &created, &updated); err != nil {
		return r, err
	}
	var dc decimalColumns
	r.InitialInvestment = dc.parse("initial_investment", investS)
	r.MaxAmountReached = dc.parse("max_amount_reached", maxS)
	if dc.err != nil {
		return r, fmt.Errorf("record %s: %w", r.ID, dc.err)
	}
	r.FinalResult = model.FinalResult(result)
	r.Source = model.SourceJournal
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT
}
