package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakeledger/tracker/internal/analytics"
	"github.com/stakeledger/tracker/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO challenges (id, date, initial_balance, total_profit, final_result, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)`,
		c.ID, c.Date, c.InitialBalance.String(), c.TotalProfit.String(),
		string(c.FinalResult), c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: challenge %s", ErrAlreadyExists, c.ID)
	}
	return err
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, date, initial_balance::TEXT, total_profit::TEXT, final_result, created_at, updated_at
		 FROM challenges WHERE id = $1`, id)

	c, err := scanChallenge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge %s: %w", id, err)
	}

	steps, err := s.loadSteps(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	c.Steps = steps[id]
	if c.Steps == nil {
		c.Steps = []model.Step{}
	}
	return &c, nil
}

// AppendStep locks the challenge row so concurrent appends cannot both take
// the same step number.
func (s *PostgresStore) AppendStep(ctx context.Context, id string, step model.Step) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM challenges WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM challenge_steps WHERE challenge_id = $1`, id).Scan(&count); err != nil {
		return err
	}
	if step.StepNumber != count+1 {
		return fmt.Errorf("%w: got %d, expected %d", ErrStepOutOfOrder, step.StepNumber, count+1)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO challenge_steps (id, challenge_id, step_number, bet_id, amount, odds, result, profit,
		                              bet_timestamp, total_before, total_after, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9, $10::NUMERIC, $11::NUMERIC, $12)`,
		step.ID, id, step.StepNumber, step.Bet.ID,
		step.Bet.Amount.String(), step.Bet.Odds.String(), string(step.Bet.Result), step.Bet.Profit.String(),
		step.Bet.Timestamp, step.TotalBefore.String(), step.TotalAfter.String(), step.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE challenges
		 SET total_profit = (SELECT COALESCE(SUM(profit), 0) FROM challenge_steps WHERE challenge_id = $1),
		     updated_at = $2
		 WHERE id = $1`,
		id, step.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("update challenge totals: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) SetFinalResult(ctx context.Context, id string, result model.FinalResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE challenges SET final_result = $2, updated_at = $3 WHERE id = $1`,
		id, string(result), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListByDate(ctx context.Context, date string) ([]model.Challenge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, date, initial_balance::TEXT, total_profit::TEXT, final_result, created_at, updated_at
		 FROM challenges WHERE date = $1 ORDER BY created_at DESC, id DESC`, date)
	if err != nil {
		return nil, err
	}
	return s.collectChallenges(ctx, rows)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]model.Challenge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, date, initial_balance::TEXT, total_profit::TEXT, final_result, created_at, updated_at
		 FROM challenges ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return s.collectChallenges(ctx, rows)
}

func (s *PostgresStore) GetDailyStats(ctx context.Context, date string) (*model.DailyStats, error) {
	challenges, err := s.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	stats := analytics.DailyStats(date, challenges)
	return &stats, nil
}

func (s *PostgresStore) AddRecord(ctx context.Context, r *model.Summary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal_records (id, date, initial_investment, total_steps, max_amount_reached,
		                              final_result, observations, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5::NUMERIC, $6, $7, $8, $9)`,
		r.ID, r.Date, r.InitialInvestment.String(), r.TotalSteps, r.MaxAmountReached.String(),
		string(r.FinalResult), r.Observations, r.CreatedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: record %s", ErrAlreadyExists, r.ID)
	}
	return err
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, id string, patch model.SummaryPatch) (*model.Summary, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT id, date, initial_investment::TEXT, total_steps, max_amount_reached::TEXT,
		        final_result, observations, created_at, updated_at
		 FROM journal_records WHERE id = $1 FOR UPDATE`, id)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	patch.Apply(&r)
	r.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE journal_records
		 SET date = $2, initial_investment = $3::NUMERIC, total_steps = $4, max_amount_reached = $5::NUMERIC,
		     final_result = $6, observations = $7, updated_at = $8
		 WHERE id = $1`,
		id, r.Date, r.InitialInvestment.String(), r.TotalSteps, r.MaxAmountReached.String(),
		string(r.FinalResult), r.Observations, r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM journal_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context) ([]model.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, date, initial_investment::TEXT, total_steps, max_amount_reached::TEXT,
		        final_result, observations, created_at, updated_at
		 FROM journal_records ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.Summary{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ClearRecords(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM journal_records`)
	return err
}

// --- Row helpers ---

func (s *PostgresStore) collectChallenges(ctx context.Context, rows pgx.Rows) ([]model.Challenge, error) {
	defer rows.Close()

	challenges := []model.Challenge{}
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	ids := make([]string, len(challenges))
	for i, c := range challenges {
		ids[i] = c.ID
	}
	steps, err := s.loadSteps(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range challenges {
		challenges[i].Steps = steps[challenges[i].ID]
		if challenges[i].Steps == nil {
			challenges[i].Steps = []model.Step{}
		}
	}
	return challenges, nil
}

// loadSteps returns the steps of each challenge in step order.
func (s *PostgresStore) loadSteps(ctx context.Context, ids []string) (map[string][]model.Step, error) {
	out := make(map[string][]model.Step, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT challenge_id, id, step_number, bet_id, amount::TEXT, odds::TEXT, result, profit::TEXT,
		        bet_timestamp, total_before::TEXT, total_after::TEXT, timestamp
		 FROM challenge_steps WHERE challenge_id = ANY($1)
		 ORDER BY challenge_id, step_number`, ids)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var challengeID, amountS, oddsS, result, profitS, beforeS, afterS string
		var st model.Step
		if err := rows.Scan(&challengeID, &st.ID, &st.StepNumber, &st.Bet.ID,
			&amountS, &oddsS, &result, &profitS,
			&st.Bet.Timestamp, &beforeS, &afterS, &st.Timestamp); err != nil {
			return nil, err
		}
		var dc decimalColumns
		st.Bet.Amount = dc.parse("amount", amountS)
		st.Bet.Odds = dc.parse("odds", oddsS)
		st.Bet.Result = model.BetResult(result)
		st.Bet.Profit = dc.parse("profit", profitS)
		st.TotalBefore = dc.parse("total_before", beforeS)
		st.TotalAfter = dc.parse("total_after", afterS)
		if dc.err != nil {
			return nil, fmt.Errorf("step %s: %w", st.ID, dc.err)
		}
		out[challengeID] = append(out[challengeID], st)
	}
	return out, rows.Err()
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanChallenge(row pgxRow) (model.Challenge, error) {
	var c model.Challenge
	var initialS, profitS, result string
	if err := row.Scan(&c.ID, &c.Date, &initialS, &profitS, &result, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	var dc decimalColumns
	c.InitialBalance = dc.parse("initial_balance", initialS)
	c.TotalProfit = dc.parse("total_profit", profitS)
	if dc.err != nil {
		return c, fmt.Errorf("challenge %s: %w", c.ID, dc.err)
	}
	c.FinalResult = model.FinalResult(result)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func scanRecord(row pgxRow) (model.Summary, error) {
	var r model.Summary
	var investS, maxS, result string
	if err := row.Scan(&r.ID, &r.Date, &investS, &r.TotalSteps, &maxS,
		&result, &r.Observations, &r.CreatedAt, &r.UpdatedAt); err != nil {
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
	return r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
