package store

// PostgresSchema creates the tables used by PostgresStore. Money columns are
// NUMERIC for exact decimal precision.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS challenges (
	id              TEXT PRIMARY KEY,
	date            TEXT NOT NULL,
	initial_balance NUMERIC NOT NULL DEFAULT 0,
	total_profit    NUMERIC NOT NULL DEFAULT 0,
	final_result    TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS challenges_date_created_idx ON challenges (date, created_at DESC);

CREATE TABLE IF NOT EXISTS challenge_steps (
	id            TEXT PRIMARY KEY,
	challenge_id  TEXT NOT NULL REFERENCES challenges (id) ON DELETE CASCADE,
	step_number   INTEGER NOT NULL,
	bet_id        TEXT NOT NULL,
	amount        NUMERIC NOT NULL,
	odds          NUMERIC NOT NULL,
	result        TEXT NOT NULL,
	profit        NUMERIC NOT NULL,
	bet_timestamp TIMESTAMPTZ NOT NULL,
	total_before  NUMERIC NOT NULL,
	total_after   NUMERIC NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL,
	UNIQUE (challenge_id, step_number)
);

CREATE TABLE IF NOT EXISTS journal_records (
	id                 TEXT PRIMARY KEY,
	date               TEXT NOT NULL,
	initial_investment NUMERIC NOT NULL,
	total_steps        INTEGER NOT NULL,
	max_amount_reached NUMERIC NOT NULL,
	final_result       TEXT NOT NULL,
	observations       TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
`

// SQLiteSchema creates the tables used by SQLiteStore. Decimals are TEXT,
// timestamps are unix milliseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS challenges (
	id              TEXT PRIMARY KEY,
	date            TEXT NOT NULL,
	initial_balance TEXT NOT NULL DEFAULT '0',
	total_profit    TEXT NOT NULL DEFAULT '0',
	final_result    TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS challenges_date_created_idx ON challenges (date, created_at DESC);

CREATE TABLE IF NOT EXISTS challenge_steps (
	id            TEXT PRIMARY KEY,
	challenge_id  TEXT NOT NULL REFERENCES challenges (id) ON DELETE CASCADE,
	step_number   INTEGER NOT NULL,
	bet_id        TEXT NOT NULL,
	amount        TEXT NOT NULL,
	odds          TEXT NOT NULL,
	result        TEXT NOT NULL,
	profit        TEXT NOT NULL,
	bet_timestamp INTEGER NOT NULL,
	total_before  TEXT NOT NULL,
	total_after   TEXT NOT NULL,
	timestamp     INTEGER NOT NULL,
	UNIQUE (challenge_id, step_number)
);

CREATE TABLE IF NOT EXISTS journal_records (
	id                 TEXT PRIMARY KEY,
	date               TEXT NOT NULL,
	initial_investment TEXT NOT NULL,
	total_steps        INTEGER NOT NULL,
	max_amount_reached TEXT NOT NULL,
	final_result       TEXT NOT NULL,
	observations       TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);
`
