// Package config loads the server configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/ledger"
)

// Storage backends.
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
)

// Config is the full server configuration.
type Config struct {
	Port  string `env:"PORT"  envDefault:"8080"`
	Store string `env:"STORE" envDefault:"memory"`

	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"tracker.db"`

	FirestoreProjectID       string `env:"FIRESTORE_PROJECT_ID"`
	FirestoreCredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirestoreCredentialsJSON string `env:"FIRESTORE_CREDENTIALS_JSON"`

	RedisURL string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"   envDefault:"challenge_events"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS"   envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"30"`

	StepThreshold int `env:"ANALYTICS_STEP_THRESHOLD" envDefault:"5"`

	Ledger LedgerConfig
}

// LedgerConfig carries the staking variant rules.
type LedgerConfig struct {
	CompletionSteps int             `env:"LEDGER_COMPLETION_STEPS" envDefault:"3"`
	CapStake        bool            `env:"LEDGER_CAP_STAKE"        envDefault:"false"`
	StrictOdds      bool            `env:"LEDGER_STRICT_ODDS"      envDefault:"false"`
	InitialBalance  decimal.Decimal `env:"LEDGER_INITIAL_BALANCE"  envDefault:"0"`
}

// Policy converts the settings into a ledger policy.
func (c LedgerConfig) Policy() ledger.Policy {
	return ledger.Policy{
		CompletionSteps: c.CompletionSteps,
		CapStake:        c.CapStake,
		StrictOdds:      c.StrictOdds,
		InitialBalance:  c.InitialBalance,
	}
}

// Load reads envFiles (missing files are skipped) and then the environment.
// Variables already set in the environment win over file values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: SQLITE_PATH is required for the sqlite store")
		}
	case StoreFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("config: FIRESTORE_PROJECT_ID is required for the firestore store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.StepThreshold < 0 {
		return fmt.Errorf("config: ANALYTICS_STEP_THRESHOLD must not be negative")
	}
	return c.Ledger.Policy().Validate()
}
