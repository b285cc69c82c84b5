package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/stakeledger/tracker/internal/config"
	"github.com/stakeledger/tracker/internal/events"
	"github.com/stakeledger/tracker/internal/ledger"
	"github.com/stakeledger/tracker/internal/store"
	"github.com/stakeledger/tracker/internal/tracker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flags override the environment when set.
type flags struct {
	envFile string
	port    string
	store   string
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Staking challenge tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "optional dotenv file")
	root.PersistentFlags().StringVar(&f.store, "store", "", "storage backend: memory|postgres|sqlite|firestore")

	root.AddCommand(newServeCmd(&f))
	root.AddCommand(newMigrateCmd(&f))
	root.AddCommand(newStatsCmd(&f))
	return root
}

func loadConfig(f *flags) (config.Config, error) {
	if f.store != "" {
		os.Setenv("STORE", f.store)
	}
	if f.port != "" {
		os.Setenv("PORT", f.port)
	}
	return config.Load(f.envFile)
}

// openStore connects the configured backend and wraps it with the Redis
// cache when REDIS_URL is set. The returned cleanup closes everything.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	var st store.Store
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

	case config.StoreSQLite:
		sq, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { sq.Close() })
		st = sq
		slog.Info("opened SQLite database", "path", cfg.SQLitePath)

	case config.StoreFirestore:
		fs, err := store.NewFirestoreStore(ctx, store.FirestoreConfig{
			ProjectID:       cfg.FirestoreProjectID,
			CredentialsFile: cfg.FirestoreCredentialsFile,
			CredentialsJSON: cfg.FirestoreCredentialsJSON,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { fs.Close() })
		st = fs
		slog.Info("connected to Firestore", "project", cfg.FirestoreProjectID)

	default:
		slog.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}

	return st, closeAll, nil
}

func openPublisher(cfg config.Config) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}
	}
	pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, slog.Default())
	if err != nil {
		slog.Warn("kafka publisher disabled", "err", err)
		return events.NopPublisher{}
	}
	slog.Info("publishing challenge events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	return pub
}

func newService(cfg config.Config, st store.Store, pub events.Publisher) (*tracker.Service, error) {
	engine, err := ledger.NewEngine(cfg.Ledger.Policy())
	if err != nil {
		return nil, err
	}
	return tracker.NewService(st, engine, pub, tracker.WithStepThreshold(cfg.StepThreshold)), nil
}
