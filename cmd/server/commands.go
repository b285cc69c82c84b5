package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stakeledger/tracker/internal/config"
	"github.com/stakeledger/tracker/internal/events"
	"github.com/stakeledger/tracker/internal/store"
	"github.com/stakeledger/tracker/internal/tracker"
)

func newMigrateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema for the postgres or sqlite store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			switch cfg.Store {
			case config.StorePostgres:
				pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
				if err != nil {
					return fmt.Errorf("database connection failed: %w", err)
				}
				defer pool.Close()
				if err := store.NewPostgresStore(pool).Migrate(ctx); err != nil {
					return err
				}
			case config.StoreSQLite:
				sq, err := store.OpenSQLite(cfg.SQLitePath)
				if err != nil {
					return err
				}
				defer sq.Close()
			default:
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "store %q has no schema to migrate\n", cfg.Store)
				return nil
			}
			slog.Info("schema applied", "store", cfg.Store)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newStatsCmd(f *flags) *cobra.Command {
	var date, from, to, result, format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print daily stats and analytics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unknown format %q (json|yaml)", format)
			}
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx := context.Background()

			st, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			svc, err := newService(cfg, st, events.NopPublisher{})
			if err != nil {
				return err
			}

			daily, err := svc.DailyStats(ctx, date)
			if err != nil {
				return err
			}
			report, err := svc.Report(ctx, tracker.ReportQuery{From: from, To: to, Result: result})
			if err != nil {
				return err
			}

			out := struct {
				Daily     any `json:"daily"`
				Stats     any `json:"stats"`
				Analytics any `json:"analytics"`
			}{daily, report.Stats, report.Analytics}
			return writeOutput(cmd.OutOrStdout(), format, out)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day for daily stats (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&from, "from", "", "analytics range start (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "analytics range end (inclusive)")
	cmd.Flags().StringVar(&result, "result", "all", "analytics result filter")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json|yaml")
	return cmd
}

// writeOutput renders v as indented JSON or as YAML. YAML goes through the
// JSON form so both formats share the snake_case keys and decimal strings.
func writeOutput(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
