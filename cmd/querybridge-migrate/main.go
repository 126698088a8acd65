package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/querybridge/querybridge/internal/config"
	"github.com/querybridge/querybridge/internal/migrations"
)

func main() {
	var steps int
	var db *sql.DB

	root := &cobra.Command{
		Use:           "querybridge-migrate",
		Short:         "Manage the query history schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv("querybridge-migrate")
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cfg.History.DSN == "" {
				return fmt.Errorf("QUERYBRIDGE_HISTORY_DSN is required")
			}
			db, err = sql.Open("pgx", cfg.History.DSN)
			if err != nil {
				return fmt.Errorf("database open error: %w", err)
			}
			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("database ping error: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().IntVar(&steps, "steps", 0, "number of migration steps; 0 means all for up, 1 for down")

	runner := migrations.NewRunner()
	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				applied, err := runner.Up(cmd.Context(), db, steps)
				if err != nil {
					return fmt.Errorf("migration up failed: %w", err)
				}
				fmt.Printf("applied %d migration(s)\n", applied)
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back applied migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				rolledBack, err := runner.Down(cmd.Context(), db, steps)
				if err != nil {
					return fmt.Errorf("migration down failed: %w", err)
				}
				fmt.Printf("rolled back %d migration(s)\n", rolledBack)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List known migrations and whether they are applied",
			RunE: func(cmd *cobra.Command, _ []string) error {
				statuses, err := runner.Status(cmd.Context(), db)
				if err != nil {
					return fmt.Errorf("migration status failed: %w", err)
				}
				for _, status := range statuses {
					state := "pending"
					if status.Applied {
						state = "applied"
					}
					fmt.Printf("%06d  %-8s %s\n", status.Version, state, status.Name)
				}
				return nil
			},
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := root.ExecuteContext(ctx)
	if db != nil {
		_ = db.Close()
	}
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
