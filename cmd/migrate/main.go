package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"newsbot/migrations"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Manage the bot database schema",
	SilenceUsage: true,
}

func main() {
	defaultDB := os.Getenv("DATABASE_PATH")
	if defaultDB == "" {
		defaultDB = "./data/bot.db"
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to sqlite database")

	rootCmd.AddCommand(
		providerCmd("up", "Migrate to the latest version", func(ctx context.Context, p *goose.Provider) error {
			results, err := p.Up(ctx)
			printResults(results...)
			return err
		}),
		providerCmd("up-one", "Migrate one version up", func(ctx context.Context, p *goose.Provider) error {
			r, err := p.UpByOne(ctx)
			printResults(r)
			return err
		}),
		providerCmd("down", "Roll back one version", func(ctx context.Context, p *goose.Provider) error {
			r, err := p.Down(ctx)
			printResults(r)
			return err
		}),
		providerCmd("reset", "Roll back all migrations", func(ctx context.Context, p *goose.Provider) error {
			results, err := p.DownTo(ctx, 0)
			printResults(results...)
			return err
		}),
		providerCmd("status", "Show migration status", func(ctx context.Context, p *goose.Provider) error {
			statuses, err := p.Status(ctx)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				applied := "pending"
				if !s.AppliedAt.IsZero() {
					applied = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-6d %-30s %s\n", s.Source.Version, s.Source.Path, applied)
			}
			return nil
		}),
		providerCmd("version", "Show current version", func(ctx context.Context, p *goose.Provider) error {
			v, err := p.GetDBVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("version %d\n", v)
			return nil
		}),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func providerCmd(use, short string, fn func(context.Context, *goose.Provider) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("sqlite", dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			p, err := migrations.NewProvider(db)
			if err != nil {
				return err
			}
			if err := fn(cmd.Context(), p); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return nil
		},
	}
}

func printResults(results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Printf("%-4s %-6d %-30s %s\n", r.Direction, r.Source.Version, r.Source.Path, r.Duration)
	}
}
