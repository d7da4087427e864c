// cmd/migrate applies the delivery-log schema and inspects recorded runs.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/unclebandit/reminder-mailer/internal/config"
	"github.com/unclebandit/reminder-mailer/internal/db"
	"github.com/unclebandit/reminder-mailer/internal/repository"
)

func main() {
	_ = config.LoadDotEnv()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var timeout time.Duration
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the reminder delivery log database",
		SilenceUsage: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	var files []string
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply the delivery log schema and any extra SQL files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runUp(ctx, cmd, files)
		},
	}
	up.Flags().StringSliceVarP(&files, "file", "f", nil, "additional SQL file to execute after the schema (repeatable)")

	stats := &cobra.Command{
		Use:   "stats RUN_ID",
		Short: "Print the recorded deliveries of one dispatch run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runStats(ctx, cmd, args[0])
		},
	}

	root.AddCommand(up, stats)
	return root
}

func runUp(ctx context.Context, cmd *cobra.Command, files []string) error {
	cfg, err := config.LoadStore()
	if err != nil {
		return err
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	cmd.Println("Applied: delivery_log schema")

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", file, err)
		}
		cmd.Printf("Applied: %s\n", file)
	}
	cmd.Println("Migration completed successfully!")
	return nil
}

func runStats(ctx context.Context, cmd *cobra.Command, runID string) error {
	cfg, err := config.LoadStore()
	if err != nil {
		return err
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	repo := &repository.DeliveryLogRepository{DB: conn}
	counts, err := repo.GetRunStats(ctx, runID)
	if err != nil {
		return err
	}
	records, err := repo.ListByRun(ctx, runID)
	if err != nil {
		return err
	}

	cmd.Printf("run %s: %s sent, %s failed\n", runID,
		humanize.Comma(int64(counts["sent"])), humanize.Comma(int64(counts["failed"])))
	for _, rec := range records {
		line := fmt.Sprintf("  %-7s %s <%s> %s", rec.Status, rec.Name, rec.Email, humanize.Time(rec.CreatedAt))
		if rec.LastError != "" {
			line += "  " + rec.LastError
		}
		cmd.Println(line)
	}
	return nil
}
