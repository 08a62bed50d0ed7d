package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"fivelines/config"
	"fivelines/logger"
	"fivelines/models"
	"fivelines/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	resetEvery   time.Duration
	reportMonth  string
	reportFormat string
)

var rootCmd = &cobra.Command{
	Use:           "batch",
	Short:         "Maintenance jobs for the 5 Lines Story backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var resetCmd = &cobra.Command{
	Use:   "reset-quotas",
	Short: "Roll over monthly usage counters whose period has ended",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withProcessor(cmd.Context(), func(bp *services.BatchProcessor) error {
			if resetEvery > 0 {
				err := bp.RunEvery(cmd.Context(), resetEvery)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			_, err := bp.ResetQuotas(cmd.Context())
			return err
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "usage-report",
	Short: "Print per-user token usage and cost for one month",
	RunE: func(cmd *cobra.Command, _ []string) error {
		month := services.MonthStartUTC(time.Now())
		if reportMonth != "" {
			m, err := services.ParseMonth(reportMonth)
			if err != nil {
				return fmt.Errorf("--month must be YYYY-MM: %w", err)
			}
			month = m
		}
		return withProcessor(cmd.Context(), func(bp *services.BatchProcessor) error {
			report, err := bp.MonthlyReport(cmd.Context(), month)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, reportFormat)
		})
	},
}

func init() {
	resetCmd.Flags().DurationVar(&resetEvery, "every", 0, "keep running and reset on this interval (e.g. 10m)")
	reportCmd.Flags().StringVar(&reportMonth, "month", "", "month to report, YYYY-MM (default: current month)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "output format: table or json")

	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("batch: %v", err)
	}
}

func withProcessor(ctx context.Context, fn func(*services.BatchProcessor) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	zl, err := logger.New(cfg.Logs.Level, cfg.Logs.Style)
	if err != nil {
		return err
	}
	defer zl.Sync()

	db, err := openWithRetry(ctx, cfg.DB, zl)
	if err != nil {
		return err
	}
	defer db.Close()

	store := services.NewSQLStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	return fn(services.NewBatchProcessor(store, zl.Named("batch")))
}

func openWithRetry(ctx context.Context, cfg config.DBConfig, zl *zap.Logger) (*sql.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		db, err := services.OpenDB(ctx, cfg.Driver, cfg.URL)
		if err == nil {
			return db, nil
		}
		lastErr = err
		zl.Warn("database not ready", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("open database after retries: %w", lastErr)
}

func printReport(w io.Writer, report []models.UserUsageTotals, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tREQUESTS\tINPUT\tOUTPUT\tTOTAL\tCOST_USD")
	for _, r := range report {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.4f\n", r.UserID, r.Requests, r.InputTokens, r.OutputTokens, r.TotalTokens, r.CostUSD)
	}
	return tw.Flush()
}
