package services

import (
	"context"
	"fmt"
	"time"

	"fivelines/models"

	"go.uber.org/zap"
)

// QuotaStore is what the batch jobs need from the database.
type QuotaStore interface {
	ResetExpiredLimits(ctx context.Context) (int64, error)
	UsageReport(ctx context.Context, from, to time.Time) ([]models.UserUsageTotals, error)
}

type BatchProcessor struct {
	store QuotaStore
	log   *zap.Logger
}

func NewBatchProcessor(store QuotaStore, log *zap.Logger) *BatchProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchProcessor{store: store, log: log}
}

// ResetQuotas rolls over every user whose monthly period has ended.
func (bp *BatchProcessor) ResetQuotas(ctx context.Context) (int64, error) {
	n, err := bp.store.ResetExpiredLimits(ctx)
	if err != nil {
		return 0, err
	}
	bp.log.Info("monthly quotas reset", zap.Int64("users", n))
	return n, nil
}

// RunEvery runs ResetQuotas immediately and then on every tick until ctx is
// done. Failed runs are logged and retried on the next tick.
func (bp *BatchProcessor) RunEvery(ctx context.Context, interval time.Duration) error {
	if _, err := bp.ResetQuotas(ctx); err != nil {
		bp.log.Error("initial quota reset failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := bp.ResetQuotas(ctx); err != nil {
				bp.log.Error("scheduled quota reset failed", zap.Error(err))
			}
		}
	}
}

// MonthlyReport returns per-user usage totals for the month starting at month.
func (bp *BatchProcessor) MonthlyReport(ctx context.Context, month time.Time) ([]models.UserUsageTotals, error) {
	from := MonthStartUTC(month)
	report, err := bp.store.UsageReport(ctx, from, NextResetDate(from))
	if err != nil {
		return nil, fmt.Errorf("monthly report %s: %w", from.Format("2006-01"), err)
	}
	return report, nil
}
