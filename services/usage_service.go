package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fivelines/models"

	"github.com/google/uuid"
)

var ErrQuotaExceeded = errors.New("monthly limit reached")

// UsageStore is the persistence the accountant needs.
type UsageStore interface {
	RecordUsage(ctx context.Context, delta UsageDelta, event models.UsageEvent) (models.UserLimits, error)
	GetOrCreateLimits(ctx context.Context, userID string, defaults LimitDefaults) (models.UserLimits, error)
	UsageTotals(ctx context.Context, userID string, from, to time.Time) (models.UsageTotals, error)
}

// UsageAccountant prices model calls and keeps per-user monthly counters.
type UsageAccountant struct {
	store    UsageStore
	prices   PriceTable
	defaults LimitDefaults
	enforce  bool
	now      func() time.Time
}

func NewUsageAccountant(store UsageStore, prices PriceTable, defaults LimitDefaults, enforce bool) *UsageAccountant {
	return &UsageAccountant{
		store:    store,
		prices:   prices,
		defaults: defaults,
		enforce:  enforce,
		now:      time.Now,
	}
}

func (a *UsageAccountant) Cost(model string, usage TokenUsage) float64 {
	return a.prices.CalculateCost(model, usage.InputTokens, usage.OutputTokens)
}

func (a *UsageAccountant) Summary(model string, usage TokenUsage) models.UsageSummary {
	return models.UsageSummary{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.Total(),
		CostUSD:      a.Cost(model, usage),
	}
}

// Check returns ErrQuotaExceeded when enforcement is on and the user has
// used up the limit relevant to kind. With enforcement off it is a no-op.
func (a *UsageAccountant) Check(ctx context.Context, userID string, kind models.PromptType) error {
	if !a.enforce {
		return nil
	}
	limits, err := a.store.GetOrCreateLimits(ctx, userID, a.defaults)
	if err != nil {
		return fmt.Errorf("load user limits: %w", err)
	}
	if kind == models.PromptGenerateStory && limits.StoriesExhausted() {
		return ErrQuotaExceeded
	}
	if limits.TokensExhausted() {
		return ErrQuotaExceeded
	}
	return nil
}

// Record adds one call to the user's monthly counters and appends a usage
// event linked to conversationID.
func (a *UsageAccountant) Record(ctx context.Context, userID string, kind models.PromptType, model string, usage TokenUsage, conversationID string) (models.UsageEvent, error) {
	event := models.UsageEvent{
		ID:             uuid.New().String(),
		UserID:         userID,
		PromptType:     kind,
		Model:          model,
		TokensUsed:     usage.Total(),
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		CostUSD:        a.Cost(model, usage),
		ConversationID: conversationID,
		CreatedAt:      a.now().UTC(),
	}
	delta := UsageDelta{
		UserID:   userID,
		Tokens:   int64(usage.Total()),
		Defaults: a.defaults,
	}
	if kind == models.PromptGenerateStory {
		delta.Stories = 1
	}

	if _, err := a.store.RecordUsage(ctx, delta, event); err != nil {
		return models.UsageEvent{}, err
	}
	return event, nil
}

// Overview returns the user's counters and this month's event totals.
func (a *UsageAccountant) Overview(ctx context.Context, userID string) (models.UsageOverview, error) {
	limits, err := a.store.GetOrCreateLimits(ctx, userID, a.defaults)
	if err != nil {
		return models.UsageOverview{}, fmt.Errorf("load user limits: %w", err)
	}
	from := MonthStartUTC(a.now())
	totals, err := a.store.UsageTotals(ctx, userID, from, NextResetDate(from))
	if err != nil {
		return models.UsageOverview{}, err
	}
	return models.UsageOverview{UserLimits: limits, CurrentMonth: totals}, nil
}
