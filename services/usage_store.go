package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fivelines/models"
)

// LimitDefaults seeds a user_limits row created on first use.
type LimitDefaults struct {
	PlanType           string
	MonthlyStoryLimit  int
	TokensLimitMonthly int64
}

// UsageDelta is what one model call adds to a user's monthly counters.
type UsageDelta struct {
	UserID   string
	Stories  int
	Tokens   int64
	Defaults LimitDefaults
}

const upsertLimitsSQL = `
	INSERT INTO user_limits (
		user_id, plan_type, monthly_story_limit, tokens_limit_monthly,
		stories_used_this_month, tokens_used_this_month, limit_reset_date
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id) DO UPDATE SET
		stories_used_this_month = CASE WHEN user_limits.limit_reset_date <= $8
			THEN EXCLUDED.stories_used_this_month
			ELSE user_limits.stories_used_this_month + EXCLUDED.stories_used_this_month END,
		tokens_used_this_month = CASE WHEN user_limits.limit_reset_date <= $8
			THEN EXCLUDED.tokens_used_this_month
			ELSE user_limits.tokens_used_this_month + EXCLUDED.tokens_used_this_month END,
		limit_reset_date = CASE WHEN user_limits.limit_reset_date <= $8
			THEN EXCLUDED.limit_reset_date
			ELSE user_limits.limit_reset_date END`

const selectLimitsSQL = `
	SELECT user_id, plan_type, monthly_story_limit, tokens_limit_monthly,
		stories_used_this_month, tokens_used_this_month, limit_reset_date
	FROM user_limits
	WHERE user_id = $1`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanLimits(ctx context.Context, q queryRower, userID string) (models.UserLimits, error) {
	var l models.UserLimits
	err := q.QueryRowContext(ctx, selectLimitsSQL, userID).Scan(
		&l.UserID,
		&l.PlanType,
		&l.MonthlyStoryLimit,
		&l.TokensLimitMonthly,
		&l.StoriesUsedThisMonth,
		&l.TokensUsedThisMonth,
		&l.LimitResetDate,
	)
	if err != nil {
		return models.UserLimits{}, err
	}
	l.LimitResetDate = l.LimitResetDate.UTC()
	return l, nil
}

// RecordUsage atomically adds delta to the user's monthly counters, creating
// the row on first use and rolling it over when the reset date has passed,
// then appends event. Both writes share one transaction.
func (s *SQLStore) RecordUsage(ctx context.Context, delta UsageDelta, event models.UsageEvent) (models.UserLimits, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.UserLimits{}, fmt.Errorf("begin usage tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, upsertLimitsSQL,
		delta.UserID,
		delta.Defaults.PlanType,
		delta.Defaults.MonthlyStoryLimit,
		delta.Defaults.TokensLimitMonthly,
		delta.Stories,
		delta.Tokens,
		NextResetDate(now),
		now,
	)
	if err != nil {
		return models.UserLimits{}, fmt.Errorf("increment user limits: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_events (
			id, user_id, prompt_type, model, tokens_used, input_tokens,
			output_tokens, cost_usd, conversation_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID,
		event.UserID,
		string(event.PromptType),
		event.Model,
		event.TokensUsed,
		event.InputTokens,
		event.OutputTokens,
		event.CostUSD,
		nullIfEmpty(event.ConversationID),
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return models.UserLimits{}, fmt.Errorf("insert usage event: %w", err)
	}

	limits, err := scanLimits(ctx, tx, delta.UserID)
	if err != nil {
		return models.UserLimits{}, fmt.Errorf("read user limits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.UserLimits{}, fmt.Errorf("commit usage tx: %w", err)
	}
	return limits, nil
}

// GetOrCreateLimits returns the user's limits, inserting a default row on
// first use and rolling expired counters over.
func (s *SQLStore) GetOrCreateLimits(ctx context.Context, userID string, defaults LimitDefaults) (models.UserLimits, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.UserLimits{}, fmt.Errorf("begin limits tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_limits (
			user_id, plan_type, monthly_story_limit, tokens_limit_monthly,
			stories_used_this_month, tokens_used_this_month, limit_reset_date
		)
		VALUES ($1, $2, $3, $4, 0, 0, $5)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, defaults.PlanType, defaults.MonthlyStoryLimit, defaults.TokensLimitMonthly, NextResetDate(now),
	)
	if err != nil {
		return models.UserLimits{}, fmt.Errorf("insert default limits: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE user_limits
		SET stories_used_this_month = 0, tokens_used_this_month = 0, limit_reset_date = $2
		WHERE user_id = $1 AND limit_reset_date <= $3`,
		userID, NextResetDate(now), now,
	)
	if err != nil {
		return models.UserLimits{}, fmt.Errorf("roll over limits: %w", err)
	}

	limits, err := scanLimits(ctx, tx, userID)
	if err != nil {
		return models.UserLimits{}, fmt.Errorf("read user limits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.UserLimits{}, fmt.Errorf("commit limits tx: %w", err)
	}
	return limits, nil
}

// ResetExpiredLimits rolls over every row whose reset date has passed and
// returns how many rows changed.
func (s *SQLStore) ResetExpiredLimits(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_limits
		SET stories_used_this_month = 0, tokens_used_this_month = 0, limit_reset_date = $1
		WHERE limit_reset_date <= $2`,
		NextResetDate(now), now,
	)
	if err != nil {
		return 0, fmt.Errorf("reset expired limits: %w", err)
	}
	return res.RowsAffected()
}

// UsageTotals sums a user's usage events in [from, to).
func (s *SQLStore) UsageTotals(ctx context.Context, userID string, from, to time.Time) (models.UsageTotals, error) {
	var t models.UsageTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM usage_events
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`,
		userID, from.UTC(), to.UTC(),
	).Scan(&t.Requests, &t.InputTokens, &t.OutputTokens, &t.CostUSD)
	if err != nil {
		return models.UsageTotals{}, fmt.Errorf("sum usage events: %w", err)
	}
	t.TotalTokens = t.InputTokens + t.OutputTokens
	return t, nil
}

// UsageReport sums usage events in [from, to) per user.
func (s *SQLStore) UsageReport(ctx context.Context, from, to time.Time) ([]models.UserUsageTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id,
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM usage_events
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY user_id
		ORDER BY user_id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("usage report: %w", err)
	}
	defer rows.Close()

	var out []models.UserUsageTotals
	for rows.Next() {
		var u models.UserUsageTotals
		if err := rows.Scan(&u.UserID, &u.Requests, &u.InputTokens, &u.OutputTokens, &u.CostUSD); err != nil {
			return nil, fmt.Errorf("usage report scan: %w", err)
		}
		u.TotalTokens = u.InputTokens + u.OutputTokens
		out = append(out, u)
	}
	return out, rows.Err()
}
