package models

import "time"

const PlanUnlimited = "unlimited"

// UserLimits holds a user's monthly quota counters.
type UserLimits struct {
	UserID               string    `json:"user_id"`
	PlanType             string    `json:"plan_type"`
	MonthlyStoryLimit    int       `json:"monthly_story_limit"`
	TokensLimitMonthly   int64     `json:"tokens_limit_monthly"`
	StoriesUsedThisMonth int       `json:"stories_used_this_month"`
	TokensUsedThisMonth  int64     `json:"tokens_used_this_month"`
	LimitResetDate       time.Time `json:"limit_reset_date"`
}

// StoriesExhausted reports whether the story limit has been reached.
// A limit <= 0 or the unlimited plan never exhausts.
func (l UserLimits) StoriesExhausted() bool {
	if l.PlanType == PlanUnlimited || l.MonthlyStoryLimit <= 0 {
		return false
	}
	return l.StoriesUsedThisMonth >= l.MonthlyStoryLimit
}

func (l UserLimits) TokensExhausted() bool {
	if l.PlanType == PlanUnlimited || l.TokensLimitMonthly <= 0 {
		return false
	}
	return l.TokensUsedThisMonth >= l.TokensLimitMonthly
}

// UsageEvent is an append-only audit row for one model call.
type UsageEvent struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	PromptType     PromptType `json:"prompt_type"`
	Model          string     `json:"model"`
	TokensUsed     int        `json:"tokens_used"`
	InputTokens    int        `json:"input_tokens"`
	OutputTokens   int        `json:"output_tokens"`
	CostUSD        float64    `json:"cost_usd"`
	ConversationID string     `json:"conversation_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// UsageTotals aggregates usage events over a period.
type UsageTotals struct {
	Requests     int     `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// UserUsageTotals is one line of the monthly usage report.
type UserUsageTotals struct {
	UserID string `json:"user_id"`
	UsageTotals
}
