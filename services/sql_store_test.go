package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fivelines/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSQLStore opens a fresh SQLite database with the full schema.
func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := OpenDB(ctx, "sqlite", filepath.Join(t.TempDir(), "fivelines.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func countRows(t *testing.T, s *SQLStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testEvent(userID string, at time.Time, in, out int) models.UsageEvent {
	return models.UsageEvent{
		ID:           uuid.New().String(),
		UserID:       userID,
		PromptType:   models.PromptGenerateStory,
		Model:        "claude-sonnet-4-20250514",
		TokensUsed:   in + out,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      DefaultPriceTable.CalculateCost("claude-sonnet-4-20250514", in, out),
		CreatedAt:    at,
	}
}

var freePlan = LimitDefaults{PlanType: "free", MonthlyStoryLimit: 10, TokensLimitMonthly: 50_000}

func TestOpenDB_UnsupportedDriver(t *testing.T) {
	_, err := OpenDB(context.Background(), "mysql", "x")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestWithDefaultSSLMode(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db?sslmode=disable", withDefaultSSLMode("postgres://u@h/db"))
	assert.Equal(t, "postgres://u@h/db?x=1&sslmode=disable", withDefaultSSLMode("postgres://u@h/db?x=1"))
	assert.Equal(t, "host=h dbname=db sslmode=disable", withDefaultSSLMode("host=h dbname=db"))
	assert.Equal(t, "host=h sslmode=require", withDefaultSSLMode("host=h sslmode=require"))
}

func TestRecordUsage_CreatesAndIncrements(t *testing.T) {
	s := newTestSQLStore(t)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = fixedClock(now)
	ctx := context.Background()

	limits, err := s.RecordUsage(ctx, UsageDelta{UserID: "user_a", Stories: 1, Tokens: 300, Defaults: freePlan}, testEvent("user_a", now, 100, 200))
	require.NoError(t, err)
	assert.Equal(t, "free", limits.PlanType)
	assert.Equal(t, 10, limits.MonthlyStoryLimit)
	assert.Equal(t, int64(50_000), limits.TokensLimitMonthly)
	assert.Equal(t, 1, limits.StoriesUsedThisMonth)
	assert.Equal(t, int64(300), limits.TokensUsedThisMonth)
	assert.True(t, limits.LimitResetDate.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)), limits.LimitResetDate)

	limits, err = s.RecordUsage(ctx, UsageDelta{UserID: "user_a", Tokens: 50, Defaults: freePlan}, testEvent("user_a", now, 20, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, limits.StoriesUsedThisMonth)
	assert.Equal(t, int64(350), limits.TokensUsedThisMonth)

	assert.Equal(t, 2, countRows(t, s, "usage_events"))
}

func TestRecordUsage_ConcurrentIncrementsAreNotLost(t *testing.T) {
	s := newTestSQLStore(t)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = fixedClock(now)
	ctx := context.Background()

	const calls = 8
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordUsage(ctx, UsageDelta{UserID: "user_a", Stories: 1, Tokens: 300, Defaults: freePlan}, testEvent("user_a", now, 100, 200))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	limits, err := scanLimits(ctx, s.DB(), "user_a")
	require.NoError(t, err)
	assert.Equal(t, calls, limits.StoriesUsedThisMonth)
	assert.Equal(t, int64(calls*300), limits.TokensUsedThisMonth)
	assert.Equal(t, calls, countRows(t, s, "usage_events"))
}

func TestRecordUsage_RollsOverExpiredPeriod(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)

	s.now = fixedClock(jan)
	_, err := s.RecordUsage(ctx, UsageDelta{UserID: "user_a", Stories: 1, Tokens: 900, Defaults: freePlan}, testEvent("user_a", jan, 400, 500))
	require.NoError(t, err)

	s.now = fixedClock(feb)
	limits, err := s.RecordUsage(ctx, UsageDelta{UserID: "user_a", Stories: 1, Tokens: 40, Defaults: freePlan}, testEvent("user_a", feb, 10, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, limits.StoriesUsedThisMonth)
	assert.Equal(t, int64(40), limits.TokensUsedThisMonth)
	assert.True(t, limits.LimitResetDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), limits.LimitResetDate)
}

func TestGetOrCreateLimits(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)
	s.now = fixedClock(jan)

	limits, err := s.GetOrCreateLimits(ctx, "user_new", freePlan)
	require.NoError(t, err)
	assert.Equal(t, "user_new", limits.UserID)
	assert.Zero(t, limits.StoriesUsedThisMonth)
	assert.Zero(t, limits.TokensUsedThisMonth)

	_, err = s.RecordUsage(ctx, UsageDelta{UserID: "user_new", Stories: 1, Tokens: 10, Defaults: freePlan}, testEvent("user_new", jan, 5, 5))
	require.NoError(t, err)

	// defaults only seed a missing row
	limits, err = s.GetOrCreateLimits(ctx, "user_new", LimitDefaults{PlanType: "pro", MonthlyStoryLimit: 99})
	require.NoError(t, err)
	assert.Equal(t, "free", limits.PlanType)
	assert.Equal(t, 1, limits.StoriesUsedThisMonth)

	s.now = fixedClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	limits, err = s.GetOrCreateLimits(ctx, "user_new", freePlan)
	require.NoError(t, err)
	assert.Zero(t, limits.StoriesUsedThisMonth)
	assert.Zero(t, limits.TokensUsedThisMonth)
	assert.True(t, limits.LimitResetDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestResetExpiredLimits(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)

	s.now = fixedClock(jan)
	for _, id := range []string{"user_a", "user_b"} {
		_, err := s.RecordUsage(ctx, UsageDelta{UserID: id, Stories: 1, Tokens: 100, Defaults: freePlan}, testEvent(id, jan, 50, 50))
		require.NoError(t, err)
	}

	n, err := s.ResetExpiredLimits(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	s.now = fixedClock(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	n, err = s.ResetExpiredLimits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	limits, err := scanLimits(ctx, s.DB(), "user_a")
	require.NoError(t, err)
	assert.Zero(t, limits.TokensUsedThisMonth)
	assert.True(t, limits.LimitResetDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestUsageTotalsAndReport(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	record := func(userID string, at time.Time, in, out int) {
		s.now = fixedClock(at)
		_, err := s.RecordUsage(ctx, UsageDelta{UserID: userID, Tokens: int64(in + out), Defaults: freePlan}, testEvent(userID, at, in, out))
		require.NoError(t, err)
	}
	record("user_a", jan, 1000, 1000)
	record("user_a", feb, 100, 200)
	record("user_a", feb.Add(time.Hour), 10, 20)
	record("user_b", feb, 1_000_000, 0)

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := NextResetDate(from)

	totals, err := s.UsageTotals(ctx, "user_a", from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Requests)
	assert.Equal(t, int64(110), totals.InputTokens)
	assert.Equal(t, int64(220), totals.OutputTokens)
	assert.Equal(t, int64(330), totals.TotalTokens)
	assert.InDelta(t, DefaultPriceTable.CalculateCost("", 110, 220), totals.CostUSD, 1e-9)

	empty, err := s.UsageTotals(ctx, "user_nobody", from, to)
	require.NoError(t, err)
	assert.Equal(t, models.UsageTotals{}, empty)

	report, err := s.UsageReport(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, "user_a", report[0].UserID)
	assert.Equal(t, "user_b", report[1].UserID)
	assert.InDelta(t, 3.0, report[1].CostUSD, 1e-9)
}

func TestSQLConversations_HistoryScopedAndCapped(t *testing.T) {
	s := newTestSQLStore(t)
	s.now = steppingClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var last models.Conversation
	for i := 0; i < MaxHistory+5; i++ {
		c, err := s.CreateConversation(ctx, models.Conversation{
			UserID:       "user_a",
			UserInput:    fmt.Sprintf("idea %d", i),
			AIResponse:   json.RawMessage(pathsJSON),
			PromptType:   models.PromptSuggestPaths,
			InputTokens:  1,
			OutputTokens: 2,
		})
		require.NoError(t, err)
		last = c
	}
	_, err := s.CreateConversation(ctx, models.Conversation{UserID: "user_b", AIResponse: json.RawMessage(`{}`), PromptType: models.PromptRefineLine})
	require.NoError(t, err)

	got, err := s.ListConversations(ctx, "user_a", 0)
	require.NoError(t, err)
	require.Len(t, got, MaxHistory)
	assert.Equal(t, last.ID, got[0].ID)
	assert.Equal(t, fmt.Sprintf("idea %d", MaxHistory+4), got[0].UserInput)
	assert.Equal(t, 3, got[0].TokensUsed)
	assert.JSONEq(t, pathsJSON, string(got[0].AIResponse))
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].CreatedAt.After(got[i].CreatedAt))
		assert.Equal(t, "user_a", got[i].UserID)
	}

	got, err = s.ListConversations(ctx, "user_a", 500)
	require.NoError(t, err)
	assert.Len(t, got, MaxHistory)

	got, err = s.ListConversations(ctx, "user_b", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.PromptRefineLine, got[0].PromptType)

	got, err = s.ListConversations(ctx, "user_c", 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSQLUsers(t *testing.T) {
	s := newTestSQLStore(t)
	s.now = steppingClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	ada, err := s.CreateUser(ctx, models.User{ClerkID: "user_123", Email: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)
	assert.NotEmpty(t, ada.ID)

	again, err := s.CreateUser(ctx, models.User{ClerkID: "user_123", Email: "other@example.com"})
	require.NoError(t, err)
	assert.Equal(t, ada.ID, again.ID)
	assert.Equal(t, "ada@example.com", again.Email)

	bob, err := s.CreateUser(ctx, models.User{Name: "Bob"})
	require.NoError(t, err)

	got, err := s.GetUser(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "user_123", got.ClerkID)

	got, err = s.GetUserByClerkID(ctx, "user_123")
	require.NoError(t, err)
	assert.Equal(t, ada.ID, got.ID)

	_, err = s.GetUser(ctx, "missing")
	assert.True(t, errors.Is(err, ErrUserNotFound))

	users, err := s.ListUsers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, bob.ID, users[0].ID)
	assert.Empty(t, users[0].ClerkID)
}
