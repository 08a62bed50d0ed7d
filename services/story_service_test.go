package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"fivelines/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns a canned reply and records every request.
type fakeProvider struct {
	mu       sync.Mutex
	resp     LLMResponse
	err      error
	requests []LLMRequest
}

func (f *fakeProvider) Complete(_ context.Context, req LLMRequest) (*LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.resp
	return &resp, nil
}

func (f *fakeProvider) Model() string { return "claude-sonnet-4-20250514" }

type failingConversations struct{}

func (failingConversations) CreateConversation(context.Context, models.Conversation) (models.Conversation, error) {
	return models.Conversation{}, errors.New("connection refused")
}

func (failingConversations) ListConversations(context.Context, string, int) ([]models.Conversation, error) {
	return nil, errors.New("connection refused")
}

type storyFixture struct {
	store    *SQLStore
	provider *fakeProvider
	svc      *StoryService
}

func newStoryFixture(t *testing.T, enforce bool, defaults LimitDefaults) *storyFixture {
	t.Helper()
	store := newTestSQLStore(t)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store.now = fixedClock(now)

	prompts, err := NewPromptRegistry("")
	require.NoError(t, err)

	accountant := NewUsageAccountant(store, DefaultPriceTable, defaults, enforce)
	accountant.now = fixedClock(now)

	provider := &fakeProvider{}
	svc := NewStoryService(prompts, provider, store, accountant, StoryServiceConfig{MaxTokens: 1024, Timeout: time.Minute}, nil)
	return &storyFixture{store: store, provider: provider, svc: svc}
}

func TestSuggestPaths_ProseReply(t *testing.T) {
	f := newStoryFixture(t, false, LimitDefaults{PlanType: models.PlanUnlimited})
	f.provider.resp = LLMResponse{
		Content: "Here are some paths: " + pathsJSON,
		Usage:   TokenUsage{InputTokens: 100, OutputTokens: 200},
	}

	paths, ex, err := f.svc.SuggestPaths(context.Background(), "user_a", "a startup pivot")
	require.NoError(t, err)
	require.Len(t, paths.Paths, 1)
	assert.Equal(t, "Grit", paths.Paths[0].Title)
	assert.NotEmpty(t, ex.ConversationID)
	assert.Equal(t, 300, ex.Usage.TotalTokens)
	assert.InDelta(t, 0.0033, ex.Usage.CostUSD, 1e-12)

	req := f.provider.requests[0]
	assert.Equal(t, "a startup pivot", req.Prompt)
	assert.Contains(t, req.SystemPrompt, "story architect")
	assert.Nil(t, req.Tool)

	history, err := f.svc.History(context.Background(), "user_a", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ex.ConversationID, history[0].ID)
	assert.Equal(t, models.PromptSuggestPaths, history[0].PromptType)
	assert.Equal(t, "a startup pivot", history[0].UserInput)
	assert.JSONEq(t, pathsJSON, string(history[0].AIResponse))

	limits, err := scanLimits(context.Background(), f.store.DB(), "user_a")
	require.NoError(t, err)
	assert.Zero(t, limits.StoriesUsedThisMonth)
	assert.Equal(t, int64(300), limits.TokensUsedThisMonth)
}

func TestGenerateStory_StructuredOutput(t *testing.T) {
	f := newStoryFixture(t, false, LimitDefaults{PlanType: models.PlanUnlimited})
	f.svc.cfg.StructuredOutput = true
	f.provider.resp = LLMResponse{
		Content:    "ignored prose",
		Structured: json.RawMessage(storyJSON),
		Model:      "claude-sonnet-4-20250514",
		Usage:      TokenUsage{InputTokens: 10, OutputTokens: 20},
	}

	story, ex, err := f.svc.GenerateStory(context.Background(), "user_a", models.GenerateStoryRequest{
		UserInput:       "a startup pivot",
		SelectedPath:    &models.StoryPath{ID: models.NumberPathID("1"), Title: "Grit", Description: "Never quit", Focus: "resilience"},
		CustomDirection: "end on a sunrise",
	})
	require.NoError(t, err)
	assert.Equal(t, "The customer signs.", story.Line5)
	assert.Equal(t, "hopeful", story.Metadata.Tone)
	assert.NotEmpty(t, ex.ConversationID)

	req := f.provider.requests[0]
	require.NotNil(t, req.Tool)
	assert.Equal(t, "emit_five_line_story", req.Tool.Name)
	assert.Contains(t, req.Prompt, "Idea: a startup pivot")
	assert.Contains(t, req.Prompt, "Chosen direction: Grit - Never quit (focus: resilience)")
	assert.Contains(t, req.Prompt, "Additional direction: end on a sunrise")

	limits, err := scanLimits(context.Background(), f.store.DB(), "user_a")
	require.NoError(t, err)
	assert.Equal(t, 1, limits.StoriesUsedThisMonth)

	var conversationID string
	require.NoError(t, f.store.DB().QueryRow("SELECT conversation_id FROM usage_events").Scan(&conversationID))
	assert.Equal(t, ex.ConversationID, conversationID)
}

func TestGenerateStory_ConcurrentCallsAccumulateTokens(t *testing.T) {
	f := newStoryFixture(t, false, LimitDefaults{PlanType: models.PlanUnlimited})
	f.provider.resp = LLMResponse{Content: storyJSON, Usage: TokenUsage{InputTokens: 100, OutputTokens: 200}}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.svc.GenerateStory(context.Background(), "user_a", models.GenerateStoryRequest{UserInput: "a startup pivot"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	limits, err := scanLimits(context.Background(), f.store.DB(), "user_a")
	require.NoError(t, err)
	assert.Equal(t, int64(600), limits.TokensUsedThisMonth)
	assert.Equal(t, 2, limits.StoriesUsedThisMonth)
}

func TestRefineLine(t *testing.T) {
	f := newStoryFixture(t, false, LimitDefaults{PlanType: models.PlanUnlimited})
	f.provider.resp = LLMResponse{
		Content: `{"story":` + plainStoryJSON + `,"changed_line":3,"explanation":"Sharper turn."}`,
		Usage:   TokenUsage{InputTokens: 5, OutputTokens: 5},
	}

	var story models.Story
	require.NoError(t, json.Unmarshal([]byte(plainStoryJSON), &story))
	refined, _, err := f.svc.RefineLine(context.Background(), "user_a", models.RefineLineRequest{
		Story:      story,
		LineNumber: 3,
		Suggestion: "make it funnier",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, refined.ChangedLine)
	assert.Equal(t, "Sharper turn.", refined.Explanation)

	prompt := f.provider.requests[0].Prompt
	assert.Contains(t, prompt, "line3: The demo crashes.")
	assert.Contains(t, prompt, "Line to rewrite: 3")
	assert.Contains(t, prompt, "Suggestion: make it funnier")
}

func TestRun_MalformedReplyWritesNothing(t *testing.T) {
	f := newStoryFixture(t, false, LimitDefaults{PlanType: models.PlanUnlimited})
	f.provider.resp = LLMResponse{Content: `{"line1": "unterminated`, Usage: TokenUsage{InputTokens: 1, OutputTokens: 1}}

	_, _, err := f.svc.GenerateStory(context.Background(), "user_a", models.GenerateStoryRequest{UserInput: "x"})
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))

	assert.Zero(t, countRows(t, f.store, "conversations"))
	assert.Zero(t, countRows(t, f.store, "usage_events"))
	assert.Zero(t, countRows(t, f.store, "user_limits"))
}

func TestRun_ModelError(t *testing.T) {
	f := newStoryFixture(t, false, LimitDefaults{PlanType: models.PlanUnlimited})
	f.provider.err = errors.New("upstream 529")

	_, _, err := f.svc.SuggestPaths(context.Background(), "user_a", "x")
	assert.True(t, errors.Is(err, ErrModelCall))
	assert.Zero(t, countRows(t, f.store, "conversations"))
}

func TestRun_PersistenceError(t *testing.T) {
	f := newStoryFixture(t, false, LimitDefaults{PlanType: models.PlanUnlimited})
	f.svc.conversations = failingConversations{}
	f.provider.resp = LLMResponse{Content: pathsJSON}

	_, _, err := f.svc.SuggestPaths(context.Background(), "user_a", "x")
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.NotContains(t, err.Error(), "password")
	assert.Zero(t, countRows(t, f.store, "usage_events"))
}

func TestRun_QuotaEnforcement(t *testing.T) {
	f := newStoryFixture(t, true, LimitDefaults{PlanType: "free", MonthlyStoryLimit: 1})
	f.provider.resp = LLMResponse{Content: storyJSON, Usage: TokenUsage{InputTokens: 1, OutputTokens: 1}}
	ctx := context.Background()

	_, _, err := f.svc.GenerateStory(ctx, "user_a", models.GenerateStoryRequest{UserInput: "x"})
	require.NoError(t, err)

	_, _, err = f.svc.GenerateStory(ctx, "user_a", models.GenerateStoryRequest{UserInput: "x"})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Len(t, f.provider.requests, 1)

	f.provider.resp = LLMResponse{Content: pathsJSON}
	_, _, err = f.svc.SuggestPaths(ctx, "user_a", "x")
	assert.NoError(t, err)

	f.provider.resp = LLMResponse{Content: storyJSON, Usage: TokenUsage{InputTokens: 1, OutputTokens: 1}}
	story, _, err := f.svc.GenerateStory(ctx, "user_b", models.GenerateStoryRequest{UserInput: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, story.Line1)

	_, _, err = f.svc.GenerateStory(ctx, "user_a", models.GenerateStoryRequest{UserInput: "x"})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
}

func TestRun_TokenQuota(t *testing.T) {
	f := newStoryFixture(t, true, LimitDefaults{PlanType: "free", TokensLimitMonthly: 300})
	f.provider.resp = LLMResponse{Content: pathsJSON, Usage: TokenUsage{InputTokens: 100, OutputTokens: 200}}
	ctx := context.Background()

	_, _, err := f.svc.SuggestPaths(ctx, "user_a", "x")
	require.NoError(t, err)
	_, _, err = f.svc.SuggestPaths(ctx, "user_a", "x")
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
}

func TestUsageAccountant_Overview(t *testing.T) {
	f := newStoryFixture(t, false, LimitDefaults{PlanType: models.PlanUnlimited})
	f.provider.resp = LLMResponse{Content: storyJSON, Usage: TokenUsage{InputTokens: 100, OutputTokens: 200}}
	ctx := context.Background()

	_, _, err := f.svc.GenerateStory(ctx, "user_a", models.GenerateStoryRequest{UserInput: "x"})
	require.NoError(t, err)

	overview, err := f.svc.usage.Overview(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, models.PlanUnlimited, overview.PlanType)
	assert.Equal(t, 1, overview.StoriesUsedThisMonth)
	assert.Equal(t, 1, overview.CurrentMonth.Requests)
	assert.Equal(t, int64(300), overview.CurrentMonth.TotalTokens)
	assert.InDelta(t, 0.0033, overview.CurrentMonth.CostUSD, 1e-9)

	fresh, err := f.svc.usage.Overview(ctx, "user_new")
	require.NoError(t, err)
	assert.Zero(t, fresh.CurrentMonth.Requests)
}
