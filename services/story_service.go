package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fivelines/models"

	"go.uber.org/zap"
)

var (
	ErrModelCall   = errors.New("AI request failed")
	ErrPersistence = errors.New("failed to save conversation")
)

// Exchange describes what one successful call stored and cost.
type Exchange struct {
	ConversationID string
	Usage          models.UsageSummary
}

type StoryServiceConfig struct {
	// StructuredOutput asks the provider for tool output instead of free text.
	StructuredOutput bool
	// MaxTokens applies when a prompt does not set its own.
	MaxTokens int
	// Timeout bounds each model call; zero means only the caller's context.
	Timeout time.Duration
}

// StoryService runs each story operation through the same pipeline: quota
// check, prompt lookup, model call, normalization, persistence, accounting.
// It holds no per-user state; the suggest/generate/refine flow is driven
// entirely by the client.
type StoryService struct {
	prompts       *PromptRegistry
	llm           LLMProvider
	conversations ConversationStore
	usage         *UsageAccountant
	cfg           StoryServiceConfig
	log           *zap.Logger
}

func NewStoryService(prompts *PromptRegistry, llm LLMProvider, conversations ConversationStore, usage *UsageAccountant, cfg StoryServiceConfig, log *zap.Logger) *StoryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &StoryService{
		prompts:       prompts,
		llm:           llm,
		conversations: conversations,
		usage:         usage,
		cfg:           cfg,
		log:           log,
	}
}

func (s *StoryService) SuggestPaths(ctx context.Context, userID, userInput string) (*models.PathSuggestions, Exchange, error) {
	var out models.PathSuggestions
	ex, err := s.run(ctx, userID, models.PromptSuggestPaths, userInput, userInput, &out)
	if err != nil {
		return nil, Exchange{}, err
	}
	return &out, ex, nil
}

func (s *StoryService) GenerateStory(ctx context.Context, userID string, req models.GenerateStoryRequest) (*models.GeneratedStory, Exchange, error) {
	var out models.GeneratedStory
	ex, err := s.run(ctx, userID, models.PromptGenerateStory, req.UserInput, generateMessage(req), &out)
	if err != nil {
		return nil, Exchange{}, err
	}
	return &out, ex, nil
}

func (s *StoryService) RefineLine(ctx context.Context, userID string, req models.RefineLineRequest) (*models.RefinedLine, Exchange, error) {
	var out models.RefinedLine
	msg := refineMessage(req)
	ex, err := s.run(ctx, userID, models.PromptRefineLine, msg, msg, &out)
	if err != nil {
		return nil, Exchange{}, err
	}
	return &out, ex, nil
}

func (s *StoryService) History(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	return s.conversations.ListConversations(ctx, userID, limit)
}

func (s *StoryService) run(ctx context.Context, userID string, kind models.PromptType, userInput, message string, out Payload) (Exchange, error) {
	log := s.log.With(zap.String("user_id", userID), zap.String("prompt_type", string(kind)))

	if err := s.usage.Check(ctx, userID, kind); err != nil {
		return Exchange{}, err
	}

	spec, err := s.prompts.Prompt(kind)
	if err != nil {
		return Exchange{}, err
	}
	req := LLMRequest{
		SystemPrompt: spec.System,
		Prompt:       message,
		MaxTokens:    spec.MaxTokens,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = s.cfg.MaxTokens
	}
	if s.cfg.StructuredOutput {
		req.Tool = spec.Tool()
	}

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := s.llm.Complete(callCtx, req)
	if err != nil {
		log.Error("model call failed", zap.Error(err))
		return Exchange{}, fmt.Errorf("%w: %v", ErrModelCall, err)
	}
	model := resp.Model
	if model == "" {
		model = s.llm.Model()
	}
	log.Debug("model call completed",
		zap.String("model", model),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Bool("structured", len(resp.Structured) > 0),
		zap.Duration("latency", time.Since(started)),
	)

	normalized, err := Normalize(resp, out)
	if err != nil {
		log.Warn("model reply rejected", zap.Error(err))
		return Exchange{}, err
	}

	conv, err := s.conversations.CreateConversation(ctx, models.Conversation{
		UserID:       userID,
		UserInput:    userInput,
		AIResponse:   normalized,
		PromptType:   kind,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})
	if err != nil {
		log.Error("save conversation failed", zap.Error(err))
		return Exchange{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// The reply is already stored; a failed usage write is logged, not surfaced.
	if _, err := s.usage.Record(ctx, userID, kind, model, resp.Usage, conv.ID); err != nil {
		log.Error("record usage failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	return Exchange{ConversationID: conv.ID, Usage: s.usage.Summary(model, resp.Usage)}, nil
}

func generateMessage(req models.GenerateStoryRequest) string {
	var b strings.Builder
	b.WriteString("Idea: ")
	b.WriteString(strings.TrimSpace(req.UserInput))
	if p := req.SelectedPath; p != nil && p.Title != "" {
		fmt.Fprintf(&b, "\n\nChosen direction: %s", p.Title)
		if p.Description != "" {
			fmt.Fprintf(&b, " - %s", p.Description)
		}
		if p.Focus != "" {
			fmt.Fprintf(&b, " (focus: %s)", p.Focus)
		}
	}
	if d := strings.TrimSpace(req.CustomDirection); d != "" {
		fmt.Fprintf(&b, "\n\nAdditional direction: %s", d)
	}
	return b.String()
}

func refineMessage(req models.RefineLineRequest) string {
	var b strings.Builder
	b.WriteString("Story:\n")
	for i, line := range req.Story.Lines() {
		fmt.Fprintf(&b, "line%d: %s\n", i+1, line)
	}
	fmt.Fprintf(&b, "\nLine to rewrite: %d\nSuggestion: %s", req.LineNumber, strings.TrimSpace(req.Suggestion))
	return b.String()
}
