package models

import (
	"encoding/json"
	"time"
)

type PromptType string

const (
	PromptSuggestPaths  PromptType = "suggest_paths"
	PromptGenerateStory PromptType = "generate_story"
	PromptRefineLine    PromptType = "refine_line"
)

// PromptTypes lists every supported prompt type.
var PromptTypes = []PromptType{PromptSuggestPaths, PromptGenerateStory, PromptRefineLine}

func (p PromptType) Valid() bool {
	switch p {
	case PromptSuggestPaths, PromptGenerateStory, PromptRefineLine:
		return true
	}
	return false
}

// Conversation is one stored exchange with the model. Rows are never updated.
type Conversation struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	UserInput    string          `json:"user_input"`
	AIResponse   json.RawMessage `json:"ai_response"`
	PromptType   PromptType      `json:"prompt_type"`
	TokensUsed   int             `json:"tokens_used"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	CreatedAt    time.Time       `json:"created_at"`
}
