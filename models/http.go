package models

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
	Usage   *UsageSummary `json:"usage,omitempty"`
}

// UsageSummary reports the token cost of a single call.
type UsageSummary struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type SuggestPathsRequest struct {
	UserInput string `json:"userInput" binding:"required,max=4000"`
}

type GenerateStoryRequest struct {
	UserInput       string     `json:"userInput" binding:"required,max=4000"`
	SelectedPath    *StoryPath `json:"selectedPath"`
	CustomDirection string     `json:"customDirection" binding:"max=2000"`
}

type RefineLineRequest struct {
	Story      Story  `json:"story"`
	LineNumber int    `json:"lineNumber" binding:"required,min=1,max=5"`
	Suggestion string `json:"suggestion" binding:"required,max=2000"`
}

// StoryResult is the generate-story response payload.
type StoryResult struct {
	Story
	Metadata       StoryMetadata `json:"metadata"`
	ConversationID string        `json:"conversationId"`
}

// UsageOverview is the GET /api/ai/usage payload.
type UsageOverview struct {
	UserLimits
	CurrentMonth UsageTotals `json:"current_month"`
}

type CreateUserRequest struct {
	Email string `json:"email" binding:"omitempty,email"`
	Name  string `json:"name" binding:"max=200"`
}
