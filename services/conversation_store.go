package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fivelines/models"

	"github.com/google/uuid"
)

// MaxHistory caps how many conversations a history query returns.
const MaxHistory = 50

// ConversationStore persists model exchanges per user.
type ConversationStore interface {
	// CreateConversation stores c and returns the stored row with its
	// generated ID, CreatedAt and TokensUsed filled in.
	CreateConversation(ctx context.Context, c models.Conversation) (models.Conversation, error)
	// ListConversations returns up to limit of the user's rows, newest first.
	ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
}

// prepareConversation assigns the fields a store owns.
func prepareConversation(c models.Conversation, now time.Time) models.Conversation {
	c.ID = uuid.New().String()
	c.CreatedAt = now.UTC()
	c.TokensUsed = c.InputTokens + c.OutputTokens
	return c
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 || limit > MaxHistory {
		return MaxHistory
	}
	return limit
}

var _ ConversationStore = (*SQLStore)(nil)

func (s *SQLStore) CreateConversation(ctx context.Context, c models.Conversation) (models.Conversation, error) {
	c = prepareConversation(c, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, user_id, user_input, ai_response, prompt_type,
			tokens_used, input_tokens, output_tokens, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID,
		c.UserID,
		c.UserInput,
		string(c.AIResponse),
		string(c.PromptType),
		c.TokensUsed,
		c.InputTokens,
		c.OutputTokens,
		c.CreatedAt,
	)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (s *SQLStore) ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, user_input, ai_response, prompt_type,
			tokens_used, input_tokens, output_tokens, created_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, clampHistoryLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var (
			c          models.Conversation
			aiResponse string
			promptType string
		)
		if err := rows.Scan(
			&c.ID,
			&c.UserID,
			&c.UserInput,
			&aiResponse,
			&promptType,
			&c.TokensUsed,
			&c.InputTokens,
			&c.OutputTokens,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.AIResponse = json.RawMessage(aiResponse)
		c.PromptType = models.PromptType(promptType)
		c.CreatedAt = c.CreatedAt.UTC()
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}
