package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"fivelines/middlewares"
	"fivelines/models"
	"fivelines/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StoryRunner is the story pipeline the AI handlers drive.
type StoryRunner interface {
	SuggestPaths(ctx context.Context, userID, userInput string) (*models.PathSuggestions, services.Exchange, error)
	GenerateStory(ctx context.Context, userID string, req models.GenerateStoryRequest) (*models.GeneratedStory, services.Exchange, error)
	RefineLine(ctx context.Context, userID string, req models.RefineLineRequest) (*models.RefinedLine, services.Exchange, error)
	History(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
}

type UsageReader interface {
	Overview(ctx context.Context, userID string) (models.UsageOverview, error)
}

type AIController struct {
	stories StoryRunner
	usage   UsageReader
	log     *zap.Logger
}

func NewAIController(stories StoryRunner, usage UsageReader, log *zap.Logger) *AIController {
	if log == nil {
		log = zap.NewNop()
	}
	return &AIController{stories: stories, usage: usage, log: log}
}

func (ac *AIController) SuggestPaths(c *gin.Context) {
	var req models.SuggestPathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "userInput is required")
		return
	}

	paths, ex, err := ac.stories.SuggestPaths(c.Request.Context(), middlewares.UserID(c), req.UserInput)
	if err != nil {
		ac.respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: paths, Usage: &ex.Usage})
}

func (ac *AIController) GenerateStory(c *gin.Context) {
	var req models.GenerateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "userInput is required")
		return
	}

	story, ex, err := ac.stories.GenerateStory(c.Request.Context(), middlewares.UserID(c), req)
	if err != nil {
		ac.respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data: models.StoryResult{
			Story:          story.Story,
			Metadata:       story.Metadata,
			ConversationID: ex.ConversationID,
		},
		Usage: &ex.Usage,
	})
}

func (ac *AIController) RefineLine(c *gin.Context) {
	var req models.RefineLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "story, lineNumber (1-5) and suggestion are required")
		return
	}

	refined, ex, err := ac.stories.RefineLine(c.Request.Context(), middlewares.UserID(c), req)
	if err != nil {
		ac.respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: refined, Usage: &ex.Usage})
}

func (ac *AIController) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	conversations, err := ac.stories.History(c.Request.Context(), middlewares.UserID(c), limit)
	if err != nil {
		ac.log.Error("fetch history failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch history")
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: conversations})
}

func (ac *AIController) Usage(c *gin.Context) {
	overview, err := ac.usage.Overview(c.Request.Context(), middlewares.UserID(c))
	if err != nil {
		ac.log.Error("fetch usage failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: overview})
}

func (ac *AIController) respondStoryError(c *gin.Context, err error) {
	var parseErr *services.ParseError
	switch {
	case errors.As(err, &parseErr):
		respondError(c, http.StatusInternalServerError, "Failed to parse AI response")
	case errors.Is(err, services.ErrQuotaExceeded):
		respondError(c, http.StatusTooManyRequests, "Monthly limit reached")
	case errors.Is(err, services.ErrModelCall):
		respondError(c, http.StatusInternalServerError, "AI request failed")
	case errors.Is(err, services.ErrPersistence):
		respondError(c, http.StatusInternalServerError, "Failed to save conversation")
	default:
		ac.log.Error("story request failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, models.APIResponse{Success: false, Error: message})
}
