package routes

import (
	"time"

	"fivelines/controllers"
	"fivelines/middlewares"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Dependencies struct {
	AI          *controllers.AIController
	Users       *controllers.UserController
	Verifier    middlewares.TokenVerifier
	AuthConfig  middlewares.AuthConfig
	CORSOrigins []string
	Logger      *zap.Logger
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.Logger(deps.Logger))
	r.Use(cors.New(corsConfig(deps.CORSOrigins)))

	requireAuth := middlewares.Auth(deps.Verifier, deps.AuthConfig, deps.Logger)
	optionalCfg := deps.AuthConfig
	optionalCfg.Optional = true
	optionalAuth := middlewares.Auth(deps.Verifier, optionalCfg, deps.Logger)

	r.GET("/health", controllers.Health)

	ai := r.Group("/api/ai", requireAuth)
	ai.POST("/suggest-paths", deps.AI.SuggestPaths)
	ai.POST("/generate-story", deps.AI.GenerateStory)
	ai.POST("/refine-line", deps.AI.RefineLine)
	ai.GET("/history", deps.AI.History)
	ai.GET("/usage", deps.AI.Usage)

	users := r.Group("/api/users")
	users.GET("", optionalAuth, deps.Users.List)
	users.GET("/:id", optionalAuth, deps.Users.Get)
	users.POST("", requireAuth, deps.Users.Create)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
