package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fivelines/config"
	"fivelines/controllers"
	"fivelines/logger"
	"fivelines/middlewares"
	"fivelines/routes"
	"fivelines/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Logs.Level, cfg.Logs.Style)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	gin.SetMode(cfg.GinMode)

	db, err := services.OpenDB(ctx, cfg.DB.Driver, cfg.DB.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	store := services.NewSQLStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	conversations, err := newConversationStore(ctx, cfg, store)
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		return err
	}

	prompts, err := services.NewPromptRegistry(cfg.LLM.PromptsFile)
	if err != nil {
		return err
	}

	accountant := services.NewUsageAccountant(store, services.DefaultPriceTable, services.LimitDefaults{
		PlanType:           cfg.Quota.DefaultPlan,
		MonthlyStoryLimit:  cfg.Quota.MonthlyStories,
		TokensLimitMonthly: cfg.Quota.MonthlyTokens,
	}, cfg.Quota.Enforce)

	stories := services.NewStoryService(prompts, provider, conversations, accountant, services.StoryServiceConfig{
		StructuredOutput: cfg.LLM.StructuredOutput,
		MaxTokens:        cfg.LLM.MaxTokens,
		Timeout:          cfg.LLM.Timeout,
	}, zl.Named("story"))

	var verifier middlewares.TokenVerifier
	if !cfg.Auth.Disabled {
		v, err := middlewares.NewVerifier(cfg.Auth.Issuer, cfg.Auth.JWKSURL, cfg.Auth.AuthorizedParties)
		if err != nil {
			return err
		}
		verifier = v
	} else {
		zl.Warn("authentication disabled; all requests run as the local-dev user")
	}

	var profiles controllers.ProfileLookup
	if cfg.Auth.ClerkSecretKey != "" {
		clerk, err := services.NewClerkClient(cfg.Auth.ClerkAPIURL, cfg.Auth.ClerkSecretKey)
		if err != nil {
			return err
		}
		profiles = clerk
	}

	router := routes.SetupRouter(routes.Dependencies{
		AI:          controllers.NewAIController(stories, accountant, zl.Named("ai")),
		Users:       controllers.NewUserController(store, profiles, zl.Named("users")),
		Verifier:    verifier,
		AuthConfig:  middlewares.AuthConfig{Disabled: cfg.Auth.Disabled},
		CORSOrigins: cfg.CORSOrigins,
		Logger:      zl.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("server starting", zap.String("addr", srv.Addr), zap.String("llm_provider", cfg.LLM.Provider), zap.String("model", provider.Model()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		zl.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newProvider(cfg config.LLMConfig) (services.LLMProvider, error) {
	if cfg.Provider == config.ProviderOpenAI {
		return services.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.Model, "")
	}
	return services.NewAnthropicProvider(
		services.WithAnthropicKey(cfg.AnthropicAPIKey),
		services.WithAnthropicModel(cfg.Model),
		services.WithAnthropicMaxRetries(cfg.MaxRetries),
	)
}

func newConversationStore(ctx context.Context, cfg *config.Config, store *services.SQLStore) (services.ConversationStore, error) {
	if cfg.Conversation.Backend == config.BackendSQL {
		return store, nil
	}
	client, err := services.NewDynamoDBClient(ctx, cfg.Conversation.Region, cfg.Conversation.Endpoint)
	if err != nil {
		return nil, err
	}
	dynamo := services.NewDynamoConversationStore(client, cfg.Conversation.Table)
	if err := dynamo.EnsureTable(ctx); err != nil {
		return nil, err
	}
	return dynamo, nil
}
