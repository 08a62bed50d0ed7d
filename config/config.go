package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// loads .env into the process environment
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port         string
	GinMode      string
	CORSOrigins  []string
	Logs         LogConfig
	LLM          LLMConfig
	DB           DBConfig
	Conversation ConversationConfig
	Auth         AuthConfig
	Quota        QuotaConfig
}

type LogConfig struct {
	Level string
	Style string // "json" or "console"
}

type LLMConfig struct {
	Provider         string // "anthropic" or "openai"
	Model            string
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	MaxTokens        int
	MaxRetries       int
	Timeout          time.Duration
	StructuredOutput bool
	PromptsFile      string
}

type DBConfig struct {
	Driver string // "postgres" or "sqlite"
	URL    string
}

type ConversationConfig struct {
	Backend  string // "dynamodb" or "sql"
	Region   string
	Endpoint string
	Table    string
}

type AuthConfig struct {
	Disabled          bool
	Issuer            string
	JWKSURL           string
	AuthorizedParties []string
	ClerkSecretKey    string
	ClerkAPIURL       string
}

type QuotaConfig struct {
	Enforce        bool
	DefaultPlan    string
	MonthlyStories int
	MonthlyTokens  int64
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	BackendDynamoDB = "dynamodb"
	BackendSQL      = "sql"
)

// Load reads the configuration from the environment, applying defaults for
// anything unset. Malformed numbers, booleans and durations are errors.
func Load() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	timeout, err := envDuration("LLM_TIMEOUT", 60*time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	}

	cfg := &Config{
		Port:        envString("PORT", "8080"),
		GinMode:     envString("GIN_MODE", "release"),
		CORSOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Logs: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			Style: envString("LOG_STYLE", "json"),
		},
		LLM: LLMConfig{
			Provider:         strings.ToLower(envString("LLM_PROVIDER", ProviderAnthropic)),
			Model:            os.Getenv("LLM_MODEL"),
			AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			MaxTokens:        intVar("LLM_MAX_TOKENS", 1024),
			MaxRetries:       intVar("LLM_MAX_RETRIES", 0),
			Timeout:          timeout,
			StructuredOutput: boolVar("LLM_STRUCTURED_OUTPUT", true),
			PromptsFile:      os.Getenv("PROMPTS_FILE"),
		},
		DB: DBConfig{
			Driver: strings.ToLower(envString("DATABASE_DRIVER", "postgres")),
			URL:    envString("DATABASE_URL", "host=localhost port=5432 user=postgres password=postgres dbname=fivelines sslmode=disable"),
		},
		Conversation: ConversationConfig{
			Backend:  strings.ToLower(envString("CONVERSATION_BACKEND", BackendDynamoDB)),
			Region:   envString("DYNAMODB_REGION", "us-east-1"),
			Endpoint: os.Getenv("DYNAMODB_ENDPOINT"),
			Table:    envString("DYNAMODB_TABLE", "Conversations"),
		},
		Auth: AuthConfig{
			Disabled:          boolVar("AUTH_DISABLED", false),
			Issuer:            os.Getenv("CLERK_ISSUER"),
			JWKSURL:           os.Getenv("CLERK_JWKS_URL"),
			AuthorizedParties: envList("CLERK_AUTHORIZED_PARTIES", nil),
			ClerkSecretKey:    os.Getenv("CLERK_SECRET_KEY"),
			ClerkAPIURL:       envString("CLERK_API_URL", "https://api.clerk.com"),
		},
		Quota: QuotaConfig{
			Enforce:        boolVar("QUOTA_ENFORCE", false),
			DefaultPlan:    envString("QUOTA_DEFAULT_PLAN", "unlimited"),
			MonthlyStories: intVar("QUOTA_MONTHLY_STORIES", 0),
			MonthlyTokens:  int64(intVar("QUOTA_MONTHLY_TOKENS", 0)),
		},
	}

	switch cfg.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Sprintf("LLM_PROVIDER: unsupported provider %q", cfg.LLM.Provider))
	}
	switch cfg.Conversation.Backend {
	case BackendDynamoDB, BackendSQL:
	default:
		errs = append(errs, fmt.Sprintf("CONVERSATION_BACKEND: unsupported backend %q", cfg.Conversation.Backend))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a boolean", key, raw)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a duration", key, raw)
	}
	return d, nil
}

func envList(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
