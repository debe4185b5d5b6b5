package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

var defaultModels = map[string]string{
	ProviderOpenAI: "gpt-4o-mini",
	ProviderGroq:   "llama-3.3-70b-versatile",
	ProviderGemini: "gemini-2.0-flash",
}

// Config holds the configuration for the application.
type Config struct {
	LLMProvider  string
	LLMModel     string
	OpenAIAPIKey string
	GroqAPIKey   string
	GeminiAPIKey string

	DatabasePath string
	PatientsFile string

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Generation tuning
	DayRequestTimeout     time.Duration
	FastDayRequestTimeout time.Duration
	DayFallbackTimeout    time.Duration
	MaxParallelDays       int
	MinDailyKcal          float64
	SnackRepeatAllowance  int

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	Port                   string
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOpenAI))
	defaultModel, ok := defaultModels[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", provider)
	}

	cfg := &Config{
		LLMProvider:  provider,
		LLMModel:     getEnvOrDefault("LLM_MODEL", defaultModel),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		GroqAPIKey:   os.Getenv("GROQ_API_KEY"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		DatabasePath: getEnvOrDefault("DATABASE_PATH", "data/nutrition-planner.db"),
		PatientsFile: getEnvOrDefault("PATIENTS_FILE", "data/patients.yaml"),
		LogLevel:     getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:    getEnvOrDefault("LOG_FORMAT", "json"),
		LogOutput:    getEnvOrDefault("LOG_OUTPUT", "stdout"),

		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
		Port:               getEnvOrDefault("PORT", "8080"),
	}

	switch provider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	case ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	}

	var err error
	if cfg.DayRequestTimeout, err = durationFromEnv("DAY_REQUEST_TIMEOUT", 25*time.Second); err != nil {
		return nil, err
	}
	if cfg.FastDayRequestTimeout, err = durationFromEnv("FAST_DAY_REQUEST_TIMEOUT", 18*time.Second); err != nil {
		return nil, err
	}
	if cfg.DayFallbackTimeout, err = durationFromEnv("DAY_FALLBACK_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxParallelDays, err = intFromEnv("MAX_PARALLEL_DAYS", 3); err != nil {
		return nil, err
	}
	if cfg.SnackRepeatAllowance, err = intFromEnv("SNACK_REPEAT_ALLOWANCE", 2); err != nil {
		return nil, err
	}
	minKcal, err := intFromEnv("MIN_DAILY_KCAL", 1800)
	if err != nil {
		return nil, err
	}
	cfg.MinDailyKcal = float64(minKcal)

	if raw := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %w", err)
			}
			cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
		}
	}

	return cfg, nil
}

// APIKey returns the key of the configured provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case ProviderGroq:
		return c.GroqAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationFromEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func intFromEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", key)
	}
	return n, nil
}
