package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once at startup and passed by reference into each
// component; nothing else reads the process environment.
type Config struct {
	// Upstream analytics provider.
	WebAnalyticsURL string
	WebPropertyID   string

	// Upstream payments provider.
	PaymentsURL    string
	PaymentsAPIKey string

	// Language-model service (chat completions).
	ModelURL    string
	ModelAPIKey string
	ModelName   string

	// Optional social auto-post token. Empty disables posting.
	SocialToken string

	OutputDir     string
	HistoryDBPath string

	Port        string
	HTTPTimeout time.Duration

	// Retry budget for idempotent fetch calls. 0 means a single attempt.
	// The generative insight call is never covered by this budget.
	FetchRetries   int
	RetryBase      time.Duration
	RetryModelOnce bool

	WindowDays int
	LogLevel   slog.Level
}

// Load reads an optional .env file, then the environment.
func Load() Config {
	_ = godotenv.Load()

	lvl := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		lvl = slog.LevelDebug
	}
	return Config{
		WebAnalyticsURL: envOr("WEB_ANALYTICS_URL", "https://analyticsdata.example.com"),
		WebPropertyID:   os.Getenv("WEB_PROPERTY_ID"),
		PaymentsURL:     envOr("PAYMENTS_API_URL", "https://api.payments.example.com"),
		PaymentsAPIKey:  os.Getenv("PAYMENTS_API_KEY"),
		ModelURL:        envOr("MODEL_API_URL", "https://api.openai.com"),
		ModelAPIKey:     os.Getenv("MODEL_API_KEY"),
		ModelName:       envOr("MODEL_NAME", "gpt-4"),
		SocialToken:     os.Getenv("SOCIAL_BEARER_TOKEN"),
		OutputDir:       envOr("OUTPUT_DIR", "./output"),
		HistoryDBPath:   envOr("HISTORY_DB_PATH", "./output/runs.db"),
		Port:            envOr("PORT", "8080"),
		HTTPTimeout:     envSeconds("HTTP_TIMEOUT_SECONDS", 15*time.Second),
		FetchRetries:    envInt("FETCH_RETRIES", 2),
		RetryBase:       envSeconds("RETRY_BASE_SECONDS", 1*time.Second),
		RetryModelOnce:  os.Getenv("RETRY_MODEL_ONCE") == "true",
		WindowDays:      envInt("WINDOW_DAYS", 30),
		LogLevel:        lvl,
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envSeconds(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
		return d
	}
	return def
}
