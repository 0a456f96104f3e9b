package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `validate:"required"`
	Port        string `validate:"required"`
	Environment string

	// NextEngine app credentials and endpoints
	NEClientID     string
	NEClientSecret string
	NEAPIBaseURL   string `validate:"required,url"`
	NEOAuthBaseURL string `validate:"required,url"`
	NEAuthState    string
	BaseURL        string // public URL of this service, used for the OAuth redirect

	// Shared secrets for the scheduler/operator endpoints
	CronSecret   string
	ToggleSecret string

	// One-time token seeding (setup-tokens endpoint)
	InitialAccessToken  string
	InitialRefreshToken string

	// Price feed
	PriceFeedURL string `validate:"required,url"`

	// API client behavior
	APIRetries      int `validate:"min=1"`
	APITimeout      time.Duration
	ProductPageSize int           `validate:"min=1"`
	UpdateInterval  time.Duration // pause between per-product update calls

	// Repricing rules
	MaterialityThreshold float64  `validate:"min=0"`
	Holidays             []string // YYYY-MM-DD, refreshed per calendar year
	ProductPrefixes      []string `validate:"min=1"`
	GoldMarkers          []string `validate:"min=1"`
	PlatinumMarkers      []string `validate:"min=1"`
	BaselineLookbackDays int      `validate:"min=1"`

	// Marketplace sync behavior
	SyncBatchSize  int           `validate:"min=1"`
	SyncMaxRetries int           `validate:"min=0"`
	SyncRetryDelay time.Duration // multiplied by the attempt number
	SyncBatchPause time.Duration
}

// Japanese national holidays for the current calendar year. Data, not logic:
// replace via the HOLIDAYS env var when the year rolls over.
var defaultHolidays = []string{
	"2025-01-01",
	"2025-01-13",
	"2025-02-11",
	"2025-02-23",
	"2025-03-20",
	"2025-04-29",
	"2025-05-03",
	"2025-05-04",
	"2025-05-05",
	"2025-07-21",
	"2025-08-11",
	"2025-09-15",
	"2025-09-23",
	"2025-10-13",
	"2025-11-03",
	"2025-11-23",
	"2025-12-23",
}

func Load() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", "root:password@tcp(127.0.0.1:3306)/ne_autoprice?charset=utf8mb4&parseTime=True&loc=Local"),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		NEClientID:     getEnv("NE_CLIENT_ID", ""),
		NEClientSecret: getEnv("NE_CLIENT_SECRET", ""),
		NEAPIBaseURL:   getEnv("NE_API_BASE_URL", "https://api.next-engine.org"),
		NEOAuthBaseURL: getEnv("NE_OAUTH_BASE_URL", "https://base.next-engine.org"),
		NEAuthState:    getEnv("NE_STATE", "nextengine_auth_state"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),

		CronSecret:   getEnv("CRON_SECRET", ""),
		ToggleSecret: getEnv("TOGGLE_SECRET", ""),

		InitialAccessToken:  getEnv("INITIAL_ACCESS_TOKEN", ""),
		InitialRefreshToken: getEnv("INITIAL_REFRESH_TOKEN", ""),

		PriceFeedURL: getEnv("PRICE_FEED_URL", "https://gold.tanaka.co.jp/commodity/souba/english/index.php"),

		APIRetries:      getEnvInt("NE_API_RETRIES", 2),
		APITimeout:      getEnvDuration("NE_API_TIMEOUT", 30*time.Second),
		ProductPageSize: getEnvInt("PRODUCT_PAGE_SIZE", 200),
		UpdateInterval:  getEnvDuration("PRODUCT_UPDATE_INTERVAL", 100*time.Millisecond),

		MaterialityThreshold: getEnvFloat("MATERIALITY_THRESHOLD", 0.0001),
		Holidays:             getEnvList("HOLIDAYS", defaultHolidays),
		ProductPrefixes:      getEnvList("PRODUCT_PREFIXES", []string{"【新品】", "【新品仕上げ中古】", "【中古A】", "【中古B】", "【中古C】"}),
		GoldMarkers:          getEnvList("GOLD_MARKERS", []string{"K18", "K24"}),
		PlatinumMarkers:      getEnvList("PLATINUM_MARKERS", []string{"Pt"}),
		BaselineLookbackDays: getEnvInt("BASELINE_LOOKBACK_DAYS", 7),

		SyncBatchSize:  getEnvInt("SYNC_BATCH_SIZE", 50),
		SyncMaxRetries: getEnvInt("SYNC_MAX_RETRIES", 3),
		SyncRetryDelay: getEnvDuration("SYNC_RETRY_DELAY", 2*time.Second),
		SyncBatchPause: getEnvDuration("SYNC_BATCH_PAUSE", 1*time.Second),
	}
}

// Validate checks the loaded configuration before any service is wired up.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
