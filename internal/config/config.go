package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアドライバ
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// Providers
	NewsAPIKey      string
	GNewsAPIKey     string
	FeedURLs        map[string][]string // カテゴリ名 → RSS/AtomフィードURL
	ProviderTimeout time.Duration
	PageSize        int
	FetchMaxSize    int64

	// Summarizer
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	SummaryTimeout time.Duration

	// Schedule
	AggregationInterval time.Duration
	RetentionWindow     time.Duration
	CycleLockTTL        time.Duration

	// Redis（任意: サイクルの分散ロック）
	RedisAddr     string
	RedisPassword string

	// NATS（任意: 新着記事イベント）
	NATSURL     string
	NATSSubject string

	// Rate Limit（req/min）
	RateLimitGeneral   int
	RateLimitAggregate int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))

	// Required fields
	var missing []string

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverMongo:
		cfg.MongoURI = os.Getenv("MONGO_URI")
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q (expected %q or %q)",
			cfg.StoreDriver, StoreDriverPostgres, StoreDriverMongo)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "newsagg")
	cfg.NewsAPIKey = os.Getenv("NEWSAPI_KEY")
	cfg.GNewsAPIKey = os.Getenv("GNEWS_API_KEY")
	cfg.FeedURLs = parseFeedURLs(os.Getenv("FEED_URLS"))
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.PageSize = getEnvInt("PAGE_SIZE", 20)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-3.5-turbo")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.SummaryTimeout = getEnvDuration("SUMMARY_TIMEOUT", 15*time.Second)
	cfg.AggregationInterval = getEnvDuration("AGGREGATION_INTERVAL", 30*time.Minute)
	cfg.RetentionWindow = getEnvDuration("RETENTION_WINDOW", 7*24*time.Hour)
	cfg.CycleLockTTL = getEnvDuration("CYCLE_LOCK_TTL", 25*time.Minute)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubject = getEnvString("NATS_SUBJECT", "news.articles.created")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAggregate = getEnvInt("RATE_LIMIT_AGGREGATE", 2)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// Warnings は起動時に一度だけ報告すべき機能欠落を返す。
// プロバイダや要約APIのキー不足は致命的ではないが、集約結果に影響する。
func (c *Config) Warnings() []string {
	var warnings []string

	if c.NewsAPIKey == "" {
		warnings = append(warnings, "NEWSAPI_KEY is not set: newsapi provider disabled")
	}
	if c.GNewsAPIKey == "" {
		warnings = append(warnings, "GNEWS_API_KEY is not set: gnews provider disabled")
	}
	if c.NewsAPIKey == "" && c.GNewsAPIKey == "" && len(c.FeedURLs) == 0 {
		warnings = append(warnings, "no news provider is configured: aggregation cycles will persist nothing")
	}
	if c.OpenAIAPIKey == "" {
		warnings = append(warnings, "OPENAI_API_KEY is not set: summaries fall back to truncated titles")
	}

	return warnings
}

// parseFeedURLs は "technology=https://a|https://b,business=https://c" 形式を解析する。
// 不正なエントリは無視する。
func parseFeedURLs(raw string) map[string][]string {
	result := make(map[string][]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}

	for _, entry := range strings.Split(raw, ",") {
		category, urls, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		category = strings.ToLower(strings.TrimSpace(category))
		if category == "" {
			continue
		}
		for _, u := range strings.Split(urls, "|") {
			if u = strings.TrimSpace(u); u != "" {
				result[category] = append(result[category], u)
			}
		}
	}

	return result
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
