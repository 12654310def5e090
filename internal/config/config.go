package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the gateway process.
type Config struct {
	Port string

	OperatorAuthToken string
	CORSOrigins       []string
	RateLimitRPS      float64
	RateLimitBurst    int

	DatabaseURL string
	CredsFile   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QuotaDailyLimit    int
	QuotaRetentionDays int
	QuotaFailOpen      bool

	TransportURL      string
	TransportToken    string
	MediaBaseURL      string
	ReconnectDelay    time.Duration
	MaxDocumentBytes  int64
	MinAnalysisLength int

	BackendBaseURL    string
	BackendAPIKey     string
	BackendTimeout    time.Duration
	BackendMaxRetries int

	PollInterval    time.Duration
	PollMaxAttempts int

	ResultCacheTTL        time.Duration
	ResultCacheMaxEntries int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		OperatorAuthToken: getEnv("OPERATOR_AUTH_TOKEN", ""),
		CORSOrigins:       splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RateLimitRPS:      getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 40),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		CredsFile:   getEnv("CREDS_FILE", "gateway-creds.bin"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		QuotaDailyLimit:    getEnvInt("QUOTA_DAILY_LIMIT", 10),
		QuotaRetentionDays: getEnvInt("QUOTA_RETENTION_DAYS", 7),
		QuotaFailOpen:      getEnvBool("QUOTA_FAIL_OPEN", true),

		TransportURL:      getEnv("TRANSPORT_URL", ""),
		TransportToken:    getEnv("TRANSPORT_TOKEN", ""),
		MediaBaseURL:      getEnv("MEDIA_BASE_URL", ""),
		ReconnectDelay:    getEnvDurationMS("RECONNECT_DELAY_MS", 5*time.Second),
		MaxDocumentBytes:  int64(getEnvInt("MAX_DOCUMENT_BYTES", 16*1024*1024)),
		MinAnalysisLength: getEnvInt("MIN_ANALYSIS_TEXT_LENGTH", 10),

		BackendBaseURL:    getEnv("BACKEND_BASE_URL", "http://localhost:9000"),
		BackendAPIKey:     getEnv("BACKEND_API_KEY", ""),
		BackendTimeout:    getEnvDurationMS("BACKEND_TIMEOUT_MS", 30*time.Second),
		BackendMaxRetries: getEnvInt("BACKEND_MAX_RETRIES", 2),

		PollInterval:    getEnvDurationMS("POLL_INTERVAL_MS", 3*time.Second),
		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 60),

		ResultCacheTTL:        getEnvDurationMS("RESULT_CACHE_TTL_MS", 15*time.Minute),
		ResultCacheMaxEntries: getEnvInt("RESULT_CACHE_MAX_ENTRIES", 1000),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDurationMS reads a millisecond count from the environment.
func getEnvDurationMS(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
