package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// Job store backend: "redis", "postgres" or "memory".
	JobStoreBackend string
	RedisURL        string
	DatabaseURL     string
	JobTTL          time.Duration
	// A job sitting in a non-terminal state longer than this is treated
	// as failed by the status reader.
	JobStaleAfter time.Duration

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	VideoModel    string
	// Optional token-exchange endpoint. When set, gateway calls
	// authenticate with short-lived tokens minted there instead of the
	// static API key.
	GeminiTokenURL string

	ImagePollInterval time.Duration
	VideoPollInterval time.Duration

	StoragePath    string
	GeoIPDBPath    string
	DefaultLocale  string
	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		JobStoreBackend:   getEnv("JOB_STORE_BACKEND", "redis"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JobTTL:            time.Second * time.Duration(getEnvInt("JOB_TTL_SECONDS", 24*60*60)),
		JobStaleAfter:     time.Minute * time.Duration(getEnvInt("JOB_STALE_AFTER_MINUTES", 15)),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		VideoModel:        getEnv("VIDEO_MODEL", "veo-3.0-generate-001"),
		GeminiTokenURL:    os.Getenv("GEMINI_TOKEN_URL"),
		ImagePollInterval: time.Second * time.Duration(getEnvInt("IMAGE_POLL_INTERVAL_SECONDS", 3)),
		VideoPollInterval: time.Second * time.Duration(getEnvInt("VIDEO_POLL_INTERVAL_SECONDS", 10)),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath:       os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:     getEnv("DEFAULT_LOCALE", "en"),
		AllowedOrigins:    splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	switch cfg.JobStoreBackend {
	case "redis", "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres job store")
		}
	default:
		return nil, fmt.Errorf("unsupported JOB_STORE_BACKEND %q", cfg.JobStoreBackend)
	}

	if cfg.JobTTL <= 0 {
		return nil, fmt.Errorf("JOB_TTL_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
