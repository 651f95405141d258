package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultMaxUploadBytes = 15 << 20

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv               string
	Port                 string
	GeminiAPIKey         string
	GeminiBaseURL        string
	GeminiAPIVersion     string
	AnalysisModel        string
	ImageModel           string
	GeminiRequestsPerMin int
	MaxRetries           int
	JPEGQuality          int
	SessionTTL           time.Duration
	RunTimeout           time.Duration
	MaxUploadBytes       int64
	CORSAllowedOrigins   []string
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	HTTPIdleTimeout      time.Duration
	RateLimitPerMin      int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// A missing GEMINI_API_KEY is allowed; callers may supply per-session keys.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:        os.Getenv("GEMINI_BASE_URL"),
		GeminiAPIVersion:     os.Getenv("GEMINI_API_VERSION"),
		AnalysisModel:        getEnv("GEMINI_ANALYSIS_MODEL", "gemini-2.5-flash"),
		ImageModel:           getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image-preview"),
		GeminiRequestsPerMin: getEnvInt("GEMINI_REQUESTS_PER_MINUTE", 0),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		JPEGQuality:          getEnvInt("JPEG_QUALITY", 92),
		SessionTTL:           time.Minute * time.Duration(getEnvInt("SESSION_TTL_MINUTES", 60)),
		RunTimeout:           time.Second * time.Duration(getEnvInt("RUN_TIMEOUT_SECONDS", 300)),
		MaxUploadBytes:       int64(getEnvInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		CORSAllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 120)),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", cfg.MaxRetries)
	}

	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", cfg.JPEGQuality)
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
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
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
