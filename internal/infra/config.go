package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv               string
	Port                 string
	StoreDriver          string
	DatabaseURL          string
	RedisURL             string
	JWTSecret            string
	AdminToken           string
	WebhookSecret        string
	RunningHubAPIKey     string
	RunningHubBaseURL    string
	RunningHubWebhookURL string
	ToolsConfigPath      string
	StoragePath          string
	StorageBaseURL       string
	GeoIPDBPath          string
	DefaultLocale        string
	AllowedOrigins       []string
	HTTPReadTimeout      time.Duration
	HTTPIdleTimeout      time.Duration
	RateLimitPerMin      int
	ReconcileInterval    time.Duration
	ReconcileStaleAfter  time.Duration
	PendingTimeout       time.Duration
	MonthlyCredits       int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 port,
		StoreDriver:          strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             strings.TrimSpace(os.Getenv("REDIS_URL")),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		WebhookSecret:        os.Getenv("WEBHOOK_SECRET"),
		RunningHubAPIKey:     strings.TrimSpace(os.Getenv("RUNNINGHUB_API_KEY")),
		RunningHubBaseURL:    getEnv("RUNNINGHUB_BASE_URL", "https://www.runninghub.ai"),
		RunningHubWebhookURL: os.Getenv("RUNNINGHUB_WEBHOOK_URL"),
		ToolsConfigPath:      os.Getenv("TOOLS_CONFIG_PATH"),
		StoragePath:          getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:       getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		GeoIPDBPath:          os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:        getEnv("DEFAULT_LOCALE", "pt"),
		AllowedOrigins:       splitList(os.Getenv("ALLOWED_ORIGINS")),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		ReconcileInterval:    time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 30)),
		ReconcileStaleAfter:  time.Second * time.Duration(getEnvInt("RECONCILE_STALE_SECONDS", 60)),
		PendingTimeout:       time.Second * time.Duration(getEnvInt("PENDING_TIMEOUT_SECONDS", 300)),
		MonthlyCredits:       getEnvInt("MONTHLY_CREDITS", 100),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
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

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
