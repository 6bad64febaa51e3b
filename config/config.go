package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportPull = "pull"
	TransportPush = "push"
)

type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Auth     AuthConfig
	Waitlist WaitlistConfig
	Database DatabaseConfig
	Redis    RedisConfig
	App      AppConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// BackendConfig describes the storyboard backend and how lifecycle updates are received.
type BackendConfig struct {
	BaseURL         string
	WSBaseURL       string
	Transport       string
	HTTPTimeout     time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
	PushIdleTimeout time.Duration
	MaxScriptLength int
	CookieFile      string
}

// AuthConfig holds the identity provider settings and the post-login bootstrap retry policy.
type AuthConfig struct {
	ClientID         string
	Domain           string
	RedirectURL      string
	Audience         string
	BootstrapRetries int
	RetryDelay       time.Duration
}

type WaitlistConfig struct {
	SheetID          string
	SheetRange       string
	GoogleEmail      string
	GooglePrivateKey string
	Source           string
	RateLimit        float64
	RateBurst        int
	DedupTTL         time.Duration
}

type DatabaseConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AppConfig struct {
	Environment string
	LogLevel    string
	LogEncoding string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Backend: BackendConfig{
			BaseURL:         strings.TrimRight(getEnv("XLEOS_API_URL", "http://localhost:8000"), "/"),
			WSBaseURL:       strings.TrimRight(getEnv("XLEOS_WS_URL", ""), "/"),
			Transport:       strings.ToLower(getEnv("XLEOS_TRANSPORT", TransportPull)),
			HTTPTimeout:     getEnvAsDuration("XLEOS_HTTP_TIMEOUT", 30*time.Second),
			PollInterval:    getEnvAsDuration("XLEOS_POLL_INTERVAL", 2*time.Second),
			PollMaxAttempts: getEnvAsInt("XLEOS_POLL_MAX_ATTEMPTS", 30),
			PushIdleTimeout: getEnvAsDuration("XLEOS_PUSH_IDLE_TIMEOUT", 2*time.Minute),
			MaxScriptLength: getEnvAsInt("XLEOS_MAX_SCRIPT_LENGTH", 1000),
			CookieFile:      getEnv("XLEOS_COOKIE_FILE", defaultCookieFile()),
		},
		Auth: AuthConfig{
			ClientID:         getEnv("AUTH_CLIENT_ID", ""),
			Domain:           getEnv("AUTH_DOMAIN", ""),
			RedirectURL:      getEnv("AUTH_REDIRECT_URL", "http://localhost:3000/auth/callback"),
			Audience:         getEnv("AUTH_AUDIENCE", ""),
			BootstrapRetries: getEnvAsInt("AUTH_BOOTSTRAP_RETRIES", 2),
			RetryDelay:       getEnvAsDuration("AUTH_RETRY_DELAY", 1500*time.Millisecond),
		},
		Waitlist: WaitlistConfig{
			SheetID:     getEnv("SHEET_ID", ""),
			SheetRange:  getEnv("SHEET_RANGE", "Sheet1!A:G"),
			GoogleEmail: getEnv("GOOGLE_CLIENT_EMAIL", ""),
			// Private keys pasted into env files usually carry literal "\n" sequences.
			GooglePrivateKey: strings.ReplaceAll(getEnv("GOOGLE_PRIVATE_KEY", ""), `\n`, "\n"),
			Source:           getEnv("WAITLIST_SOURCE", "Xleos AI Studio"),
			RateLimit:        getEnvAsFloat("WAITLIST_RATE_LIMIT", 1),
			RateBurst:        getEnvAsInt("WAITLIST_RATE_BURST", 5),
			DedupTTL:         getEnvAsDuration("WAITLIST_DEDUP_TTL", 30*24*time.Hour),
		},
		Database: DatabaseConfig{
			DSN:      getEnv("DB_DSN", ""),
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "xleos"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogEncoding: getEnv("LOG_ENCODING", "json"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if cfg.Backend.WSBaseURL == "" {
		cfg.Backend.WSBaseURL = DeriveWSURL(cfg.Backend.BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("XLEOS_API_URL is invalid: %w", err)
	}

	if c.Backend.Transport != TransportPull && c.Backend.Transport != TransportPush {
		return fmt.Errorf("XLEOS_TRANSPORT must be %q or %q, got %q", TransportPull, TransportPush, c.Backend.Transport)
	}

	if c.Backend.PollInterval <= 0 {
		return fmt.Errorf("XLEOS_POLL_INTERVAL must be positive")
	}

	if c.Backend.PollMaxAttempts <= 0 {
		return fmt.Errorf("XLEOS_POLL_MAX_ATTEMPTS must be positive")
	}

	if c.Backend.MaxScriptLength <= 0 {
		return fmt.Errorf("XLEOS_MAX_SCRIPT_LENGTH must be positive")
	}

	if c.Auth.BootstrapRetries < 0 {
		return fmt.Errorf("AUTH_BOOTSTRAP_RETRIES must not be negative")
	}

	return nil
}

// SheetsEnabled reports whether the spreadsheet sink has everything it needs.
func (w WaitlistConfig) SheetsEnabled() bool {
	return w.SheetID != "" && w.GoogleEmail != "" && w.GooglePrivateKey != ""
}

// DatabaseEnabled reports whether a Postgres mirror was configured.
func (d DatabaseConfig) DatabaseEnabled() bool {
	return d.DSN != "" || d.Host != ""
}

// DeriveWSURL maps an http(s) base URL onto its ws(s) counterpart.
func DeriveWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

func defaultCookieFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".xleos-cookies.json"
	}
	return filepath.Join(dir, "xleos", "cookies.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid number for %s, using default: %g", key, defaultValue)
		return defaultValue
	}

	return value
}

// getEnvAsDuration accepts Go duration strings ("2s", "1500ms") or bare milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}
