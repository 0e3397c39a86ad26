// Package config provides configuration for the convo client and the dev assistant service.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the chat client configuration.
type Config struct {
	// Assistant service
	BaseURL   string
	Transport string // "http" or "ws"
	WSURL     string

	// Timeouts
	HTTPTimeout  time.Duration
	ReplyTimeout time.Duration // 0 waits for the reply indefinitely

	// Credential storage
	CredentialStore string // "memory", "file" or "redis"
	CredentialFile  string
	RedisURL        string
	Profile         string

	// Logging
	LogLevel string
}

// Load loads client configuration from environment variables, reading a
// .env file first if one exists.
func Load() *Config {
	godotenv.Load()

	return &Config{
		BaseURL:         getEnv("CONVO_BASE_URL", "http://localhost:8095"),
		Transport:       getEnv("CONVO_TRANSPORT", "http"),
		WSURL:           getEnv("CONVO_WS_URL", "ws://localhost:8095/ws"),
		HTTPTimeout:     time.Duration(getEnvInt("CONVO_HTTP_TIMEOUT_MS", 30000)) * time.Millisecond,
		ReplyTimeout:    time.Duration(getEnvInt("CONVO_REPLY_TIMEOUT_MS", 0)) * time.Millisecond,
		CredentialStore: getEnv("CONVO_CREDENTIAL_STORE", "memory"),
		CredentialFile:  getEnv("CONVO_CREDENTIAL_FILE", defaultCredentialFile()),
		RedisURL:        getEnv("CONVO_REDIS_URL", "redis://localhost:6379/0"),
		Profile:         getEnv("CONVO_PROFILE", "default"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

// StubConfig holds the dev assistant service configuration.
type StubConfig struct {
	HTTPPort int

	// Database
	DatabaseURL string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration
	Users     map[string]string // username -> password

	// Message policy
	RateLimitPerMinute int
	MaxMessageChars    int

	// Logging
	LogLevel string
}

// LoadStub loads the dev assistant service configuration from environment variables.
func LoadStub() *StubConfig {
	godotenv.Load()

	return &StubConfig{
		HTTPPort:           getEnvInt("STUB_HTTP_PORT", 8095),
		DatabaseURL:        getEnv("DATABASE_URL", "file:assistant.db?cache=shared&mode=rwc"),
		JWTSecret:          getEnv("JWT_SECRET", "convo-dev-secret"),
		TokenTTL:           time.Duration(getEnvInt("TOKEN_TTL_MS", 3600000)) * time.Millisecond,
		Users:              parseUsers(getEnv("STUB_USERS", "demo:demo")),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		MaxMessageChars:    getEnvInt("MAX_MESSAGE_CHARS", 4000),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

// SlogLevel maps a LOG_LEVEL value onto a slog level. Unknown values mean info.
func SlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseUsers reads "name:password" pairs separated by commas.
func parseUsers(val string) map[string]string {
	users := make(map[string]string)
	for _, pair := range strings.Split(val, ",") {
		name, password, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" || password == "" {
			continue
		}
		users[name] = password
	}
	return users
}

func defaultCredentialFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".convo", "credential.json")
	}
	return filepath.Join(home, ".convo", "credential.json")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
