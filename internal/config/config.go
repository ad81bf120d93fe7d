// Package config provides environment configuration for the gateway.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Environment        string
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string

	// Backend settings
	APIBase         string
	WSBase          string
	HTTPTimeout     time.Duration
	UpstreamRPS     float64
	UpstreamBurst   int
	AuthToken       string
	JWTSecret       string
	ReconcileWindow time.Duration
	RoomIdleTimeout time.Duration

	// Redis settings
	RedisURL  string
	ChatIDTTL time.Duration

	// NATS settings
	NATSURL       string
	NATSCAFile    string
	NATSCertFile  string
	NATSKeyFile   string
	NATSToken     string
	NATSRetention time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first if present; real environment values win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		Environment:        getEnv("ENV", "production"),
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		CORSOrigins:        getListEnv("CORS_ORIGINS"),

		// Backend
		APIBase:         getEnv("API_BASE", "http://localhost:8000"),
		WSBase:          getEnv("WS_BASE", "ws://localhost:8000"),
		HTTPTimeout:     getDurationEnv("HTTP_TIMEOUT", 15*time.Second),
		UpstreamRPS:     getFloatEnv("UPSTREAM_RPS", 20),
		UpstreamBurst:   getIntEnv("UPSTREAM_BURST", 40),
		AuthToken:       getEnv("AUTH_TOKEN", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		ReconcileWindow: getDurationEnv("RECONCILE_WINDOW", 0),
		RoomIdleTimeout: getDurationEnv("ROOM_IDLE_TIMEOUT", 10*time.Minute),

		// Redis
		RedisURL:  getEnv("REDIS_URL", ""),
		ChatIDTTL: getDurationEnv("CHAT_ID_TTL", 24*time.Hour),

		// NATS
		NATSURL:       getEnv("NATS_URL", ""),
		NATSCAFile:    getEnv("NATS_CA_FILE", ""),
		NATSCertFile:  getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:   getEnv("NATS_KEY_FILE", ""),
		NATSToken:     getEnv("NATS_TOKEN", ""),
		NATSRetention: getDurationEnv("NATS_RETENTION", 30*24*time.Hour),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping empty items.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
