package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Local cache
	SQLitePath string
	CacheTTL   time.Duration

	// Remote sync (Firebase Realtime Database). Sync is disabled when
	// FirebaseURL is empty; the service stays fully usable offline.
	FirebaseURL  string
	FirebaseRoot string
	FirebaseAuth string
	DeviceName   string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience (subscription reconnect pacing)
	MaxRetries     int
	InitialBackoff time.Duration

	// Observability
	OTLPEndpoint string

	// Auth. API auth is disabled when PassphraseHash is empty, matching
	// the trusted-household deployment.
	JWTSecret      string
	JWTAccessTTL   time.Duration
	PassphraseHash string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SQLitePath: getEnv("SQLITE_PATH", "data/finanze.db"),
		CacheTTL:   getEnvDuration("CACHE_TTL", 5*time.Minute),

		FirebaseURL:  getEnv("FIREBASE_URL", ""),
		FirebaseRoot: getEnv("FIREBASE_ROOT", "finanze_famigliari"),
		FirebaseAuth: getEnv("FIREBASE_AUTH", ""),
		DeviceName:   getEnv("DEVICE_NAME", hostname()),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 500*time.Millisecond),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret:      getEnv("JWT_SECRET", "finanze-default-dev-secret-change-me"),
		JWTAccessTTL:   getEnvDuration("JWT_ACCESS_TTL", 12*time.Hour),
		PassphraseHash: getEnv("AUTH_PASSPHRASE_HASH", ""),
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "finanze-device"
	}
	return h
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
