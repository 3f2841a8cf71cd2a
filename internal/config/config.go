package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// SupabaseURL is the URL of the Supabase project.
	SupabaseURL string

	// SupabaseKey is the service role key for backend operations.
	// This key has elevated privileges and must never reach clients.
	SupabaseKey string

	// ServerPort is the port the HTTP server listens on.
	ServerPort string

	// RedisAddr enables the shared profile cache when non-empty.
	RedisAddr string

	// ProfileTTL is how long cached author profiles stay fresh.
	ProfileTTL time.Duration

	// AttachmentBucket is the storage bucket for uploaded files.
	AttachmentBucket string

	// MaxAttachmentSize caps uploads, in bytes.
	MaxAttachmentSize int64

	// Reconnection controller tunables.
	BackoffBase   time.Duration
	MaxAttempts   int
	ProbeInterval time.Duration

	// Call-rate governor tunables.
	ThrottleInterval time.Duration
	BreakerLimit     int
	BreakerCooldown  time.Duration

	// Janitor tunables.
	JanitorInterval time.Duration
	PendingAge      time.Duration
	IdleAge         time.Duration
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment
// variables. Falls back to sensible defaults if values are not set.
func Load() *Config {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running in production with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		SupabaseURL:       getEnv("SUPABASE_URL", ""),
		SupabaseKey:       getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		ServerPort:        getEnv("PORT", "8080"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		ProfileTTL:        getEnvDuration("PROFILE_TTL", 10*time.Minute),
		AttachmentBucket:  getEnv("ATTACHMENT_BUCKET", "attachments"),
		MaxAttachmentSize: int64(getEnvInt("MAX_ATTACHMENT_SIZE", 10<<20)),
		BackoffBase:       getEnvDuration("RECONNECT_BACKOFF_BASE", 2*time.Second),
		MaxAttempts:       getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		ProbeInterval:     getEnvDuration("HEALTH_PROBE_INTERVAL", 30*time.Second),
		ThrottleInterval:  getEnvDuration("GOVERNOR_THROTTLE_INTERVAL", 5*time.Second),
		BreakerLimit:      getEnvInt("GOVERNOR_BREAKER_LIMIT", 50),
		BreakerCooldown:   getEnvDuration("GOVERNOR_BREAKER_COOLDOWN", 30*time.Second),
		JanitorInterval:   getEnvDuration("JANITOR_INTERVAL", time.Minute),
		PendingAge:        getEnvDuration("PENDING_MAX_AGE", 2*time.Minute),
		IdleAge:           getEnvDuration("TIMELINE_IDLE_AGE", 30*time.Minute),
	}

	// Validate required configuration
	if config.SupabaseURL == "" {
		log.Println("WARNING: SUPABASE_URL is not set")
	}
	if config.SupabaseKey == "" {
		log.Println("WARNING: SUPABASE_SERVICE_ROLE_KEY is not set")
	}

	return config
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("WARNING: %s=%q is not an integer, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvDuration retrieves a duration environment variable or a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("WARNING: %s=%q is not a duration, using %v", key, value, defaultValue)
		return defaultValue
	}
	return d
}
