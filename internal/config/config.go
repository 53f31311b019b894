package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Core settings
	TelegramBotToken    string
	FirestoreProjectID  string
	FirestoreDatabaseID string
	PublicBaseURL       string // externally reachable base URL, used in webhook setup replies
	GitHubToken         string // optional; raises the rate limit on repository existence checks

	// Async processing settings (Cloud Tasks)
	EnableAsyncProcessing bool
	GoogleCloudProject    string
	EventWorkerURL        string
	GCPRegion             string
	CloudTasksQueue       string

	// Server settings
	Port                  string
	GinMode               string
	LogLevel              string
	ServerReadTimeout     time.Duration
	ServerWriteTimeout    time.Duration
	ServerShutdownTimeout time.Duration

	// Onboarding settings
	OnboardingMaxAttempts   int
	ConversationIdleTimeout time.Duration

	// Delivery settings
	DispatchMaxAttempts int
	DispatchBaseDelay   time.Duration
	DispatchSendTimeout time.Duration
	DispatchQueueSize   int

	// Processing settings
	EventProcessingTimeout time.Duration
}

// Load reads configuration from environment variables.
// Panics if any required configuration is missing or invalid.
func Load() *Config {
	cfg := &Config{
		// Core settings (required)
		TelegramBotToken:    getEnvRequired("TELEGRAM_BOT_TOKEN"),
		FirestoreProjectID:  getEnvRequired("FIRESTORE_PROJECT_ID"),
		FirestoreDatabaseID: getEnvRequired("FIRESTORE_DATABASE_ID"),
		PublicBaseURL:       getEnvRequired("PUBLIC_BASE_URL"),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),

		// Cloud Tasks settings (required only when async processing is on)
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		EventWorkerURL:     os.Getenv("EVENT_WORKER_URL"),
		GCPRegion:          getEnvDefault("GCP_REGION", "europe-west1"),
		CloudTasksQueue:    getEnvDefault("CLOUD_TASKS_QUEUE", "event-processing"),

		// Server settings
		Port:     getEnvDefault("PORT", "8080"),
		GinMode:  getEnvDefault("GIN_MODE", "debug"),
		LogLevel: getEnvDefault("LOG_LEVEL", "info"),
	}

	cfg.EnableAsyncProcessing = getEnvBool("ENABLE_ASYNC_PROCESSING", false)

	cfg.ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second)
	cfg.ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	cfg.ServerShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.EventProcessingTimeout = getEnvDuration("EVENT_PROCESSING_TIMEOUT", 5*time.Minute)

	cfg.OnboardingMaxAttempts = getEnvInt("ONBOARDING_MAX_ATTEMPTS", 3)
	cfg.ConversationIdleTimeout = getEnvDuration("CONVERSATION_IDLE_TIMEOUT", 30*time.Minute)

	cfg.DispatchMaxAttempts = getEnvInt("DISPATCH_MAX_ATTEMPTS", 4)
	cfg.DispatchBaseDelay = getEnvDuration("DISPATCH_BASE_DELAY", 500*time.Millisecond)
	cfg.DispatchSendTimeout = getEnvDuration("DISPATCH_SEND_TIMEOUT", 10*time.Second)
	cfg.DispatchQueueSize = getEnvInt("DISPATCH_QUEUE_SIZE", 64)

	cfg.validate()

	return cfg
}

// validate checks that all required configuration is present and valid.
// Panics if any validation fails.
func (c *Config) validate() {
	required := map[string]string{
		"TELEGRAM_BOT_TOKEN":    c.TelegramBotToken,
		"FIRESTORE_PROJECT_ID":  c.FirestoreProjectID,
		"FIRESTORE_DATABASE_ID": c.FirestoreDatabaseID,
		"PUBLIC_BASE_URL":       c.PublicBaseURL,
	}

	if c.EnableAsyncProcessing {
		required["GOOGLE_CLOUD_PROJECT"] = c.GoogleCloudProject
		required["EVENT_WORKER_URL"] = c.EventWorkerURL
	}

	for name, value := range required {
		if value == "" {
			panic(fmt.Sprintf("required environment variable %s is not set", name))
		}
	}

	if c.GinMode != "debug" && c.GinMode != "release" && c.GinMode != "test" {
		panic(fmt.Sprintf("invalid GIN_MODE: %s (must be debug, release, or test)", c.GinMode))
	}

	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warn" && c.LogLevel != "error" {
		panic(fmt.Sprintf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.LogLevel))
	}

	if c.ServerReadTimeout <= 0 {
		panic("SERVER_READ_TIMEOUT must be positive")
	}
	if c.ServerWriteTimeout <= 0 {
		panic("SERVER_WRITE_TIMEOUT must be positive")
	}
	if c.ServerShutdownTimeout <= 0 {
		panic("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.EventProcessingTimeout <= 0 {
		panic("EVENT_PROCESSING_TIMEOUT must be positive")
	}
	if c.OnboardingMaxAttempts <= 0 {
		panic("ONBOARDING_MAX_ATTEMPTS must be positive")
	}
	if c.ConversationIdleTimeout <= 0 {
		panic("CONVERSATION_IDLE_TIMEOUT must be positive")
	}
	if c.DispatchMaxAttempts <= 0 {
		panic("DISPATCH_MAX_ATTEMPTS must be positive")
	}
	if c.DispatchBaseDelay <= 0 {
		panic("DISPATCH_BASE_DELAY must be positive")
	}
	if c.DispatchSendTimeout <= 0 {
		panic("DISPATCH_SEND_TIMEOUT must be positive")
	}
	if c.DispatchQueueSize <= 0 {
		panic("DISPATCH_QUEUE_SIZE must be positive")
	}
}

// getEnvRequired gets an environment variable or returns empty string if not
// set. The validate() function will panic if required values are missing.
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvDefault gets an environment variable with a default value.
func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value.
// Panics if the value cannot be parsed as a boolean.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		panic(fmt.Sprintf("invalid boolean value for %s: %s", key, value))
	}
	return b
}

// getEnvInt gets an integer environment variable with a default value.
// Panics if the value cannot be parsed as an integer.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		panic(fmt.Sprintf("invalid integer value for %s: %s", key, value))
	}
	return n
}

// getEnvDuration gets a duration environment variable with a default value.
// Panics if the value cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("invalid duration value for %s: %s", key, value))
	}
	return d
}
