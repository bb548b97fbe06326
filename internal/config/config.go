package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// HTTP server
	Addr          string
	SessionSecret string
	AppBaseURL    string

	// SurrealDB
	DBUrl  string
	DBNs   string
	DBDb   string
	DBUser string
	DBPass string

	// Attachment storage
	AttachmentDir string

	// Chat policy values. Defaults match the shipped product behavior;
	// deployments may override any of them through the environment.
	PageSize           int
	EditWindow         time.Duration
	TypingIdleInterval time.Duration
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	ReconnectAttempts  int
}

// New loads configuration from environment variables.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	return &Config{
		Addr:          getEnv("APP_ADDR", ":8080"),
		SessionSecret: getEnv("SESSION_SECRET", "dev-only-secret"),
		AppBaseURL:    getEnv("APP_BASE_URL", "http://localhost:8080"),

		DBUrl:  os.Getenv("SURREAL_URL"),
		DBUser: os.Getenv("SURREAL_USER"),
		DBPass: os.Getenv("SURREAL_PASS"),
		DBNs:   os.Getenv("SURREAL_NS"),
		DBDb:   os.Getenv("SURREAL_DB"),

		AttachmentDir: getEnv("ATTACHMENT_DIR", "data/attachments"),

		PageSize:           getEnvInt("CHAT_PAGE_SIZE", 50),
		EditWindow:         getEnvDuration("CHAT_EDIT_WINDOW", 5*time.Minute),
		TypingIdleInterval: getEnvDuration("CHAT_TYPING_IDLE", time.Second),
		ReconnectInitial:   getEnvDuration("CHAT_RECONNECT_INITIAL", 500*time.Millisecond),
		ReconnectMax:       getEnvDuration("CHAT_RECONNECT_MAX", 10*time.Second),
		ReconnectAttempts:  getEnvInt("CHAT_RECONNECT_ATTEMPTS", 5),
	}
}

// RequireDB exits the process when the SurrealDB connection settings are
// incomplete. Only the server needs these; the CLI client does not.
func (c *Config) RequireDB() {
	if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
		log.Fatal("Required environment variables SURREAL_URL, SURREAL_NS, or SURREAL_DB are not set.")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Ignoring invalid value for %s: %q", key, v)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("Ignoring invalid value for %s: %q", key, v)
	}
	return fallback
}
