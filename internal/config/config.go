package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	Port        string
	DatabaseURL string
	Version     string
	LogLevel    string

	// Gmail mailbox access
	GmailCredentialsFile string // OAuth client credentials JSON for the shared mailbox
	GmailTokenFile       string // Cached OAuth token
	MailboxAddress       string // The shared support mailbox address

	// Addresses and domains treated as "internal" when classifying direction
	SupportAddresses []string

	// Sync tuning
	SyncTimeoutSeconds   int // Hard wall-clock budget for one sync invocation
	SyncFetchConcurrency int // Parallel body fetches against the provider
	SyncMaxResults       int // Max candidate messages listed per invocation

	// AI summaries (best-effort)
	OpenAIKey     string
	OpenAITimeout int // OpenAI API timeout in seconds

	// Stale-ticket notifications
	StaleTicketHours int    // Age threshold before an unanswered ticket is flagged
	SlackWebhookURL  string // Chat webhook for stale-ticket alerts
	SendGridAPIKey   string // SendGrid API key for the stale-ticket digest email
	TeamEmail        string // Digest recipient

	// Ticketing platform (Fever) order sync
	FeverHost     string
	FeverUsername string
	FeverPassword string
	FeverPlanIDs  string // Comma-separated plan IDs

	// Full-backfill job
	BackfillImage string // Container image for the backfill Job
	Namespace     string // Kubernetes namespace the Job is created in

	// Admin auth for mutating routes
	AdminUsername string
	AdminPassword string
}

// Load initializes and returns application configuration
func Load() *Config {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Version:     getEnv("VERSION", "1.0.0"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		GmailCredentialsFile: getEnv("GMAIL_CREDENTIALS_FILE", "credentials.json"),
		GmailTokenFile:       getEnv("GMAIL_TOKEN_FILE", "token.json"),
		MailboxAddress:       os.Getenv("MAILBOX_ADDRESS"),

		SupportAddresses: getEnvList("SUPPORT_ADDRESSES"),

		SyncTimeoutSeconds:   getEnvInt("SYNC_TIMEOUT_SECONDS", 240),
		SyncFetchConcurrency: getEnvInt("SYNC_FETCH_CONCURRENCY", 10),
		SyncMaxResults:       getEnvInt("SYNC_MAX_RESULTS", 500),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAITimeout: getEnvInt("OPENAI_TIMEOUT", 30),

		StaleTicketHours: getEnvInt("STALE_TICKET_HOURS", 24),
		SlackWebhookURL:  os.Getenv("SLACK_WEBHOOK_URL"),
		SendGridAPIKey:   os.Getenv("SENDGRID_API_KEY"),
		TeamEmail:        os.Getenv("TEAM_EMAIL"),

		FeverHost:     getEnv("FEVER_HOST", "data-reporting-api.prod.feverup.com"),
		FeverUsername: os.Getenv("FEVER_USERNAME"),
		FeverPassword: os.Getenv("FEVER_PASSWORD"),
		FeverPlanIDs:  os.Getenv("FEVER_PLAN_IDS"),

		BackfillImage: os.Getenv("BACKFILL_IMAGE"),
		Namespace:     os.Getenv("NAMESPACE"),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	// The mailbox itself is always internal for direction classification.
	if config.MailboxAddress != "" {
		config.SupportAddresses = append(config.SupportAddresses, strings.ToLower(config.MailboxAddress))
	}

	return config
}

// MailboxConfigured reports whether the Gmail sync has the credentials it
// needs. Checked before any provider call so a misconfigured deployment
// fails fast with a distinguishable signal.
func (c *Config) MailboxConfigured() bool {
	return c.GmailCredentialsFile != "" && c.MailboxAddress != ""
}

// FeverConfigured reports whether the order sync can authenticate.
func (c *Config) FeverConfigured() bool {
	return c.FeverHost != "" && c.FeverUsername != "" && c.FeverPassword != ""
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as integer with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvList gets a comma-separated environment variable as a trimmed,
// lower-cased list, dropping empty segments.
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}

// SetupLogger configures zerolog with JSON output and single-line format
func (c *Config) SetupLogger() zerolog.Logger {
	// Configure zerolog to output JSON without newlines
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Create logger with JSON output to stdout
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "popdesk").
		Str("version", c.Version).
		Logger()

	// Set log level based on configuration
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	return logger
}
