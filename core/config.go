/*
Package core provides configuration management and logging initialization
for the agentchat application.

This file handles:
- Loading configuration from a .env file and environment variables with defaults
- Structured logging setup with configurable levels and formats
- Cloud credential, backend and pacing parameters

Environment variables always win over the .env file, and both are overridden
by explicit command-line flags applied by the caller.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Backends selectable with AGENT_BACKEND.
const (
	BackendAgentCore = "agentcore"
	BackendLocal     = "local"
)

// Config holds all configurable values for the agentchat application.
type Config struct {
	// Server configuration
	Port string // HTTP server port number (default: "8080")

	// Cloud configuration
	Region          string // Default region for agent and storage calls (default: "us-east-1")
	AccessKeyID     string // Static access key ID
	SecretAccessKey string // Static secret access key
	SessionToken    string // Optional session token for temporary credentials

	// Agent configuration
	Backend        string        // "agentcore" or "local" (default: "agentcore")
	EndpointID     string        // Endpoint selected for new sessions when none is given
	StreamDelay    time.Duration // Pause between streamed chunks, 0 disables pacing (default: 20ms)
	RequestTimeout time.Duration // Timeout for one turn including fallback (default: 300s)

	// Local backend configuration
	LocalProvider  string // "ollama" or "gemini" (default: "ollama")
	OllamaEndpoint string // Base URL for the Ollama API (default: "http://localhost:11434")
	OllamaModel    string // Ollama model (default: "qwen3")
	GeminiAPIKey   string // API key for Google Gemini
	GeminiModel    string // Gemini model (default: "gemini-2.0-flash")

	// Session management
	SessionMaxAge   time.Duration // How long idle sessions are kept (default: 24h)
	CleanupInterval time.Duration // How often expired sessions are removed (default: 1h)

	// Terminal client
	DownloadDir string // Where the terminal client saves artifacts (default: "downloads")

	// Logging
	LogLevel          string // debug, info, warn, error (default: "info")
	LogFormat         string // json or text (default: "json")
	LogTruncateLength int    // Maximum length of logged payload previews (default: 500)
}

// LoadConfig loads configuration from a .env file in the working directory
// (if any) and the environment, applying defaults for everything unset.
// Invalid numeric values are ignored and the default is kept.
//
// Environment Variables:
//   - PORT, AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN
//   - AGENT_BACKEND, AGENT_ENDPOINT, STREAM_DELAY_MS, REQUEST_TIMEOUT (seconds)
//   - LOCAL_PROVIDER, OLLAMA_ENDPOINT, OLLAMA_MODEL, GEMINI_API_KEY, GEMINI_MODEL
//   - SESSION_MAX_AGE_HOURS, CLEANUP_INTERVAL_MINUTES
//   - DOWNLOAD_DIR, LOG_LEVEL, LOG_FORMAT, LOG_TRUNCATE_LENGTH
func LoadConfig() *Config {
	// A missing .env file is the normal case outside development.
	_ = godotenv.Load()

	config := &Config{
		Port: "8080",

		Region: "us-east-1",

		Backend:        BackendAgentCore,
		StreamDelay:    20 * time.Millisecond,
		RequestTimeout: 300 * time.Second,

		LocalProvider:  "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "qwen3",
		GeminiModel:    "gemini-2.0-flash",

		SessionMaxAge:   24 * time.Hour,
		CleanupInterval: 1 * time.Hour,

		DownloadDir: "downloads",

		LogLevel:          "info",
		LogFormat:         "json",
		LogTruncateLength: 500,
	}

	setString(&config.Port, "PORT")
	setString(&config.Region, "AWS_REGION")
	setString(&config.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&config.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&config.SessionToken, "AWS_SESSION_TOKEN")

	if backend := strings.ToLower(os.Getenv("AGENT_BACKEND")); backend == BackendAgentCore || backend == BackendLocal {
		config.Backend = backend
	}
	setString(&config.EndpointID, "AGENT_ENDPOINT")

	// STREAM_DELAY_MS accepts 0 to disable pacing
	if delay := os.Getenv("STREAM_DELAY_MS"); delay != "" {
		if val, err := strconv.Atoi(delay); err == nil && val >= 0 {
			config.StreamDelay = time.Duration(val) * time.Millisecond
		}
	}
	setPositive(&config.RequestTimeout, "REQUEST_TIMEOUT", time.Second)

	if provider := strings.ToLower(os.Getenv("LOCAL_PROVIDER")); provider == "ollama" || provider == "gemini" {
		config.LocalProvider = provider
	}
	setString(&config.OllamaEndpoint, "OLLAMA_ENDPOINT")
	setString(&config.OllamaModel, "OLLAMA_MODEL")
	setString(&config.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&config.GeminiModel, "GEMINI_MODEL")

	setPositive(&config.SessionMaxAge, "SESSION_MAX_AGE_HOURS", time.Hour)
	setPositive(&config.CleanupInterval, "CLEANUP_INTERVAL_MINUTES", time.Minute)

	setString(&config.DownloadDir, "DOWNLOAD_DIR")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.LogFormat, "LOG_FORMAT")

	if truncateLen := os.Getenv("LOG_TRUNCATE_LENGTH"); truncateLen != "" {
		if val, err := strconv.Atoi(truncateLen); err == nil && val > 0 {
			config.LogTruncateLength = val
		}
	}

	return config
}

// HasCredentials reports whether a complete static key pair is configured.
func (c *Config) HasCredentials() bool {
	return strings.TrimSpace(c.AccessKeyID) != "" && strings.TrimSpace(c.SecretAccessKey) != ""
}

func setString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func setPositive(target *time.Duration, key string, unit time.Duration) {
	if value := os.Getenv(key); value != "" {
		if val, err := strconv.Atoi(value); err == nil && val > 0 {
			*target = time.Duration(val) * unit
		}
	}
}

// InitializeLogger configures and returns a structured logger based on the provided configuration.
// JSON output goes to stdout for the server; the terminal client asks for text on stderr so
// that log lines do not interleave with the conversation.
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	if strings.ToLower(config.LogFormat) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		logger.SetOutput(os.Stdout)
	}

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.WithFields(logrus.Fields{
		"backend":           config.Backend,
		"region":            config.Region,
		"credentials":       config.HasCredentials(),
		"endpointID":        config.EndpointID,
		"streamDelay":       config.StreamDelay,
		"requestTimeout":    config.RequestTimeout,
		"localProvider":     config.LocalProvider,
		"sessionMaxAge":     config.SessionMaxAge,
		"cleanupInterval":   config.CleanupInterval,
		"logTruncateLength": config.LogTruncateLength,
	}).Debug("Configuration loaded")

	return logger
}
