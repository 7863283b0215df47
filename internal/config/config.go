// Package config provides environment configuration for the inbox server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Message sources.
const (
	SourceFixture = "fixture"
	SourceNATS    = "nats"
)

// Handoff classifiers.
const (
	ClassifierKeyword = "keyword"
	ClassifierLLM     = "llm"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string

	// Message source
	MessageSource  string
	FixtureFile    string
	FixtureLatency time.Duration

	// NATS settings
	NATSURL       string
	NATSCAFile    string
	NATSCertFile  string
	NATSKeyFile   string
	NATSToken     string
	NATSCredsFile string

	// Session settings
	CollaboratorTimeout time.Duration
	ClockSkewTolerance  time.Duration
	ThreadCacheSize     int
	AssistantName       string
	ClinicName          string

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey   string
	OpenAIAPIKey      string
	DefaultLLM        string
	LLMModel          string
	HandoffClassifier string
	AIAutoReply       bool
	HandoffPhrases    []string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		CORSOrigins:        getListEnv("CORS_ORIGINS", []string{"http://localhost:5173"}),

		// Message source
		MessageSource:  getEnv("MESSAGE_SOURCE", SourceFixture),
		FixtureFile:    getEnv("FIXTURE_FILE", ""),
		FixtureLatency: getDurationEnv("FIXTURE_LATENCY", 0),

		// NATS
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:    getEnv("NATS_CA_FILE", ""),
		NATSCertFile:  getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:   getEnv("NATS_KEY_FILE", ""),
		NATSToken:     getEnv("NATS_TOKEN", ""),
		NATSCredsFile: getEnv("NATS_CREDS_FILE", ""),

		// Session
		CollaboratorTimeout: getDurationEnv("COLLABORATOR_TIMEOUT", 10*time.Second),
		ClockSkewTolerance:  getDurationEnv("CLOCK_SKEW_TOLERANCE", 2*time.Second),
		ThreadCacheSize:     getIntEnv("THREAD_CACHE_SIZE", 500),
		AssistantName:       getEnv("ASSISTANT_NAME", "Clinic AI Assistant"),
		ClinicName:          getEnv("CLINIC_NAME", "the clinic"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:        getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:          getEnv("LLM_MODEL", ""),
		HandoffClassifier: getEnv("HANDOFF_CLASSIFIER", ClassifierKeyword),
		AIAutoReply:       getBoolEnv("AI_AUTO_REPLY", false),
		HandoffPhrases:    getListEnv("HANDOFF_PHRASES", nil),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error

	switch c.MessageSource {
	case SourceFixture, SourceNATS:
	default:
		errs = append(errs, fmt.Errorf("MESSAGE_SOURCE must be %q or %q, got %q", SourceFixture, SourceNATS, c.MessageSource))
	}

	switch c.HandoffClassifier {
	case ClassifierKeyword:
	case ClassifierLLM:
		if c.LLMAPIKey() == "" {
			errs = append(errs, errors.New("HANDOFF_CLASSIFIER=llm requires an LLM API key"))
		}
	default:
		errs = append(errs, fmt.Errorf("HANDOFF_CLASSIFIER must be %q or %q, got %q", ClassifierKeyword, ClassifierLLM, c.HandoffClassifier))
	}

	if c.AIAutoReply && c.LLMAPIKey() == "" {
		errs = append(errs, errors.New("AI_AUTO_REPLY requires an LLM API key"))
	}
	if c.CollaboratorTimeout <= 0 {
		errs = append(errs, errors.New("COLLABORATOR_TIMEOUT must be positive"))
	}
	if c.ClockSkewTolerance < 0 {
		errs = append(errs, errors.New("CLOCK_SKEW_TOLERANCE must not be negative"))
	}
	if c.ThreadCacheSize < 0 {
		errs = append(errs, errors.New("THREAD_CACHE_SIZE must not be negative"))
	}

	return errors.Join(errs...)
}

// LLMAPIKey returns the API key for the configured default provider.
func (c *Config) LLMAPIKey() string {
	if c.DefaultLLM == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
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

// getListEnv reads a comma-separated list.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
