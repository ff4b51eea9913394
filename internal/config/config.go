// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Extraction strategies.
const (
	ExtractionModel     = "model"
	ExtractionHeuristic = "heuristic"
	ExtractionCombined  = "combined"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	APIKey         string
	AllowedOrigins []string
	StoreBackend   string
	DBPath         string
	SessionTTL     time.Duration
	SweepInterval  time.Duration

	Gemini          GeminiConfig
	Extraction      string
	PersonaFile     string
	Evaluation      EvaluationConfig
	AutoFinalize    int // exchanged turns before automatic finalization; 0 disables
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// GeminiConfig configures the generative collaborators.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Enabled reports whether a Gemini API key is configured.
func (g GeminiConfig) Enabled() bool {
	return g.APIKey != ""
}

// EvaluationConfig configures the final-report submitter.
type EvaluationConfig struct {
	Endpoint string // HTTP endpoint
	GrpcAddr string // gRPC address; takes precedence over Endpoint
	Timeout  time.Duration
}

// RateLimitConfig bounds inbound messages per session.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv reads configuration from environment variables without
// validating it. Operator tools use it to skip server-only settings.
func FromEnv() *Config {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		APIKey:         getEnv("API_KEY", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		DBPath:         getEnv("DB_PATH", "./data/honeypot.db"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		SweepInterval:  getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		Gemini: GeminiConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout: getEnvDuration("COLLABORATOR_TIMEOUT", 20*time.Second),
		},
		Extraction:  strings.ToLower(getEnv("EXTRACTION_STRATEGY", ExtractionCombined)),
		PersonaFile: getEnv("PERSONA_FILE", ""),
		Evaluation: EvaluationConfig{
			Endpoint: getEnv("EVALUATION_ENDPOINT", ""),
			GrpcAddr: getEnv("EVALUATION_GRPC_ADDR", ""),
			Timeout:  getEnvDuration("EVALUATION_TIMEOUT", 10*time.Second),
		},
		AutoFinalize: getEnvInt("AUTO_FINALIZE_TURNS", 0),
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 5),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}
	return cfg
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY cannot be empty")
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendMemory, c.StoreBackend)
	}
	switch c.Extraction {
	case ExtractionModel, ExtractionHeuristic, ExtractionCombined:
	default:
		return fmt.Errorf("EXTRACTION_STRATEGY must be model, heuristic or combined, got %q", c.Extraction)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be > 0")
	}
	if c.Evaluation.Timeout <= 0 {
		return fmt.Errorf("EVALUATION_TIMEOUT must be > 0")
	}
	if c.AutoFinalize < 0 {
		return fmt.Errorf("AUTO_FINALIZE_TURNS must be >= 0")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
