// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"server_read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"server_write_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`

	// Persistence; an empty URL selects the in-memory store
	DatabaseURL string `yaml:"database_url"`

	// NATS settings; an empty URL selects the in-process feed and presence hubs
	NATSURL      string `yaml:"nats_url"`
	NATSCAFile   string `yaml:"nats_ca_file"`
	NATSCertFile string `yaml:"nats_cert_file"`
	NATSKeyFile  string `yaml:"nats_key_file"`
	NATSToken    string `yaml:"nats_token"`

	// JWT settings
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`

	// AllowAdminSignup lets the public sign-up create administrators.
	AllowAdminSignup bool `yaml:"allow_admin_signup"`

	// Realtime
	PresenceTTL       time.Duration `yaml:"presence_ttl"`
	PresenceHeartbeat time.Duration `yaml:"presence_heartbeat"`
	TypingTimeout     time.Duration `yaml:"typing_timeout"`

	// Avatar storage
	AvatarDir     string `yaml:"avatar_dir"`
	AvatarBaseURL string `yaml:"avatar_base_url"`

	// LLM settings
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	DefaultLLM      string `yaml:"default_llm"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 0, // SSE and websocket responses are long-lived
		CORSAllowedOrigins: []string{"https://*", "http://*"},

		NATSURL: "",

		JWTSecret:     "development-secret-change-in-production",
		JWTExpiration: 24 * time.Hour,

		PresenceTTL:       90 * time.Second,
		PresenceHeartbeat: 30 * time.Second,
		TypingTimeout:     3 * time.Second,

		AvatarDir:     "./data/avatars",
		AvatarBaseURL: "/avatars",

		DefaultLLM: "anthropic",

		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
		TracingEnabled:  false,
	}
}

// Load reads configuration from a .env file, an optional YAML file named by
// CONFIG_FILE, and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.CORSAllowedOrigins = getListEnv("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	// NATS
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)

	// JWT
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiration = getDurationEnv("JWT_EXPIRATION", c.JWTExpiration)
	c.AllowAdminSignup = getBoolEnv("ALLOW_ADMIN_SIGNUP", c.AllowAdminSignup)

	// Realtime
	c.PresenceTTL = getDurationEnv("PRESENCE_TTL", c.PresenceTTL)
	c.PresenceHeartbeat = getDurationEnv("PRESENCE_HEARTBEAT", c.PresenceHeartbeat)
	c.TypingTimeout = getDurationEnv("TYPING_TIMEOUT", c.TypingTimeout)

	// Avatars
	c.AvatarDir = getEnv("AVATAR_DIR", c.AvatarDir)
	c.AvatarBaseURL = getEnv("AVATAR_BASE_URL", c.AvatarBaseURL)

	// LLM
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.DefaultLLM = getEnv("DEFAULT_LLM", c.DefaultLLM)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.PresenceHeartbeat <= 0 {
		return fmt.Errorf("PRESENCE_HEARTBEAT must be positive")
	}
	if c.PresenceTTL < c.PresenceHeartbeat {
		return fmt.Errorf("PRESENCE_TTL (%s) must not be shorter than PRESENCE_HEARTBEAT (%s)", c.PresenceTTL, c.PresenceHeartbeat)
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be positive")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
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

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
