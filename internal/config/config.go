package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/costwise-ai/costwise/internal/breaker"
	"github.com/costwise-ai/costwise/internal/classifier"
	"github.com/costwise-ai/costwise/internal/middleware"
	"github.com/costwise-ai/costwise/internal/pricing"
	"github.com/costwise-ai/costwise/internal/providers/anthropic"
	"github.com/costwise-ai/costwise/internal/providers/openai"
	"github.com/costwise-ai/costwise/internal/security"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string                       `yaml:"port"`
	ReadTimeout    time.Duration                `yaml:"read_timeout"`
	WriteTimeout   time.Duration                `yaml:"write_timeout"`
	MaxHeaderBytes int                          `yaml:"max_header_bytes"`
	Validation     *middleware.ValidationConfig `yaml:"validation"`
}

// EngineConfig holds the decision engine's stores and tunables
type EngineConfig struct {
	CachePath      string           `yaml:"cache_path"`
	CacheTTL       time.Duration    `yaml:"cache_ttl"`
	CacheOpTimeout time.Duration    `yaml:"cache_op_timeout"`
	StorePath      string           `yaml:"store_path"`
	Classifier     ClassifierConfig `yaml:"classifier"`
	Breaker        breaker.Config   `yaml:"breaker"`
}

// ClassifierConfig holds the routing heuristics and cut points
type ClassifierConfig struct {
	Thresholds    classifier.Thresholds `yaml:"thresholds"`
	Heuristics    classifier.Heuristics `yaml:"heuristics"`
	Substitutions map[string]string     `yaml:"substitutions"`
}

// PricingConfig holds the static model pricing catalog
type PricingConfig struct {
	Models        []pricing.Entry `yaml:"models"`
	FallbackModel string          `yaml:"fallback_model"`
	CheapestModel string          `yaml:"cheapest_model"`
}

// ProvidersConfig holds configuration for all upstream providers
type ProvidersConfig struct {
	OpenAI    *openai.OpenAIConfig       `yaml:"openai"`
	Anthropic *anthropic.AnthropicConfig `yaml:"anthropic"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds authentication and rate limiting configuration
type SecurityConfig struct {
	Auth      security.Config          `yaml:"auth"`
	RateLimit security.RateLimitConfig `yaml:"rate_limiting"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Engine = EngineConfig{
		CachePath:      "costwise-cache.db",
		CacheTTL:       time.Hour,
		CacheOpTimeout: 2 * time.Second,
		StorePath:      "costwise.db",
		Classifier: ClassifierConfig{
			Thresholds: classifier.DefaultThresholds(),
			Heuristics: classifier.DefaultHeuristics(),
			Substitutions: map[string]string{
				"gpt-4":                      "gpt-4o-mini",
				"gpt-4-turbo":                "gpt-4o-mini",
				"gpt-4o":                     "gpt-4o-mini",
				"claude-3-5-sonnet-20241022": "claude-3-haiku-20240307",
			},
		},
		Breaker: breaker.DefaultConfig(),
	}

	c.Pricing = PricingConfig{
		Models: []pricing.Entry{
			{Model: "gpt-4", Provider: "openai", InputCostPer1K: 0.03, OutputCostPer1K: 0.06, Tier: pricing.TierPremium},
			{Model: "gpt-4-turbo", Provider: "openai", InputCostPer1K: 0.01, OutputCostPer1K: 0.03, Tier: pricing.TierPremium},
			{Model: "gpt-4o", Provider: "openai", InputCostPer1K: 0.005, OutputCostPer1K: 0.015, Tier: pricing.TierPremium},
			{Model: "gpt-4o-mini", Provider: "openai", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006, Tier: pricing.TierFree},
			{Model: "gpt-3.5-turbo", Provider: "openai", InputCostPer1K: 0.0015, OutputCostPer1K: 0.002, Tier: pricing.TierFree},
			{Model: "claude-3-5-sonnet-20241022", Provider: "anthropic", InputCostPer1K: 0.003, OutputCostPer1K: 0.015, Tier: pricing.TierPremium},
			{Model: "claude-3-haiku-20240307", Provider: "anthropic", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125, Tier: pricing.TierStandard},
		},
		FallbackModel: "gpt-3.5-turbo",
		CheapestModel: "gpt-4o-mini",
	}

	c.Providers = ProvidersConfig{
		OpenAI:    &openai.OpenAIConfig{Timeout: 120 * time.Second},
		Anthropic: &anthropic.AnthropicConfig{Timeout: 120 * time.Second},
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		Auth: security.Config{
			APIKeys:     []string{},
			RequireAuth: false,
			JWTExpiry:   24 * time.Hour,
		},
		RateLimit: security.RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("COSTWISE_PORT"); port != "" {
		c.Server.Port = port
	}

	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		if c.Providers.OpenAI != nil {
			c.Providers.OpenAI.APIKey = openaiKey
		}
	}

	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" {
		if c.Providers.Anthropic != nil {
			c.Providers.Anthropic.APIKey = anthropicKey
		}
	}

	if level := os.Getenv("COSTWISE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("COSTWISE_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if secret := os.Getenv("COSTWISE_JWT_SECRET"); secret != "" {
		c.Security.Auth.JWTSecret = secret
	}

	if path := os.Getenv("COSTWISE_STORE_PATH"); path != "" {
		c.Engine.StorePath = path
	}

	if path := os.Getenv("COSTWISE_CACHE_PATH"); path != "" {
		c.Engine.CachePath = path
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Validating the catalog up front catches pricing mistakes at startup
	// rather than mid-request.
	if _, err := c.BuildCatalog(); err != nil {
		return fmt.Errorf("invalid pricing config: %w", err)
	}

	t := c.Engine.Classifier.Thresholds
	if t.LowComplexity >= t.MidComplexity || t.MidComplexity >= t.HighComplexity {
		return fmt.Errorf("classifier thresholds must be ordered low < mid < high")
	}

	b := c.Engine.Breaker
	if b.MinRoutedSamples < 1 {
		return fmt.Errorf("breaker min_routed_samples must be at least 1")
	}
	if b.MinRoutedRating < 1 || b.MinRoutedRating > 5 {
		return fmt.Errorf("breaker min_routed_rating must be within the 1-5 rating scale")
	}

	if c.Security.Auth.RequireAuth && len(c.Security.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth is required but no API keys are configured")
	}

	return nil
}

// BuildCatalog constructs the immutable pricing catalog
func (c *Config) BuildCatalog() (*pricing.Catalog, error) {
	return pricing.NewCatalog(c.Pricing.Models, c.Pricing.FallbackModel, c.Pricing.CheapestModel)
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnabledProviders returns a list of enabled provider names
func (c *Config) GetEnabledProviders() []string {
	var providers []string

	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		providers = append(providers, "openai")
	}

	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		providers = append(providers, "anthropic")
	}

	return providers
}
