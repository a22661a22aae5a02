package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/solstream/keygate/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxKeysPerTenant  = 10
	defaultExpirationPolicy  = models.Expiration90Days
	defaultUsageWorkerPool   = 4
	defaultUsageWorkerBuffer = 256
	defaultCacheTTLSeconds   = 60
)

// Config represents the complete application configuration
type Config struct {
	Server     models.ServerConfig            `yaml:"server"`
	Database   models.DatabaseConfig          `yaml:"database"`
	Redis      models.RedisConfig             `yaml:"redis,omitempty"`
	Auth       AuthConfig                     `yaml:"auth"`
	Keys       KeysConfig                     `yaml:"keys"`
	RateLimits map[models.RateLimitTier]int64 `yaml:"rate_limits,omitempty"`
	Usage      UsageConfig                    `yaml:"usage"`
}

// AuthConfig carries the two process-wide secrets. The salt keys the token
// digest: changing it invalidates every issued key, so it is load-once.
type AuthConfig struct {
	Salt      string `yaml:"salt"`
	JWTSecret string `yaml:"jwt_secret"`
}

type KeysConfig struct {
	MaxPerTenant      int    `yaml:"max_per_tenant,omitempty"`
	DefaultExpiration string `yaml:"default_expiration,omitempty"`
}

type UsageConfig struct {
	LoggingEnabled   bool `yaml:"logging_enabled"`
	WorkerPoolSize   int  `yaml:"worker_pool_size,omitempty"`
	WorkerBufferSize int  `yaml:"worker_buffer_size,omitempty"`
	SweepIntervalMin int  `yaml:"sweep_interval_minutes,omitempty"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	// Validate and clean the file path to prevent directory traversal
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fmt.Printf("Loaded environment variables from %s\n", envFile)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Keys.MaxPerTenant == 0 {
		c.Keys.MaxPerTenant = defaultMaxKeysPerTenant
	}
	if c.Keys.DefaultExpiration == "" {
		c.Keys.DefaultExpiration = defaultExpirationPolicy
	}
	if c.RateLimits == nil {
		c.RateLimits = DefaultRateLimits()
	}
	if c.Usage.WorkerPoolSize == 0 {
		c.Usage.WorkerPoolSize = defaultUsageWorkerPool
	}
	if c.Usage.WorkerBufferSize == 0 {
		c.Usage.WorkerBufferSize = defaultUsageWorkerBuffer
	}
	if c.Redis.TTLSecs == 0 {
		c.Redis.TTLSecs = defaultCacheTTLSeconds
	}
}

// DefaultRateLimits is the built-in tier to monthly budget table.
func DefaultRateLimits() map[models.RateLimitTier]int64 {
	return map[models.RateLimitTier]int64{
		models.TierStandard:   1000,
		models.TierPremium:    5000,
		models.TierEnterprise: 25000,
	}
}

// Validate fails fast on configuration that would mint unverifiable keys.
func (c *Config) Validate() error {
	if c.Auth.Salt == "" {
		return fmt.Errorf("auth.salt is required: keys hashed without a salt cannot be verified")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required for the management API")
	}
	switch c.Keys.DefaultExpiration {
	case models.Expiration30Days, models.Expiration90Days, models.Expiration1Year, models.ExpirationNever:
	default:
		return fmt.Errorf("keys.default_expiration must be one of 30d, 90d, 1y, never; got %q", c.Keys.DefaultExpiration)
	}
	if c.Keys.MaxPerTenant < 1 {
		return fmt.Errorf("keys.max_per_tenant must be positive")
	}
	for tier, budget := range c.RateLimits {
		if budget < 1 {
			return fmt.Errorf("rate_limits.%s must be positive", tier)
		}
	}
	return nil
}

// New creates a new Config instance by loading from the specified config file path
func New(configPath string) (*Config, error) {
	return LoadFromFile(configPath)
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		submatches := re.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""

		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}
