package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Download DownloadConfig `yaml:"download" envconfig:"DOWNLOAD"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig contains the license record store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"PATH" default:"data/licenses.db"`
}

// SecurityConfig contains rate limiting and abuse protection settings.
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
	GlobalRPS      float64         `yaml:"global_rps" envconfig:"GLOBAL_RPS" default:"100"`
	GlobalBurst    int             `yaml:"global_burst" envconfig:"GLOBAL_BURST" default:"50"`
	RateLimits     RateLimitConfig `yaml:"rate_limits" envconfig:"RATE_LIMITS"`
	Guard          GuardConfig     `yaml:"guard" envconfig:"GUARD"`
	AdminToken     string          `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
}

// RateLimitConfig declares fixed-window limits per endpoint class.
// Unknown endpoint classes fall back to Default.
type RateLimitConfig struct {
	Validate   WindowLimit `yaml:"validate" envconfig:"VALIDATE"`
	Deactivate WindowLimit `yaml:"deactivate" envconfig:"DEACTIVATE"`
	Download   WindowLimit `yaml:"download" envconfig:"DOWNLOAD"`
	Default    WindowLimit `yaml:"default" envconfig:"DEFAULT"`
}

// WindowLimit is a (limit, window-length) pair for one endpoint class.
type WindowLimit struct {
	Limit  int           `yaml:"limit" envconfig:"LIMIT" default:"60"`
	Window time.Duration `yaml:"window" envconfig:"WINDOW" default:"1m"`
}

// GuardConfig controls the suspicious-activity auto-block.
type GuardConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD" default:"10"`
	FailureTTL       time.Duration `yaml:"failure_ttl" envconfig:"FAILURE_TTL" default:"15m"`
	BlockDuration    time.Duration `yaml:"block_duration" envconfig:"BLOCK_DURATION" default:"1h"`
}

// LicenseConfig contains validation pipeline settings.
type LicenseConfig struct {
	SiteHashSalt      string        `yaml:"site_hash_salt" envconfig:"SITE_HASH_SALT"`
	CacheDurationHint time.Duration `yaml:"cache_duration_hint" envconfig:"CACHE_DURATION_HINT" default:"12h"`
	TierOverridesFile string        `yaml:"tier_overrides_file" envconfig:"TIER_OVERRIDES_FILE"`
}

// DownloadConfig contains signed download token settings.
type DownloadConfig struct {
	Secret    string        `yaml:"secret" envconfig:"SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" default:"1h"`
	PluginDir string        `yaml:"plugin_dir" envconfig:"PLUGIN_DIR" default:"data/plugins"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/server.log"`
}

// Load loads configuration from an optional YAML file, then overlays
// environment variables (env takes precedence).
func Load() (*Config, error) {
	var cfg Config

	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("LICENSEGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func configFilePath() string {
	if path := os.Getenv("LICENSEGATE_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Download.Secret == "" {
		return fmt.Errorf("download signing secret is required (LICENSEGATE_DOWNLOAD_SECRET)")
	}
	if c.Security.Guard.FailureThreshold < 1 {
		return fmt.Errorf("guard failure threshold must be positive")
	}
	for _, wl := range []WindowLimit{
		c.Security.RateLimits.Validate,
		c.Security.RateLimits.Deactivate,
		c.Security.RateLimits.Download,
		c.Security.RateLimits.Default,
	} {
		if wl.Limit < 0 || wl.Window < 0 {
			return fmt.Errorf("rate limits must be non-negative")
		}
	}
	return nil
}
