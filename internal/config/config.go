package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the client and the dev backend
type Config struct {
	// Remote services the client talks to
	Client ClientConfig `yaml:"client"`

	// Credential storage
	Credentials CredentialsConfig `yaml:"credentials"`

	// Session lifecycle tuning
	Session SessionConfig `yaml:"session"`

	// Logging Configuration
	Logging LoggingConfig `yaml:"logging"`

	// Local development backend
	Backend BackendConfig `yaml:"backend"`
}

// ClientConfig holds the service endpoints
type ClientConfig struct {
	IdentityURL string        `yaml:"identity_url"`
	APIURL      string        `yaml:"api_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// CredentialsConfig selects the credential store backend
type CredentialsConfig struct {
	Backend string `yaml:"backend"` // keyring, file, memory
	Path    string `yaml:"path"`    // file backend only
}

// SessionConfig holds refresh and callback settings
type SessionConfig struct {
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`
	RefreshSchedule  string        `yaml:"refresh_schedule"` // cron spec, empty disables
	Development      bool          `yaml:"development"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// BackendConfig holds dev backend configuration
type BackendConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	DatabaseURL    string        `yaml:"database_url"`
	JWTSecret      string        `yaml:"jwt_secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	DevOTPCode     string        `yaml:"dev_otp_code"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			IdentityURL: "http://localhost:8787",
			APIURL:      "http://localhost:8787",
			HTTPTimeout: 30 * time.Second,
		},
		Credentials: CredentialsConfig{
			Backend: "keyring",
		},
		Session: SessionConfig{
			RefreshThreshold: 300 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Backend: BackendConfig{
			ListenAddress:  ":8787",
			DatabaseURL:    "gigwork-dev.sqlite",
			AccessTokenTTL: time.Hour,
		},
	}
}

// Load loads configuration from .env files, GIGWORK_* environment variables
// and the YAML file named by GIGWORK_CONFIG, in that order of precedence
// from lowest to highest
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if path := os.Getenv("GIGWORK_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Client.IdentityURL, "GIGWORK_IDENTITY_URL")
	setString(&c.Client.APIURL, "GIGWORK_API_URL")
	setString(&c.Credentials.Backend, "GIGWORK_CREDENTIAL_STORE")
	setString(&c.Credentials.Path, "GIGWORK_CREDENTIAL_PATH")
	setString(&c.Session.RefreshSchedule, "GIGWORK_REFRESH_SCHEDULE")
	setString(&c.Logging.Level, "GIGWORK_LOG_LEVEL")
	setString(&c.Logging.Format, "GIGWORK_LOG_FORMAT")
	setString(&c.Backend.ListenAddress, "GIGWORK_LISTEN_ADDRESS")
	setString(&c.Backend.DatabaseURL, "GIGWORK_DATABASE_URL")
	setString(&c.Backend.JWTSecret, "GIGWORK_JWT_SECRET")
	setString(&c.Backend.DevOTPCode, "GIGWORK_DEV_OTP_CODE")

	durations := map[string]*time.Duration{
		"GIGWORK_HTTP_TIMEOUT":      &c.Client.HTTPTimeout,
		"GIGWORK_REFRESH_THRESHOLD": &c.Session.RefreshThreshold,
		"GIGWORK_ACCESS_TOKEN_TTL":  &c.Backend.AccessTokenTTL,
	}
	for key, target := range durations {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", key, value, err)
		}
		*target = d
	}

	if value := os.Getenv("GIGWORK_DEVELOPMENT"); value != "" {
		dev, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid GIGWORK_DEVELOPMENT '%s': %w", value, err)
		}
		c.Session.Development = dev
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"identity URL": c.Client.IdentityURL, "API URL": c.Client.APIURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s '%s'", name, raw)
		}
	}

	switch c.Credentials.Backend {
	case "keyring", "file", "memory":
	default:
		return fmt.Errorf("invalid credential store '%s', must be one of: keyring, file, memory", c.Credentials.Backend)
	}

	if c.Session.RefreshThreshold <= 0 {
		return fmt.Errorf("refresh threshold must be positive")
	}
	if c.Client.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	return nil
}

func setString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}
