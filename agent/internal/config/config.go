// Package config handles agent configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (CACHET_*, AGENT_*)
// 3. Settings file (YAML, --settings)
// 4. Defaults
//
// Probe definitions are not part of the settings file by default; they come
// from the line-oriented probe config (see probes.go), either a file
// (agent.conf) or the multi-line AGENT_CONFIGURATION variable.
//
// # Example Settings File
//
//	cachet:
//	  endpoint: https://status.example.com/api/v1
//	  token: op://ops/cachet/token
//	  request_timeout: 10s
//
//	probing:
//	  check_interval: 60s
//	  probe_timeout: 5s
//	  concurrency: 4
//	  config_file: /etc/cachet-agent/agent.conf
//
//	logging:
//	  level: info
//	  file: /var/log/cachet-agent.log
//
//	server:
//	  listen_addr: 127.0.0.1:9105
//
//	history:
//	  backend: bolt
//	  bolt_path: /var/lib/cachet-agent/history.db
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnvOverrides.
const (
	EnvEndpoint      = "CACHET_ENDPOINT"
	EnvAPIToken      = "CACHET_API_TOKEN"
	EnvCheckInterval = "CACHET_CHECK_INTERVAL"
	EnvConfiguration = "AGENT_CONFIGURATION"
	EnvConfigFile    = "AGENT_CONFIG_FILE"
	EnvSettings      = "AGENT_SETTINGS"
	EnvLogLevel      = "AGENT_LOG_LEVEL"
	EnvLogFile       = "AGENT_LOG_FILE"
	EnvListenAddr    = "AGENT_LISTEN_ADDR"
	EnvConcurrency   = "AGENT_CONCURRENCY"
	EnvHistory       = "AGENT_HISTORY_BACKEND"
	EnvConnectHost   = "OP_CONNECT_HOST"
	EnvConnectToken  = "OP_CONNECT_TOKEN"
)

// DefaultProbeConfigFile is read when no other probe source is given.
const DefaultProbeConfigFile = "agent.conf"

var (
	// ErrMissingEndpoint is returned by Validate when no status page endpoint is set.
	ErrMissingEndpoint = errors.New("Cachet API endpoint is not set")
	// ErrMissingToken is returned by Validate when no API token is set.
	ErrMissingToken = errors.New("Cachet API token is not set")
)

// Config is the complete agent configuration.
type Config struct {
	Cachet  CachetConfig  `yaml:"cachet"`
	Probing ProbingConfig `yaml:"probing"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
	History HistoryConfig `yaml:"history"`
	Secrets SecretsConfig `yaml:"secrets"`
}

// CachetConfig defines how to reach the status page.
type CachetConfig struct {
	Endpoint string `yaml:"endpoint"` // base URL including /api/v1
	Token    string `yaml:"token"`    // literal, file://path or op://vault/item/field

	InsecureSkipVerify bool          `yaml:"insecure_skip_verify,omitempty"`
	RequestTimeout     time.Duration `yaml:"request_timeout,omitempty"`

	// RateLimit caps status page requests per minute; 0 disables limiting.
	RateLimit int `yaml:"rate_limit,omitempty"`

	// SkipPing disables the connectivity check before resolution.
	SkipPing bool `yaml:"skip_ping,omitempty"`
}

// ProbingConfig defines probing behavior.
type ProbingConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`

	// Concurrency bounds how many components are checked at once.
	// 1 keeps the loop strictly sequential.
	Concurrency int `yaml:"concurrency"`

	ConfigFile string `yaml:"config_file"`

	// Definitions holds probe lines inline; when set, ConfigFile is not read.
	Definitions string `yaml:"definitions,omitempty"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // warn, info, debug, trace
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file,omitempty"`

	// Rotation, only used with File
	MaxSizeMB  int  `yaml:"max_size_mb,omitempty"`
	MaxBackups int  `yaml:"max_backups,omitempty"`
	MaxAgeDays int  `yaml:"max_age_days,omitempty"`
	Compress   bool `yaml:"compress,omitempty"`
}

// ServerConfig defines the optional status server.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"` // empty disables the server

	// Basic auth for everything but /healthz. The password is stored as a
	// bcrypt hash.
	BasicAuthUser string `yaml:"basic_auth_user,omitempty"`
	BasicAuthHash string `yaml:"basic_auth_hash,omitempty"`
}

// HistoryConfig selects where check results are kept.
type HistoryConfig struct {
	Backend     string `yaml:"backend"` // none, bolt, postgres, redis
	BoltPath    string `yaml:"bolt_path,omitempty"`
	PostgresURL string `yaml:"postgres_url,omitempty"`
	RedisURL    string `yaml:"redis_url,omitempty"`
	KeyPrefix   string `yaml:"key_prefix,omitempty"`

	// MaxEntries bounds the kept results per component (bolt, redis).
	MaxEntries int `yaml:"max_entries,omitempty"`
}

// SecretsConfig configures 1Password Connect for op:// token references.
type SecretsConfig struct {
	ConnectHost  string `yaml:"connect_host,omitempty"`
	ConnectToken string `yaml:"connect_token,omitempty"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Cachet: CachetConfig{
			RequestTimeout: 10 * time.Second,
		},
		Probing: ProbingConfig{
			CheckInterval: 60 * time.Second,
			ProbeTimeout:  5 * time.Second,
			Concurrency:   1,
			ConfigFile:    DefaultProbeConfigFile,
		},
		Logging: LoggingConfig{
			Level:      "warn",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		History: HistoryConfig{
			Backend:    "none",
			BoltPath:   "cachet-agent.db",
			KeyPrefix:  "cachet-agent",
			MaxEntries: 1000,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Cachet.Endpoint) == "" {
		return ErrMissingEndpoint
	}
	if strings.TrimSpace(c.Cachet.Token) == "" {
		return ErrMissingToken
	}
	if c.Probing.CheckInterval <= 0 {
		return fmt.Errorf("probing.check_interval must be positive, got %s", c.Probing.CheckInterval)
	}
	if c.Probing.ProbeTimeout <= 0 {
		return fmt.Errorf("probing.probe_timeout must be positive, got %s", c.Probing.ProbeTimeout)
	}
	if c.Probing.Concurrency < 1 {
		return fmt.Errorf("probing.concurrency must be at least 1, got %d", c.Probing.Concurrency)
	}
	if c.Cachet.RateLimit < 0 {
		return fmt.Errorf("cachet.rate_limit must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.History.Backend {
	case "", "none":
	case "bolt":
		if c.History.BoltPath == "" {
			return fmt.Errorf("history.bolt_path is required for the bolt backend")
		}
	case "postgres":
		if c.History.PostgresURL == "" {
			return fmt.Errorf("history.postgres_url is required for the postgres backend")
		}
	case "redis":
		if c.History.RedisURL == "" {
			return fmt.Errorf("history.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown history backend: %s", c.History.Backend)
	}
	if (c.Server.BasicAuthUser == "") != (c.Server.BasicAuthHash == "") {
		return fmt.Errorf("server.basic_auth_user and server.basic_auth_hash must be set together")
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides:
// - CACHET_ENDPOINT
// - CACHET_API_TOKEN
// - CACHET_CHECK_INTERVAL (seconds, or a duration such as 90s)
// - AGENT_CONFIGURATION (multi-line probe definitions)
// - AGENT_CONFIG_FILE
// - AGENT_LOG_LEVEL, AGENT_LOG_FILE
// - AGENT_LISTEN_ADDR
// - AGENT_HISTORY_BACKEND
// - OP_CONNECT_HOST, OP_CONNECT_TOKEN
func (c *Config) ApplyEnvOverrides() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvEndpoint); v != "" {
		c.Cachet.Endpoint = v
	}
	if v := getenv(EnvAPIToken); v != "" {
		c.Cachet.Token = v
	}
	if v := getenv(EnvCheckInterval); v != "" {
		d, err := ParseInterval(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCheckInterval, err)
		}
		c.Probing.CheckInterval = d
	}
	if v := getenv(EnvConfigFile); v != "" {
		c.Probing.ConfigFile = v
	}
	if v := getenv(EnvConfiguration); strings.TrimSpace(v) != "" {
		c.Probing.Definitions = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := getenv(EnvLogFile); v != "" {
		c.Logging.File = v
	}
	if v := getenv(EnvListenAddr); v != "" {
		c.Server.ListenAddr = v
	}
	if v := getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConcurrency, err)
		}
		c.Probing.Concurrency = n
	}
	if v := getenv(EnvHistory); v != "" {
		c.History.Backend = v
	}
	if v := getenv(EnvConnectHost); v != "" {
		c.Secrets.ConnectHost = v
	}
	if v := getenv(EnvConnectToken); v != "" {
		c.Secrets.ConnectToken = v
	}
	return nil
}

// ParseInterval accepts a whole number of seconds or a Go duration string.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", d)
	}
	return d, nil
}
