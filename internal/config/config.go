// ABOUTME: Configuration loading and parsing for the resale inbox client
// ABOUTME: Supports YAML or TOML files, .env loading, env var expansion, and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend drivers.
const (
	BackendSupabase = "supabase"
	BackendSQLite   = "sqlite"
)

// Realtime drivers.
const (
	RealtimeSupabase = "supabase"
	RealtimeRedis    = "redis"
	RealtimeLocal    = "local"
	RealtimeNone     = "none"
)

// Config represents the complete inbox configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend" toml:"backend"`
	Realtime RealtimeConfig `yaml:"realtime" toml:"realtime"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Inbox    InboxConfig    `yaml:"inbox" toml:"inbox"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// BackendConfig selects where conversations and messages come from
type BackendConfig struct {
	Driver        string `yaml:"driver" toml:"driver"`
	URL           string `yaml:"url" toml:"url"`
	AnonKey       string `yaml:"anon_key" toml:"anon_key"`
	FunctionsPath string `yaml:"functions_path" toml:"functions_path"`
	DatabasePath  string `yaml:"database_path" toml:"database_path"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// RealtimeConfig selects the push transport
type RealtimeConfig struct {
	Driver      string `yaml:"driver" toml:"driver"`
	URL         string `yaml:"url" toml:"url"` // websocket endpoint; derived from backend.url when empty
	RedisAddr   string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix" toml:"redis_prefix"`

	JoinTimeout       time.Duration `yaml:"-" toml:"-"`
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	RejoinInterval    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	JoinTimeoutRaw       string `yaml:"join_timeout" toml:"join_timeout"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	RejoinIntervalRaw    string `yaml:"rejoin_interval" toml:"rejoin_interval"`
}

// AuthConfig holds session configuration
type AuthConfig struct {
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// InboxConfig holds conversation service tuning
type InboxConfig struct {
	ConversationLimit int `yaml:"conversation_limit" toml:"conversation_limit"`
	MessageLimit      int `yaml:"message_limit" toml:"message_limit"`
	OlderLimit        int `yaml:"older_limit" toml:"older_limit"`
	DedupeSize        int `yaml:"dedupe_size" toml:"dedupe_size"`

	PollInterval time.Duration `yaml:"-" toml:"-"`
	DedupeTTL    time.Duration `yaml:"-" toml:"-"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	DedupeTTLRaw    string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration for the local sqlite backend with the
// in-process realtime hub.
func Default() *Config {
	cfg := &Config{}
	cfg.Backend.Driver = BackendSQLite
	cfg.Realtime.Driver = RealtimeLocal
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// The format is chosen by extension (.toml, otherwise YAML). A .env file in the
// same directory is loaded first without overriding the existing environment.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config path from INBOX_CONFIG, falling back to
// $XDG_CONFIG_HOME/resale-inbox/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("INBOX_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "resale-inbox", "config.yaml")
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Backend.Driver == "" {
		cfg.Backend.Driver = BackendSupabase
	}
	if cfg.Backend.FunctionsPath == "" {
		cfg.Backend.FunctionsPath = "/functions/v1"
	}
	if cfg.Backend.DatabasePath == "" && cfg.Backend.Driver == BackendSQLite {
		cfg.Backend.DatabasePath = "inbox.db"
	}
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = 15 * time.Second
	}

	if cfg.Realtime.Driver == "" {
		if cfg.Backend.Driver == BackendSQLite {
			cfg.Realtime.Driver = RealtimeLocal
		} else {
			cfg.Realtime.Driver = RealtimeSupabase
		}
	}
	if cfg.Realtime.RedisPrefix == "" {
		cfg.Realtime.RedisPrefix = "inbox"
	}
	if cfg.Realtime.JoinTimeout == 0 {
		cfg.Realtime.JoinTimeout = 10 * time.Second
	}
	if cfg.Realtime.HeartbeatInterval == 0 {
		cfg.Realtime.HeartbeatInterval = 25 * time.Second
	}
	if cfg.Realtime.RejoinInterval == 0 {
		cfg.Realtime.RejoinInterval = 5 * time.Second
	}

	if cfg.Inbox.ConversationLimit == 0 {
		cfg.Inbox.ConversationLimit = 50
	}
	if cfg.Inbox.MessageLimit == 0 {
		cfg.Inbox.MessageLimit = 50
	}
	if cfg.Inbox.OlderLimit == 0 {
		cfg.Inbox.OlderLimit = 20
	}
	if cfg.Inbox.PollInterval == 0 {
		cfg.Inbox.PollInterval = 30 * time.Second
	}
	if cfg.Inbox.DedupeTTL == 0 {
		cfg.Inbox.DedupeTTL = 10 * time.Minute
	}
	if cfg.Inbox.DedupeSize == 0 {
		cfg.Inbox.DedupeSize = 10000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case BackendSupabase:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend.url is required for the supabase driver")
		}
		if c.Backend.AnonKey == "" {
			return fmt.Errorf("backend.anon_key is required for the supabase driver")
		}
	case BackendSQLite:
		if c.Backend.DatabasePath == "" {
			return fmt.Errorf("backend.database_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("backend.driver %q is not supported", c.Backend.Driver)
	}

	switch c.Realtime.Driver {
	case RealtimeSupabase:
		if c.Realtime.URL == "" && c.Backend.URL == "" {
			return fmt.Errorf("realtime.url or backend.url is required for the supabase realtime driver")
		}
	case RealtimeRedis:
		if c.Realtime.RedisAddr == "" {
			return fmt.Errorf("realtime.redis_addr is required for the redis driver")
		}
	case RealtimeLocal:
		if c.Backend.Driver != BackendSQLite {
			return fmt.Errorf("realtime.driver %q requires backend.driver %q", RealtimeLocal, BackendSQLite)
		}
	case RealtimeNone:
	default:
		return fmt.Errorf("realtime.driver %q is not supported", c.Realtime.Driver)
	}

	for name, v := range map[string]int{
		"inbox.conversation_limit": c.Inbox.ConversationLimit,
		"inbox.message_limit":      c.Inbox.MessageLimit,
		"inbox.older_limit":        c.Inbox.OlderLimit,
		"inbox.dedupe_size":        c.Inbox.DedupeSize,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (text or json)", c.Logging.Format)
	}

	return nil
}

// RealtimeURL returns the websocket endpoint, deriving it from the backend
// URL when not set explicitly.
func (c *Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	u := strings.TrimRight(c.Backend.URL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1/websocket"
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.request_timeout", cfg.Backend.RequestTimeoutRaw, &cfg.Backend.RequestTimeout},
		{"realtime.join_timeout", cfg.Realtime.JoinTimeoutRaw, &cfg.Realtime.JoinTimeout},
		{"realtime.heartbeat_interval", cfg.Realtime.HeartbeatIntervalRaw, &cfg.Realtime.HeartbeatInterval},
		{"realtime.rejoin_interval", cfg.Realtime.RejoinIntervalRaw, &cfg.Realtime.RejoinInterval},
		{"inbox.poll_interval", cfg.Inbox.PollIntervalRaw, &cfg.Inbox.PollInterval},
		{"inbox.dedupe_ttl", cfg.Inbox.DedupeTTLRaw, &cfg.Inbox.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("parsing %s %q: must be positive", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
