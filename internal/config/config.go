// ABOUTME: Configuration loading and parsing for relaydesk
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relaydesk configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Transport TransportConfig `yaml:"transport"`
	Responder ResponderConfig `yaml:"responder"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the admin HTTP listener address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the SQLite database path for agents and the block ledger.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the credential store backing configuration.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	KeyPrefix string `yaml:"key_prefix"`
	BackupDir string `yaml:"backup_dir"`
}

// TransportConfig holds the relay broker endpoint.
type TransportConfig struct {
	BrokerURL string `yaml:"broker_url"`
}

// ResponderConfig selects and configures the reply generation backend.
type ResponderConfig struct {
	Kind    string        `yaml:"kind"` // "http" or "anthropic"
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// SessionsConfig holds session lifecycle tuning. All fields have defaults;
// see Defaults for the values applied when a field is left unset.
type SessionsConfig struct {
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	BlockDefaultDuration string `yaml:"block_default_duration"`
	HistoryMaxTurns      int    `yaml:"history_max_turns"`
	RestoreConcurrency   int    `yaml:"restore_concurrency"`

	ReconnectBaseDelay time.Duration `yaml:"-"`
	ReconnectMaxDelay  time.Duration `yaml:"-"`
	ConnectLockTTL     time.Duration `yaml:"-"`
	EchoMarkerTTL      time.Duration `yaml:"-"`
	HistoryMaxIdle     time.Duration `yaml:"-"`
	SweepInterval      time.Duration `yaml:"-"`
	RestoreBatchDelay  time.Duration `yaml:"-"`
	SendRetryDelay     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReconnectBaseDelayRaw string `yaml:"reconnect_base_delay"`
	ReconnectMaxDelayRaw  string `yaml:"reconnect_max_delay"`
	ConnectLockTTLRaw     string `yaml:"connect_lock_ttl"`
	EchoMarkerTTLRaw      string `yaml:"echo_marker_ttl"`
	HistoryMaxIdleRaw     string `yaml:"history_max_idle"`
	SweepIntervalRaw      string `yaml:"sweep_interval"`
	RestoreBatchDelayRaw  string `yaml:"restore_batch_delay"`
	SendRetryDelayRaw     string `yaml:"send_retry_delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a SessionsConfig populated with the documented defaults.
func Defaults() SessionsConfig {
	return SessionsConfig{
		MaxReconnectAttempts: 10,
		BlockDefaultDuration: "24h",
		HistoryMaxTurns:      10,
		RestoreConcurrency:   2,
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ConnectLockTTL:       5 * time.Minute,
		EchoMarkerTTL:        10 * time.Second,
		HistoryMaxIdle:       2 * time.Hour,
		SweepInterval:        30 * time.Minute,
		RestoreBatchDelay:    10 * time.Second,
		SendRetryDelay:       3 * time.Second,
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and unset session
// options are filled from Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Transport.BrokerURL == "" {
		return fmt.Errorf("transport.broker_url is required")
	}

	switch c.Responder.Kind {
	case "", "http", "anthropic":
	default:
		return fmt.Errorf("responder.kind must be \"http\" or \"anthropic\", got %q", c.Responder.Kind)
	}
	if c.Responder.Kind == "http" && c.Responder.URL == "" {
		return fmt.Errorf("responder.url is required when responder.kind is \"http\"")
	}

	if c.Sessions.MaxReconnectAttempts < 1 {
		return fmt.Errorf("sessions.max_reconnect_attempts must be at least 1")
	}
	if c.Sessions.HistoryMaxTurns < 1 {
		return fmt.Errorf("sessions.history_max_turns must be at least 1")
	}
	if c.Sessions.RestoreConcurrency < 1 {
		return fmt.Errorf("sessions.restore_concurrency must be at least 1")
	}

	return nil
}

// applyDefaults fills unset session and responder options with their defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	s := &cfg.Sessions

	if s.MaxReconnectAttempts == 0 {
		s.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if s.BlockDefaultDuration == "" {
		s.BlockDefaultDuration = def.BlockDefaultDuration
	}
	if s.HistoryMaxTurns == 0 {
		s.HistoryMaxTurns = def.HistoryMaxTurns
	}
	if s.RestoreConcurrency == 0 {
		s.RestoreConcurrency = def.RestoreConcurrency
	}
	if s.ReconnectBaseDelay == 0 {
		s.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if s.ReconnectMaxDelay == 0 {
		s.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if s.ConnectLockTTL == 0 {
		s.ConnectLockTTL = def.ConnectLockTTL
	}
	if s.EchoMarkerTTL == 0 {
		s.EchoMarkerTTL = def.EchoMarkerTTL
	}
	if s.HistoryMaxIdle == 0 {
		s.HistoryMaxIdle = def.HistoryMaxIdle
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = def.SweepInterval
	}
	if s.RestoreBatchDelay == 0 {
		s.RestoreBatchDelay = def.RestoreBatchDelay
	}
	if s.SendRetryDelay == 0 {
		s.SendRetryDelay = def.SendRetryDelay
	}

	if cfg.Responder.Kind == "" {
		cfg.Responder.Kind = "http"
	}
	if cfg.Responder.Timeout == 0 {
		cfg.Responder.Timeout = 30 * time.Second
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "relaydesk:creds:"
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sessions.reconnect_base_delay", cfg.Sessions.ReconnectBaseDelayRaw, &cfg.Sessions.ReconnectBaseDelay},
		{"sessions.reconnect_max_delay", cfg.Sessions.ReconnectMaxDelayRaw, &cfg.Sessions.ReconnectMaxDelay},
		{"sessions.connect_lock_ttl", cfg.Sessions.ConnectLockTTLRaw, &cfg.Sessions.ConnectLockTTL},
		{"sessions.echo_marker_ttl", cfg.Sessions.EchoMarkerTTLRaw, &cfg.Sessions.EchoMarkerTTL},
		{"sessions.history_max_idle", cfg.Sessions.HistoryMaxIdleRaw, &cfg.Sessions.HistoryMaxIdle},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"sessions.restore_batch_delay", cfg.Sessions.RestoreBatchDelayRaw, &cfg.Sessions.RestoreBatchDelay},
		{"sessions.send_retry_delay", cfg.Sessions.SendRetryDelayRaw, &cfg.Sessions.SendRetryDelay},
		{"responder.timeout", cfg.Responder.TimeoutRaw, &cfg.Responder.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
