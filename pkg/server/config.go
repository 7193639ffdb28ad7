package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
)

// ServerConfig is the static configuration handed to NewServer
type ServerConfig struct {
	Port              int
	HistoryLimit      int
	MaxMessageLength  int
	MaxUsernameLength int
	HeartbeatInterval time.Duration
	AuthTimeout       time.Duration
	WriteTimeout      time.Duration
	StoreTimeout      time.Duration
	ShutdownTimeout   time.Duration
	RetentionDays     int // 0 disables the retention loop
	RetentionInterval time.Duration
	AllowedOrigins    []string // empty or "*" allows every origin
	MaxFrameBytes     int64    // raised to fit MaxMessageLength, see readLimit
	Version           string
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Port:              8080,
		HistoryLimit:      50,
		MaxMessageLength:  500,
		MaxUsernameLength: 20,
		HeartbeatInterval: 30 * time.Second,
		AuthTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		StoreTimeout:      5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RetentionInterval: time.Hour,
		MaxFrameBytes:     64 * 1024,
		Version:           "dev",
	}
}

// withDefaults fills zero-valued limits and durations from DefaultConfig
func (c ServerConfig) withDefaults() ServerConfig {
	d := DefaultConfig()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = d.MaxMessageLength
	}
	if c.MaxUsernameLength <= 0 {
		c.MaxUsernameLength = d.MaxUsernameLength
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = d.RetentionInterval
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	return c
}

// readLimit is the largest frame accepted from a client. It always leaves room
// for a maximum-length body of 4-byte runes, each escaped as a surrogate pair
// (12 bytes), so an over-long body reaches the validator instead of failing
// the connection.
func (c ServerConfig) readLimit() int64 {
	return max(c.MaxFrameBytes, int64(c.MaxMessageLength)*12+envelopeSlack)
}

// Room for the envelope around a body
const envelopeSlack = 1024

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Limits    LimitsSection    `toml:"limits"`
	Retention RetentionSection `toml:"retention"`
}

type ServerSection struct {
	Port                   int      `toml:"port"`
	DatabasePath           string   `toml:"database_path"`
	DatabaseBackend        string   `toml:"database_backend"` // "sqlite" or "badger"
	AllowedOrigins         []string `toml:"allowed_origins"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

type LimitsSection struct {
	MaxMessageLength         int `toml:"max_message_length"`
	MaxUsernameLength        int `toml:"max_username_length"`
	HistoryLimit             int `toml:"history_limit"`
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	AuthTimeoutSeconds       int `toml:"auth_timeout_seconds"`
	WriteTimeoutSeconds      int `toml:"write_timeout_seconds"`
}

type RetentionSection struct {
	RetentionDays          int `toml:"retention_days"`
	CleanupIntervalMinutes int `toml:"cleanup_interval_minutes"`
}

// Database backends accepted by database_backend / DATABASE_BACKEND
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Port:                   8080,
			DatabasePath:           "~/.wschat/chat.db",
			DatabaseBackend:        BackendSQLite,
			AllowedOrigins:         []string{"*"},
			ShutdownTimeoutSeconds: 10,
		},
		Limits: LimitsSection{
			MaxMessageLength:         500,
			MaxUsernameLength:        20,
			HistoryLimit:             50,
			HeartbeatIntervalSeconds: 30,
			AuthTimeoutSeconds:       10,
			WriteTimeoutSeconds:      10,
		},
		Retention: RetentionSection{
			RetentionDays:          0, // keep forever
			CleanupIntervalMinutes: 60,
		},
	}
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// Not being able to write the file is not fatal, defaults still apply
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# wschat server configuration
# This file was auto-generated with default values
# Environment variables (PORT, DATABASE_PATH, ...) override these settings

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// EnvOverrides are read from the process environment (after loading .env)
type EnvOverrides struct {
	Port              int           `envconfig:"PORT"`
	DatabasePath      string        `envconfig:"DATABASE_PATH"`
	DatabaseBackend   string        `envconfig:"DATABASE_BACKEND"`
	MaxMessageLength  int           `envconfig:"MAX_MESSAGE_LENGTH"`
	HistoryLimit      int           `envconfig:"MESSAGE_HISTORY_LIMIT"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL"`
	AuthTimeout       time.Duration `envconfig:"AUTH_TIMEOUT"`
	CORSOrigin        string        `envconfig:"CORS_ORIGIN"` // comma separated
}

// LoadEnvOverrides loads envFile (a missing file is ignored) and then reads the environment
func LoadEnvOverrides(envFile string) (EnvOverrides, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return EnvOverrides{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var env EnvOverrides
	if err := envconfig.Process("", &env); err != nil {
		return EnvOverrides{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := wholeSeconds("HEARTBEAT_INTERVAL", env.HeartbeatInterval); err != nil {
		return EnvOverrides{}, err
	}
	if err := wholeSeconds("AUTH_TIMEOUT", env.AuthTimeout); err != nil {
		return EnvOverrides{}, err
	}
	return env, nil
}

// wholeSeconds rejects durations the config file cannot represent
func wholeSeconds(name string, d time.Duration) error {
	if d < 0 || d%time.Second != 0 {
		return fmt.Errorf("%s must be a positive whole number of seconds, got %s", name, d)
	}
	return nil
}

// Apply copies every set override into the file configuration
func (e EnvOverrides) Apply(c *TOMLConfig) {
	if e.Port != 0 {
		c.Server.Port = e.Port
	}
	if e.DatabasePath != "" {
		c.Server.DatabasePath = e.DatabasePath
	}
	if e.DatabaseBackend != "" {
		c.Server.DatabaseBackend = e.DatabaseBackend
	}
	if e.MaxMessageLength != 0 {
		c.Limits.MaxMessageLength = e.MaxMessageLength
	}
	if e.HistoryLimit != 0 {
		c.Limits.HistoryLimit = e.HistoryLimit
	}
	if e.HeartbeatInterval > 0 {
		c.Limits.HeartbeatIntervalSeconds = int(e.HeartbeatInterval / time.Second)
	}
	if e.AuthTimeout > 0 {
		c.Limits.AuthTimeoutSeconds = int(e.AuthTimeout / time.Second)
	}
	if origins := splitOrigins(e.CORSOrigin); len(origins) > 0 {
		c.Server.AllowedOrigins = origins
	}
}

func splitOrigins(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
}

// ToServerConfig converts TOMLConfig to ServerConfig, keeping defaults for unset values
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}
	if len(c.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	if c.Server.ShutdownTimeoutSeconds > 0 {
		cfg.ShutdownTimeout = time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
	}
	if c.Limits.MaxMessageLength > 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}
	if c.Limits.MaxUsernameLength > 0 {
		cfg.MaxUsernameLength = c.Limits.MaxUsernameLength
	}
	if c.Limits.HistoryLimit > 0 {
		cfg.HistoryLimit = c.Limits.HistoryLimit
	}
	if c.Limits.HeartbeatIntervalSeconds > 0 {
		cfg.HeartbeatInterval = time.Duration(c.Limits.HeartbeatIntervalSeconds) * time.Second
	}
	if c.Limits.AuthTimeoutSeconds > 0 {
		cfg.AuthTimeout = time.Duration(c.Limits.AuthTimeoutSeconds) * time.Second
	}
	if c.Limits.WriteTimeoutSeconds > 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}
	if c.Retention.RetentionDays > 0 {
		cfg.RetentionDays = c.Retention.RetentionDays
	}
	if c.Retention.CleanupIntervalMinutes > 0 {
		cfg.RetentionInterval = time.Duration(c.Retention.CleanupIntervalMinutes) * time.Minute
	}
	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

// GetDatabaseBackend returns the configured backend, defaulting to SQLite
func (c *TOMLConfig) GetDatabaseBackend() (string, error) {
	switch backend := strings.ToLower(strings.TrimSpace(c.Server.DatabaseBackend)); backend {
	case "", BackendSQLite:
		return BackendSQLite, nil
	case BackendBadger:
		return BackendBadger, nil
	default:
		return "", fmt.Errorf("unknown database backend %q", c.Server.DatabaseBackend)
	}
}
