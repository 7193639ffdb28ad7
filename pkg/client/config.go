package client

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	Local      LocalSection      `toml:"local"`
	UI         UISection         `toml:"ui"`
}

type ConnectionSection struct {
	DefaultServer            string `toml:"default_server"`
	DefaultPort              int    `toml:"default_port"`
	AutoReconnect            bool   `toml:"auto_reconnect"`
	ReconnectMaxDelaySeconds int    `toml:"reconnect_max_delay_seconds"`
}

type LocalSection struct {
	StateDB         string `toml:"state_db"`
	LastUsername    string `toml:"last_username"`
	AutoJoin        bool   `toml:"auto_join"` // join with the last username without prompting
	DesktopNotifier bool   `toml:"desktop_notifications"`
}

type UISection struct {
	ShowTimestamps  bool   `toml:"show_timestamps"`
	TimestampFormat string `toml:"timestamp_format"` // 'relative' or 'absolute'
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Path, e.Message, e.LineNumber)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// getXDGConfigHome returns the XDG config directory
func getXDGConfigHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// getXDGDataHome returns the XDG data directory
func getXDGDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share")
}

// DefaultConfigPath returns the default client config file location
func DefaultConfigPath() string {
	return filepath.Join(getXDGConfigHome(), "wschat", "client.toml")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connection: ConnectionSection{
			DefaultServer:            "localhost",
			DefaultPort:              8080,
			AutoReconnect:            true,
			ReconnectMaxDelaySeconds: 30,
		},
		Local: LocalSection{
			StateDB:         filepath.Join(getXDGDataHome(), "wschat", "state.db"),
			AutoJoin:        false,
			DesktopNotifier: true,
		},
		UI: UISection{
			ShowTimestamps:  true,
			TimestampFormat: "absolute",
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

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// a read-only home still gets a working client
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    strings.TrimPrefix(err.Error(), "toml: "),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{Path: path, Message: err.Error()}
	}
	return config, nil
}

var lineNumberRegex = regexp.MustCompile(`line (\d+)`)

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	matches := lineNumberRegex.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

// validateConfig validates configuration values
func validateConfig(config *TOMLConfig) error {
	var problems []string

	if config.Connection.DefaultPort < 0 || config.Connection.DefaultPort > 65535 {
		problems = append(problems, fmt.Sprintf("Invalid port number: %d (must be 1-65535)", config.Connection.DefaultPort))
	}
	if config.Connection.ReconnectMaxDelaySeconds < 0 {
		problems = append(problems, "Reconnect max delay cannot be negative")
	}
	if f := config.UI.TimestampFormat; f != "" && f != "relative" && f != "absolute" {
		problems = append(problems, fmt.Sprintf("Invalid timestamp format: %q (must be 'relative' or 'absolute')", f))
	}
	if strings.TrimSpace(config.Local.StateDB) == "" {
		problems = append(problems, "State database path cannot be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  • %s", strings.Join(problems, "\n  • "))
	}
	return nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# wschat client configuration
# This file was auto-generated with default values
# Edit as needed - changes take effect on next client start

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetStateDBPath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStateDBPath() (string, error) {
	return expandHome(c.Local.StateDB)
}

// GetServerAddress returns the server address (host:port, or the URL as given)
func (c *TOMLConfig) GetServerAddress() string {
	server := strings.TrimSpace(c.Connection.DefaultServer)
	if server == "" {
		return ""
	}
	if strings.Contains(server, "://") {
		return server
	}

	port := c.Connection.DefaultPort
	if port <= 0 {
		return server
	}
	return fmt.Sprintf("%s:%d", server, port)
}
