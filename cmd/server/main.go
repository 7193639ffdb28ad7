package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aeolun/wschat/pkg/database"
	"github.com/aeolun/wschat/pkg/server"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

// options are the flags shared by every subcommand
type options struct {
	configPath string
	envFile    string
	port       int
	dbPath     string
	backend    string
	debug      bool
}

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "chatd",
		Short: "wschat server",
		Long: `chatd runs the wschat real-time chat server.

Clients connect over WebSocket at /ws, join with a username and
receive recent history followed by every new message.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a subcommand serves
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "~/.wschat/config.toml", "Path to config file")
	flags.StringVar(&opts.envFile, "env", ".env", "Path to .env file (ignored if missing)")
	flags.IntVar(&opts.port, "port", 0, "Port to listen on (overrides config)")
	flags.StringVar(&opts.dbPath, "db", "", "Database path (overrides config)")
	flags.StringVar(&opts.backend, "backend", "", "Database backend: sqlite or badger (overrides config)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		serveCmd(opts),
		statsCmd(opts),
		pruneCmd(opts),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wschat server %s\n", Version)
		},
	}
}

// loadConfig layers the config file, the environment and the command line flags
func loadConfig(opts *options) (server.TOMLConfig, error) {
	config, err := server.LoadConfig(opts.configPath)
	if err != nil {
		return server.TOMLConfig{}, fmt.Errorf("failed to load config: %w", err)
	}

	env, err := server.LoadEnvOverrides(opts.envFile)
	if err != nil {
		return server.TOMLConfig{}, err
	}
	env.Apply(&config)

	// Command-line flags override config file and environment
	if opts.port != 0 {
		config.Server.Port = opts.port
	}
	if opts.dbPath != "" {
		config.Server.DatabasePath = opts.dbPath
	}
	if opts.backend != "" {
		config.Server.DatabaseBackend = opts.backend
	}

	return config, nil
}

// openStore opens the configured message store
func openStore(config server.TOMLConfig) (database.Store, string, error) {
	path, err := config.GetDatabasePath()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	backend, err := config.GetDatabaseBackend()
	if err != nil {
		return nil, "", err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create database directory: %w", err)
	}

	serverConfig := config.ToServerConfig()
	limits := database.Limits{
		MaxUsernameLength: serverConfig.MaxUsernameLength,
		MaxMessageLength:  serverConfig.MaxMessageLength,
	}

	switch backend {
	case server.BackendBadger:
		store, err := database.OpenBadger(path, limits)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open badger store: %w", err)
		}
		return store, fmt.Sprintf("badger (%s)", path), nil
	default:
		store, err := database.Open(path, limits)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		return store, fmt.Sprintf("sqlite (%s)", path), nil
	}
}
