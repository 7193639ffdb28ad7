package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/aeolun/wschat/pkg/client"
	"github.com/aeolun/wschat/pkg/client/ui"
	"github.com/aeolun/wschat/pkg/updater"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

type options struct {
	configPath string
	server     string
	statePath  string
	username   string
	noNotify   bool
	debugLog   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var cfgErr *client.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "Configuration error in %s", cfgErr.Path)
			if cfgErr.LineNumber > 0 {
				fmt.Fprintf(os.Stderr, " (line %d)", cfgErr.LineNumber)
			}
			fmt.Fprintf(os.Stderr, ":\n  %s\n", cfgErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "wschat [server]",
		Short:         "Terminal client for wschat",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.server = args[0]
			}
			return run(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", client.DefaultConfigPath(), "Path to client config file")
	flags.StringVar(&opts.server, "server", "", "Server address (host, host:port or ws:// URL)")
	flags.StringVar(&opts.statePath, "state", "", "Path to state database (overrides config)")
	flags.StringVarP(&opts.username, "username", "u", "", "Join as this username without prompting")
	flags.BoolVar(&opts.noNotify, "no-notify", false, "Disable desktop notifications for mentions")
	flags.StringVar(&opts.debugLog, "debug-log", "", "Write connection debug log to this file")

	return cmd
}

func run(opts *options) error {
	config, err := client.LoadClientConfig(opts.configPath)
	if err != nil {
		return err
	}

	statePath := opts.statePath
	if statePath == "" {
		if statePath, err = config.GetStateDBPath(); err != nil {
			return fmt.Errorf("failed to resolve state path: %w", err)
		}
	}
	state, err := client.OpenState(statePath)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer state.Close()

	addr := opts.server
	if addr == "" {
		addr = config.GetServerAddress()
	}
	conn, err := client.NewConnection(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !config.Connection.AutoReconnect {
		conn.DisableAutoReconnect()
	}
	if config.Connection.ReconnectMaxDelaySeconds > 0 {
		conn.SetReconnectDelay(time.Second, time.Duration(config.Connection.ReconnectMaxDelaySeconds)*time.Second)
	}

	logOutput := io.Discard
	if opts.debugLog != "" {
		f, err := os.OpenFile(opts.debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open debug log: %w", err)
		}
		defer f.Close()
		logOutput = f
	}
	conn.SetLogger(log.New(logOutput, "", log.Ldate|log.Ltime|log.Lmicroseconds))

	// A failed first connect is shown in the join prompt; joining retries it
	_ = conn.Connect()

	autoJoin := config.Local.AutoJoin
	if opts.username != "" {
		if err := state.SetLastUsername(opts.username); err != nil {
			return fmt.Errorf("failed to save username: %w", err)
		}
		autoJoin = true
	} else if state.GetLastUsername() == "" && config.Local.LastUsername != "" {
		_ = state.SetLastUsername(config.Local.LastUsername)
	}

	uiOpts := ui.Options{
		CurrentVersion:  Version,
		ShowTimestamps:  config.UI.ShowTimestamps,
		TimestampFormat: config.UI.TimestampFormat,
		AutoJoin:        autoJoin,
	}
	if config.Local.DesktopNotifier && !opts.noNotify {
		uiOpts.Notify = func(title, body string) error {
			return beeep.Notify(title, body, "")
		}
	}
	if Version != "dev" {
		uiOpts.CheckVersion = updater.CheckLatestVersion
	}

	model := ui.NewModel(conn, state, uiOpts)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}

	if state.GetFirstRun() {
		_ = state.SetFirstRunComplete()
	}
	return nil
}
