package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/wschat/pkg/server"
	"github.com/spf13/cobra"
)

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *options) error {
	config, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if opts.debug {
		server.SetDebugOutput(os.Stderr)
		log.Printf("Debug logging enabled")
	}

	store, description, err := openStore(config)
	if err != nil {
		return err
	}

	serverConfig := config.ToServerConfig()
	serverConfig.Version = Version

	// The server owns the store from here on
	srv := server.NewServer(store, serverConfig)
	if err := srv.Start(); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Printf("wschat server %s started successfully", Version)
	log.Printf("Config: %s", opts.configPath)
	log.Printf("Database: %s", description)
	log.Printf("Listening on %s (ws://server:%d/ws)", srv.Addr(), serverConfig.Port)
	log.Printf("History limit: %d, heartbeat: %s, auth timeout: %s",
		serverConfig.HistoryLimit, serverConfig.HeartbeatInterval, serverConfig.AuthTimeout)
	if serverConfig.RetentionDays > 0 {
		log.Printf("Retention: %d days (checked every %s)", serverConfig.RetentionDays, serverConfig.RetentionInterval)
	}

	// Wait for interrupt signal or a fault inside the server
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var cause error
	select {
	case sig := <-sigChan:
		log.Printf("Received %s, shutting down server...", sig)
	case fault := <-srv.Faults():
		log.Printf("Fatal fault, shutting down server: %v", fault)
		cause = fault
	case <-ctx.Done():
		log.Println("Shutting down server...")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(stopCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
		cause = errors.Join(cause, err)
	}
	log.Println("Server stopped")

	return cause
}
