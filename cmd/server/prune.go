package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aeolun/wschat/pkg/database"
	"github.com/spf13/cobra"
)

func pruneCmd(opts *options) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete messages older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, _, err := openStore(config)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			return runPrune(ctx, cmd.OutOrStdout(), store, days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Delete messages older than this many days")

	return cmd
}

func runPrune(ctx context.Context, w io.Writer, store database.Store, days int) error {
	deleted, err := store.Prune(ctx, days)
	if err != nil {
		return fmt.Errorf("failed to prune messages: %w", err)
	}
	fmt.Fprintf(w, "Deleted %d messages older than %d days\n", deleted, days)
	return nil
}
