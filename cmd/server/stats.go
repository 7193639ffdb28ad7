package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aeolun/wschat/pkg/database"
	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func statsCmd(opts *options) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show message store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, description, err := openStore(config)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n\n", description)
			return printStats(ctx, cmd.OutOrStdout(), store, recent)
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 0, "Also list the N most recent messages")

	return cmd
}

func printStats(ctx context.Context, w io.Writer, store database.Store, recent int) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	mostRecent := "-"
	if stats.MostRecent != nil {
		mostRecent = protocol.FormatTimestamp(*stats.MostRecent)
	}

	table := newTable(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Total messages", strconv.FormatInt(stats.TotalMessages, 10)})
	table.Append([]string{"Unique usernames", strconv.FormatInt(stats.UniqueUsernames, 10)})
	table.Append([]string{"Most recent", mostRecent})
	table.Render()

	if recent <= 0 {
		return nil
	}

	messages, err := store.Recent(ctx, recent)
	if err != nil {
		return fmt.Errorf("failed to read recent messages: %w", err)
	}

	fmt.Fprintln(w)
	table = newTable(w)
	table.SetHeader([]string{"Timestamp", "Username", "Message"})
	for _, m := range messages {
		table.Append([]string{protocol.FormatTimestamp(m.CreatedAt), m.Username, m.Body})
	}
	table.Render()
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}
