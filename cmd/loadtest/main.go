package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type config struct {
	server     string
	numClients int
	duration   time.Duration
	minDelay   time.Duration
	maxDelay   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config{}

	cmd := &cobra.Command{
		Use:           "loadtest",
		Short:         "Run N chat bots against a wschat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.numClients <= 0 {
				return fmt.Errorf("--clients must be positive")
			}
			if cfg.maxDelay < cfg.minDelay {
				return fmt.Errorf("--max-delay must not be below --min-delay")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats := runLoadTest(ctx, cfg)
			printResults(cfg, stats)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.server, "server", "localhost:8080", "Server address (host:port or ws:// URL)")
	flags.IntVar(&cfg.numClients, "clients", 10, "Number of concurrent clients")
	flags.DurationVar(&cfg.duration, "duration", time.Minute, "Test duration")
	flags.DurationVar(&cfg.minDelay, "min-delay", 100*time.Millisecond, "Minimum delay between posts")
	flags.DurationVar(&cfg.maxDelay, "max-delay", time.Second, "Maximum delay between posts")

	return cmd
}

// runLoadTest ramps bots up over the first quarter of the run and waits for them to finish
func runLoadTest(ctx context.Context, cfg config) *Stats {
	// Calculate stagger delay: ramp up over 25% of test duration
	rampUpDuration := cfg.duration / 4
	staggerDelay := max(rampUpDuration/time.Duration(cfg.numClients), time.Millisecond)

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", cfg.server)
	log.Printf("  Clients: %d", cfg.numClients)
	log.Printf("  Duration: %v", cfg.duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", cfg.minDelay, cfg.maxDelay)

	stats := &Stats{}
	var wg sync.WaitGroup

	// Start stats reporter
	reporterCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				posted, failed, connErrors, avgUs := stats.snapshot()
				rate := float64(posted) / time.Since(startTime).Seconds()
				log.Printf("Stats: %d posted (%.1f/s), %d received, %d failed, %d conn errors, avg %.2fms",
					posted, rate, stats.messagesReceived.Load(), failed, connErrors, avgUs/1000.0)
			case <-reporterCtx.Done():
				return
			}
		}
	}()

	endTime := time.Now().Add(cfg.duration)

spawn:
	for i := 0; i < cfg.numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			bot, err := NewBotClient(id, cfg.server, stats)
			if err != nil {
				stats.recordConnectionError()
				return
			}
			if err := bot.Connect(ctx); err != nil {
				bot.conn.Close()
				return
			}

			// Only log every 100th client during ramp-up
			if id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", id, bot.username)
			}

			// Every bot stops at the same wall-clock time
			bot.Run(ctx, time.Until(endTime), cfg.minDelay, cfg.maxDelay)
		}(i)

		select {
		case <-ctx.Done():
			log.Printf("Shutdown signal received, stopping test...")
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()
	return stats
}

func printResults(cfg config, stats *Stats) {
	posted, failed, connErrors, avgUs := stats.snapshot()
	rate := float64(posted) / cfg.duration.Seconds()

	// Calculate expected throughput
	avgDelay := max((cfg.minDelay+cfg.maxDelay)/2, time.Millisecond)
	expectedPerClient := float64(cfg.duration) / float64(avgDelay)
	expectedTotal := expectedPerClient * float64(cfg.numClients)

	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", cfg.duration)
	log.Printf("Messages posted: %d (%.1f/s)", posted, rate)
	log.Printf("Messages received (fan-out): %d", stats.messagesReceived.Load())
	log.Printf("Messages failed: %d", failed)
	log.Printf("  - Post failures: %d", stats.postFailures.Load())
	log.Printf("  - Timeouts: %d", stats.timeouts.Load())
	log.Printf("Disconnections: %d", stats.disconnections.Load())
	log.Printf("Connection errors: %d", connErrors)
	log.Printf("Average response time: %.2fms", avgUs/1000.0)
	log.Printf("Expected throughput: %.0f messages (%.1f per client)", expectedTotal, expectedPerClient)
	if expectedTotal > 0 {
		log.Printf("Actual vs expected: %.1f%% efficiency", float64(posted)/expectedTotal*100)
	}

	if posted+failed > 0 {
		log.Printf("Success rate: %.1f%%", float64(posted)/float64(posted+failed)*100)
	}
}
