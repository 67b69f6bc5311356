package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chatwarden/chatwarden/loadtest/client"
	"github.com/chatwarden/chatwarden/loadtest/stats"
)

// runFlood implements the sustained throughput test. It posts signed text
// deliveries at a fixed rate for a configured duration, each carrying one
// message with a unique id, and reports latency percentiles plus the status
// code distribution. Pointing -metrics at the gateway also captures the
// server-side counters over the run.
func runFlood(args []string) {
	fs := flag.NewFlagSet("flood", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8080/webhook", "Gateway webhook URL")
	secret := fs.String("secret", "", "Webhook app secret used to sign deliveries")
	to := fs.String("to", "+15550001111", "Inbound address the messages are sent to (must resolve to an account)")
	rate := fs.Int("rate", 20, "Deliveries per second")
	duration := fs.Duration("duration", 30*time.Second, "Test duration")
	timeout := fs.Duration("timeout", 60*time.Second, "Per-delivery HTTP timeout")
	metricsURL := fs.String("metrics", "", "Gateway metrics URL to scrape during the run (optional)")
	fs.Parse(args)

	if *secret == "" {
		fmt.Println("flood: -secret is required (deliveries must be signed)")
		return
	}

	fmt.Printf("Flood test: %d deliveries/s to %s for %s\n", *rate, *url, *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 2*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	c := client.New(*url, *secret, *timeout)
	runID := time.Now().UnixNano()

	interval := time.Second / time.Duration(*rate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.After(*duration)
	var seq atomic.Int64
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\ninterrupted")
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				n := seq.Add(1)
				msg := client.TextMessage(
					fmt.Sprintf("flood.%d.%d", runID, n),
					fmt.Sprintf("+1555000%04d", n%10000),
					*to,
					fmt.Sprintf("flood message %d, nothing objectionable here", n),
				)
				res, err := c.Deliver(ctx, msg)
				if err != nil {
					collector.AddError()
					return
				}
				collector.AddDelivery(res.StatusCode, res.Latency)
			}()
		}
	}

	// Let in-flight deliveries finish before reporting.
	wg.Wait()
	collector.Report()
}
