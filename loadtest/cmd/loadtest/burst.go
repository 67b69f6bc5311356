package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chatwarden/chatwarden/loadtest/client"
	"github.com/chatwarden/chatwarden/loadtest/stats"
)

// runBurst implements the spike test. It fires a single wave of deliveries
// with bounded concurrency, each carrying a configurable number of messages,
// and waits for every response. This probes how the gateway behaves when a
// provider flushes a backlog at once: the webhook holds each response until
// the whole delivery is durable, so burst latency shows the pipeline's
// worst-case queueing.
func runBurst(args []string) {
	fs := flag.NewFlagSet("burst", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8080/webhook", "Gateway webhook URL")
	secret := fs.String("secret", "", "Webhook app secret used to sign deliveries")
	to := fs.String("to", "+15550001111", "Inbound address the messages are sent to (must resolve to an account)")
	deliveries := fs.Int("deliveries", 200, "Number of deliveries in the wave")
	batch := fs.Int("batch", 5, "Messages per delivery")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous deliveries")
	timeout := fs.Duration("timeout", 120*time.Second, "Per-delivery HTTP timeout")
	metricsURL := fs.String("metrics", "", "Gateway metrics URL to scrape during the run (optional)")
	fs.Parse(args)

	if *secret == "" {
		fmt.Println("burst: -secret is required (deliveries must be signed)")
		return
	}

	fmt.Printf("Burst test: %d deliveries x %d messages to %s (concurrency=%d)\n",
		*deliveries, *batch, *url, *concurrency)

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

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	for i := 0; i < *deliveries; i++ {
		if ctx.Err() != nil {
			fmt.Println("\ninterrupted")
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			msgs := make([]client.Message, *batch)
			for j := range msgs {
				msgs[j] = client.TextMessage(
					fmt.Sprintf("burst.%d.%d.%d", runID, i, j),
					fmt.Sprintf("+1555000%04d", (i**batch+j)%10000),
					*to,
					fmt.Sprintf("burst message %d/%d", i, j),
				)
			}

			res, err := c.Deliver(ctx, msgs...)
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddDelivery(res.StatusCode, res.Latency)
		}(i)
	}

	wg.Wait()
	collector.Report()
}
