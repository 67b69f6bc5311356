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

// runRedeliver implements the idempotence test. It delivers the SAME message
// id many times concurrently, simulating an aggressive provider retry storm.
// Every delivery should be acknowledged (the gateway absorbs duplicates),
// and exactly one verdict should exist afterwards — the report prints the
// message id so the stored record can be checked against the read API.
func runRedeliver(args []string) {
	fs := flag.NewFlagSet("redeliver", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8080/webhook", "Gateway webhook URL")
	secret := fs.String("secret", "", "Webhook app secret used to sign deliveries")
	to := fs.String("to", "+15550001111", "Inbound address the message is sent to (must resolve to an account)")
	copies := fs.Int("copies", 50, "Number of concurrent deliveries of the same message")
	timeout := fs.Duration("timeout", 60*time.Second, "Per-delivery HTTP timeout")
	fs.Parse(args)

	if *secret == "" {
		fmt.Println("redeliver: -secret is required (deliveries must be signed)")
		return
	}

	messageID := fmt.Sprintf("redeliver.%d", time.Now().UnixNano())
	fmt.Printf("Redeliver test: message %s delivered %d times to %s\n", messageID, *copies, *url)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	c := client.New(*url, *secret, *timeout)

	msg := client.TextMessage(messageID, "+15557770000", *to, "same message every time")

	var wg sync.WaitGroup
	for i := 0; i < *copies; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Deliver(ctx, msg)
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddDelivery(res.StatusCode, res.Latency)
		}()
	}
	wg.Wait()

	collector.Report()
	fmt.Printf("Check the stored record: GET /api/messages/%s — there must be exactly one verdict.\n", messageID)
}
