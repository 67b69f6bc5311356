// Package stats — scraper.go provides a lightweight Prometheus metrics
// scraper that periodically fetches gateway-side metrics during a load test
// and records snapshots for post-test reporting.
package stats

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// metricSnapshot holds the values of all tracked gateway metrics at a point
// in time. Labelled counters are summed across their label sets.
type metricSnapshot struct {
	timestamp      time.Time
	messagesTotal  float64
	dropped        float64
	webhookRejects float64
	autoReplies    float64
	termsCreated   float64
	// histogram _sum and _count for computing the mean adapter latency
	adapterSum   float64
	adapterCount float64
}

// Scraper periodically fetches Prometheus metrics from the gateway and
// records snapshots that can be included in the load test report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []metricSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

// NewScraper creates a new Scraper that will fetch metrics from metricsURL
// at the given interval.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Start begins scraping metrics in the background. It takes an initial
// snapshot immediately and then scrapes at the configured interval until
// the context is cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Take a final snapshot before exiting.
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the background scraper and waits for it to finish.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// scrapeOnce fetches the metrics endpoint and records a snapshot.
func (s *Scraper) scrapeOnce() {
	snap, err := s.fetch()
	if err != nil {
		// Silently skip failed scrapes — the gateway may not be ready yet.
		return
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

// fetch performs an HTTP GET to the metrics endpoint and parses the
// response.
func (s *Scraper) fetch() (metricSnapshot, error) {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		return metricSnapshot{}, err
	}
	defer resp.Body.Close()

	snap := metricSnapshot{timestamp: time.Now()}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		// Skip comments and empty lines.
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		// Labelled counters show up as one line per label set; sum them.
		switch name {
		case "chatwarden_messages_total":
			snap.messagesTotal += value
		case "chatwarden_messages_dropped_total":
			snap.dropped += value
		case "chatwarden_webhook_rejects_total":
			snap.webhookRejects += value
		case "chatwarden_auto_replies_total":
			snap.autoReplies += value
		case "chatwarden_candidate_terms_created_total":
			snap.termsCreated += value
		case "chatwarden_adapter_latency_seconds_sum":
			snap.adapterSum += value
		case "chatwarden_adapter_latency_seconds_count":
			snap.adapterCount += value
		}
	}

	return snap, scanner.Err()
}

// parseMetricLine parses a Prometheus text exposition line into the metric
// name (without labels) and its float value. Returns false if the line
// cannot be parsed.
func parseMetricLine(line string) (name string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		name = raw[:idx]
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", 0, false
		}
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", 0, false
	}

	if name == "" {
		name = fields[0]
	}

	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return "", 0, false
	}

	return name, v, true
}

// Report prints a summary of the gateway-side metrics collected during the
// load test: initial value, final value, and delta for each counter, plus
// the mean adapter latency over the run.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := make([]metricSnapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Gateway Metrics (no data collected) ---")
		return
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]

	fmt.Println("\n--- Gateway Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	type counter struct {
		label   string
		initial float64
		final   float64
	}

	counters := []counter{
		{label: "Messages Total", initial: first.messagesTotal, final: last.messagesTotal},
		{label: "Dropped", initial: first.dropped, final: last.dropped},
		{label: "Webhook Rejects", initial: first.webhookRejects, final: last.webhookRejects},
		{label: "Auto Replies", initial: first.autoReplies, final: last.autoReplies},
		{label: "Terms Created", initial: first.termsCreated, final: last.termsCreated},
	}

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta")
	fmt.Printf("  %-16s %10s %10s %10s\n", "------", "-------", "-----", "-----")
	for _, c := range counters {
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f\n", c.label, c.initial, c.final, c.final-c.initial)
	}

	deltaSum := last.adapterSum - first.adapterSum
	deltaCount := last.adapterCount - first.adapterCount
	if deltaCount > 0 {
		fmt.Printf("\n  Mean adapter latency over run: %.1fms (%d calls)\n",
			deltaSum/deltaCount*1000, int64(deltaCount))
	}
}
