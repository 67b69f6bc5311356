// Package stats provides a goroutine-safe metrics collector that aggregates
// delivery results from multiple load test workers and prints a summary
// report with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates delivery results from load test workers. All methods
// are goroutine-safe and can be called concurrently.
type Collector struct {
	mu         sync.Mutex
	latencies  []time.Duration
	byStatus   map[int]int
	deliveries int
	errors     int
	startTime  time.Time
	scraper    *Scraper
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		byStatus:  make(map[int]int),
		startTime: time.Now(),
	}
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When
// set, Report() will also print gateway-side metrics collected by the
// scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddDelivery records one completed delivery with its response status and
// request latency.
func (c *Collector) AddDelivery(status int, d time.Duration) {
	c.mu.Lock()
	c.deliveries++
	c.byStatus[status]++
	c.latencies = append(c.latencies, d)
	c.mu.Unlock()
}

// AddError increments the transport error counter (connection refused,
// client timeout — no status code was received).
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// DeliveryCount returns the number of recorded deliveries.
func (c *Collector) DeliveryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliveries
}

// ErrorCount returns the number of recorded transport errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a formatted summary of the collected results to stdout,
// including throughput, status code distribution, and latency percentiles.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Deliveries:   %d\n", c.deliveries)
	fmt.Printf("Errors:       %d\n", c.errors)
	if elapsed > 0 && c.deliveries > 0 {
		fmt.Printf("Throughput:   %.1f deliveries/s\n",
			float64(c.deliveries)/elapsed.Seconds())
	}

	if len(c.byStatus) > 0 {
		fmt.Println("\n--- Status Codes ---")
		codes := make([]int, 0, len(c.byStatus))
		for code := range c.byStatus {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Printf("  %d: %d\n", code, c.byStatus[code])
		}
	}

	if len(c.latencies) > 0 {
		fmt.Println("\n--- Delivery Latency ---")
		printPercentiles(c.latencies)
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// printPercentiles sorts the given durations and prints avg, p50, p95, p99,
// and max values along with the sample count.
func printPercentiles(durations []time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
