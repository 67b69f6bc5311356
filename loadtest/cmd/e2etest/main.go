// Package main implements a standalone end-to-end integration test for the
// chatwarden moderation gateway. It validates the full message journey
// against a running stack: health checks, the webhook handshake, signature
// rejection, a signed delivery moderated to a verdict, duplicate absorption,
// and (optionally) custom block-list enforcement.
//
// The target account must already exist; pass its inbound address with -to
// and its id with -owner.
//
// Usage:
//
//	go run ./cmd/e2etest/ -secret <app-secret> -verify-token <token> \
//	    [-api http://localhost:8080] [-to +15550001111] [-owner owner_1] \
//	    [-blockedword spamword] [-timeout 90s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/chatwarden/chatwarden/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "Gateway base URL")
	secret := flag.String("secret", "", "Webhook app secret used to sign deliveries")
	verifyToken := flag.String("verify-token", "", "Webhook verify token for the handshake scenario")
	to := flag.String("to", "+15550001111", "Inbound address of the test account")
	owner := flag.String("owner", "", "Owner id of the test account (enables the stats scenario)")
	blockedWord := flag.String("blockedword", "", "A word on the test account's block list (enables the block scenario)")
	timeout := flag.Duration("timeout", 90*time.Second, "Global test timeout")
	flag.Parse()

	if *secret == "" {
		fmt.Println("e2etest: -secret is required")
		os.Exit(1)
	}

	fmt.Println("=== chatwarden E2E Integration Test ===")
	fmt.Printf("Gateway: %s\n\n", *apiBase)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(*apiBase+"/webhook", *secret, 60*time.Second)

	var results []scenarioResult
	results = append(results, scenario1HealthCheck(ctx, *apiBase))
	results = append(results, scenario2Handshake(ctx, c, *verifyToken))
	results = append(results, scenario3SignatureRejection(ctx, c, *to))

	s4, messageID := scenario4ModerationRoundTrip(ctx, c, *apiBase, *to)
	results = append(results, s4)
	results = append(results, scenario5DuplicateAbsorbed(ctx, c, *apiBase, *to, messageID))

	// Optional scenarios (non-fatal).
	results = append(results, scenario6BlockedWord(ctx, c, *apiBase, *to, *blockedWord))
	results = append(results, scenario7Stats(ctx, *apiBase, *owner))

	// -----------------------------------------------------------------------
	// Summary
	// -----------------------------------------------------------------------
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: Health Check
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, apiBase string) scenarioResult {
	name := "Scenario 1: Health Check"

	if err := httpGetExpectOK(ctx, apiBase+"/health"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	if err := httpGetExpectOK(ctx, apiBase+"/metrics"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 2: Webhook Handshake
// ---------------------------------------------------------------------------

func scenario2Handshake(ctx context.Context, c *client.Client, verifyToken string) scenarioResult {
	name := "Scenario 2: Webhook Handshake"

	if verifyToken == "" {
		return scenarioResult{name, resultInfo, "skipped, no -verify-token"}
	}
	if err := c.Handshake(ctx, verifyToken); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	// A wrong token must not be accepted.
	if err := c.Handshake(ctx, verifyToken+"-wrong"); err == nil {
		return scenarioResult{name, resultFail, "handshake accepted a wrong token"}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 3: Signature Rejection
// ---------------------------------------------------------------------------

func scenario3SignatureRejection(ctx context.Context, c *client.Client, to string) scenarioResult {
	name := "Scenario 3: Signature Rejection"

	msg := client.TextMessage(uniqueID("e2e.unsigned"), "+15557770000", to, "should never be processed")
	res, err := c.DeliverUnsigned(ctx, msg)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if res.StatusCode != http.StatusUnauthorized {
		return scenarioResult{name, resultFail, fmt.Sprintf("status %d, want 401", res.StatusCode)}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 4: Moderation Round-Trip
// ---------------------------------------------------------------------------

func scenario4ModerationRoundTrip(ctx context.Context, c *client.Client, apiBase, to string) (scenarioResult, string) {
	name := "Scenario 4: Moderation Round-Trip"

	messageID := uniqueID("e2e.clean")
	msg := client.TextMessage(messageID, "+15557770000", to, "hello there, this is a perfectly ordinary message")

	res, err := c.Deliver(ctx, msg)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}, messageID
	}
	if res.StatusCode != http.StatusOK {
		return scenarioResult{name, resultFail, fmt.Sprintf("delivery status %d, want 200", res.StatusCode)}, messageID
	}

	rec, err := pollRecord(ctx, apiBase, messageID)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}, messageID
	}
	if rec.Status != "approved" {
		return scenarioResult{name, resultFail, fmt.Sprintf("status %q, want approved", rec.Status)}, messageID
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("latency %s", res.Latency.Round(time.Millisecond))}, messageID
}

// ---------------------------------------------------------------------------
// Scenario 5: Duplicate Absorption
// ---------------------------------------------------------------------------

func scenario5DuplicateAbsorbed(ctx context.Context, c *client.Client, apiBase, to, messageID string) scenarioResult {
	name := "Scenario 5: Duplicate Absorption"

	if messageID == "" {
		return scenarioResult{name, resultFail, "no message id from scenario 4"}
	}

	before, err := fetchRecord(ctx, apiBase, messageID)
	if err != nil {
		return scenarioResult{name, resultFail, "before: " + err.Error()}
	}

	// Redeliver the identical message; the gateway must ack without
	// re-deciding.
	msg := client.TextMessage(messageID, "+15557770000", to, "hello there, this is a perfectly ordinary message")
	res, err := c.Deliver(ctx, msg)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if res.StatusCode != http.StatusOK {
		return scenarioResult{name, resultFail, fmt.Sprintf("redelivery status %d, want 200", res.StatusCode)}
	}

	after, err := fetchRecord(ctx, apiBase, messageID)
	if err != nil {
		return scenarioResult{name, resultFail, "after: " + err.Error()}
	}
	if after.DecidedAt != before.DecidedAt {
		return scenarioResult{name, resultFail, "verdict was re-recorded on redelivery"}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 6: Custom Block List (optional)
// ---------------------------------------------------------------------------

func scenario6BlockedWord(ctx context.Context, c *client.Client, apiBase, to, word string) scenarioResult {
	name := "Scenario 6: Custom Block List"

	if word == "" {
		return scenarioResult{name, resultInfo, "skipped, no -blockedword"}
	}

	messageID := uniqueID("e2e.blocked")
	msg := client.TextMessage(messageID, "+15557770000", to, "this message definitely contains "+word+" in it")
	res, err := c.Deliver(ctx, msg)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if res.StatusCode != http.StatusOK {
		return scenarioResult{name, resultFail, fmt.Sprintf("delivery status %d, want 200", res.StatusCode)}
	}

	rec, err := pollRecord(ctx, apiBase, messageID)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if rec.Status != "blocked" || rec.Reason != "custom_blocked_word" {
		return scenarioResult{name, resultFail,
			fmt.Sprintf("verdict %s/%s, want blocked/custom_blocked_word", rec.Status, rec.Reason)}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 7: Statistics (optional)
// ---------------------------------------------------------------------------

func scenario7Stats(ctx context.Context, apiBase, owner string) scenarioResult {
	name := "Scenario 7: Statistics"

	if owner == "" {
		return scenarioResult{name, resultInfo, "skipped, no -owner"}
	}

	var resp struct {
		ByStatus map[string]int `json:"by_status"`
	}
	if err := httpGetJSON(ctx, apiBase+"/api/stats?owner_id="+owner, &resp); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if len(resp.ByStatus) == 0 {
		return scenarioResult{name, resultFail, "empty by_status, expected at least the scenario 4 approval"}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("%d statuses", len(resp.ByStatus))}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// messageRecord is the subset of the stored message the scenarios inspect.
type messageRecord struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	DecidedAt string `json:"decided_at"`
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s.%d", prefix, time.Now().UnixNano())
}

// pollRecord fetches the stored message until it has a decided status or
// the context expires.
func pollRecord(ctx context.Context, apiBase, messageID string) (*messageRecord, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		rec, err := fetchRecord(ctx, apiBase, messageID)
		if err == nil && rec.Status != "pending" {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return nil, fmt.Errorf("record %s never appeared: %v", messageID, err)
			}
			return nil, fmt.Errorf("record %s still pending at deadline", messageID)
		case <-ticker.C:
		}
	}
}

func fetchRecord(ctx context.Context, apiBase, messageID string) (*messageRecord, error) {
	var rec messageRecord
	if err := httpGetJSON(ctx, apiBase+"/api/messages/"+messageID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func httpGetExpectOK(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func httpGetJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
