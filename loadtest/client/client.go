// Package client provides a reusable webhook load test client for the
// chatwarden gateway. It builds provider-shaped delivery payloads, signs
// them with the app secret (the same HMAC-SHA256 scheme the gateway
// verifies), and tracks per-delivery performance metrics.
package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ---------------------------------------------------------------------------
// Delivery payload types (local equivalents of the gateway's webhook shapes)
// ---------------------------------------------------------------------------

// Message is one entry of a webhook delivery.
type Message struct {
	ID        string       `json:"id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Timestamp int64        `json:"timestamp"`
	Kind      string       `json:"kind"`
	Text      *TextPayload `json:"text,omitempty"`
}

// TextPayload carries a text body.
type TextPayload struct {
	Body string `json:"body"`
}

type delivery struct {
	Messages []Message `json:"messages"`
}

// TextMessage builds one text entry with the current time as its origin
// timestamp.
func TextMessage(id, from, to, body string) Message {
	return Message{
		ID:        id,
		From:      from,
		To:        to,
		Timestamp: time.Now().Unix(),
		Kind:      "text",
		Text:      &TextPayload{Body: body},
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Result is the outcome of one delivery POST.
type Result struct {
	StatusCode int
	Latency    time.Duration
}

// Client posts signed deliveries to one gateway webhook endpoint. It is safe
// for concurrent use by many worker goroutines.
type Client struct {
	http       *http.Client
	webhookURL string
	appSecret  string
}

// New creates a load test client for the given webhook URL. The timeout
// must cover the gateway's synchronous processing, which can span several
// adapter calls per delivery.
func New(webhookURL, appSecret string, timeout time.Duration) *Client {
	return &Client{
		http:       &http.Client{Timeout: timeout},
		webhookURL: webhookURL,
		appSecret:  appSecret,
	}
}

// Sign computes the signature header value for a payload body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver signs and POSTs one delivery carrying the given messages. The
// returned Result is valid whenever err is nil, including for non-2xx
// responses — callers decide what counts as failure.
func (c *Client) Deliver(ctx context.Context, msgs ...Message) (Result, error) {
	body, err := json.Marshal(delivery{Messages: msgs})
	if err != nil {
		return Result{}, fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", Sign(c.appSecret, body))

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{}, fmt.Errorf("deliver: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Latency: latency}, nil
}

// DeliverUnsigned POSTs a delivery with a deliberately wrong signature, for
// probing the rejection path.
func (c *Client) DeliverUnsigned(ctx context.Context, msgs ...Message) (Result, error) {
	body, err := json.Marshal(delivery{Messages: msgs})
	if err != nil {
		return Result{}, fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", "sha256=0000000000000000000000000000000000000000000000000000000000000000")

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{}, fmt.Errorf("deliver: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Latency: latency}, nil
}

// Handshake performs the GET verification handshake with the given token and
// verifies the gateway echoes the challenge.
func (c *Client) Handshake(ctx context.Context, verifyToken string) error {
	challenge := fmt.Sprintf("probe-%d", time.Now().UnixNano())
	q := url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {verifyToken},
		"hub.challenge":    {challenge},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.webhookURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("handshake: status %d", resp.StatusCode)
	}
	echoed, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("handshake: read echo: %w", err)
	}
	if string(echoed) != challenge {
		return fmt.Errorf("handshake: echoed %q, want %q", echoed, challenge)
	}
	return nil
}
