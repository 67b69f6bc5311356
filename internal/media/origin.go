// Package media downloads message attachments from the provider's media
// origin. Attachments are referenced by id in webhook payloads; fetching is
// a two-step exchange: resolve the id to a short-lived download URL, then
// retrieve the bytes.
package media

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatwarden/chatwarden/internal/classify"
)

// DefaultFetchTimeout bounds the full resolve-and-download exchange.
const DefaultFetchTimeout = 15 * time.Second

// DefaultMaxBytes caps a single download. Larger attachments fail as
// invalid input before the body is read to the end.
const DefaultMaxBytes = 64 << 20

// Origin fetches attachment bytes from the provider.
type Origin struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	timeout  time.Duration
	maxBytes int64
}

// OriginConfig holds the media origin settings.
type OriginConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	MaxBytes int64
}

// NewOrigin creates a media fetch adapter.
func NewOrigin(cfg OriginConfig) *Origin {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Origin{
		http:     &http.Client{},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
	}
}

// Fetch resolves a media id and downloads its content. The returned mime
// type is the provider's, which may be more specific than the one carried
// in the webhook payload.
func (o *Origin) Fetch(ctx context.Context, mediaID string) ([]byte, string, error) {
	const op = "media_fetch"

	if strings.TrimSpace(mediaID) == "" {
		return nil, "", classify.InvalidInput(op, "empty media id")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	url, mimeType, err := o.resolve(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}

	data, err := o.download(ctx, url)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}

func (o *Origin) resolve(ctx context.Context, mediaID string) (url, mimeType string, err error) {
	const op = "media_resolve"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/v1/media/"+mediaID, nil)
	if err != nil {
		return "", "", classify.FailureFromError(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return "", "", classify.FailureFromError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", "", classify.FailureFromStatus(op, resp.StatusCode)
	}

	var out struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", classify.FailureFromError(op, err)
	}
	if out.URL == "" {
		return "", "", classify.FailureFromStatus(op, http.StatusBadGateway)
	}
	return out.URL, out.MimeType, nil
}

func (o *Origin) download(ctx context.Context, url string) ([]byte, error) {
	const op = "media_download"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, classify.FailureFromError(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, classify.FailureFromError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, classify.FailureFromStatus(op, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, o.maxBytes+1))
	if err != nil {
		return nil, classify.FailureFromError(op, err)
	}
	if int64(len(data)) > o.maxBytes {
		return nil, classify.InvalidInput(op, "attachment exceeds download cap")
	}
	return data, nil
}
