package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTextTimeout bounds a single text classification call.
const DefaultTextTimeout = 10 * time.Second

// Category is one labelled dimension of a text classification with its
// confidence in [0,1].
type Category struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// TextClassification is the classifier's output for one piece of text. The
// provider guarantees at minimum a hate-speech dimension.
type TextClassification struct {
	Categories []Category `json:"categories"`
}

// Category returns the named category score, or nil if the classifier did
// not report that dimension. Lookup is case-insensitive.
func (c *TextClassification) Category(name string) *Category {
	for i := range c.Categories {
		if strings.EqualFold(c.Categories[i].Name, name) {
			return &c.Categories[i]
		}
	}
	return nil
}

// TextClassifier calls the toxicity classification provider.
type TextClassifier struct {
	http    *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
}

// TextClassifierConfig holds the text classification provider settings.
type TextClassifierConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewTextClassifier creates a text classification adapter.
func NewTextClassifier(cfg TextClassifierConfig) *TextClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTextTimeout
	}
	return &TextClassifier{
		http:    &http.Client{},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
	}
}

// Classify submits text and returns the per-category scores.
func (c *TextClassifier) Classify(ctx context.Context, text string) (*TextClassification, error) {
	const op = "classify_text"

	if strings.TrimSpace(text) == "" {
		return nil, InvalidInput(op, "empty text")
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, &Failure{Kind: FailInvalidInput, Op: op, Detail: "encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/moderations", bytes.NewReader(payload))
	if err != nil {
		return nil, FailureFromError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, FailureFromError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, FailureFromStatus(op, resp.StatusCode)
	}

	var out TextClassification
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Failure{Kind: FailUpstreamError, Op: op, Detail: "decode response", Err: err}
	}
	return &out, nil
}
