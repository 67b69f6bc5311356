// Package outbound delivers messages back to chat participants through the
// provider's send API. It carries both ordinary replies and the automated
// moderation notices sent when a message is blocked.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatwarden/chatwarden/internal/classify"
	"github.com/chatwarden/chatwarden/internal/models"
)

// DefaultSendTimeout bounds a single outbound send call.
const DefaultSendTimeout = 10 * time.Second

// Sender submits outbound text messages to the provider. It shares the
// adapter failure taxonomy: every error is a *classify.Failure and nothing
// is retried here.
type Sender struct {
	http    *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
}

// SenderConfig holds the outbound provider settings.
type SenderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewSender creates an outbound message adapter.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	return &Sender{
		http:    &http.Client{},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
	}
}

// Send delivers text to the destination address and returns the provider's
// message id for the delivery.
func (s *Sender) Send(ctx context.Context, destination, text string) (string, error) {
	const op = "send"

	if strings.TrimSpace(destination) == "" {
		return "", classify.InvalidInput(op, "empty destination")
	}
	if strings.TrimSpace(text) == "" {
		return "", classify.InvalidInput(op, "empty message text")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"to":   destination,
		"type": "text",
		"text": map[string]string{"body": text},
	})
	if err != nil {
		return "", classify.InvalidInput(op, "encode request: "+err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", classify.FailureFromError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", classify.FailureFromError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return "", classify.FailureFromStatus(op, resp.StatusCode)
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", classify.FailureFromError(op, err)
	}
	return out.MessageID, nil
}

// noticeTemplates maps block reasons to the auto-reply sent to the original
// sender. The mapping is total over blockable reasons so a blocked verdict
// always has a notice.
var noticeTemplates = map[models.Reason]string{
	models.ReasonCustomBlockedWord: "Your message was not delivered: it contains a term this recipient does not accept.",
	models.ReasonHateSpeech:        "Your message was not delivered: it was identified as hate speech.",
	models.ReasonNudity:            "Your media was not delivered: it was identified as containing nudity.",
	models.ReasonViolence:          "Your media was not delivered: it was identified as containing violent content.",
	models.ReasonExplicitContent:   "Your media was not delivered: it was identified as explicit content.",
}

// NoticeForReason returns the auto-reply text for a block reason. Unknown
// reasons fall back to a generic notice rather than going silent.
func NoticeForReason(reason models.Reason) string {
	if text, ok := noticeTemplates[reason]; ok {
		return text
	}
	return "Your message was not delivered: it did not meet this recipient's content policy."
}
