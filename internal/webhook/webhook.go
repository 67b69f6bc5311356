// Package webhook is the provider-facing ingress: the subscription
// handshake, HMAC verification of delivery payloads, and fan-out of the
// contained messages into the moderation pipeline. A delivery is
// acknowledged only once every message in it has a durable outcome, so an
// unpersistable verdict turns into a 500 and a provider redelivery.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chatwarden/chatwarden/internal/metrics"
	"github.com/chatwarden/chatwarden/internal/models"
	"github.com/chatwarden/chatwarden/internal/pipeline"
	"github.com/chatwarden/chatwarden/internal/ratelimit"
)

const (
	// maxBodyBytes caps a delivery payload. Deliveries carry metadata and
	// text only; media bytes never transit the webhook.
	maxBodyBytes = 1 << 20
	// maxTextBytes caps one text body, matching the provider's own limit.
	maxTextBytes = 4096

	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// Processor runs one normalized message through moderation.
type Processor interface {
	Process(ctx context.Context, msg *models.InboundMessage) (pipeline.Disposition, error)
}

// FailureLimiter tracks signature failures per source address.
type FailureLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Handler serves the provider webhook endpoint.
type Handler struct {
	verifyToken string
	appSecret   string
	processor   Processor
	limiter     FailureLimiter
	logger      *slog.Logger
}

// NewHandler creates the webhook handler. verifyToken answers the
// subscription handshake; appSecret keys the delivery signature.
func NewHandler(verifyToken, appSecret string, processor Processor, limiter FailureLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		processor:   processor,
		limiter:     limiter,
		logger:      logger,
	}
}

// Register mounts the webhook endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.serveVerification(w, r)
	case http.MethodPost:
		h.serveDelivery(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// serveVerification answers the provider's subscription handshake by
// echoing the challenge. The handshake is idempotent; the provider may
// probe at any time.
func (h *Handler) serveVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken != "" && q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"), "source", sourceIP(r))
	w.WriteHeader(http.StatusForbidden)
}

func (h *Handler) serveDelivery(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("delivery_id", uuid.NewString())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		logger.Warn("reading delivery body failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		metrics.WebhookRejects.WithLabelValues("malformed").Inc()
		logger.Warn("delivery body over size cap", "source", sourceIP(r))
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	if !h.validSignature(body, r.Header.Get(signatureHeader)) {
		h.recordSignatureFailure(r.Context(), logger, r)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var delivery Delivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		metrics.WebhookRejects.WithLabelValues("malformed").Inc()
		logger.Warn("malformed delivery body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	msgs := make([]*models.InboundMessage, 0, len(delivery.Messages))
	for _, dm := range delivery.Messages {
		msg, err := dm.normalize()
		if err != nil {
			// One bad entry does not poison the delivery.
			metrics.MessagesDropped.WithLabelValues("invalid").Inc()
			logger.Warn("dropping invalid message entry", "message_id", dm.ID, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}

	// Messages are independent, so the whole delivery runs in parallel. The
	// ack waits for all of them: the provider retries the whole delivery and
	// the pipeline's dedup absorbs the replays of whatever did succeed.
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed bool
	)
	for _, msg := range msgs {
		wg.Add(1)
		go func(msg *models.InboundMessage) {
			defer wg.Done()
			disp, err := h.processor.Process(r.Context(), msg)
			if err != nil {
				logger.Error("message processing failed", "message_id", msg.ID, "error", err)
			}
			if disp == pipeline.Failed {
				mu.Lock()
				failed = true
				mu.Unlock()
			}
		}(msg)
	}
	wg.Wait()

	if failed {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// validSignature checks the hex HMAC-SHA256 of the raw body against the
// signature header. An unset app secret rejects everything rather than
// accepting everything.
func (h *Handler) validSignature(body []byte, header string) bool {
	if h.appSecret == "" {
		return false
	}
	encoded, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	claimed, err := hex.DecodeString(encoded)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	return hmac.Equal(claimed, mac.Sum(nil))
}

func (h *Handler) recordSignatureFailure(ctx context.Context, logger *slog.Logger, r *http.Request) {
	metrics.WebhookRejects.WithLabelValues("bad_signature").Inc()

	source := sourceIP(r)
	if h.limiter == nil {
		logger.Warn("rejected delivery with bad signature", "source", source)
		return
	}
	allowed, err := h.limiter.Allow(ctx, source, ratelimit.RuleSignatureFailure)
	if err != nil {
		logger.Warn("signature failure counter unavailable", "error", err)
	}
	logger.Warn("rejected delivery with bad signature", "source", source, "within_budget", allowed)
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Delivery is one provider webhook payload: a batch of messages.
type Delivery struct {
	Messages []DeliveryMessage `json:"messages"`
}

// DeliveryMessage is a message entry as the provider serializes it. The
// kind selects which payload field must be present.
type DeliveryMessage struct {
	ID        string        `json:"id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Timestamp int64         `json:"timestamp"` // unix seconds at origin
	Kind      string        `json:"kind"`
	Text      *TextPayload  `json:"text,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
}

// TextPayload carries a text body.
type TextPayload struct {
	Body string `json:"body"`
}

// MediaPayload references media held by the origin provider.
type MediaPayload struct {
	ID          string `json:"id"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// normalize validates one delivery entry and converts it to the internal
// message shape. The origin timestamp is kept; only a missing one falls
// back to the local clock.
func (m DeliveryMessage) normalize() (*models.InboundMessage, error) {
	if m.ID == "" {
		return nil, errors.New("missing message id")
	}
	if m.From == "" || m.To == "" {
		return nil, errors.New("missing addressing")
	}
	kind := models.Kind(m.Kind)
	if !models.ValidKind(kind) {
		return nil, fmt.Errorf("unknown kind %q", m.Kind)
	}

	msg := &models.InboundMessage{
		ID:         m.ID,
		To:         m.To,
		Sender:     m.From,
		Kind:       kind,
		ReceivedAt: time.Unix(m.Timestamp, 0).UTC(),
	}
	if m.Timestamp <= 0 {
		msg.ReceivedAt = time.Now().UTC()
	}

	switch kind {
	case models.KindText:
		if m.Text == nil || m.Text.Body == "" {
			return nil, errors.New("text message without body")
		}
		if len(m.Text.Body) > maxTextBytes {
			return nil, fmt.Errorf("text body over %d bytes", maxTextBytes)
		}
		if !utf8.ValidString(m.Text.Body) {
			return nil, errors.New("text body is not valid UTF-8")
		}
		msg.Text = m.Text.Body
	default:
		if m.Media == nil || m.Media.ID == "" {
			return nil, fmt.Errorf("%s message without media reference", kind)
		}
		msg.Media = &models.MediaRef{
			ID:          m.Media.ID,
			MimeType:    m.Media.MimeType,
			SizeBytes:   m.Media.SizeBytes,
			DurationSec: m.Media.DurationSec,
		}
	}
	return msg, nil
}
