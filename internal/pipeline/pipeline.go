// Package pipeline orchestrates moderation for one inbound message at a
// time: owner resolution, duplicate filtering, kind-specific classification,
// verdict persistence, and the post-verdict side effects. Messages are
// independent; any number of Process calls may run concurrently, including
// for the same owner. Exactly-once verdicts are enforced by the store, not
// by coordination here.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatwarden/chatwarden/internal/classify"
	"github.com/chatwarden/chatwarden/internal/message"
	"github.com/chatwarden/chatwarden/internal/messaging"
	"github.com/chatwarden/chatwarden/internal/metrics"
	"github.com/chatwarden/chatwarden/internal/models"
	"github.com/chatwarden/chatwarden/internal/outbound"
	"github.com/chatwarden/chatwarden/internal/policy"
	"github.com/chatwarden/chatwarden/internal/vocab"
)

// Disposition is the outcome of processing one webhook message, as reported
// back to the boundary. Only Failed withholds the webhook acknowledgement.
type Disposition int

const (
	// Processed: a verdict was persisted and side effects ran.
	Processed Disposition = iota
	// Dropped: no owner resolves for the inbound address; nothing stored.
	Dropped
	// Duplicate: the message was already fully processed earlier.
	Duplicate
	// Failed: processing could not complete; the provider should redeliver.
	Failed
)

func (d Disposition) String() string {
	switch d {
	case Processed:
		return "processed"
	case Dropped:
		return "dropped"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Verdict persistence retry policy. The webhook delivery is not
// acknowledged until the verdict is durable, so the retries here trade a
// little latency against a provider redelivery cycle.
const (
	persistAttempts = 3
	persistBackoff  = 250 * time.Millisecond
)

// AccountStore resolves owners and their moderation settings.
type AccountStore interface {
	FindOwnerByAddress(ctx context.Context, address string) (*models.Owner, error)
	GetModerationConfig(ctx context.Context, ownerID string) (models.ModerationConfig, error)
}

// MessageStore persists messages and verdicts.
type MessageStore interface {
	Insert(ctx context.Context, m *models.InboundMessage) error
	Get(ctx context.Context, id string) (*message.Record, error)
	AttachTranscript(ctx context.Context, id string, tr models.Transcript) error
	CompleteVerdict(ctx context.Context, id string, v models.Verdict) error
	RecordReply(ctx context.Context, id, providerMessageID, sendError string) error
}

// DedupFilter remembers processed message ids.
type DedupFilter interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Mark(ctx context.Context, messageID string) error
}

// Transcriber converts voice notes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*classify.Transcription, error)
}

// TextClassifier scores text content.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (*classify.TextClassification, error)
}

// MediaClassifier scores image and video content.
type MediaClassifier interface {
	ClassifyImage(ctx context.Context, media []byte, mimeType string) (*classify.MediaClassification, error)
	ClassifyVideo(ctx context.Context, media []byte, mimeType string) (*classify.MediaClassification, error)
}

// MediaFetcher downloads attachment bytes from the origin provider.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Sender delivers outbound messages, used here for block notices.
type Sender interface {
	Send(ctx context.Context, destination, text string) (string, error)
}

// Notifier publishes realtime owner events.
type Notifier interface {
	NotifyOwner(ctx context.Context, ownerID, event string, payload interface{}) error
}

// ObservePublisher enqueues vocabulary observation tasks.
type ObservePublisher interface {
	PublishObserve(data []byte) error
}

// Deps wires a Pipeline. Sender, Notifier and Observer may be nil; the
// corresponding side effect is then skipped with a log line.
type Deps struct {
	Accounts        AccountStore
	Store           MessageStore
	Dedup           DedupFilter
	Transcriber     Transcriber
	TextClassifier  TextClassifier
	MediaClassifier MediaClassifier
	MediaFetcher    MediaFetcher
	Sender          Sender
	Notifier        Notifier
	Observer        ObservePublisher
	Logger          *slog.Logger
}

// Pipeline moderates inbound messages.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a pipeline from its dependencies.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, logger: logger}
}

// Process moderates one inbound message end to end. It returns a non-nil
// error only alongside Failed; the webhook boundary then withholds the
// acknowledgement so the provider redelivers.
func (p *Pipeline) Process(ctx context.Context, msg *models.InboundMessage) (Disposition, error) {
	logger := p.logger.With("message_id", msg.ID, "kind", string(msg.Kind))

	owner, err := p.deps.Accounts.FindOwnerByAddress(ctx, msg.To)
	if err != nil {
		return Failed, fmt.Errorf("pipeline: resolve owner: %w", err)
	}
	if owner == nil {
		logger.Warn("dropping message for unknown inbound address", "to", msg.To)
		metrics.MessagesDropped.WithLabelValues("unknown_owner").Inc()
		return Dropped, nil
	}
	msg.OwnerID = owner.ID
	logger = logger.With("owner_id", owner.ID)

	seen, err := p.deps.Dedup.Seen(ctx, msg.ID)
	if err != nil {
		// The store's unique key still guards; the fast path is just gone.
		logger.Warn("dedup check failed", "error", err)
	} else if seen {
		metrics.MessagesDropped.WithLabelValues("duplicate").Inc()
		return Duplicate, nil
	}

	cfg, err := p.deps.Accounts.GetModerationConfig(ctx, owner.ID)
	if err != nil {
		return Failed, fmt.Errorf("pipeline: load moderation config: %w", err)
	}

	if err := p.deps.Store.Insert(ctx, msg); err != nil {
		if !errors.Is(err, message.ErrDuplicate) {
			return Failed, fmt.Errorf("pipeline: insert: %w", err)
		}
		// Redelivery of a stored message. A decided row only needs its
		// dedup mark refreshed; a pending row means an earlier attempt died
		// mid-classification, so resume it.
		rec, err := p.deps.Store.Get(ctx, msg.ID)
		if err != nil {
			return Failed, fmt.Errorf("pipeline: load redelivered message: %w", err)
		}
		if rec.Status != models.StatusPending {
			p.markSeen(ctx, logger, msg.ID)
			metrics.MessagesDropped.WithLabelValues("duplicate").Inc()
			return Duplicate, nil
		}
		logger.Info("resuming pending message from redelivery")
	}

	verdict := p.decide(ctx, logger, msg, cfg)

	err = p.persistVerdict(ctx, msg.ID, verdict)
	if errors.Is(err, message.ErrNotPending) {
		// A concurrent delivery of the same message decided first and owns
		// the side effects.
		p.markSeen(ctx, logger, msg.ID)
		return Duplicate, nil
	}
	if err != nil {
		return Failed, fmt.Errorf("pipeline: persist verdict: %w", err)
	}
	p.markSeen(ctx, logger, msg.ID)

	metrics.MessagesTotal.WithLabelValues(string(verdict.Status), string(verdict.Reason)).Inc()
	logger.Info("message moderated", "status", string(verdict.Status), "reason", string(verdict.Reason))

	p.runSideEffects(ctx, logger, msg, cfg, verdict)
	return Processed, nil
}

// decide runs the kind-specific adapter calls and hands their output to
// the policy evaluator. Adapter failures surface as error verdicts, never
// as retries.
func (p *Pipeline) decide(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage, cfg models.ModerationConfig) models.Verdict {
	ev := policy.NewEvaluator(cfg)

	switch msg.Kind {
	case models.KindDocument:
		return ev.Evaluate(models.KindDocument, "", policy.Classification{})

	case models.KindText:
		return p.evaluateText(ctx, ev, msg.Kind, msg.Text)

	case models.KindAudio:
		if detail := p.transcribe(ctx, logger, msg); detail != "" {
			return ev.Evaluate(msg.Kind, "", policy.FailedClassification(detail))
		}
		return p.evaluateText(ctx, ev, msg.Kind, msg.Content())

	case models.KindImage, models.KindVideo:
		mc, detail := p.classifyMedia(ctx, msg)
		if detail != "" {
			return ev.Evaluate(msg.Kind, "", policy.FailedClassification(detail))
		}
		return ev.Evaluate(msg.Kind, "", policy.Classification{Media: mc})
	}

	return models.Errored(fmt.Sprintf("unsupported message kind %q", msg.Kind))
}

// evaluateText applies the owner's word lists first and consults the
// classifier only when they do not decide, so a custom-list hit costs no
// provider call.
func (p *Pipeline) evaluateText(ctx context.Context, ev *policy.Evaluator, kind models.Kind, content string) models.Verdict {
	if verdict, decided := ev.EvaluateWords(content); decided {
		return verdict
	}

	start := time.Now()
	tc, err := p.deps.TextClassifier.Classify(ctx, content)
	observeAdapter("classify_text", start, err)
	if err != nil {
		return ev.Evaluate(kind, content, policy.FailedClassification(err.Error()))
	}
	return ev.Evaluate(kind, content, policy.Classification{Text: tc})
}

// transcribe fetches the voice note and attaches its transcript to the
// message. A non-empty return is the failure detail; the caller converts it
// to an error verdict without falling through to text policy.
func (p *Pipeline) transcribe(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage) string {
	if msg.Media == nil {
		return "audio message without media reference"
	}

	audio, mimeType, err := p.fetchMedia(ctx, msg.Media.ID)
	if err != nil {
		return err.Error()
	}

	start := time.Now()
	tr, err := p.deps.Transcriber.Transcribe(ctx, audio, mimeType)
	observeAdapter("transcribe", start, err)
	if err != nil {
		return err.Error()
	}

	msg.Transcript = &models.Transcript{
		Text:       tr.Text,
		Language:   tr.Language,
		Confidence: tr.Confidence,
	}
	if err := p.deps.Store.AttachTranscript(ctx, msg.ID, *msg.Transcript); err != nil {
		logger.Warn("attach transcript failed", "error", err)
	}
	return ""
}

func (p *Pipeline) classifyMedia(ctx context.Context, msg *models.InboundMessage) (*classify.MediaClassification, string) {
	if msg.Media == nil {
		return nil, fmt.Sprintf("%s message without media reference", msg.Kind)
	}

	media, mimeType, err := p.fetchMedia(ctx, msg.Media.ID)
	if err != nil {
		return nil, err.Error()
	}

	start := time.Now()
	var mc *classify.MediaClassification
	if msg.Kind == models.KindImage {
		mc, err = p.deps.MediaClassifier.ClassifyImage(ctx, media, mimeType)
		observeAdapter("classify_image", start, err)
	} else {
		mc, err = p.deps.MediaClassifier.ClassifyVideo(ctx, media, mimeType)
		observeAdapter("classify_video", start, err)
	}
	if err != nil {
		return nil, err.Error()
	}
	return mc, ""
}

func (p *Pipeline) fetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	start := time.Now()
	data, mimeType, err := p.deps.MediaFetcher.Fetch(ctx, mediaID)
	observeAdapter("media_fetch", start, err)
	return data, mimeType, err
}

// persistVerdict retries transient store failures with doubling backoff.
// ErrNotPending and ErrNotFound are returned immediately: retrying cannot
// change either.
func (p *Pipeline) persistVerdict(ctx context.Context, id string, v models.Verdict) error {
	backoff := persistBackoff
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		err = p.deps.Store.CompleteVerdict(ctx, id, v)
		if err == nil || errors.Is(err, message.ErrNotPending) || errors.Is(err, message.ErrNotFound) {
			return err
		}
		if attempt == persistAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *Pipeline) markSeen(ctx context.Context, logger *slog.Logger, messageID string) {
	if err := p.deps.Dedup.Mark(ctx, messageID); err != nil {
		logger.Warn("dedup mark failed", "error", err)
	}
}

// runSideEffects handles everything after the verdict is durable: the
// block notice, the realtime owner event, and the learner task. All are
// best-effort and none can change the verdict.
func (p *Pipeline) runSideEffects(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage, cfg models.ModerationConfig, verdict models.Verdict) {
	if verdict.Status == models.StatusBlocked && cfg.AutoReplyOnBlock {
		p.sendBlockNotice(ctx, logger, msg, verdict.Reason)
	}

	p.notifyOwner(ctx, logger, msg, verdict)

	if msg.Kind == models.KindText && observeEligible(verdict) {
		p.publishObserve(logger, msg, verdict)
	}
}

func (p *Pipeline) sendBlockNotice(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage, reason models.Reason) {
	if p.deps.Sender == nil {
		logger.Warn("no sender configured, skipping block notice")
		return
	}

	start := time.Now()
	providerID, err := p.deps.Sender.Send(ctx, msg.Sender, outbound.NoticeForReason(reason))
	observeAdapter("send", start, err)

	outcome, sendErr := "sent", ""
	if err != nil {
		outcome, sendErr = "failed", err.Error()
		logger.Warn("block notice failed", "error", err)
	}
	metrics.AutoReplies.WithLabelValues(outcome).Inc()

	if err := p.deps.Store.RecordReply(ctx, msg.ID, providerID, sendErr); err != nil {
		logger.Warn("record reply outcome failed", "error", err)
	}
}

func (p *Pipeline) notifyOwner(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage, verdict models.Verdict) {
	if p.deps.Notifier == nil {
		return
	}

	payload := map[string]interface{}{
		"message_id": msg.ID,
		"kind":       msg.Kind,
		"sender":     msg.Sender,
		"status":     verdict.Status,
		"reason":     verdict.Reason,
	}
	if err := p.deps.Notifier.NotifyOwner(ctx, msg.OwnerID, messaging.EventMessageModerated, payload); err != nil {
		logger.Warn("owner notification failed", "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(messaging.EventMessageModerated).Inc()
}

func (p *Pipeline) publishObserve(logger *slog.Logger, msg *models.InboundMessage, verdict models.Verdict) {
	if p.deps.Observer == nil {
		return
	}

	task := vocab.ObserveTask{
		OwnerID:     msg.OwnerID,
		MessageID:   msg.ID,
		Text:        msg.Text,
		FromBlocked: verdict.Status == models.StatusBlocked,
	}
	data, err := json.Marshal(task)
	if err == nil {
		err = p.deps.Observer.PublishObserve(data)
	}
	if err != nil {
		logger.Warn("publish observe task failed", "error", err)
	}
}

// observeEligible reports whether the learner should see the message's
// text: everything except custom-list blocks and processing errors.
func observeEligible(v models.Verdict) bool {
	switch v.Status {
	case models.StatusApproved:
		return true
	case models.StatusBlocked:
		return v.Reason != models.ReasonCustomBlockedWord
	}
	return false
}

func observeAdapter(adapter string, start time.Time, err error) {
	metrics.AdapterLatency.WithLabelValues(adapter).Observe(time.Since(start).Seconds())
	if f, ok := classify.AsFailure(err); ok {
		metrics.AdapterFailures.WithLabelValues(adapter, string(f.Kind)).Inc()
	}
}
