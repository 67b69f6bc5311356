package vocab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chatwarden/chatwarden/internal/metrics"
	"github.com/chatwarden/chatwarden/internal/policy"
)

// MinBlockedCoOccurrences is the qualification bar: a token starts being
// tracked only once it has appeared in this many of the owner's blocked
// messages.
const MinBlockedCoOccurrences = 3

// minTokenLength excludes tokens of one or two characters.
const minTokenLength = 3

// EventReviewNeeded is published to the owner when a new candidate term
// enters the review queue.
const EventReviewNeeded = "term_review_needed"

// TermStore is the persistence the learner writes candidate terms through.
type TermStore interface {
	Create(ctx context.Context, term *CandidateTerm) error
	Touch(ctx context.Context, ownerID, word string, seenAt time.Time, confidence float64) (bool, error)
	Decide(ctx context.Context, ownerID, word string, decision ReviewStatus, reason string) (bool, error)
}

// CorpusScanner answers frequency questions against the owner's stored
// message history. Scans run off the hot path and may lag the newest
// message by one observation.
type CorpusScanner interface {
	CountBlockedContaining(ctx context.Context, ownerID, token string) (int, error)
	CountContaining(ctx context.Context, ownerID, token string) (int, error)
}

// Notifier pushes owner-facing events; the learner uses it to announce new
// review-queue entries.
type Notifier interface {
	NotifyOwner(ctx context.Context, ownerID, event string, payload interface{}) error
}

// Learner tracks suspicious vocabulary per owner.
type Learner struct {
	terms  TermStore
	corpus CorpusScanner
	notify Notifier
}

// NewLearner wires a learner over its stores. notify may be nil when no
// realtime channel is available; review entries are then silent.
func NewLearner(terms TermStore, corpus CorpusScanner, notify Notifier) *Learner {
	return &Learner{terms: terms, corpus: corpus, notify: notify}
}

// ObserveText observes every distinct qualifying token of one moderated
// text. fromBlocked records whether the source message itself was blocked
// by classification. Per-token failures are logged and skipped so one bad
// token never loses the rest of the message.
func (l *Learner) ObserveText(ctx context.Context, ownerID, text string, fromBlocked bool) {
	seen := make(map[string]bool)
	for _, token := range policy.Tokenize(text) {
		if seen[token] {
			continue
		}
		seen[token] = true
		if len(token) < minTokenLength || Stopword(token) {
			continue
		}
		if err := l.Observe(ctx, ownerID, token, fromBlocked); err != nil {
			log.Printf("[learner] observe %q for owner=%s: %v", token, ownerID, err)
		}
	}
}

// Observe runs the qualification heuristic for one normalized token and
// creates or updates its candidate term. A token qualifies once it appears
// in at least MinBlockedCoOccurrences of the owner's blocked messages; the
// occurrence count of a new term is seeded from that historical count so
// tracking starts at the evidence that triggered it.
func (l *Learner) Observe(ctx context.Context, ownerID, token string, fromBlocked bool) error {
	token = policy.Normalize(token)
	if len(token) < minTokenLength || Stopword(token) {
		return nil
	}

	blocked, err := l.corpus.CountBlockedContaining(ctx, ownerID, token)
	if err != nil {
		return fmt.Errorf("scan blocked corpus: %w", err)
	}
	if blocked < MinBlockedCoOccurrences {
		return nil
	}

	confidence, err := l.confidence(ctx, ownerID, token, blocked)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	updated, err := l.terms.Touch(ctx, ownerID, token, now, confidence)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	term := &CandidateTerm{
		OwnerID:         ownerID,
		Word:            token,
		OccurrenceCount: blocked,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		Confidence:      confidence,
		ReviewStatus:    ReviewPending,
	}
	if err := l.terms.Create(ctx, term); err != nil {
		if errors.Is(err, ErrExists) {
			// Lost a create race; record the observation on the winner.
			_, err = l.terms.Touch(ctx, ownerID, token, now, confidence)
		}
		return err
	}

	metrics.CandidateTermsCreated.Inc()
	log.Printf("[learner] tracking %q for owner=%s (blocked co-occurrences: %d, confidence: %.2f)",
		token, ownerID, blocked, confidence)
	if l.notify != nil {
		payload := map[string]interface{}{
			"word":             term.Word,
			"occurrence_count": term.OccurrenceCount,
			"confidence":       term.Confidence,
			"from_blocked":     fromBlocked,
		}
		if err := l.notify.NotifyOwner(ctx, ownerID, EventReviewNeeded, payload); err != nil {
			log.Printf("[learner] notify owner=%s about %q: %v", ownerID, token, err)
		}
	}
	return nil
}

// confidence estimates how strongly a token associates with blocked
// content: the share of the messages containing it that were blocked.
func (l *Learner) confidence(ctx context.Context, ownerID, token string, blocked int) (float64, error) {
	total, err := l.corpus.CountContaining(ctx, ownerID, token)
	if err != nil {
		return 0, fmt.Errorf("scan corpus: %w", err)
	}
	if total < blocked {
		total = blocked
	}
	if total == 0 {
		return 0, nil
	}
	return float64(blocked) / float64(total), nil
}

// Decide applies the owner's review decision to a pending term. Deciding an
// already-decided term is a no-op, not an error; terms never leave a
// terminal status.
func (l *Learner) Decide(ctx context.Context, ownerID, token string, decision ReviewStatus, reason string) error {
	token = policy.Normalize(token)
	if token == "" {
		return fmt.Errorf("vocab: decide: empty token")
	}

	applied, err := l.terms.Decide(ctx, ownerID, token, decision, reason)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("[learner] decision for %q owner=%s ignored: already decided", token, ownerID)
		return nil
	}
	log.Printf("[learner] term %q owner=%s decided: %s", token, ownerID, decision)
	return nil
}
