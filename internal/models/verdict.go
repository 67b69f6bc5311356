package models

import "time"

// Status is the moderation state of a message. Pending is transient while
// classification runs; the other three are terminal once persisted.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusBlocked  Status = "blocked"
	StatusError    Status = "error"
)

// ValidStatus reports whether s is a known moderation status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusBlocked, StatusError:
		return true
	}
	return false
}

// Reason explains a blocked or errored verdict. Approved messages always
// carry ReasonNone.
type Reason string

const (
	ReasonNone                 Reason = "none"
	ReasonCustomBlockedWord    Reason = "custom_blocked_word"
	ReasonHateSpeech           Reason = "hate_speech"
	ReasonNudity               Reason = "nudity"
	ReasonViolence             Reason = "violence"
	ReasonExplicitContent      Reason = "explicit_content"
	ReasonClassificationFailed Reason = "classification_failed"
)

// ValidReason reports whether r is a known verdict reason.
func ValidReason(r Reason) bool {
	switch r {
	case ReasonNone, ReasonCustomBlockedWord, ReasonHateSpeech, ReasonNudity,
		ReasonViolence, ReasonExplicitContent, ReasonClassificationFailed:
		return true
	}
	return false
}

// CategorySignal is one raw detection score retained for audit. Detected
// means the category cleared its report threshold, which is looser than the
// block threshold — a detected signal on an approved message is a flag, not
// a verdict.
type CategorySignal struct {
	Confidence float64 `json:"confidence"`
	Detected   bool    `json:"detected"`
}

// Signals holds the raw per-category detection scores for a message,
// retained regardless of the verdict.
type Signals struct {
	HateSpeech *CategorySignal `json:"hate_speech,omitempty"`
	Nudity     *CategorySignal `json:"nudity,omitempty"`
	Violence   *CategorySignal `json:"violence,omitempty"`
	Explicit   *CategorySignal `json:"explicit,omitempty"`

	// MatchedTerm is the custom allow/block list entry that decided the
	// verdict, when one did.
	MatchedTerm string `json:"matched_term,omitempty"`

	// BlockConfidence is the confidence attached to the final verdict: 1.0
	// for custom word hits, the category confidence for AI blocks, and the
	// maximum across qualifying categories when several exceed threshold.
	BlockConfidence float64 `json:"block_confidence,omitempty"`

	// FailureDetail describes the adapter failure behind an error verdict.
	FailureDetail string `json:"failure_detail,omitempty"`
}

// Verdict is the moderation outcome attached to an InboundMessage.
//
// Invariants: StatusBlocked and StatusError carry exactly one non-none
// Reason; StatusApproved carries ReasonNone.
type Verdict struct {
	Status    Status    `json:"status"`
	Reason    Reason    `json:"reason"`
	Signals   Signals   `json:"signals"`
	DecidedAt time.Time `json:"decided_at"`
}

// Approved constructs an approved verdict carrying the given audit signals.
func Approved(signals Signals) Verdict {
	return Verdict{Status: StatusApproved, Reason: ReasonNone, Signals: signals, DecidedAt: time.Now().UTC()}
}

// Blocked constructs a blocked verdict for the given reason.
func Blocked(reason Reason, signals Signals) Verdict {
	return Verdict{Status: StatusBlocked, Reason: reason, Signals: signals, DecidedAt: time.Now().UTC()}
}

// Errored constructs an error verdict with ReasonClassificationFailed.
func Errored(detail string) Verdict {
	return Verdict{
		Status:    StatusError,
		Reason:    ReasonClassificationFailed,
		Signals:   Signals{FailureDetail: detail},
		DecidedAt: time.Now().UTC(),
	}
}
