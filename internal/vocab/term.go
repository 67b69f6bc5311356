// Package vocab implements adaptive vocabulary learning. The learner
// watches tokens from moderated text, tracks the ones that keep appearing
// in an owner's blocked history as candidate terms, and hands them to the
// owner for review. A confirmed term joins the owner's custom block list on
// the next config load; a decided term is never revisited.
package vocab

import "time"

// ReviewStatus is the lifecycle state of a candidate term. Pending is the
// only non-terminal state; a term moves out of it exactly once, by owner
// decision.
type ReviewStatus string

const (
	ReviewPending             ReviewStatus = "pending"
	ReviewConfirmedHateSpeech ReviewStatus = "confirmed_hate_speech"
	ReviewRejected            ReviewStatus = "rejected"
	ReviewIgnored             ReviewStatus = "ignored"
)

// ValidStatus reports whether s is a known review status.
func ValidStatus(s ReviewStatus) bool {
	switch s {
	case ReviewPending, ReviewConfirmedHateSpeech, ReviewRejected, ReviewIgnored:
		return true
	}
	return false
}

// ValidDecision reports whether s is a status an owner decision may move a
// pending term to.
func ValidDecision(s ReviewStatus) bool {
	return ValidStatus(s) && s != ReviewPending
}

// CandidateTerm is one tracked token for one owner. OccurrenceCount starts
// at the token's historical blocked-message count when tracking begins and
// grows with every further observation.
type CandidateTerm struct {
	OwnerID         string       `json:"owner_id"`
	Word            string       `json:"word"`
	OccurrenceCount int          `json:"occurrence_count"`
	FirstSeenAt     time.Time    `json:"first_seen_at"`
	LastSeenAt      time.Time    `json:"last_seen_at"`
	Confidence      float64      `json:"confidence"`
	ReviewStatus    ReviewStatus `json:"review_status"`
	DecisionReason  string       `json:"decision_reason,omitempty"`
	DecidedAt       *time.Time   `json:"decided_at,omitempty"`
}
