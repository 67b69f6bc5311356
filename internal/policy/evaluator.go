// Package policy turns classification output and per-owner settings into
// moderation verdicts. Evaluation is pure: no I/O, no retries, and the same
// inputs always produce the same verdict. Custom word lists are consulted
// before any classifier signal, and an allow-word match overrides every
// other signal.
package policy

import (
	"fmt"

	"github.com/chatwarden/chatwarden/internal/classify"
	"github.com/chatwarden/chatwarden/internal/models"
)

// Block and report thresholds. A category blocks only when its confidence
// strictly exceeds the block threshold; hate speech between the flag and
// block thresholds is recorded on the verdict but the message still passes.
const (
	hateBlockThreshold     = 0.7
	hateFlagThreshold      = 0.5
	nudityBlockThreshold   = 0.8
	violenceBlockThreshold = 0.8
	explicitBlockThreshold = 0.8
)

// reasonForLabel is the complete set of text-classification labels the
// provider may emit. Labels moderation does not act on map to ReasonNone;
// a label outside this table is a contract break and fails the message
// loudly instead of silently approving it.
var reasonForLabel = map[string]models.Reason{
	"hate":        models.ReasonHateSpeech,
	"hate_speech": models.ReasonHateSpeech,
	"harassment":  models.ReasonNone,
	"self_harm":   models.ReasonNone,
	"sexual":      models.ReasonNone,
	"violence":    models.ReasonNone,
	"toxicity":    models.ReasonNone,
	"spam":        models.ReasonNone,
}

// ValidateLabels checks the label table at startup so a misconfigured
// mapping refuses to boot rather than misclassifying in production.
func ValidateLabels() error {
	if len(reasonForLabel) == 0 {
		return fmt.Errorf("policy: label table is empty")
	}
	actionable := false
	for label, reason := range reasonForLabel {
		if label == "" || label != Normalize(label) {
			return fmt.Errorf("policy: label %q is not normalized", label)
		}
		if !models.ValidReason(reason) {
			return fmt.Errorf("policy: label %q maps to unknown reason %q", label, reason)
		}
		if reason == models.ReasonHateSpeech {
			actionable = true
		}
	}
	if !actionable {
		return fmt.Errorf("policy: label table has no hate speech mapping")
	}
	return nil
}

// Classification carries adapter output into evaluation. At most one of
// Text and Media is populated; Failed marks an adapter failure that
// short-circuits to an error verdict.
type Classification struct {
	Text          *classify.TextClassification
	Media         *classify.MediaClassification
	Failed        bool
	FailureDetail string
}

// FailedClassification wraps an adapter failure for evaluation.
func FailedClassification(detail string) Classification {
	return Classification{Failed: true, FailureDetail: detail}
}

// Evaluator applies one owner's moderation settings. It is compiled per
// message from a fresh config load, so settings changes take effect on the
// next message without cache invalidation.
type Evaluator struct {
	cfg     models.ModerationConfig
	allowed *WordList
	blocked *WordList
}

// NewEvaluator compiles the owner's word lists for evaluation.
func NewEvaluator(cfg models.ModerationConfig) *Evaluator {
	return &Evaluator{
		cfg:     cfg,
		allowed: CompileWordList(cfg.AllowedWords),
		blocked: CompileWordList(cfg.BlockedWords),
	}
}

// Evaluate is the single decision point for a classified message. Content
// is the message text (for transcribed audio, the transcript).
func (e *Evaluator) Evaluate(kind models.Kind, content string, cl Classification) models.Verdict {
	if cl.Failed {
		return models.Errored(cl.FailureDetail)
	}
	switch kind {
	case models.KindDocument:
		// Documents are opaque; no content inspection.
		return models.Approved(models.Signals{})
	case models.KindImage, models.KindVideo:
		return e.EvaluateMedia(cl.Media)
	default:
		return e.EvaluateText(content, cl.Text)
	}
}

// EvaluateWords runs only the custom word phase. The second return reports
// whether the lists decided the message; when false the caller still needs
// the classifier. Allow wins over block.
func (e *Evaluator) EvaluateWords(content string) (models.Verdict, bool) {
	tokens := Tokenize(content)
	if term, ok := e.allowed.Match(tokens); ok {
		return models.Approved(models.Signals{MatchedTerm: term}), true
	}
	if term, ok := e.blocked.Match(tokens); ok {
		signals := models.Signals{MatchedTerm: term, BlockConfidence: 1.0}
		return models.Blocked(models.ReasonCustomBlockedWord, signals), true
	}
	return models.Verdict{}, false
}

// EvaluateText applies word lists and then hate speech policy. A nil
// classification carries no category signals and approves.
func (e *Evaluator) EvaluateText(content string, tc *classify.TextClassification) models.Verdict {
	if verdict, decided := e.EvaluateWords(content); decided {
		return verdict
	}

	hate, err := hateConfidence(tc)
	if err != nil {
		return models.Errored(err.Error())
	}

	var signals models.Signals
	if hate > hateFlagThreshold {
		signals.HateSpeech = &models.CategorySignal{Detected: true, Confidence: hate}
	}
	if e.cfg.HateSpeechEnabled && hate > hateBlockThreshold {
		signals.BlockConfidence = hate
		return models.Blocked(models.ReasonHateSpeech, signals)
	}
	return models.Approved(signals)
}

// EvaluateMedia applies the per-category media policy. Nudity and violence
// are gated on their toggles; explicit content is always checked. When
// several categories qualify the first in {nudity, violence, explicit}
// names the reason and the maximum qualifying confidence is recorded.
func (e *Evaluator) EvaluateMedia(mc *classify.MediaClassification) models.Verdict {
	if mc == nil {
		return models.Errored("media classification missing")
	}

	signals := models.Signals{
		Nudity:   categorySignal(mc.Nudity),
		Violence: categorySignal(mc.Violence),
		Explicit: categorySignal(mc.Explicit),
	}

	type hit struct {
		reason     models.Reason
		confidence float64
	}
	var hits []hit
	if e.cfg.NudityEnabled && mc.Nudity.Confidence > nudityBlockThreshold {
		hits = append(hits, hit{models.ReasonNudity, mc.Nudity.Confidence})
	}
	if e.cfg.ViolenceEnabled && mc.Violence.Confidence > violenceBlockThreshold {
		hits = append(hits, hit{models.ReasonViolence, mc.Violence.Confidence})
	}
	if mc.Explicit.Confidence > explicitBlockThreshold {
		hits = append(hits, hit{models.ReasonExplicitContent, mc.Explicit.Confidence})
	}
	if len(hits) == 0 {
		return models.Approved(signals)
	}

	max := hits[0].confidence
	for _, h := range hits[1:] {
		if h.confidence > max {
			max = h.confidence
		}
	}
	signals.BlockConfidence = max
	return models.Blocked(hits[0].reason, signals)
}

func categorySignal(score classify.CategoryScore) *models.CategorySignal {
	return &models.CategorySignal{Detected: score.Detected, Confidence: score.Confidence}
}

// hateConfidence extracts the strongest hate speech confidence from the
// classification, rejecting any label outside the known table.
func hateConfidence(tc *classify.TextClassification) (float64, error) {
	if tc == nil {
		return 0, nil
	}
	var max float64
	for _, cat := range tc.Categories {
		reason, ok := reasonForLabel[Normalize(cat.Name)]
		if !ok {
			return 0, fmt.Errorf("unknown classification label %q", cat.Name)
		}
		if reason == models.ReasonHateSpeech && cat.Confidence > max {
			max = cat.Confidence
		}
	}
	return max, nil
}
