package policy

import (
	"strings"
	"testing"

	"github.com/chatwarden/chatwarden/internal/classify"
	"github.com/chatwarden/chatwarden/internal/models"
)

func hateText(confidence float64) *classify.TextClassification {
	return &classify.TextClassification{
		Categories: []classify.Category{{Name: "hate", Confidence: confidence}},
	}
}

func mediaScores(nudity, violence, explicit float64) *classify.MediaClassification {
	return &classify.MediaClassification{
		Nudity:   classify.CategoryScore{Confidence: nudity, Detected: nudity >= 0.7},
		Violence: classify.CategoryScore{Confidence: violence, Detected: violence >= 0.7},
		Explicit: classify.CategoryScore{Confidence: explicit, Detected: explicit >= 0.7},
	}
}

func TestEvaluateText_AllowWordOverridesClassifier(t *testing.T) {
	e := NewEvaluator(models.ModerationConfig{
		HateSpeechEnabled: true,
		AllowedWords:      []string{"community"},
		BlockedWords:      []string{"community"},
	})

	v := e.EvaluateText("I love this community", hateText(1.0))
	if v.Status != models.StatusApproved {
		t.Fatalf("status = %q, want %q", v.Status, models.StatusApproved)
	}
	if v.Reason != models.ReasonNone {
		t.Errorf("reason = %q, want %q", v.Reason, models.ReasonNone)
	}
	if v.Signals.MatchedTerm != "community" {
		t.Errorf("matched term = %q, want %q", v.Signals.MatchedTerm, "community")
	}
}

func TestEvaluateText_BlockWord(t *testing.T) {
	e := NewEvaluator(models.ModerationConfig{BlockedWords: []string{"buy"}})

	v := e.EvaluateText("buy now!!!", hateText(0))
	if v.Status != models.StatusBlocked {
		t.Fatalf("status = %q, want %q", v.Status, models.StatusBlocked)
	}
	if v.Reason != models.ReasonCustomBlockedWord {
		t.Errorf("reason = %q, want %q", v.Reason, models.ReasonCustomBlockedWord)
	}
	if v.Signals.MatchedTerm != "buy" {
		t.Errorf("matched term = %q, want %q", v.Signals.MatchedTerm, "buy")
	}
	if v.Signals.BlockConfidence != 1.0 {
		t.Errorf("block confidence = %v, want 1.0", v.Signals.BlockConfidence)
	}
}

func TestEvaluateText_HateSpeech(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		enabled    bool
		status     models.Status
		reason     models.Reason
		flagged    bool
	}{
		{"clean text", 0.02, true, models.StatusApproved, models.ReasonNone, false},
		{"flagged below block", 0.6, true, models.StatusApproved, models.ReasonNone, true},
		{"at block threshold", 0.7, true, models.StatusApproved, models.ReasonNone, true},
		{"above block threshold", 0.71, true, models.StatusBlocked, models.ReasonHateSpeech, true},
		{"high confidence", 0.95, true, models.StatusBlocked, models.ReasonHateSpeech, true},
		{"toggle off", 0.95, false, models.StatusApproved, models.ReasonNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(models.ModerationConfig{HateSpeechEnabled: tt.enabled})
			v := e.EvaluateText("some text", hateText(tt.confidence))
			if v.Status != tt.status {
				t.Errorf("status = %q, want %q", v.Status, tt.status)
			}
			if v.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", v.Reason, tt.reason)
			}
			if got := v.Signals.HateSpeech != nil; got != tt.flagged {
				t.Errorf("hate signal recorded = %v, want %v", got, tt.flagged)
			}
			if v.Status == models.StatusBlocked && v.Signals.BlockConfidence != tt.confidence {
				t.Errorf("block confidence = %v, want %v", v.Signals.BlockConfidence, tt.confidence)
			}
		})
	}
}

func TestEvaluateText_UnknownLabelFailsLoud(t *testing.T) {
	e := NewEvaluator(models.ModerationConfig{HateSpeechEnabled: true})
	tc := &classify.TextClassification{
		Categories: []classify.Category{{Name: "brand_new_label", Confidence: 0.9}},
	}

	v := e.EvaluateText("some text", tc)
	if v.Status != models.StatusError {
		t.Fatalf("status = %q, want %q", v.Status, models.StatusError)
	}
	if v.Reason != models.ReasonClassificationFailed {
		t.Errorf("reason = %q, want %q", v.Reason, models.ReasonClassificationFailed)
	}
	if !strings.Contains(v.Signals.FailureDetail, "brand_new_label") {
		t.Errorf("failure detail %q does not name the label", v.Signals.FailureDetail)
	}
}

func TestEvaluateText_IgnoredLabelsApprove(t *testing.T) {
	e := NewEvaluator(models.ModerationConfig{HateSpeechEnabled: true})
	tc := &classify.TextClassification{
		Categories: []classify.Category{
			{Name: "spam", Confidence: 0.99},
			{Name: "hate", Confidence: 0.1},
		},
	}

	v := e.EvaluateText("some text", tc)
	if v.Status != models.StatusApproved {
		t.Fatalf("status = %q, want %q", v.Status, models.StatusApproved)
	}
}

func TestEvaluateMedia(t *testing.T) {
	tests := []struct {
		name       string
		cfg        models.ModerationConfig
		mc         *classify.MediaClassification
		status     models.Status
		reason     models.Reason
		confidence float64
	}{
		{
			"nudity above threshold",
			models.ModerationConfig{NudityEnabled: true},
			mediaScores(0.85, 0.1, 0.1),
			models.StatusBlocked, models.ReasonNudity, 0.85,
		},
		{
			"nudity toggle off",
			models.ModerationConfig{},
			mediaScores(0.85, 0.1, 0.1),
			models.StatusApproved, models.ReasonNone, 0,
		},
		{
			"all below thresholds",
			models.ModerationConfig{NudityEnabled: true, ViolenceEnabled: true},
			mediaScores(0.5, 0.5, 0.5),
			models.StatusApproved, models.ReasonNone, 0,
		},
		{
			"at threshold not exceeded",
			models.ModerationConfig{ViolenceEnabled: true},
			mediaScores(0, 0.8, 0),
			models.StatusApproved, models.ReasonNone, 0,
		},
		{
			"explicit checked without toggle",
			models.ModerationConfig{},
			mediaScores(0.1, 0.1, 0.9),
			models.StatusBlocked, models.ReasonExplicitContent, 0.9,
		},
		{
			"first qualifying category wins, max confidence kept",
			models.ModerationConfig{NudityEnabled: true, ViolenceEnabled: true},
			mediaScores(0.81, 0.95, 0.1),
			models.StatusBlocked, models.ReasonNudity, 0.95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewEvaluator(tt.cfg).EvaluateMedia(tt.mc)
			if v.Status != tt.status {
				t.Errorf("status = %q, want %q", v.Status, tt.status)
			}
			if v.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", v.Reason, tt.reason)
			}
			if v.Signals.BlockConfidence != tt.confidence {
				t.Errorf("block confidence = %v, want %v", v.Signals.BlockConfidence, tt.confidence)
			}
		})
	}
}

func TestEvaluateMedia_RecordsAllSignals(t *testing.T) {
	v := NewEvaluator(models.ModerationConfig{}).EvaluateMedia(mediaScores(0.3, 0.7, 0.1))
	if v.Status != models.StatusApproved {
		t.Fatalf("status = %q, want %q", v.Status, models.StatusApproved)
	}
	if v.Signals.Nudity == nil || v.Signals.Violence == nil || v.Signals.Explicit == nil {
		t.Fatal("approved media verdict dropped audit signals")
	}
	if v.Signals.Violence.Confidence != 0.7 || !v.Signals.Violence.Detected {
		t.Errorf("violence signal = %+v, want detected at 0.7", v.Signals.Violence)
	}
}

func TestEvaluate_DocumentsAlwaysApprove(t *testing.T) {
	e := NewEvaluator(models.ModerationConfig{
		HateSpeechEnabled: true,
		NudityEnabled:     true,
		ViolenceEnabled:   true,
		BlockedWords:      []string{"anything"},
	})

	v := e.Evaluate(models.KindDocument, "", Classification{})
	if v.Status != models.StatusApproved {
		t.Fatalf("status = %q, want %q", v.Status, models.StatusApproved)
	}
}

func TestEvaluate_FailedClassification(t *testing.T) {
	e := NewEvaluator(models.ModerationConfig{HateSpeechEnabled: true})

	v := e.Evaluate(models.KindAudio, "", FailedClassification("transcribe: deadline exceeded"))
	if v.Status != models.StatusError {
		t.Fatalf("status = %q, want %q", v.Status, models.StatusError)
	}
	if v.Reason != models.ReasonClassificationFailed {
		t.Errorf("reason = %q, want %q", v.Reason, models.ReasonClassificationFailed)
	}
	if v.Signals.FailureDetail == "" {
		t.Error("failure detail not recorded")
	}
}

func TestValidateLabels(t *testing.T) {
	if err := ValidateLabels(); err != nil {
		t.Fatalf("ValidateLabels() = %v", err)
	}
}
