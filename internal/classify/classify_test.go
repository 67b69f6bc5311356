package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFailureFromStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   FailureKind
	}{
		{http.StatusTooManyRequests, FailQuotaExceeded},
		{http.StatusBadRequest, FailInvalidInput},
		{http.StatusUnauthorized, FailInvalidInput},
		{http.StatusInternalServerError, FailUpstreamError},
		{http.StatusBadGateway, FailUpstreamError},
	}
	for _, tt := range tests {
		f := FailureFromStatus("op", tt.status)
		if f.Kind != tt.kind {
			t.Errorf("FailureFromStatus(%d).Kind = %q, want %q", tt.status, f.Kind, tt.kind)
		}
	}
}

func TestFailureFromError_DeadlineIsTimeout(t *testing.T) {
	f := FailureFromError("op", context.DeadlineExceeded)
	if f.Kind != FailTimeout {
		t.Errorf("kind = %q, want %q", f.Kind, FailTimeout)
	}
	if !errors.Is(f, context.DeadlineExceeded) {
		t.Error("failure does not unwrap to the deadline error")
	}
}

func TestAsFailure(t *testing.T) {
	f := InvalidInput("op", "bad")
	if got, ok := AsFailure(f); !ok || got != f {
		t.Error("AsFailure did not recover the failure from its own chain")
	}
	if _, ok := AsFailure(errors.New("plain")); ok {
		t.Error("AsFailure recovered a failure from a plain error")
	}
}

func TestTranscribe_OversizePayloadNoNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tr := NewTranscriber(TranscriberConfig{BaseURL: srv.URL, MaxBytes: 10})
	_, err := tr.Transcribe(context.Background(), make([]byte, 11), "audio/ogg")

	f, ok := AsFailure(err)
	if !ok || f.Kind != FailInvalidInput {
		t.Fatalf("error = %v, want invalid_input failure", err)
	}
	if called {
		t.Error("oversize payload reached the provider")
	}
}

func TestTranscribe_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model field = %q, want whisper-1", got)
		}
		json.NewEncoder(w).Encode(Transcription{Text: "hello", Language: "en", Confidence: 0.93})
	}))
	defer srv.Close()

	tr := NewTranscriber(TranscriberConfig{BaseURL: srv.URL, APIKey: "key"})
	out, err := tr.Transcribe(context.Background(), []byte("opus-bytes"), "audio/ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out.Text != "hello" || out.Language != "en" {
		t.Errorf("transcription = %+v", out)
	}
}

func TestTranscribe_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   FailureKind
	}{
		{http.StatusTooManyRequests, FailQuotaExceeded},
		{http.StatusServiceUnavailable, FailUpstreamError},
		{http.StatusUnprocessableEntity, FailInvalidInput},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		tr := NewTranscriber(TranscriberConfig{BaseURL: srv.URL})
		_, err := tr.Transcribe(context.Background(), []byte("x"), "audio/ogg")
		srv.Close()

		f, ok := AsFailure(err)
		if !ok || f.Kind != tt.kind {
			t.Errorf("status %d: error = %v, want %q failure", tt.status, err, tt.kind)
		}
	}
}

func TestTranscribe_SlowProviderTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tr := NewTranscriber(TranscriberConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := tr.Transcribe(context.Background(), []byte("x"), "audio/ogg")

	f, ok := AsFailure(err)
	if !ok || f.Kind != FailTimeout {
		t.Fatalf("error = %v, want timeout failure", err)
	}
}

func TestClassifyText_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text != "some text" {
			t.Errorf("request text = %q (err %v)", req.Text, err)
		}
		json.NewEncoder(w).Encode(TextClassification{
			Categories: []Category{{Name: "hate", Confidence: 0.42}},
		})
	}))
	defer srv.Close()

	c := NewTextClassifier(TextClassifierConfig{BaseURL: srv.URL, APIKey: "key"})
	out, err := c.Classify(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	cat := out.Category("HATE")
	if cat == nil || cat.Confidence != 0.42 {
		t.Errorf("hate category = %+v, want confidence 0.42", cat)
	}
}

func TestClassifyText_EmptyInput(t *testing.T) {
	c := NewTextClassifier(TextClassifierConfig{BaseURL: "http://unused"})
	_, err := c.Classify(context.Background(), "   ")
	f, ok := AsFailure(err)
	if !ok || f.Kind != FailInvalidInput {
		t.Fatalf("error = %v, want invalid_input failure", err)
	}
}

func TestClassifyImage_CollapsesLikelihoods(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(likelihoodResponse{
			Nudity:   "VERY_LIKELY",
			Violence: "POSSIBLE",
			Explicit: "VERY_UNLIKELY",
		})
	}))
	defer srv.Close()

	m := NewMediaClassifier(MediaClassifierConfig{BaseURL: srv.URL})
	out, err := m.ClassifyImage(context.Background(), []byte("jpeg"), "image/jpeg")
	if err != nil {
		t.Fatalf("ClassifyImage: %v", err)
	}

	if out.Nudity.Confidence != 0.9 || !out.Nudity.Detected {
		t.Errorf("nudity = %+v, want 0.9 detected", out.Nudity)
	}
	if out.Violence.Confidence != 0.5 || out.Violence.Detected {
		t.Errorf("violence = %+v, want 0.5 not detected", out.Violence)
	}
	if out.Explicit.Confidence != 0.1 || out.Explicit.Detected {
		t.Errorf("explicit = %+v, want 0.1 not detected", out.Explicit)
	}
}

func TestClassifyImage_UnknownLikelihoodFailsLoud(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(likelihoodResponse{
			Nudity:   "PRETTY_SURE",
			Violence: "UNLIKELY",
			Explicit: "UNLIKELY",
		})
	}))
	defer srv.Close()

	m := NewMediaClassifier(MediaClassifierConfig{BaseURL: srv.URL})
	_, err := m.ClassifyImage(context.Background(), []byte("jpeg"), "image/jpeg")

	f, ok := AsFailure(err)
	if !ok || f.Kind != FailUpstreamError {
		t.Fatalf("error = %v, want upstream_error failure", err)
	}
}

func TestClassifyVideo_SubmitAndPollToDone(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/videos:classify":
			json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
		case "/v1/jobs/job-1":
			polls++
			if polls < 2 {
				json.NewEncoder(w).Encode(map[string]interface{}{"state": "RUNNING"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"state":  "DONE",
				"result": likelihoodResponse{Nudity: "UNLIKELY", Violence: "LIKELY", Explicit: "UNLIKELY"},
			})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	m := NewMediaClassifier(MediaClassifierConfig{
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
	})
	out, err := m.ClassifyVideo(context.Background(), []byte("mp4"), "video/mp4")
	if err != nil {
		t.Fatalf("ClassifyVideo: %v", err)
	}
	if polls < 2 {
		t.Errorf("polls = %d, want the pending state polled through", polls)
	}
	if out.Violence.Confidence != 0.7 || !out.Violence.Detected {
		t.Errorf("violence = %+v, want 0.7 detected", out.Violence)
	}
}

func TestClassifyVideo_PendingAtDeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/videos:classify":
			json.NewEncoder(w).Encode(map[string]string{"job_id": "job-2"})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"state": "PENDING"})
		}
	}))
	defer srv.Close()

	m := NewMediaClassifier(MediaClassifierConfig{
		BaseURL:      srv.URL,
		VideoTimeout: 50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	_, err := m.ClassifyVideo(context.Background(), []byte("mp4"), "video/mp4")

	f, ok := AsFailure(err)
	if !ok || f.Kind != FailTimeout {
		t.Fatalf("error = %v, want timeout failure", err)
	}
}

func TestClassifyVideo_FailedJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/videos:classify":
			json.NewEncoder(w).Encode(map[string]string{"job_id": "job-3"})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"state": "FAILED", "detail": "corrupt container"})
		}
	}))
	defer srv.Close()

	m := NewMediaClassifier(MediaClassifierConfig{
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
	})
	_, err := m.ClassifyVideo(context.Background(), []byte("mp4"), "video/mp4")

	f, ok := AsFailure(err)
	if !ok || f.Kind != FailUpstreamError {
		t.Fatalf("error = %v, want upstream_error failure", err)
	}
}

func TestClassifyImage_EmptyPayload(t *testing.T) {
	m := NewMediaClassifier(MediaClassifierConfig{BaseURL: "http://unused"})
	_, err := m.ClassifyImage(context.Background(), nil, "image/jpeg")
	f, ok := AsFailure(err)
	if !ok || f.Kind != FailInvalidInput {
		t.Fatalf("error = %v, want invalid_input failure", err)
	}
}
