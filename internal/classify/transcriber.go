package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	// DefaultMaxAudioBytes is the transcription payload ceiling. Oversize
	// audio fails invalid_input before any network call.
	DefaultMaxAudioBytes = 25 << 20 // 25 MB

	// DefaultTranscribeTimeout bounds a single transcription call.
	DefaultTranscribeTimeout = 30 * time.Second
)

// Transcription is the speech-to-text result for a voice note.
type Transcription struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Transcriber converts voice-note audio to text via the transcription
// provider's multipart upload endpoint.
type Transcriber struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	model    string
	maxBytes int64
	timeout  time.Duration
}

// TranscriberConfig holds the transcription provider settings.
type TranscriberConfig struct {
	BaseURL  string
	APIKey   string
	Model    string // provider model name, e.g. "whisper-1"
	MaxBytes int64
	Timeout  time.Duration
}

// NewTranscriber creates a transcription adapter. Zero-valued limits fall
// back to the package defaults.
func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxAudioBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTranscribeTimeout
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &Transcriber{
		http:     &http.Client{},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
	}
}

// Transcribe uploads audio bytes and returns the transcription. Failures are
// always a *Failure; the caller decides what an error verdict looks like.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcription, error) {
	const op = "transcribe"

	if len(audio) == 0 {
		return nil, InvalidInput(op, "empty audio payload")
	}
	if int64(len(audio)) > t.maxBytes {
		return nil, InvalidInput(op, fmt.Sprintf("audio payload %d bytes exceeds %d byte ceiling", len(audio), t.maxBytes))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "voice-note")
	if err != nil {
		return nil, &Failure{Kind: FailInvalidInput, Op: op, Detail: "build multipart body", Err: err}
	}
	if _, err := part.Write(audio); err != nil {
		return nil, &Failure{Kind: FailInvalidInput, Op: op, Detail: "write multipart body", Err: err}
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return nil, &Failure{Kind: FailInvalidInput, Op: op, Detail: "write model field", Err: err}
	}
	mw.Close()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return nil, FailureFromError(op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	if mimeType != "" {
		req.Header.Set("X-Audio-Mime-Type", mimeType)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, FailureFromError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, FailureFromStatus(op, resp.StatusCode)
	}

	var out Transcription
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Failure{Kind: FailUpstreamError, Op: op, Detail: "decode response", Err: err}
	}
	return &out, nil
}
