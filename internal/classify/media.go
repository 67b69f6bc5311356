package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultImageTimeout bounds a single image classification call.
	DefaultImageTimeout = 15 * time.Second

	// DefaultVideoTimeout bounds a video job from submission to final poll.
	DefaultVideoTimeout = 30 * time.Second

	// DefaultPollInterval is the wait between video job status polls.
	DefaultPollInterval = 2 * time.Second
)

// Likelihood values on the provider's 5-level scale and the fixed numeric
// confidences they collapse to. Detected is derived here, in the adapter,
// as likely-or-more-probable; the pipeline only ever sees the collapsed
// scores.
var likelihoodConfidence = map[string]float64{
	"VERY_LIKELY":   0.9,
	"LIKELY":        0.7,
	"POSSIBLE":      0.5,
	"UNLIKELY":      0.3,
	"VERY_UNLIKELY": 0.1,
}

// detectedThreshold is the confidence at which a likelihood counts as a
// detection ("likely" or stronger).
const detectedThreshold = 0.7

// CategoryScore is the collapsed score for one media safety category.
type CategoryScore struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
}

// MediaClassification is the safety classification of one image or video.
type MediaClassification struct {
	Nudity   CategoryScore `json:"nudity"`
	Violence CategoryScore `json:"violence"`
	Explicit CategoryScore `json:"explicit"`
}

// JobState is the lifecycle state of an asynchronous video classification job.
type JobState string

const (
	JobPending JobState = "pending"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// JobStatus is one poll result for a video classification job.
type JobStatus struct {
	State  JobState
	Result *MediaClassification // set when State == JobDone
	Detail string               // set when State == JobFailed
}

// MediaClassifier calls the image/video safety provider. Images classify
// synchronously; videos run as an explicit submit/poll job so the caller's
// suspension point is a real operation rather than a fixed sleep.
type MediaClassifier struct {
	http         *http.Client
	baseURL      string
	imageTimeout time.Duration
	videoTimeout time.Duration
	pollInterval time.Duration
}

// MediaClassifierConfig holds the media safety provider settings. Client is
// expected to carry the provider's OAuth2 credentials.
type MediaClassifierConfig struct {
	Client       *http.Client
	BaseURL      string
	ImageTimeout time.Duration
	VideoTimeout time.Duration
	PollInterval time.Duration
}

// NewMediaClassifier creates a media classification adapter.
func NewMediaClassifier(cfg MediaClassifierConfig) *MediaClassifier {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = DefaultImageTimeout
	}
	if cfg.VideoTimeout <= 0 {
		cfg.VideoTimeout = DefaultVideoTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &MediaClassifier{
		http:         cfg.Client,
		baseURL:      cfg.BaseURL,
		imageTimeout: cfg.ImageTimeout,
		videoTimeout: cfg.VideoTimeout,
		pollInterval: cfg.PollInterval,
	}
}

// likelihoodResponse is the provider's raw annotation payload.
type likelihoodResponse struct {
	Nudity   string `json:"nudity"`
	Violence string `json:"violence"`
	Explicit string `json:"explicit"`
}

// collapse maps raw likelihood labels to numeric scores. An unknown label is
// an upstream contract violation and fails loud rather than defaulting.
func collapse(op string, raw likelihoodResponse) (*MediaClassification, error) {
	out := &MediaClassification{}
	for _, c := range []struct {
		label string
		score *CategoryScore
	}{
		{raw.Nudity, &out.Nudity},
		{raw.Violence, &out.Violence},
		{raw.Explicit, &out.Explicit},
	} {
		conf, ok := likelihoodConfidence[c.label]
		if !ok {
			return nil, &Failure{
				Kind:   FailUpstreamError,
				Op:     op,
				Detail: fmt.Sprintf("unknown likelihood label %q", c.label),
			}
		}
		c.score.Confidence = conf
		c.score.Detected = conf >= detectedThreshold
	}
	return out, nil
}

// ClassifyImage classifies a single image synchronously.
func (m *MediaClassifier) ClassifyImage(ctx context.Context, media []byte, mimeType string) (*MediaClassification, error) {
	const op = "classify_image"

	if len(media) == 0 {
		return nil, InvalidInput(op, "empty media payload")
	}

	ctx, cancel := context.WithTimeout(ctx, m.imageTimeout)
	defer cancel()

	var raw likelihoodResponse
	if err := m.post(ctx, op, "/v1/images:classify", media, mimeType, &raw); err != nil {
		return nil, err
	}
	return collapse(op, raw)
}

// SubmitVideo starts an asynchronous video classification job and returns
// its provider-assigned job ID.
func (m *MediaClassifier) SubmitVideo(ctx context.Context, media []byte, mimeType string) (string, error) {
	const op = "submit_video"

	if len(media) == 0 {
		return "", InvalidInput(op, "empty media payload")
	}

	ctx, cancel := context.WithTimeout(ctx, m.videoTimeout)
	defer cancel()

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := m.post(ctx, op, "/v1/videos:classify", media, mimeType, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &Failure{Kind: FailUpstreamError, Op: op, Detail: "provider returned empty job id"}
	}
	return out.JobID, nil
}

// PollVideo fetches the current status of a video classification job.
func (m *MediaClassifier) PollVideo(ctx context.Context, jobID string) (*JobStatus, error) {
	const op = "poll_video"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, FailureFromError(op, err)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, FailureFromError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, FailureFromStatus(op, resp.StatusCode)
	}

	var body struct {
		State  string             `json:"state"`
		Result likelihoodResponse `json:"result"`
		Detail string             `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Failure{Kind: FailUpstreamError, Op: op, Detail: "decode response", Err: err}
	}

	switch body.State {
	case "PENDING", "RUNNING":
		return &JobStatus{State: JobPending}, nil
	case "DONE":
		result, err := collapse(op, body.Result)
		if err != nil {
			return nil, err
		}
		return &JobStatus{State: JobDone, Result: result}, nil
	case "FAILED":
		return &JobStatus{State: JobFailed, Detail: body.Detail}, nil
	default:
		return nil, &Failure{Kind: FailUpstreamError, Op: op, Detail: fmt.Sprintf("unknown job state %q", body.State)}
	}
}

// ClassifyVideo submits a video job and polls it to completion within the
// configured video deadline. A job still pending at the deadline is a
// timeout failure.
func (m *MediaClassifier) ClassifyVideo(ctx context.Context, media []byte, mimeType string) (*MediaClassification, error) {
	const op = "classify_video"

	jobID, err := m.SubmitVideo(ctx, media, mimeType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.videoTimeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, &Failure{Kind: FailTimeout, Op: op, Detail: fmt.Sprintf("job %s still pending at deadline", jobID), Err: ctx.Err()}
		case <-ticker.C:
			status, err := m.PollVideo(ctx, jobID)
			if err != nil {
				return nil, err
			}
			switch status.State {
			case JobDone:
				return status.Result, nil
			case JobFailed:
				return nil, &Failure{Kind: FailUpstreamError, Op: op, Detail: "job failed: " + status.Detail}
			}
		}
	}
}

// post sends a base64-encoded media payload and decodes the JSON response.
func (m *MediaClassifier) post(ctx context.Context, op, path string, media []byte, mimeType string, out interface{}) error {
	payload, err := json.Marshal(map[string]string{
		"content":   base64.StdEncoding.EncodeToString(media),
		"mime_type": mimeType,
	})
	if err != nil {
		return &Failure{Kind: FailInvalidInput, Op: op, Detail: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return FailureFromError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return FailureFromError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return FailureFromStatus(op, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Failure{Kind: FailUpstreamError, Op: op, Detail: "decode response", Err: err}
	}
	return nil
}
