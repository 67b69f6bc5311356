// Package metrics provides Prometheus instrumentation for the moderation
// service. It exposes counters for message verdicts and boundary rejects,
// histograms for external capability latency, and counters for the side
// effects (auto-replies, notifications, learned terms).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts moderated messages by verdict status and reason.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_messages_total",
		Help: "Total number of moderated messages",
	}, []string{"status", "reason"})

	// MessagesDropped counts webhook messages dropped before the pipeline,
	// labeled by cause: "unknown_owner", "duplicate", "invalid".
	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_messages_dropped_total",
		Help: "Messages dropped before classification",
	}, []string{"cause"})

	// AdapterLatency records external capability call latency in seconds,
	// labeled by adapter: "transcribe", "classify_text", "classify_image",
	// "classify_video", "media_fetch", "send".
	AdapterLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatwarden_adapter_latency_seconds",
		Help:    "External capability call latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
	}, []string{"adapter"})

	// AdapterFailures counts external capability failures by adapter and
	// failure kind (timeout, upstream_error, invalid_input, quota_exceeded).
	AdapterFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_adapter_failures_total",
		Help: "External capability call failures",
	}, []string{"adapter", "kind"})

	// AutoReplies counts automated block notices by send outcome.
	AutoReplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_auto_replies_total",
		Help: "Automated moderation notices sent to blocked senders",
	}, []string{"outcome"}) // outcome = "sent", "failed"

	// NotificationsTotal counts realtime owner notifications by event.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_notifications_total",
		Help: "Realtime owner notifications published",
	}, []string{"event"})

	// WebhookRejects counts webhook requests rejected at the boundary,
	// labeled by cause: "bad_signature", "malformed".
	WebhookRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_webhook_rejects_total",
		Help: "Webhook deliveries rejected before processing",
	}, []string{"cause"})

	// CandidateTermsCreated counts new vocabulary candidates entering the
	// review queue.
	CandidateTermsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatwarden_candidate_terms_created_total",
		Help: "Candidate terms newly tracked for owner review",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		MessagesDropped,
		AdapterLatency,
		AdapterFailures,
		AutoReplies,
		NotificationsTotal,
		WebhookRejects,
		CandidateTermsCreated,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
