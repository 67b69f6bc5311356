// Package models defines the data structures shared across the moderation
// service: the inbound message, its verdict, and the per-account moderation
// configuration threaded through the pipeline.
package models

import "time"

// Kind identifies the content type of an inbound message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// ValidKind reports whether k is one of the supported message kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindDocument:
		return true
	}
	return false
}

// MediaRef points at a media payload held by the origin provider.
// The bytes themselves are fetched on demand during classification.
type MediaRef struct {
	ID          string `json:"id"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	DurationSec int    `json:"duration_sec,omitempty"` // audio/video only
}

// Transcript is the speech-to-text result attached to an audio message
// by the pipeline before text evaluation.
type Transcript struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence"`
}

// InboundMessage is one unit of chat content delivered by the provider
// webhook. To carries the inbound address; OwnerID is resolved from it by
// the pipeline before any classification runs. A message whose address
// resolves to no owner is dropped without ever being stored.
type InboundMessage struct {
	ID         string      `json:"id"` // provider-assigned, unique
	To         string      `json:"to"` // inbound address the message arrived on
	OwnerID    string      `json:"owner_id,omitempty"`
	Sender     string      `json:"sender"`
	Kind       Kind        `json:"kind"`
	Text       string      `json:"text,omitempty"`  // text body (kind=text)
	Media      *MediaRef   `json:"media,omitempty"` // media reference (image/video/audio/document)
	Transcript *Transcript `json:"transcript,omitempty"`
	ReceivedAt time.Time   `json:"received_at"` // origin timestamp, not local clock
}

// Content returns the text the policy evaluator should inspect: the body for
// text messages, the transcript for transcribed audio, empty otherwise.
func (m *InboundMessage) Content() string {
	if m.Kind == KindAudio && m.Transcript != nil {
		return m.Transcript.Text
	}
	return m.Text
}
