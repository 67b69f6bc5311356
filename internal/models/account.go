package models

// Owner is the account whose inbound address received a message. It holds
// the moderation configuration applied to that account's traffic.
type Owner struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	InboundAddress string `json:"inbound_address"`
}

// ModerationConfig is the per-account moderation configuration, loaded fresh
// for every message (settings may change between messages, so nothing caches
// it across pipeline runs). The allow-list always takes precedence over the
// block-list and over AI classification.
type ModerationConfig struct {
	HateSpeechEnabled bool `json:"hate_speech_enabled"`
	NudityEnabled     bool `json:"nudity_enabled"`
	ViolenceEnabled   bool `json:"violence_enabled"`
	AutoReplyOnBlock  bool `json:"auto_reply_on_block"`

	// BlockedWords includes both the owner's configured terms and any
	// candidate terms confirmed through the vocabulary review workflow —
	// the account store merges them at load time.
	BlockedWords []string `json:"blocked_words"`
	AllowedWords []string `json:"allowed_words"`
}
