package vocab

// ObserveTask is the queue payload the pipeline publishes for each text
// message the learner should observe. The worker tokenizes the text itself
// so the hot path does no vocabulary work.
type ObserveTask struct {
	OwnerID     string `json:"owner_id"`
	MessageID   string `json:"message_id"`
	Text        string `json:"text"`
	FromBlocked bool   `json:"from_blocked"`
}
