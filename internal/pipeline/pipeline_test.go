package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chatwarden/chatwarden/internal/classify"
	"github.com/chatwarden/chatwarden/internal/message"
	"github.com/chatwarden/chatwarden/internal/messaging"
	"github.com/chatwarden/chatwarden/internal/models"
	"github.com/chatwarden/chatwarden/internal/vocab"
)

type fakeAccounts struct {
	owner *models.Owner
	cfg   models.ModerationConfig
}

func (f *fakeAccounts) FindOwnerByAddress(ctx context.Context, address string) (*models.Owner, error) {
	if f.owner != nil && f.owner.InboundAddress == address {
		return f.owner, nil
	}
	return nil, nil
}

func (f *fakeAccounts) GetModerationConfig(ctx context.Context, ownerID string) (models.ModerationConfig, error) {
	return f.cfg, nil
}

type reply struct {
	id         string
	providerID string
	sendError  string
}

type fakeStore struct {
	inserted      []*models.InboundMessage
	insertErr     error
	existing      *message.Record
	verdicts      map[string]models.Verdict
	completeErr   error
	completeCalls int
	transcripts   map[string]models.Transcript
	replies       []reply
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		verdicts:    make(map[string]models.Verdict),
		transcripts: make(map[string]models.Transcript),
	}
}

func (f *fakeStore) Insert(ctx context.Context, m *models.InboundMessage) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, m)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*message.Record, error) {
	if f.existing == nil {
		return nil, message.ErrNotFound
	}
	return f.existing, nil
}

func (f *fakeStore) AttachTranscript(ctx context.Context, id string, tr models.Transcript) error {
	f.transcripts[id] = tr
	return nil
}

func (f *fakeStore) CompleteVerdict(ctx context.Context, id string, v models.Verdict) error {
	f.completeCalls++
	if f.completeErr != nil {
		return f.completeErr
	}
	f.verdicts[id] = v
	return nil
}

func (f *fakeStore) RecordReply(ctx context.Context, id, providerMessageID, sendError string) error {
	f.replies = append(f.replies, reply{id, providerMessageID, sendError})
	return nil
}

type fakeDedup struct {
	seen    map[string]bool
	seenErr error
	marked  []string
}

func (f *fakeDedup) Seen(ctx context.Context, messageID string) (bool, error) {
	return f.seen[messageID], f.seenErr
}

func (f *fakeDedup) Mark(ctx context.Context, messageID string) error {
	f.marked = append(f.marked, messageID)
	return nil
}

type fakeTranscriber struct {
	result *classify.Transcription
	err    error
	calls  int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*classify.Transcription, error) {
	f.calls++
	return f.result, f.err
}

type fakeTextClassifier struct {
	result *classify.TextClassification
	err    error
	calls  int
}

func (f *fakeTextClassifier) Classify(ctx context.Context, text string) (*classify.TextClassification, error) {
	f.calls++
	return f.result, f.err
}

type fakeMediaClassifier struct {
	result     *classify.MediaClassification
	err        error
	imageCalls int
	videoCalls int
}

func (f *fakeMediaClassifier) ClassifyImage(ctx context.Context, media []byte, mimeType string) (*classify.MediaClassification, error) {
	f.imageCalls++
	return f.result, f.err
}

func (f *fakeMediaClassifier) ClassifyVideo(ctx context.Context, media []byte, mimeType string) (*classify.MediaClassification, error) {
	f.videoCalls++
	return f.result, f.err
}

type fakeFetcher struct {
	data []byte
	mime string
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, mediaID string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.mime, nil
}

type sentNotice struct {
	to   string
	text string
}

type fakeSender struct {
	sent []sentNotice
	err  error
}

func (f *fakeSender) Send(ctx context.Context, destination, text string) (string, error) {
	f.sent = append(f.sent, sentNotice{destination, text})
	if f.err != nil {
		return "", f.err
	}
	return "provider_msg_1", nil
}

type ownerEvent struct {
	ownerID string
	event   string
}

type fakeNotifier struct {
	events []ownerEvent
}

func (f *fakeNotifier) NotifyOwner(ctx context.Context, ownerID, event string, payload interface{}) error {
	f.events = append(f.events, ownerEvent{ownerID, event})
	return nil
}

type fakeObserver struct {
	tasks [][]byte
}

func (f *fakeObserver) PublishObserve(data []byte) error {
	f.tasks = append(f.tasks, data)
	return nil
}

type env struct {
	accounts    *fakeAccounts
	store       *fakeStore
	dedup       *fakeDedup
	transcriber *fakeTranscriber
	text        *fakeTextClassifier
	media       *fakeMediaClassifier
	fetcher     *fakeFetcher
	sender      *fakeSender
	notifier    *fakeNotifier
	observer    *fakeObserver
	pipe        *Pipeline
}

func newEnv(cfg models.ModerationConfig) *env {
	e := &env{
		accounts: &fakeAccounts{
			owner: &models.Owner{ID: "owner_1", InboundAddress: "+15550001111"},
			cfg:   cfg,
		},
		store: newFakeStore(),
		dedup: &fakeDedup{seen: make(map[string]bool)},
		transcriber: &fakeTranscriber{
			result: &classify.Transcription{Text: "spoken words", Language: "en", Confidence: 0.9},
		},
		text: &fakeTextClassifier{
			result: &classify.TextClassification{
				Categories: []classify.Category{{Name: "hate", Confidence: 0.01}},
			},
		},
		media:    &fakeMediaClassifier{result: &classify.MediaClassification{}},
		fetcher:  &fakeFetcher{data: []byte("media-bytes"), mime: "image/jpeg"},
		sender:   &fakeSender{},
		notifier: &fakeNotifier{},
		observer: &fakeObserver{},
	}
	e.pipe = New(Deps{
		Accounts:        e.accounts,
		Store:           e.store,
		Dedup:           e.dedup,
		Transcriber:     e.transcriber,
		TextClassifier:  e.text,
		MediaClassifier: e.media,
		MediaFetcher:    e.fetcher,
		Sender:          e.sender,
		Notifier:        e.notifier,
		Observer:        e.observer,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return e
}

func allEnabled() models.ModerationConfig {
	return models.ModerationConfig{
		HateSpeechEnabled: true,
		NudityEnabled:     true,
		ViolenceEnabled:   true,
		AutoReplyOnBlock:  true,
	}
}

func textMessage(id, body string) *models.InboundMessage {
	return &models.InboundMessage{
		ID:         id,
		To:         "+15550001111",
		Sender:     "+15557770000",
		Kind:       models.KindText,
		Text:       body,
		ReceivedAt: time.Now(),
	}
}

func mediaMessage(id string, kind models.Kind) *models.InboundMessage {
	return &models.InboundMessage{
		ID:     id,
		To:     "+15550001111",
		Sender: "+15557770000",
		Kind:   kind,
		Media: &models.MediaRef{
			ID:        "media_1",
			MimeType:  "image/jpeg",
			SizeBytes: 1024,
		},
		ReceivedAt: time.Now(),
	}
}

func TestProcess_CleanTextApproved(t *testing.T) {
	e := newEnv(allEnabled())
	msg := textMessage("wamid.1", "hello there, how are you")

	disp, err := e.pipe.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if disp != Processed {
		t.Fatalf("Process() = %v, want %v", disp, Processed)
	}

	v, ok := e.store.verdicts["wamid.1"]
	if !ok {
		t.Fatal("verdict was not persisted")
	}
	if v.Status != models.StatusApproved {
		t.Errorf("status = %v, want %v", v.Status, models.StatusApproved)
	}
	if len(e.dedup.marked) != 1 || e.dedup.marked[0] != "wamid.1" {
		t.Errorf("dedup marks = %v, want [wamid.1]", e.dedup.marked)
	}
	if len(e.sender.sent) != 0 {
		t.Errorf("sent %d notices for an approved message", len(e.sender.sent))
	}
	if len(e.notifier.events) != 1 || e.notifier.events[0].event != messaging.EventMessageModerated {
		t.Errorf("owner events = %v, want one %s", e.notifier.events, messaging.EventMessageModerated)
	}
	if len(e.observer.tasks) != 1 {
		t.Fatalf("observe tasks = %d, want 1", len(e.observer.tasks))
	}
	var task vocab.ObserveTask
	if err := json.Unmarshal(e.observer.tasks[0], &task); err != nil {
		t.Fatalf("unmarshal observe task: %v", err)
	}
	if task.OwnerID != "owner_1" || task.Text != msg.Text || task.FromBlocked {
		t.Errorf("observe task = %+v, want owner_1 / message text / fromBlocked=false", task)
	}
}

func TestProcess_BlockedWordSkipsClassifier(t *testing.T) {
	cfg := allEnabled()
	cfg.BlockedWords = []string{"buy now"}
	e := newEnv(cfg)

	disp, err := e.pipe.Process(context.Background(), textMessage("wamid.2", "BUY NOW!!! limited offer"))
	if err != nil || disp != Processed {
		t.Fatalf("Process() = %v, %v, want %v, nil", disp, err, Processed)
	}

	v := e.store.verdicts["wamid.2"]
	if v.Status != models.StatusBlocked || v.Reason != models.ReasonCustomBlockedWord {
		t.Fatalf("verdict = %v/%v, want blocked/custom_blocked_word", v.Status, v.Reason)
	}
	if e.text.calls != 0 {
		t.Errorf("classifier called %d times for a custom-list block", e.text.calls)
	}
	if len(e.sender.sent) != 1 {
		t.Fatalf("sent notices = %d, want 1", len(e.sender.sent))
	}
	if e.sender.sent[0].to != "+15557770000" {
		t.Errorf("notice destination = %q, want sender address", e.sender.sent[0].to)
	}
	if len(e.store.replies) != 1 || e.store.replies[0].sendError != "" {
		t.Errorf("recorded replies = %v, want one successful entry", e.store.replies)
	}
	if len(e.observer.tasks) != 0 {
		t.Errorf("custom-list block published %d observe tasks", len(e.observer.tasks))
	}
}

func TestProcess_HateSpeechBlockObservesFromBlocked(t *testing.T) {
	cfg := allEnabled()
	cfg.AutoReplyOnBlock = false
	e := newEnv(cfg)
	e.text.result = &classify.TextClassification{
		Categories: []classify.Category{{Name: "hate", Confidence: 0.95}},
	}

	disp, err := e.pipe.Process(context.Background(), textMessage("wamid.3", "some hateful text"))
	if err != nil || disp != Processed {
		t.Fatalf("Process() = %v, %v, want %v, nil", disp, err, Processed)
	}

	v := e.store.verdicts["wamid.3"]
	if v.Status != models.StatusBlocked || v.Reason != models.ReasonHateSpeech {
		t.Fatalf("verdict = %v/%v, want blocked/hate_speech", v.Status, v.Reason)
	}
	if len(e.sender.sent) != 0 {
		t.Errorf("auto-reply disabled but %d notices sent", len(e.sender.sent))
	}
	if len(e.observer.tasks) != 1 {
		t.Fatalf("observe tasks = %d, want 1", len(e.observer.tasks))
	}
	var task vocab.ObserveTask
	if err := json.Unmarshal(e.observer.tasks[0], &task); err != nil {
		t.Fatalf("unmarshal observe task: %v", err)
	}
	if !task.FromBlocked {
		t.Error("observe task fromBlocked = false, want true for a hate speech block")
	}
}

func TestProcess_AudioTranscribedAndEvaluated(t *testing.T) {
	e := newEnv(allEnabled())
	e.transcriber.result = &classify.Transcription{Text: "voice note words", Language: "en", Confidence: 0.88}

	disp, err := e.pipe.Process(context.Background(), mediaMessage("wamid.4", models.KindAudio))
	if err != nil || disp != Processed {
		t.Fatalf("Process() = %v, %v, want %v, nil", disp, err, Processed)
	}

	if e.transcriber.calls != 1 {
		t.Errorf("transcriber calls = %d, want 1", e.transcriber.calls)
	}
	tr, ok := e.store.transcripts["wamid.4"]
	if !ok {
		t.Fatal("transcript was not attached")
	}
	if tr.Text != "voice note words" {
		t.Errorf("transcript text = %q, want %q", tr.Text, "voice note words")
	}
	if e.text.calls != 1 {
		t.Errorf("classifier calls = %d, want 1 on the transcript", e.text.calls)
	}
	if v := e.store.verdicts["wamid.4"]; v.Status != models.StatusApproved {
		t.Errorf("status = %v, want %v", v.Status, models.StatusApproved)
	}
	// Audio never feeds the learner, only typed text does.
	if len(e.observer.tasks) != 0 {
		t.Errorf("audio message published %d observe tasks", len(e.observer.tasks))
	}
}

func TestProcess_TranscriberFailureIsErrorVerdict(t *testing.T) {
	e := newEnv(allEnabled())
	e.transcriber.result = nil
	e.transcriber.err = classify.FailureFromError("transcribe", context.DeadlineExceeded)

	disp, err := e.pipe.Process(context.Background(), mediaMessage("wamid.5", models.KindAudio))
	if err != nil || disp != Processed {
		t.Fatalf("Process() = %v, %v, want %v, nil", disp, err, Processed)
	}

	v, ok := e.store.verdicts["wamid.5"]
	if !ok {
		t.Fatal("error verdict was not persisted")
	}
	if v.Status != models.StatusError {
		t.Errorf("status = %v, want %v", v.Status, models.StatusError)
	}
	if v.Signals.FailureDetail == "" {
		t.Error("error verdict has no failure detail")
	}
	if len(e.sender.sent) != 0 {
		t.Errorf("error verdict sent %d notices", len(e.sender.sent))
	}
	if len(e.observer.tasks) != 0 {
		t.Errorf("error verdict published %d observe tasks", len(e.observer.tasks))
	}
	if len(e.notifier.events) != 1 {
		t.Errorf("owner events = %d, want 1 (owners hear about errors too)", len(e.notifier.events))
	}
}

func TestProcess_ImageBlockedSendsNoticeNoObserve(t *testing.T) {
	e := newEnv(allEnabled())
	e.media.result = &classify.MediaClassification{
		Nudity: classify.CategoryScore{Detected: true, Confidence: 0.92},
	}

	disp, err := e.pipe.Process(context.Background(), mediaMessage("wamid.6", models.KindImage))
	if err != nil || disp != Processed {
		t.Fatalf("Process() = %v, %v, want %v, nil", disp, err, Processed)
	}

	v := e.store.verdicts["wamid.6"]
	if v.Status != models.StatusBlocked || v.Reason != models.ReasonNudity {
		t.Fatalf("verdict = %v/%v, want blocked/nudity", v.Status, v.Reason)
	}
	if e.media.imageCalls != 1 || e.media.videoCalls != 0 {
		t.Errorf("media calls = %d image / %d video, want 1/0", e.media.imageCalls, e.media.videoCalls)
	}
	if len(e.sender.sent) != 1 {
		t.Errorf("sent notices = %d, want 1", len(e.sender.sent))
	}
	if len(e.observer.tasks) != 0 {
		t.Errorf("image block published %d observe tasks", len(e.observer.tasks))
	}
}

func TestProcess_UnknownOwnerDropped(t *testing.T) {
	e := newEnv(allEnabled())
	msg := textMessage("wamid.7", "hello")
	msg.To = "+19990000000"

	disp, err := e.pipe.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if disp != Dropped {
		t.Fatalf("Process() = %v, want %v", disp, Dropped)
	}
	if len(e.store.inserted) != 0 || len(e.store.verdicts) != 0 {
		t.Error("dropped message reached the store")
	}
	if len(e.notifier.events) != 0 {
		t.Error("dropped message produced owner events")
	}
}

func TestProcess_SeenDuplicateShortCircuits(t *testing.T) {
	e := newEnv(allEnabled())
	e.dedup.seen["wamid.8"] = true

	disp, err := e.pipe.Process(context.Background(), textMessage("wamid.8", "hello again"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if disp != Duplicate {
		t.Fatalf("Process() = %v, want %v", disp, Duplicate)
	}
	if len(e.store.inserted) != 0 {
		t.Error("duplicate was inserted")
	}
	if e.text.calls != 0 {
		t.Errorf("duplicate reached the classifier %d times", e.text.calls)
	}
}

func TestProcess_RedeliveryOfDecidedMessage(t *testing.T) {
	e := newEnv(allEnabled())
	msg := textMessage("wamid.9", "hello")
	e.store.insertErr = message.ErrDuplicate
	e.store.existing = &message.Record{InboundMessage: *msg, Status: models.StatusBlocked}

	disp, err := e.pipe.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if disp != Duplicate {
		t.Fatalf("Process() = %v, want %v", disp, Duplicate)
	}
	if len(e.dedup.marked) != 1 {
		t.Errorf("dedup marks = %v, want the decided message re-marked", e.dedup.marked)
	}
	// Side effects already ran on the first delivery.
	if len(e.sender.sent) != 0 || len(e.notifier.events) != 0 {
		t.Error("redelivery of a decided message re-ran side effects")
	}
}

func TestProcess_RedeliveryOfPendingMessageResumes(t *testing.T) {
	e := newEnv(allEnabled())
	msg := textMessage("wamid.10", "hello")
	e.store.insertErr = message.ErrDuplicate
	e.store.existing = &message.Record{InboundMessage: *msg, Status: models.StatusPending}

	disp, err := e.pipe.Process(context.Background(), msg)
	if err != nil || disp != Processed {
		t.Fatalf("Process() = %v, %v, want %v, nil", disp, err, Processed)
	}
	if e.text.calls != 1 {
		t.Errorf("classifier calls = %d, want 1 when resuming a pending message", e.text.calls)
	}
	if v := e.store.verdicts["wamid.10"]; v.Status != models.StatusApproved {
		t.Errorf("status = %v, want %v", v.Status, models.StatusApproved)
	}
}

func TestProcess_PersistFailureNotAcknowledged(t *testing.T) {
	e := newEnv(allEnabled())
	e.store.completeErr = errors.New("connection refused")

	disp, err := e.pipe.Process(context.Background(), textMessage("wamid.11", "hello"))
	if err == nil {
		t.Fatal("Process() error = nil, want persistence failure")
	}
	if disp != Failed {
		t.Fatalf("Process() = %v, want %v", disp, Failed)
	}
	if e.store.completeCalls != 3 {
		t.Errorf("CompleteVerdict attempts = %d, want 3", e.store.completeCalls)
	}
	if len(e.dedup.marked) != 0 {
		t.Errorf("dedup marks = %v, want none when the verdict is not durable", e.dedup.marked)
	}
	if len(e.notifier.events) != 0 {
		t.Error("unpersisted verdict produced owner events")
	}
}

func TestProcess_ConcurrentDecisionYields(t *testing.T) {
	e := newEnv(allEnabled())
	e.store.completeErr = message.ErrNotPending

	disp, err := e.pipe.Process(context.Background(), textMessage("wamid.12", "hello"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if disp != Duplicate {
		t.Fatalf("Process() = %v, want %v", disp, Duplicate)
	}
	if e.store.completeCalls != 1 {
		t.Errorf("CompleteVerdict attempts = %d, want 1 (no retry on a decided row)", e.store.completeCalls)
	}
	if len(e.sender.sent) != 0 || len(e.notifier.events) != 0 {
		t.Error("losing delivery ran side effects")
	}
}

func TestProcess_DedupErrorFailsOpen(t *testing.T) {
	e := newEnv(allEnabled())
	e.dedup.seenErr = errors.New("redis down")

	disp, err := e.pipe.Process(context.Background(), textMessage("wamid.13", "hello"))
	if err != nil || disp != Processed {
		t.Fatalf("Process() = %v, %v, want %v, nil", disp, err, Processed)
	}
	if _, ok := e.store.verdicts["wamid.13"]; !ok {
		t.Error("message was not processed despite dedup outage")
	}
}

func TestProcess_SendFailureRecordedNotFatal(t *testing.T) {
	cfg := allEnabled()
	cfg.BlockedWords = []string{"spam"}
	e := newEnv(cfg)
	e.sender.err = classify.FailureFromStatus("send", 503)

	disp, err := e.pipe.Process(context.Background(), textMessage("wamid.14", "pure spam"))
	if err != nil || disp != Processed {
		t.Fatalf("Process() = %v, %v, want %v, nil", disp, err, Processed)
	}
	if len(e.store.replies) != 1 {
		t.Fatalf("recorded replies = %d, want 1", len(e.store.replies))
	}
	if e.store.replies[0].sendError == "" {
		t.Error("failed notice recorded with empty send error")
	}
	if v := e.store.verdicts["wamid.14"]; v.Status != models.StatusBlocked {
		t.Errorf("status = %v, want %v (notice failure must not change the verdict)", v.Status, models.StatusBlocked)
	}
}

func TestDispositionString(t *testing.T) {
	tests := []struct {
		d    Disposition
		want string
	}{
		{Processed, "processed"},
		{Dropped, "dropped"},
		{Duplicate, "duplicate"},
		{Failed, "failed"},
		{Disposition(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Disposition(%d).String() = %q, want %q", int(tt.d), got, tt.want)
		}
	}
}
