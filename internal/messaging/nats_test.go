package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// newTestClient connects to a local NATS server. Tests that call this
// helper require a running NATS on localhost:4222.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.Name = "chatwarden-test"
	cfg.MaxReconnects = 1
	client, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestNotifyOwner_RoundTrip(t *testing.T) {
	client := newTestClient(t)

	received := make(chan []byte, 1)
	if err := client.SubscribeOwnerEvents("test_owner_rt", func(data []byte) {
		received <- data
	}); err != nil {
		t.Fatalf("SubscribeOwnerEvents: %v", err)
	}

	payload := map[string]interface{}{"message_id": "wamid.1", "status": "blocked"}
	if err := client.NotifyOwner(context.Background(), "test_owner_rt", EventMessageModerated, payload); err != nil {
		t.Fatalf("NotifyOwner: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	select {
	case data := <-received:
		var ev OwnerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Event != EventMessageModerated {
			t.Errorf("event = %q, want %q", ev.Event, EventMessageModerated)
		}
		if ev.OwnerID != "test_owner_rt" {
			t.Errorf("owner id = %q, want %q", ev.OwnerID, "test_owner_rt")
		}
		if ev.SentAt.IsZero() {
			t.Error("sent at not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("owner event not delivered")
	}
}

func TestNotifyOwner_CancelledContext(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.NotifyOwner(ctx, "test_owner_ctx", EventMessageModerated, nil); err == nil {
		t.Fatal("publish on a dead context did not fail")
	}
}

func TestObserveQueue_RoundTrip(t *testing.T) {
	client := newTestClient(t)

	received := make(chan []byte, 1)
	if err := client.QueueSubscribeObserve("test-learners", func(data []byte) {
		received <- data
	}); err != nil {
		t.Fatalf("QueueSubscribeObserve: %v", err)
	}

	task := []byte(`{"owner_id":"test_owner_q","message_id":"wamid.2","text":"hello"}`)
	if err := client.PublishObserve(task); err != nil {
		t.Fatalf("PublishObserve: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != string(task) {
			t.Errorf("task = %s, want %s", data, task)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observe task not delivered")
	}
}
