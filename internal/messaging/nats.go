// Package messaging provides the NATS client used to fan moderation events
// out of the gateway. It carries two traffics: owner-facing realtime events
// (verdicts, review-queue entries) published fire-and-forget, and the
// learner's observation task queue consumed by worker processes.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects.
const (
	// SubjectOwnerEvents is the prefix for owner-facing events; the full
	// subject is owner.<owner_id>.<event>. Delivery consumers (the chat
	// display layer) subscribe to owner.<owner_id>.> on their side.
	SubjectOwnerEvents = "owner"

	// SubjectObserve carries vocabulary observation tasks from the
	// pipeline to learner workers.
	SubjectObserve = "learn.observe"
)

// Owner event names published on SubjectOwnerEvents.
const (
	EventMessageModerated = "message_moderated"
)

// OwnerEvent is the envelope for everything published on an owner subject.
type OwnerEvent struct {
	Event   string      `json:"event"`
	OwnerID string      `json:"owner_id"`
	Payload interface{} `json:"payload,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chatwarden",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// ownerSubject builds owner.<ownerID>.<event>.
func ownerSubject(ownerID, event string) string {
	return SubjectOwnerEvents + "." + ownerID + "." + event
}

// NotifyOwner publishes an event to the owner's realtime subject. Publishing
// is fire-and-forget: the gateway does not wait for, or know about, any
// consumer. A dead context is the only local failure besides marshalling.
func (c *NATSClient) NotifyOwner(ctx context.Context, ownerID, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(OwnerEvent{
		Event:   event,
		OwnerID: ownerID,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("nats: marshal owner event: %w", err)
	}
	return c.Publish(ownerSubject(ownerID, event), data)
}

// SubscribeOwnerEvents subscribes to every event for one owner. This is the
// consumer side of the notification contract; delivery layers use it to
// feed their push channels.
func (c *NATSClient) SubscribeOwnerEvents(ownerID string, handler func(data []byte)) error {
	subject := SubjectOwnerEvents + "." + ownerID + ".>"
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeOwnerEvents drops an owner's event subscription.
func (c *NATSClient) UnsubscribeOwnerEvents(ownerID string) error {
	return c.unsubscribe(SubjectOwnerEvents + "." + ownerID + ".>")
}

// PublishObserve enqueues an observation task for the learner workers.
func (c *NATSClient) PublishObserve(data []byte) error {
	return c.Publish(SubjectObserve, data)
}

// QueueSubscribeObserve subscribes to observation tasks as part of a worker
// queue group: each task is delivered to exactly one member of the group.
func (c *NATSClient) QueueSubscribeObserve(queue string, handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectObserve, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", SubjectObserve, err)
	}

	c.mu.Lock()
	c.subs[SubjectObserve+":"+queue] = sub
	c.mu.Unlock()

	return nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Flush blocks until the server has processed everything published so far.
// Tests use it to make fire-and-forget publishes observable.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
