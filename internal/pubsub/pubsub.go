// Package pubsub fans out chat, conversation and dispute events to
// subscribers such as websocket connections.
package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventMessageCreated   = "message.created"
	EventSessionUpdated   = "session.updated"
	EventModeChanged      = "mode.changed"
	EventConversationRead = "conversation.read"
	EventConversationMsg  = "conversation.message"
	EventDisputeResolved  = "dispute.resolved"
)

type Event struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

func NewEvent(topic, eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Topic: topic, Payload: b, At: time.Now().UTC()}, nil
}

// Broker delivers events published on a topic to every current subscriber
// of that topic. Delivery is best effort: a subscriber that cannot keep up
// is dropped and its channel closed.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events for topic. The channel is closed
	// when cancel is called, ctx is done, or the subscriber is dropped.
	Subscribe(ctx context.Context, topic string) (events <-chan Event, cancel func(), err error)
	Close() error
}

func SessionTopic(sessionID string) string {
	return "chat:session:" + sessionID
}

func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

func DisputeTopic(disputeID string) string {
	return "dispute:" + disputeID
}
