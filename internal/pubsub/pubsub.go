// Package pubsub is the publish/subscribe substrate collaboration sessions piggyback on.
//
// Topics are keyed by playlist: [PresenceTopic] carries heartbeats and [ChangesTopic] carries
// change records. A [Subscription]'s channel closes when the subscription ends for any reason;
// consumers that did not close it themselves treat that as a channel error and resubscribe.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/themeroom/internal/shared"
)

// Message is the envelope for everything sent over a topic. Payload is opaque to the broker.
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// NewMessage encodes payload into a message for topic.
func NewMessage(topic, typ, sender string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	return Message{Topic: topic, Type: typ, Sender: sender, Payload: raw, SentAt: time.Now().UTC()}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Subscription delivers messages for one topic.
type Subscription interface {
	C() <-chan Message
	Close() error
}

// Broker publishes to and subscribes on named topics.
type Broker interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(ctx context.Context, msg Message) error
	Close() error
}

func PresenceTopic(playlistID string) string { return "playlist:" + playlistID + ":presence" }

func ChangesTopic(playlistID string) string { return "playlist:" + playlistID + ":changes" }

func channelErr(op, topic string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", shared.ErrChannel, op, topic, err)
}
