// Package pubsub is the broadcast fan-out for room events. Every accepted
// mutation is published to its room's topic; each subscriber attached to
// the topic at publish time receives the event once, in per-room submission
// order. There is no replay for late subscribers; clients reconcile through
// the recent-messages query instead.
package pubsub

import "context"

// RoomTopicPrefix namespaces the per-room broadcast topics.
const RoomTopicPrefix = "room."

// RoomTopic returns the broadcast topic for a room.
func RoomTopic(roomID string) string {
	return RoomTopicPrefix + roomID
}

// Message is the unit passed through the fan-out.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g. "room.a__b").
	Topic string
	// Payload contains the encoded event.
	Payload []byte
}

// Handler processes one received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from a topic.
type Subscriber interface {
	// Subscribe attaches handler to the topic until ctx is canceled.
	// It returns once the subscription is active; handling runs in the
	// background.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
