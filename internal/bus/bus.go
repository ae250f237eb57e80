// SPDX-License-Identifier: MIT

// Package bus provides publish/subscribe of JSON-tagged events on channels
// named after video ids. Channels are transient topics without history:
// late subscribers miss prior messages and recover completion state from
// the chapter store instead.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event tags carried on summary channels.
const (
	// EventSummary carries a {state, chapters[]} payload.
	EventSummary = "summary"

	// EventClose terminates a subscription.
	EventClose = "close"
)

// Message is one event on a channel.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage builds a Message with the payload marshaled as JSON. A nil
// payload yields a message without data, as used by EventClose.
func NewMessage(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

// Subscription is one subscriber's view of a channel. C is closed when the
// subscription ends; Close is idempotent and safe on all exit paths.
type Subscription interface {
	C() <-chan Message
	Close() error
}

// Bus is the event transport. Publishing is fire-and-forget: delivery is
// at-most-once and publishing to a channel without subscribers is a no-op.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}
