// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/chapterd/chapterd/internal/metrics"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing messages rather than stalling
// the publishing job.
const subscriberBuffer = 64

// MemoryBus is the in-process Bus used by single-instance deployments and
// tests. Not durable.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	closed bool
}

// NewMemory creates an empty in-process bus.
func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

// Publish delivers msg to every current subscriber of topic. Subscribers
// with full buffers are skipped.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}

	b.mu.RLock()
	subs := append([]*memSub(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			metrics.IncBusDropped("full")
		}
	}

	metrics.IncBusPublished(msg.Event)
	return nil
}

// Subscribe attaches a new subscriber to topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	sub := &memSub{b: b, topic: topic, ch: make(chan Message, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe topic %q: bus is closed", topic)
	}
	b.subs[topic] = append(b.subs[topic], sub)

	return sub, nil
}

// Close ends every subscription. Further subscribes fail; publishes become
// no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memSub
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*memSub)
	b.mu.Unlock()

	// Channel closes happen outside the lock: a concurrent sub.Close may
	// hold its once while waiting for the same lock.
	for _, sub := range all {
		sub.once.Do(func() { close(sub.ch) })
	}
	return nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
	once  sync.Once
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

// Close detaches the subscriber and closes its channel. Idempotent.
func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		close(s.ch)
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
