// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chapterd/chapterd/internal/log"
	"github.com/chapterd/chapterd/internal/metrics"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBus is a Redis pub/sub backed Bus shared by all daemon instances.
// Messages travel as JSON payloads on channels named after video ids.
type RedisBus struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	lg := log.WithComponent("bus")
	lg.Info().
		Str("event", "bus.redis_connected").
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis bus")

	return &RedisBus{client: client}, nil
}

// NewRedisWithClient wraps an existing client, used by tests.
func NewRedisWithClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends msg to every current subscriber of topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}

	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		metrics.IncBusDropped("publish_error")
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}

	metrics.IncBusPublished(msg.Event)
	return nil
}

// Subscribe attaches a new subscriber to topic. The subscription is active
// once Subscribe returns.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)

	// Wait for the subscription confirmation so publishes after this call
	// are guaranteed to reach the subscriber.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe topic %q: %w", topic, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan Message, subscriberBuffer)}
	go sub.forward()

	return sub, nil
}

// Close closes the Redis client and thereby all subscriptions.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Message
	once sync.Once
}

func (s *redisSub) forward() {
	defer close(s.ch)

	for m := range s.ps.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			metrics.IncBusDropped("decode_error")
			continue
		}
		select {
		case s.ch <- msg:
		default:
			metrics.IncBusDropped("full")
		}
	}
}

func (s *redisSub) C() <-chan Message {
	return s.ch
}

// Close detaches the subscriber. Idempotent; the message channel closes
// once the forwarder drains.
func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	return err
}

var _ Bus = (*RedisBus)(nil)
