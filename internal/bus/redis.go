package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBus distributes messages across instances using Redis Pub/Sub. A
// message published on one instance reaches WebSocket subscribers on every
// instance; local delivery happens through the same subscription loop, so
// there is a single delivery path. If the Redis publish fails the message
// is delivered locally instead of being lost.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	local  *LocalBus

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisBus connects to Redis, verifies the connection and starts one
// subscription loop per topic.
func NewRedisBus(addr, password string, db int, channelPrefix string) (*RedisBus, error) {
	if channelPrefix == "" {
		channelPrefix = "fleet:events:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}
	slog.Info("Redis connected", "addr", addr, "db", db)

	b := &RedisBus{
		rdb:    rdb,
		prefix: channelPrefix,
		local:  NewLocalBus(),
	}

	for _, topic := range []string{TopicLocationUpdates, TopicGeofenceEvents} {
		if err := b.listen(topic); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *RedisBus) listen(topic string) error {
	sub := b.rdb.Subscribe(context.Background(), b.prefix+topic)

	// Wait for subscription confirmation before accepting publishes.
	if _, err := sub.Receive(context.Background()); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	ch := sub.Channel()
	go func() {
		for raw := range ch {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				slog.Warn("[RedisBus] Failed to unmarshal message", "topic", topic, "error", err)
				continue
			}
			b.local.deliver(&msg)
		}
	}()
	return nil
}

// Publish sends the message through Redis so every instance receives it.
// On publish failure it degrades to local-only delivery.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := &Message{
		ID:    uuid.New().String(),
		Topic: topic,
		Time:  time.Now(),
		Data:  data,
	}

	envelope, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.prefix+topic, envelope).Err(); err != nil {
		slog.Warn("[RedisBus] Publish failed, falling back to local", "topic", topic, "error", err)
		b.local.deliver(msg)
	}
	return nil
}

// Subscribe registers a local channel; messages arrive via the Redis loop.
func (b *RedisBus) Subscribe(topics ...string) chan *Message {
	return b.local.Subscribe(topics...)
}

// Unsubscribe removes and closes the channel.
func (b *RedisBus) Unsubscribe(ch chan *Message) {
	b.local.Unsubscribe(ch)
}

// Close stops the subscription loops and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = nil
	return b.rdb.Close()
}
