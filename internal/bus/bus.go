// Package bus fans live updates out to dashboard subscribers. Two topics:
//
//	location-updates — every accepted ping, after persistence
//	geofence-events  — typed transitions plus trip lifecycle notifications
//
// Delivery is best-effort broadcast with no backlog: a slow subscriber's
// messages are dropped rather than blocking producers.
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TopicLocationUpdates = "location-updates"
	TopicGeofenceEvents  = "geofence-events"
)

// LocationUpdate is published on location-updates for every accepted ping.
type LocationUpdate struct {
	VehicleID       int64     `json:"vehicleId"`
	TripID          int64     `json:"tripId"`
	VehicleReg      string    `json:"vehicleReg"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Speed           float64   `json:"speed"`
	Timestamp       time.Time `json:"timestamp"`
	TripStatus      string    `json:"tripStatus"`
	TotalDistanceKm float64   `json:"totalDistanceKm"`
}

// GeofenceEvent is published on geofence-events for engine transitions and
// for the TRIP_STARTED / TRIP_RESET lifecycle notifications.
type GeofenceEvent struct {
	EventType  string    `json:"eventType"`
	VehicleID  int64     `json:"vehicleId"`
	TripID     int64     `json:"tripId"`
	VehicleReg string    `json:"vehicleReg"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"` // server clock
}

// Message is the envelope delivered to subscribers.
type Message struct {
	ID    string          `json:"id"`
	Topic string          `json:"topic"`
	Time  time.Time       `json:"time"`
	Data  json.RawMessage `json:"data"`
}

// Bus is satisfied by both the in-process bus and the Redis-backed bus.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topics ...string) chan *Message
	Unsubscribe(ch chan *Message)
}

// LocalBus is an in-process pub/sub bus. Subscribers receive messages on
// buffered channels; a full channel drops the message for that subscriber.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Message
	bufferSize  int
}

// NewLocalBus creates a bus with the default per-subscriber buffer.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		subscribers: make(map[string][]chan *Message),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving every future message on the given
// topics. Pass no topics to receive both.
func (b *LocalBus) Subscribe(topics ...string) chan *Message {
	if len(topics) == 0 {
		topics = []string{TopicLocationUpdates, TopicGeofenceEvents}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Message, b.bufferSize)
	for _, topic := range topics {
		b.subscribers[topic] = append(b.subscribers[topic], ch)
	}
	return ch
}

// Unsubscribe removes the channel from every topic and closes it.
func (b *LocalBus) Unsubscribe(ch chan *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		filtered := subs[:0]
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		b.subscribers[topic] = filtered
	}
	close(ch)
}

// Publish marshals the payload and broadcasts it to current subscribers.
// Sends never block: a full channel skips that subscriber.
func (b *LocalBus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.deliver(&Message{
		ID:    uuid.New().String(),
		Topic: topic,
		Time:  time.Now(),
		Data:  data,
	})
	return nil
}

func (b *LocalBus) deliver(msg *Message) {
	// The read lock is held across the sends so Unsubscribe cannot close a
	// channel mid-broadcast. The sends cannot block: every case has a
	// default, so the lock is held only for the fan-out itself.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[msg.Topic] {
		select {
		case ch <- msg:
		default:
			// Subscriber is slow; drop for this channel.
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *LocalBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
