package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

// WebhookNotifier POSTs notification payloads to a downstream push/SMS
// gateway through a background worker pool. Deliveries retry up to 3 times
// with backoff; a full queue drops the notification after logging it, since
// the audit log remains the source of truth for what happened.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	queue      chan *notification
	stopped    chan struct{}
	stopOnce   sync.Once
	breaker    *breaker
	logger     *log.Logger
	wg         sync.WaitGroup
}

type notification struct {
	Kind      string  `json:"kind"` // pickup_arrival, trip_completion, admin_alert
	VehicleID int64   `json:"vehicleId"`
	TripID    int64   `json:"tripId"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	SentAt    string  `json:"sentAt"`

	attempt int
}

// NewWebhookNotifier starts a notifier with the given worker count.
func NewWebhookNotifier(url string, workers int) *WebhookNotifier {
	if workers <= 0 {
		workers = 4
	}
	logger := log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags)
	n := &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *notification, 1000),
		stopped:    make(chan struct{}),
		breaker:    newBreaker(5, 3, 30*time.Second, logger),
		logger:     logger,
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

func (n *WebhookNotifier) PickupArrival(ctx context.Context, vehicleID, tripID int64, lat, lon float64) {
	n.enqueue(&notification{Kind: "pickup_arrival", VehicleID: vehicleID, TripID: tripID, Lat: lat, Lon: lon})
}

func (n *WebhookNotifier) TripCompletion(ctx context.Context, vehicleID, tripID int64) {
	n.enqueue(&notification{Kind: "trip_completion", VehicleID: vehicleID, TripID: tripID})
}

func (n *WebhookNotifier) AdminAlert(ctx context.Context, vehicleID, tripID int64, reason string) {
	n.enqueue(&notification{Kind: "admin_alert", VehicleID: vehicleID, TripID: tripID, Reason: reason})
}

func (n *WebhookNotifier) enqueue(msg *notification) {
	select {
	case <-n.stopped:
		return
	default:
	}

	msg.SentAt = time.Now().Format(time.RFC3339)
	msg.attempt = 1
	select {
	case n.queue <- msg:
	default:
		n.logger.Printf("⚠️  Notification queue full, dropping %s for trip %d", msg.Kind, msg.TripID)
	}
}

// worker delivers until Shutdown, then drains what is already queued.
// The queue is never closed; stopped is the termination signal, so a
// retry can always re-enqueue safely.
func (n *WebhookNotifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case msg := <-n.queue:
			n.deliver(msg)
		case <-n.stopped:
			for {
				select {
				case msg := <-n.queue:
					n.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (n *WebhookNotifier) deliver(msg *notification) {
	if !n.breaker.allow() {
		n.logger.Printf("⚠️  Gateway breaker open, dropping %s for trip %d", msg.Kind, msg.TripID)
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Printf("❌ Failed to marshal notification: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.logger.Printf("❌ Failed to build notification request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 400 {
			n.breaker.record(true)
			return
		}
		n.logger.Printf("⚠️  Notification gateway returned %d for %s (trip %d)",
			resp.StatusCode, msg.Kind, msg.TripID)
	} else {
		n.logger.Printf("❌ Notification delivery failed: %v", err)
	}
	n.breaker.record(false)

	if msg.attempt < 3 {
		select {
		case <-n.stopped:
			// Shutting down; give up on the retry.
			return
		case <-time.After(time.Duration(msg.attempt*msg.attempt) * time.Second):
		}
		msg.attempt++
		select {
		case n.queue <- msg:
		default:
		}
	}
}

// Shutdown drains the queue and stops the workers. Pending retries are
// abandoned.
func (n *WebhookNotifier) Shutdown() {
	n.stopOnce.Do(func() { close(n.stopped) })
	n.wg.Wait()
}
