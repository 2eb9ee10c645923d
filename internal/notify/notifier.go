// Package notify is the outbound side-effect port: pickup arrival and trip
// completion messages to riders, admin alerts to the operations team.
// Delivery is at-least-once; the geofence engine guarantees at most one
// invocation per logical event per process lifetime.
package notify

import (
	"context"
	"log"
)

// Notifier is the capability set invoked by the trip coordinator and the
// admin service after a transaction commits.
type Notifier interface {
	PickupArrival(ctx context.Context, vehicleID, tripID int64, lat, lon float64)
	TripCompletion(ctx context.Context, vehicleID, tripID int64)
	AdminAlert(ctx context.Context, vehicleID, tripID int64, reason string)
}

// LogNotifier writes notifications to the process log. Default in dev and
// tests; production swaps in the webhook notifier.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags)}
}

func (n *LogNotifier) PickupArrival(ctx context.Context, vehicleID, tripID int64, lat, lon float64) {
	n.logger.Printf("🚕 Cab arrived at pickup — vehicle: %d, trip: %d, location: (%.4f, %.4f)",
		vehicleID, tripID, lat, lon)
}

func (n *LogNotifier) TripCompletion(ctx context.Context, vehicleID, tripID int64) {
	n.logger.Printf("✅ Trip #%d completed — vehicle %d reached the office", tripID, vehicleID)
}

func (n *LogNotifier) AdminAlert(ctx context.Context, vehicleID, tripID int64, reason string) {
	n.logger.Printf("⚠️  ADMIN ALERT — vehicle: %d, trip: %d, reason: %q", vehicleID, tripID, reason)
}
