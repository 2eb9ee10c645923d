// Package engine holds the geofence evaluation logic. Evaluate is pure: it
// inspects one ping against the trip's pickups and the office geofences and
// returns an ordered effect list. The trip coordinator owns the transaction
// and applies the effects; keeping the decision side-effect free is what
// makes the exactly-once guarantees testable.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/geo"
)

// Config tunes the office-closure defences.
type Config struct {
	DwellTimeSeconds       int
	SpeedThresholdKmh      float64
	MinTripDurationMinutes int // 0 disables the minimum-duration gate
}

// EffectKind discriminates Effect.
type EffectKind int

const (
	EffectMarkPickupArrived EffectKind = iota
	EffectEmitEvent
	EffectSetOfficeEntry
	EffectCompleteTrip
	EffectNotifyPickup
	EffectNotifyCompletion
	EffectPublishGeofence
)

// Effect is one instruction for the coordinator. Which fields are meaningful
// depends on Kind:
//
//	MarkPickupArrived: PickupID
//	EmitEvent:         EventType, Lat, Lon
//	SetOfficeEntry:    EntryTime (nil clears the anchor)
//	CompleteTrip:      EndTime, DurationMinutes
//	NotifyPickup:      Lat, Lon
//	NotifyCompletion:  —
//	PublishGeofence:   EventType, Lat, Lon
type Effect struct {
	Kind            EffectKind
	PickupID        int64
	EventType       core.EventType
	Lat             float64
	Lon             float64
	EntryTime       *time.Time
	EndTime         time.Time
	DurationMinutes int
}

// EventChecker answers the secondary idempotency guard from inside the
// coordinator's transaction.
type EventChecker interface {
	ExistsEvent(ctx context.Context, tripID int64, eventType core.EventType) (bool, error)
}

// Evaluate runs one ping through the pickup pass and the office pipeline.
// now is the server clock captured by the coordinator; it stamps the dwell
// anchor and the closure, and the coordinator reuses it as the event
// timestamp for every emitted event.
func Evaluate(ctx context.Context, trip *core.Trip, ping core.Ping, pickups []core.PickupPoint, geofences []core.OfficeGeofence, cfg Config, now time.Time, events EventChecker) ([]Effect, error) {
	var effects []Effect

	effects = append(effects, evaluatePickups(ping, pickups)...)

	officeEffects, err := evaluateOffice(ctx, trip, ping, pickups, geofences, cfg, now, events)
	if err != nil {
		return nil, err
	}
	return append(effects, officeEffects...), nil
}

// evaluatePickups marks every still-pending pickup the ping lands inside.
// Pickups already ARRIVED are skipped, which is what makes replayed pings
// harmless here.
func evaluatePickups(ping core.Ping, pickups []core.PickupPoint) []Effect {
	ordered := make([]core.PickupPoint, len(pickups))
	copy(ordered, pickups)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var effects []Effect
	for _, p := range ordered {
		if p.Status != core.PickupPending {
			continue
		}
		if !geo.InsideCircle(ping.Latitude, ping.Longitude, p.Latitude, p.Longitude, p.RadiusMeters) {
			continue
		}
		effects = append(effects,
			Effect{Kind: EffectMarkPickupArrived, PickupID: p.ID},
			Effect{Kind: EffectEmitEvent, EventType: core.EventPickupArrived, Lat: ping.Latitude, Lon: ping.Longitude},
			Effect{Kind: EffectNotifyPickup, Lat: ping.Latitude, Lon: ping.Longitude},
			Effect{Kind: EffectPublishGeofence, EventType: core.EventPickupArrived, Lat: ping.Latitude, Lon: ping.Longitude},
		)
	}
	return effects
}

func evaluateOffice(ctx context.Context, trip *core.Trip, ping core.Ping, pickups []core.PickupPoint, geofences []core.OfficeGeofence, cfg Config, now time.Time, events EventChecker) ([]Effect, error) {
	inside := false
	for _, g := range geofences {
		if geo.InsideGeofence(ping.Latitude, ping.Longitude, g) {
			inside = true
			break
		}
	}

	// Drift reset: the vehicle anchored a dwell and then wandered out.
	// Clear the anchor so a re-entry starts dwell from scratch.
	if !inside && trip.OfficeEntryTime != nil && trip.Status == core.TripInProgress {
		return []Effect{
			{Kind: EffectSetOfficeEntry, EntryTime: nil},
			{Kind: EffectEmitEvent, EventType: core.EventGeofenceExit, Lat: ping.Latitude, Lon: ping.Longitude},
		}, nil
	}
	if !inside {
		return nil, nil
	}
	if trip.Status != core.TripInProgress {
		return nil, nil
	}

	// First ping inside: anchor the dwell and wait for the next one.
	if trip.OfficeEntryTime == nil {
		entry := now
		return []Effect{{Kind: EffectSetOfficeEntry, EntryTime: &entry}}, nil
	}

	dwell := now.Sub(*trip.OfficeEntryTime)
	if dwell < time.Duration(cfg.DwellTimeSeconds)*time.Second {
		return nil, nil
	}

	// Drive-through defence: closing requires the vehicle to be slow.
	if ping.Speed >= cfg.SpeedThresholdKmh {
		return nil, nil
	}

	if cfg.MinTripDurationMinutes > 0 && trip.StartTime != nil {
		if now.Sub(*trip.StartTime) < time.Duration(cfg.MinTripDurationMinutes)*time.Minute {
			return []Effect{
				{Kind: EffectEmitEvent, EventType: core.EventClosureBlockedMinDuration, Lat: ping.Latitude, Lon: ping.Longitude},
			}, nil
		}
	}

	for _, p := range pickups {
		if p.Status != core.PickupArrived {
			return []Effect{
				{Kind: EffectEmitEvent, EventType: core.EventClosureBlockedPendingPickups, Lat: ping.Latitude, Lon: ping.Longitude},
			}, nil
		}
	}

	// Secondary guard for lock release/re-acquire races: if a prior
	// transaction already closed this trip, do nothing.
	exists, err := events.ExistsEvent(ctx, trip.ID, core.EventOfficeReached)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	duration := 0
	if trip.StartTime != nil {
		duration = int(now.Sub(*trip.StartTime).Minutes())
	}
	return []Effect{
		{Kind: EffectEmitEvent, EventType: core.EventOfficeReached, Lat: ping.Latitude, Lon: ping.Longitude},
		{Kind: EffectCompleteTrip, EndTime: now, DurationMinutes: duration},
		{Kind: EffectEmitEvent, EventType: core.EventTripCompleted, Lat: ping.Latitude, Lon: ping.Longitude},
		{Kind: EffectNotifyCompletion},
		{Kind: EffectPublishGeofence, EventType: core.EventTripCompleted, Lat: ping.Latitude, Lon: ping.Longitude},
	}, nil
}

// ManualClose decides the effects of an operator-initiated closure. The
// caller has already verified the trip is IN_PROGRESS.
func ManualClose(trip *core.Trip, lat, lon float64, geofences []core.OfficeGeofence, now time.Time) []Effect {
	inside := false
	for _, g := range geofences {
		if geo.InsideGeofence(lat, lon, g) {
			inside = true
			break
		}
	}

	duration := 0
	if trip.StartTime != nil {
		duration = int(now.Sub(*trip.StartTime).Minutes())
	}

	var effects []Effect
	if inside {
		effects = append(effects,
			Effect{Kind: EffectEmitEvent, EventType: core.EventManualClosure, Lat: lat, Lon: lon},
		)
	} else {
		effects = append(effects,
			Effect{Kind: EffectEmitEvent, EventType: core.EventManualClosureOutsideGeofence, Lat: lat, Lon: lon},
			Effect{Kind: EffectEmitEvent, EventType: core.EventAdminAlert, Lat: lat, Lon: lon},
		)
	}
	return append(effects, Effect{Kind: EffectCompleteTrip, EndTime: now, DurationMinutes: duration})
}
