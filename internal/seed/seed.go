// Package seed loads the demo fleet: one office, two vehicles with drivers,
// one pending trip and one pickup point each. Used for local development
// and the demo dashboard; production disables it in config.
package seed

import (
	"context"
	"fmt"
	"log"

	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/store"
)

// Load inserts the fixtures unless vehicles already exist.
func Load(ctx context.Context, st store.Store) error {
	count, err := st.CountVehicles(ctx)
	if err != nil {
		return fmt.Errorf("count vehicles: %w", err)
	}
	if count > 0 {
		log.Printf("🌱 Seed skipped: %d vehicles already present", count)
		return nil
	}

	if _, err := st.CreateGeofence(ctx, core.OfficeGeofence{
		Name:         "Bangalore HQ",
		Latitude:     12.9716,
		Longitude:    77.5946,
		RadiusMeters: 100,
		Shape:        core.ShapeCircular,
	}); err != nil {
		return fmt.Errorf("seed geofence: %w", err)
	}

	fleet := []struct {
		reg    string
		driver core.Driver
		pickup core.PickupPoint
	}{
		{
			reg:    "KA01AB1234",
			driver: core.Driver{Name: "Vighnes Bajpai", PhoneNumber: "+91-9876543210", LicenseNumber: "KA-0119900001234"},
			pickup: core.PickupPoint{Latitude: 12.9520, Longitude: 77.5750, RadiusMeters: 50},
		},
		{
			reg:    "TN03EF9012",
			driver: core.Driver{Name: "Krishna Seth", PhoneNumber: "+91-9123456780", LicenseNumber: "TN-0320010005678"},
			pickup: core.PickupPoint{Latitude: 12.9780, Longitude: 77.6450, RadiusMeters: 50},
		},
	}

	for _, f := range fleet {
		vehicle, err := st.CreateVehicle(ctx, core.Vehicle{RegistrationNumber: f.reg, Status: core.VehicleActive})
		if err != nil {
			return fmt.Errorf("seed vehicle %s: %w", f.reg, err)
		}

		driver := f.driver
		driver.VehicleID = vehicle.ID
		if _, err := st.CreateDriver(ctx, driver); err != nil {
			return fmt.Errorf("seed driver for %s: %w", f.reg, err)
		}

		trip, err := st.CreateTrip(ctx, core.Trip{VehicleID: vehicle.ID, Status: core.TripPending})
		if err != nil {
			return fmt.Errorf("seed trip for %s: %w", f.reg, err)
		}

		pickup := f.pickup
		pickup.TripID = trip.ID
		pickup.Status = core.PickupPending
		if _, err := st.CreatePickup(ctx, pickup); err != nil {
			return fmt.Errorf("seed pickup for %s: %w", f.reg, err)
		}
	}

	log.Printf("🌱 Seed complete: %d vehicles, %d trips", len(fleet), len(fleet))
	return nil
}
