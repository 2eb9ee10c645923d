package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/store"
)

// AuditQuery is the read side of the audit trail.
type AuditQuery struct {
	reader store.Reader
}

func NewAuditQuery(reader store.Reader) *AuditQuery {
	return &AuditQuery{reader: reader}
}

// ByTrip returns a trip's events oldest first.
func (a *AuditQuery) ByTrip(ctx context.Context, tripID int64) ([]core.EventLog, error) {
	return a.reader.EventsByTrip(ctx, tripID)
}

// ByVehicle returns a vehicle's events newest first.
func (a *AuditQuery) ByVehicle(ctx context.Context, vehicleID int64) ([]core.EventLog, error) {
	return a.reader.EventsByVehicle(ctx, vehicleID)
}

// ByTimeRange returns events with from <= eventTimestamp <= to, oldest
// first. from must not be after to.
func (a *AuditQuery) ByTimeRange(ctx context.Context, from, to time.Time) ([]core.EventLog, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: from is after to", core.ErrValidation)
	}
	return a.reader.EventsByTimeRange(ctx, from, to)
}
