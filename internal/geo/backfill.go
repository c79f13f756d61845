package geo

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FlightPoints is one stored flight whose region references need resolving.
type FlightPoints struct {
	ID         int64
	TakeoffLon *float64
	TakeoffLat *float64
	LandingLon *float64
	LandingLat *float64
}

// BackfillStore is the storage surface the backfill pass needs.
type BackfillStore interface {
	// FlightsMissingRegion returns flights that have at least one point but
	// a missing region reference on that side.
	FlightsMissingRegion(ctx context.Context) ([]FlightPoints, error)

	// UpdateFlightRegions sets the region references; nil leaves a side as
	// unresolved (an expected outcome, not an error).
	UpdateFlightRegions(ctx context.Context, flightID int64, regionFrom, regionTo *string) error
}

// Backfill re-resolves region references for previously stored flights with
// points but no region assignment. Returns the number of flights updated.
func Backfill(ctx context.Context, store BackfillStore, resolver *Resolver, log *zap.Logger) (int, error) {
	flights, err := store.FlightsMissingRegion(ctx)
	if err != nil {
		return 0, fmt.Errorf("list flights for backfill: %w", err)
	}

	updated := 0
	for _, f := range flights {
		var from, to *string

		if f.TakeoffLon != nil && f.TakeoffLat != nil {
			if m, ok := resolver.Resolve(*f.TakeoffLon, *f.TakeoffLat); ok {
				code := m.Code
				from = &code
				if m.Ambiguous {
					log.Warn("ambiguous takeoff region",
						zap.Int64("flight", f.ID), zap.String("code", m.Code))
				}
			}
		}
		if f.LandingLon != nil && f.LandingLat != nil {
			if m, ok := resolver.Resolve(*f.LandingLon, *f.LandingLat); ok {
				code := m.Code
				to = &code
				if m.Ambiguous {
					log.Warn("ambiguous landing region",
						zap.Int64("flight", f.ID), zap.String("code", m.Code))
				}
			}
		}

		if from == nil && to == nil {
			continue
		}
		if err := store.UpdateFlightRegions(ctx, f.ID, from, to); err != nil {
			return updated, fmt.Errorf("update flight %d: %w", f.ID, err)
		}
		updated++
	}
	return updated, nil
}
