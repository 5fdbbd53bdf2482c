// Package validator decides which coordinates of a position report are safe
// to display and keeps a vessel's trail continuous across invalid fixes.
package validator

import (
	"context"
	"fmt"

	"github.com/madpsy/aisguard/vessel"
)

// IsValid reports whether both coordinates are present and in range.
// 91/181 (AIS "not available") fail the range check.
func IsValid(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	return *lat >= -90 && *lat <= 90 && *lon >= -180 && *lon <= 180
}

// PositionStore is the part of the store the validator needs. Both methods
// only ever see positions of one MMSI at a time.
type PositionStore interface {
	// LastDisplay returns the display coordinates of the most recent stored
	// position of mmsi that has them.
	LastDisplay(ctx context.Context, mmsi uint32) (lat, lon float64, ok bool, err error)
	// BackfillDisplay sets display coordinates on every stored position of
	// mmsi that has none and returns how many were updated.
	BackfillDisplay(ctx context.Context, mmsi uint32, lat, lon float64) (int, error)
}

// Validator applies the display policy. Callers must serialise Apply per MMSI.
type Validator struct {
	store PositionStore
}

// New returns a Validator over store.
func New(store PositionStore) *Validator {
	return &Validator{store: store}
}

// Apply fills in p's display coordinates and validity flag before p is
// stored. A valid fix is displayed as-is and backfills earlier positions that
// never had display coordinates; an invalid fix reuses the last displayed
// coordinates, or stays undisplayed when there are none.
func (v *Validator) Apply(ctx context.Context, p *vessel.Position) (backfilled int, err error) {
	lat, lon := p.OriginalLat, p.OriginalLon
	if IsValid(&lat, &lon) {
		p.SetDisplay(lat, lon)
		p.PositionValid = true
		n, err := v.store.BackfillDisplay(ctx, p.MMSI, lat, lon)
		if err != nil {
			return 0, fmt.Errorf("validator: backfill %d: %w", p.MMSI, err)
		}
		return n, nil
	}

	p.PositionValid = false
	p.DisplayLat, p.DisplayLon = nil, nil
	dlat, dlon, ok, err := v.store.LastDisplay(ctx, p.MMSI)
	if err != nil {
		return 0, fmt.Errorf("validator: last display %d: %w", p.MMSI, err)
	}
	if ok && IsValid(&dlat, &dlon) {
		p.SetDisplay(dlat, dlon)
	}
	return 0, nil
}
