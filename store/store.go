// Package store is the persistence boundary for vessels, positions, raw
// messages and sources. Memory keeps everything in process; Postgres keeps
// it in a database through lib/pq.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/madpsy/aisguard/vessel"
)

// ErrNotFound is returned when a vessel or source does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is implemented by Memory and Postgres. Writes for one MMSI are
// serialised by the caller; implementations only need to be safe for
// concurrent use across MMSIs.
type Store interface {
	// LastDisplay and BackfillDisplay back the position validator.
	LastDisplay(ctx context.Context, mmsi uint32) (lat, lon float64, ok bool, err error)
	BackfillDisplay(ctx context.Context, mmsi uint32, lat, lon float64) (int, error)

	GetVessel(ctx context.Context, mmsi uint32) (*vessel.Vessel, error)
	PutVessel(ctx context.Context, v *vessel.Vessel) error
	ListVessels(ctx context.Context) ([]*vessel.Vessel, error)
	// DetachSource removes one source attribution from a vessel and keeps
	// everything else.
	DetachSource(ctx context.Context, mmsi uint32, sourceID string) error

	// AddPosition appends p and returns its id.
	AddPosition(ctx context.Context, p *vessel.Position) (int64, error)
	// Positions returns the positions of mmsi in arrival order. Positions
	// without display coordinates are only included when includeHidden is set.
	Positions(ctx context.Context, mmsi uint32, includeHidden bool) ([]*vessel.Position, error)
	// VdoReferences returns the latest displayable own-station position per
	// (source, MMSI) for the given sources, or all sources when none are given.
	VdoReferences(ctx context.Context, sourceIDs ...string) ([]vessel.VdoReference, error)

	// AddMessage appends m and, when limit > 0, evicts the oldest messages
	// of the same source beyond limit. It returns the number evicted.
	AddMessage(ctx context.Context, m *vessel.StoredMessage, limit int) (int, error)
	Messages(ctx context.Context, sourceID string) ([]*vessel.StoredMessage, error)
	AddTextMessage(ctx context.Context, m *vessel.TextMessage) error
	TextMessages(ctx context.Context, sourceID string) ([]*vessel.TextMessage, error)

	PutSource(ctx context.Context, s *vessel.Source) error
	GetSource(ctx context.Context, id string) (*vessel.Source, error)
	// UpdateSource applies fn to the stored source atomically with respect
	// to other updates and returns the result. An error from fn aborts it.
	UpdateSource(ctx context.Context, id string, fn func(*vessel.Source) error) (*vessel.Source, error)
	ListSources(ctx context.Context) ([]*vessel.Source, error)
	// DeleteSource removes the source. With cascade it also removes its
	// messages and positions, and vessels no other source has reported.
	DeleteSource(ctx context.Context, id string, cascade bool) error

	// ClearData removes every vessel, position and message and resets
	// source counters. Sources survive.
	ClearData(ctx context.Context) error

	Close() error
}

func effectiveLimit(s *vessel.Source) float64 {
	if s == nil || s.SpoofLimitKm <= 0 {
		return vessel.DefaultSpoofLimitKm
	}
	return s.SpoofLimitKm
}

func resetCounters(s *vessel.Source) {
	s.MessageCount = 0
	s.TargetCount = 0
	s.FragmentCount = 0
	s.DecodeErrors = 0
	s.ChecksumErrors = 0
	s.LastMessage = time.Time{}
}
