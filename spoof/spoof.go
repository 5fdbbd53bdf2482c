// Package spoof flags vessel positions that are implausibly far from the
// receiving station's own reported position.
package spoof

import (
	"math"
	"sort"
	"sync"

	"github.com/madpsy/aisguard/vessel"
)

// EarthRadiusKm is the mean radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two points in km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Measurement is the distance from one reference to the vessel.
type Measurement struct {
	Reference  vessel.VdoReference
	DistanceKm float64
	LimitKm    float64
	Exceeded   bool
}

// Result is the outcome of one check.
type Result struct {
	Spoofed      bool
	Measurements []Measurement
}

// Target is the vessel being checked.
type Target struct {
	MMSI      uint32
	Lat       float64
	Lon       float64
	SourceIDs []string
}

// Detector compares vessel positions against own-station references and
// tracks the effective reception range of each reference.
type Detector struct {
	defaultLimitKm float64

	mu     sync.RWMutex
	ranges map[rangeKey]float64
}

type rangeKey struct {
	sourceID string
	mmsi     uint32
}

// NewDetector returns a Detector; defaultLimitKm applies to references whose
// source never set a limit.
func NewDetector(defaultLimitKm float64) *Detector {
	if defaultLimitKm <= 0 {
		defaultLimitKm = vessel.DefaultSpoofLimitKm
	}
	return &Detector{
		defaultLimitKm: defaultLimitKm,
		ranges:         make(map[rangeKey]float64),
	}
}

// Check measures t against every reference on a source t was reported
// through. t is spoofed if any reference is further away than its limit.
// References from t itself are skipped, so an own station never flags
// itself.
func (d *Detector) Check(t Target, refs []vessel.VdoReference) Result {
	var res Result
	for _, ref := range refs {
		if ref.MMSI == t.MMSI || !hasSource(t.SourceIDs, ref.SourceID) {
			continue
		}
		limit := ref.SpoofLimitKm
		if limit <= 0 {
			limit = d.defaultLimitKm
		}
		dist := Haversine(ref.Lat, ref.Lon, t.Lat, t.Lon)
		m := Measurement{Reference: ref, DistanceKm: dist, LimitKm: limit, Exceeded: dist > limit}
		res.Measurements = append(res.Measurements, m)
		if m.Exceeded {
			res.Spoofed = true
		}
	}
	if !res.Spoofed {
		d.observe(res.Measurements)
	}
	return res
}

func (d *Detector) observe(ms []Measurement) {
	if len(ms) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range ms {
		k := rangeKey{m.Reference.SourceID, m.Reference.MMSI}
		if m.DistanceKm > d.ranges[k] {
			d.ranges[k] = m.DistanceKm
		}
	}
}

// Range is the furthest non-spoofed report seen through one reference.
type Range struct {
	SourceID string  `json:"source_id"`
	MMSI     uint32  `json:"mmsi"`
	RangeKm  float64 `json:"range_km"`
}

// EffectiveRange returns the tracked range for a reference.
func (d *Detector) EffectiveRange(sourceID string, mmsi uint32) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.ranges[rangeKey{sourceID, mmsi}]
	return r, ok
}

// Ranges lists every tracked range, ordered by source then MMSI.
func (d *Detector) Ranges() []Range {
	d.mu.RLock()
	out := make([]Range, 0, len(d.ranges))
	for k, r := range d.ranges {
		out = append(out, Range{SourceID: k.sourceID, MMSI: k.mmsi, RangeKm: r})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].MMSI < out[j].MMSI
	})
	return out
}

// ForgetSource drops the ranges of a deleted source.
func (d *Detector) ForgetSource(sourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.ranges {
		if k.sourceID == sourceID {
			delete(d.ranges, k)
		}
	}
}

// Reset clears every tracked range.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.ranges = make(map[rangeKey]float64)
	d.mu.Unlock()
}

func hasSource(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
