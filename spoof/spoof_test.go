package spoof

import (
	"math"
	"testing"

	"github.com/madpsy/aisguard/vessel"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"same point", 10, 20, 10, 20, 0},
		{"one degree of latitude", 0, 0, 1, 0, 111.195},
		{"quarter meridian", 0, 0, 90, 0, 10007.543},
		{"antimeridian", 0, 179.5, 0, -179.5, 111.195},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Haversine = %.3f, want %.3f", got, tt.want)
			}
		})
	}
}

func ownStation(source string, limit float64) vessel.VdoReference {
	return vessel.VdoReference{SourceID: source, MMSI: 2320001, Lat: 0, Lon: 0, SpoofLimitKm: limit}
}

func TestCheckLimit(t *testing.T) {
	refs := []vessel.VdoReference{ownStation("s1", 500)}
	tests := []struct {
		name string
		lat  float64
		want bool
	}{
		{"400 km", 400 / 111.19493, false},
		{"600 km", 600 / 111.19493, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(500)
			res := d.Check(Target{MMSI: 244000400, Lat: tt.lat, Lon: 0, SourceIDs: []string{"s1"}}, refs)
			if res.Spoofed != tt.want {
				t.Errorf("Spoofed = %v, want %v (distance %.1f)", res.Spoofed, tt.want, res.Measurements[0].DistanceKm)
			}
		})
	}
}

func TestCheckIgnoresUnsharedSources(t *testing.T) {
	d := NewDetector(500)
	res := d.Check(Target{MMSI: 1, Lat: 50, Lon: 0, SourceIDs: []string{"s2"}},
		[]vessel.VdoReference{ownStation("s1", 500)})
	if res.Spoofed || len(res.Measurements) != 0 {
		t.Errorf("result = %+v, want no measurements", res)
	}
}

func TestCheckAnyReferenceFlags(t *testing.T) {
	d := NewDetector(500)
	near := vessel.VdoReference{SourceID: "a", MMSI: 3, Lat: 10, Lon: 0, SpoofLimitKm: 500}
	far := vessel.VdoReference{SourceID: "b", MMSI: 4, Lat: -10, Lon: 0, SpoofLimitKm: 500}
	res := d.Check(Target{MMSI: 9, Lat: 10.5, Lon: 0, SourceIDs: []string{"a", "b"}}, []vessel.VdoReference{near, far})
	if !res.Spoofed || len(res.Measurements) != 2 {
		t.Errorf("result = %+v, want spoofed by the far reference", res)
	}
}

func TestCheckSkipsOwnMMSIAndDefaultsLimit(t *testing.T) {
	d := NewDetector(0)
	ref := ownStation("s1", 0)
	self := d.Check(Target{MMSI: ref.MMSI, Lat: 40, Lon: 0, SourceIDs: []string{"s1"}}, []vessel.VdoReference{ref})
	if self.Spoofed || len(self.Measurements) != 0 {
		t.Errorf("own station measured against itself: %+v", self)
	}
	res := d.Check(Target{MMSI: 5, Lat: 600 / 111.19493, Lon: 0, SourceIDs: []string{"s1"}}, []vessel.VdoReference{ref})
	if !res.Spoofed || res.Measurements[0].LimitKm != vessel.DefaultSpoofLimitKm {
		t.Errorf("result = %+v, want spoofed under the default limit", res)
	}
}

func TestEffectiveRange(t *testing.T) {
	d := NewDetector(500)
	refs := []vessel.VdoReference{ownStation("s1", 500)}
	for _, lat := range []float64{1, 3, 2} {
		d.Check(Target{MMSI: 10, Lat: lat, SourceIDs: []string{"s1"}}, refs)
	}
	// A spoofed report never extends the range.
	d.Check(Target{MMSI: 11, Lat: 20, SourceIDs: []string{"s1"}}, refs)

	r, ok := d.EffectiveRange("s1", 2320001)
	if !ok || math.Abs(r-Haversine(0, 0, 3, 0)) > 1e-6 {
		t.Errorf("EffectiveRange = %v,%v, want %.1f", r, ok, Haversine(0, 0, 3, 0))
	}
	if got := d.Ranges(); len(got) != 1 || got[0].SourceID != "s1" {
		t.Errorf("Ranges = %+v", got)
	}
	d.ForgetSource("s1")
	if _, ok := d.EffectiveRange("s1", 2320001); ok {
		t.Error("range survived ForgetSource")
	}
}
