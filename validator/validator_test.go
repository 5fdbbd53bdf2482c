package validator

import (
	"context"
	"math/rand"
	"testing"

	"github.com/madpsy/aisguard/vessel"
)

// trail is an in-memory PositionStore for one test.
type trail struct {
	positions []*vessel.Position
}

func (tr *trail) LastDisplay(_ context.Context, mmsi uint32) (float64, float64, bool, error) {
	for i := len(tr.positions) - 1; i >= 0; i-- {
		p := tr.positions[i]
		if p.MMSI == mmsi && p.DisplayLat != nil && p.DisplayLon != nil {
			return *p.DisplayLat, *p.DisplayLon, true, nil
		}
	}
	return 0, 0, false, nil
}

func (tr *trail) BackfillDisplay(_ context.Context, mmsi uint32, lat, lon float64) (int, error) {
	n := 0
	for _, p := range tr.positions {
		if p.MMSI == mmsi && p.DisplayLat == nil {
			p.SetDisplay(lat, lon)
			n++
		}
	}
	return n, nil
}

func (tr *trail) add(t *testing.T, v *Validator, mmsi uint32, lat, lon float64) *vessel.Position {
	t.Helper()
	p := &vessel.Position{MMSI: mmsi, OriginalLat: lat, OriginalLon: lon}
	if _, err := v.Apply(context.Background(), p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	tr.positions = append(tr.positions, p)
	return p
}

func f(v float64) *float64 { return &v }

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon *float64
		want     bool
	}{
		{"origin", f(0), f(0), true},
		{"corners", f(-90), f(180), true},
		{"not available", f(91), f(181), false},
		{"lat out of range", f(90.0001), f(0), false},
		{"lon out of range", f(0), f(-180.5), false},
		{"missing lat", nil, f(0), false},
		{"missing lon", f(0), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.lat, tt.lon); got != tt.want {
				t.Errorf("IsValid = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackfillAfterInvalidStart(t *testing.T) {
	tr := &trail{}
	v := New(tr)

	p1 := tr.add(t, v, 123456789, 91, 181)
	p2 := tr.add(t, v, 123456789, 91, 181)
	if p1.HasDisplay() || p2.HasDisplay() {
		t.Fatal("invalid positions displayed before any valid fix")
	}
	p3 := tr.add(t, v, 123456789, 10, 20)

	for i, p := range tr.positions {
		if p.DisplayLat == nil || *p.DisplayLat != 10 || *p.DisplayLon != 20 {
			t.Errorf("position %d display = %v,%v, want 10,20", i+1, p.DisplayLat, p.DisplayLon)
		}
	}
	if p1.PositionValid || p2.PositionValid || !p3.PositionValid {
		t.Errorf("valid flags = %v %v %v, want false false true", p1.PositionValid, p2.PositionValid, p3.PositionValid)
	}
	if p1.OriginalLat != 91 || p1.OriginalLon != 181 {
		t.Errorf("original coordinates rewritten: %v,%v", p1.OriginalLat, p1.OriginalLon)
	}
}

func TestInvalidFreezesAtLastDisplay(t *testing.T) {
	tr := &trail{}
	v := New(tr)

	tr.add(t, v, 1, 51.5, -0.1)
	p := tr.add(t, v, 1, 91, 181)
	if !p.HasDisplay() || *p.DisplayLat != 51.5 || *p.DisplayLon != -0.1 {
		t.Errorf("display = %v,%v, want 51.5,-0.1", p.DisplayLat, p.DisplayLon)
	}
	if p.PositionValid {
		t.Error("frozen position marked valid")
	}
	// A second invalid fix follows the display chain, not original validity.
	q := tr.add(t, v, 1, 95, 0)
	if *q.DisplayLat != 51.5 {
		t.Errorf("second invalid display = %v", *q.DisplayLat)
	}
}

func TestNeverValidStaysHidden(t *testing.T) {
	tr := &trail{}
	v := New(tr)
	for i := 0; i < 5; i++ {
		p := tr.add(t, v, 7, 91, 181)
		if p.DisplayLat != nil || p.DisplayLon != nil || p.HasDisplay() {
			t.Fatalf("position %d has display %v,%v", i, p.DisplayLat, p.DisplayLon)
		}
	}
}

func TestVesselsDoNotShareTrails(t *testing.T) {
	tr := &trail{}
	v := New(tr)
	tr.add(t, v, 1, 10, 10)
	p := tr.add(t, v, 2, 91, 181)
	if p.DisplayLat != nil {
		t.Errorf("vessel 2 borrowed vessel 1's display: %v", *p.DisplayLat)
	}
}

func TestDisplayAlwaysInRange(t *testing.T) {
	tr := &trail{}
	v := New(tr)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		lat := r.Float64()*200 - 100
		lon := r.Float64()*400 - 200
		tr.add(t, v, uint32(r.Intn(5)+1), lat, lon)
	}
	for i, p := range tr.positions {
		if p.DisplayLat == nil {
			continue
		}
		if *p.DisplayLat < -90 || *p.DisplayLat > 90 || *p.DisplayLon < -180 || *p.DisplayLon > 180 {
			t.Fatalf("position %d display out of range: %v,%v", i, *p.DisplayLat, *p.DisplayLon)
		}
		lat, lon := p.OriginalLat, p.OriginalLon
		if IsValid(&lat, &lon) && (*p.DisplayLat != lat || *p.DisplayLon != lon || !p.PositionValid) {
			t.Fatalf("valid position %d not displayed as original", i)
		}
	}
}
