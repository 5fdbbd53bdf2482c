package nmea

import (
	"testing"
	"time"
)

type dropRecord struct {
	sourceID string
	reason   DropReason
	n        int
}

func newTestReassembler(ttl time.Duration) (*Reassembler, *[]dropRecord) {
	var drops []dropRecord
	r := NewReassembler(ttl, func(sourceID string, reason DropReason, n int) {
		drops = append(drops, dropRecord{sourceID, reason, n})
	})
	return r, &drops
}

func mustParse(t *testing.T, line string) Sentence {
	t.Helper()
	s, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse(%q): %v", line, err)
	}
	return s
}

func TestReassembleSingle(t *testing.T) {
	r, _ := newTestReassembler(time.Second)
	c, ok := r.Add("src", mustParse(t, baseStationVDO))
	if !ok {
		t.Fatal("single fragment not emitted")
	}
	if c.Payload != "4>kvmbiuHO969Rvgn<:CUW?P0<0m" || !c.IsVDO || c.FillBits != 0 {
		t.Errorf("complete = %+v", c)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
}

func TestReassembleTwoFragments(t *testing.T) {
	r, drops := newTestReassembler(time.Second)

	if _, ok := r.Add("src", mustParse(t, type5Part1)); ok {
		t.Fatal("first fragment emitted a message")
	}
	if r.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", r.Pending())
	}
	c, ok := r.Add("src", mustParse(t, type5Part2))
	if !ok {
		t.Fatal("second fragment did not complete the group")
	}
	want := "55?MbV02;H;s<HtKR20EHE:0@T4@Dn2222222216L961O5Gf0NSQEp6ClRp8" + "88888888880"
	if c.Payload != want {
		t.Errorf("payload = %q, want %q", c.Payload, want)
	}
	if c.FillBits != 2 {
		t.Errorf("FillBits = %d, want 2 (from the last fragment)", c.FillBits)
	}
	if len(c.Raw) != 2 || c.Raw[0] != type5Part1 {
		t.Errorf("Raw = %v", c.Raw)
	}
	if len(*drops) != 0 {
		t.Errorf("unexpected drops %v", *drops)
	}
}

func TestReassembleOnlyFirstFragment(t *testing.T) {
	r, _ := newTestReassembler(time.Second)
	if _, ok := r.Add("src", mustParse(t, type5Part1)); ok {
		t.Fatal("incomplete group emitted a message")
	}
}

func TestReassembleNewGroupOverwrites(t *testing.T) {
	r, drops := newTestReassembler(time.Second)
	r.Add("src", mustParse(t, type5Part1))
	// A fresh fragment #1 on the same key discards the unfinished group.
	r.Add("src", mustParse(t, type5Part1))
	if len(*drops) != 1 || (*drops)[0].reason != DropOverwritten {
		t.Fatalf("drops = %v, want one overwrite", *drops)
	}
	if _, ok := r.Add("src", mustParse(t, type5Part2)); !ok {
		t.Error("replacement group did not complete")
	}
}

func TestReassembleStrayContinuation(t *testing.T) {
	r, drops := newTestReassembler(time.Second)
	if _, ok := r.Add("src", mustParse(t, type5Part2)); ok {
		t.Fatal("stray continuation emitted a message")
	}
	if len(*drops) != 1 || (*drops)[0].reason != DropStray {
		t.Errorf("drops = %v, want one stray", *drops)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
}

func TestReassembleSourcesDoNotMix(t *testing.T) {
	r, _ := newTestReassembler(time.Second)
	r.Add("a", mustParse(t, type5Part1))
	if _, ok := r.Add("b", mustParse(t, type5Part2)); ok {
		t.Fatal("fragment from another source completed the group")
	}
	if _, ok := r.Add("a", mustParse(t, type5Part2)); !ok {
		t.Error("group on source a did not complete")
	}
}

func TestReassembleSweepExpires(t *testing.T) {
	r, drops := newTestReassembler(time.Second)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Add("src", mustParse(t, type5Part1))
	now = now.Add(500 * time.Millisecond)
	if n := r.Sweep(); n != 0 {
		t.Fatalf("Sweep before TTL dropped %d", n)
	}
	now = now.Add(2 * time.Second)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("Sweep after TTL dropped %d, want 1", n)
	}
	if len(*drops) != 1 || (*drops)[0].reason != DropExpired || (*drops)[0].sourceID != "src" {
		t.Errorf("drops = %v", *drops)
	}
}
