package nmea

import (
	"errors"
	"testing"
	"time"
)

const (
	baseStationVDO = "!ABVDO,1,1,,B,4>kvmbiuHO969Rvgn<:CUW?P0<0m,0*4D"
	type5Part1     = "!AIVDM,2,1,1,A,55?MbV02;H;s<HtKR20EHE:0@T4@Dn2222222216L961O5Gf0NSQEp6ClRp8,0*1C"
	type5Part2     = "!AIVDM,2,2,1,A,88888888880,2*25"
)

func TestParseSingleFragment(t *testing.T) {
	s, err := Parse(baseStationVDO)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !s.IsVDO {
		t.Error("IsVDO = false, want true")
	}
	if s.Total != 1 || s.Index != 1 || s.SeqID != "" || s.Channel != "B" {
		t.Errorf("framing = %d/%d seq %q ch %q", s.Index, s.Total, s.SeqID, s.Channel)
	}
	if s.Payload != "4>kvmbiuHO969Rvgn<:CUW?P0<0m" {
		t.Errorf("payload = %q", s.Payload)
	}
	if !s.HasChecksum || !s.ChecksumOK {
		t.Errorf("checksum has=%v ok=%v, want true/true", s.HasChecksum, s.ChecksumOK)
	}
}

func TestParseFillBitsAndChecksumMismatch(t *testing.T) {
	s, err := Parse("!AIVDM,2,2,1,A,88888888880,2*00")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.FillBits != 2 {
		t.Errorf("FillBits = %d, want 2", s.FillBits)
	}
	if !s.HasChecksum || s.ChecksumOK {
		t.Errorf("checksum has=%v ok=%v, want true/false", s.HasChecksum, s.ChecksumOK)
	}
}

func TestClassifyVDO(t *testing.T) {
	tests := []struct {
		line    string
		wantVDO bool
		wantAIS bool
	}{
		{"!ABVDO,1,1,,B,4>kvmbiuHO969Rvgn<:CUW?P0<0m,0*4D", true, true},
		{"!AIVDO,1,1,,B,4>kvmbiuHO969Rvgn<:CUW?P0<0m,0*4D", true, true},
		{"$ABVDO,1,1,,B,4>kvmbiuHO969Rvgn<:CUW?P0<0m,0*4D", true, true},
		{"$AIVDO,1,1,,B,4>kvmbiuHO969Rvgn<:CUW?P0<0m,0*4D", true, true},
		{"!AIVDM,1,1,,B,177KQJ5000G?tO`K>RA1wUbN0TKH,0*5C", false, true},
		{"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.line[:6], func(t *testing.T) {
			vdo, ais := ClassifyVDO(tt.line)
			if vdo != tt.wantVDO || ais != tt.wantAIS {
				t.Errorf("ClassifyVDO = (%v, %v), want (%v, %v)", vdo, ais, tt.wantVDO, tt.wantAIS)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"not a sentence", "hello world", ErrNotAIS},
		{"other nmea", "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47", ErrNotAIS},
		{"too few fields", "!AIVDM,1,1,,A*00", ErrMalformed},
		{"index beyond total", "!AIVDM,1,2,,A,15MwkT0P00G?Tq`K>P6B;wvP2<0=,0", ErrMalformed},
		{"bad fill", "!AIVDM,1,1,,A,15MwkT0P00G?Tq`K>P6B;wvP2<0=,7", ErrMalformed},
		{"empty payload", "!AIVDM,1,1,,A,,0", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.line); !errors.Is(err, tt.want) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.line, err, tt.want)
			}
		})
	}
}

func TestSplitLogLine(t *testing.T) {
	ts, msg, ok := SplitLogLine("2024-01-15 10:30:45 !AIVDM,1,1,,A,15MwkT0P00G?Tq`K>P6B;wvP2<0=,0*23")
	if !ok {
		t.Fatal("SplitLogLine ok = false")
	}
	if want := time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC); !ts.Equal(want) {
		t.Errorf("ts = %v, want %v", ts, want)
	}
	if msg != "!AIVDM,1,1,,A,15MwkT0P00G?Tq`K>P6B;wvP2<0=,0*23" {
		t.Errorf("msg = %q", msg)
	}

	if _, msg, ok := SplitLogLine(baseStationVDO); ok || msg != baseStationVDO {
		t.Errorf("plain sentence: ok=%v msg=%q", ok, msg)
	}
}
