package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestDecoderRun(t *testing.T) {
	input := strings.Join([]string{
		"2024-01-15 10:30:45 !AIVDM,1,1,,A,13`dVT@P1T1KSH05f=P3Q2mp0000,0*75",
		"!AIVDM,2,1,1,A,55?MbV02;H;s<HtKR20EHE:0@T4@Dn2222222216L961O5Gf0NSQEp6ClRp8,0*1C",
		"!AIVDM,2,2,1,A,88888888880,2*25",
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47",
		"!AIVDM,1,1,,A,,0*00",
		"!ABVDO,1,1,,A,402E34AvPGbNeP00000000100000,0*63",
	}, "\n")

	var out bytes.Buffer
	d := newDecoder(&out, false, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sum, err := d.run(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := Summary{Lines: 6, Decoded: 3, Fragments: 1, Ignored: 1, Failed: 1}
	if sum != want {
		t.Errorf("summary = %+v, want %+v", sum, want)
	}

	type record struct {
		Line      int     `json:"line"`
		Timestamp *string `json:"timestamp"`
		IsVDO     bool    `json:"is_vdo"`
		Type      uint8   `json:"type"`
		MMSI      uint32  `json:"mmsi"`
	}
	var got []record
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r record
		if err := dec.Decode(&r); err != nil {
			t.Fatal(err)
		}
		got = append(got, r)
	}
	if len(got) != 3 {
		t.Fatalf("records = %+v", got)
	}
	if got[0].MMSI != 244000401 || got[0].Type != 1 || got[0].Timestamp == nil {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].MMSI != 351759000 || got[1].Type != 5 || got[1].Line != 3 {
		t.Errorf("second = %+v", got[1])
	}
	if got[2].MMSI != 2442001 || !got[2].IsVDO {
		t.Errorf("third = %+v", got[2])
	}
}

func TestDecoderStrictChecksum(t *testing.T) {
	var out bytes.Buffer
	d := newDecoder(&out, true, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sum, _ := d.run(strings.NewReader("!AIVDM,1,1,,A,13`dVT@P1T1KSH05f=P3Q2mp0000,0*00\n"))
	if sum.Failed != 1 || sum.Decoded != 0 || out.Len() != 0 {
		t.Errorf("summary = %+v, output %q", sum, out.String())
	}
}

func TestDecoderSkipsOverlongLine(t *testing.T) {
	input := "!AIVDM,1,1,,A,13`dVT@P1T1KSH05f=P3Q2mp0000,0*75\n" +
		strings.Repeat("x", maxLine+10) + "\n" +
		"!ABVDO,1,1,,A,402E34AvPGbNeP00000000100000,0*63\n"

	d := newDecoder(io.Discard, false, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sum, err := d.run(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if want := (Summary{Lines: 3, Decoded: 2, Failed: 1}); sum != want {
		t.Errorf("summary = %+v, want %+v", sum, want)
	}
}
