package metrics

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSourceStatusIsExclusive(t *testing.T) {
	m := New(prometheus.NewRegistry())
	all := []string{"active", "paused", "disabled"}
	m.SetSourceStatus("s1", "active", all)
	m.SetSourceStatus("s1", "paused", all)

	if got := testutil.ToFloat64(m.SourceStatus.WithLabelValues("s1", "paused")); got != 1 {
		t.Errorf("paused = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SourceStatus.WithLabelValues("s1", "active")); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
}

func TestForgetSource(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Sentences.WithLabelValues("s1", ResultDecoded).Add(3)
	m.Sentences.WithLabelValues("s2", ResultDecoded).Inc()
	m.ForgetSource("s1")
	if n := testutil.CollectAndCount(m.Sentences); n != 1 {
		t.Errorf("series after ForgetSource = %d, want 1", n)
	}
}

func TestBuildBatch(t *testing.T) {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	bp, err := buildBatch("ais", []Snapshot{
		{SourceID: "a", Status: "active", Messages: 10, Targets: 2},
		{SourceID: "b", Status: "paused", Messages: 5, DecodeErrors: 1},
	}, now, log)
	if err != nil {
		t.Fatal(err)
	}
	pts := bp.Points()
	if len(pts) != 3 {
		t.Fatalf("points = %d, want 3", len(pts))
	}
	total := pts[2]
	if total.Name() != "ingest_total" {
		t.Fatalf("last point = %s", total.Name())
	}
	f, err := total.Fields()
	if err != nil {
		t.Fatal(err)
	}
	if f["messages"] != int64(15) || f["decode_errors"] != int64(1) {
		t.Errorf("total fields = %v", f)
	}
}
