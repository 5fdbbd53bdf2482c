package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
)

// Snapshot is one source's counters at a point in time.
type Snapshot struct {
	SourceID       string
	Status         string
	Messages       int64
	Fragments      int64
	DecodeErrors   int64
	ChecksumErrors int64
	Duplicates     int64
	Targets        int64
}

// SnapshotFunc returns the current counters of every source.
type SnapshotFunc func() []Snapshot

// InfluxWriter writes Snapshots to an InfluxDB 1.x database on a ticker.
type InfluxWriter struct {
	client   client.Client
	database string
	interval time.Duration
	collect  SnapshotFunc
	log      *slog.Logger
}

// NewInfluxWriter connects to addr (http://host:port) and creates database
// if it does not exist.
func NewInfluxWriter(addr, database string, interval time.Duration, collect SnapshotFunc, log *slog.Logger) (*InfluxWriter, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{Addr: addr, Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("metrics: influx client: %w", err)
	}
	w := &InfluxWriter{client: c, database: database, interval: interval, collect: collect, log: log}
	if err := w.ensureDatabase(); err != nil {
		c.Close()
		return nil, err
	}
	return w, nil
}

// ensureDatabase issues CREATE DATABASE, which is a no-op when it exists.
func (w *InfluxWriter) ensureDatabase() error {
	q := client.NewQuery(fmt.Sprintf("CREATE DATABASE %q", w.database), "", "")
	resp, err := w.client.Query(q)
	if err != nil {
		return fmt.Errorf("metrics: create database %s: %w", w.database, err)
	}
	if resp.Error() != nil {
		return fmt.Errorf("metrics: create database %s: %w", w.database, resp.Error())
	}
	return nil
}

// Run writes a batch every interval until ctx is done.
func (w *InfluxWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := w.Write(now); err != nil {
				w.log.Warn("influx write failed", "err", err)
			}
		}
	}
}

// Write sends one batch of points stamped at now.
func (w *InfluxWriter) Write(now time.Time) error {
	bp, err := w.Batch(now)
	if err != nil {
		return err
	}
	return w.client.Write(bp)
}

// Batch builds the points for the current snapshots.
func (w *InfluxWriter) Batch(now time.Time) (client.BatchPoints, error) {
	return buildBatch(w.database, w.collect(), now, w.log)
}

func buildBatch(database string, snaps []Snapshot, now time.Time, log *slog.Logger) (client.BatchPoints, error) {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{Database: database, Precision: "s"})
	if err != nil {
		return nil, fmt.Errorf("metrics: batch points: %w", err)
	}
	var total Snapshot
	for _, s := range snaps {
		tags := map[string]string{"source_id": s.SourceID, "status": s.Status}
		p, err := client.NewPoint("ingest_source", tags, fields(s), now)
		if err != nil {
			log.Warn("influx point", "source", s.SourceID, "err", err)
			continue
		}
		bp.AddPoint(p)
		total.Messages += s.Messages
		total.Fragments += s.Fragments
		total.DecodeErrors += s.DecodeErrors
		total.ChecksumErrors += s.ChecksumErrors
		total.Duplicates += s.Duplicates
		total.Targets += s.Targets
	}
	p, err := client.NewPoint("ingest_total", nil, fields(total), now)
	if err != nil {
		return nil, fmt.Errorf("metrics: total point: %w", err)
	}
	bp.AddPoint(p)
	return bp, nil
}

func fields(s Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"messages":        s.Messages,
		"fragments":       s.Fragments,
		"decode_errors":   s.DecodeErrors,
		"checksum_errors": s.ChecksumErrors,
		"duplicates":      s.Duplicates,
		"targets":         s.Targets,
	}
}

// Close releases the HTTP client.
func (w *InfluxWriter) Close() error { return w.client.Close() }
