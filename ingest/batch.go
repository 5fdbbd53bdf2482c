package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/madpsy/aisguard/nmea"
	"github.com/madpsy/aisguard/vessel"
)

// maxLineBytes bounds a single uploaded line. Longer lines are counted as
// errors and skipped.
const maxLineBytes = 64 * 1024

// BatchSummary is the result of one upload. Skipped counts ignored lines,
// incomplete fragments and duplicates.
type BatchSummary struct {
	Lines     int `json:"lines"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	Targets   int `json:"targets"`
}

type batch struct {
	wg     sync.WaitGroup
	ok     atomic.Int64
	failed atomic.Int64

	mu      sync.Mutex
	targets map[uint32]struct{}
}

func (b *batch) add(mmsi uint32) {
	b.wg.Add(1)
	b.mu.Lock()
	b.targets[mmsi] = struct{}{}
	b.mu.Unlock()
}

func (b *batch) done(ok bool) {
	if ok {
		b.ok.Add(1)
	} else {
		b.failed.Add(1)
	}
	b.wg.Done()
}

// RunBatch feeds every line of rd to the router as sourceID and waits
// until all of them have been applied. Bad lines are counted, never fatal;
// only a read error, a cancelled context or a stopped router ends the
// batch early.
func (r *Router) RunBatch(ctx context.Context, sourceID string, rd io.Reader) (BatchSummary, error) {
	b := &batch{targets: make(map[uint32]struct{})}
	var sum BatchSummary

	lines := nmea.NewLineReader(rd, maxLineBytes)
	var runErr error
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		line, overlong, err := lines.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = fmt.Errorf("ingest: read batch: %w", err)
			break
		}
		sum.Lines++
		if overlong {
			sum.Errors++
			r.failed.Info("overlong line", "source", sourceID, "line", sum.Lines, "limit", maxLineBytes)
			continue
		}
		out, err := r.submit(ctx, RawSentence{
			SourceID:  sourceID,
			Transport: vessel.TransportFile,
			Line:      line,
			Arrival:   time.Now().UTC(),
		}, b)
		switch out {
		case OutcomeIgnored, OutcomeFragment, OutcomeDuplicate:
			sum.Skipped++
		case OutcomeFailed:
			sum.Errors++
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStopped) {
				runErr = err
			}
		}
		if runErr != nil {
			break
		}
	}

	b.wg.Wait()
	sum.Processed = int(b.ok.Load())
	sum.Errors += int(b.failed.Load())
	sum.Targets = len(b.targets)
	r.log.Info("batch finished", "source", sourceID, "lines", sum.Lines, "processed", sum.Processed,
		"skipped", sum.Skipped, "errors", sum.Errors, "targets", sum.Targets)
	return sum, runErr
}
