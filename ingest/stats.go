package ingest

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/madpsy/aisguard/store"
	"github.com/madpsy/aisguard/vessel"
)

// Stats returns the live counters of one source.
func (r *Router) Stats(sourceID string) (Stats, bool) {
	r.mu.RLock()
	st, ok := r.sources[sourceID]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return st.stats(), true
}

// AllStats returns the live counters of every source seen so far, sorted
// by source id.
func (r *Router) AllStats() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.sources))
	for _, st := range r.sources {
		out = append(out, st.stats())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// HasTarget reports whether mmsi is currently admitted under the source's
// target limit.
func (r *Router) HasTarget(sourceID string, mmsi uint32) bool {
	r.mu.RLock()
	st, ok := r.sources[sourceID]
	r.mu.RUnlock()
	return ok && st.hasTarget(mmsi)
}

func (r *Router) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(r.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.flushStats(ctx)
			for i, ch := range r.shards {
				r.metrics.ShardQueue.WithLabelValues(strconv.Itoa(i)).Set(float64(len(ch)))
			}
			if r.opts.DedupeWindow > 0 {
				r.mu.RLock()
				for _, st := range r.sources {
					st.pruneDedup(now, r.opts.DedupeWindow)
				}
				r.mu.RUnlock()
			}
		}
	}
}

// flushStats writes the live counters back onto the stored sources.
func (r *Router) flushStats(ctx context.Context) {
	for _, s := range r.AllStats() {
		_, err := r.store.UpdateSource(ctx, s.SourceID, func(src *vessel.Source) error {
			src.MessageCount = s.Messages
			src.FragmentCount = s.Fragments
			src.DecodeErrors = s.DecodeErrors
			src.ChecksumErrors = s.ChecksumErrors
			src.TargetCount = int64(s.Targets)
			src.LastMessage = s.LastMessage
			return nil
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.log.Warn("store source stats", "source", s.SourceID, "err", err)
		}
	}
}
