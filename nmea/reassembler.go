package nmea

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DropReason says why a partial fragment group was discarded.
type DropReason string

const (
	// DropOverwritten: a new group started on a key with an unfinished group.
	DropOverwritten DropReason = "overwritten"
	// DropStray: a continuation fragment arrived with no matching group.
	DropStray DropReason = "stray"
	// DropExpired: the group was not completed within the TTL.
	DropExpired DropReason = "expired"
)

// Complete is a fully reassembled armored payload.
type Complete struct {
	SourceID string
	Payload  string
	FillBits int
	Channel  string
	IsVDO    bool
	// Raw holds the original lines in fragment order.
	Raw []string
}

// RawText joins the original lines the way they arrived on the wire.
func (c Complete) RawText() string { return strings.Join(c.Raw, "\r\n") }

type fragmentKey struct {
	sourceID string
	seqID    string
	channel  string
}

type fragmentEntry struct {
	total     int
	isVDO     bool
	parts     []string // slot 0 == fragment #1
	raw       []string
	firstSeen time.Time
	ts        time.Time
}

// DropFunc is told about every discarded fragment group.
type DropFunc func(sourceID string, reason DropReason, fragments int)

// Reassembler buffers multi-fragment sentences. Groups are keyed by
// (source, sequence id, channel). Fragments are only accepted in index
// order; anything that does not fit the next expected index discards the
// partial group, trading completeness for liveness on lossy transports.
type Reassembler struct {
	mu     sync.Mutex
	buf    map[fragmentKey]*fragmentEntry
	ttl    time.Duration
	onDrop DropFunc
	now    func() time.Time
}

// NewReassembler returns a Reassembler whose incomplete groups expire after ttl.
func NewReassembler(ttl time.Duration, onDrop DropFunc) *Reassembler {
	if onDrop == nil {
		onDrop = func(string, DropReason, int) {}
	}
	return &Reassembler{
		buf:    make(map[fragmentKey]*fragmentEntry),
		ttl:    ttl,
		onDrop: onDrop,
		now:    time.Now,
	}
}

// Add feeds one framed sentence. It returns the complete payload once the
// final fragment of a group arrives.
func (r *Reassembler) Add(sourceID string, s Sentence) (Complete, bool) {
	if s.Total <= 1 {
		return Complete{
			SourceID: sourceID,
			Payload:  s.Payload,
			FillBits: s.FillBits,
			Channel:  s.Channel,
			IsVDO:    s.IsVDO,
			Raw:      []string{s.Raw},
		}, true
	}

	key := fragmentKey{sourceID: sourceID, seqID: s.SeqID, channel: s.Channel}
	now := r.now()

	r.mu.Lock()
	e, ok := r.buf[key]
	if ok && (e.total != s.Total || s.Index != len(e.parts)+1) {
		delete(r.buf, key)
		r.mu.Unlock()
		r.onDrop(sourceID, DropOverwritten, len(e.parts))
		r.mu.Lock()
		e, ok = nil, false
	}
	if !ok {
		if s.Index != 1 {
			r.mu.Unlock()
			r.onDrop(sourceID, DropStray, 1)
			return Complete{}, false
		}
		e = &fragmentEntry{
			total:     s.Total,
			isVDO:     s.IsVDO,
			parts:     make([]string, 0, s.Total),
			raw:       make([]string, 0, s.Total),
			firstSeen: now,
		}
		r.buf[key] = e
	}
	e.parts = append(e.parts, s.Payload)
	e.raw = append(e.raw, s.Raw)
	e.ts = now

	if len(e.parts) < e.total {
		r.mu.Unlock()
		return Complete{}, false
	}
	delete(r.buf, key)
	r.mu.Unlock()

	return Complete{
		SourceID: sourceID,
		Payload:  strings.Join(e.parts, ""),
		FillBits: s.FillBits,
		Channel:  s.Channel,
		IsVDO:    e.isVDO,
		Raw:      e.raw,
	}, true
}

// Pending returns the number of incomplete groups.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Sweep drops any incomplete groups not touched within the TTL.
func (r *Reassembler) Sweep() int {
	now := r.now()
	type dropped struct {
		sourceID string
		n        int
	}
	var out []dropped

	r.mu.Lock()
	for k, e := range r.buf {
		if now.Sub(e.ts) > r.ttl {
			delete(r.buf, k)
			out = append(out, dropped{k.sourceID, len(e.parts)})
		}
	}
	r.mu.Unlock()

	for _, d := range out {
		r.onDrop(d.sourceID, DropExpired, d.n)
	}
	return len(out)
}

// ForgetSource drops every partial group belonging to sourceID without
// reporting them, used when a source is deleted.
func (r *Reassembler) ForgetSource(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.buf {
		if k.sourceID == sourceID {
			delete(r.buf, k)
		}
	}
}

// Run sweeps stale groups every TTL until ctx is done.
func (r *Reassembler) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(r.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
