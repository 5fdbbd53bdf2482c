package ingest

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/madpsy/aisguard/vessel"
)

// unlimited is the LRU capacity used when a source has no target limit.
const unlimited = 1 << 30

// Policy holds the per-source admission knobs.
type Policy struct {
	MessageLimit  int
	TargetLimit   int
	KeepNonVessel bool
	SpoofLimitKm  float64
}

// PolicyOf reads the admission knobs of a stored source.
func PolicyOf(s *vessel.Source) Policy {
	return Policy{
		MessageLimit:  s.MessageLimit,
		TargetLimit:   s.TargetLimit,
		KeepNonVessel: s.KeepNonVesselTargets,
		SpoofLimitKm:  s.SpoofLimitKm,
	}
}

// Stats are the live counters of one source.
type Stats struct {
	SourceID       string    `json:"source_id"`
	Lines          int64     `json:"lines"`
	Messages       int64     `json:"messages"`
	Fragments      int64     `json:"fragments"`
	Ignored        int64     `json:"ignored"`
	Duplicates     int64     `json:"duplicates"`
	DecodeErrors   int64     `json:"decode_errors"`
	ChecksumErrors int64     `json:"checksum_errors"`
	Targets        int       `json:"targets"`
	LastMessage    time.Time `json:"last_message,omitempty"`
}

type counters struct {
	lines, messages, fragments, ignored, duplicates atomic.Int64
	decodeErrors, checksumErrors                    atomic.Int64
	lastMessage                                     atomic.Int64 // unix nanos
}

func (c *counters) touch(t time.Time) {
	n := t.UnixNano()
	for {
		old := c.lastMessage.Load()
		if n <= old || c.lastMessage.CompareAndSwap(old, n) {
			return
		}
	}
}

func (c *counters) reset() {
	for _, v := range []*atomic.Int64{&c.lines, &c.messages, &c.fragments, &c.ignored,
		&c.duplicates, &c.decodeErrors, &c.checksumErrors, &c.lastMessage} {
		v.Store(0)
	}
}

// sourceState is the router's view of one source: policy, counters, the
// targets admitted under its target limit and the duplicate filter.
type sourceState struct {
	id string
	c  counters

	mu       sync.Mutex
	policy   Policy
	targets  *simplelru.LRU[uint32, bool] // value: non-vessel
	exempt   map[uint32]struct{}
	evicted  []uint32
	suppress bool

	dedupMu sync.Mutex
	dedup   map[uint32]time.Time
}

func newSourceState(id string, p Policy) *sourceState {
	st := &sourceState{
		id:     id,
		policy: p,
		exempt: make(map[uint32]struct{}),
		dedup:  make(map[uint32]time.Time),
	}
	// NewLRU only fails for a non-positive size.
	st.targets, _ = simplelru.NewLRU[uint32, bool](capacity(p.TargetLimit), st.onEvict)
	return st
}

func capacity(limit int) int {
	if limit <= 0 {
		return unlimited
	}
	return limit
}

func (st *sourceState) onEvict(mmsi uint32, _ bool) {
	if !st.suppress {
		st.evicted = append(st.evicted, mmsi)
	}
}

func (st *sourceState) getPolicy() Policy {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.policy
}

// admit records mmsi as a target of the source and returns the targets
// evicted to make room for it.
func (st *sourceState) admit(mmsi uint32, nonVessel bool) []uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()

	if nonVessel && st.policy.KeepNonVessel {
		if _, ok := st.targets.Peek(mmsi); ok {
			st.suppress = true
			st.targets.Remove(mmsi)
			st.suppress = false
		}
		st.exempt[mmsi] = struct{}{}
		return nil
	}
	if _, ok := st.exempt[mmsi]; ok {
		return nil
	}
	st.targets.Add(mmsi, nonVessel)
	return st.drain()
}

func (st *sourceState) drain() []uint32 {
	out := st.evicted
	st.evicted = nil
	return out
}

// setPolicy applies a new policy and returns the targets that no longer fit.
func (st *sourceState) setPolicy(p Policy) []uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()

	old := st.policy
	st.policy = p

	switch {
	case p.KeepNonVessel && !old.KeepNonVessel:
		for _, mmsi := range st.targets.Keys() {
			if nonVessel, _ := st.targets.Peek(mmsi); nonVessel {
				st.suppress = true
				st.targets.Remove(mmsi)
				st.suppress = false
				st.exempt[mmsi] = struct{}{}
			}
		}
	case !p.KeepNonVessel && old.KeepNonVessel:
		for mmsi := range st.exempt {
			st.targets.Add(mmsi, true)
		}
		st.exempt = make(map[uint32]struct{})
	}
	st.targets.Resize(capacity(p.TargetLimit))
	return st.drain()
}

func (st *sourceState) targetCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.targets.Len() + len(st.exempt)
}

func (st *sourceState) hasTarget(mmsi uint32) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.exempt[mmsi]; ok {
		return true
	}
	return st.targets.Contains(mmsi)
}

func (st *sourceState) clear() {
	st.mu.Lock()
	st.suppress = true
	st.targets.Purge()
	st.suppress = false
	st.exempt = make(map[uint32]struct{})
	st.evicted = nil
	st.mu.Unlock()

	st.dedupMu.Lock()
	st.dedup = make(map[uint32]time.Time)
	st.dedupMu.Unlock()

	st.c.reset()
}

// duplicate reports whether the same raw line was seen within window.
func (st *sourceState) duplicate(raw string, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	h := fnvHash(raw)
	st.dedupMu.Lock()
	defer st.dedupMu.Unlock()
	if t, seen := st.dedup[h]; seen && now.Sub(t) < window {
		return true
	}
	st.dedup[h] = now
	return false
}

func (st *sourceState) pruneDedup(now time.Time, window time.Duration) int {
	st.dedupMu.Lock()
	defer st.dedupMu.Unlock()
	n := 0
	for h, t := range st.dedup {
		if now.Sub(t) > window {
			delete(st.dedup, h)
			n++
		}
	}
	return n
}

func (st *sourceState) stats() Stats {
	s := Stats{
		SourceID:       st.id,
		Lines:          st.c.lines.Load(),
		Messages:       st.c.messages.Load(),
		Fragments:      st.c.fragments.Load(),
		Ignored:        st.c.ignored.Load(),
		Duplicates:     st.c.duplicates.Load(),
		DecodeErrors:   st.c.decodeErrors.Load(),
		ChecksumErrors: st.c.checksumErrors.Load(),
		Targets:        st.targetCount(),
	}
	if n := st.c.lastMessage.Load(); n > 0 {
		s.LastMessage = time.Unix(0, n).UTC()
	}
	return s
}

func fnvHash(message string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(message))
	return h.Sum32()
}
