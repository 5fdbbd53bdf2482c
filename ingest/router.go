// Package ingest routes raw sentences from every source through framing,
// reassembly and decoding, then applies each decoded message to the vessel
// state on a shard worker owning its MMSI.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/madpsy/aisguard/broadcast"
	"github.com/madpsy/aisguard/decoders"
	"github.com/madpsy/aisguard/metrics"
	"github.com/madpsy/aisguard/nmea"
	"github.com/madpsy/aisguard/spoof"
	"github.com/madpsy/aisguard/store"
	"github.com/madpsy/aisguard/validator"
	"github.com/madpsy/aisguard/vessel"
)

// ErrStopped is returned by Submit once the router has shut down.
var ErrStopped = errors.New("ingest: router stopped")

// RawSentence is one input line as read from a source.
type RawSentence struct {
	SourceID  string
	Transport vessel.Transport
	Line      string
	Arrival   time.Time
}

// Outcome says what happened to a submitted line.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeFragment
	OutcomeDuplicate
	OutcomeQueued
	OutcomeFailed
)

// Publisher receives real-time events.
type Publisher interface {
	Publish(broadcast.Event)
}

// Options tune the router. Zero fields take defaults.
type Options struct {
	Shards         int
	QueueSize      int
	FragmentTTL    time.Duration
	StrictChecksum bool
	DedupeWindow   time.Duration
	StatsInterval  time.Duration
	DefaultSpoofKm float64
}

func (o *Options) defaults() {
	if o.Shards <= 0 {
		o.Shards = runtime.NumCPU()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.FragmentTTL <= 0 {
		o.FragmentTTL = 30 * time.Second
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = 5 * time.Second
	}
	if o.DefaultSpoofKm <= 0 {
		o.DefaultSpoofKm = vessel.DefaultSpoofLimitKm
	}
}

type jobKind int

const (
	jobMessage jobKind = iota
	jobText
	jobDetach
)

type job struct {
	kind     jobKind
	src      *sourceState
	mmsi     uint32
	sourceID string
	msg      decoders.Message
	text     decoders.Text
	frame    nmea.Complete
	at       time.Time
	logged   bool
	batch    *batch
}

// Router is the single entry point for raw sentences from every source.
type Router struct {
	opts      Options
	store     store.Store
	validator *validator.Validator
	detector  *spoof.Detector
	pub       Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
	failed    *slog.Logger

	reasm *nmea.Reassembler

	shards []chan job
	done   chan struct{}

	// gate orders enqueues against stop: once stopped is set no job can
	// land in a shard that nothing will drain.
	gate    sync.RWMutex
	stopped bool

	mu      sync.RWMutex
	sources map[string]*sourceState
}

// New builds a router. failed receives raw lines that could not be
// decoded and may be nil.
func New(st store.Store, pub Publisher, m *metrics.Metrics, log, failed *slog.Logger, opts Options) *Router {
	opts.defaults()
	if failed == nil {
		failed = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Router{
		opts:      opts,
		store:     st,
		validator: validator.New(st),
		detector:  spoof.NewDetector(opts.DefaultSpoofKm),
		pub:       pub,
		metrics:   m,
		log:       log,
		failed:    failed,
		shards:    make([]chan job, opts.Shards),
		done:      make(chan struct{}),
		sources:   make(map[string]*sourceState),
	}
	r.reasm = nmea.NewReassembler(opts.FragmentTTL, r.fragmentDropped)
	for i := range r.shards {
		r.shards[i] = make(chan job, opts.QueueSize)
	}
	return r
}

// Detector exposes the spoof detector for effective-range queries.
func (r *Router) Detector() *spoof.Detector { return r.detector }

// Run starts the shard workers, the fragment sweeper and the statistics
// flusher. It returns when ctx is done. Jobs still queued at that point are
// released as failed so no batch waits on them.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range r.shards {
		ch := ch
		g.Go(func() error {
			r.worker(gctx, ch)
			return nil
		})
	}
	g.Go(func() error {
		r.reasm.Run(gctx)
		return nil
	})
	g.Go(func() error {
		r.housekeeping(gctx)
		return nil
	})
	err := g.Wait()
	r.stop()
	r.flushStats(context.Background())
	return err
}

// stop refuses further jobs, waits out sends already in progress and then
// drains every shard.
func (r *Router) stop() {
	close(r.done)
	r.gate.Lock()
	r.stopped = true
	r.gate.Unlock()
	for _, ch := range r.shards {
		drain(ch)
	}
}

func drain(ch chan job) {
	for {
		select {
		case j := <-ch:
			if j.batch != nil {
				j.batch.done(false)
			}
		default:
			return
		}
	}
}

func (r *Router) worker(ctx context.Context, ch <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ch:
			r.handle(ctx, j)
		}
	}
}

func shardFor(mmsi uint32, n int) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatUint(uint64(mmsi), 10)))
	return int(h.Sum32() % uint32(n))
}

func (r *Router) enqueue(ctx context.Context, j job) error {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.stopped {
		return ErrStopped
	}
	select {
	case r.shards[shardFor(j.mmsi, len(r.shards))] <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}

// Submit frames one line and queues the decoded message for its MMSI's
// shard. Per-line failures are counted and returned, never fatal.
func (r *Router) Submit(ctx context.Context, raw RawSentence) (Outcome, error) {
	return r.submit(ctx, raw, nil)
}

func (r *Router) submit(ctx context.Context, raw RawSentence, b *batch) (Outcome, error) {
	st, err := r.source(ctx, raw.SourceID)
	if err != nil {
		return OutcomeFailed, err
	}
	st.c.lines.Add(1)
	if raw.Arrival.IsZero() {
		raw.Arrival = time.Now().UTC()
	}

	line := raw.Line
	ts, stripped, logged := nmea.SplitLogLine(line)
	if logged {
		line = stripped
	}

	s, err := nmea.Parse(line)
	switch {
	case errors.Is(err, nmea.ErrNotAIS):
		st.c.ignored.Add(1)
		r.sentence(st.id, metrics.ResultIgnored)
		return OutcomeIgnored, nil
	case err != nil:
		st.c.decodeErrors.Add(1)
		r.sentence(st.id, metrics.ResultMalformed)
		r.failed.Info("malformed sentence", "source", st.id, "raw", line, "err", err)
		return OutcomeFailed, err
	}
	if s.HasChecksum && !s.ChecksumOK {
		st.c.checksumErrors.Add(1)
		if r.opts.StrictChecksum {
			r.sentence(st.id, metrics.ResultChecksum)
			r.failed.Info("checksum mismatch", "source", st.id, "raw", line)
			return OutcomeFailed, fmt.Errorf("ingest: checksum mismatch: %s", line)
		}
	}
	if st.duplicate(s.Raw, raw.Arrival, r.opts.DedupeWindow) {
		st.c.duplicates.Add(1)
		r.sentence(st.id, metrics.ResultDuplicate)
		return OutcomeDuplicate, nil
	}
	if s.Total > 1 {
		st.c.fragments.Add(1)
	}

	c, ok := r.reasm.Add(st.id, s)
	if !ok {
		r.sentence(st.id, metrics.ResultFragment)
		return OutcomeFragment, nil
	}

	j := job{src: st, sourceID: st.id, frame: c, at: raw.Arrival, batch: b}
	if logged {
		j.at, j.logged = ts, true
	}

	if decoders.IsTextType(c.Payload) {
		t, err := decoders.DecodeText(c.Payload, c.FillBits)
		if err != nil {
			return r.decodeFailed(st, c, err)
		}
		j.kind, j.text, j.mmsi = jobText, t, t.MMSI
	} else {
		msg, err := decoders.Decode(c.Payload, c.FillBits)
		if err != nil {
			return r.decodeFailed(st, c, err)
		}
		j.kind, j.msg, j.mmsi = jobMessage, msg, msg.SourceMMSI()
	}

	if b != nil {
		b.add(j.mmsi)
	}
	if err := r.enqueue(ctx, j); err != nil {
		if b != nil {
			b.wg.Done()
		}
		return OutcomeFailed, err
	}
	r.sentence(st.id, metrics.ResultDecoded)
	return OutcomeQueued, nil
}

func (r *Router) decodeFailed(st *sourceState, c nmea.Complete, err error) (Outcome, error) {
	st.c.decodeErrors.Add(1)
	r.sentence(st.id, metrics.ResultDecodeErr)
	r.failed.Info("decode failed", "source", st.id, "raw", c.RawText(), "err", err)
	return OutcomeFailed, err
}

func (r *Router) sentence(sourceID, result string) {
	r.metrics.Sentences.WithLabelValues(sourceID, result).Inc()
}

func (r *Router) fragmentDropped(sourceID string, reason nmea.DropReason, fragments int) {
	r.metrics.FragmentDrops.WithLabelValues(sourceID, string(reason)).Inc()
	r.log.Debug("fragment group dropped", "source", sourceID, "reason", reason, "fragments", fragments)
}

// detach routes the removal of a source attribution to the shard owning
// mmsi. The caller may itself be a shard worker, so a full queue is handed
// to a goroutine instead of blocking.
func (r *Router) detach(ctx context.Context, st *sourceState, evicted []uint32) {
	for _, mmsi := range evicted {
		r.metrics.TargetEvictions.WithLabelValues(st.id).Inc()
		j := job{kind: jobDetach, mmsi: mmsi, sourceID: st.id, src: st}
		select {
		case r.shards[shardFor(mmsi, len(r.shards))] <- j:
		default:
			go r.enqueue(ctx, j)
		}
	}
}

// source returns the state of sourceID, seeding it from the store on first
// use. Unknown sources get the default policy.
func (r *Router) source(ctx context.Context, id string) (*sourceState, error) {
	r.mu.RLock()
	st, ok := r.sources[id]
	r.mu.RUnlock()
	if ok {
		return st, nil
	}

	src, err := r.store.GetSource(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		src = nil
	case err != nil:
		return nil, fmt.Errorf("ingest: load source %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.sources[id]; ok {
		return st, nil
	}
	if src == nil {
		st = newSourceState(id, Policy{})
	} else {
		st = newSourceState(id, PolicyOf(src))
		st.c.messages.Store(src.MessageCount)
		st.c.fragments.Store(src.FragmentCount)
		st.c.decodeErrors.Store(src.DecodeErrors)
		st.c.checksumErrors.Store(src.ChecksumErrors)
		if !src.LastMessage.IsZero() {
			st.c.lastMessage.Store(src.LastMessage.UnixNano())
		}
	}
	r.sources[id] = st
	return st, nil
}

// SetPolicy applies new limits to a source. Targets beyond a lowered
// target limit are detached immediately.
func (r *Router) SetPolicy(ctx context.Context, sourceID string, p Policy) error {
	st, err := r.source(ctx, sourceID)
	if err != nil {
		return err
	}
	r.detach(ctx, st, st.setPolicy(p))
	return nil
}

// ForgetSource drops every piece of router state held for a deleted source.
func (r *Router) ForgetSource(sourceID string) {
	r.mu.Lock()
	delete(r.sources, sourceID)
	r.mu.Unlock()
	r.reasm.ForgetSource(sourceID)
	r.detector.ForgetSource(sourceID)
	r.metrics.ForgetSource(sourceID)
}

// ClearData wipes vessels, positions and messages, and resets every
// source's counters and targets. Sources are kept.
func (r *Router) ClearData(ctx context.Context) error {
	r.mu.RLock()
	for _, st := range r.sources {
		st.clear()
	}
	r.mu.RUnlock()
	r.detector.Reset()
	if err := r.store.ClearData(ctx); err != nil {
		return fmt.Errorf("ingest: clear data: %w", err)
	}
	r.log.Info("cleared vessel, position and message data")
	return nil
}
