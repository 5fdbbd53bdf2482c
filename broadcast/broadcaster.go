package broadcast

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/madpsy/aisguard/metrics"
)

// DefaultInterval is the flush period when none is configured.
const DefaultInterval = 2 * time.Second

// Sink delivers a flushed batch. Errors are logged and counted, never
// retried.
type Sink interface {
	Name() string
	Send(events []Event) error
}

type pendingKey struct {
	kind Kind
	mmsi uint32
}

// Broadcaster coalesces events per (kind, MMSI) and delivers only the
// latest state of each on every flush.
type Broadcaster struct {
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending map[pendingKey]Event
	seq     map[pendingKey]uint64
	next    uint64

	sinksMu sync.RWMutex
	sinks   []Sink
	subs    map[int]chan Event
	subSeq  int
}

// New returns a Broadcaster flushing every interval.
func New(interval time.Duration, log *slog.Logger, m *metrics.Metrics) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{
		interval: interval,
		log:      log,
		metrics:  m,
		pending:  make(map[pendingKey]Event),
		seq:      make(map[pendingKey]uint64),
		subs:     make(map[int]chan Event),
	}
}

// AddSink registers a sink for every later flush.
func (b *Broadcaster) AddSink(s Sink) {
	b.sinksMu.Lock()
	b.sinks = append(b.sinks, s)
	b.sinksMu.Unlock()
}

// Subscribe returns a channel receiving every flushed event. Events are
// dropped for a subscriber whose buffer is full. Call cancel to unsubscribe.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.sinksMu.Lock()
	b.subSeq++
	id := b.subSeq
	b.subs[id] = ch
	b.sinksMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.sinksMu.Lock()
			delete(b.subs, id)
			b.sinksMu.Unlock()
			close(ch)
		})
	}
}

// Publish queues e, replacing any queued event of the same kind and MMSI.
// It never blocks on consumers.
func (b *Broadcaster) Publish(e Event) {
	k := pendingKey{e.Kind, e.MMSI}
	b.mu.Lock()
	b.pending[k] = e
	if _, ok := b.seq[k]; !ok {
		b.next++
		b.seq[k] = b.next
	}
	b.mu.Unlock()
}

// Pending returns the number of queued events.
func (b *Broadcaster) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run flushes every interval until ctx is done, then flushes once more.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return nil
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Flush delivers the queued events in first-queued order.
func (b *Broadcaster) Flush() int {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return 0
	}
	type queued struct {
		seq uint64
		e   Event
	}
	batch := make([]queued, 0, len(b.pending))
	for k, e := range b.pending {
		batch = append(batch, queued{b.seq[k], e})
	}
	b.pending = make(map[pendingKey]Event)
	b.seq = make(map[pendingKey]uint64)
	b.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
	events := make([]Event, len(batch))
	for i, q := range batch {
		events[i] = q.e
		b.metrics.Broadcasts.WithLabelValues(string(q.e.Kind)).Inc()
	}

	b.sinksMu.RLock()
	defer b.sinksMu.RUnlock()
	for _, s := range b.sinks {
		if err := s.Send(events); err != nil {
			b.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			b.log.Warn("broadcast sink failed", "sink", s.Name(), "events", len(events), "err", err)
		}
	}
	for _, ch := range b.subs {
		for _, e := range events {
			select {
			case ch <- e:
			default:
			}
		}
	}
	return len(events)
}
