// Package metrics exposes pipeline counters to Prometheus and periodically
// writes per-source ingest statistics to InfluxDB.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sentence results.
const (
	ResultDecoded   = "decoded"
	ResultFragment  = "fragment"
	ResultIgnored   = "ignored"
	ResultMalformed = "malformed"
	ResultChecksum  = "checksum"
	ResultDuplicate = "duplicate"
	ResultDecodeErr = "decode_error"
)

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	Sentences        *prometheus.CounterVec
	Messages         *prometheus.CounterVec
	FragmentDrops    *prometheus.CounterVec
	TargetEvictions  *prometheus.CounterVec
	MessageEvictions *prometheus.CounterVec
	Backfilled       prometheus.Counter
	SpoofFlags       prometheus.Counter
	ShardQueue       *prometheus.GaugeVec
	SourceStatus     *prometheus.GaugeVec
	Broadcasts       *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sentences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisguard_sentences_total",
			Help: "Input lines by source and result.",
		}, []string{"source", "result"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisguard_messages_total",
			Help: "Decoded AIS messages by message type.",
		}, []string{"type"}),
		FragmentDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisguard_fragment_drops_total",
			Help: "Discarded partial fragment groups by reason.",
		}, []string{"source", "reason"}),
		TargetEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisguard_target_evictions_total",
			Help: "Targets dropped from a source to honour its target limit.",
		}, []string{"source"}),
		MessageEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisguard_message_evictions_total",
			Help: "Stored raw messages evicted to honour a source's message limit.",
		}, []string{"source"}),
		Backfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aisguard_positions_backfilled_total",
			Help: "Earlier positions given display coordinates by a later valid fix.",
		}),
		SpoofFlags: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aisguard_spoof_flags_total",
			Help: "Position reports flagged as possibly spoofed.",
		}),
		ShardQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aisguard_shard_queue_depth",
			Help: "Pending jobs per ingest shard.",
		}, []string{"shard"}),
		SourceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aisguard_source_status",
			Help: "1 for the current lifecycle status of each source.",
		}, []string{"source", "status"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisguard_broadcast_events_total",
			Help: "Events delivered to sinks after coalescing, by kind.",
		}, []string{"kind"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisguard_sink_errors_total",
			Help: "Failed deliveries by sink.",
		}, []string{"sink"}),
	}
	reg.MustRegister(m.Sentences, m.Messages, m.FragmentDrops, m.TargetEvictions,
		m.MessageEvictions, m.Backfilled, m.SpoofFlags, m.ShardQueue, m.SourceStatus,
		m.Broadcasts, m.SinkErrors)
	return m
}

// NewNop returns collectors registered nowhere, for tests and tools.
func NewNop() *Metrics { return New(prometheus.NewRegistry()) }

// SetSourceStatus marks status as the only active status of a source.
func (m *Metrics) SetSourceStatus(sourceID, status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		m.SourceStatus.WithLabelValues(sourceID, s).Set(v)
	}
}

// ForgetSource drops every series labelled with sourceID.
func (m *Metrics) ForgetSource(sourceID string) {
	labels := prometheus.Labels{"source": sourceID}
	m.Sentences.DeletePartialMatch(labels)
	m.FragmentDrops.DeletePartialMatch(labels)
	m.TargetEvictions.DeletePartialMatch(labels)
	m.MessageEvictions.DeletePartialMatch(labels)
	m.SourceStatus.DeletePartialMatch(labels)
}
