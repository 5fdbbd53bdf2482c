package broadcast

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/madpsy/aisguard/metrics"
	"github.com/madpsy/aisguard/vessel"
)

type recordingSink struct {
	name    string
	err     error
	batches [][]Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(events []Event) error {
	s.batches = append(s.batches, append([]Event(nil), events...))
	return s.err
}

func newTestBroadcaster() (*Broadcaster, *metrics.Metrics) {
	m := metrics.NewNop()
	return New(time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)), m), m
}

func pos(mmsi uint32, lat float64) Event {
	return Event{Kind: KindPosition, MMSI: mmsi, Data: PositionUpdate{MMSI: mmsi, Lat: lat}}
}

func TestFlushCoalescesPerVessel(t *testing.T) {
	b, m := newTestBroadcaster()
	sink := &recordingSink{name: "rec"}
	b.AddSink(sink)

	b.Publish(pos(1, 10))
	b.Publish(pos(2, 20))
	b.Publish(pos(1, 11))
	b.Publish(pos(1, 12))
	b.Publish(Event{Kind: KindVesselInfo, MMSI: 1})

	if got := b.Pending(); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}
	if n := b.Flush(); n != 3 {
		t.Fatalf("Flush = %d, want 3", n)
	}
	if len(sink.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(sink.batches))
	}
	got := sink.batches[0]
	// First-queued order survives replacement.
	if got[0].MMSI != 1 || got[0].Kind != KindPosition || got[1].MMSI != 2 || got[2].Kind != KindVesselInfo {
		t.Fatalf("order = %+v", got)
	}
	if lat := got[0].Data.(PositionUpdate).Lat; lat != 12 {
		t.Errorf("coalesced lat = %v, want latest 12", lat)
	}
	if v := testutil.ToFloat64(m.Broadcasts.WithLabelValues(string(KindPosition))); v != 2 {
		t.Errorf("position broadcasts = %v, want 2", v)
	}

	if n := b.Flush(); n != 0 {
		t.Errorf("second Flush = %d, want 0", n)
	}
	if len(sink.batches) != 1 {
		t.Errorf("empty flush reached the sink")
	}
}

func TestSinkErrorIsCountedNotFatal(t *testing.T) {
	b, m := newTestBroadcaster()
	bad := &recordingSink{name: "bad", err: errors.New("down")}
	good := &recordingSink{name: "good"}
	b.AddSink(bad)
	b.AddSink(good)

	b.Publish(pos(7, 1))
	b.Flush()

	if len(good.batches) != 1 {
		t.Errorf("good sink batches = %d, want 1", len(good.batches))
	}
	if v := testutil.ToFloat64(m.SinkErrors.WithLabelValues("bad")); v != 1 {
		t.Errorf("sink errors = %v, want 1", v)
	}
}

func TestSubscribeDropsWhenFull(t *testing.T) {
	b, _ := newTestBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(pos(1, 1))
	b.Publish(pos(2, 2))
	b.Flush()

	if e := <-ch; e.MMSI != 1 {
		t.Errorf("first event MMSI = %d, want 1", e.MMSI)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected event %+v; buffer was full", e)
	default:
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Errorf("channel still open after cancel")
	}
	cancel()
	b.Publish(pos(3, 3))
	b.Flush()
}

func TestPositionEventNeedsDisplay(t *testing.T) {
	v := vessel.New(994031019, time.Now())
	p := &vessel.Position{MMSI: v.MMSI, OriginalLat: 91, OriginalLon: 181}
	if _, ok := PositionEvent(v, p); ok {
		t.Fatalf("event built for hidden position")
	}
	p.SetDisplay(18.01, 41.67)
	p.IsVDO = true
	e, ok := PositionEvent(v, p)
	if !ok {
		t.Fatalf("no event for displayable position")
	}
	u := e.Data.(PositionUpdate)
	if !u.IsBaseStation || !u.IsVDO || u.Lat != 18.01 {
		t.Errorf("update = %+v", u)
	}
}

func TestLatestVesselDataSkipsHidden(t *testing.T) {
	shown := vessel.New(244000401, time.Now())
	shown.LastPosition = &vessel.Position{MMSI: shown.MMSI}
	shown.LastPosition.SetDisplay(10, 20)
	hidden := vessel.New(244000402, time.Now())

	got := LatestVesselData([]*vessel.Vessel{shown, hidden})
	if len(got) != 1 || got["244000401"].Lon != 20 {
		t.Errorf("snapshot = %+v", got)
	}
}

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return fakeToken{p.err}
}

func TestMQTTPublishesPerKindAndMMSI(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTT(pub, "ais/")

	err := sink.Send([]Event{pos(244000400, 52.1), {Kind: KindVesselInfo, MMSI: 244000400, Data: VesselInfo{MMSI: 244000400, Name: "TEST"}}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []string{"ais/position/244000400", "ais/vessel_info/244000400"}
	for i, topic := range want {
		if pub.topics[i] != topic {
			t.Errorf("topic[%d] = %q, want %q", i, pub.topics[i], topic)
		}
	}
	var info VesselInfo
	if err := json.Unmarshal(pub.payloads[1], &info); err != nil || info.Name != "TEST" {
		t.Errorf("payload = %s (%v)", pub.payloads[1], err)
	}

	pub.err = errors.New("not connected")
	if err := sink.Send([]Event{pos(1, 1)}); err == nil {
		t.Errorf("publish error not reported")
	}
}
