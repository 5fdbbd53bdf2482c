package sources

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/madpsy/aisguard/ingest"
	"github.com/madpsy/aisguard/metrics"
	"github.com/madpsy/aisguard/store"
	"github.com/madpsy/aisguard/vessel"
)

type fakeRouter struct {
	mu        sync.Mutex
	lines     chan string
	policies  map[string]ingest.Policy
	forgotten []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{lines: make(chan string, 100), policies: make(map[string]ingest.Policy)}
}

func (f *fakeRouter) Submit(_ context.Context, raw ingest.RawSentence) (ingest.Outcome, error) {
	f.lines <- raw.Line
	return ingest.OutcomeQueued, nil
}

func (f *fakeRouter) RunBatch(_ context.Context, _ string, rd io.Reader) (ingest.BatchSummary, error) {
	var sum ingest.BatchSummary
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		sum.Lines++
		if strings.HasPrefix(sc.Text(), "!") {
			sum.Processed++
		} else {
			sum.Skipped++
		}
	}
	return sum, sc.Err()
}

func (f *fakeRouter) SetPolicy(_ context.Context, id string, p ingest.Policy) error {
	f.mu.Lock()
	f.policies[id] = p
	f.mu.Unlock()
	return nil
}

func (f *fakeRouter) ForgetSource(id string) {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, id)
	f.mu.Unlock()
}

func (f *fakeRouter) next(t *testing.T) string {
	t.Helper()
	select {
	case l := <-f.lines:
		return l
	case <-time.After(2 * time.Second):
		t.Fatalf("no line forwarded")
		return ""
	}
}

func (f *fakeRouter) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case l := <-f.lines:
		t.Fatalf("unexpected line %q", l)
	case <-time.After(wait):
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeRouter, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	r := newFakeRouter()
	m := NewManager(st, r, metrics.NewNop(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options{ReadTimeout: 20 * time.Millisecond, RetryDelay: 20 * time.Millisecond})
	t.Cleanup(m.Close)
	return m, r, st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateValidates(t *testing.T) {
	m, _, _ := newTestManager(t)
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"tcp without host", CreateRequest{Transport: vessel.TransportTCP, Config: vessel.SourceConfig{Port: 10110}}},
		{"udp without port", CreateRequest{Transport: vessel.TransportUDP}},
		{"serial without baud", CreateRequest{Transport: vessel.TransportSerial, Config: vessel.SourceConfig{SerialPort: "/dev/ttyUSB0"}}},
		{"unknown transport", CreateRequest{Transport: "carrier-pigeon"}},
		{"negative limit", CreateRequest{Transport: vessel.TransportFile, TargetLimit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Create(context.Background(), tt.req); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}

	s, err := m.Create(context.Background(), CreateRequest{Transport: vessel.TransportFile})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" || s.Status != vessel.StatusCreated || s.SpoofLimitKm != vessel.DefaultSpoofLimitKm {
		t.Errorf("created = %+v", s)
	}
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)
	s, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportTCP,
		Config: vessel.SourceConfig{Host: "127.0.0.1", Port: addr.Port}})

	steps := []struct {
		op   string
		fn   func(context.Context, string) (*vessel.Source, error)
		want vessel.Status
		err  error
	}{
		{"pause before start", m.Pause, "", ErrInvalidTransition},
		{"start", m.Start, vessel.StatusActive, nil},
		{"start twice", m.Start, "", ErrInvalidTransition},
		{"resume active", m.Resume, "", ErrInvalidTransition},
		{"pause", m.Pause, vessel.StatusPaused, nil},
		{"resume", m.Resume, vessel.StatusActive, nil},
		{"disable", m.Disable, vessel.StatusDisabled, nil},
		{"pause disabled", m.Pause, "", ErrInvalidTransition},
		{"start again", m.Start, vessel.StatusActive, nil},
	}
	for _, st := range steps {
		got, err := st.fn(ctx, s.ID)
		if st.err != nil {
			if !errors.Is(err, st.err) {
				t.Fatalf("%s: err = %v, want %v", st.op, err, st.err)
			}
			continue
		}
		if err != nil || got.Status != st.want {
			t.Fatalf("%s: status = %v, err = %v", st.op, got, err)
		}
	}

	if _, err := m.Pause(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown source: %v", err)
	}
}

func TestTCPReaderPauseAndDisable(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	conns := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			conns <- c
		}
	}()

	s, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportTCP,
		Config: vessel.SourceConfig{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}})
	if _, err := m.Start(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	var conn net.Conn
	select {
	case conn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never connected")
	}
	defer conn.Close()

	io.WriteString(conn, "!AIVDM,first\r\n!AIVDM,sec")
	if got := r.next(t); got != "!AIVDM,first" {
		t.Errorf("line = %q", got)
	}
	io.WriteString(conn, "ond\n")
	if got := r.next(t); got != "!AIVDM,second" {
		t.Errorf("line split across reads = %q", got)
	}

	m.Pause(ctx, s.ID)
	io.WriteString(conn, "!AIVDM,while-paused\n")
	r.none(t, 100*time.Millisecond)

	m.Resume(ctx, s.ID)
	io.WriteString(conn, "!AIVDM,resumed\n")
	if got := r.next(t); got != "!AIVDM,resumed" {
		t.Errorf("line after resume = %q", got)
	}

	if _, err := m.Disable(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if running := m.Registry().Running(); len(running) != 0 {
		t.Errorf("readers still running: %v", running)
	}
}

func TestTransportErrorIsRecorded(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestManager(t)
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportTCP,
		Config: vessel.SourceConfig{Host: "127.0.0.1", Port: port}})
	other, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportFile})
	m.Start(ctx, s.ID)

	waitFor(t, "last error", func() bool {
		got, _ := st.GetSource(ctx, s.ID)
		return got.LastError != ""
	})
	got, _ := st.GetSource(ctx, s.ID)
	if got.Status != vessel.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if o, _ := st.GetSource(ctx, other.ID); o.LastError != "" {
		t.Errorf("error leaked to another source")
	}
}

func TestUDPReader(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)
	free, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := free.LocalAddr().(*net.UDPAddr).Port
	free.Close()

	s, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportUDP,
		Config: vessel.SourceConfig{Host: "127.0.0.1", Port: port}})
	m.Start(ctx, s.ID)

	conn, err := net.Dial("udp", free.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// The listener may not be bound yet; resend until a line arrives.
	var got string
	waitFor(t, "udp datagram", func() bool {
		conn.Write([]byte("!AIVDM,one\r\n!AIVDM,two\r\n"))
		select {
		case got = <-r.lines:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	})
	if got != "!AIVDM,one" {
		t.Errorf("first line = %q", got)
	}
	if next := r.next(t); next != "!AIVDM,two" {
		t.Errorf("second line = %q", next)
	}
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	body := "!AIVDM,a\n# comment\n!AIVDM,b\n"
	s, sum, err := m.Upload(ctx, "log.txt", strings.NewReader(body), CreateRequest{TargetLimit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Lines != 3 || sum.Processed != 2 || sum.Skipped != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if !s.ProcessingComplete || s.Config.FileSize != int64(len(body)) || s.Transport != vessel.TransportFile {
		t.Errorf("source = %+v", s)
	}
	if s.TargetLimit != 10 || s.Name != "log.txt" {
		t.Errorf("policy not kept: %+v", s)
	}
}

func TestPolicyUpdatesReachRouter(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)
	s, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportFile})

	if _, err := m.SetSpoofLimit(ctx, s.ID, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero spoof limit: %v", err)
	}
	if _, err := m.SetTargetLimit(ctx, s.ID, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative target limit: %v", err)
	}
	m.SetSpoofLimit(ctx, s.ID, 250)
	m.SetMessageLimit(ctx, s.ID, 100)
	m.SetTargetLimit(ctx, s.ID, 5)
	got, err := m.SetKeepNonVessel(ctx, s.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	want := ingest.Policy{MessageLimit: 100, TargetLimit: 5, KeepNonVessel: true, SpoofLimitKm: 250}
	if p := ingest.PolicyOf(got); p != want {
		t.Errorf("stored policy = %+v", p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.policies[s.ID] != want {
		t.Errorf("router policy = %+v, want %+v", r.policies[s.ID], want)
	}
}

func TestDeleteAndDisableAll(t *testing.T) {
	ctx := context.Background()
	m, r, st := newTestManager(t)
	a, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportFile})
	b, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportFile})
	c, _ := m.Create(ctx, CreateRequest{Transport: vessel.TransportFile})
	m.Disable(ctx, c.ID)

	n, err := m.DisableAll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("DisableAll = %d, %v", n, err)
	}
	for _, id := range []string{a.ID, b.ID} {
		if s, _ := st.GetSource(ctx, id); s.Status != vessel.StatusDisabled {
			t.Errorf("%s status = %s", id, s.Status)
		}
	}

	if err := m.Delete(ctx, a.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted source still found: %v", err)
	}
	if err := m.Delete(ctx, a.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.forgotten) != 1 || r.forgotten[0] != a.ID {
		t.Errorf("router forgot %v", r.forgotten)
	}
}
