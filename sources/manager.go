// Package sources owns the lifecycle of ingest sources and the reader task
// behind each active one.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"github.com/madpsy/aisguard/ingest"
	"github.com/madpsy/aisguard/metrics"
	"github.com/madpsy/aisguard/store"
	"github.com/madpsy/aisguard/vessel"
)

var (
	ErrNotFound          = errors.New("sources: source not found")
	ErrInvalidTransition = errors.New("sources: invalid state transition")
	ErrInvalidArgument   = errors.New("sources: invalid argument")
)

const (
	DefaultReadTimeout = time.Second
	DefaultRetryDelay  = 5 * time.Second
)

var allStatuses = []string{
	string(vessel.StatusCreated),
	string(vessel.StatusActive),
	string(vessel.StatusPaused),
	string(vessel.StatusDisabled),
}

// Router is the part of the ingest router the manager drives.
type Router interface {
	Submit(ctx context.Context, raw ingest.RawSentence) (ingest.Outcome, error)
	RunBatch(ctx context.Context, sourceID string, rd io.Reader) (ingest.BatchSummary, error)
	SetPolicy(ctx context.Context, sourceID string, p ingest.Policy) error
	ForgetSource(sourceID string)
}

// Options tune reader behaviour.
type Options struct {
	ReadTimeout time.Duration
	RetryDelay  time.Duration
}

// Manager applies the source state machine and runs one reader per active
// or paused source.
type Manager struct {
	store   store.Store
	router  Router
	metrics *metrics.Metrics
	log     *slog.Logger
	opts    Options
	reg     *Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// serializes transitions so a reader is never started twice
	mu sync.Mutex
}

// NewManager returns a manager with no readers running. Call Restore to
// resume the sources persisted as active or paused.
func NewManager(st store.Store, router Router, m *metrics.Metrics, log *slog.Logger, opts Options) *Manager {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   st,
		router:  router,
		metrics: m,
		log:     log,
		opts:    opts,
		reg:     newRegistry(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Registry exposes the live reader registry.
func (m *Manager) Registry() *Registry { return m.reg }

// Close stops every reader and waits for them to exit. Stored statuses
// are left as they are so Restore picks them up on the next start.
func (m *Manager) Close() {
	m.cancel()
	for _, h := range m.reg.drain() {
		h.stop()
	}
	m.wg.Wait()
}

// CreateRequest describes a new source.
type CreateRequest struct {
	Name                 string              `json:"name"`
	Transport            vessel.Transport    `json:"source_type"`
	Config               vessel.SourceConfig `json:"config"`
	MessageLimit         int                 `json:"message_limit"`
	TargetLimit          int                 `json:"target_limit"`
	SpoofLimitKm         float64             `json:"spoof_limit_km"`
	KeepNonVesselTargets bool                `json:"keep_non_vessel_targets"`
}

func (req CreateRequest) validate() error {
	c := req.Config
	switch req.Transport {
	case vessel.TransportTCP:
		if c.Host == "" || c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("%w: tcp needs host and port", ErrInvalidArgument)
		}
	case vessel.TransportUDP:
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("%w: udp needs a port", ErrInvalidArgument)
		}
	case vessel.TransportSerial:
		if c.SerialPort == "" || c.BaudRate <= 0 {
			return fmt.Errorf("%w: serial needs port and baud rate", ErrInvalidArgument)
		}
	case vessel.TransportFile:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidArgument, req.Transport)
	}
	if req.MessageLimit < 0 || req.TargetLimit < 0 || req.SpoofLimitKm < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidArgument)
	}
	return nil
}

// Create stores a new source in the created state.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*vessel.Source, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	spoofKm := req.SpoofLimitKm
	if spoofKm == 0 {
		spoofKm = vessel.DefaultSpoofLimitKm
	}
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s source", req.Transport)
	}
	s := &vessel.Source{
		ID:                   uuid.NewString(),
		Name:                 name,
		Transport:            req.Transport,
		Config:               req.Config,
		Status:               vessel.StatusCreated,
		CreatedAt:            time.Now().UTC(),
		MessageLimit:         req.MessageLimit,
		TargetLimit:          req.TargetLimit,
		SpoofLimitKm:         spoofKm,
		KeepNonVesselTargets: req.KeepNonVesselTargets,
	}
	if err := m.store.PutSource(ctx, s); err != nil {
		return nil, err
	}
	m.metrics.SetSourceStatus(s.ID, string(s.Status), allStatuses)
	m.log.Info("source created", "source", s.ID, "type", s.Transport, "name", s.Name)
	return s, nil
}

// Get returns one source.
func (m *Manager) Get(ctx context.Context, id string) (*vessel.Source, error) {
	s, err := m.store.GetSource(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, err
}

// List returns every source in creation order.
func (m *Manager) List(ctx context.Context) ([]*vessel.Source, error) {
	return m.store.ListSources(ctx)
}

// transition moves id from one of the allowed states to next.
func (m *Manager) transition(ctx context.Context, id string, next vessel.Status, from ...vessel.Status) (*vessel.Source, error) {
	s, err := m.store.UpdateSource(ctx, id, func(s *vessel.Source) error {
		for _, f := range from {
			if s.Status == f {
				s.Status = next
				return nil
			}
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	m.metrics.SetSourceStatus(id, string(next), allStatuses)
	m.log.Info("source status changed", "source", id, "status", next)
	return s, nil
}

// Start opens the transport of a created or disabled source and begins
// forwarding its lines.
func (m *Manager) Start(ctx context.Context, id string) (*vessel.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.transition(ctx, id, vessel.StatusActive, vessel.StatusCreated, vessel.StatusDisabled)
	if err != nil {
		return nil, err
	}
	if err := m.router.SetPolicy(ctx, id, ingest.PolicyOf(s)); err != nil {
		return nil, err
	}
	m.spawn(s, false)
	return s, nil
}

// Restore restarts the readers of sources persisted as active or paused.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	all, err := m.store.ListSources(ctx)
	if err != nil {
		return err
	}
	for _, s := range all {
		m.metrics.SetSourceStatus(s.ID, string(s.Status), allStatuses)
		if s.Status != vessel.StatusActive && s.Status != vessel.StatusPaused {
			continue
		}
		if s.Transport == vessel.TransportFile && s.ProcessingComplete {
			continue
		}
		if _, running := m.reg.get(s.ID); running {
			continue
		}
		m.spawn(s, s.Status == vessel.StatusPaused)
	}
	return nil
}

// Pause keeps the transport open but stops forwarding lines.
func (m *Manager) Pause(ctx context.Context, id string) (*vessel.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.transition(ctx, id, vessel.StatusPaused, vessel.StatusActive)
	if err != nil {
		return nil, err
	}
	if h, ok := m.reg.get(id); ok {
		h.paused.Store(true)
	}
	return s, nil
}

// Resume forwards lines from a paused source again.
func (m *Manager) Resume(ctx context.Context, id string) (*vessel.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.transition(ctx, id, vessel.StatusActive, vessel.StatusPaused)
	if err != nil {
		return nil, err
	}
	if h, ok := m.reg.get(id); ok {
		h.paused.Store(false)
	}
	return s, nil
}

// Disable closes the transport. A disabled source can be started again.
func (m *Manager) Disable(ctx context.Context, id string) (*vessel.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disable(ctx, id)
}

func (m *Manager) disable(ctx context.Context, id string) (*vessel.Source, error) {
	s, err := m.transition(ctx, id, vessel.StatusDisabled,
		vessel.StatusCreated, vessel.StatusActive, vessel.StatusPaused, vessel.StatusDisabled)
	if err != nil {
		return nil, err
	}
	if h, ok := m.reg.take(id); ok {
		h.stop()
	}
	return s, nil
}

// DisableAll disables every source that is not already disabled and
// returns how many changed.
func (m *Manager) DisableAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all, err := m.store.ListSources(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range all {
		if s.Status == vessel.StatusDisabled {
			continue
		}
		if _, err := m.disable(ctx, s.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Delete stops the source and removes it. With cascade its messages and
// positions go too, along with vessels no other source has reported.
func (m *Manager) Delete(ctx context.Context, id string, cascade bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	if h, ok := m.reg.take(id); ok {
		h.stop()
	}
	if err := m.store.DeleteSource(ctx, id, cascade); err != nil {
		return err
	}
	m.router.ForgetSource(id)
	m.log.Info("source deleted", "source", id, "cascade", cascade)
	return nil
}

// SetSpoofLimit sets the distance beyond which vessels are flagged against
// this source's own station.
func (m *Manager) SetSpoofLimit(ctx context.Context, id string, km float64) (*vessel.Source, error) {
	if km <= 0 {
		return nil, fmt.Errorf("%w: spoof limit must be positive", ErrInvalidArgument)
	}
	return m.updatePolicy(ctx, id, func(s *vessel.Source) { s.SpoofLimitKm = km })
}

// SetMessageLimit caps the raw messages stored for the source; 0 is unlimited.
func (m *Manager) SetMessageLimit(ctx context.Context, id string, limit int) (*vessel.Source, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: message limit must not be negative", ErrInvalidArgument)
	}
	return m.updatePolicy(ctx, id, func(s *vessel.Source) { s.MessageLimit = limit })
}

// SetTargetLimit caps the distinct MMSIs tracked for the source; 0 is unlimited.
func (m *Manager) SetTargetLimit(ctx context.Context, id string, limit int) (*vessel.Source, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: target limit must not be negative", ErrInvalidArgument)
	}
	return m.updatePolicy(ctx, id, func(s *vessel.Source) { s.TargetLimit = limit })
}

// SetKeepNonVessel exempts base stations and AtoNs from the target limit.
func (m *Manager) SetKeepNonVessel(ctx context.Context, id string, keep bool) (*vessel.Source, error) {
	return m.updatePolicy(ctx, id, func(s *vessel.Source) { s.KeepNonVesselTargets = keep })
}

func (m *Manager) updatePolicy(ctx context.Context, id string, fn func(*vessel.Source)) (*vessel.Source, error) {
	s, err := m.store.UpdateSource(ctx, id, func(s *vessel.Source) error {
		fn(s)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := m.router.SetPolicy(ctx, id, ingest.PolicyOf(s)); err != nil {
		return nil, err
	}
	return s, nil
}

// Upload creates a file source for rd, runs it as a one-shot batch and
// returns the batch summary. rd may be gzip or zstd compressed.
func (m *Manager) Upload(ctx context.Context, name string, rd io.Reader, policy CreateRequest) (*vessel.Source, ingest.BatchSummary, error) {
	policy.Name = name
	policy.Transport = vessel.TransportFile
	s, err := m.Create(ctx, policy)
	if err != nil {
		return nil, ingest.BatchSummary{}, err
	}
	if s, err = m.transition(ctx, s.ID, vessel.StatusActive, vessel.StatusCreated); err != nil {
		return nil, ingest.BatchSummary{}, err
	}
	if err := m.router.SetPolicy(ctx, s.ID, ingest.PolicyOf(s)); err != nil {
		return nil, ingest.BatchSummary{}, err
	}
	counter := &countingReader{r: rd}
	lines, release, err := openCapture(counter)
	if err != nil {
		return m.finishFile(ctx, s.ID, counter.n, err), ingest.BatchSummary{}, err
	}
	defer release()
	sum, err := m.router.RunBatch(ctx, s.ID, lines)
	s = m.finishFile(ctx, s.ID, counter.n, err)
	return s, sum, err
}

func (m *Manager) finishFile(ctx context.Context, id string, size int64, runErr error) *vessel.Source {
	s, err := m.store.UpdateSource(ctx, id, func(s *vessel.Source) error {
		s.ProcessingComplete = runErr == nil
		s.Config.FileSize = size
		if runErr != nil {
			s.LastError = runErr.Error()
		}
		return nil
	})
	if err != nil {
		m.log.Warn("record file completion", "source", id, "err", err)
	}
	return s
}

// ListSerialPorts returns the serial devices present on this host.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("sources: list serial ports: %w", err)
	}
	return ports, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
