package store

import (
	"context"
	"sort"
	"sync"

	"github.com/madpsy/aisguard/vessel"
)

// Memory is an in-process Store. Everything it returns is a copy.
type Memory struct {
	mu       sync.RWMutex
	nextID   int64
	vessels  map[uint32]*vessel.Vessel
	tracks   map[uint32][]*vessel.Position
	vdo      map[string]map[uint32]*vessel.Position
	messages map[string][]*vessel.StoredMessage
	texts    map[string][]*vessel.TextMessage
	sources  map[string]*vessel.Source
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{sources: make(map[string]*vessel.Source)}
	m.resetData()
	return m
}

func (m *Memory) resetData() {
	m.vessels = make(map[uint32]*vessel.Vessel)
	m.tracks = make(map[uint32][]*vessel.Position)
	m.vdo = make(map[string]map[uint32]*vessel.Position)
	m.messages = make(map[string][]*vessel.StoredMessage)
	m.texts = make(map[string][]*vessel.TextMessage)
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// ── positions ─────────────────────────────────────────────────────────────

func (m *Memory) LastDisplay(_ context.Context, mmsi uint32) (float64, float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	track := m.tracks[mmsi]
	for i := len(track) - 1; i >= 0; i-- {
		if p := track[i]; p.DisplayLat != nil && p.DisplayLon != nil {
			return *p.DisplayLat, *p.DisplayLon, true, nil
		}
	}
	return 0, 0, false, nil
}

func (m *Memory) BackfillDisplay(_ context.Context, mmsi uint32, lat, lon float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	// Hidden positions only ever form a prefix of the track.
	for _, p := range m.tracks[mmsi] {
		if p.DisplayLat != nil && p.DisplayLon != nil {
			break
		}
		p.SetDisplay(lat, lon)
		n++
	}
	return n, nil
}

func (m *Memory) AddPosition(_ context.Context, p *vessel.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := p.Clone()
	c.ID = m.id()
	m.tracks[c.MMSI] = append(m.tracks[c.MMSI], c)
	if c.IsVDO && c.HasDisplay() {
		bySource := m.vdo[c.SourceID]
		if bySource == nil {
			bySource = make(map[uint32]*vessel.Position)
			m.vdo[c.SourceID] = bySource
		}
		bySource[c.MMSI] = c
	}
	return c.ID, nil
}

func (m *Memory) Positions(_ context.Context, mmsi uint32, includeHidden bool) ([]*vessel.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	track := m.tracks[mmsi]
	out := make([]*vessel.Position, 0, len(track))
	for _, p := range track {
		if includeHidden || p.HasDisplay() {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (m *Memory) VdoReferences(_ context.Context, sourceIDs ...string) ([]vessel.VdoReference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(sourceIDs) == 0 {
		for id := range m.vdo {
			sourceIDs = append(sourceIDs, id)
		}
		sort.Strings(sourceIDs)
	}
	var out []vessel.VdoReference
	for _, sid := range sourceIDs {
		limit := effectiveLimit(m.sources[sid])
		for _, p := range m.vdo[sid] {
			out = append(out, vessel.VdoReference{
				SourceID:     sid,
				MMSI:         p.MMSI,
				Lat:          *p.DisplayLat,
				Lon:          *p.DisplayLon,
				Timestamp:    p.Timestamp,
				SpoofLimitKm: limit,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].MMSI < out[j].MMSI
	})
	return out, nil
}

// ── vessels ───────────────────────────────────────────────────────────────

func (m *Memory) GetVessel(_ context.Context, mmsi uint32) (*vessel.Vessel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vessels[mmsi]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (m *Memory) PutVessel(_ context.Context, v *vessel.Vessel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vessels[v.MMSI] = v.Clone()
	return nil
}

func (m *Memory) ListVessels(_ context.Context) ([]*vessel.Vessel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*vessel.Vessel, 0, len(m.vessels))
	for _, v := range m.vessels {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MMSI < out[j].MMSI })
	return out, nil
}

func (m *Memory) DetachSource(_ context.Context, mmsi uint32, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vessels[mmsi]
	if !ok {
		return ErrNotFound
	}
	v.RemoveSource(sourceID)
	return nil
}

// ── messages ──────────────────────────────────────────────────────────────

func (m *Memory) AddMessage(_ context.Context, msg *vessel.StoredMessage, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *msg
	c.ID = m.id()
	list := append(m.messages[c.SourceID], &c)
	evicted := 0
	if limit > 0 && len(list) > limit {
		evicted = len(list) - limit
		list = append([]*vessel.StoredMessage(nil), list[evicted:]...)
	}
	m.messages[c.SourceID] = list
	return evicted, nil
}

func (m *Memory) Messages(_ context.Context, sourceID string) ([]*vessel.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.messages[sourceID]
	out := make([]*vessel.StoredMessage, len(list))
	for i, msg := range list {
		c := *msg
		out[i] = &c
	}
	return out, nil
}

func (m *Memory) AddTextMessage(_ context.Context, t *vessel.TextMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	c.ID = m.id()
	m.texts[c.SourceID] = append(m.texts[c.SourceID], &c)
	return nil
}

func (m *Memory) TextMessages(_ context.Context, sourceID string) ([]*vessel.TextMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.texts[sourceID]
	out := make([]*vessel.TextMessage, len(list))
	for i, t := range list {
		c := *t
		out[i] = &c
	}
	return out, nil
}

// ── sources ───────────────────────────────────────────────────────────────

func (m *Memory) PutSource(_ context.Context, s *vessel.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sources[s.ID] = &c
	return nil
}

func (m *Memory) GetSource(_ context.Context, id string) (*vessel.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *Memory) UpdateSource(_ context.Context, id string, fn func(*vessel.Source) error) (*vessel.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	if err := fn(&c); err != nil {
		return nil, err
	}
	m.sources[id] = &c
	out := c
	return &out, nil
}

func (m *Memory) ListSources(_ context.Context) ([]*vessel.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*vessel.Source, 0, len(m.sources))
	for _, s := range m.sources {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeleteSource(_ context.Context, id string, cascade bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return ErrNotFound
	}
	delete(m.sources, id)
	if !cascade {
		return nil
	}

	delete(m.messages, id)
	delete(m.texts, id)
	delete(m.vdo, id)
	for mmsi, track := range m.tracks {
		kept := track[:0]
		for _, p := range track {
			if p.SourceID != id {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(m.tracks, mmsi)
		} else {
			m.tracks[mmsi] = kept
		}
	}
	for mmsi, v := range m.vessels {
		if !v.RemoveSource(id) {
			continue
		}
		if len(v.SourceIDs) == 0 {
			delete(m.vessels, mmsi)
			delete(m.tracks, mmsi)
			continue
		}
		v.PositionCount = len(m.tracks[mmsi])
		v.LastPosition = nil
		track := m.tracks[mmsi]
		for i := len(track) - 1; i >= 0; i-- {
			if track[i].HasDisplay() {
				v.LastPosition = track[i].Clone()
				break
			}
		}
	}
	return nil
}

func (m *Memory) ClearData(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetData()
	for _, s := range m.sources {
		resetCounters(s)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
