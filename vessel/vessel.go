// Package vessel holds the persisted records shared by the ingest pipeline:
// vessels, positions, sources, raw messages and text messages.
package vessel

import (
	"sort"
	"time"
)

// Position is one decoded position report for a vessel. OriginalLat/Lon are
// always the raw decoded values; DisplayLat/Lon are the coordinates that are
// safe to render and stay nil until a valid position is known.
type Position struct {
	ID            int64     `json:"id"`
	MMSI          uint32    `json:"mmsi"`
	SourceID      string    `json:"source_id"`
	MessageType   uint8     `json:"message_type"`
	Timestamp     time.Time `json:"timestamp"`
	OriginalLat   float64   `json:"original_lat"`
	OriginalLon   float64   `json:"original_lon"`
	DisplayLat    *float64  `json:"display_lat"`
	DisplayLon    *float64  `json:"display_lon"`
	PositionValid bool      `json:"position_valid"`
	IsVDO         bool      `json:"is_vdo"`
	Speed         *float64  `json:"speed,omitempty"`
	Course        *float64  `json:"course,omitempty"`
	Heading       *int      `json:"heading,omitempty"`
	NavStatus     *int      `json:"nav_status,omitempty"`
}

// HasDisplay reports whether the position can be surfaced to consumers.
func (p *Position) HasDisplay() bool {
	if p == nil || p.DisplayLat == nil || p.DisplayLon == nil {
		return false
	}
	lat, lon := *p.DisplayLat, *p.DisplayLon
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// SetDisplay points the display coordinates at copies of lat/lon.
func (p *Position) SetDisplay(lat, lon float64) {
	p.DisplayLat = &lat
	p.DisplayLon = &lon
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	c.DisplayLat = cloneFloat(p.DisplayLat)
	c.DisplayLon = cloneFloat(p.DisplayLon)
	c.Speed = cloneFloat(p.Speed)
	c.Course = cloneFloat(p.Course)
	c.Heading = cloneInt(p.Heading)
	c.NavStatus = cloneInt(p.NavStatus)
	return &c
}

// Dimensions are the distances in metres from the position reference point.
type Dimensions struct {
	ToBow       int `json:"to_bow"`
	ToStern     int `json:"to_stern"`
	ToPort      int `json:"to_port"`
	ToStarboard int `json:"to_starboard"`
}

// Length returns the overall length, or 0 when unknown.
func (d Dimensions) Length() int { return d.ToBow + d.ToStern }

// Vessel is the aggregate state for one MMSI.
type Vessel struct {
	MMSI          uint32      `json:"mmsi"`
	Name          string      `json:"name,omitempty"`
	Callsign      string      `json:"callsign,omitempty"`
	IMO           uint32      `json:"imo,omitempty"`
	ShipType      *int        `json:"ship_type,omitempty"`
	ShipTypeText  string      `json:"ship_type_text,omitempty"`
	Dimensions    *Dimensions `json:"dimensions,omitempty"`
	Destination   string      `json:"destination,omitempty"`
	ETA           string      `json:"eta,omitempty"`
	Draught       *float64    `json:"draught,omitempty"`
	AtoNType      *int        `json:"aton_type,omitempty"`
	Country       string      `json:"country,omitempty"`
	IsBaseStation bool        `json:"is_base_station"`
	IsAtoN        bool        `json:"is_aton"`
	IsSAR         bool        `json:"is_sar"`
	Spoofed       bool        `json:"spoofed"`
	LastPosition  *Position   `json:"last_position,omitempty"`
	PositionCount int         `json:"position_count"`
	SourceIDs     []string    `json:"source_ids"`
	FirstSeen     time.Time   `json:"first_seen"`
	LastSeen      time.Time   `json:"last_seen"`
}

// New creates a vessel with the MMSI-derived classification applied.
func New(mmsi uint32, seen time.Time) *Vessel {
	class := ClassifyMMSI(mmsi)
	return &Vessel{
		MMSI:          mmsi,
		Country:       Country(mmsi),
		IsBaseStation: class == ClassBaseStation,
		IsAtoN:        class == ClassAtoN,
		IsSAR:         class == ClassSARAircraft,
		FirstSeen:     seen,
		LastSeen:      seen,
	}
}

// IsNonVessel reports whether the target is infrastructure rather than a ship.
func (v *Vessel) IsNonVessel() bool { return v.IsBaseStation || v.IsAtoN }

// HasSource reports whether sourceID has reported this vessel.
func (v *Vessel) HasSource(sourceID string) bool {
	i := sort.SearchStrings(v.SourceIDs, sourceID)
	return i < len(v.SourceIDs) && v.SourceIDs[i] == sourceID
}

// AddSource records sourceID, keeping SourceIDs sorted and unique.
func (v *Vessel) AddSource(sourceID string) bool {
	i := sort.SearchStrings(v.SourceIDs, sourceID)
	if i < len(v.SourceIDs) && v.SourceIDs[i] == sourceID {
		return false
	}
	v.SourceIDs = append(v.SourceIDs, "")
	copy(v.SourceIDs[i+1:], v.SourceIDs[i:])
	v.SourceIDs[i] = sourceID
	return true
}

// RemoveSource drops sourceID from the attribution set.
func (v *Vessel) RemoveSource(sourceID string) bool {
	i := sort.SearchStrings(v.SourceIDs, sourceID)
	if i >= len(v.SourceIDs) || v.SourceIDs[i] != sourceID {
		return false
	}
	v.SourceIDs = append(v.SourceIDs[:i], v.SourceIDs[i+1:]...)
	return true
}

// Clone returns a deep copy of v.
func (v *Vessel) Clone() *Vessel {
	if v == nil {
		return nil
	}
	c := *v
	c.ShipType = cloneInt(v.ShipType)
	c.AtoNType = cloneInt(v.AtoNType)
	c.Draught = cloneFloat(v.Draught)
	if v.Dimensions != nil {
		d := *v.Dimensions
		c.Dimensions = &d
	}
	c.LastPosition = v.LastPosition.Clone()
	c.SourceIDs = append([]string(nil), v.SourceIDs...)
	return &c
}

// StoredMessage is one raw sentence group kept for audit, subject to the
// per-source message limit.
type StoredMessage struct {
	ID          int64     `json:"id"`
	MMSI        uint32    `json:"mmsi"`
	SourceID    string    `json:"source_id"`
	MessageType uint8     `json:"message_type"`
	Timestamp   time.Time `json:"timestamp"`
	Raw         string    `json:"raw"`
	IsVDO       bool      `json:"is_vdo"`
}

// TextMessage is a safety-related text (AIS types 12 and 14).
type TextMessage struct {
	ID          int64     `json:"id"`
	MMSI        uint32    `json:"mmsi"`
	DestMMSI    uint32    `json:"dest_mmsi,omitempty"`
	MessageType uint8     `json:"message_type"`
	Text        string    `json:"text"`
	SourceID    string    `json:"source_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// VdoReference is the latest own-station (VDO) position on a source. It is
// derived from stored positions, never persisted on its own.
type VdoReference struct {
	SourceID     string    `json:"source_id"`
	MMSI         uint32    `json:"mmsi"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Timestamp    time.Time `json:"timestamp"`
	SpoofLimitKm float64   `json:"spoof_limit_km"`
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
