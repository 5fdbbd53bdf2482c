// Package broadcast fans position and vessel-info updates out to real-time
// consumers, coalescing bursts per vessel between flush ticks.
package broadcast

import (
	"strconv"
	"time"

	"github.com/madpsy/aisguard/vessel"
)

// Kind names an event stream. Sinks use it as the socket.io event name and
// MQTT topic segment.
type Kind string

const (
	KindPosition   Kind = "position"
	KindVesselInfo Kind = "vessel_info"
)

// Event is one fire-and-forget notification.
type Event struct {
	Kind      Kind      `json:"kind"`
	MMSI      uint32    `json:"mmsi"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// PositionUpdate is the payload of a position event. It is only built from
// positions with display coordinates.
type PositionUpdate struct {
	MMSI          uint32    `json:"mmsi"`
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	PositionValid bool      `json:"position_valid"`
	IsBaseStation bool      `json:"is_base_station"`
	IsAtoN        bool      `json:"is_aton"`
	IsVDO         bool      `json:"is_vdo"`
	Spoofed       bool      `json:"spoofed"`
	Speed         *float64  `json:"speed,omitempty"`
	Course        *float64  `json:"course,omitempty"`
	Heading       *int      `json:"heading,omitempty"`
	SourceID      string    `json:"source_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// VesselInfo is the payload of a vessel_info event.
type VesselInfo struct {
	MMSI          uint32             `json:"mmsi"`
	Name          string             `json:"name,omitempty"`
	Callsign      string             `json:"callsign,omitempty"`
	IMO           uint32             `json:"imo,omitempty"`
	ShipType      *int               `json:"ship_type,omitempty"`
	ShipTypeText  string             `json:"ship_type_text,omitempty"`
	Dimensions    *vessel.Dimensions `json:"dimensions,omitempty"`
	Destination   string             `json:"destination,omitempty"`
	ETA           string             `json:"eta,omitempty"`
	Country       string             `json:"country,omitempty"`
	IsBaseStation bool               `json:"is_base_station"`
	IsAtoN        bool               `json:"is_aton"`
}

// PositionEvent builds a position event, or false when p cannot be shown.
func PositionEvent(v *vessel.Vessel, p *vessel.Position) (Event, bool) {
	if !p.HasDisplay() {
		return Event{}, false
	}
	return Event{
		Kind:      KindPosition,
		MMSI:      v.MMSI,
		Timestamp: p.Timestamp,
		Data: PositionUpdate{
			MMSI:          v.MMSI,
			Lat:           *p.DisplayLat,
			Lon:           *p.DisplayLon,
			PositionValid: p.PositionValid,
			IsBaseStation: v.IsBaseStation,
			IsAtoN:        v.IsAtoN,
			IsVDO:         p.IsVDO,
			Spoofed:       v.Spoofed,
			Speed:         p.Speed,
			Course:        p.Course,
			Heading:       p.Heading,
			SourceID:      p.SourceID,
			Timestamp:     p.Timestamp,
		},
	}, true
}

// VesselInfoEvent builds a vessel_info event from v's identity fields.
func VesselInfoEvent(v *vessel.Vessel) Event {
	return Event{
		Kind:      KindVesselInfo,
		MMSI:      v.MMSI,
		Timestamp: v.LastSeen,
		Data: VesselInfo{
			MMSI:          v.MMSI,
			Name:          v.Name,
			Callsign:      v.Callsign,
			IMO:           v.IMO,
			ShipType:      v.ShipType,
			ShipTypeText:  v.ShipTypeText,
			Dimensions:    v.Dimensions,
			Destination:   v.Destination,
			ETA:           v.ETA,
			Country:       v.Country,
			IsBaseStation: v.IsBaseStation,
			IsAtoN:        v.IsAtoN,
		},
	}
}

// LatestVesselData is the snapshot sent to newly connected clients: the
// last displayable position of every vessel, keyed by decimal MMSI.
func LatestVesselData(vs []*vessel.Vessel) map[string]PositionUpdate {
	out := make(map[string]PositionUpdate, len(vs))
	for _, v := range vs {
		e, ok := PositionEvent(v, v.LastPosition)
		if !ok {
			continue
		}
		out[strconv.FormatUint(uint64(v.MMSI), 10)] = e.Data.(PositionUpdate)
	}
	return out
}
