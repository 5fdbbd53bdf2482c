package decoders

import (
	"fmt"
	"math"
	"time"

	"github.com/madpsy/aisguard/vessel"
)

// Header is common to every AIS message.
type Header struct {
	Type   uint8  `json:"type"`
	Repeat uint8  `json:"repeat"`
	MMSI   uint32 `json:"mmsi"`
}

// MessageType returns the AIS message id.
func (h Header) MessageType() uint8 { return h.Type }

// SourceMMSI returns the transmitting station.
func (h Header) SourceMMSI() uint32 { return h.MMSI }

func (Header) sealed() {}

// Message is one decoded AIS message. The set of implementations is closed:
// PositionReportA, BaseStationReport, StaticVoyageData, SARAircraftReport,
// PositionReportB, ExtendedPositionReportB, AidToNavigationReport,
// StaticDataReport and LongRangeReport.
type Message interface {
	MessageType() uint8
	SourceMMSI() uint32
	sealed()
}

// PositionReportA is a Class A position report (types 1, 2, 3).
type PositionReportA struct {
	Header
	NavStatus  int      `json:"nav_status"`
	RateOfTurn *int     `json:"rate_of_turn"` // raw ROT_AIS indicator
	Speed      *float64 `json:"speed"`        // knots
	Accuracy   bool     `json:"accuracy"`
	Lon        float64  `json:"lon"`
	Lat        float64  `json:"lat"`
	Course     *float64 `json:"course"`
	Heading    *int     `json:"heading"`
	Second     int      `json:"second"`
	Maneuver   int      `json:"maneuver"`
	RAIM       bool     `json:"raim"`
}

// TurnRate converts the raw indicator to degrees per minute.
func (m PositionReportA) TurnRate() *float64 {
	if m.RateOfTurn == nil {
		return nil
	}
	r := float64(*m.RateOfTurn) / 4.733
	r = math.Copysign(r*r, r)
	return &r
}

// BaseStationReport is a base station report (type 4) or a UTC/date
// response (type 11). It has no speed, course or heading.
type BaseStationReport struct {
	Header
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Day      int     `json:"day"`
	Hour     int     `json:"hour"`
	Minute   int     `json:"minute"`
	Second   int     `json:"second"`
	Accuracy bool    `json:"accuracy"`
	Lon      float64 `json:"lon"`
	Lat      float64 `json:"lat"`
	EPFD     int     `json:"epfd"`
	RAIM     bool    `json:"raim"`
}

// UTC returns the reported time, or false when any field is "not available".
func (m BaseStationReport) UTC() (time.Time, bool) {
	if m.Year < 1 || m.Month < 1 || m.Month > 12 || m.Day < 1 || m.Day > 31 ||
		m.Hour > 23 || m.Minute > 59 || m.Second > 59 {
		return time.Time{}, false
	}
	t := time.Date(m.Year, time.Month(m.Month), m.Day, m.Hour, m.Minute, m.Second, 0, time.UTC)
	if t.Day() != m.Day {
		return time.Time{}, false
	}
	return t, true
}

// StaticVoyageData is a Class A static and voyage related report (type 5).
type StaticVoyageData struct {
	Header
	AISVersion  int               `json:"ais_version"`
	IMO         uint32            `json:"imo"`
	Callsign    string            `json:"callsign"`
	Name        string            `json:"name"`
	ShipType    int               `json:"ship_type"`
	Dimensions  vessel.Dimensions `json:"dimensions"`
	EPFD        int               `json:"epfd"`
	ETAMonth    int               `json:"eta_month"`
	ETADay      int               `json:"eta_day"`
	ETAHour     int               `json:"eta_hour"`
	ETAMinute   int               `json:"eta_minute"`
	Draught     float64           `json:"draught"`
	Destination string            `json:"destination"`
	DTE         bool              `json:"dte"`
}

// ETA formats the estimated arrival as "MM-DD HH:MM", or "" when unset.
func (m StaticVoyageData) ETA() string {
	if m.ETAMonth == 0 || m.ETADay == 0 {
		return ""
	}
	return fmt.Sprintf("%02d-%02d %02d:%02d", m.ETAMonth, m.ETADay, m.ETAHour, m.ETAMinute)
}

// SARAircraftReport is a search and rescue aircraft position (type 9).
type SARAircraftReport struct {
	Header
	Altitude *int     `json:"altitude"` // metres
	Speed    *float64 `json:"speed"`    // knots
	Accuracy bool     `json:"accuracy"`
	Lon      float64  `json:"lon"`
	Lat      float64  `json:"lat"`
	Course   *float64 `json:"course"`
	Second   int      `json:"second"`
	RAIM     bool     `json:"raim"`
}

// PositionReportB is a standard Class B position report (type 18).
type PositionReportB struct {
	Header
	Speed    *float64 `json:"speed"`
	Accuracy bool     `json:"accuracy"`
	Lon      float64  `json:"lon"`
	Lat      float64  `json:"lat"`
	Course   *float64 `json:"course"`
	Heading  *int     `json:"heading"`
	Second   int      `json:"second"`
	RAIM     bool     `json:"raim"`
}

// ExtendedPositionReportB is an extended Class B report (type 19).
type ExtendedPositionReportB struct {
	PositionReportB
	Name       string            `json:"name"`
	ShipType   int               `json:"ship_type"`
	Dimensions vessel.Dimensions `json:"dimensions"`
	EPFD       int               `json:"epfd"`
}

// AidToNavigationReport is a type 21 report.
type AidToNavigationReport struct {
	Header
	AidType     int               `json:"aid_type"`
	Name        string            `json:"name"`
	Accuracy    bool              `json:"accuracy"`
	Lon         float64           `json:"lon"`
	Lat         float64           `json:"lat"`
	Dimensions  vessel.Dimensions `json:"dimensions"`
	EPFD        int               `json:"epfd"`
	Second      int               `json:"second"`
	OffPosition bool              `json:"off_position"`
	RAIM        bool              `json:"raim"`
	Virtual     bool              `json:"virtual"`
}

// StaticDataReport is one part of a Class B static data report (type 24).
// Part A (0) carries the name only; part B (1) carries the rest.
type StaticDataReport struct {
	Header
	PartNumber     int               `json:"part_number"`
	Name           string            `json:"name,omitempty"`
	ShipType       int               `json:"ship_type,omitempty"`
	VendorID       string            `json:"vendor_id,omitempty"`
	Callsign       string            `json:"callsign,omitempty"`
	Dimensions     vessel.Dimensions `json:"dimensions"`
	MothershipMMSI uint32            `json:"mothership_mmsi,omitempty"`
}

// IsPartA reports whether this is the name-only part.
func (m StaticDataReport) IsPartA() bool { return m.PartNumber == 0 }

// LongRangeReport is a long range broadcast (type 27). Position resolution
// is 1/10 minute.
type LongRangeReport struct {
	Header
	Accuracy  bool     `json:"accuracy"`
	RAIM      bool     `json:"raim"`
	NavStatus int      `json:"nav_status"`
	Lon       float64  `json:"lon"`
	Lat       float64  `json:"lat"`
	Speed     *float64 `json:"speed"`  // knots
	Course    *float64 `json:"course"` // degrees
	GNSS      bool     `json:"gnss"`
}
