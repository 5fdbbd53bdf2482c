package decoders

import "github.com/madpsy/aisguard/vessel"

// secondNA and above mean the report carries no usable time stamp.
const secondNA = 60

// Fix is the position-bearing part of a message, normalised across types.
// Speed, Course, Heading and NavStatus are nil when the message type has no
// such field or the station reported "not available".
type Fix struct {
	Lat       float64
	Lon       float64
	Speed     *float64
	Course    *float64
	Heading   *int
	NavStatus *int
	Accuracy  bool
	Second    int
}

// PositionOf extracts the position fix of a message. Static messages
// (types 5 and 24) have none.
func PositionOf(m Message) (Fix, bool) {
	switch m := m.(type) {
	case PositionReportA:
		status := m.NavStatus
		return Fix{Lat: m.Lat, Lon: m.Lon, Speed: m.Speed, Course: m.Course,
			Heading: m.Heading, NavStatus: &status, Accuracy: m.Accuracy, Second: m.Second}, true
	case BaseStationReport:
		second := m.Second
		if _, ok := m.UTC(); !ok {
			second = secondNA
		}
		return Fix{Lat: m.Lat, Lon: m.Lon, Accuracy: m.Accuracy, Second: second}, true
	case SARAircraftReport:
		return Fix{Lat: m.Lat, Lon: m.Lon, Speed: m.Speed, Course: m.Course,
			Accuracy: m.Accuracy, Second: m.Second}, true
	case PositionReportB:
		return fixB(m), true
	case ExtendedPositionReportB:
		return fixB(m.PositionReportB), true
	case AidToNavigationReport:
		return Fix{Lat: m.Lat, Lon: m.Lon, Accuracy: m.Accuracy, Second: m.Second}, true
	case LongRangeReport:
		status := m.NavStatus
		return Fix{Lat: m.Lat, Lon: m.Lon, Speed: m.Speed, Course: m.Course,
			NavStatus: &status, Accuracy: m.Accuracy, Second: secondNA}, true
	case StaticVoyageData, StaticDataReport:
		return Fix{}, false
	}
	return Fix{}, false
}

func fixB(m PositionReportB) Fix {
	return Fix{Lat: m.Lat, Lon: m.Lon, Speed: m.Speed, Course: m.Course,
		Heading: m.Heading, Accuracy: m.Accuracy, Second: m.Second}
}

// Identity holds the static fields a message carries. A nil field is not
// present in the message and must not overwrite what is already known.
type Identity struct {
	Name        *string
	Callsign    *string
	IMO         *uint32
	ShipType    *int
	Dimensions  *vessel.Dimensions
	Destination *string
	ETA         *string
	Draught     *float64
	AtoNType    *int
}

// IdentityOf extracts the static fields of a message.
func IdentityOf(m Message) (Identity, bool) {
	var id Identity
	switch m := m.(type) {
	case StaticVoyageData:
		id.Name = optText(m.Name)
		id.Callsign = optText(m.Callsign)
		if m.IMO != 0 {
			imo := m.IMO
			id.IMO = &imo
		}
		id.ShipType = optShipType(m.ShipType)
		id.Dimensions = optDims(m.Dimensions)
		id.Destination = optText(m.Destination)
		id.ETA = optText(m.ETA())
		if m.Draught > 0 {
			d := m.Draught
			id.Draught = &d
		}
	case ExtendedPositionReportB:
		id.Name = optText(m.Name)
		id.ShipType = optShipType(m.ShipType)
		id.Dimensions = optDims(m.Dimensions)
	case AidToNavigationReport:
		id.Name = optText(m.Name)
		t := m.AidType
		id.AtoNType = &t
		id.Dimensions = optDims(m.Dimensions)
	case StaticDataReport:
		if m.IsPartA() {
			id.Name = optText(m.Name)
			break
		}
		id.Callsign = optText(m.Callsign)
		id.ShipType = optShipType(m.ShipType)
		id.Dimensions = optDims(m.Dimensions)
	case PositionReportA, BaseStationReport, SARAircraftReport, PositionReportB, LongRangeReport:
		return id, false
	default:
		return id, false
	}
	return id, true
}

// Classification says what kind of station a message proves the sender is.
type Classification struct {
	BaseStation bool
	AtoN        bool
	SAR         bool
}

// Classify returns the station kind implied by the message type. Only type 4
// proves a base station; type 11 is a mobile station's UTC response.
func Classify(m Message) Classification {
	switch m.MessageType() {
	case 4:
		return Classification{BaseStation: true}
	case 21:
		return Classification{AtoN: true}
	case 9:
		return Classification{SAR: true}
	}
	return Classification{}
}

func optText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optShipType(t int) *int {
	if t == 0 {
		return nil
	}
	return &t
}

func optDims(d vessel.Dimensions) *vessel.Dimensions {
	if d == (vessel.Dimensions{}) {
		return nil
	}
	return &d
}
