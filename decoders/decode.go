// Package decoders turns armored AIS payloads into typed messages.
package decoders

import (
	"errors"
	"fmt"
	"math"

	ais "github.com/BertoldVdb/go-ais"

	"github.com/madpsy/aisguard/vessel"
)

var (
	// ErrUnsupportedType is returned for message types outside the decoded set.
	ErrUnsupportedType = errors.New("decoders: unsupported message type")
	// ErrTruncated is returned when a payload is shorter than its type's
	// minimum width.
	ErrTruncated = errors.New("decoders: payload truncated")
	// ErrBadArmor is returned for characters outside the armoring alphabet.
	ErrBadArmor = errors.New("decoders: invalid armoring character")
)

// Not-available sentinels.
const (
	speedNA        = 1023
	courseNA       = 3600
	headingNA      = 511
	rotNA          = -128
	altitudeNA     = 4095
	longSpeedNA    = 63
	longCourseNA   = 511
	rotOffScaleMax = 127
)

// Minimum widths per message type, in bits.
const (
	minHeader     = 38
	minPositionA  = 149
	minBaseStn    = 149
	minStatic     = 422
	minSAR        = 148
	minPositionB  = 148
	minExtendedB  = 306
	minAtoN       = 272
	minStaticHead = 40
	minStaticA    = 160
	minStaticB    = 162
	minLongRange  = 94
)

// layout pairs the width a payload must reach with the width the codec
// expects. Payloads in between are zero padded, since stations commonly
// omit the trailing spare and radio status bits.
type layout struct{ min, full int }

var layouts = map[uint8]layout{
	1:  {minPositionA, 168},
	2:  {minPositionA, 168},
	3:  {minPositionA, 168},
	4:  {minBaseStn, 168},
	5:  {minStatic, 424},
	9:  {minSAR, 168},
	11: {minBaseStn, 168},
	18: {minPositionB, 168},
	19: {minExtendedB, 312},
	21: {minAtoN, 272},
	27: {minLongRange, 96},
}

// SupportedTypes lists every message type Decode understands.
var SupportedTypes = []uint8{1, 2, 3, 4, 5, 9, 11, 18, 19, 21, 24, 27}

// codec is only read while decoding, so one instance serves every shard.
var codec = newCodec()

func newCodec() *ais.Codec {
	c := ais.CodecNew(false, false)
	c.DropSpace = true
	return c
}

// Decode de-armors payload, drops fillBits trailing bits and extracts the
// typed message.
func Decode(payload string, fillBits int) (Message, error) {
	bits, h, err := open(payload, fillBits)
	if err != nil {
		return nil, err
	}
	l, err := layoutOf(h, bits)
	if err != nil {
		return nil, err
	}
	p, err := decodePacket(h, bits, l)
	if err != nil {
		return nil, err
	}

	switch m := p.(type) {
	case ais.PositionReport:
		return positionA(m), nil
	case ais.BaseStationReport:
		return baseStation(m), nil
	case ais.ShipStaticData:
		return staticVoyage(m), nil
	case ais.StandardSearchAndRescueAircraftReport:
		return sar(m), nil
	case ais.StandardClassBPositionReport:
		return positionB(m), nil
	case ais.ExtendedClassBPositionReport:
		return extendedB(m), nil
	case ais.AidsToNavigationReport:
		return aton(m), nil
	case ais.StaticDataReport:
		return staticData(m), nil
	case ais.LongRangeAisBroadcastMessage:
		return longRange(m), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, h.Type)
}

// open de-armors payload and reads the common header.
func open(payload string, fillBits int) ([]byte, Header, error) {
	bits, err := unarmor(payload, fillBits)
	if err != nil {
		return nil, Header{}, err
	}
	if len(bits) < minHeader {
		return nil, Header{}, fmt.Errorf("%w: %d bits", ErrTruncated, len(bits))
	}
	return bits, Header{
		Type:   uint8(getUint(bits, 0, 6)),
		Repeat: uint8(getUint(bits, 6, 2)),
		MMSI:   uint32(getUint(bits, 8, 30)),
	}, nil
}

func layoutOf(h Header, bits []byte) (layout, error) {
	if h.Type != 24 {
		l, ok := layouts[h.Type]
		if !ok {
			return layout{}, fmt.Errorf("%w: %d", ErrUnsupportedType, h.Type)
		}
		return l, nil
	}
	if err := need(h, bits, minStaticHead); err != nil {
		return layout{}, err
	}
	switch part := getUint(bits, 38, 2); part {
	case 0:
		return layout{minStaticA, 160}, nil
	case 1:
		return layout{minStaticB, 168}, nil
	default:
		return layout{}, fmt.Errorf("%w: type 24 part %d", ErrUnsupportedType, part)
	}
}

func decodePacket(h Header, bits []byte, l layout) (ais.Packet, error) {
	if err := need(h, bits, l.min); err != nil {
		return nil, err
	}
	if n := len(bits); n < l.full {
		bits = append(bits[:n:n], make([]byte, l.full-n)...)
	}
	p := codec.DecodePacket(bits)
	if p == nil {
		return nil, fmt.Errorf("%w: type %d rejected by codec at %d bits", ErrTruncated, h.Type, len(bits))
	}
	return p, nil
}

func need(h Header, bits []byte, min int) error {
	if len(bits) < min {
		return fmt.Errorf("%w: type %d needs %d bits, got %d", ErrTruncated, h.Type, min, len(bits))
	}
	return nil
}

// ── field helpers ─────────────────────────────────────────────────────────

func header(h ais.Header) Header {
	return Header{Type: h.MessageID, Repeat: h.RepeatIndicator, MMSI: h.UserID}
}

// tenths maps a scaled field back to its raw integer before comparing it
// against the sentinel.
func tenths(f ais.Field10, na int) *float64 {
	raw := int(math.Round(float64(f) * 10))
	if raw == na {
		return nil
	}
	v := float64(raw) / 10
	return &v
}

func whole(raw, na int) *float64 {
	if raw == na {
		return nil
	}
	v := float64(raw)
	return &v
}

func optInt(raw, na int) *int {
	if raw == na {
		return nil
	}
	return &raw
}

func rateOfTurn(raw int) *int {
	if raw == rotNA || raw == rotOffScaleMax || raw == -rotOffScaleMax {
		return nil
	}
	return &raw
}

func dimensions(d ais.FieldDimension) vessel.Dimensions {
	return vessel.Dimensions{
		ToBow:       int(d.A),
		ToStern:     int(d.B),
		ToPort:      int(d.C),
		ToStarboard: int(d.D),
	}
}

// mothership reassembles the 30 bits an auxiliary craft sends in place of
// its dimensions.
func mothership(d ais.FieldDimension) uint32 {
	return uint32(d.A)<<21 | uint32(d.B)<<12 | uint32(d.C)<<6 | uint32(d.D)
}

// ── per-type conversions ──────────────────────────────────────────────────

func positionA(m ais.PositionReport) PositionReportA {
	return PositionReportA{
		Header:     header(m.Header),
		NavStatus:  int(m.NavigationalStatus),
		RateOfTurn: rateOfTurn(int(m.RateOfTurn)),
		Speed:      tenths(m.Sog, speedNA),
		Accuracy:   m.PositionAccuracy,
		Lon:        float64(m.Longitude),
		Lat:        float64(m.Latitude),
		Course:     tenths(m.Cog, courseNA),
		Heading:    optInt(int(m.TrueHeading), headingNA),
		Second:     int(m.Timestamp),
		Maneuver:   int(m.SpecialManoeuvreIndicator),
		RAIM:       m.Raim,
	}
}

func baseStation(m ais.BaseStationReport) BaseStationReport {
	return BaseStationReport{
		Header:   header(m.Header),
		Year:     int(m.UtcYear),
		Month:    int(m.UtcMonth),
		Day:      int(m.UtcDay),
		Hour:     int(m.UtcHour),
		Minute:   int(m.UtcMinute),
		Second:   int(m.UtcSecond),
		Accuracy: m.PositionAccuracy,
		Lon:      float64(m.Longitude),
		Lat:      float64(m.Latitude),
		EPFD:     int(m.FixType),
		RAIM:     m.Raim,
	}
}

func staticVoyage(m ais.ShipStaticData) StaticVoyageData {
	return StaticVoyageData{
		Header:      header(m.Header),
		AISVersion:  int(m.AisVersion),
		IMO:         m.ImoNumber,
		Callsign:    m.CallSign,
		Name:        m.Name,
		ShipType:    int(m.Type),
		Dimensions:  dimensions(m.Dimension),
		EPFD:        int(m.FixType),
		ETAMonth:    int(m.Eta.Month),
		ETADay:      int(m.Eta.Day),
		ETAHour:     int(m.Eta.Hour),
		ETAMinute:   int(m.Eta.Minute),
		Draught:     float64(m.MaximumStaticDraught),
		Destination: m.Destination,
		DTE:         m.Dte,
	}
}

func sar(m ais.StandardSearchAndRescueAircraftReport) SARAircraftReport {
	return SARAircraftReport{
		Header:   header(m.Header),
		Altitude: optInt(int(m.Altitude), altitudeNA),
		Speed:    whole(int(m.Sog), speedNA),
		Accuracy: m.PositionAccuracy,
		Lon:      float64(m.Longitude),
		Lat:      float64(m.Latitude),
		Course:   tenths(m.Cog, courseNA),
		Second:   int(m.Timestamp),
		RAIM:     m.Raim,
	}
}

func positionB(m ais.StandardClassBPositionReport) PositionReportB {
	return PositionReportB{
		Header:   header(m.Header),
		Speed:    tenths(m.Sog, speedNA),
		Accuracy: m.PositionAccuracy,
		Lon:      float64(m.Longitude),
		Lat:      float64(m.Latitude),
		Course:   tenths(m.Cog, courseNA),
		Heading:  optInt(int(m.TrueHeading), headingNA),
		Second:   int(m.Timestamp),
		RAIM:     m.Raim,
	}
}

func extendedB(m ais.ExtendedClassBPositionReport) ExtendedPositionReportB {
	return ExtendedPositionReportB{
		PositionReportB: PositionReportB{
			Header:   header(m.Header),
			Speed:    tenths(m.Sog, speedNA),
			Accuracy: m.PositionAccuracy,
			Lon:      float64(m.Longitude),
			Lat:      float64(m.Latitude),
			Course:   tenths(m.Cog, courseNA),
			Heading:  optInt(int(m.TrueHeading), headingNA),
			Second:   int(m.Timestamp),
			RAIM:     m.Raim,
		},
		Name:       m.Name,
		ShipType:   int(m.Type),
		Dimensions: dimensions(m.Dimension),
		EPFD:       int(m.FixType),
	}
}

func aton(m ais.AidsToNavigationReport) AidToNavigationReport {
	name := m.Name
	// Names longer than 20 characters continue after the fixed fields.
	if len(name) == 20 {
		name += m.NameExtension
	}
	return AidToNavigationReport{
		Header:      header(m.Header),
		AidType:     int(m.Type),
		Name:        name,
		Accuracy:    m.PositionAccuracy,
		Lon:         float64(m.Longitude),
		Lat:         float64(m.Latitude),
		Dimensions:  dimensions(m.Dimension),
		EPFD:        int(m.Fixtype),
		Second:      int(m.Timestamp),
		OffPosition: m.OffPosition,
		RAIM:        m.Raim,
		Virtual:     m.VirtualAtoN,
	}
}

func staticData(m ais.StaticDataReport) StaticDataReport {
	out := StaticDataReport{Header: header(m.Header)}
	if !m.PartNumber {
		out.Name = m.ReportA.Name
		return out
	}
	b := m.ReportB
	out.PartNumber = 1
	out.ShipType = int(b.ShipType)
	out.VendorID = b.VendorIDName
	out.Callsign = b.CallSign
	if vessel.ClassifyMMSI(out.MMSI) == vessel.ClassAuxiliary {
		out.MothershipMMSI = mothership(b.Dimension)
	} else {
		out.Dimensions = dimensions(b.Dimension)
	}
	return out
}

func longRange(m ais.LongRangeAisBroadcastMessage) LongRangeReport {
	return LongRangeReport{
		Header:    header(m.Header),
		Accuracy:  m.PositionAccuracy,
		RAIM:      m.Raim,
		NavStatus: int(m.NavigationalStatus),
		Lon:       float64(m.Longitude),
		Lat:       float64(m.Latitude),
		Speed:     whole(int(m.Sog), longSpeedNA),
		Course:    whole(int(m.Cog), longCourseNA),
		GNSS:      !m.PositionLatency,
	}
}
