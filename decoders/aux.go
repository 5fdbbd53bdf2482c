package decoders

import (
	"fmt"

	ais "github.com/BertoldVdb/go-ais"
)

// Minimum text message widths, in bits.
const (
	minAddressedText = 72
	minBroadcastText = 40
)

// Text is a safety-related text message (type 12 addressed, type 14
// broadcast).
type Text struct {
	Type     uint8
	MMSI     uint32
	DestMMSI uint32
	Text     string
}

// IsTextType reports whether a payload's leading character announces a
// type 12 or type 14 message.
func IsTextType(payload string) bool {
	if payload == "" {
		return false
	}
	v, ok := sixBit(payload[0])
	return ok && (v == 12 || v == 14)
}

// DecodeText decodes the reassembled payload of a safety text message.
func DecodeText(payload string, fillBits int) (Text, error) {
	bits, h, err := open(payload, fillBits)
	if err != nil {
		return Text{}, err
	}
	var l layout
	switch h.Type {
	case 12:
		l = layout{minAddressedText, minAddressedText}
	case 14:
		l = layout{minBroadcastText, minBroadcastText}
	default:
		return Text{}, fmt.Errorf("%w: %d", ErrUnsupportedType, h.Type)
	}
	p, err := decodePacket(h, bits, l)
	if err != nil {
		return Text{}, err
	}

	switch m := p.(type) {
	case ais.AddessedSafetyMessage:
		return Text{Type: m.MessageID, MMSI: m.UserID, DestMMSI: m.DestinationID, Text: m.Text}, nil
	case ais.SafetyBroadcastMessage:
		return Text{Type: m.MessageID, MMSI: m.UserID, Text: m.Text}, nil
	}
	return Text{}, fmt.Errorf("%w: %d", ErrUnsupportedType, h.Type)
}
