package decoders

import "fmt"

// unarmor expands an armored payload into one byte per bit (MSB first) and
// drops the trailing fill bits. This is the bitstream the codec decodes.
func unarmor(payload string, fillBits int) ([]byte, error) {
	bits := make([]byte, 0, len(payload)*6)
	for i := 0; i < len(payload); i++ {
		v, ok := sixBit(payload[i])
		if !ok {
			return nil, fmt.Errorf("%w: %q at offset %d", ErrBadArmor, payload[i], i)
		}
		for j := 5; j >= 0; j-- {
			bits = append(bits, (v>>uint(j))&1)
		}
	}
	if fillBits > 0 && fillBits <= len(bits) {
		bits = bits[:len(bits)-fillBits]
	}
	return bits, nil
}

// sixBit maps one armoring character to its 6-bit value:
// '0'..'W' (48-87) -> 0-39, '`'..'w' (96-119) -> 40-63.
func sixBit(c byte) (byte, bool) {
	switch {
	case c >= 48 && c <= 87:
		return c - 48, true
	case c >= 96 && c <= 119:
		return c - 56, true
	}
	return 0, false
}

// getUint reads `length` bits from `bits` starting at `off`, big-endian.
// It is only used for the header fields that pick a layout.
func getUint(bits []byte, off, length int) int {
	v := 0
	for i := 0; i < length; i++ {
		v <<= 1
		if off+i < len(bits) {
			v |= int(bits[off+i])
		}
	}
	return v
}
