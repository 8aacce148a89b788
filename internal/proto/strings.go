package proto

import (
	"encoding/binary"
	"unicode/utf16"
)

// Wire strings are fixed-width UTF-16LE, zero-terminated when shorter than
// the field. PlayerInfo names and room passes are 20 code units wide.
const nameFieldUnits = 20

func decodeUTF16(field []byte) string {
	units := make([]uint16, 0, len(field)/2)
	for i := 0; i+1 < len(field); i += 2 {
		u := binary.LittleEndian.Uint16(field[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// utf16Len is the encoded width of s in UTF-16 code units. Characters
// outside the basic plane take two units, so this can exceed the rune count.
func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func encodeUTF16(s string, width int) []byte {
	field := make([]byte, width*2)
	units := utf16.Encode([]rune(s))
	if len(units) > width {
		units = units[:width]
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(field[i*2:], u)
	}
	return field
}
