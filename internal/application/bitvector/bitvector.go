// Package bitvector decodes attestation aggregation bitfields into ordered
// boolean vectors and combines them per committee.
package bitvector

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidEncoding = errors.New("invalid hex encoding")
	ErrNoMarkerFound   = errors.New("no marker bit found")
	ErrLengthMismatch  = errors.New("bit vector length mismatch")
)

// HexToBits expands a hex string (0x optional) into its binary digits, most
// significant bit of each digit first. The result has 4 bits per hex digit.
func HexToBits(s string) ([]bool, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	bits := make([]bool, 0, len(s)*4)
	for i := 0; i < len(s); i++ {
		v, ok := hexValue(s[i])
		if !ok {
			return nil, fmt.Errorf("%w: character %q at position %d", ErrInvalidEncoding, s[i], i)
		}
		bits = append(bits, v&8 != 0, v&4 != 0, v&2 != 0, v&1 != 0)
	}
	return bits, nil
}

// BitsToHex is the inverse of HexToBits. Trailing bits that do not fill a
// whole digit are padded with zeros on the right.
func BitsToHex(bits []bool) string {
	const digits = "0123456789abcdef"
	var sb strings.Builder
	sb.Grow(2 + (len(bits)+3)/4)
	sb.WriteString("0x")
	for i := 0; i < len(bits); i += 4 {
		var v byte
		for j := 0; j < 4; j++ {
			v <<= 1
			if i+j < len(bits) && bits[i+j] {
				v |= 1
			}
		}
		sb.WriteByte(digits[v])
	}
	return sb.String()
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// SwitchEndianness reverses the bit order inside each full group of 8 bits.
// Callers pass byte aligned input; a trailing partial group is copied as is.
func SwitchEndianness(bits []bool) []bool {
	out := make([]bool, len(bits))
	full := len(bits) - len(bits)%8
	for i := 0; i < full; i += 8 {
		for j := 0; j < 8; j++ {
			out[i+j] = bits[i+7-j]
		}
	}
	copy(out[full:], bits[full:])
	return out
}

// TrimToLastMarker returns the bits strictly before the last true bit.
func TrimToLastMarker(bits []bool) ([]bool, error) {
	for i := len(bits) - 1; i >= 0; i-- {
		if bits[i] {
			return bits[:i], nil
		}
	}
	return nil, ErrNoMarkerFound
}

// AggregateOr ORs same-length vectors elementwise.
func AggregateOr(vectors [][]bool) ([]bool, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	out := make([]bool, len(vectors[0]))
	for i, v := range vectors {
		if len(v) != len(out) {
			return nil, fmt.Errorf("%w: vector %d has %d bits, expected %d", ErrLengthMismatch, i, len(v), len(out))
		}
		for j, b := range v {
			if b {
				out[j] = true
			}
		}
	}
	return out, nil
}

// ApplyMask returns the set of items at positions where mask is true.
// Positions beyond either slice are ignored.
func ApplyMask[T comparable](items []T, mask []bool) map[T]struct{} {
	out := make(map[T]struct{})
	for i, selected := range mask {
		if i >= len(items) {
			break
		}
		if selected {
			out[items[i]] = struct{}{}
		}
	}
	return out
}

// DecodeAggregationBits turns a hex encoded SSZ bitlist into one bool per
// committee seat: hex expansion, per-byte bit reversal, then the length marker is dropped.
func DecodeAggregationBits(s string) ([]bool, error) {
	bits, err := HexToBits(s)
	if err != nil {
		return nil, err
	}
	return TrimToLastMarker(SwitchEndianness(bits))
}
