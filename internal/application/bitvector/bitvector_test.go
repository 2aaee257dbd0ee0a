package bitvector

import (
	"encoding/hex"
	"testing"

	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	T = true
	F = false
)

func TestHexToBits(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []bool
	}{
		{name: "empty", in: "", want: []bool{}},
		{name: "prefix only", in: "0x", want: []bool{}},
		{name: "single digit", in: "0xa", want: []bool{T, F, T, F}},
		{name: "upper case", in: "0XF0", want: []bool{T, T, T, T, F, F, F, F}},
		{name: "no prefix", in: "05", want: []bool{F, F, F, F, F, T, F, T}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HexToBits(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHexToBitsLengthAndRoundTrip(t *testing.T) {
	for _, in := range []string{"0x0", "0xdeadbeef", "0x0123456789abcdef", "ff00ff"} {
		bits, err := HexToBits(in)
		require.NoError(t, err)

		digits := len(in)
		if len(in) >= 2 && in[:2] == "0x" {
			digits -= 2
		}
		assert.Len(t, bits, 4*digits, in)

		want := in
		if want[:2] != "0x" {
			want = "0x" + want
		}
		assert.Equal(t, want, BitsToHex(bits))
	}
}

func TestHexToBitsInvalid(t *testing.T) {
	_, err := HexToBits("0x12g4")
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestSwitchEndianness(t *testing.T) {
	in := []bool{T, F, F, F, F, F, F, F, F, T, T, F, F, F, F, F}
	want := []bool{F, F, F, F, F, F, F, T, F, F, F, F, F, T, T, F}
	assert.Equal(t, want, SwitchEndianness(in))
}

func TestSwitchEndiannessSelfInverse(t *testing.T) {
	bits, err := HexToBits("0x8c01f07e")
	require.NoError(t, err)
	assert.Equal(t, bits, SwitchEndianness(SwitchEndianness(bits)))
}

func TestSwitchEndiannessPartialGroup(t *testing.T) {
	in := []bool{T, F, F, F, F, F, F, F, T, F}
	got := SwitchEndianness(in)
	assert.Equal(t, []bool{F, F, F, F, F, F, F, T, T, F}, got)
}

func TestTrimToLastMarker(t *testing.T) {
	got, err := TrimToLastMarker([]bool{F, T, F, T, T, F})
	require.NoError(t, err)
	assert.Equal(t, []bool{F, T, F, T}, got)

	got, err = TrimToLastMarker([]bool{T})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = TrimToLastMarker([]bool{F, F})
	require.ErrorIs(t, err, ErrNoMarkerFound)

	_, err = TrimToLastMarker(nil)
	require.ErrorIs(t, err, ErrNoMarkerFound)
}

func TestAggregateOr(t *testing.T) {
	got, err := AggregateOr([][]bool{{F, F, T}, {F, T, F}})
	require.NoError(t, err)
	assert.Equal(t, []bool{F, T, T}, got)

	got, err = AggregateOr([][]bool{{T, F}})
	require.NoError(t, err)
	assert.Equal(t, []bool{T, F}, got)

	_, err = AggregateOr([][]bool{{F, F, T}, {F, T}})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestApplyMask(t *testing.T) {
	got := ApplyMask([]string{"a", "b", "c", "d", "e"}, []bool{T, F, F, T, F})
	assert.Equal(t, map[string]struct{}{"a": {}, "d": {}}, got)

	// mask longer than items is clipped
	got = ApplyMask([]string{"a"}, []bool{F, T, T})
	assert.Empty(t, got)
}

func TestDecodeAggregationBitsMatchesSSZBitlist(t *testing.T) {
	bl := bitfield.NewBitlist(19)
	bl.SetBitAt(0, true)
	bl.SetBitAt(9, true)
	bl.SetBitAt(18, true)

	bits, err := DecodeAggregationBits("0x" + hex.EncodeToString([]byte(bl)))
	require.NoError(t, err)
	require.Len(t, bits, 19)
	for i, b := range bits {
		assert.Equal(t, bl.BitAt(uint64(i)), b, "bit %d", i)
	}
}

func TestDecodeAggregationBitsAllZero(t *testing.T) {
	_, err := DecodeAggregationBits("0x0000")
	require.ErrorIs(t, err, ErrNoMarkerFound)
}
