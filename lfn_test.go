package fatfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortNameBytes(s string) [11]byte {
	var raw [11]byte
	copy(raw[:], s)
	return raw
}

func Test_lfnChecksum(t *testing.T) {
	tests := []struct {
		short string
		want  uint8
	}{
		{short: "README  TXT", want: 0x73},
		{short: "HELLOW~1TXT", want: 0x1b},
		{short: "FILENA~1TXT", want: 0x5b},
	}
	for _, tt := range tests {
		t.Run(tt.short, func(t *testing.T) {
			assert.Equal(t, tt.want, lfnChecksum(shortNameBytes(tt.short)))
		})
	}
}

func Test_lfnFragments(t *testing.T) {
	name := "HelloWorldThisIsALoongName.txt"
	require.Len(t, name, 30)

	units, err := encodeUnits(name)
	require.NoError(t, err)

	fragments := lfnFragments(units, 0x1b)
	require.Len(t, fragments, 3)

	assert.Equal(t, uint8(0x43), fragments[0].Sequence)
	assert.Equal(t, uint8(0x02), fragments[1].Sequence)
	assert.Equal(t, uint8(0x01), fragments[2].Sequence)

	for _, f := range fragments {
		assert.Equal(t, AttrLongName, f.Attribute)
		assert.Equal(t, uint8(0x1b), f.Checksum)
		assert.Equal(t, uint16(0), f.Cluster)
	}

	// 30 units fill two fragments and 4 units of the last one.
	last := fragments[0].units()
	assert.Equal(t, uint16('x'), last[2])
	assert.Equal(t, uint16('t'), last[3])
	assert.Equal(t, uint16(0x0000), last[4])
	for _, u := range last[5:] {
		assert.Equal(t, uint16(0xFFFF), u)
	}

	first := fragments[2].units()
	assert.Equal(t, uint16('H'), first[0])
	assert.Equal(t, uint16('i'), first[12])

	t.Run("exact multiple has no padding", func(t *testing.T) {
		units, err := encodeUnits("abcdefghijklm")
		require.NoError(t, err)

		fragments := lfnFragments(units, 0)
		require.Len(t, fragments, 1)
		assert.Equal(t, uint8(0x41), fragments[0].Sequence)
		assert.Equal(t, uint16('m'), fragments[0].units()[12])
	})
}

func Test_lfnAccumulator(t *testing.T) {
	name := "HelloWorldThisIsALoongName.txt"
	short := shortNameBytes("HELLOW~1TXT")
	units, err := encodeUnits(name)
	require.NoError(t, err)
	fragments := lfnFragments(units, lfnChecksum(short))

	tests := []struct {
		name         string
		fragments    []lfnSlot
		short        [11]byte
		wantName     string
		wantMismatch bool
	}{
		{
			name:      "complete sequence",
			fragments: fragments,
			short:     short,
			wantName:  name,
		},
		{
			name:         "other short name",
			fragments:    fragments,
			short:        shortNameBytes("README  TXT"),
			wantMismatch: true,
		},
		{
			name:      "missing last fragment",
			fragments: fragments[1:],
			short:     short,
		},
		{
			name:      "missing first fragment",
			fragments: fragments[:2],
			short:     short,
		},
		{
			name:      "out of order",
			fragments: []lfnSlot{fragments[0], fragments[2], fragments[1]},
			short:     short,
		},
		{
			name:      "no fragments",
			fragments: nil,
			short:     short,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acc lfnAccumulator
			for i := range tt.fragments {
				acc.add(&tt.fragments[i])
			}

			got, mismatch := acc.finish(tt.short)
			assert.Equal(t, tt.wantName, got)
			assert.Equal(t, tt.wantMismatch, mismatch)
			assert.False(t, acc.active, "finish resets the accumulator")
		})
	}

	t.Run("a new sequence replaces an unfinished one", func(t *testing.T) {
		other, err := encodeUnits("short.name")
		require.NoError(t, err)
		otherShort := shortNameBytes("SHORT   NAM")
		otherFragments := lfnFragments(other, lfnChecksum(otherShort))

		var acc lfnAccumulator
		acc.add(&fragments[0])
		acc.add(&fragments[1])
		acc.add(&otherFragments[0])

		got, mismatch := acc.finish(otherShort)
		assert.False(t, mismatch)
		assert.Equal(t, "short.name", got)
	})
}

func Test_decodeUnits(t *testing.T) {
	tests := []struct {
		name  string
		units []uint16
		want  string
	}{
		{name: "terminated", units: []uint16{'a', 'b', 0, 0xFFFF}, want: "ab"},
		{name: "fill only", units: []uint16{'a', 0xFFFF, 0xFFFF}, want: "a"},
		{name: "full", units: []uint16{'a', 'b', 'c'}, want: "abc"},
		{name: "surrogate pair", units: []uint16{0xD83D, 0xDE00, 0}, want: "😀"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeUnits(tt.units))
		})
	}
}
