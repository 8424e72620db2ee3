package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	records := [][]byte{[]byte("alpha"), {}, bytes.Repeat([]byte("b"), 4096), []byte("c")}
	for _, compress := range []bool{false, true} {
		data, err := Pack(KindTypes, records, compress)
		require.NoError(t, err)
		kind, got, err := Unpack(data)
		require.NoError(t, err)
		assert.Equal(t, KindTypes, kind)
		require.Len(t, got, len(records))
		for i := range records {
			assert.True(t, bytes.Equal(records[i], got[i]), "record %d", i)
		}
	}
}

func TestCompressionShrinksRepetitivePayload(t *testing.T) {
	records := [][]byte{bytes.Repeat([]byte("pdx-type "), 1000)}
	plain, err := Pack(KindRegistry, records, false)
	require.NoError(t, err)
	packed, err := Pack(KindRegistry, records, true)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))
}

func TestDecodeRejectsCorruption(t *testing.T) {
	data, err := Pack(KindTypes, [][]byte{[]byte("one"), []byte("two")}, false)
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-6] ^= 0xFF
	_, err = Decode(flipped)
	require.ErrorIs(t, err, ErrChecksum)

	_, err = Decode(data[:len(data)-1])
	require.ErrorIs(t, err, ErrLengthMismatch)

	bad := append([]byte(nil), data...)
	bad[0] = 'Z'
	_, err = Decode(bad)
	require.ErrorIs(t, err, ErrNotFrame)

	_, err = Decode([]byte{1, 2})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestEmptyFrame(t *testing.T) {
	data, err := Pack(KindTypes, nil, true)
	require.NoError(t, err)
	kind, got, err := Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, KindTypes, kind)
	assert.Empty(t, got)
}
