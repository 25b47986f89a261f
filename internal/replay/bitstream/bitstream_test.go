package bitstream

import (
	"errors"
	"testing"

	"replay-ingest/internal/decodeerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReadUint_lsbFirst(t *testing.T) {
	r := NewReader([]byte{0b1010_1101, 0xFF})

	v, err := r.ReadUint(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b101), v)

	v, err = r.ReadUint(7)
	require.NoError(t, err)
	// remaining 5 bits of byte 0 (10101) then 2 bits of byte 1 (11)
	assert.Equal(t, uint64(0b11_10101), v)
	assert.Equal(t, int64(10), r.Offset())
	assert.Equal(t, int64(6), r.Remaining())
}

func TestReader_truncationDoesNotAdvance(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03})

	_, err := r.ReadUint32()
	require.Error(t, err)
	assert.True(t, errors.Is(err, decodeerr.ErrUnexpectedEndOfStream))
	assert.Equal(t, int64(0), r.Offset())

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), b)
}

func TestReader_ReadUint_invalidWidth(t *testing.T) {
	r := NewReader(make([]byte, 16))
	_, err := r.ReadUint(65)
	assert.True(t, errors.Is(err, decodeerr.ErrMalformedStructure))
}

func TestWriterReader_roundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBool(true)
	w.WriteUint(5, 3)
	w.WriteInt32(-42)
	w.WriteFloat32(30.5)
	w.WriteUint64(76561198000000000)
	require.NoError(t, w.WriteCompressedInt(700, 1023))
	require.NoError(t, w.WriteString("Octane"))
	require.NoError(t, w.WriteString("Zoë ⚽"))
	require.NoError(t, w.WriteString(""))
	w.WriteBytes([]byte{0xDE, 0xAD})

	r := NewReader(w.Bytes())

	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	u, err := r.ReadUint(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), u)

	i, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i)

	f, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(30.5), f)

	q, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(76561198000000000), q)

	c, err := r.ReadCompressedInt(1023)
	require.NoError(t, err)
	assert.Equal(t, uint32(700), c)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Octane", s)

	s, err = r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Zoë ⚽", s)

	s, err = r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "", s)

	raw, err := r.ReadBytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, raw)
}

func TestReader_ReadCompressedInt(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		max   uint32
		bits  int64
	}{
		{"max_one_reads_nothing", 0, 1, 0},
		{"power_of_two_max", 3, 4, 2},
		{"channel_id", 1022, 1023, 10},
		{"small_value_large_max", 1, 1023, 10},
		{"high_bit_truncates_width", 512, 1023, 10},
		{"high_bit_truncates_width_short", 600, 601, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter()
			require.NoError(t, w.WriteCompressedInt(tt.value, tt.max))
			assert.LessOrEqual(t, w.Len(), tt.bits)

			r := NewReader(w.Bytes())
			got, err := r.ReadCompressedInt(tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
			assert.Equal(t, w.Len(), r.Offset())
		})
	}
}

func TestWriter_WriteCompressedInt_outOfRange(t *testing.T) {
	w := NewWriter()
	assert.Error(t, w.WriteCompressedInt(10, 10))
}

func TestReader_ReadString_lengthBeyondBuffer(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(1 << 20)
	w.WriteBytes([]byte("abc"))

	r := NewReader(w.Bytes())
	_, err := r.ReadString()
	require.Error(t, err)
	assert.True(t, errors.Is(err, decodeerr.ErrUnexpectedEndOfStream))
	assert.Equal(t, int64(0), r.Offset(), "failed string read must not consume the prefix")
}

func TestReader_ReadString_wideLengthBeyondBuffer(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(-1 << 30)

	_, err := NewReader(w.Bytes()).ReadString()
	assert.True(t, errors.Is(err, decodeerr.ErrUnexpectedEndOfStream))
}

func TestReader_SeekSkipAlign(t *testing.T) {
	r := NewReader(make([]byte, 4))

	require.NoError(t, r.Skip(3))
	require.NoError(t, r.Align())
	assert.Equal(t, int64(8), r.Offset())

	require.NoError(t, r.SeekBit(32))
	assert.Equal(t, int64(0), r.Remaining())

	assert.Error(t, r.SeekBit(33))
	assert.Error(t, r.Skip(1))
}

func TestReader_ReadBits_unaligned(t *testing.T) {
	w := NewWriter()
	w.WriteBool(true)
	w.WriteBits([]byte{0xAB, 0x05}, 12)

	r := NewReader(w.Bytes())
	_, err := r.ReadBool()
	require.NoError(t, err)

	got, err := r.ReadBits(12)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0x05}, got)
}
