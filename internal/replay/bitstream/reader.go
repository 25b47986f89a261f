// Package bitstream implements the bit cursor every replay decoding layer reads
// through. Bits are consumed least-significant first within each byte and all
// multi-byte values are little-endian.
//
// The Reader is the single place where truncation is detected: a read that
// would run past the end of the buffer fails with UnexpectedEndOfStream and
// leaves the cursor where it was.
package bitstream

import (
	"bytes"
	"encoding/binary"
	"math"

	"replay-ingest/internal/decodeerr"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Reader is a bit cursor over an immutable byte buffer.
type Reader struct {
	data []byte
	pos  int64
	size int64
}

// NewReader returns a Reader positioned at bit 0 of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, size: int64(len(data)) * 8}
}

// Offset returns the current bit offset.
func (r *Reader) Offset() int64 { return r.pos }

// ByteOffset returns the current offset in whole bytes, rounded down.
func (r *Reader) ByteOffset() int { return int(r.pos >> 3) }

// Len returns the total number of bits in the buffer.
func (r *Reader) Len() int64 { return r.size }

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int64 { return r.size - r.pos }

// SeekBit moves the cursor to an absolute bit offset.
func (r *Reader) SeekBit(bit int64) error {
	if bit < 0 || bit > r.size {
		return decodeerr.New(decodeerr.KindUnexpectedEndOfStream, "seek", r.pos,
			"offset %d outside [0, %d]", bit, r.size)
	}
	r.pos = bit
	return nil
}

// Skip advances the cursor by n bits.
func (r *Reader) Skip(n int64) error {
	if err := r.need("skip", n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// Align advances the cursor to the next byte boundary.
func (r *Reader) Align() error {
	if rem := r.pos & 7; rem != 0 {
		return r.Skip(8 - rem)
	}
	return nil
}

func (r *Reader) need(op string, n int64) error {
	if n < 0 {
		return decodeerr.New(decodeerr.KindMalformedStructure, op, r.pos, "negative length %d", n)
	}
	if n > r.size-r.pos {
		return decodeerr.New(decodeerr.KindUnexpectedEndOfStream, op, r.pos,
			"need %d bits, %d remaining", n, r.size-r.pos)
	}
	return nil
}

// ReadBool reads a single bit.
func (r *Reader) ReadBool() (bool, error) {
	if err := r.need("read bool", 1); err != nil {
		return false, err
	}
	b := r.data[r.pos>>3]>>(r.pos&7)&1 == 1
	r.pos++
	return b, nil
}

// ReadUint reads an n-bit unsigned integer, 0 <= n <= 64.
func (r *Reader) ReadUint(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, decodeerr.New(decodeerr.KindMalformedStructure, "read uint", r.pos, "invalid width %d", n)
	}
	if err := r.need("read uint", int64(n)); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < n; {
		shift := int(r.pos & 7)
		take := 8 - shift
		if take > n-i {
			take = n - i
		}
		bits := uint64(r.data[r.pos>>3]>>shift) & (1<<take - 1)
		v |= bits << i
		i += take
		r.pos += int64(take)
	}
	return v, nil
}

// ReadBits reads n bits into a byte slice of ceil(n/8) bytes, packed the same
// way they were laid out on the wire.
func (r *Reader) ReadBits(n int64) ([]byte, error) {
	if err := r.need("read bits", n); err != nil {
		return nil, err
	}
	out := make([]byte, (n+7)/8)
	if r.pos&7 == 0 && n&7 == 0 {
		copy(out, r.data[r.pos>>3:(r.pos+n)>>3])
		r.pos += n
		return out, nil
	}
	for i := int64(0); i < n; i += 8 {
		w := n - i
		if w > 8 {
			w = 8
		}
		v, _ := r.ReadUint(int(w))
		out[i/8] = byte(v)
	}
	return out, nil
}

// ReadByte reads 8 bits.
func (r *Reader) ReadByte() (byte, error) {
	v, err := r.ReadUint(8)
	return byte(v), err
}

// ReadBytes reads n whole bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, decodeerr.New(decodeerr.KindMalformedStructure, "read bytes", r.pos, "negative length %d", n)
	}
	return r.ReadBits(int64(n) * 8)
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.ReadUint(16)
	return uint16(v), err
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadUint(32)
	return uint32(v), err
}

// ReadInt32 reads a little-endian two's complement int32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint(32)
	return int32(uint32(v)), err
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	return r.ReadUint(64)
}

// ReadFloat32 reads an IEEE-754 single precision float.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint(32)
	return math.Float32frombits(uint32(v)), err
}

// ReadCompressedInt reads a variable-width integer bounded by max. Bits are
// accumulated from the least significant end while the value could still be
// below max, so the result is always < max (or 0 when max <= 1).
func (r *Reader) ReadCompressedInt(max uint32) (uint32, error) {
	start := r.pos
	var value uint32
	for mask := uint32(1); mask != 0 && uint64(value)+uint64(mask) < uint64(max); mask <<= 1 {
		bit, err := r.ReadBool()
		if err != nil {
			r.pos = start
			return 0, err
		}
		if bit {
			value |= mask
		}
	}
	return value, nil
}

// ReadString reads an int32 length-prefixed string. A positive length counts
// Latin-1 bytes, a negative one counts UTF-16LE code units; both include the
// trailing NUL, which is stripped.
func (r *Reader) ReadString() (string, error) {
	start := r.pos
	length, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	s, err := r.readStringBody(int64(length))
	if err != nil {
		r.pos = start
		return "", err
	}
	return s, nil
}

func (r *Reader) readStringBody(length int64) (string, error) {
	switch {
	case length == 0:
		return "", nil
	case length > 0:
		if err := r.need("read string", length*8); err != nil {
			return "", err
		}
		raw, _ := r.ReadBits(length * 8)
		raw = bytes.TrimRight(raw, "\x00")
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", decodeerr.Wrap(decodeerr.KindMalformedStructure, "read string", err)
		}
		return string(out), nil
	default:
		units := -length
		if err := r.need("read string", units*16); err != nil {
			return "", err
		}
		raw, _ := r.ReadBits(units * 16)
		for len(raw) >= 2 && binary.LittleEndian.Uint16(raw[len(raw)-2:]) == 0 {
			raw = raw[:len(raw)-2]
		}
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return "", decodeerr.Wrap(decodeerr.KindMalformedStructure, "read string", err)
		}
		return string(out), nil
	}
}
