package bitstream

import (
	"fmt"
	"math"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Writer produces the encoding Reader consumes.
type Writer struct {
	buf []byte
	pos int64
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the written buffer. A partially written final byte is padded
// with zero bits.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bits written.
func (w *Writer) Len() int64 { return w.pos }

// WriteBool writes a single bit.
func (w *Writer) WriteBool(b bool) {
	if w.pos&7 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b {
		w.buf[w.pos>>3] |= 1 << (w.pos & 7)
	}
	w.pos++
}

// WriteUint writes the low n bits of v.
func (w *Writer) WriteUint(v uint64, n int) {
	for i := 0; i < n; i++ {
		w.WriteBool(v>>i&1 == 1)
	}
}

// WriteUint8 writes a byte.
func (w *Writer) WriteUint8(b byte) { w.WriteUint(uint64(b), 8) }

// WriteUint16 writes a little-endian uint16.
func (w *Writer) WriteUint16(v uint16) { w.WriteUint(uint64(v), 16) }

// WriteUint32 writes a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) { w.WriteUint(uint64(v), 32) }

// WriteInt32 writes a little-endian int32.
func (w *Writer) WriteInt32(v int32) { w.WriteUint(uint64(uint32(v)), 32) }

// WriteUint64 writes a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) { w.WriteUint(v, 64) }

// WriteFloat32 writes an IEEE-754 single precision float.
func (w *Writer) WriteFloat32(f float32) { w.WriteUint(uint64(math.Float32bits(f)), 32) }

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	if w.pos&7 == 0 {
		w.buf = append(w.buf, b...)
		w.pos += int64(len(b)) * 8
		return
	}
	for _, c := range b {
		w.WriteUint8(c)
	}
}

// WriteBits writes the first n bits of b.
func (w *Writer) WriteBits(b []byte, n int64) {
	for i := int64(0); i < n; i++ {
		w.WriteBool(b[i/8]>>(i%8)&1 == 1)
	}
}

// Align pads with zero bits up to the next byte boundary.
func (w *Writer) Align() {
	w.pos = (w.pos + 7) &^ 7
}

// WriteCompressedInt writes v using the bounded variable-width encoding read by
// Reader.ReadCompressedInt. v must be below max.
func (w *Writer) WriteCompressedInt(v, max uint32) error {
	if max > 1 && v >= max {
		return fmt.Errorf("compressed int %d out of range [0, %d)", v, max)
	}
	var value uint32
	for mask := uint32(1); mask != 0 && uint64(value)+uint64(mask) < uint64(max); mask <<= 1 {
		bit := v&mask != 0
		w.WriteBool(bit)
		if bit {
			value |= mask
		}
	}
	return nil
}

// WriteString writes a length-prefixed string, Latin-1 when every rune fits
// and UTF-16LE otherwise. The empty string is written as length 0.
func (w *Writer) WriteString(s string) error {
	if s == "" {
		w.WriteInt32(0)
		return nil
	}
	if latin, err := charmap.ISO8859_1.NewEncoder().String(s); err == nil {
		w.WriteInt32(int32(len(latin) + 1))
		w.WriteBytes([]byte(latin))
		w.WriteUint8(0)
		return nil
	}
	wide, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().String(s)
	if err != nil {
		return fmt.Errorf("encode string: %w", err)
	}
	units := len(wide)/2 + 1
	w.WriteInt32(-int32(units))
	w.WriteBytes([]byte(wide))
	w.WriteUint16(0)
	return nil
}
