// Package body decodes the replay body: the level and keyframe tables, the raw
// netstream bytes, and the object and class tables the netstream is decoded
// against.
package body

import (
	"hash/crc32"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/replay/bitstream"
)

// Keyframe is a seek point into the netstream.
type Keyframe struct {
	Time     float32
	Frame    int32
	Position int32
}

// DebugLog is a recorder-side log line.
type DebugLog struct {
	Frame int32
	User  string
	Text  string
}

// TickMark is a timeline marker such as a goal tick.
type TickMark struct {
	Type  string
	Frame int32
}

// ClassIndex maps a class name to its object index.
type ClassIndex struct {
	Class       string
	ObjectIndex int32
}

// CacheProperty declares one replicated property of a class.
type CacheProperty struct {
	ObjectIndex int32
	StreamID    int32
	Kind        uint8
	Max         uint32
}

// ClassNetCache declares a class's replicated properties. Properties of the
// class whose CacheID equals ParentID are inherited.
type ClassNetCache struct {
	ObjectIndex int32
	ParentID    int32
	CacheID     int32
	Properties  []CacheProperty
}

// Body is a decoded replay body.
type Body struct {
	Levels     []string
	Keyframes  []Keyframe
	Netstream  []byte
	DebugLogs  []DebugLog
	TickMarks  []TickMark
	Packages   []string
	Objects    []string
	Names      []string
	ClassIndex []ClassIndex
	NetCache   []ClassNetCache
}

// Minimum encoded element sizes in bits, used to reject counts that cannot fit.
const (
	minStringBits  = 32
	keyframeBits   = 96
	debugLogBits   = 32 + 2*minStringBits
	tickMarkBits   = minStringBits + 32
	classIndexBits = minStringBits + 32
	netCacheBits   = 4 * 32
	cachePropBits  = 3*32 + 8

	bodyOp       = "parse body"
	maxBodyBytes = 1 << 30
)

// Envelope is the size-prefixed, checksummed body region.
type Envelope struct {
	Size int32
	CRC  uint32
	Data []byte
}

// ReadEnvelope reads the body envelope at r.
func ReadEnvelope(r *bitstream.Reader) (*Envelope, error) {
	size, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if size < 0 || size > maxBodyBytes {
		return nil, decodeerr.New(decodeerr.KindMalformedStructure, bodyOp, r.Offset(), "body size %d", size)
	}
	crc, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, err
	}
	return &Envelope{Size: size, CRC: crc, Data: data}, nil
}

// Parse reads the body envelope at r, verifies its checksum and decodes it.
func Parse(r *bitstream.Reader) (*Body, error) {
	env, err := ReadEnvelope(r)
	if err != nil {
		return nil, err
	}
	if got := crc32.ChecksumIEEE(env.Data); got != env.CRC {
		return nil, decodeerr.New(decodeerr.KindMalformedStructure, bodyOp, -1,
			"checksum mismatch: declared %08x, computed %08x", env.CRC, got)
	}
	return Decode(bitstream.NewReader(env.Data))
}

// Decode reads the body sections at r.
func Decode(r *bitstream.Reader) (*Body, error) {
	b := &Body{}
	var err error
	if b.Levels, err = readStrings(r); err != nil {
		return nil, err
	}
	if b.Keyframes, err = readList(r, keyframeBits, readKeyframe); err != nil {
		return nil, err
	}
	if b.Netstream, err = readNetstream(r); err != nil {
		return nil, err
	}
	if b.DebugLogs, err = readList(r, debugLogBits, readDebugLog); err != nil {
		return nil, err
	}
	if b.TickMarks, err = readList(r, tickMarkBits, readTickMark); err != nil {
		return nil, err
	}
	if b.Packages, err = readStrings(r); err != nil {
		return nil, err
	}
	if b.Objects, err = readStrings(r); err != nil {
		return nil, err
	}
	if b.Names, err = readStrings(r); err != nil {
		return nil, err
	}
	if b.ClassIndex, err = readList(r, classIndexBits, readClassIndex); err != nil {
		return nil, err
	}
	if b.NetCache, err = readList(r, netCacheBits, readNetCache); err != nil {
		return nil, err
	}
	return b, nil
}

func readCount(r *bitstream.Reader, elemBits int64) (int, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, decodeerr.New(decodeerr.KindMalformedStructure, bodyOp, r.Offset(), "negative count %d", n)
	}
	if int64(n)*elemBits > r.Remaining() {
		return 0, decodeerr.New(decodeerr.KindMalformedStructure, bodyOp, r.Offset(),
			"count %d cannot fit in %d remaining bits", n, r.Remaining())
	}
	return int(n), nil
}

func readList[T any](r *bitstream.Reader, elemBits int64, read func(*bitstream.Reader) (T, error)) ([]T, error) {
	n, err := readCount(r, elemBits)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := read(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readStrings(r *bitstream.Reader) ([]string, error) {
	return readList(r, minStringBits, (*bitstream.Reader).ReadString)
}

func readNetstream(r *bitstream.Reader) ([]byte, error) {
	n, err := readCount(r, 8)
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(n)
}

func readKeyframe(r *bitstream.Reader) (Keyframe, error) {
	var k Keyframe
	var err error
	if k.Time, err = r.ReadFloat32(); err != nil {
		return k, err
	}
	if k.Frame, err = r.ReadInt32(); err != nil {
		return k, err
	}
	k.Position, err = r.ReadInt32()
	return k, err
}

func readDebugLog(r *bitstream.Reader) (DebugLog, error) {
	var d DebugLog
	var err error
	if d.Frame, err = r.ReadInt32(); err != nil {
		return d, err
	}
	if d.User, err = r.ReadString(); err != nil {
		return d, err
	}
	d.Text, err = r.ReadString()
	return d, err
}

func readTickMark(r *bitstream.Reader) (TickMark, error) {
	var t TickMark
	var err error
	if t.Type, err = r.ReadString(); err != nil {
		return t, err
	}
	t.Frame, err = r.ReadInt32()
	return t, err
}

func readClassIndex(r *bitstream.Reader) (ClassIndex, error) {
	var c ClassIndex
	var err error
	if c.Class, err = r.ReadString(); err != nil {
		return c, err
	}
	c.ObjectIndex, err = r.ReadInt32()
	return c, err
}

func readNetCache(r *bitstream.Reader) (ClassNetCache, error) {
	var c ClassNetCache
	var err error
	if c.ObjectIndex, err = r.ReadInt32(); err != nil {
		return c, err
	}
	if c.ParentID, err = r.ReadInt32(); err != nil {
		return c, err
	}
	if c.CacheID, err = r.ReadInt32(); err != nil {
		return c, err
	}
	c.Properties, err = readList(r, cachePropBits, readCacheProperty)
	return c, err
}

func readCacheProperty(r *bitstream.Reader) (CacheProperty, error) {
	var p CacheProperty
	var err error
	if p.ObjectIndex, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.StreamID, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.Kind, err = r.ReadByte(); err != nil {
		return p, err
	}
	p.Max, err = r.ReadUint32()
	return p, err
}
