// Package props decodes the self-describing property tables used by the replay
// header: an ordered run of name/type/size/value entries closed by a "None" key.
package props

import (
	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/replay/bitstream"
)

// Property type tags.
const (
	TypeInt    = "IntProperty"
	TypeStr    = "StrProperty"
	TypeName   = "NameProperty"
	TypeFloat  = "FloatProperty"
	TypeBool   = "BoolProperty"
	TypeQWord  = "QWordProperty"
	TypeByte   = "ByteProperty"
	TypeArray  = "ArrayProperty"
	TypeStruct = "StructProperty"
)

// Terminator closes a table.
const Terminator = "None"

// MaxDepth bounds table nesting; the top-level table is depth 0.
const MaxDepth = 16

// minTableBits is the smallest possible encoded table: a lone "None" key.
const minTableBits int64 = int64((4 + len(Terminator) + 1) * 8)

// Value is one of the concrete property value types below.
type Value interface {
	isValue()
}

type (
	IntValue    int32
	StringValue string
	FloatValue  float32
	BoolValue   bool
	QWordValue  uint64
	// OpaqueValue holds the raw bytes of a property whose type is not modelled.
	OpaqueValue []byte
	ArrayValue  []Table
)

// ByteValue is an enumeration property: the enum type and the selected member.
type ByteValue struct {
	EnumType string
	Value    string
}

// StructValue is a named nested table.
type StructValue struct {
	Name   string
	Fields Table
}

func (IntValue) isValue()    {}
func (StringValue) isValue() {}
func (FloatValue) isValue()  {}
func (BoolValue) isValue()   {}
func (QWordValue) isValue()  {}
func (OpaqueValue) isValue() {}
func (ArrayValue) isValue()  {}
func (ByteValue) isValue()   {}
func (StructValue) isValue() {}

// Property is a single decoded table entry.
type Property struct {
	Name  string
	Type  string
	Value Value
}

// Table is an ordered property table.
type Table []Property

// Decode reads a property table at the reader's position.
func Decode(r *bitstream.Reader) (Table, error) {
	return decodeTable(r, 0)
}

func decodeTable(r *bitstream.Reader, depth int) (Table, error) {
	if depth > MaxDepth {
		return nil, decodeerr.New(decodeerr.KindMalformedStructure, "decode table", r.Offset(),
			"nesting exceeds %d levels", MaxDepth)
	}
	t := Table{}
	for {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if name == Terminator {
			return t, nil
		}
		if name == "" {
			return nil, decodeerr.New(decodeerr.KindMalformedStructure, "decode table", r.Offset(), "empty property name")
		}
		typ, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(r, typ, size, depth)
		if err != nil {
			return nil, err
		}
		t = append(t, Property{Name: name, Type: typ, Value: v})
	}
}

func decodeValue(r *bitstream.Reader, typ string, size uint64, depth int) (Value, error) {
	switch typ {
	case TypeInt:
		v, err := r.ReadInt32()
		return IntValue(v), err
	case TypeStr, TypeName:
		v, err := r.ReadString()
		return StringValue(v), err
	case TypeFloat:
		v, err := r.ReadFloat32()
		return FloatValue(v), err
	case TypeBool:
		v, err := r.ReadByte()
		return BoolValue(v != 0), err
	case TypeQWord:
		v, err := r.ReadUint64()
		return QWordValue(v), err
	case TypeByte:
		enumType, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		member, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		return ByteValue{EnumType: enumType, Value: member}, nil
	case TypeArray:
		return decodeArray(r, depth)
	case TypeStruct:
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		fields, err := decodeTable(r, depth+1)
		if err != nil {
			return nil, err
		}
		return StructValue{Name: name, Fields: fields}, nil
	default:
		if size > uint64(r.Remaining()/8) {
			return nil, decodeerr.New(decodeerr.KindUnexpectedEndOfStream, "decode opaque", r.Offset(),
				"%s declares %d bytes, %d remaining", typ, size, r.Remaining()/8)
		}
		raw, err := r.ReadBytes(int(size))
		return OpaqueValue(raw), err
	}
}

func decodeArray(r *bitstream.Reader, depth int) (Value, error) {
	count, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, decodeerr.New(decodeerr.KindMalformedStructure, "decode array", r.Offset(), "negative count %d", count)
	}
	if int64(count)*minTableBits > r.Remaining() {
		return nil, decodeerr.New(decodeerr.KindMalformedStructure, "decode array", r.Offset(),
			"count %d cannot fit in %d remaining bits", count, r.Remaining())
	}
	out := make(ArrayValue, 0, count)
	for i := int32(0); i < count; i++ {
		elem, err := decodeTable(r, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	return out, nil
}

// Get returns the first property with the given name.
func (t Table) Get(name string) (Property, bool) {
	for _, p := range t {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Int returns an IntProperty value.
func (t Table) Int(name string) (int32, bool) {
	p, ok := t.Get(name)
	if !ok {
		return 0, false
	}
	v, ok := p.Value.(IntValue)
	return int32(v), ok
}

// Float returns a FloatProperty value.
func (t Table) Float(name string) (float32, bool) {
	p, ok := t.Get(name)
	if !ok {
		return 0, false
	}
	v, ok := p.Value.(FloatValue)
	return float32(v), ok
}

// String returns a StrProperty or NameProperty value.
func (t Table) String(name string) (string, bool) {
	p, ok := t.Get(name)
	if !ok {
		return "", false
	}
	v, ok := p.Value.(StringValue)
	return string(v), ok
}

// Bool returns a BoolProperty value.
func (t Table) Bool(name string) (bool, bool) {
	p, ok := t.Get(name)
	if !ok {
		return false, false
	}
	v, ok := p.Value.(BoolValue)
	return bool(v), ok
}

// QWord returns a QWordProperty value.
func (t Table) QWord(name string) (uint64, bool) {
	p, ok := t.Get(name)
	if !ok {
		return 0, false
	}
	v, ok := p.Value.(QWordValue)
	return uint64(v), ok
}

// Byte returns a ByteProperty value.
func (t Table) Byte(name string) (ByteValue, bool) {
	p, ok := t.Get(name)
	if !ok {
		return ByteValue{}, false
	}
	v, ok := p.Value.(ByteValue)
	return v, ok
}

// Array returns the element tables of an ArrayProperty.
func (t Table) Array(name string) ([]Table, bool) {
	p, ok := t.Get(name)
	if !ok {
		return nil, false
	}
	v, ok := p.Value.(ArrayValue)
	return []Table(v), ok
}

// Struct returns a StructProperty value.
func (t Table) Struct(name string) (StructValue, bool) {
	p, ok := t.Get(name)
	if !ok {
		return StructValue{}, false
	}
	v, ok := p.Value.(StructValue)
	return v, ok
}
