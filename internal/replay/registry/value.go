package registry

import (
	"fmt"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/replay/bitstream"
)

// Kind is the wire encoding of a replicated property.
type Kind uint8

const (
	KindBool Kind = iota
	KindByte
	KindInt
	KindFloat
	KindVector
	KindRigidBody
	KindEnum
	KindString
	KindActiveActor
	KindUniqueID
	KindLoadout
	KindCamera

	// KindSized marks a kind whose payload is prefixed with its bit length,
	// so it can be skipped without being understood.
	KindSized Kind = 0x80
)

var kindNames = map[Kind]string{
	KindBool:        "bool",
	KindByte:        "byte",
	KindInt:         "int",
	KindFloat:       "float",
	KindVector:      "vector",
	KindRigidBody:   "rigid_body",
	KindEnum:        "enum",
	KindString:      "string",
	KindActiveActor: "active_actor",
	KindUniqueID:    "unique_id",
	KindLoadout:     "loadout",
	KindCamera:      "camera",
}

func (k Kind) String() string {
	if k&KindSized != 0 {
		return fmt.Sprintf("sized(%d)", uint8(k&^KindSized))
	}
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Sized reports whether the payload carries its own bit length.
func (k Kind) Sized() bool { return k&KindSized != 0 }

// Modelled reports whether the decoder knows the kind's layout.
func (k Kind) Modelled() bool {
	_, ok := kindNames[k]
	return ok
}

// Value is one of the concrete field value types below.
type Value interface {
	isValue()
}

type (
	Bool  bool
	Byte  uint8
	Int   int32
	Float float32
	Enum  uint32
	// String is a replicated string property.
	String string
	// Opaque is the raw payload of a sized field that was skipped.
	Opaque []byte
)

// Vector is a location or rotation.
type Vector struct {
	X, Y, Z float32
}

// RigidBody is replicated physics state.
type RigidBody struct {
	Sleeping bool
	Location Vector
	Rotation Vector
}

// ActorRef points at another actor. Active is false for a cleared reference.
type ActorRef struct {
	Active  bool
	ActorID int32
}

// UniqueID identifies a player on an online platform.
type UniqueID struct {
	Platform    uint8
	ID          uint64
	Splitscreen uint8
}

// Loadout is a vehicle configuration.
type Loadout struct {
	Version uint8
	Body    uint32
	Decal   uint32
	Wheels  uint32
	Boost   uint32
	Antenna uint32
	Topper  uint32
}

// Camera is a camera profile.
type Camera struct {
	FOV, Height, Pitch, Distance, Stiffness, SwivelSpeed float32
}

func (Bool) isValue()      {}
func (Byte) isValue()      {}
func (Int) isValue()       {}
func (Float) isValue()     {}
func (Enum) isValue()      {}
func (String) isValue()    {}
func (Opaque) isValue()    {}
func (Vector) isValue()    {}
func (RigidBody) isValue() {}
func (ActorRef) isValue()  {}
func (UniqueID) isValue()  {}
func (Loadout) isValue()   {}
func (Camera) isValue()    {}

func readValue(r *bitstream.Reader, kind Kind, max uint32) (Value, error) {
	switch kind {
	case KindBool:
		v, err := r.ReadBool()
		return Bool(v), err
	case KindByte:
		v, err := r.ReadByte()
		return Byte(v), err
	case KindInt:
		v, err := r.ReadInt32()
		return Int(v), err
	case KindFloat:
		v, err := r.ReadFloat32()
		return Float(v), err
	case KindVector:
		return readVector(r)
	case KindRigidBody:
		sleeping, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		loc, err := readVector(r)
		if err != nil {
			return nil, err
		}
		rot, err := readVector(r)
		if err != nil {
			return nil, err
		}
		return RigidBody{Sleeping: sleeping, Location: loc, Rotation: rot}, nil
	case KindEnum:
		v, err := r.ReadCompressedInt(max)
		return Enum(v), err
	case KindString:
		v, err := r.ReadString()
		return String(v), err
	case KindActiveActor:
		active, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		id, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		return ActorRef{Active: active, ActorID: id}, nil
	case KindUniqueID:
		var u UniqueID
		var err error
		if u.Platform, err = r.ReadByte(); err != nil {
			return nil, err
		}
		if u.ID, err = r.ReadUint64(); err != nil {
			return nil, err
		}
		if u.Splitscreen, err = r.ReadByte(); err != nil {
			return nil, err
		}
		return u, nil
	case KindLoadout:
		var l Loadout
		var err error
		if l.Version, err = r.ReadByte(); err != nil {
			return nil, err
		}
		for _, dst := range []*uint32{&l.Body, &l.Decal, &l.Wheels, &l.Boost, &l.Antenna, &l.Topper} {
			if *dst, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		}
		return l, nil
	case KindCamera:
		var c Camera
		var err error
		for _, dst := range []*float32{&c.FOV, &c.Height, &c.Pitch, &c.Distance, &c.Stiffness, &c.SwivelSpeed} {
			if *dst, err = r.ReadFloat32(); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
	return nil, decodeerr.New(decodeerr.KindUnknownField, "read value", r.Offset(), "no layout for %s", kind)
}

func readVector(r *bitstream.Reader) (Vector, error) {
	var v Vector
	var err error
	if v.X, err = r.ReadFloat32(); err != nil {
		return v, err
	}
	if v.Y, err = r.ReadFloat32(); err != nil {
		return v, err
	}
	v.Z, err = r.ReadFloat32()
	return v, err
}

// WriteValue encodes v as kind. It is the inverse of FieldSchema.Read and is
// used to synthesize netstreams.
func WriteValue(w *bitstream.Writer, kind Kind, max uint32, v Value) error {
	if kind.Sized() {
		raw, ok := v.(Opaque)
		if !ok {
			return fmt.Errorf("sized field needs an opaque value, got %T", v)
		}
		w.WriteUint16(uint16(len(raw) * 8))
		w.WriteBytes(raw)
		return nil
	}
	switch val := v.(type) {
	case Bool:
		w.WriteBool(bool(val))
	case Byte:
		w.WriteUint8(uint8(val))
	case Int:
		w.WriteInt32(int32(val))
	case Float:
		w.WriteFloat32(float32(val))
	case Vector:
		writeVector(w, val)
	case RigidBody:
		w.WriteBool(val.Sleeping)
		writeVector(w, val.Location)
		writeVector(w, val.Rotation)
	case Enum:
		return w.WriteCompressedInt(uint32(val), max)
	case String:
		return w.WriteString(string(val))
	case ActorRef:
		w.WriteBool(val.Active)
		w.WriteInt32(val.ActorID)
	case UniqueID:
		w.WriteUint8(val.Platform)
		w.WriteUint64(val.ID)
		w.WriteUint8(val.Splitscreen)
	case Loadout:
		w.WriteUint8(val.Version)
		for _, x := range []uint32{val.Body, val.Decal, val.Wheels, val.Boost, val.Antenna, val.Topper} {
			w.WriteUint32(x)
		}
	case Camera:
		for _, x := range []float32{val.FOV, val.Height, val.Pitch, val.Distance, val.Stiffness, val.SwivelSpeed} {
			w.WriteFloat32(x)
		}
	case Opaque:
		w.WriteBytes(val)
	default:
		return fmt.Errorf("unsupported value %T", v)
	}
	return nil
}

func writeVector(w *bitstream.Writer, v Vector) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}
