package props

import (
	"fmt"

	"replay-ingest/internal/replay/bitstream"
)

// Encode writes t in the format Decode reads. BoolProperty sizes are written as
// zero, as the vendor encoder does.
func Encode(w *bitstream.Writer, t Table) error {
	for _, p := range t {
		if err := w.WriteString(p.Name); err != nil {
			return err
		}
		if err := w.WriteString(p.Type); err != nil {
			return err
		}
		sub := bitstream.NewWriter()
		if err := encodeValue(sub, p.Type, p.Value); err != nil {
			return fmt.Errorf("property %q: %w", p.Name, err)
		}
		size := uint64(len(sub.Bytes()))
		if p.Type == TypeBool {
			size = 0
		}
		w.WriteUint64(size)
		w.WriteBytes(sub.Bytes())
	}
	return w.WriteString(Terminator)
}

func encodeValue(w *bitstream.Writer, typ string, v Value) error {
	switch val := v.(type) {
	case IntValue:
		w.WriteInt32(int32(val))
	case StringValue:
		return w.WriteString(string(val))
	case FloatValue:
		w.WriteFloat32(float32(val))
	case BoolValue:
		if val {
			w.WriteUint8(1)
		} else {
			w.WriteUint8(0)
		}
	case QWordValue:
		w.WriteUint64(uint64(val))
	case ByteValue:
		if err := w.WriteString(val.EnumType); err != nil {
			return err
		}
		return w.WriteString(val.Value)
	case ArrayValue:
		w.WriteInt32(int32(len(val)))
		for _, elem := range val {
			if err := Encode(w, elem); err != nil {
				return err
			}
		}
	case StructValue:
		if err := w.WriteString(val.Name); err != nil {
			return err
		}
		return Encode(w, val.Fields)
	case OpaqueValue:
		w.WriteBytes(val)
	default:
		return fmt.Errorf("unsupported value %T for %s", v, typ)
	}
	return nil
}
