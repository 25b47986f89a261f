package body

import (
	"hash/crc32"

	"replay-ingest/internal/replay/bitstream"
)

// Encode writes b in the format Decode reads.
func Encode(w *bitstream.Writer, b *Body) error {
	if err := writeStrings(w, b.Levels); err != nil {
		return err
	}
	w.WriteInt32(int32(len(b.Keyframes)))
	for _, k := range b.Keyframes {
		w.WriteFloat32(k.Time)
		w.WriteInt32(k.Frame)
		w.WriteInt32(k.Position)
	}
	w.WriteInt32(int32(len(b.Netstream)))
	w.WriteBytes(b.Netstream)
	w.WriteInt32(int32(len(b.DebugLogs)))
	for _, d := range b.DebugLogs {
		w.WriteInt32(d.Frame)
		if err := w.WriteString(d.User); err != nil {
			return err
		}
		if err := w.WriteString(d.Text); err != nil {
			return err
		}
	}
	w.WriteInt32(int32(len(b.TickMarks)))
	for _, t := range b.TickMarks {
		if err := w.WriteString(t.Type); err != nil {
			return err
		}
		w.WriteInt32(t.Frame)
	}
	for _, list := range [][]string{b.Packages, b.Objects, b.Names} {
		if err := writeStrings(w, list); err != nil {
			return err
		}
	}
	w.WriteInt32(int32(len(b.ClassIndex)))
	for _, c := range b.ClassIndex {
		if err := w.WriteString(c.Class); err != nil {
			return err
		}
		w.WriteInt32(c.ObjectIndex)
	}
	w.WriteInt32(int32(len(b.NetCache)))
	for _, c := range b.NetCache {
		w.WriteInt32(c.ObjectIndex)
		w.WriteInt32(c.ParentID)
		w.WriteInt32(c.CacheID)
		w.WriteInt32(int32(len(c.Properties)))
		for _, p := range c.Properties {
			w.WriteInt32(p.ObjectIndex)
			w.WriteInt32(p.StreamID)
			w.WriteUint8(p.Kind)
			w.WriteUint32(p.Max)
		}
	}
	return nil
}

// EncodeEnvelope writes b with its size and checksum prefix.
func EncodeEnvelope(w *bitstream.Writer, b *Body) error {
	sub := bitstream.NewWriter()
	if err := Encode(sub, b); err != nil {
		return err
	}
	data := sub.Bytes()
	w.WriteInt32(int32(len(data)))
	w.WriteUint32(crc32.ChecksumIEEE(data))
	w.WriteBytes(data)
	return nil
}

func writeStrings(w *bitstream.Writer, list []string) error {
	w.WriteInt32(int32(len(list)))
	for _, s := range list {
		if err := w.WriteString(s); err != nil {
			return err
		}
	}
	return nil
}
