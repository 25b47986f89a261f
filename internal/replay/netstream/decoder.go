// Package netstream decodes the frame-by-frame actor replication stream of a
// replay body. Decoding is lazy, single-pass and not restartable: each call to
// Next yields the following frame and advances the live actor map.
package netstream

import (
	"errors"
	"fmt"
	"io"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/replay/bitstream"
	"replay-ingest/internal/replay/registry"
)

// EventKind tells spawns, updates and destroys apart.
type EventKind uint8

const (
	EventSpawn EventKind = iota + 1
	EventUpdate
	EventDestroy
)

func (k EventKind) String() string {
	switch k {
	case EventSpawn:
		return "spawn"
	case EventUpdate:
		return "update"
	case EventDestroy:
		return "destroy"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Update is one decoded field value.
type Update struct {
	Field string
	Value registry.Value
}

// Event is a change to one actor within a frame.
type Event struct {
	Kind    EventKind
	ActorID uint32
	ClassID uint32
	Class   string
	// Location is set for spawns that carry an initial position.
	Location *registry.Vector
	Updates  []Update
}

// Frame is one decoded netstream frame.
type Frame struct {
	Index  int
	Time   float32
	Delta  float32
	Events []Event
	// SkippedFields counts self-sized fields skipped without decoding.
	SkippedFields int
	// Abandoned is set when a field of unknown width forced the rest of the
	// frame to be skipped; AbandonReason says which.
	Abandoned     bool
	AbandonReason string
}

// Actor is a live actor and its latest field values.
type Actor struct {
	ID     uint32
	Class  *registry.Class
	Fields map[string]registry.Value
}

// Options bound a decode.
type Options struct {
	// Frames is the number of frames the header declares.
	Frames int
	// MaxChannels bounds actor ids.
	MaxChannels int
}

// Stats counts what a decode has produced and skipped so far.
type Stats struct {
	Frames          int
	Events          int
	SkippedFields   int
	AbandonedFrames int
}

// Decoder reads frames from a netstream.
type Decoder struct {
	r      *bitstream.Reader
	reg    *registry.Registry
	opts   Options
	actors map[uint32]*Actor
	next   int
	stats  Stats
	err    error
}

// abandonError aborts the current frame without failing the decode.
type abandonError struct {
	reason string
}

func (e *abandonError) Error() string { return e.reason }

// New returns a Decoder over the raw netstream bytes.
func New(data []byte, reg *registry.Registry, opts Options) *Decoder {
	return &Decoder{
		r:      bitstream.NewReader(data),
		reg:    reg,
		opts:   opts,
		actors: make(map[uint32]*Actor),
	}
}

// Next decodes the next frame. It returns io.EOF once the declared number of
// frames has been produced. Any other error is final.
func (d *Decoder) Next() (*Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.next >= d.opts.Frames {
		return nil, io.EOF
	}
	f, err := d.readFrame()
	if err != nil {
		d.err = err
		return nil, err
	}
	d.next++
	d.stats.Frames++
	d.stats.Events += len(f.Events)
	d.stats.SkippedFields += f.SkippedFields
	if f.Abandoned {
		d.stats.AbandonedFrames++
	}
	return f, nil
}

// Stats returns counters for the frames decoded so far.
func (d *Decoder) Stats() Stats { return d.stats }

// Actor returns a live actor.
func (d *Decoder) Actor(id uint32) (*Actor, bool) {
	a, ok := d.actors[id]
	return a, ok
}

// Live returns the number of live actors.
func (d *Decoder) Live() int { return len(d.actors) }

func (d *Decoder) readFrame() (*Frame, error) {
	f := &Frame{Index: d.next}
	var err error
	if f.Time, err = d.r.ReadFloat32(); err != nil {
		return nil, err
	}
	if f.Delta, err = d.r.ReadFloat32(); err != nil {
		return nil, err
	}
	size, err := d.r.ReadUint32()
	if err != nil {
		return nil, err
	}
	end := d.r.Offset() + int64(size)
	if end > d.r.Len() {
		return nil, decodeerr.New(decodeerr.KindUnexpectedEndOfStream, "read frame", d.r.Offset(),
			"frame %d declares %d payload bits, %d remaining", f.Index, size, d.r.Remaining())
	}

	err = d.readEvents(f, end)
	var abandon *abandonError
	switch {
	case errors.As(err, &abandon):
		f.Abandoned = true
		f.AbandonReason = abandon.reason
		if err := d.r.SeekBit(end); err != nil {
			return nil, err
		}
		return f, nil
	case err != nil:
		return nil, err
	}
	if d.r.Offset() != end {
		return nil, decodeerr.New(decodeerr.KindMalformedStructure, "read frame", d.r.Offset(),
			"frame %d payload ends at bit %d, declared %d", f.Index, d.r.Offset(), end)
	}
	return f, nil
}

func (d *Decoder) readEvents(f *Frame, end int64) error {
	for {
		more, err := d.r.ReadBool()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		id, err := d.r.ReadCompressedInt(uint32(d.opts.MaxChannels))
		if err != nil {
			return err
		}
		open, err := d.r.ReadBool()
		if err != nil {
			return err
		}
		if !open {
			if err := d.destroy(f, id); err != nil {
				return err
			}
		} else {
			isNew, err := d.r.ReadBool()
			if err != nil {
				return err
			}
			if isNew {
				err = d.spawn(f, id)
			} else {
				err = d.update(f, id)
			}
			if err != nil {
				return err
			}
		}
		if d.r.Offset() > end {
			return decodeerr.New(decodeerr.KindMalformedStructure, "read frame", d.r.Offset(),
				"actor %d overruns frame %d payload", id, f.Index)
		}
	}
}

func (d *Decoder) spawn(f *Frame, id uint32) error {
	if _, live := d.actors[id]; live {
		return inconsistent(d.r.Offset(), "frame %d: actor %d spawned while alive", f.Index, id)
	}
	classID, err := d.r.ReadUint32()
	if err != nil {
		return err
	}
	cls, ok := d.reg.Class(classID)
	if !ok {
		return decodeerr.New(decodeerr.KindMalformedStructure, "spawn actor", d.r.Offset(),
			"frame %d: actor %d has unregistered class %d", f.Index, id, classID)
	}
	hasLocation, err := d.r.ReadBool()
	if err != nil {
		return err
	}
	ev := Event{Kind: EventSpawn, ActorID: id, ClassID: classID, Class: cls.Name}
	if hasLocation {
		loc, err := registry.FieldSchema{Kind: registry.KindVector}.Read(d.r)
		if err != nil {
			return err
		}
		v := loc.(registry.Vector)
		ev.Location = &v
	}
	d.actors[id] = &Actor{ID: id, Class: cls, Fields: make(map[string]registry.Value)}
	f.Events = append(f.Events, ev)
	return nil
}

func (d *Decoder) update(f *Frame, id uint32) error {
	actor, live := d.actors[id]
	if !live {
		return inconsistent(d.r.Offset(), "frame %d: update for unknown actor %d", f.Index, id)
	}
	ev := Event{Kind: EventUpdate, ActorID: id, ClassID: actor.Class.ID, Class: actor.Class.Name}
	err := d.readUpdates(f, actor, &ev)
	if len(ev.Updates) > 0 {
		f.Events = append(f.Events, ev)
	}
	return err
}

func (d *Decoder) readUpdates(f *Frame, actor *Actor, ev *Event) error {
	for {
		more, err := d.r.ReadBool()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		pid, err := d.r.ReadCompressedInt(actor.Class.MaxStreamID + 1)
		if err != nil {
			return err
		}
		field, err := d.reg.Resolve(actor.Class.ID, pid)
		if err != nil {
			return &abandonError{reason: err.Error()}
		}
		v, err := field.Read(d.r)
		if errors.Is(err, decodeerr.ErrUnknownField) {
			return &abandonError{reason: fmt.Sprintf("%s: %s has unknown width", field.Name, field.Kind)}
		}
		if err != nil {
			return err
		}
		if field.Kind.Sized() {
			f.SkippedFields++
			continue
		}
		actor.Fields[field.Name] = v
		ev.Updates = append(ev.Updates, Update{Field: field.Name, Value: v})
	}
}

func (d *Decoder) destroy(f *Frame, id uint32) error {
	actor, live := d.actors[id]
	if !live {
		return inconsistent(d.r.Offset(), "frame %d: destroy of unknown actor %d", f.Index, id)
	}
	delete(d.actors, id)
	f.Events = append(f.Events, Event{Kind: EventDestroy, ActorID: id, ClassID: actor.Class.ID, Class: actor.Class.Name})
	return nil
}

func inconsistent(offset int64, format string, args ...any) error {
	return decodeerr.New(decodeerr.KindInconsistentActorState, "read frame", offset, format, args...)
}
