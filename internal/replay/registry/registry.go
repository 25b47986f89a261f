// Package registry builds the per-file class schemas the netstream is decoded
// against. Replays carry their own class layout, so a Registry belongs to a
// single decode and is never shared.
package registry

import (
	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/replay/bitstream"
	"replay-ingest/internal/replay/body"
)

// FieldSchema describes one replicated property of a class and owns its wire
// width.
type FieldSchema struct {
	Name     string
	StreamID uint32
	Kind     Kind
	Max      uint32
}

// Read decodes the field's value at r. Sized kinds are returned as Opaque
// without being interpreted. A kind with no known layout and no length prefix
// fails with UnknownField and leaves the cursor unmoved, as the field's width
// cannot be determined.
func (f FieldSchema) Read(r *bitstream.Reader) (Value, error) {
	if f.Kind.Sized() {
		start := r.Offset()
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		raw, err := r.ReadBits(int64(n))
		if err != nil {
			_ = r.SeekBit(start)
			return nil, err
		}
		return Opaque(raw), nil
	}
	return readValue(r, f.Kind, f.Max)
}

// Class is the schema of one replicated class, including inherited fields.
type Class struct {
	ID          uint32
	Name        string
	CacheID     int32
	MaxStreamID uint32
	Fields      map[uint32]FieldSchema
}

// Field returns the schema registered under the given name.
func (c *Class) Field(name string) (FieldSchema, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Registry resolves class and property ids to schemas.
type Registry struct {
	classes map[uint32]*Class
	byName  map[string]*Class
}

// New builds a registry from the body's object table, class index and class
// net cache. Net cache entries are processed in order and inherit from the
// nearest earlier entry whose cache id matches their parent id.
func New(objects []string, classIndex []body.ClassIndex, netCache []body.ClassNetCache) (*Registry, error) {
	names := make(map[int32]string, len(classIndex))
	for _, ci := range classIndex {
		if ci.ObjectIndex < 0 || int(ci.ObjectIndex) >= len(objects) {
			return nil, malformed("class %q references object %d of %d", ci.Class, ci.ObjectIndex, len(objects))
		}
		names[ci.ObjectIndex] = ci.Class
	}

	reg := &Registry{
		classes: make(map[uint32]*Class, len(netCache)),
		byName:  make(map[string]*Class, len(netCache)),
	}
	built := make([]*Class, 0, len(netCache))
	for _, entry := range netCache {
		if entry.ObjectIndex < 0 || int(entry.ObjectIndex) >= len(objects) {
			return nil, malformed("net cache entry %d references object %d of %d",
				entry.CacheID, entry.ObjectIndex, len(objects))
		}
		name, ok := names[entry.ObjectIndex]
		if !ok {
			name = objects[entry.ObjectIndex]
		}
		cls := &Class{
			ID:      uint32(entry.ObjectIndex),
			Name:    name,
			CacheID: entry.CacheID,
			Fields:  make(map[uint32]FieldSchema),
		}
		if parent := findParent(built, entry); parent != nil {
			for id, f := range parent.Fields {
				cls.Fields[id] = f
			}
		}
		for _, p := range entry.Properties {
			if p.ObjectIndex < 0 || int(p.ObjectIndex) >= len(objects) {
				return nil, malformed("class %q property references object %d of %d", name, p.ObjectIndex, len(objects))
			}
			if p.StreamID < 0 {
				return nil, malformed("class %q property %q has stream id %d", name, objects[p.ObjectIndex], p.StreamID)
			}
			cls.Fields[uint32(p.StreamID)] = FieldSchema{
				Name:     objects[p.ObjectIndex],
				StreamID: uint32(p.StreamID),
				Kind:     Kind(p.Kind),
				Max:      p.Max,
			}
		}
		for id := range cls.Fields {
			if id > cls.MaxStreamID {
				cls.MaxStreamID = id
			}
		}
		if _, dup := reg.classes[cls.ID]; dup {
			return nil, malformed("class %q declared twice", name)
		}
		reg.classes[cls.ID] = cls
		reg.byName[cls.Name] = cls
		built = append(built, cls)
	}
	return reg, nil
}

func findParent(built []*Class, entry body.ClassNetCache) *Class {
	if entry.ParentID == entry.CacheID {
		return nil
	}
	for i := len(built) - 1; i >= 0; i-- {
		if built[i].CacheID == entry.ParentID {
			return built[i]
		}
	}
	return nil
}

// Class returns the schema for a class object id.
func (r *Registry) Class(id uint32) (*Class, bool) {
	c, ok := r.classes[id]
	return c, ok
}

// ClassByName returns the schema for a class name.
func (r *Registry) ClassByName(name string) (*Class, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Len returns the number of registered classes.
func (r *Registry) Len() int { return len(r.classes) }

// Resolve returns the schema of a property of a class, or UnknownField when
// either is not registered.
func (r *Registry) Resolve(classID, propertyID uint32) (FieldSchema, error) {
	c, ok := r.classes[classID]
	if !ok {
		return FieldSchema{}, decodeerr.New(decodeerr.KindUnknownField, "resolve field", -1, "unknown class %d", classID)
	}
	f, ok := c.Fields[propertyID]
	if !ok {
		return FieldSchema{}, decodeerr.New(decodeerr.KindUnknownField, "resolve field", -1,
			"class %q has no property %d", c.Name, propertyID)
	}
	return f, nil
}

func malformed(format string, args ...any) error {
	return decodeerr.New(decodeerr.KindMalformedStructure, "build registry", -1, format, args...)
}
