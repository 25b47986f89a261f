package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/replay/bitstream"
	"replay-ingest/internal/replay/body"
)

var testObjects = []string{
	"TAGame.RBActor_TA",
	"TAGame.Car_TA",
	"TAGame.RBActor_TA:ReplicatedRBState",
	"Engine.Pawn:PlayerReplicationInfo",
	"TAGame.Car_TA:TeamPaint",
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(testObjects,
		[]body.ClassIndex{{Class: "TAGame.Car_TA", ObjectIndex: 1}},
		[]body.ClassNetCache{
			{ObjectIndex: 0, ParentID: 0, CacheID: 1, Properties: []body.CacheProperty{
				{ObjectIndex: 2, StreamID: 1, Kind: uint8(KindRigidBody)},
			}},
			{ObjectIndex: 1, ParentID: 1, CacheID: 2, Properties: []body.CacheProperty{
				{ObjectIndex: 3, StreamID: 4, Kind: uint8(KindActiveActor)},
				{ObjectIndex: 4, StreamID: 6, Kind: uint8(KindSized | 12)},
			}},
		})
	require.NoError(t, err)
	return reg
}

func TestNew_inheritsParentFields(t *testing.T) {
	reg := testRegistry(t)

	car, ok := reg.Class(1)
	require.True(t, ok)
	assert.Equal(t, "TAGame.Car_TA", car.Name)
	assert.Equal(t, uint32(6), car.MaxStreamID)

	f, err := reg.Resolve(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "TAGame.RBActor_TA:ReplicatedRBState", f.Name)
	assert.Equal(t, KindRigidBody, f.Kind)

	_, ok = car.Field("Engine.Pawn:PlayerReplicationInfo")
	assert.True(t, ok)

	base, ok := reg.ClassByName("TAGame.RBActor_TA")
	require.True(t, ok)
	assert.Len(t, base.Fields, 1)
	assert.Equal(t, 2, reg.Len())
}

func TestResolve_unknown(t *testing.T) {
	reg := testRegistry(t)

	_, err := reg.Resolve(1, 5)
	assert.True(t, errors.Is(err, decodeerr.ErrUnknownField))

	_, err = reg.Resolve(99, 1)
	assert.True(t, errors.Is(err, decodeerr.ErrUnknownField))
}

func TestNew_rejectsOutOfRangeObjects(t *testing.T) {
	_, err := New(testObjects, nil, []body.ClassNetCache{{ObjectIndex: 12, CacheID: 1}})
	assert.True(t, errors.Is(err, decodeerr.ErrMalformedStructure))

	_, err = New(testObjects, nil, []body.ClassNetCache{{ObjectIndex: 1, CacheID: 1, Properties: []body.CacheProperty{
		{ObjectIndex: -1, StreamID: 0},
	}}})
	assert.True(t, errors.Is(err, decodeerr.ErrMalformedStructure))

	_, err = New(testObjects, []body.ClassIndex{{Class: "x", ObjectIndex: 40}}, nil)
	assert.True(t, errors.Is(err, decodeerr.ErrMalformedStructure))
}

func TestFieldSchema_Read(t *testing.T) {
	w := bitstream.NewWriter()
	rb := RigidBody{Location: Vector{X: 1, Y: 2, Z: 3}, Rotation: Vector{Z: 0.5}}
	require.NoError(t, WriteValue(w, KindRigidBody, 0, rb))
	require.NoError(t, WriteValue(w, KindSized|12, 0, Opaque{0xAA, 0xBB}))
	require.NoError(t, WriteValue(w, KindEnum, 8, Enum(5)))
	w.WriteBool(true)

	r := bitstream.NewReader(w.Bytes())
	v, err := FieldSchema{Kind: KindRigidBody}.Read(r)
	require.NoError(t, err)
	assert.Equal(t, rb, v)

	v, err = FieldSchema{Kind: KindSized | 12}.Read(r)
	require.NoError(t, err)
	assert.Equal(t, Opaque{0xAA, 0xBB}, v)

	v, err = FieldSchema{Kind: KindEnum, Max: 8}.Read(r)
	require.NoError(t, err)
	assert.Equal(t, Enum(5), v)

	before := r.Offset()
	_, err = FieldSchema{Kind: Kind(40)}.Read(r)
	assert.True(t, errors.Is(err, decodeerr.ErrUnknownField))
	assert.Equal(t, before, r.Offset())
}

func TestFieldSchema_Read_truncated(t *testing.T) {
	w := bitstream.NewWriter()
	w.WriteUint16(64)
	w.WriteUint8(1)

	r := bitstream.NewReader(w.Bytes())
	_, err := FieldSchema{Kind: KindSized | 3}.Read(r)
	assert.True(t, errors.Is(err, decodeerr.ErrUnexpectedEndOfStream))
	assert.Equal(t, int64(0), r.Offset())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "rigid_body", KindRigidBody.String())
	assert.Equal(t, "sized(12)", (KindSized | 12).String())
	assert.Equal(t, "kind(40)", Kind(40).String())
	assert.False(t, Kind(40).Modelled())
	assert.True(t, KindCamera.Modelled())
}
