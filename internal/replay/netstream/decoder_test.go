package netstream

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/replay/registry"
	"replay-ingest/internal/replay/replaytest"
)

const matchID = "9E1A2B3C4D5E4F60A1B2C3D4E5F60718"

func decoderFor(t *testing.T, b *replaytest.Builder, frames int) *Decoder {
	t.Helper()
	bd, err := b.Body()
	require.NoError(t, err)
	reg, err := registry.New(bd.Objects, bd.ClassIndex, bd.NetCache)
	require.NoError(t, err)
	return New(bd.Netstream, reg, Options{Frames: frames, MaxChannels: 1023})
}

func TestDecoder_spawnUpdateDestroy(t *testing.T) {
	b := replaytest.NewBuilder(matchID)
	loc := registry.Vector{X: 1, Y: 2, Z: 3}
	b.Frame().Spawn(3, replaytest.ClassCar, &loc)
	state := registry.RigidBody{Location: registry.Vector{X: 10, Y: 20, Z: 30}}
	b.Frame().Update(3, replaytest.ClassCar, replaytest.FieldRBState, state)
	b.Frame().Destroy(3)

	d := decoderFor(t, b, b.Frames())

	f, err := d.Next()
	require.NoError(t, err)
	require.Len(t, f.Events, 1)
	assert.Equal(t, EventSpawn, f.Events[0].Kind)
	assert.Equal(t, uint32(3), f.Events[0].ActorID)
	assert.Equal(t, replaytest.ClassCar, f.Events[0].Class)
	require.NotNil(t, f.Events[0].Location)
	assert.Equal(t, loc, *f.Events[0].Location)
	assert.Equal(t, 1, d.Live())

	f, err = d.Next()
	require.NoError(t, err)
	require.Len(t, f.Events, 1)
	assert.Equal(t, EventUpdate, f.Events[0].Kind)
	assert.Equal(t, []Update{{Field: replaytest.FieldRBState, Value: state}}, f.Events[0].Updates)
	actor, ok := d.Actor(3)
	require.True(t, ok)
	assert.Equal(t, state, actor.Fields[replaytest.FieldRBState])

	f, err = d.Next()
	require.NoError(t, err)
	require.Len(t, f.Events, 1)
	assert.Equal(t, EventDestroy, f.Events[0].Kind)
	assert.Equal(t, 0, d.Live())
	assert.InDelta(t, 2.0/30, f.Time, 1e-6)

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)

	stats := d.Stats()
	assert.Equal(t, 3, stats.Frames)
	assert.Equal(t, 3, stats.Events)
}

func TestDecoder_inconsistentActorState(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *replaytest.Builder)
	}{
		{"duplicate_spawn", func(b *replaytest.Builder) {
			b.Frame().Spawn(4, replaytest.ClassCar, nil)
			b.Frame().Spawn(4, replaytest.ClassCar, nil)
		}},
		{"update_unknown_actor", func(b *replaytest.Builder) {
			b.Frame().Update(5, replaytest.ClassCar, replaytest.FieldRBState, registry.RigidBody{})
		}},
		{"destroy_unknown_actor", func(b *replaytest.Builder) {
			b.Frame().Destroy(6)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := replaytest.NewBuilder(matchID)
			tt.build(b)
			d := decoderFor(t, b, b.Frames())

			var err error
			for err == nil {
				_, err = d.Next()
			}
			assert.True(t, errors.Is(err, decodeerr.ErrInconsistentActorState), "got %v", err)

			_, again := d.Next()
			assert.Equal(t, err, again)
		})
	}
}

func TestDecoder_sizedFieldSkipped(t *testing.T) {
	b := replaytest.NewBuilder(matchID)
	b.Frame().Spawn(3, replaytest.ClassCar, nil)
	b.Frame().
		Update(3, replaytest.ClassCar, replaytest.FieldTeamPaint, registry.Opaque{0x01, 0x02, 0x03}).
		Update(3, replaytest.ClassCar, replaytest.FieldPRI, registry.ActorRef{Active: true, ActorID: 9})

	d := decoderFor(t, b, b.Frames())
	_, err := d.Next()
	require.NoError(t, err)

	f, err := d.Next()
	require.NoError(t, err)
	assert.False(t, f.Abandoned)
	assert.Equal(t, 1, f.SkippedFields)
	require.Len(t, f.Events, 1)
	assert.Equal(t, replaytest.FieldPRI, f.Events[0].Updates[0].Field)
	assert.Equal(t, 1, d.Stats().SkippedFields)
}

func TestDecoder_unknownWidthAbandonsFrame(t *testing.T) {
	b := replaytest.NewBuilder(matchID)
	b.Frame().Spawn(2, replaytest.ClassBall, nil)
	b.Frame().
		Update(2, replaytest.ClassBall, replaytest.FieldHitTeam, registry.Opaque{0xFF}).
		Spawn(8, replaytest.ClassCar, nil)
	b.Frame().Spawn(9, replaytest.ClassCar, nil)

	d := decoderFor(t, b, b.Frames())
	_, err := d.Next()
	require.NoError(t, err)

	f, err := d.Next()
	require.NoError(t, err)
	assert.True(t, f.Abandoned)
	assert.Contains(t, f.AbandonReason, replaytest.FieldHitTeam)
	_, live := d.Actor(8)
	assert.False(t, live)

	f, err = d.Next()
	require.NoError(t, err)
	assert.False(t, f.Abandoned)
	require.Len(t, f.Events, 1)
	assert.Equal(t, uint32(9), f.Events[0].ActorID)
	assert.Equal(t, 1, d.Stats().AbandonedFrames)
}

func TestDecoder_unknownPropertyAbandonsFrame(t *testing.T) {
	b := replaytest.NewBuilder(matchID)
	b.Frame().Spawn(3, replaytest.ClassCar, nil)
	b.Frame().UpdateUnknown(3, replaytest.ClassCar, 0, []byte{0xAB, 0xCD})
	b.Frame().Update(3, replaytest.ClassCar, replaytest.FieldPRI, registry.ActorRef{Active: true, ActorID: 1})

	d := decoderFor(t, b, b.Frames())
	_, err := d.Next()
	require.NoError(t, err)

	f, err := d.Next()
	require.NoError(t, err)
	assert.True(t, f.Abandoned)

	f, err = d.Next()
	require.NoError(t, err)
	require.Len(t, f.Events, 1)
	assert.Equal(t, registry.ActorRef{Active: true, ActorID: 1}, f.Events[0].Updates[0].Value)
}

func TestDecoder_fewerFramesThanDeclared(t *testing.T) {
	b := replaytest.NewBuilder(matchID)
	b.EmptyFrames(2)

	d := decoderFor(t, b, 5)
	for i := 0; i < 2; i++ {
		_, err := d.Next()
		require.NoError(t, err)
	}
	_, err := d.Next()
	assert.True(t, errors.Is(err, decodeerr.ErrUnexpectedEndOfStream), "got %v", err)
}

func TestDecoder_truncatedPayload(t *testing.T) {
	b := replaytest.NewBuilder(matchID)
	b.Frame().Spawn(3, replaytest.ClassCar, &registry.Vector{X: 1})

	bd, err := b.Body()
	require.NoError(t, err)
	reg, err := registry.New(bd.Objects, bd.ClassIndex, bd.NetCache)
	require.NoError(t, err)

	for cut := 0; cut < len(bd.Netstream)-1; cut++ {
		d := New(bd.Netstream[:cut], reg, Options{Frames: 1, MaxChannels: 1023})
		_, err := d.Next()
		assert.True(t, errors.Is(err, decodeerr.ErrUnexpectedEndOfStream), "cut %d: %v", cut, err)
	}
}
