package replay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/match"
	"replay-ingest/internal/replay/netstream"
	"replay-ingest/internal/replay/registry"
	"replay-ingest/internal/replay/replaytest"
)

const matchID = "9E1A2B3C4D5E4F60A1B2C3D4E5F60718"

var quiet = Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

func build(t *testing.T, b *replaytest.Builder) []byte {
	t.Helper()
	raw, err := b.Build()
	require.NoError(t, err)
	return raw
}

func decodeBoth(t *testing.T, raw []byte) (*match.Header, *match.Telemetry, error) {
	t.Helper()
	h, err := DecodeHeader(raw)
	require.NoError(t, err)
	tel, err := DecodeNetstream(raw, h, quiet)
	return h, tel, err
}

func TestDecodeHeader_sample(t *testing.T) {
	h, err := DecodeHeader(build(t, replaytest.SampleMatch(matchID)))
	require.NoError(t, err)
	assert.Equal(t, matchID, h.MatchID)
	assert.Equal(t, replaytest.SampleFrames, h.NumFrames)
	assert.Equal(t, 1, h.Team0Score)
	assert.Equal(t, 0, h.Team1Score)
	require.Len(t, h.Players, 2)
	assert.Equal(t, fmt.Sprintf("steam:%d", replaytest.SampleBlueSteamID), h.Goals[0].PlayerID)
}

func TestDecodeHeader_truncatedAtEveryOffset(t *testing.T) {
	raw := build(t, replaytest.SampleMatch(matchID))
	for cut := 0; cut < len(raw); cut++ {
		_, err := DecodeHeader(raw[:cut])
		require.Error(t, err, "cut %d", cut)
		var de *decodeerr.Error
		require.True(t, errors.As(err, &de), "cut %d: %v", cut, err)
		assert.Equal(t, decodeerr.KindUnexpectedEndOfStream, de.Kind, "cut %d: %v", cut, err)
		assert.Equal(t, decodeerr.TierHeader, de.Tier)
	}
}

func TestDecodeHeader_rejectsNonReplay(t *testing.T) {
	_, err := DecodeHeader([]byte("this is a text file, not a replay at all"))
	require.Error(t, err)
	kind, ok := decodeerr.KindOf(err)
	require.True(t, ok)
	assert.False(t, kind.Recoverable())
}

func TestDecodeNetstream_sample(t *testing.T) {
	_, tel, err := decodeBoth(t, build(t, replaytest.SampleMatch(matchID)))
	require.NoError(t, err)

	require.Len(t, tel.Players, 2)
	blue := tel.Players[0]
	assert.Equal(t, replaytest.SampleBlueName, blue.Name)
	assert.Equal(t, uint32(replaytest.SamplePRIBlue), blue.ActorID)
	assert.Len(t, blue.Positions, replaytest.SampleFrames)
	assert.Equal(t, float32(-4608), blue.Positions[0].Y)
	assert.Len(t, blue.Resource, replaytest.SampleFrames-1)
	require.NotNil(t, blue.Camera)
	require.NotNil(t, blue.Loadout)
	assert.Equal(t, uint32(376), blue.Loadout.Wheels)

	orange := tel.Players[1]
	assert.Equal(t, fmt.Sprintf("psn:%d", replaytest.SampleOrangePSNID), orange.PlayerID)
	assert.Empty(t, orange.Resource)

	require.Len(t, tel.Goals, 1)
	assert.True(t, tel.Goals[0].Confirmed)
	assert.Equal(t, replaytest.SampleGoalFrame+1, tel.Goals[0].ObservedFrame)
	assert.Equal(t, []match.TickMark{{Type: "Team0Goal", Frame: replaytest.SampleGoalFrame}}, tel.TickMarks)
	assert.Equal(t, replaytest.SampleFrames, tel.Stats.Frames)
	assert.Zero(t, tel.Stats.AbandonedFrames)
}

func TestDecodeNetstream_resourceRangeViolation(t *testing.T) {
	b := replaytest.SampleMatch(matchID)
	b.Frame().Update(replaytest.SampleBoostBlue, replaytest.ClassBoost, replaytest.FieldBoostAmount, registry.Int(300))
	b.Frame().Update(replaytest.SampleBoostBlue, replaytest.ClassBoost, replaytest.FieldBoostAmount, registry.Int(200))

	_, tel, err := decodeBoth(t, build(t, b))
	require.NoError(t, err)

	assert.Equal(t, 1, tel.Stats.RangeViolations)
	blue := tel.Players[0]
	require.Len(t, blue.Resource, replaytest.SampleFrames)
	last := blue.Resource[len(blue.Resource)-1]
	assert.Equal(t, uint8(200), last.Value)
	assert.Equal(t, replaytest.SampleFrames+1, last.Frame)
	for _, s := range blue.Resource {
		assert.NotEqual(t, replaytest.SampleFrames, s.Frame)
	}
}

func TestDecodeNetstream_abandonedFrameIsRecoverable(t *testing.T) {
	b := replaytest.SampleMatch(matchID)
	b.Frame().UpdateUnknown(replaytest.SampleCarBlue, replaytest.ClassCar, 0, []byte{0x12, 0x34})

	_, tel, err := decodeBoth(t, build(t, b))
	require.NoError(t, err)
	assert.Equal(t, 1, tel.Stats.AbandonedFrames)
	assert.Equal(t, replaytest.SampleFrames+1, tel.Stats.Frames)
}

func TestDecodeNetstream_inconsistentActorState(t *testing.T) {
	b := replaytest.SampleMatch(matchID)
	b.Frame().Spawn(replaytest.SampleCarBlue, replaytest.ClassCar, nil)

	_, _, err := decodeBoth(t, build(t, b))
	require.Error(t, err)
	assert.True(t, errors.Is(err, decodeerr.ErrInconsistentActorState))

	var de *decodeerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, decodeerr.TierNetstream, de.Tier)

	cause := Cause(err)
	assert.Equal(t, decodeerr.KindInconsistentActorState, cause.Kind)
	assert.Equal(t, match.StageDecode, cause.Stage)
}

func TestDecodeNetstream_bodyChecksum(t *testing.T) {
	raw := build(t, replaytest.SampleMatch(matchID))
	raw[len(raw)-1] ^= 0x80

	_, _, err := decodeBoth(t, raw)
	require.Error(t, err)
	cause := Cause(err)
	assert.Equal(t, decodeerr.KindMalformedStructure, cause.Kind)
	assert.Equal(t, match.StageFraming, cause.Stage)
}

func TestCause_timeout(t *testing.T) {
	err := fmt.Errorf("job: %w", decodeerr.New(decodeerr.KindTimeout, "netstream", -1, "budget 30s exceeded"))
	cause := Cause(err)
	assert.Equal(t, decodeerr.KindTimeout, cause.Kind)
	assert.Equal(t, match.StageBudget, cause.Stage)
	assert.Contains(t, cause.Message, "budget 30s exceeded")
}

func TestWalkFrames(t *testing.T) {
	raw := build(t, replaytest.SampleMatch(matchID))
	h, err := DecodeHeader(raw)
	require.NoError(t, err)

	var indexes []int
	spawns := 0
	st, err := WalkFrames(raw, h, func(f *netstream.Frame) error {
		indexes = append(indexes, f.Index)
		for _, ev := range f.Events {
			if ev.Kind == netstream.EventSpawn {
				spawns++
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, indexes, replaytest.SampleFrames)
	assert.Equal(t, 0, indexes[0])
	assert.Equal(t, 8, spawns)
	assert.Equal(t, replaytest.SampleFrames, st.Frames)
}

func TestWalkFrames_stopsOnCallbackError(t *testing.T) {
	raw := build(t, replaytest.SampleMatch(matchID))
	h, err := DecodeHeader(raw)
	require.NoError(t, err)

	stop := errors.New("stop")
	calls := 0
	_, err = WalkFrames(raw, h, func(*netstream.Frame) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
