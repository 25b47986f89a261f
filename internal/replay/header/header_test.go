package header_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/match"
	"replay-ingest/internal/replay/bitstream"
	"replay-ingest/internal/replay/header"
	"replay-ingest/internal/replay/replaytest"
)

const matchID = "9E1A2B3C4D5E4F60A1B2C3D4E5F60718"

func threeMinuteMatch() *replaytest.Builder {
	b := replaytest.NewBuilder(matchID)
	b.NumFrames = 5400
	b.Recorder = "Kaydop"
	b.Players = []replaytest.Player{
		{Name: "Kaydop", Team: 0, Platform: match.PlatformSteam, OnlineID: 76561198012345678, Goals: 1},
		{Name: "Turbo", Team: 1, Platform: match.PlatformPS4, OnlineID: 4242, Goals: 1},
		{Name: "Merlin", Team: 1, Bot: true},
	}
	b.Goals = []replaytest.Goal{
		{Player: "Kaydop", Team: 0, Frame: 0},
		{Player: "Turbo", Team: 1, Frame: 5399},
	}
	return b
}

func parse(t *testing.T, b *replaytest.Builder) (*match.Header, error) {
	t.Helper()
	raw, err := b.HeaderBytes()
	require.NoError(t, err)
	return header.Parse(bitstream.NewReader(raw))
}

func assertKind(t *testing.T, err error, target error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, target), "got %v", err)
}

func TestParse_threeMinuteMatch(t *testing.T) {
	h, err := parse(t, threeMinuteMatch())
	require.NoError(t, err)

	assert.Equal(t, matchID, h.MatchID)
	assert.Equal(t, int32(header.EngineVersion), h.EngineVersion)
	assert.Equal(t, int32(24), h.LicenseeVersion)
	assert.Equal(t, int32(10), h.NetVersion)
	assert.Equal(t, "3:00", h.MatchLength())
	assert.Equal(t, 1, h.Team0Score)
	assert.Equal(t, 1, h.Team1Score)
	assert.Equal(t, "Stadium_P", h.Map)
	assert.Equal(t, "EU", h.Region())
	assert.Equal(t, header.DefaultMaxChannels, h.MaxChannels)
	assert.Equal(t, header.DefaultMaxReplaySizeMB, h.MaxReplaySizeMB)
	assert.Equal(t, time.Date(2016, 3, 14, 12, 34, 56, 0, time.UTC), h.Timestamp)

	require.Len(t, h.Players, 3)
	assert.Equal(t, "steam:76561198012345678", h.Players[0].UniqueID)
	assert.Equal(t, "psn:4242", h.Players[1].UniqueID)
	assert.Equal(t, "local:1:Merlin", h.Players[2].UniqueID)
	assert.True(t, h.Players[2].Bot)

	require.Len(t, h.Goals, 2)
	assert.Equal(t, 1, h.Goals[0].Number)
	assert.Equal(t, "steam:76561198012345678", h.Goals[0].PlayerID)
	assert.Equal(t, 5399, h.Goals[1].Frame)
	assert.Equal(t, "psn:4242", h.Goals[1].PlayerID)
}

func TestParse_goalFrameBounds(t *testing.T) {
	for _, frame := range []int{5400, 9000, -1} {
		b := threeMinuteMatch()
		b.Goals[1].Frame = frame
		_, err := parse(t, b)
		assertKind(t, err, decodeerr.ErrInvalidHeader)
	}
}

func TestParse_goalCountMustMatchScore(t *testing.T) {
	b := threeMinuteMatch()
	b.Scores = &[2]int{2, 1}
	_, err := parse(t, b)
	assertKind(t, err, decodeerr.ErrInvalidHeader)

	b = threeMinuteMatch()
	b.Scores = &[2]int{0, 2}
	_, err = parse(t, b)
	assertKind(t, err, decodeerr.ErrInvalidHeader)
}

func TestParse_missingScoresDefaultToZero(t *testing.T) {
	b := replaytest.NewBuilder(matchID)
	b.NumFrames = 100
	h, err := parse(t, b)
	require.NoError(t, err)
	assert.Equal(t, 0, h.TotalGoals())
	assert.Empty(t, h.Goals)
}

func TestParse_invalidHeaders(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *replaytest.Builder)
	}{
		{"missing_id", func(b *replaytest.Builder) { b.MatchID = "" }},
		{"short_id", func(b *replaytest.Builder) { b.MatchID = "ABC" }},
		{"unsupported_licensee", func(b *replaytest.Builder) { b.LicenseeVersion = 40 }},
		{"unsupported_engine", func(b *replaytest.Builder) { b.EngineVersion = 867 }},
		{"wrong_class", func(b *replaytest.Builder) { b.Class = "TAGame.Replay_Basketball_TA" }},
		{"scorer_not_in_roster", func(b *replaytest.Builder) { b.Goals[0].Player = "Ghost" }},
		{"scorer_wrong_team", func(b *replaytest.Builder) { b.Goals[0].Team = 1; b.Goals[1].Team = 0 }},
		{"zero_fps", func(b *replaytest.Builder) { b.FPS = 0 }},
		{"duplicate_player", func(b *replaytest.Builder) {
			b.Players = append(b.Players, replaytest.Player{Name: "Again", Team: 0, Platform: match.PlatformPS4, OnlineID: 4242})
		}},
		{"negative_team_size", func(b *replaytest.Builder) { b.TeamSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := threeMinuteMatch()
			tt.mutate(b)
			_, err := parse(t, b)
			assertKind(t, err, decodeerr.ErrInvalidHeader)
		})
	}
}

func TestParse_checksumMismatch(t *testing.T) {
	raw, err := threeMinuteMatch().HeaderBytes()
	require.NoError(t, err)
	raw[len(raw)-10] ^= 0x01

	_, err = header.Parse(bitstream.NewReader(raw))
	assertKind(t, err, decodeerr.ErrInvalidHeader)
}

func TestParse_truncatedAtEveryOffset(t *testing.T) {
	raw, err := threeMinuteMatch().HeaderBytes()
	require.NoError(t, err)

	for cut := 0; cut < len(raw); cut++ {
		_, err := header.Parse(bitstream.NewReader(raw[:cut]))
		require.Error(t, err, "cut %d", cut)
		assert.True(t, errors.Is(err, decodeerr.ErrUnexpectedEndOfStream), "cut %d: %v", cut, err)
	}
}

func TestValidate_assignsGoalPlayerIDs(t *testing.T) {
	h := &match.Header{
		MatchID:     matchID,
		NumFrames:   100,
		RecordFPS:   30,
		MaxChannels: 1023,
		Team1Score:  1,
		Players:     []match.Player{{Name: "A", Team: 1, UniqueID: "epic:7"}},
		Goals:       []match.Goal{{Number: 1, PlayerName: "A", PlayerTeam: 1, Frame: 50}},
	}
	require.NoError(t, header.Validate(h))
	assert.Equal(t, "epic:7", h.Goals[0].PlayerID)
}
