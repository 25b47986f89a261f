// Package match holds the facts decoded from a replay file: header-level match
// data and the roster produced by the header tier, and the per-player telemetry
// produced by the netstream tier.
package match

import (
	"time"

	"replay-ingest/internal/decodeerr"
)

// Player is a roster entry from the header's player stats table.
type Player struct {
	Name     string `json:"name"`
	Team     int    `json:"team"`
	Score    int    `json:"score"`
	Goals    int    `json:"goals"`
	Shots    int    `json:"shots"`
	Assists  int    `json:"assists"`
	Saves    int    `json:"saves"`
	Platform string `json:"platform,omitempty"`
	OnlineID string `json:"online_id,omitempty"`
	Bot      bool   `json:"bot"`
	// UniqueID is stable across sessions and unique within a match.
	UniqueID string `json:"unique_id"`
}

// Goal is a header-declared goal. Number starts at 1.
type Goal struct {
	Number     int    `json:"number"`
	PlayerName string `json:"player_name"`
	PlayerTeam int    `json:"player_team"`
	PlayerID   string `json:"player_id"`
	Frame      int    `json:"frame"`
}

// Header is everything the header tier commits for a match.
type Header struct {
	EngineVersion   int32  `json:"engine_version"`
	LicenseeVersion int32  `json:"licensee_version"`
	NetVersion      int32  `json:"net_version,omitempty"`
	CRC             uint32 `json:"crc"`

	MatchID         string    `json:"match_id"`
	Name            string    `json:"name,omitempty"`
	Map             string    `json:"map"`
	Playlist        int       `json:"playlist,omitempty"`
	TeamSize        int       `json:"team_size"`
	Team0Score      int       `json:"team_0_score"`
	Team1Score      int       `json:"team_1_score"`
	MatchType       string    `json:"match_type,omitempty"`
	ServerName      string    `json:"server_name,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	NumFrames       int       `json:"num_frames"`
	RecordFPS       float64   `json:"record_fps"`
	KeyframeDelay   float64   `json:"keyframe_delay,omitempty"`
	MaxChannels     int       `json:"max_channels"`
	MaxReplaySizeMB int       `json:"max_replay_size_mb"`
	RecorderName    string    `json:"recorder_name,omitempty"`
	RecorderTeam    int       `json:"recorder_team"`

	Goals   []Goal   `json:"goals"`
	Players []Player `json:"players"`
}

// PositionSample is one point of a player's position trail.
type PositionSample struct {
	Frame int     `json:"frame"`
	Time  float32 `json:"time"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Z     float32 `json:"z"`
}

// ResourceSample is a boost gauge reading in [0, 255].
type ResourceSample struct {
	PlayerID string `json:"player_id"`
	Frame    int    `json:"frame"`
	Value    uint8  `json:"value"`
}

// CameraSettings is a player's camera profile.
type CameraSettings struct {
	FOV         float32 `json:"fov"`
	Height      float32 `json:"height"`
	Pitch       float32 `json:"pitch"`
	Distance    float32 `json:"distance"`
	Stiffness   float32 `json:"stiffness"`
	SwivelSpeed float32 `json:"swivel_speed"`
}

// Loadout is a player's vehicle configuration.
type Loadout struct {
	Version uint8  `json:"version"`
	Body    uint32 `json:"body"`
	Decal   uint32 `json:"decal"`
	Wheels  uint32 `json:"wheels"`
	Boost   uint32 `json:"boost"`
	Antenna uint32 `json:"antenna"`
	Topper  uint32 `json:"topper"`
}

// PlayerTelemetry is the netstream-derived data for one roster player.
type PlayerTelemetry struct {
	PlayerID  string           `json:"player_id"`
	Name      string           `json:"name"`
	ActorID   uint32           `json:"actor_id"`
	Positions []PositionSample `json:"positions"`
	Resource  []ResourceSample `json:"resource"`
	Camera    *CameraSettings  `json:"camera,omitempty"`
	Loadout   *Loadout         `json:"loadout,omitempty"`
}

// GoalCheck records whether a header goal was seen in the netstream.
type GoalCheck struct {
	Number        int  `json:"number"`
	Frame         int  `json:"frame"`
	Team          int  `json:"team"`
	Confirmed     bool `json:"confirmed"`
	ObservedFrame int  `json:"observed_frame"`
}

// TickMark is a body-level timeline marker such as a goal tick.
type TickMark struct {
	Type  string `json:"type"`
	Frame int    `json:"frame"`
}

// DecodeStats counts what a netstream pass skipped or dropped.
type DecodeStats struct {
	Frames              int `json:"frames"`
	Events              int `json:"events"`
	SkippedFields       int `json:"skipped_fields"`
	AbandonedFrames     int `json:"abandoned_frames"`
	RangeViolations     int `json:"range_violations"`
	UnattributedSamples int `json:"unattributed_samples"`
	UnmatchedPlayers    int `json:"unmatched_players"`
}

// Telemetry is everything the netstream tier commits for a match.
type Telemetry struct {
	Players   []PlayerTelemetry `json:"players"`
	Goals     []GoalCheck       `json:"goals"`
	TickMarks []TickMark        `json:"tick_marks,omitempty"`
	Stats     DecodeStats       `json:"stats"`
}

// Failure stages for a netstream failure cause.
const (
	StageFraming   = "framing"
	StageSchema    = "schema"
	StageDecode    = "decode"
	StageTelemetry = "telemetry"
	StageBudget    = "budget"
	// StageCommit means decoding succeeded but the facts could not be stored.
	StageCommit = "commit"
)

// FailureCause describes why a netstream pass failed. Stage narrows where in
// the pass it happened so location and resource failures can be told apart.
type FailureCause struct {
	Kind    decodeerr.Kind `json:"kind"`
	Stage   string         `json:"stage"`
	Message string         `json:"message"`
}
