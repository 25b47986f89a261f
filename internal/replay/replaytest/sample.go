package replaytest

import (
	"replay-ingest/internal/match"
	"replay-ingest/internal/replay/body"
	"replay-ingest/internal/replay/registry"
)

// Actor ids used by SampleMatch.
const (
	SampleGameEvent = 1
	SamplePRIBlue   = 2
	SamplePRIOrange = 3
	SampleCarBlue   = 4
	SampleCarOrange = 5
	SampleBoostBlue = 7
	SampleBoostOrg  = 8
	SampleCamera    = 9
)

// Sample players.
const (
	SampleBlueSteamID   = 76561198012345678
	SampleOrangePSNID   = 4242
	SampleGoalFrame     = 10
	SampleFrames        = 20
	SampleBlueName      = "Kaydop"
	SampleOrangeName    = "Turbo"
	sampleBlueBoostStep = 10
)

// SampleMatch returns a 1v1 with one blue goal at SampleGoalFrame. Both cars
// move every frame and the blue boost gauge rises by 10 per frame.
func SampleMatch(matchID string) *Builder {
	b := NewBuilder(matchID)
	b.TeamSize = 1
	b.Recorder = SampleBlueName
	b.Players = []Player{
		{Name: SampleBlueName, Team: 0, Platform: match.PlatformSteam, OnlineID: SampleBlueSteamID, Goals: 1, Score: 100},
		{Name: SampleOrangeName, Team: 1, Platform: match.PlatformPS4, OnlineID: SampleOrangePSNID},
	}
	b.Goals = []Goal{{Player: SampleBlueName, Team: 0, Frame: SampleGoalFrame}}
	b.TickMarks = []body.TickMark{{Type: "Team0Goal", Frame: SampleGoalFrame}}

	f := b.Frame()
	f.Spawn(SampleGameEvent, ClassGameEvent, nil)
	f.Spawn(SamplePRIBlue, ClassPRI, nil).
		Update(SamplePRIBlue, ClassPRI, FieldPlayerName, registry.String(SampleBlueName)).
		Update(SamplePRIBlue, ClassPRI, FieldUniqueID, registry.UniqueID{Platform: 1, ID: SampleBlueSteamID}).
		Update(SamplePRIBlue, ClassPRI, FieldLoadout, registry.Loadout{Version: 11, Body: 23, Wheels: 376, Boost: 32})
	f.Spawn(SamplePRIOrange, ClassPRI, nil).
		Update(SamplePRIOrange, ClassPRI, FieldPlayerName, registry.String(SampleOrangeName)).
		Update(SamplePRIOrange, ClassPRI, FieldUniqueID, registry.UniqueID{Platform: 2, ID: SampleOrangePSNID})
	f.Spawn(SampleCarBlue, ClassCar, &registry.Vector{X: 0, Y: -4608, Z: 17}).
		Update(SampleCarBlue, ClassCar, FieldPRI, registry.ActorRef{Active: true, ActorID: SamplePRIBlue})
	f.Spawn(SampleCarOrange, ClassCar, &registry.Vector{X: 0, Y: 4608, Z: 17}).
		Update(SampleCarOrange, ClassCar, FieldPRI, registry.ActorRef{Active: true, ActorID: SamplePRIOrange})
	f.Spawn(SampleBoostBlue, ClassBoost, nil).
		Update(SampleBoostBlue, ClassBoost, FieldVehicle, registry.ActorRef{Active: true, ActorID: SampleCarBlue})
	f.Spawn(SampleBoostOrg, ClassBoost, nil).
		Update(SampleBoostOrg, ClassBoost, FieldVehicle, registry.ActorRef{Active: true, ActorID: SampleCarOrange})
	f.Spawn(SampleCamera, ClassCamera, nil).
		Update(SampleCamera, ClassCamera, FieldCameraPRI, registry.ActorRef{Active: true, ActorID: SamplePRIBlue}).
		Update(SampleCamera, ClassCamera, FieldCameraProfile, registry.Camera{FOV: 110, Height: 100, Pitch: -4, Distance: 270, Stiffness: 0.5, SwivelSpeed: 5})

	for i := 1; i < SampleFrames; i++ {
		f := b.Frame()
		step := float32(i) * 50
		f.Update(SampleCarBlue, ClassCar, FieldRBState, registry.RigidBody{Location: registry.Vector{X: step, Y: -4608 + step, Z: 17}})
		f.Update(SampleCarOrange, ClassCar, FieldRBState, registry.RigidBody{Location: registry.Vector{X: -step, Y: 4608 - step, Z: 17}})
		f.Update(SampleBoostBlue, ClassBoost, FieldBoostAmount, registry.Int(int32(i*sampleBlueBoostStep)))
		if i == SampleGoalFrame+1 {
			f.Update(SampleGameEvent, ClassGameEvent, FieldScoredOnTeam, registry.Byte(1))
		}
	}
	return b
}
