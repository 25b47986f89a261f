// Package telemetry folds decoded netstream frames into per-player telemetry:
// position trails, boost readings, camera and loadout snapshots, and
// confirmation of the header's goals.
package telemetry

import (
	"log/slog"
	"sort"
	"strconv"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/match"
	"replay-ingest/internal/replay/netstream"
	"replay-ingest/internal/replay/registry"
)

// Replicated classes and fields the aggregator reads.
const (
	ClassCar = "TAGame.Car_TA"

	FieldPawnPRI       = "Engine.Pawn:PlayerReplicationInfo"
	FieldVehicle       = "TAGame.CarComponent_TA:Vehicle"
	FieldCameraPRI     = "TAGame.CameraSettingsActor_TA:PRI"
	FieldRBState       = "TAGame.RBActor_TA:ReplicatedRBState"
	FieldBoostAmount   = "TAGame.CarComponent_Boost_TA:ReplicatedBoostAmount"
	FieldCameraProfile = "TAGame.CameraSettingsActor_TA:ProfileSettings"
	FieldLoadout       = "TAGame.PRI_TA:ClientLoadout"
	FieldPlayerName    = "Engine.PlayerReplicationInfo:PlayerName"
	FieldUniqueID      = "Engine.PlayerReplicationInfo:UniqueId"
	FieldScoredOnTeam  = "TAGame.GameEvent_Soccar_TA:ReplicatedScoredOnTeam"
)

// DefaultGoalFrameTolerance is how far, in frames, an in-stream scoring event
// may sit from the header's goal frame and still confirm it.
const DefaultGoalFrameTolerance = 5

// Resource values outside this range are dropped.
const (
	MinResource = 0
	MaxResource = 255
)

var platforms = map[uint8]string{
	1:  match.PlatformSteam,
	2:  match.PlatformPS4,
	4:  match.PlatformXbox,
	6:  match.PlatformSwitch,
	11: match.PlatformEpic,
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithGoalFrameTolerance sets the goal confirmation window.
func WithGoalFrameTolerance(frames int) Option {
	return func(a *Aggregator) {
		if frames >= 0 {
			a.tolerance = frames
		}
	}
}

type resourceReading struct {
	frame int
	value int32
}

// playerInfo accumulates everything attributed to one player-info actor.
type playerInfo struct {
	actorID   uint32
	name      string
	uniqueID  *registry.UniqueID
	positions []match.PositionSample
	resource  []resourceReading
	camera    *match.CameraSettings
	loadout   *match.Loadout
}

type scoringEvent struct {
	frame int
	team  int
}

// Aggregator builds match telemetry from frames applied in order. It is owned
// by a single decode.
type Aggregator struct {
	header    *match.Header
	logger    *slog.Logger
	tolerance int

	pris     map[uint32]*playerInfo
	finished []*playerInfo

	carPRI       map[uint32]uint32
	componentCar map[uint32]uint32
	cameraPRI    map[uint32]uint32

	pendingPositions map[uint32][]match.PositionSample
	pendingResource  map[uint32][]resourceReading
	pendingCamera    map[uint32]match.CameraSettings

	scoring []scoringEvent
	stats   match.DecodeStats
}

// New returns an Aggregator for the match described by h.
func New(h *match.Header, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		header:           h,
		logger:           logger,
		tolerance:        DefaultGoalFrameTolerance,
		pris:             make(map[uint32]*playerInfo),
		carPRI:           make(map[uint32]uint32),
		componentCar:     make(map[uint32]uint32),
		cameraPRI:        make(map[uint32]uint32),
		pendingPositions: make(map[uint32][]match.PositionSample),
		pendingResource:  make(map[uint32][]resourceReading),
		pendingCamera:    make(map[uint32]match.CameraSettings),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply folds one frame into the aggregate. Out-of-range readings are dropped
// and counted. A field carrying a value of the wrong shape is a
// MalformedStructure error.
func (a *Aggregator) Apply(frame int, f *netstream.Frame) error {
	for _, ev := range f.Events {
		switch ev.Kind {
		case netstream.EventSpawn:
			if ev.Location != nil && ev.Class == ClassCar {
				a.addPosition(ev.ActorID, match.PositionSample{
					Frame: frame, Time: f.Time, X: ev.Location.X, Y: ev.Location.Y, Z: ev.Location.Z,
				})
			}
		case netstream.EventUpdate:
			for _, u := range ev.Updates {
				if err := a.applyUpdate(frame, f.Time, ev, u); err != nil {
					return err
				}
			}
		case netstream.EventDestroy:
			a.destroy(ev.ActorID)
		}
	}
	return nil
}

func (a *Aggregator) applyUpdate(frame int, ts float32, ev netstream.Event, u netstream.Update) error {
	switch u.Field {
	case FieldPawnPRI:
		ref, err := actorRef(u)
		if err != nil {
			return err
		}
		a.linkCar(ev.ActorID, ref)
	case FieldVehicle:
		ref, err := actorRef(u)
		if err != nil {
			return err
		}
		a.linkComponent(ev.ActorID, ref)
	case FieldCameraPRI:
		ref, err := actorRef(u)
		if err != nil {
			return err
		}
		a.linkCamera(ev.ActorID, ref)
	case FieldRBState:
		if ev.Class != ClassCar {
			return nil
		}
		rb, ok := u.Value.(registry.RigidBody)
		if !ok {
			return shapeError(u, "rigid body")
		}
		a.addPosition(ev.ActorID, match.PositionSample{
			Frame: frame, Time: ts, X: rb.Location.X, Y: rb.Location.Y, Z: rb.Location.Z,
		})
	case FieldBoostAmount:
		v, ok := u.Value.(registry.Int)
		if !ok {
			return shapeError(u, "int")
		}
		a.addResource(ev.ActorID, frame, int32(v))
	case FieldCameraProfile:
		c, ok := u.Value.(registry.Camera)
		if !ok {
			return shapeError(u, "camera")
		}
		a.setCamera(ev.ActorID, match.CameraSettings{
			FOV: c.FOV, Height: c.Height, Pitch: c.Pitch,
			Distance: c.Distance, Stiffness: c.Stiffness, SwivelSpeed: c.SwivelSpeed,
		})
	case FieldLoadout:
		l, ok := u.Value.(registry.Loadout)
		if !ok {
			return shapeError(u, "loadout")
		}
		a.player(ev.ActorID).loadout = &match.Loadout{
			Version: l.Version, Body: l.Body, Decal: l.Decal, Wheels: l.Wheels,
			Boost: l.Boost, Antenna: l.Antenna, Topper: l.Topper,
		}
	case FieldPlayerName:
		name, ok := u.Value.(registry.String)
		if !ok {
			return shapeError(u, "string")
		}
		a.player(ev.ActorID).name = string(name)
	case FieldUniqueID:
		id, ok := u.Value.(registry.UniqueID)
		if !ok {
			return shapeError(u, "unique id")
		}
		a.player(ev.ActorID).uniqueID = &id
	case FieldScoredOnTeam:
		team, ok := u.Value.(registry.Byte)
		if !ok {
			return shapeError(u, "byte")
		}
		if team > 1 {
			a.stats.RangeViolations++
			a.logger.Warn("scored-on team out of range", "frame", frame, "team", int(team))
			return nil
		}
		a.scoring = append(a.scoring, scoringEvent{frame: frame, team: 1 - int(team)})
	}
	return nil
}

func (a *Aggregator) player(priID uint32) *playerInfo {
	p, ok := a.pris[priID]
	if !ok {
		p = &playerInfo{actorID: priID}
		a.pris[priID] = p
	}
	return p
}

func (a *Aggregator) linkCar(car uint32, ref registry.ActorRef) {
	if !ref.Active || ref.ActorID < 0 {
		delete(a.carPRI, car)
		return
	}
	pri := uint32(ref.ActorID)
	a.carPRI[car] = pri
	p := a.player(pri)
	p.positions = append(p.positions, a.pendingPositions[car]...)
	delete(a.pendingPositions, car)
	for component, c := range a.componentCar {
		if c == car {
			a.flushResource(component, p)
		}
	}
}

func (a *Aggregator) linkComponent(component uint32, ref registry.ActorRef) {
	if !ref.Active || ref.ActorID < 0 {
		delete(a.componentCar, component)
		return
	}
	car := uint32(ref.ActorID)
	a.componentCar[component] = car
	if pri, ok := a.carPRI[car]; ok {
		a.flushResource(component, a.player(pri))
	}
}

func (a *Aggregator) linkCamera(camera uint32, ref registry.ActorRef) {
	if !ref.Active || ref.ActorID < 0 {
		delete(a.cameraPRI, camera)
		return
	}
	pri := uint32(ref.ActorID)
	a.cameraPRI[camera] = pri
	if c, ok := a.pendingCamera[camera]; ok {
		a.player(pri).camera = &c
		delete(a.pendingCamera, camera)
	}
}

func (a *Aggregator) flushResource(component uint32, p *playerInfo) {
	p.resource = append(p.resource, a.pendingResource[component]...)
	delete(a.pendingResource, component)
}

func (a *Aggregator) addPosition(car uint32, s match.PositionSample) {
	if pri, ok := a.carPRI[car]; ok {
		p := a.player(pri)
		p.positions = append(p.positions, s)
		return
	}
	a.pendingPositions[car] = append(a.pendingPositions[car], s)
}

func (a *Aggregator) addResource(component uint32, frame int, v int32) {
	if v < MinResource || v > MaxResource {
		a.stats.RangeViolations++
		err := decodeerr.New(decodeerr.KindFieldRangeViolation, "apply resource", -1,
			"actor %d: value %d outside [%d, %d]", component, v, MinResource, MaxResource)
		a.logger.Warn("resource sample dropped", "frame", frame, "actor_id", component, "error", err)
		return
	}
	r := resourceReading{frame: frame, value: v}
	if car, ok := a.componentCar[component]; ok {
		if pri, ok := a.carPRI[car]; ok {
			p := a.player(pri)
			p.resource = append(p.resource, r)
			return
		}
	}
	a.pendingResource[component] = append(a.pendingResource[component], r)
}

func (a *Aggregator) setCamera(camera uint32, c match.CameraSettings) {
	if pri, ok := a.cameraPRI[camera]; ok {
		a.player(pri).camera = &c
		return
	}
	a.pendingCamera[camera] = c
}

// destroy retires an actor id so a later actor reusing it starts clean.
func (a *Aggregator) destroy(id uint32) {
	if p, ok := a.pris[id]; ok {
		a.finished = append(a.finished, p)
		delete(a.pris, id)
	}
	a.stats.UnattributedSamples += len(a.pendingPositions[id]) + len(a.pendingResource[id])
	delete(a.pendingPositions, id)
	delete(a.pendingResource, id)
	delete(a.pendingCamera, id)
	delete(a.carPRI, id)
	delete(a.componentCar, id)
	delete(a.cameraPRI, id)
}

// Stats returns the aggregator's counters.
func (a *Aggregator) Stats() match.DecodeStats { return a.stats }

// Result matches player-info actors to the roster and returns the telemetry.
// Samples still waiting for an ownership link are counted as unattributed.
func (a *Aggregator) Result() *match.Telemetry {
	stats := a.stats
	for _, s := range a.pendingPositions {
		stats.UnattributedSamples += len(s)
	}
	for _, s := range a.pendingResource {
		stats.UnattributedSamples += len(s)
	}

	infos := append([]*playerInfo(nil), a.finished...)
	live := make([]*playerInfo, 0, len(a.pris))
	for _, p := range a.pris {
		live = append(live, p)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].actorID < live[j].actorID })
	infos = append(infos, live...)

	byPlayer := make(map[string]*match.PlayerTelemetry)
	resource := make(map[string][]resourceReading)
	claimed := make(map[string]bool)
	for _, info := range infos {
		roster, ok := a.resolve(info, claimed)
		if !ok {
			if len(info.positions) > 0 || len(info.resource) > 0 {
				stats.UnmatchedPlayers++
				a.logger.Warn("telemetry for unknown player dropped",
					"actor_id", info.actorID, "name", info.name,
					"positions", len(info.positions), "resource", len(info.resource))
			}
			continue
		}
		claimed[roster.UniqueID] = true
		pt, ok := byPlayer[roster.UniqueID]
		if !ok {
			pt = &match.PlayerTelemetry{PlayerID: roster.UniqueID, Name: roster.Name, ActorID: info.actorID}
			byPlayer[roster.UniqueID] = pt
		}
		pt.Positions = append(pt.Positions, info.positions...)
		resource[roster.UniqueID] = append(resource[roster.UniqueID], info.resource...)
		if info.camera != nil {
			pt.Camera = info.camera
		}
		if info.loadout != nil {
			pt.Loadout = info.loadout
		}
	}

	out := &match.Telemetry{Stats: stats}
	for _, player := range a.header.Players {
		pt, ok := byPlayer[player.UniqueID]
		if !ok {
			continue
		}
		sort.SliceStable(pt.Positions, func(i, j int) bool { return pt.Positions[i].Frame < pt.Positions[j].Frame })
		pt.Resource = resourceTrail(player.UniqueID, resource[player.UniqueID])
		out.Players = append(out.Players, *pt)
	}
	out.Goals = a.confirmGoals()
	return out
}

// resolve maps a player-info actor to its roster entry, by platform id first
// and by name otherwise. Roster entries sharing a name go to the first one no
// other actor has claimed; once all are claimed the earliest entry wins.
func (a *Aggregator) resolve(info *playerInfo, claimed map[string]bool) (match.Player, bool) {
	if info.uniqueID != nil && info.uniqueID.ID != 0 {
		if platform, ok := platforms[info.uniqueID.Platform]; ok {
			for _, p := range a.header.Players {
				if p.Platform == platform && p.OnlineID == strconv.FormatUint(info.uniqueID.ID, 10) {
					return p, true
				}
			}
		}
	}
	if info.name == "" {
		return match.Player{}, false
	}
	var (
		first match.Player
		found bool
	)
	for _, p := range a.header.Players {
		if p.Name != info.name {
			continue
		}
		if !claimed[p.UniqueID] {
			return p, true
		}
		if !found {
			first, found = p, true
		}
	}
	return first, found
}

// resourceTrail orders readings by frame and keeps the last one per frame.
func resourceTrail(playerID string, readings []resourceReading) []match.ResourceSample {
	sort.SliceStable(readings, func(i, j int) bool { return readings[i].frame < readings[j].frame })
	out := make([]match.ResourceSample, 0, len(readings))
	for _, r := range readings {
		s := match.ResourceSample{PlayerID: playerID, Frame: r.frame, Value: uint8(r.value)}
		if n := len(out); n > 0 && out[n-1].Frame == r.frame {
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

func (a *Aggregator) confirmGoals() []match.GoalCheck {
	used := make([]bool, len(a.scoring))
	checks := make([]match.GoalCheck, 0, len(a.header.Goals))
	for _, g := range a.header.Goals {
		check := match.GoalCheck{Number: g.Number, Frame: g.Frame, Team: g.PlayerTeam, ObservedFrame: -1}
		best := -1
		for i, ev := range a.scoring {
			if used[i] || ev.team != g.PlayerTeam {
				continue
			}
			d := abs(ev.frame - g.Frame)
			if d > a.tolerance {
				continue
			}
			if best < 0 || d < abs(a.scoring[best].frame-g.Frame) {
				best = i
			}
		}
		if best >= 0 {
			used[best] = true
			check.Confirmed = true
			check.ObservedFrame = a.scoring[best].frame
		} else {
			a.logger.Warn("goal not confirmed by netstream",
				"goal", g.Number, "frame", g.Frame, "team", g.PlayerTeam, "tolerance", a.tolerance)
		}
		checks = append(checks, check)
	}
	return checks
}

func actorRef(u netstream.Update) (registry.ActorRef, error) {
	ref, ok := u.Value.(registry.ActorRef)
	if !ok {
		return ref, shapeError(u, "actor reference")
	}
	return ref, nil
}

func shapeError(u netstream.Update, want string) error {
	return decodeerr.New(decodeerr.KindMalformedStructure, "apply update", -1,
		"%s: expected %s, got %T", u.Field, want, u.Value)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
