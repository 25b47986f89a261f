// Package replaytest synthesizes replay files for tests and for the replaydump
// synth command.
package replaytest

import (
	"fmt"
	"hash/crc32"

	"replay-ingest/internal/match"
	"replay-ingest/internal/replay/bitstream"
	"replay-ingest/internal/replay/body"
	"replay-ingest/internal/replay/header"
	"replay-ingest/internal/replay/props"
	"replay-ingest/internal/replay/registry"
)

// Class names of the standard soccar schema.
const (
	ClassRBActor   = "TAGame.RBActor_TA"
	ClassCar       = "TAGame.Car_TA"
	ClassBall      = "TAGame.Ball_TA"
	ClassPRI       = "TAGame.PRI_TA"
	ClassBoost     = "TAGame.CarComponent_Boost_TA"
	ClassCamera    = "TAGame.CameraSettingsActor_TA"
	ClassGameEvent = "TAGame.GameEvent_Soccar_TA"
)

// Field names of the standard soccar schema.
const (
	FieldRBState       = "TAGame.RBActor_TA:ReplicatedRBState"
	FieldPRI           = "Engine.Pawn:PlayerReplicationInfo"
	FieldTeamPaint     = "TAGame.Car_TA:TeamPaint"
	FieldHitTeam       = "TAGame.Ball_TA:HitTeamNum"
	FieldVehicle       = "TAGame.CarComponent_TA:Vehicle"
	FieldBoostAmount   = "TAGame.CarComponent_Boost_TA:ReplicatedBoostAmount"
	FieldPlayerName    = "Engine.PlayerReplicationInfo:PlayerName"
	FieldUniqueID      = "Engine.PlayerReplicationInfo:UniqueId"
	FieldLoadout       = "TAGame.PRI_TA:ClientLoadout"
	FieldCameraPRI     = "TAGame.CameraSettingsActor_TA:PRI"
	FieldCameraProfile = "TAGame.CameraSettingsActor_TA:ProfileSettings"
	FieldScoredOnTeam  = "TAGame.GameEvent_Soccar_TA:ReplicatedScoredOnTeam"
)

// KindUnsized is a field kind with neither a known layout nor a length prefix.
const KindUnsized = registry.Kind(0x40)

type fieldDef struct {
	name     string
	streamID int32
	kind     registry.Kind
	max      uint32
}

type classDef struct {
	name    string
	cacheID int32
	parent  int32
	fields  []fieldDef
}

// soccar is the class layout used by synthesized replays. Car and ball
// inherit the rigid body state from RBActor.
var soccar = []classDef{
	{name: ClassRBActor, cacheID: 1, fields: []fieldDef{{FieldRBState, 1, registry.KindRigidBody, 0}}},
	{name: ClassCar, cacheID: 2, parent: 1, fields: []fieldDef{
		{FieldPRI, 2, registry.KindActiveActor, 0},
		{FieldTeamPaint, 3, registry.KindSized | 12, 0},
	}},
	{name: ClassBall, cacheID: 3, parent: 1, fields: []fieldDef{{FieldHitTeam, 2, KindUnsized, 0}}},
	{name: ClassPRI, cacheID: 4, fields: []fieldDef{
		{FieldPlayerName, 0, registry.KindString, 0},
		{FieldUniqueID, 1, registry.KindUniqueID, 0},
		{FieldLoadout, 2, registry.KindLoadout, 0},
	}},
	{name: ClassBoost, cacheID: 5, fields: []fieldDef{
		{FieldVehicle, 0, registry.KindActiveActor, 0},
		{FieldBoostAmount, 1, registry.KindInt, 0},
	}},
	{name: ClassCamera, cacheID: 6, fields: []fieldDef{
		{FieldCameraPRI, 0, registry.KindActiveActor, 0},
		{FieldCameraProfile, 1, registry.KindCamera, 0},
	}},
	{name: ClassGameEvent, cacheID: 7, fields: []fieldDef{{FieldScoredOnTeam, 0, registry.KindByte, 0}}},
}

// Player is a roster entry to write into PlayerStats.
type Player struct {
	Name     string
	Team     int
	Platform string
	OnlineID uint64
	Score    int
	Goals    int
	Bot      bool
}

// Goal is a header goal entry.
type Goal struct {
	Player string
	Team   int
	Frame  int
}

// Builder assembles a replay file. The zero value needs a MatchID; NewBuilder
// fills in the usual header values.
type Builder struct {
	EngineVersion   int32
	LicenseeVersion int32
	NetVersion      int32
	Class           string

	MatchID    string
	Name       string
	Map        string
	Date       string
	ServerName string
	MatchType  string
	Recorder   string
	TeamSize   int
	FPS        float32
	// NumFrames overrides the frame count written to the header. When zero
	// the number of synthesized frames is used.
	NumFrames int
	// Scores overrides the team scores. When nil they are counted from Goals.
	Scores  *[2]int
	Players []Player
	Goals   []Goal
	// Extra properties appended to the header table.
	Extra props.Table

	TickMarks []body.TickMark
	// Raw replaces the synthesized netstream bytes when set.
	Raw []byte

	frames    []*Frame
	classes   map[string]classDef
	objects   []string
	objectIDs map[string]int32
}

// NewBuilder returns a builder for a 3v3 online match on Stadium_P.
func NewBuilder(matchID string) *Builder {
	return &Builder{
		EngineVersion:   header.EngineVersion,
		LicenseeVersion: 24,
		NetVersion:      10,
		Class:           header.ReplayClass,
		MatchID:         matchID,
		Name:            "Synthesized",
		Map:             "Stadium_P",
		Date:            "2016-03-14 12-34-56",
		ServerName:      "EU123-Paris",
		MatchType:       "Online",
		TeamSize:        3,
		FPS:             30,
	}
}

// Frame collects the events of one frame.
type Frame struct {
	b      *Builder
	time   float32
	delta  float32
	events *bitstream.Writer
	err    error
}

// Frame appends a new frame. Frames are spaced 1/FPS apart.
func (b *Builder) Frame() *Frame {
	b.init()
	fps := b.FPS
	if fps <= 0 {
		fps = 30
	}
	f := &Frame{
		b:      b,
		time:   float32(len(b.frames)) / fps,
		delta:  1 / fps,
		events: bitstream.NewWriter(),
	}
	b.frames = append(b.frames, f)
	return f
}

// EmptyFrames appends n frames without events.
func (b *Builder) EmptyFrames(n int) {
	for i := 0; i < n; i++ {
		b.Frame()
	}
}

// Frames returns the number of synthesized frames.
func (b *Builder) Frames() int { return len(b.frames) }

// ClassID returns the object index of a standard class.
func (b *Builder) ClassID(class string) uint32 {
	b.init()
	return uint32(b.objectIDs[class])
}

func (b *Builder) init() {
	if b.classes != nil {
		return
	}
	b.classes = make(map[string]classDef, len(soccar))
	b.objectIDs = make(map[string]int32)
	add := func(name string) {
		if _, ok := b.objectIDs[name]; !ok {
			b.objectIDs[name] = int32(len(b.objects))
			b.objects = append(b.objects, name)
		}
	}
	for _, c := range soccar {
		b.classes[c.name] = c
		add(c.name)
		for _, f := range c.fields {
			add(f.name)
		}
	}
}

func (b *Builder) field(class, name string) (fieldDef, uint32, error) {
	c, ok := b.classes[class]
	if !ok {
		return fieldDef{}, 0, fmt.Errorf("unknown class %q", class)
	}
	var fields []fieldDef
	for _, def := range soccar {
		if def.cacheID == c.parent && c.parent != 0 {
			fields = append(fields, def.fields...)
		}
	}
	fields = append(fields, c.fields...)
	var maxID int32
	var found *fieldDef
	for i := range fields {
		if fields[i].streamID > maxID {
			maxID = fields[i].streamID
		}
		if fields[i].name == name {
			found = &fields[i]
		}
	}
	if found == nil {
		return fieldDef{}, 0, fmt.Errorf("class %q has no field %q", class, name)
	}
	return *found, uint32(maxID), nil
}

// Spawn opens a new actor of a standard class.
func (f *Frame) Spawn(actorID uint32, class string, loc *registry.Vector) *Frame {
	w := f.events
	w.WriteBool(true)
	f.setErr(w.WriteCompressedInt(actorID, header.DefaultMaxChannels))
	w.WriteBool(true)
	w.WriteBool(true)
	w.WriteUint32(f.b.ClassID(class))
	w.WriteBool(loc != nil)
	if loc != nil {
		f.setErr(registry.WriteValue(w, registry.KindVector, 0, *loc))
	}
	return f
}

// Update writes a single field update for an actor of a standard class.
func (f *Frame) Update(actorID uint32, class, field string, v registry.Value) *Frame {
	def, maxID, err := f.b.field(class, field)
	if err != nil {
		f.setErr(err)
		return f
	}
	w := f.events
	f.openUpdate(actorID)
	w.WriteBool(true)
	f.setErr(w.WriteCompressedInt(uint32(def.streamID), maxID+1))
	f.setErr(registry.WriteValue(w, def.kind, def.max, v))
	w.WriteBool(false)
	return f
}

// UpdateUnknown writes an update naming a property id the class does not
// declare, followed by raw payload bytes.
func (f *Frame) UpdateUnknown(actorID uint32, class string, propertyID uint32, raw []byte) *Frame {
	c := f.b.classes[class]
	_, maxID, err := f.b.field(class, c.fields[0].name)
	if err != nil {
		f.setErr(err)
		return f
	}
	w := f.events
	f.openUpdate(actorID)
	w.WriteBool(true)
	f.setErr(w.WriteCompressedInt(propertyID, maxID+1))
	w.WriteBytes(raw)
	w.WriteBool(false)
	return f
}

func (f *Frame) openUpdate(actorID uint32) {
	w := f.events
	w.WriteBool(true)
	f.setErr(w.WriteCompressedInt(actorID, header.DefaultMaxChannels))
	w.WriteBool(true)
	w.WriteBool(false)
}

// Destroy closes an actor.
func (f *Frame) Destroy(actorID uint32) *Frame {
	w := f.events
	w.WriteBool(true)
	f.setErr(w.WriteCompressedInt(actorID, header.DefaultMaxChannels))
	w.WriteBool(false)
	return f
}

func (f *Frame) setErr(err error) {
	if err != nil && f.err == nil {
		f.err = err
	}
}

// Header returns the property table the builder writes.
func (b *Builder) Header() props.Table {
	numFrames := b.NumFrames
	if numFrames == 0 {
		numFrames = len(b.frames)
	}
	scores := [2]int{}
	if b.Scores != nil {
		scores = *b.Scores
	} else {
		for _, g := range b.Goals {
			if g.Team == 0 || g.Team == 1 {
				scores[g.Team]++
			}
		}
	}

	t := props.Table{
		{Name: "TeamSize", Type: props.TypeInt, Value: props.IntValue(b.TeamSize)},
	}
	if scores[0] > 0 {
		t = append(t, props.Property{Name: "Team0Score", Type: props.TypeInt, Value: props.IntValue(scores[0])})
	}
	if scores[1] > 0 {
		t = append(t, props.Property{Name: "Team1Score", Type: props.TypeInt, Value: props.IntValue(scores[1])})
	}
	if len(b.Goals) > 0 {
		goals := make(props.ArrayValue, 0, len(b.Goals))
		for _, g := range b.Goals {
			goals = append(goals, props.Table{
				{Name: "frame", Type: props.TypeInt, Value: props.IntValue(g.Frame)},
				{Name: "PlayerName", Type: props.TypeStr, Value: props.StringValue(g.Player)},
				{Name: "PlayerTeam", Type: props.TypeInt, Value: props.IntValue(g.Team)},
			})
		}
		t = append(t, props.Property{Name: "Goals", Type: props.TypeArray, Value: goals})
	}
	if len(b.Players) > 0 {
		stats := make(props.ArrayValue, 0, len(b.Players))
		for _, p := range b.Players {
			platform := p.Platform
			if platform == "" {
				platform = match.PlatformUnknown
			}
			stats = append(stats, props.Table{
				{Name: "Name", Type: props.TypeStr, Value: props.StringValue(p.Name)},
				{Name: "Platform", Type: props.TypeByte, Value: props.ByteValue{EnumType: "OnlinePlatform", Value: platform}},
				{Name: "OnlineID", Type: props.TypeQWord, Value: props.QWordValue(p.OnlineID)},
				{Name: "Team", Type: props.TypeInt, Value: props.IntValue(p.Team)},
				{Name: "Score", Type: props.TypeInt, Value: props.IntValue(p.Score)},
				{Name: "Goals", Type: props.TypeInt, Value: props.IntValue(p.Goals)},
				{Name: "Assists", Type: props.TypeInt, Value: props.IntValue(0)},
				{Name: "Saves", Type: props.TypeInt, Value: props.IntValue(0)},
				{Name: "Shots", Type: props.TypeInt, Value: props.IntValue(p.Goals)},
				{Name: "bBot", Type: props.TypeBool, Value: props.BoolValue(p.Bot)},
			})
		}
		t = append(t, props.Property{Name: "PlayerStats", Type: props.TypeArray, Value: stats})
	}
	if b.MatchID != "" {
		t = append(t, props.Property{Name: "Id", Type: props.TypeStr, Value: props.StringValue(b.MatchID)})
	}
	t = append(t,
		props.Property{Name: "ReplayName", Type: props.TypeStr, Value: props.StringValue(b.Name)},
		props.Property{Name: "MapName", Type: props.TypeName, Value: props.StringValue(b.Map)},
		props.Property{Name: "Date", Type: props.TypeStr, Value: props.StringValue(b.Date)},
		props.Property{Name: "NumFrames", Type: props.TypeInt, Value: props.IntValue(numFrames)},
		props.Property{Name: "MatchType", Type: props.TypeName, Value: props.StringValue(b.MatchType)},
		props.Property{Name: "ServerName", Type: props.TypeStr, Value: props.StringValue(b.ServerName)},
		props.Property{Name: "PlayerName", Type: props.TypeStr, Value: props.StringValue(b.Recorder)},
		props.Property{Name: "RecordFPS", Type: props.TypeFloat, Value: props.FloatValue(b.FPS)},
		props.Property{Name: "KeyframeDelay", Type: props.TypeFloat, Value: props.FloatValue(2)},
		props.Property{Name: "MaxChannels", Type: props.TypeInt, Value: props.IntValue(header.DefaultMaxChannels)},
	)
	return append(t, b.Extra...)
}

// HeaderBytes returns the encoded header envelope alone.
func (b *Builder) HeaderBytes() ([]byte, error) {
	w := bitstream.NewWriter()
	if err := b.writeHeader(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (b *Builder) writeHeader(w *bitstream.Writer) error {
	sub := bitstream.NewWriter()
	sub.WriteInt32(b.EngineVersion)
	sub.WriteInt32(b.LicenseeVersion)
	if b.LicenseeVersion >= 18 {
		sub.WriteInt32(b.NetVersion)
	}
	if err := sub.WriteString(b.Class); err != nil {
		return err
	}
	if err := props.Encode(sub, b.Header()); err != nil {
		return err
	}
	data := sub.Bytes()
	w.WriteInt32(int32(len(data)))
	w.WriteUint32(crc32.ChecksumIEEE(data))
	w.WriteBytes(data)
	return nil
}

// Netstream returns the encoded frames.
func (b *Builder) Netstream() ([]byte, error) {
	if b.Raw != nil {
		return b.Raw, nil
	}
	w := bitstream.NewWriter()
	for i, f := range b.frames {
		if f.err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, f.err)
		}
		payload := bitstream.NewWriter()
		payload.WriteBits(f.events.Bytes(), f.events.Len())
		payload.WriteBool(false)
		w.WriteFloat32(f.time)
		w.WriteFloat32(f.delta)
		w.WriteUint32(uint32(payload.Len()))
		w.WriteBits(payload.Bytes(), payload.Len())
	}
	return w.Bytes(), nil
}

// Body returns the body the builder writes.
func (b *Builder) Body() (*body.Body, error) {
	b.init()
	stream, err := b.Netstream()
	if err != nil {
		return nil, err
	}
	bd := &body.Body{
		Levels:    []string{b.Map},
		Keyframes: []body.Keyframe{{Time: 0, Frame: 0, Position: 0}},
		Netstream: stream,
		TickMarks: b.TickMarks,
		Packages:  []string{"TAGame"},
		Objects:   b.objects,
		Names:     []string{"None"},
	}
	for _, c := range soccar {
		bd.ClassIndex = append(bd.ClassIndex, body.ClassIndex{Class: c.name, ObjectIndex: b.objectIDs[c.name]})
		entry := body.ClassNetCache{ObjectIndex: b.objectIDs[c.name], ParentID: c.parent, CacheID: c.cacheID}
		for _, f := range c.fields {
			entry.Properties = append(entry.Properties, body.CacheProperty{
				ObjectIndex: b.objectIDs[f.name],
				StreamID:    f.streamID,
				Kind:        uint8(f.kind),
				Max:         f.max,
			})
		}
		bd.NetCache = append(bd.NetCache, entry)
	}
	return bd, nil
}

// Build encodes the complete replay file.
func (b *Builder) Build() ([]byte, error) {
	b.init()
	w := bitstream.NewWriter()
	if err := b.writeHeader(w); err != nil {
		return nil, err
	}
	bd, err := b.Body()
	if err != nil {
		return nil, err
	}
	if err := body.EncodeEnvelope(w, bd); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
