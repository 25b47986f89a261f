// Package header parses the replay header envelope into match facts. Work is
// bounded by the declared header size, never by the size of the whole file.
package header

import (
	"fmt"
	"hash/crc32"
	"regexp"
	"strings"
	"time"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/match"
	"replay-ingest/internal/replay/bitstream"
	"replay-ingest/internal/replay/props"
)

// ReplayClass is the only replay class this decoder understands.
const ReplayClass = "TAGame.Replay_Soccar_TA"

// Supported format versions.
const (
	EngineVersion      = 868
	MinLicenseeVersion = 10
	MaxLicenseeVersion = 32

	// Net versions are written from this licensee version onwards.
	netVersionLicensee = 18
)

// Defaults applied when the header omits a parser setting.
const (
	DefaultMaxChannels     = 1023
	DefaultMaxReplaySizeMB = 10
	DefaultRecordFPS       = 30.0
)

var (
	matchIDPattern = regexp.MustCompile(`^[0-9A-Fa-f]{32}$`)
	dateLayouts    = []string{"2006-01-02 15-04-05", "2006-01-02:15-04", "2006-01-02 15:04:05"}
)

// Envelope is the raw header region: its declared size, checksum and bytes.
type Envelope struct {
	Size int32
	CRC  uint32
	Data []byte
}

// ReadEnvelope reads the size-prefixed, checksummed header region.
func ReadEnvelope(r *bitstream.Reader) (*Envelope, error) {
	size, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, invalid("header size %d", size)
	}
	crc, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, err
	}
	return &Envelope{Size: size, CRC: crc, Data: data}, nil
}

// Checksum computes the integrity checksum the envelope declares.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Parse reads the header envelope at r and projects it into match facts.
func Parse(r *bitstream.Reader) (*match.Header, error) {
	env, err := ReadEnvelope(r)
	if err != nil {
		return nil, err
	}
	if got := Checksum(env.Data); got != env.CRC {
		return nil, invalid("checksum mismatch: declared %08x, computed %08x", env.CRC, got)
	}

	hr := bitstream.NewReader(env.Data)
	h := &match.Header{CRC: env.CRC}
	if err := readVersion(hr, h); err != nil {
		return nil, err
	}
	class, err := hr.ReadString()
	if err != nil {
		return nil, err
	}
	if class != ReplayClass {
		return nil, invalid("unsupported replay class %q", class)
	}
	tbl, err := props.Decode(hr)
	if err != nil {
		return nil, err
	}
	if err := project(tbl, h); err != nil {
		return nil, err
	}
	if err := Validate(h); err != nil {
		return nil, err
	}
	return h, nil
}

func readVersion(r *bitstream.Reader, h *match.Header) error {
	engine, err := r.ReadInt32()
	if err != nil {
		return err
	}
	licensee, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if engine != EngineVersion || licensee < MinLicenseeVersion || licensee > MaxLicenseeVersion {
		return invalid("unsupported version %d.%d", engine, licensee)
	}
	h.EngineVersion = engine
	h.LicenseeVersion = licensee
	if licensee >= netVersionLicensee {
		net, err := r.ReadInt32()
		if err != nil {
			return err
		}
		h.NetVersion = net
	}
	return nil
}

func project(tbl props.Table, h *match.Header) error {
	id, ok := tbl.String("Id")
	if !ok {
		return invalid("missing match id")
	}
	h.MatchID = strings.ToUpper(id)
	h.Name, _ = tbl.String("ReplayName")
	h.Map, _ = tbl.String("MapName")
	h.MatchType, _ = tbl.String("MatchType")
	h.ServerName, _ = tbl.String("ServerName")
	h.RecorderName, _ = tbl.String("PlayerName")
	h.RecorderTeam = intProp(tbl, "PlayerTeam", 0)
	h.Playlist = intProp(tbl, "Playlist", 0)
	h.TeamSize = intProp(tbl, "TeamSize", 0)
	h.Team0Score = intProp(tbl, "Team0Score", 0)
	h.Team1Score = intProp(tbl, "Team1Score", 0)
	h.NumFrames = intProp(tbl, "NumFrames", 0)
	h.MaxChannels = intProp(tbl, "MaxChannels", DefaultMaxChannels)
	h.MaxReplaySizeMB = intProp(tbl, "MaxReplaySizeMB", DefaultMaxReplaySizeMB)
	h.RecordFPS = floatProp(tbl, "RecordFPS", DefaultRecordFPS)
	h.KeyframeDelay = floatProp(tbl, "KeyframeDelay", 0)
	if date, ok := tbl.String("Date"); ok {
		h.Timestamp = parseDate(date)
	}

	stats, _ := tbl.Array("PlayerStats")
	for i, st := range stats {
		p, err := projectPlayer(st)
		if err != nil {
			return fmt.Errorf("player %d: %w", i, err)
		}
		h.Players = append(h.Players, p)
	}

	goals, _ := tbl.Array("Goals")
	for i, g := range goals {
		name, ok := g.String("PlayerName")
		if !ok {
			return invalid("goal %d: missing player name", i+1)
		}
		frame, ok := g.Int("frame")
		if !ok {
			return invalid("goal %d: missing frame", i+1)
		}
		h.Goals = append(h.Goals, match.Goal{
			Number:     i + 1,
			PlayerName: name,
			PlayerTeam: intProp(g, "PlayerTeam", 0),
			Frame:      int(frame),
		})
	}
	return nil
}

func projectPlayer(st props.Table) (match.Player, error) {
	name, ok := st.String("Name")
	if !ok {
		return match.Player{}, invalid("missing player name")
	}
	team, ok := st.Int("Team")
	if !ok {
		return match.Player{}, invalid("player %q: missing team", name)
	}
	p := match.Player{
		Name:     name,
		Team:     int(team),
		Score:    intProp(st, "Score", 0),
		Goals:    intProp(st, "Goals", 0),
		Shots:    intProp(st, "Shots", 0),
		Assists:  intProp(st, "Assists", 0),
		Saves:    intProp(st, "Saves", 0),
		Platform: match.PlatformUnknown,
	}
	p.Bot, _ = st.Bool("bBot")
	if platform, ok := st.Byte("Platform"); ok && platform.Value != "" {
		p.Platform = platform.Value
	}
	onlineID, _ := st.QWord("OnlineID")
	if onlineID != 0 {
		p.OnlineID = fmt.Sprintf("%d", onlineID)
	}
	p.UniqueID = match.UniqueIDFor(p.Platform, onlineID, p.Name, p.Team)
	return p, nil
}

// Validate checks the cross-field invariants of a projected header.
func Validate(h *match.Header) error {
	if !matchIDPattern.MatchString(h.MatchID) {
		return invalid("match id %q is not 32 hex digits", h.MatchID)
	}
	if h.Team0Score < 0 || h.Team1Score < 0 {
		return invalid("negative score %d-%d", h.Team0Score, h.Team1Score)
	}
	if h.TeamSize < 0 || h.NumFrames < 0 {
		return invalid("negative team size or frame count")
	}
	if h.RecordFPS <= 0 {
		return invalid("record rate %.2f must be positive", h.RecordFPS)
	}
	if h.MaxChannels <= 0 {
		return invalid("max channels %d must be positive", h.MaxChannels)
	}
	if len(h.Goals) != h.TotalGoals() {
		return invalid("%d goals listed for a %d-%d score", len(h.Goals), h.Team0Score, h.Team1Score)
	}

	seen := make(map[string]bool, len(h.Players))
	for _, p := range h.Players {
		if seen[p.UniqueID] {
			return invalid("duplicate player id %q", p.UniqueID)
		}
		seen[p.UniqueID] = true
		if p.Team != 0 && p.Team != 1 {
			return invalid("player %q: team %d", p.Name, p.Team)
		}
	}

	perTeam := [2]int{}
	for i := range h.Goals {
		g := &h.Goals[i]
		if g.Frame < 0 || g.Frame >= h.NumFrames {
			return invalid("goal %d: frame %d outside [0, %d)", g.Number, g.Frame, h.NumFrames)
		}
		p, ok := h.PlayerByName(g.PlayerName, g.PlayerTeam)
		if !ok {
			return invalid("goal %d: scorer %q (team %d) not in roster", g.Number, g.PlayerName, g.PlayerTeam)
		}
		g.PlayerID = p.UniqueID
		perTeam[g.PlayerTeam]++
	}
	if perTeam[0] != h.Team0Score || perTeam[1] != h.Team1Score {
		return invalid("goal split %d-%d does not match score %d-%d",
			perTeam[0], perTeam[1], h.Team0Score, h.Team1Score)
	}
	return nil
}

func intProp(t props.Table, name string, fallback int) int {
	if v, ok := t.Int(name); ok {
		return int(v)
	}
	return fallback
}

func floatProp(t props.Table, name string, fallback float64) float64 {
	if v, ok := t.Float(name); ok {
		return float64(v)
	}
	return fallback
}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func invalid(format string, args ...any) error {
	return decodeerr.New(decodeerr.KindInvalidHeader, "parse header", -1, format, args...)
}
