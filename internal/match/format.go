package match

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

// Online platforms as they appear in the header player stats.
const (
	PlatformSteam   = "OnlinePlatform_Steam"
	PlatformPS4     = "OnlinePlatform_PS4"
	PlatformXbox    = "OnlinePlatform_Dingo"
	PlatformSwitch  = "OnlinePlatform_Switch"
	PlatformEpic    = "OnlinePlatform_Epic"
	PlatformUnknown = "OnlinePlatform_Unknown"
)

var platformPrefixes = map[string]string{
	PlatformSteam:  "steam",
	PlatformPS4:    "psn",
	PlatformXbox:   "xbox",
	PlatformSwitch: "switch",
	PlatformEpic:   "epic",
}

var serverPattern = regexp.MustCompile(`(EU|USE|USW|OCE|SAM)(\d+)(-([A-Z][a-z]+))?`)

// UUID returns the match id in canonical 8-4-4-4-12 lower case form, or the
// raw id when it is not 32 hex digits.
func (h *Header) UUID() string {
	id, err := uuid.Parse(h.MatchID)
	if err != nil {
		return strings.ToLower(h.MatchID)
	}
	return id.String()
}

// TotalGoals returns the combined score.
func (h *Header) TotalGoals() int {
	return h.Team0Score + h.Team1Score
}

// MatchLength formats the recorded duration as m:ss.
func (h *Header) MatchLength() string {
	return h.clock(h.NumFrames)
}

// GoalTime formats a frame number as m:ss into the match.
func (h *Header) GoalTime(frame int) string {
	return h.clock(frame)
}

func (h *Header) clock(frames int) string {
	if frames <= 0 || h.RecordFPS <= 0 {
		return "N/A"
	}
	seconds := int(float64(frames) / h.RecordFPS)
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Region returns the region code embedded in the server name, or "N/A".
func (h *Header) Region() string {
	m := serverPattern.FindStringSubmatch(h.ServerName)
	if m == nil {
		return "N/A"
	}
	return m[1]
}

// Summary renders a one-line description of the match.
func (h *Header) Summary() string {
	mapName := h.Map
	if mapName == "" {
		mapName = "unknown map"
	}
	return fmt.Sprintf("[%s] %dv%d %s game on %s. Final score: %d-%d, Uploaded by %s.",
		h.Timestamp.Format("2006-01-02 15:04"),
		h.TeamSize, h.TeamSize,
		h.MatchType,
		mapName,
		h.Team0Score, h.Team1Score,
		h.RecorderName,
	)
}

// Player returns the roster entry with the given unique id.
func (h *Header) Player(uniqueID string) (Player, bool) {
	for _, p := range h.Players {
		if p.UniqueID == uniqueID {
			return p, true
		}
	}
	return Player{}, false
}

// PlayerByName returns the first roster entry with the given name and team.
func (h *Header) PlayerByName(name string, team int) (Player, bool) {
	for _, p := range h.Players {
		if p.Name == name && p.Team == team {
			return p, true
		}
	}
	return Player{}, false
}

// UniqueIDFor derives a player's stable id from platform and online id. Bots,
// offline players and invalid Steam ids fall back to a name and team key.
func UniqueIDFor(platform string, onlineID uint64, name string, team int) string {
	prefix, known := platformPrefixes[platform]
	if known && onlineID != 0 {
		id := strconv.FormatUint(onlineID, 10)
		sid := steamid.New(id)
		if platform != PlatformSteam || sid.Valid() {
			return prefix + ":" + id
		}
	}
	return fmt.Sprintf("local:%d:%s", team, name)
}
