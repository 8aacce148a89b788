package room

import (
	"strconv"
	"strings"

	"github.com/moecube/duelrelay/internal/proto"
)

// Game modes packed into HostInfo.Mode's low bits.
const (
	ModeSingle uint8 = 0
	ModeMatch  uint8 = 1
	ModeTag    uint8 = 2
)

// DefaultHostInfo is the configuration of a room created with no options
// in its name.
func DefaultHostInfo() proto.HostInfo {
	return proto.HostInfo{
		Rule:      0,
		Mode:      ModeSingle,
		DuelRule:  5,
		StartLP:   8000,
		StartHand: 5,
		DrawCount: 1,
		TimeLimit: 180,
	}
}

// ParseHostInfo derives a room's configuration from its name. Options are
// comma-separated tokens before the first '#'; everything after it (or a
// name with no '#') only identifies the room.
//
//	M#weekly     match mode
//	T,NC#casual  tag mode, no deck check
//	LP16000#x    16000 starting life points
func ParseHostInfo(name string) proto.HostInfo {
	info := DefaultHostInfo()
	idx := strings.Index(name, "#")
	if idx < 0 {
		return info
	}
	for _, token := range strings.Split(name[:idx], ",") {
		token = strings.ToUpper(strings.TrimSpace(token))
		switch {
		case token == "S" || token == "SINGLE":
			info.Mode = ModeSingle
		case token == "M" || token == "MATCH":
			info.Mode = ModeMatch
		case token == "T" || token == "TAG":
			info.Mode = ModeTag
		case token == "NC":
			info.NoCheckDeck = true
		case token == "NS":
			info.NoShuffleDeck = true
		case token == "TCG":
			info.Rule = 1
		case token == "OCG":
			info.Rule = 0
		case strings.HasPrefix(token, "LP"):
			if lp, err := strconv.ParseUint(token[2:], 10, 32); err == nil && lp > 0 {
				info.StartLP = uint32(lp)
			}
		case strings.HasPrefix(token, "TM"):
			if tm, err := strconv.ParseUint(token[2:], 10, 16); err == nil {
				info.TimeLimit = uint16(tm)
			}
		}
	}
	return info
}
