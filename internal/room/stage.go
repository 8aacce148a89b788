package room

// Stage is the duel lifecycle position of a room.
type Stage int

const (
	// StageBegin is the lobby: seating and deck submission.
	StageBegin Stage = iota
	// StageFinger resolves who goes first by rock-paper-scissors.
	StageFinger
	// StageFirstGo lets the assigned chooser pick turn order.
	StageFirstGo
	// StageDueling relays card-engine traffic for an active game.
	StageDueling
	// StageSiding is re-deckbuilding between games of a match.
	StageSiding
	// StageEnd marks a room that will never duel again.
	StageEnd
)

func (s Stage) String() string {
	switch s {
	case StageBegin:
		return "begin"
	case StageFinger:
		return "finger"
	case StageFirstGo:
		return "firstgo"
	case StageDueling:
		return "dueling"
	case StageSiding:
		return "siding"
	case StageEnd:
		return "end"
	}
	return "unknown"
}

// PosObserver is the seat value of a connection watching rather than
// playing. Seated positions are always below it.
const PosObserver = 7

// Hand picks during Finger resolution.
const (
	HandScissors uint8 = 1
	HandRock     uint8 = 2
	HandPaper    uint8 = 3
)

// handBeats reports whether pick a wins over pick b.
func handBeats(a, b uint8) bool {
	return (a == HandRock && b == HandScissors) ||
		(a == HandScissors && b == HandPaper) ||
		(a == HandPaper && b == HandRock)
}
