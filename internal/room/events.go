package room

import "github.com/moecube/duelrelay/internal/dispatch"

// Bus kinds for room lifecycle events. Features register against these the
// same way they register against protocol messages.
const (
	KindCreated       dispatch.Kind = "room/created"
	KindJoin          dispatch.Kind = "room/join"
	KindLeave         dispatch.Kind = "room/leave"
	KindJoinPlayer    dispatch.Kind = "room/join-player"
	KindJoinObserver  dispatch.Kind = "room/join-observer"
	KindLeavePlayer   dispatch.Kind = "room/leave-player"
	KindLeaveObserver dispatch.Kind = "room/leave-observer"
	KindMatchStart    dispatch.Kind = "room/match-start"
	KindGameStart     dispatch.Kind = "room/game-start"
	KindDuelStart     dispatch.Kind = "room/duel-start"
	KindWin           dispatch.Kind = "room/win"
	KindFinalize      dispatch.Kind = "room/finalize"
	KindGameMsg       dispatch.Kind = "room/game-msg"
)

// CreatedEvent fires once per room, after registry insertion.
type CreatedEvent struct{ Room *Room }

func (CreatedEvent) EventKind() dispatch.Kind { return KindCreated }

// JoinEvent fires for every join, before the player/observer variant.
type JoinEvent struct{ Room *Room }

func (JoinEvent) EventKind() dispatch.Kind { return KindJoin }

// LeaveEvent fires for every leave, before the player/observer variant.
type LeaveEvent struct{ Room *Room }

func (LeaveEvent) EventKind() dispatch.Kind { return KindLeave }

// JoinPlayerEvent fires when a connection takes a seat.
type JoinPlayerEvent struct{ Room *Room }

func (JoinPlayerEvent) EventKind() dispatch.Kind { return KindJoinPlayer }

// JoinObserverEvent fires when a connection starts observing.
type JoinObserverEvent struct{ Room *Room }

func (JoinObserverEvent) EventKind() dispatch.Kind { return KindJoinObserver }

// LeavePlayerEvent fires when a seat is vacated. OldPos is the seat left.
type LeavePlayerEvent struct {
	Room   *Room
	OldPos int
}

func (LeavePlayerEvent) EventKind() dispatch.Kind { return KindLeavePlayer }

// LeaveObserverEvent fires when an observer leaves.
type LeaveObserverEvent struct{ Room *Room }

func (LeaveObserverEvent) EventKind() dispatch.Kind { return KindLeaveObserver }

// MatchStartEvent fires once, before the first game of a match.
type MatchStartEvent struct{ Room *Room }

func (MatchStartEvent) EventKind() dispatch.Kind { return KindMatchStart }

// GameStartEvent fires before every game of a match.
type GameStartEvent struct{ Room *Room }

func (GameStartEvent) EventKind() dispatch.Kind { return KindGameStart }

// DuelStartEvent fires when turn order is settled and the game begins.
type DuelStartEvent struct{ Room *Room }

func (DuelStartEvent) EventKind() dispatch.Kind { return KindDuelStart }

// WinEvent fires after a game outcome is recorded.
type WinEvent struct {
	Room      *Room
	Winner    int
	Reason    uint8
	MatchOver bool
}

func (WinEvent) EventKind() dispatch.Kind { return KindWin }

// FinalizeEvent fires when teardown starts, before the finalizers run.
type FinalizeEvent struct{ Room *Room }

func (FinalizeEvent) EventKind() dispatch.Kind { return KindFinalize }

// GameMsgEvent fires for every relayed card-engine message, letting
// features inspect engine traffic without touching the relay path.
type GameMsgEvent struct {
	Room *Room
	Data []byte
}

func (GameMsgEvent) EventKind() dispatch.Kind { return KindGameMsg }
