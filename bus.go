package duelrelay

import (
	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/room"
)

// The bus surface, re-exported so embedders can register features against
// Server.Dispatcher without reaching into internal packages.
type (
	// Dispatcher is the ordered middleware bus every message and room
	// lifecycle event flows through.
	Dispatcher = dispatch.Dispatcher
	// Kind identifies an event type on the bus.
	Kind = dispatch.Kind
	// Event is anything dispatchable.
	Event = dispatch.Event
	// Handler processes one event; call next to pass it on.
	Handler = dispatch.Handler
	// Terminal is the default action at the end of a kind's chain.
	Terminal = dispatch.Terminal
	// Conn is one connected peer.
	Conn = conn.Conn
	// Room is one duel room.
	Room = room.Room

	// MessageEvent wraps a decoded client message.
	MessageEvent = dispatch.MessageEvent
	// DisconnectEvent fires when a connection ends.
	DisconnectEvent = dispatch.DisconnectEvent
)

// CTOSKind is the bus kind of a client message opcode.
func CTOSKind(op uint8) Kind { return dispatch.CTOSKind(op) }

// KindDisconnect is DisconnectEvent's bus kind.
const KindDisconnect = dispatch.KindDisconnect

// Room lifecycle kinds.
const (
	KindRoomCreated   = room.KindCreated
	KindJoin          = room.KindJoin
	KindLeave         = room.KindLeave
	KindJoinPlayer    = room.KindJoinPlayer
	KindJoinObserver  = room.KindJoinObserver
	KindLeavePlayer   = room.KindLeavePlayer
	KindLeaveObserver = room.KindLeaveObserver
	KindMatchStart    = room.KindMatchStart
	KindGameStart     = room.KindGameStart
	KindDuelStart     = room.KindDuelStart
	KindWin           = room.KindWin
	KindFinalize      = room.KindFinalize
	KindGameMsg       = room.KindGameMsg
)

// Room lifecycle events.
type (
	RoomCreatedEvent   = room.CreatedEvent
	JoinEvent          = room.JoinEvent
	LeaveEvent         = room.LeaveEvent
	JoinPlayerEvent    = room.JoinPlayerEvent
	JoinObserverEvent  = room.JoinObserverEvent
	LeavePlayerEvent   = room.LeavePlayerEvent
	LeaveObserverEvent = room.LeaveObserverEvent
	MatchStartEvent    = room.MatchStartEvent
	GameStartEvent     = room.GameStartEvent
	DuelStartEvent     = room.DuelStartEvent
	WinEvent           = room.WinEvent
	FinalizeEvent      = room.FinalizeEvent
	GameMsgEvent       = room.GameMsgEvent
)
