package proto

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
)

// Server-to-client opcodes.
const (
	STOCGameMsg           uint8 = 0x01
	STOCErrorMsg          uint8 = 0x02
	STOCSelectHand        uint8 = 0x03
	STOCSelectTp          uint8 = 0x04
	STOCChangeSide        uint8 = 0x07
	STOCWaitingSide       uint8 = 0x08
	STOCDeckCount         uint8 = 0x09
	STOCJoinGame          uint8 = 0x12
	STOCTypeChange        uint8 = 0x13
	STOCDuelStart         uint8 = 0x15
	STOCDuelEnd           uint8 = 0x16
	STOCReplay            uint8 = 0x17
	STOCChat              uint8 = 0x19
	STOCHsPlayerEnter     uint8 = 0x20
	STOCHsPlayerChange    uint8 = 0x21
	STOCHsWatchChange     uint8 = 0x22
	STOCTeammateSurrender uint8 = 0x23
)

// Error categories carried by ErrorMsg.
const (
	ErrMsgJoinError uint8 = 0x01
	ErrMsgDeckError uint8 = 0x02
	ErrMsgSideError uint8 = 0x03
	ErrMsgVerError  uint8 = 0x04
)

// ErrorCodeDropped is the ErrorMsg code the relay sends just before it
// closes a rejected connection.
const ErrorCodeDropped uint32 = 9

// Chat colors understood by official clients. Values at and above the
// observer seat double as "system" senders tinted by the client.
const (
	ChatColorBabyBlue uint16 = 8
	ChatColorGreen    uint16 = 9
	ChatColorRed      uint16 = 11
	ChatColorPink     uint16 = 10
)

// STOC is the server-to-client message registry.
var STOC = NewRegistry("stoc")

func init() {
	STOC.Register(STOCGameMsg, func(b []byte) (Message, error) {
		return &GameMsg{Data: append([]byte(nil), b...)}, nil
	})
	STOC.Register(STOCErrorMsg, decodeErrorMsg)
	STOC.Register(STOCSelectHand, emptyBody(func() Message { return &SelectHand{} }))
	STOC.Register(STOCSelectTp, emptyBody(func() Message { return &SelectTp{} }))
	STOC.Register(STOCChangeSide, emptyBody(func() Message { return &ChangeSide{} }))
	STOC.Register(STOCWaitingSide, emptyBody(func() Message { return &WaitingSide{} }))
	STOC.Register(STOCDeckCount, decodeDeckCount)
	STOC.Register(STOCJoinGame, decodeJoinGameTo)
	STOC.Register(STOCTypeChange, func(b []byte) (Message, error) {
		t, err := singleByte(b, "type change")
		return &TypeChange{Type: t}, err
	})
	STOC.Register(STOCDuelStart, emptyBody(func() Message { return &DuelStart{} }))
	STOC.Register(STOCDuelEnd, emptyBody(func() Message { return &DuelEnd{} }))
	STOC.Register(STOCReplay, func(b []byte) (Message, error) {
		return &Replay{Data: append([]byte(nil), b...)}, nil
	})
	STOC.Register(STOCChat, decodeChatToClient)
	STOC.Register(STOCHsPlayerEnter, decodePlayerEnter)
	STOC.Register(STOCHsPlayerChange, func(b []byte) (Message, error) {
		s, err := singleByte(b, "player change")
		return &HsPlayerChange{Status: s}, err
	})
	STOC.Register(STOCHsWatchChange, func(b []byte) (Message, error) {
		if len(b) < 2 {
			return nil, eris.New("watch change body too short")
		}
		return &HsWatchChange{Count: binary.LittleEndian.Uint16(b)}, nil
	})
	STOC.Register(STOCTeammateSurrender, emptyBody(func() Message { return &TeammateSurrender{} }))
}

// HostInfo is the room configuration block echoed to joining clients.
// Mode packs the game mode in its low bits and the match length above them;
// the win-threshold arithmetic in the room package treats it as an opaque
// contract.
type HostInfo struct {
	LFList        uint32
	Rule          uint8
	Mode          uint8
	DuelRule      uint8
	NoCheckDeck   bool
	NoShuffleDeck bool
	StartLP       uint32
	StartHand     uint8
	DrawCount     uint8
	TimeLimit     uint16
}

const hostInfoSize = 17

func (h *HostInfo) marshal() []byte {
	out := make([]byte, hostInfoSize)
	binary.LittleEndian.PutUint32(out[0:], h.LFList)
	out[4] = h.Rule
	out[5] = h.Mode
	out[6] = h.DuelRule
	out[7] = b2u(h.NoCheckDeck)
	out[8] = b2u(h.NoShuffleDeck)
	binary.LittleEndian.PutUint32(out[9:], h.StartLP)
	out[13] = h.StartHand
	out[14] = h.DrawCount
	binary.LittleEndian.PutUint16(out[15:], h.TimeLimit)
	return out
}

func unmarshalHostInfo(b []byte) (HostInfo, error) {
	if len(b) < hostInfoSize {
		return HostInfo{}, eris.Errorf("host info too short: %d", len(b))
	}
	return HostInfo{
		LFList:        binary.LittleEndian.Uint32(b[0:]),
		Rule:          b[4],
		Mode:          b[5],
		DuelRule:      b[6],
		NoCheckDeck:   b[7] != 0,
		NoShuffleDeck: b[8] != 0,
		StartLP:       binary.LittleEndian.Uint32(b[9:]),
		StartHand:     b[13],
		DrawCount:     b[14],
		TimeLimit:     binary.LittleEndian.Uint16(b[15:]),
	}, nil
}

func b2u(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// GameMsg relays one card-engine message verbatim.
type GameMsg struct {
	Data []byte
}

// Card-engine message identifiers the relay itself inspects.
const (
	GameMsgWin     uint8 = 5
	GameMsgNewTurn uint8 = 40
)

func (*GameMsg) Opcode() uint8 { return STOCGameMsg }

func (m *GameMsg) MarshalPayload() ([]byte, error) { return m.Data, nil }

// WinBody builds the engine payload announcing a game win.
func WinBody(player uint8, reason uint8) []byte {
	return []byte{GameMsgWin, player, reason}
}

// ErrorMsg is the standardized terminal error sent before rejecting or
// correcting a client.
type ErrorMsg struct {
	Msg  uint8
	Code uint32
}

func (*ErrorMsg) Opcode() uint8 { return STOCErrorMsg }

func decodeErrorMsg(b []byte) (Message, error) {
	if len(b) < 8 {
		return nil, eris.Errorf("error msg body too short: %d", len(b))
	}
	return &ErrorMsg{Msg: b[0], Code: binary.LittleEndian.Uint32(b[4:])}, nil
}

func (m *ErrorMsg) MarshalPayload() ([]byte, error) {
	out := make([]byte, 8)
	out[0] = m.Msg
	binary.LittleEndian.PutUint32(out[4:], m.Code)
	return out, nil
}

// SelectHand asks a first player for a rock-paper-scissors pick.
type SelectHand struct{}

func (*SelectHand) Opcode() uint8                   { return STOCSelectHand }
func (*SelectHand) MarshalPayload() ([]byte, error) { return nil, nil }

// SelectTp asks the Finger winner (or the assigned chooser) for turn order.
type SelectTp struct{}

func (*SelectTp) Opcode() uint8                   { return STOCSelectTp }
func (*SelectTp) MarshalPayload() ([]byte, error) { return nil, nil }

// ChangeSide tells a seated player to resubmit a deck from the same pool.
type ChangeSide struct{}

func (*ChangeSide) Opcode() uint8                   { return STOCChangeSide }
func (*ChangeSide) MarshalPayload() ([]byte, error) { return nil, nil }

// WaitingSide tells observers the table is between games.
type WaitingSide struct{}

func (*WaitingSide) Opcode() uint8                   { return STOCWaitingSide }
func (*WaitingSide) MarshalPayload() ([]byte, error) { return nil, nil }

// DeckCountInfo is one seat's deck sizes in DeckCount.
type DeckCountInfo struct {
	Main  uint16
	Extra uint16
	Side  uint16
}

// DeckCount shows both duel positions' deck sizes at match start.
type DeckCount struct {
	Player0 DeckCountInfo
	Player1 DeckCountInfo
}

func (*DeckCount) Opcode() uint8 { return STOCDeckCount }

func decodeDeckCount(b []byte) (Message, error) {
	if len(b) < 12 {
		return nil, eris.Errorf("deck count body too short: %d", len(b))
	}
	read := func(off int) DeckCountInfo {
		return DeckCountInfo{
			Main:  binary.LittleEndian.Uint16(b[off:]),
			Extra: binary.LittleEndian.Uint16(b[off+2:]),
			Side:  binary.LittleEndian.Uint16(b[off+4:]),
		}
	}
	return &DeckCount{Player0: read(0), Player1: read(6)}, nil
}

func (m *DeckCount) MarshalPayload() ([]byte, error) {
	out := make([]byte, 12)
	write := func(off int, d DeckCountInfo) {
		binary.LittleEndian.PutUint16(out[off:], d.Main)
		binary.LittleEndian.PutUint16(out[off+2:], d.Extra)
		binary.LittleEndian.PutUint16(out[off+4:], d.Side)
	}
	write(0, m.Player0)
	write(6, m.Player1)
	return out, nil
}

// JoinGameTo confirms room entry and carries the room configuration.
type JoinGameTo struct {
	Info HostInfo
}

func (*JoinGameTo) Opcode() uint8 { return STOCJoinGame }

func decodeJoinGameTo(b []byte) (Message, error) {
	info, err := unmarshalHostInfo(b)
	if err != nil {
		return nil, err
	}
	return &JoinGameTo{Info: info}, nil
}

func (m *JoinGameTo) MarshalPayload() ([]byte, error) {
	return m.Info.marshal(), nil
}

// TypeChange tells a client its own seat and host status:
// low nibble seat, bit 4 host.
type TypeChange struct {
	Type uint8
}

func (*TypeChange) Opcode() uint8                    { return STOCTypeChange }
func (m *TypeChange) MarshalPayload() ([]byte, error) { return []byte{m.Type}, nil }

// TypeChangeOf packs a seat index and host flag.
func TypeChangeOf(pos int, host bool) *TypeChange {
	t := uint8(pos)
	if host {
		t |= 0x10
	}
	return &TypeChange{Type: t}
}

// DuelStart marks the transition out of the lobby (or out of siding).
type DuelStart struct{}

func (*DuelStart) Opcode() uint8                   { return STOCDuelStart }
func (*DuelStart) MarshalPayload() ([]byte, error) { return nil, nil }

// DuelEnd marks the room as finished for this client.
type DuelEnd struct{}

func (*DuelEnd) Opcode() uint8                   { return STOCDuelEnd }
func (*DuelEnd) MarshalPayload() ([]byte, error) { return nil, nil }

// Replay carries one recorded game.
type Replay struct {
	Data []byte
}

func (*Replay) Opcode() uint8                    { return STOCReplay }
func (m *Replay) MarshalPayload() ([]byte, error) { return m.Data, nil }

// ChatToClient is a chat line fanned out to room occupants. Player is the
// sender's (swapped) seat, or a color constant for system notices.
type ChatToClient struct {
	Player uint16
	Msg    string
}

func (*ChatToClient) Opcode() uint8 { return STOCChat }

func decodeChatToClient(b []byte) (Message, error) {
	if len(b) < 2 {
		return nil, eris.New("chat body too short")
	}
	return &ChatToClient{
		Player: binary.LittleEndian.Uint16(b),
		Msg:    decodeUTF16(b[2:]),
	}, nil
}

func (m *ChatToClient) MarshalPayload() ([]byte, error) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, m.Player)
	return append(out, encodeUTF16(m.Msg, utf16Len(m.Msg)+1)...), nil
}

// HsPlayerEnter announces a player taking a seat.
type HsPlayerEnter struct {
	Name string
	Pos  uint8
}

func (*HsPlayerEnter) Opcode() uint8 { return STOCHsPlayerEnter }

func decodePlayerEnter(b []byte) (Message, error) {
	if len(b) < nameFieldUnits*2+1 {
		return nil, eris.Errorf("player enter body too short: %d", len(b))
	}
	return &HsPlayerEnter{
		Name: decodeUTF16(b[:nameFieldUnits*2]),
		Pos:  b[nameFieldUnits*2],
	}, nil
}

func (m *HsPlayerEnter) MarshalPayload() ([]byte, error) {
	out := encodeUTF16(m.Name, nameFieldUnits)
	return append(out, m.Pos, 0), nil
}

// Seat-state values carried in HsPlayerChange's low nibble. Values below
// PlayerChangeObserve are a reseat target slot.
const (
	PlayerChangeObserve  uint8 = 0x8
	PlayerChangeReady    uint8 = 0x9
	PlayerChangeNotReady uint8 = 0xA
	PlayerChangeLeave    uint8 = 0xB
)

// HsPlayerChange announces a seat-state transition:
// high nibble seat, low nibble state (or target slot on reseat).
type HsPlayerChange struct {
	Status uint8
}

func (*HsPlayerChange) Opcode() uint8                    { return STOCHsPlayerChange }
func (m *HsPlayerChange) MarshalPayload() ([]byte, error) { return []byte{m.Status}, nil }

// PlayerChangeOf packs a seat index and state nibble.
func PlayerChangeOf(pos int, state uint8) *HsPlayerChange {
	return &HsPlayerChange{Status: uint8(pos)<<4 | state&0x0F}
}

// HsWatchChange broadcasts the observer count.
type HsWatchChange struct {
	Count uint16
}

func (*HsWatchChange) Opcode() uint8 { return STOCHsWatchChange }

func (m *HsWatchChange) MarshalPayload() ([]byte, error) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, m.Count)
	return out, nil
}

// TeammateSurrender asks a tag partner to confirm a surrender request.
type TeammateSurrender struct{}

func (*TeammateSurrender) Opcode() uint8                   { return STOCTeammateSurrender }
func (*TeammateSurrender) MarshalPayload() ([]byte, error) { return nil, nil }
