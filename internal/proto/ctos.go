package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/rotisserie/eris"
)

// Client-to-server opcodes.
const (
	CTOSUpdateDeck      uint8 = 0x02
	CTOSHandResult      uint8 = 0x03
	CTOSTpResult        uint8 = 0x04
	CTOSPlayerInfo      uint8 = 0x10
	CTOSJoinGame        uint8 = 0x12
	CTOSSurrender       uint8 = 0x14
	CTOSChat            uint8 = 0x16
	CTOSExternalAddress uint8 = 0x17
	CTOSHsToDuelist     uint8 = 0x20
	CTOSHsToObserver    uint8 = 0x21
	CTOSHsReady         uint8 = 0x22
	CTOSHsNotReady      uint8 = 0x23
	CTOSHsKick          uint8 = 0x24
	CTOSHsStart         uint8 = 0x25
)

// CTOS is the client-to-server message registry.
var CTOS = NewRegistry("ctos")

func registerCTOS(op uint8, fn func(body []byte) (Message, error)) {
	CTOS.Register(op, fn)
}

func init() {
	registerCTOS(CTOSUpdateDeck, decodeUpdateDeck)
	registerCTOS(CTOSHandResult, func(b []byte) (Message, error) {
		res, err := singleByte(b, "hand result")
		return &HandResult{Res: res}, err
	})
	registerCTOS(CTOSTpResult, func(b []byte) (Message, error) {
		res, err := singleByte(b, "tp result")
		return &TpResult{Res: res}, err
	})
	registerCTOS(CTOSPlayerInfo, func(b []byte) (Message, error) {
		if len(b) < nameFieldUnits*2 {
			return nil, eris.Errorf("player info body too short: %d", len(b))
		}
		return &PlayerInfo{Name: decodeUTF16(b[:nameFieldUnits*2])}, nil
	})
	registerCTOS(CTOSJoinGame, decodeJoinGame)
	registerCTOS(CTOSSurrender, emptyBody(func() Message { return &Surrender{} }))
	registerCTOS(CTOSChat, func(b []byte) (Message, error) {
		return &ChatToServer{Msg: decodeUTF16(b)}, nil
	})
	registerCTOS(CTOSExternalAddress, decodeExternalAddress)
	registerCTOS(CTOSHsToDuelist, emptyBody(func() Message { return &HsToDuelist{} }))
	registerCTOS(CTOSHsToObserver, emptyBody(func() Message { return &HsToObserver{} }))
	registerCTOS(CTOSHsReady, emptyBody(func() Message { return &HsReady{} }))
	registerCTOS(CTOSHsNotReady, emptyBody(func() Message { return &HsNotReady{} }))
	registerCTOS(CTOSHsKick, func(b []byte) (Message, error) {
		pos, err := singleByte(b, "kick")
		return &HsKick{Pos: pos}, err
	})
	registerCTOS(CTOSHsStart, emptyBody(func() Message { return &HsStart{} }))
}

func emptyBody(mk func() Message) func([]byte) (Message, error) {
	return func([]byte) (Message, error) { return mk(), nil }
}

func singleByte(b []byte, what string) (uint8, error) {
	if len(b) < 1 {
		return 0, eris.Errorf("%s body empty", what)
	}
	return b[0], nil
}

// UpdateDeck submits a deck. Main holds main and extra cards mixed; the
// server splits them by card type. Side is already separate on the wire.
type UpdateDeck struct {
	Main []uint32
	Side []uint32
}

func (*UpdateDeck) Opcode() uint8 { return CTOSUpdateDeck }

func decodeUpdateDeck(b []byte) (Message, error) {
	if len(b) < 8 {
		return nil, eris.Errorf("update deck body too short: %d", len(b))
	}
	mainc := int(binary.LittleEndian.Uint32(b[0:]))
	sidec := int(binary.LittleEndian.Uint32(b[4:]))
	need := 8 + (mainc+sidec)*4
	if mainc < 0 || sidec < 0 || len(b) < need {
		return nil, eris.Errorf("update deck counts %d+%d exceed body %d", mainc, sidec, len(b))
	}
	msg := &UpdateDeck{
		Main: make([]uint32, mainc),
		Side: make([]uint32, sidec),
	}
	off := 8
	for i := range msg.Main {
		msg.Main[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	for i := range msg.Side {
		msg.Side[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	return msg, nil
}

func (m *UpdateDeck) MarshalPayload() ([]byte, error) {
	out := make([]byte, 8, 8+(len(m.Main)+len(m.Side))*4)
	binary.LittleEndian.PutUint32(out[0:], uint32(len(m.Main)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(m.Side)))
	for _, id := range m.Main {
		out = binary.LittleEndian.AppendUint32(out, id)
	}
	for _, id := range m.Side {
		out = binary.LittleEndian.AppendUint32(out, id)
	}
	return out, nil
}

// HandResult carries a rock-paper-scissors pick during Finger resolution.
type HandResult struct {
	Res uint8
}

func (*HandResult) Opcode() uint8                    { return CTOSHandResult }
func (m *HandResult) MarshalPayload() ([]byte, error) { return []byte{m.Res}, nil }

// TpResult answers SelectTp with whether the chooser takes the first turn.
type TpResult struct {
	Res uint8
}

// TpResultFirst is the Res value claiming the first turn.
const TpResultFirst uint8 = 1

func (*TpResult) Opcode() uint8                    { return CTOSTpResult }
func (m *TpResult) MarshalPayload() ([]byte, error) { return []byte{m.Res}, nil }

// PlayerInfo announces the peer's display name, optionally suffixed with a
// version pass ("name$vpass").
type PlayerInfo struct {
	Name string
}

func (*PlayerInfo) Opcode() uint8 { return CTOSPlayerInfo }

func (m *PlayerInfo) MarshalPayload() ([]byte, error) {
	return encodeUTF16(m.Name, nameFieldUnits), nil
}

// JoinGame asks to enter the room identified by Pass.
type JoinGame struct {
	Version uint16
	GameID  uint32
	Pass    string
}

func (*JoinGame) Opcode() uint8 { return CTOSJoinGame }

func decodeJoinGame(b []byte) (Message, error) {
	if len(b) < 8+nameFieldUnits*2 {
		return nil, eris.Errorf("join game body too short: %d", len(b))
	}
	return &JoinGame{
		Version: binary.LittleEndian.Uint16(b[0:]),
		GameID:  binary.LittleEndian.Uint32(b[4:]),
		Pass:    decodeUTF16(b[8 : 8+nameFieldUnits*2]),
	}, nil
}

func (m *JoinGame) MarshalPayload() ([]byte, error) {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint16(out[0:], m.Version)
	binary.LittleEndian.PutUint32(out[4:], m.GameID)
	return append(out, encodeUTF16(m.Pass, nameFieldUnits)...), nil
}

// Surrender concedes the current game.
type Surrender struct{}

func (*Surrender) Opcode() uint8                    { return CTOSSurrender }
func (*Surrender) MarshalPayload() ([]byte, error) { return nil, nil }

// ChatToServer is a chat line from a client.
type ChatToServer struct {
	Msg string
}

func (*ChatToServer) Opcode() uint8 { return CTOSChat }

func (m *ChatToServer) MarshalPayload() ([]byte, error) {
	return encodeUTF16(m.Msg, utf16Len(m.Msg)+1), nil
}

// ExternalAddress reports the real client IP for proxied deployments. Only
// honored on the stream transport, before PlayerInfo.
type ExternalAddress struct {
	IP   uint32
	Host string
}

func (*ExternalAddress) Opcode() uint8 { return CTOSExternalAddress }

func decodeExternalAddress(b []byte) (Message, error) {
	if len(b) < 4 {
		return nil, eris.Errorf("external address body too short: %d", len(b))
	}
	msg := &ExternalAddress{IP: binary.LittleEndian.Uint32(b[0:])}
	if len(b) > 4 {
		msg.Host = decodeUTF16(b[4:])
	}
	return msg, nil
}

func (m *ExternalAddress) MarshalPayload() ([]byte, error) {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, m.IP)
	return append(out, encodeUTF16(m.Host, utf16Len(m.Host)+1)...), nil
}

// IPString renders the reported address in wire octet order.
func (m *ExternalAddress) IPString() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		byte(m.IP), byte(m.IP>>8), byte(m.IP>>16), byte(m.IP>>24))
}

// Lobby seat-switching and readiness messages. All are bodyless except Kick.

type HsToDuelist struct{}

func (*HsToDuelist) Opcode() uint8                   { return CTOSHsToDuelist }
func (*HsToDuelist) MarshalPayload() ([]byte, error) { return nil, nil }

type HsToObserver struct{}

func (*HsToObserver) Opcode() uint8                   { return CTOSHsToObserver }
func (*HsToObserver) MarshalPayload() ([]byte, error) { return nil, nil }

type HsReady struct{}

func (*HsReady) Opcode() uint8                   { return CTOSHsReady }
func (*HsReady) MarshalPayload() ([]byte, error) { return nil, nil }

type HsNotReady struct{}

func (*HsNotReady) Opcode() uint8                   { return CTOSHsNotReady }
func (*HsNotReady) MarshalPayload() ([]byte, error) { return nil, nil }

// HsKick asks the host to remove the player in seat Pos.
type HsKick struct {
	Pos uint8
}

func (*HsKick) Opcode() uint8                    { return CTOSHsKick }
func (m *HsKick) MarshalPayload() ([]byte, error) { return []byte{m.Pos}, nil }

type HsStart struct{}

func (*HsStart) Opcode() uint8                   { return CTOSHsStart }
func (*HsStart) MarshalPayload() ([]byte, error) { return nil, nil }
