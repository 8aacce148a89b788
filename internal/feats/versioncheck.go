// Package feats holds optional behaviors layered onto the dispatch bus.
// Each feature registers its own handlers and never touches another
// feature; the room state machine stays unaware of all of them.
package feats

import (
	"context"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/proto"
)

// VersionCheck rejects clients whose build does not speak the expected
// protocol revision before they reach a room.
type VersionCheck struct {
	required uint16
	accepted map[uint16]bool
}

// NewVersionCheck accepts the canonical version plus any alternates.
// A zero required version disables the check.
func NewVersionCheck(required uint16, alternates ...uint16) *VersionCheck {
	accepted := map[uint16]bool{required: true}
	for _, v := range alternates {
		accepted[v] = true
	}
	return &VersionCheck{required: required, accepted: accepted}
}

// Register hooks the join path ahead of room routing.
func (f *VersionCheck) Register(d *dispatch.Dispatcher) {
	d.HandleBefore(dispatch.CTOSKind(proto.CTOSJoinGame), f.onJoin)
}

func (f *VersionCheck) onJoin(_ context.Context, ev dispatch.Event, c *conn.Conn, next func() error) error {
	if f.required == 0 {
		return next()
	}
	msg := ev.(dispatch.MessageEvent).Msg.(*proto.JoinGame)
	if f.accepted[msg.Version] {
		return next()
	}
	c.SendChat("#{update_required}", proto.ChatColorRed)
	c.Send(&proto.ErrorMsg{Msg: proto.ErrMsgVerError, Code: uint32(f.required)})
	c.Disconnect()
	return nil
}
