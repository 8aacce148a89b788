package room

import (
	"context"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/proto"
)

// RegisterRoutes installs the room state machine as the terminal action for
// every in-room client message plus the disconnect event. Each terminal
// resolves the sender's current room by name; messages from connections not
// in a room fall through silently.
func RegisterRoutes(d *dispatch.Dispatcher, g *Registry) {
	inRoom := func(fn func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event)) dispatch.Terminal {
		return func(ctx context.Context, ev dispatch.Event, c *conn.Conn) error {
			if c == nil || c.RoomName == "" {
				return nil
			}
			r := g.Find(c.RoomName)
			if r == nil {
				return nil
			}
			fn(ctx, r, c, ev)
			return nil
		}
	}

	msg := func(ev dispatch.Event) proto.Message {
		return ev.(dispatch.MessageEvent).Msg
	}

	d.SetTerminal(dispatch.CTOSKind(proto.CTOSUpdateDeck),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleUpdateDeck(ctx, c, msg(ev).(*proto.UpdateDeck))
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSHandResult),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleHandResult(ctx, c, msg(ev).(*proto.HandResult).Res)
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSTpResult),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleTpResult(ctx, c, msg(ev).(*proto.TpResult).Res)
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSSurrender),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleSurrender(ctx, c)
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSChat),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleChat(ctx, c, msg(ev).(*proto.ChatToServer).Msg)
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSHsToDuelist),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleToDuelist(ctx, c)
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSHsToObserver),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleToObserver(ctx, c)
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSHsReady),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleReady(ctx, c)
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSHsNotReady),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleNotReady(ctx, c)
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSHsKick),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleKick(ctx, c, int(msg(ev).(*proto.HsKick).Pos))
		}))
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSHsStart),
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleStart(ctx, c)
		}))
	d.SetTerminal(dispatch.KindDisconnect,
		inRoom(func(ctx context.Context, r *Room, c *conn.Conn, ev dispatch.Event) {
			r.handleDisconnect(ctx, c)
		}))
}
