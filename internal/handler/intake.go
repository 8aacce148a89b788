// Package handler owns the path from an accepted transport to a seated
// room member: identification, address reporting, join routing, and the
// per-connection pump that feeds the dispatch bus.
package handler

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/proto"
	"github.com/moecube/duelrelay/internal/room"
)

// Intake wires accepted transports into the dispatch pipeline.
type Intake struct {
	dispatcher *dispatch.Dispatcher
	registry   *room.Registry
	opts       conn.Options
	log        zerolog.Logger

	// Zero means conn.DefaultWaitTimeout.
	handshakeTimeout time.Duration
}

// NewIntake builds the intake and installs the join terminal on the bus.
func NewIntake(d *dispatch.Dispatcher, reg *room.Registry, opts conn.Options, log zerolog.Logger) *Intake {
	i := &Intake{dispatcher: d, registry: reg, opts: opts, log: log}
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSJoinGame), i.joinGame)
	return i
}

// Accept adopts a transport. Safe to pass as the listeners' accept
// callback: the per-connection work runs in its own goroutine.
func (i *Intake) Accept(tr conn.Transport) {
	c := conn.New(tr, i.opts)
	if fwd := tr.ForwardedIP(); fwd != "" {
		c.IP = fwd
	} else {
		c.IP = tr.RemoteIP()
	}
	go i.pump(c)
}

// pump runs the identification handshake, then feeds every inbound message
// through the bus until the connection ends, finishing with the terminal
// disconnect event. The pump's own subscription is opened before the
// handshake so messages the client sends right behind its identity are
// buffered, not lost.
func (i *Intake) pump(c *conn.Conn) {
	ctx := context.Background()
	ch, cancel := c.Subscribe()
	defer cancel()

	if !i.handshake(ctx, c) {
		i.finish(ctx, c)
		return
	}

	log := c.Logger()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				i.finish(ctx, c)
				return
			}
			switch msg.(type) {
			case *proto.PlayerInfo, *proto.ExternalAddress:
				// Identity is settled during the handshake; repeats are
				// ignored.
			default:
				if err := i.dispatcher.Dispatch(ctx, dispatch.MessageEvent{Msg: msg}, c); err != nil {
					log.Warn().Err(err).Uint8("opcode", msg.Opcode()).
						Msg("message handler failed")
				}
			}
		case <-c.Done():
			i.finish(ctx, c)
			return
		}
	}
}

// handshake runs the exchange every session opens with: an optional in-band
// address report, then the player identity. A client that fails to identify
// in time is rejected and dropped.
func (i *Intake) handshake(ctx context.Context, c *conn.Conn) bool {
	msg, err := c.WaitForMessage(ctx, i.handshakeTimeout,
		proto.CTOSPlayerInfo, proto.CTOSExternalAddress)
	if err != nil {
		return i.rejectHandshake(c, err)
	}
	if ea, ok := msg.(*proto.ExternalAddress); ok {
		i.reportAddress(c, ea)
		if msg, err = c.WaitForMessage(ctx, i.handshakeTimeout, proto.CTOSPlayerInfo); err != nil {
			return i.rejectHandshake(c, err)
		}
	}
	i.identify(c, msg.(*proto.PlayerInfo))
	return true
}

func (i *Intake) rejectHandshake(c *conn.Conn, err error) bool {
	if eris.Is(err, conn.ErrWaitTimeout) {
		log := c.Logger()
		log.Debug().Str("ip", c.LoggingIP()).Msg("client never identified")
		c.Die("#{bad_user_name}", proto.ChatColorRed)
	}
	return false
}

func (i *Intake) finish(ctx context.Context, c *conn.Conn) {
	if err := i.dispatcher.Dispatch(ctx, dispatch.DisconnectEvent{}, c); err != nil {
		log := c.Logger()
		log.Warn().Err(err).Msg("disconnect handler failed")
	}
	c.Disconnect()
}

// identify records the client identity. The wire name may carry a visitor
// password after a '$'; both halves are kept, plus the raw combination for
// duplicate detection.
func (i *Intake) identify(c *conn.Conn, m *proto.PlayerInfo) {
	c.NameVPass = m.Name
	name, vpass, found := strings.Cut(m.Name, "$")
	c.Name = name
	if found {
		c.VPass = vpass
	}
}

// reportAddress accepts an in-band client address. Only stream peers may
// use it, and a proxy-reported address always wins over the in-band one.
// The handshake only listens for it ahead of PlayerInfo, so a report sent
// after identification is never honored.
func (i *Intake) reportAddress(c *conn.Conn, m *proto.ExternalAddress) {
	if !c.StreamTransport() || c.ForwardedIP() != "" || m.IP == 0 {
		return
	}
	c.IP = m.IPString()
}

// joinGame is the bus terminal for the join request: it resolves the named
// room, guards against identity collisions, and seats the connection.
func (i *Intake) joinGame(ctx context.Context, ev dispatch.Event, c *conn.Conn) error {
	msg := ev.(dispatch.MessageEvent).Msg.(*proto.JoinGame)

	if c.Name == "" {
		c.Die("#{bad_user_name}", proto.ChatColorRed)
		return nil
	}
	if c.RoomName != "" {
		// Already seated; a second join is a client bug.
		return nil
	}
	name := strings.TrimSpace(msg.Pass)
	if name == "" {
		c.Die("#{bad_room_name}", proto.ChatColorRed)
		return nil
	}

	r, err := i.registry.FindOrCreate(ctx, name)
	if err != nil {
		c.Die("#{create_room_failed}", proto.ChatColorRed)
		return err
	}
	for _, p := range r.Seated() {
		if p.NameVPass == c.NameVPass {
			c.Die("#{username_occupied}", proto.ChatColorRed)
			return nil
		}
	}

	i.log.Info().Str("name", c.Name).Str("ip", c.LoggingIP()).
		Str("room", name).Msg("client joining room")
	r.Join(ctx, c)
	return nil
}
