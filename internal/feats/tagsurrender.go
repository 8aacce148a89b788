package feats

import (
	"context"
	"sync"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/proto"
	"github.com/moecube/duelrelay/internal/room"
)

// TagSurrender makes surrendering in a tag duel a team decision: the first
// teammate's request is held, both halves of the team are notified, and
// only a matching request (or the waiting teammate dropping out) lets the
// surrender through.
type TagSurrender struct {
	registry *room.Registry

	mu      sync.Mutex
	pending map[string]map[int]bool // room name -> requesting seats
}

// NewTagSurrender builds the feature against the room registry.
func NewTagSurrender(registry *room.Registry) *TagSurrender {
	return &TagSurrender{
		registry: registry,
		pending:  make(map[string]map[int]bool),
	}
}

// Register hooks the surrender path plus the events that expire requests.
func (f *TagSurrender) Register(d *dispatch.Dispatcher) {
	d.HandleBefore(dispatch.CTOSKind(proto.CTOSSurrender), f.onSurrender)
	d.Handle(room.KindGameMsg, f.onGameMsg)
	d.Handle(room.KindFinalize, f.onFinalize)
	d.HandleBefore(dispatch.KindDisconnect, f.onDisconnect)
}

// duelingPair resolves the sender's room and teammate when a pact can
// apply: a tag room in the dueling stage. Observers have no teammate.
func (f *TagSurrender) duelingPair(c *conn.Conn) (*room.Room, *conn.Conn) {
	if c == nil || c.RoomName == "" {
		return nil, nil
	}
	r := f.registry.Find(c.RoomName)
	if r == nil || !r.IsTag() || r.CurrentStage() != room.StageDueling {
		return nil, nil
	}
	return r, r.Teammate(c)
}

func (f *TagSurrender) onSurrender(_ context.Context, _ dispatch.Event, c *conn.Conn, next func() error) error {
	r, teammate := f.duelingPair(c)
	if r == nil || c.Pos == room.PosObserver {
		return next()
	}
	if c.IsInternal {
		// Server-driven surrenders are always immediate.
		return next()
	}
	if teammate == nil || teammate.IsInternal || !teammate.Alive() {
		// Nobody to ask: any held request is moot.
		f.clear(r.Name())
		return next()
	}

	f.mu.Lock()
	seats := f.pending[r.Name()]
	if seats[c.Pos] {
		f.mu.Unlock()
		// Duplicate request while already waiting on the partner.
		return nil
	}
	if seats[teammate.Pos] {
		delete(f.pending, r.Name())
		f.mu.Unlock()
		return next()
	}
	if seats == nil {
		seats = make(map[int]bool)
		f.pending[r.Name()] = seats
	}
	seats[c.Pos] = true
	f.mu.Unlock()

	// Both halves of the team see the held request.
	c.Send(&proto.TeammateSurrender{})
	teammate.Send(&proto.TeammateSurrender{})
	return nil
}

// onGameMsg expires held requests when the first team's turn comes around
// again: a surrender pact must be completed before play returns to the
// proposing side.
func (f *TagSurrender) onGameMsg(_ context.Context, ev dispatch.Event, _ *conn.Conn, next func() error) error {
	gm := ev.(room.GameMsgEvent)
	if gm.Room.IsTag() && len(gm.Data) >= 2 &&
		gm.Data[0] == proto.GameMsgNewTurn && gm.Data[1]&0x2 == 0 {
		f.clear(gm.Room.Name())
	}
	return next()
}

func (f *TagSurrender) onFinalize(_ context.Context, ev dispatch.Event, _ *conn.Conn, next func() error) error {
	f.clear(ev.(room.FinalizeEvent).Room.Name())
	return next()
}

// onDisconnect resolves a held request against the leaver: the waiting
// teammate dropping out confirms the partner's surrender, while the
// requester dropping out voids it.
func (f *TagSurrender) onDisconnect(ctx context.Context, _ dispatch.Event, c *conn.Conn, next func() error) error {
	r, teammate := f.duelingPair(c)
	if r == nil {
		return next()
	}

	f.mu.Lock()
	seats := f.pending[r.Name()]
	confirmed := teammate != nil && seats[teammate.Pos] && !seats[c.Pos]
	if confirmed || seats[c.Pos] {
		delete(f.pending, r.Name())
	}
	f.mu.Unlock()

	if confirmed {
		r.Win(ctx, 1-r.DuelPos(teammate.Pos), 0x0, false)
	}
	return next()
}

func (f *TagSurrender) clear(name string) {
	f.mu.Lock()
	delete(f.pending, name)
	f.mu.Unlock()
}
