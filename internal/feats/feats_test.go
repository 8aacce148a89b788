package feats

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/deck"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/proto"
	"github.com/moecube/duelrelay/internal/room"
)

type stubTransport struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
	chunks chan []byte
}

func newStubTransport() *stubTransport {
	return &stubTransport{chunks: make(chan []byte, 16)}
}

func (s *stubTransport) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *stubTransport) ReadChunk() ([]byte, error) {
	chunk, ok := <-s.chunks
	if !ok {
		return nil, eris.New("transport closed")
	}
	return chunk, nil
}

func (s *stubTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

func (s *stubTransport) RemoteIP() string    { return "192.0.2.9" }
func (s *stubTransport) ForwardedIP() string { return "" }
func (s *stubTransport) Stream() bool        { return true }

func (s *stubTransport) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubTransport) countOpcode(t *testing.T, op uint8) int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.writes {
		require.GreaterOrEqual(t, len(w), 3)
		msg, err := proto.STOC.Decode(w[2:])
		require.NoError(t, err)
		if msg.Opcode() == op {
			n++
		}
	}
	return n
}

func newClient(name string) (*conn.Conn, *stubTransport) {
	tr := newStubTransport()
	c := conn.New(tr, conn.Options{Logger: zerolog.Nop()})
	c.Name = name
	return c, tr
}

func newRegistry(d *dispatch.Dispatcher) *room.Registry {
	return room.NewRegistry(room.Deps{
		Dispatcher: d,
		Reader:     deck.MapReader{},
		LFList:     deck.LFList{},
		Limits:     deck.Limits{MinMain: 3, MaxMain: 60, MaxExtra: 15, MaxSide: 15, MaxCopies: 3},
		Logger:     zerolog.Nop(),
	})
}

func send(t *testing.T, d *dispatch.Dispatcher, c *conn.Conn, msg proto.Message) {
	t.Helper()
	require.NoError(t, d.Dispatch(context.Background(), dispatch.MessageEvent{Msg: msg}, c))
}

func TestVersionCheckGate(t *testing.T) {
	d := dispatch.New()
	passed := 0
	d.SetTerminal(dispatch.CTOSKind(proto.CTOSJoinGame),
		func(context.Context, dispatch.Event, *conn.Conn) error {
			passed++
			return nil
		})
	NewVersionCheck(0x1353, 0x1348).Register(d)

	good, trGood := newClient("good")
	send(t, d, good, &proto.JoinGame{Version: 0x1353, Pass: "a"})
	assert.Equal(t, 1, passed)
	assert.False(t, trGood.isClosed())

	alt, _ := newClient("alt")
	send(t, d, alt, &proto.JoinGame{Version: 0x1348, Pass: "a"})
	assert.Equal(t, 2, passed)

	old, trOld := newClient("old")
	send(t, d, old, &proto.JoinGame{Version: 0x1340, Pass: "a"})
	assert.Equal(t, 2, passed, "outdated client must not reach the room")
	assert.True(t, trOld.isClosed())
	assert.Equal(t, 1, trOld.countOpcode(t, proto.STOCChat))
	assert.Equal(t, 1, trOld.countOpcode(t, proto.STOCErrorMsg))
}

func TestWelcomeGreetsJoiner(t *testing.T) {
	d := dispatch.New()
	NewWelcome("#{welcome}").Register(d)

	c, tr := newClient("guest")
	require.NoError(t, d.Dispatch(context.Background(), room.JoinEvent{}, c))
	assert.Equal(t, 1, tr.countOpcode(t, proto.STOCChat))

	d2 := dispatch.New()
	NewWelcome("").Register(d2)
	c2, tr2 := newClient("quiet")
	require.NoError(t, d2.Dispatch(context.Background(), room.JoinEvent{}, c2))
	assert.Equal(t, 0, tr2.countOpcode(t, proto.STOCChat))
}

// tagTable drives a four-seat room into an active game through the routed
// dispatcher, the same path production traffic takes.
func tagTable(t *testing.T, d *dispatch.Dispatcher, reg *room.Registry, name string) (*room.Room, []*conn.Conn, []*stubTransport) {
	t.Helper()
	ctx := context.Background()
	r, err := reg.FindOrCreate(ctx, name)
	require.NoError(t, err)

	clients := make([]*conn.Conn, 4)
	transports := make([]*stubTransport, 4)
	for i := range clients {
		clients[i], transports[i] = newClient(string(rune('a' + i)))
		r.Join(ctx, clients[i])
	}
	for _, c := range clients {
		send(t, d, c, &proto.UpdateDeck{Main: []uint32{101, 102, 103}})
	}
	send(t, d, clients[0], &proto.HsStart{})
	require.Equal(t, room.StageFinger, r.CurrentStage())

	// Seats 0 and 2 lead their teams; team one wins the toss and gives
	// team zero the first turn.
	send(t, d, clients[0], &proto.HandResult{Res: room.HandScissors})
	send(t, d, clients[2], &proto.HandResult{Res: room.HandRock})
	require.Equal(t, room.StageFirstGo, r.CurrentStage())
	send(t, d, clients[2], &proto.TpResult{Res: 0})
	require.Equal(t, room.StageDueling, r.CurrentStage())
	return r, clients, transports
}

func TestTagSurrenderNeedsTeammate(t *testing.T) {
	d := dispatch.New()
	reg := newRegistry(d)
	room.RegisterRoutes(d, reg)
	NewTagSurrender(reg).Register(d)

	r, clients, transports := tagTable(t, d, reg, "T#pact")

	// One request alone holds: both halves of the team see it, the duel
	// goes on.
	send(t, d, clients[0], &proto.Surrender{})
	assert.Equal(t, room.StageDueling, r.CurrentStage())
	assert.Equal(t, 1, transports[0].countOpcode(t, proto.STOCTeammateSurrender))
	assert.Equal(t, 1, transports[1].countOpcode(t, proto.STOCTeammateSurrender))

	// The partner agreeing completes the surrender; a tag duel is a
	// single-game match, so the room ends and unregisters.
	send(t, d, clients[1], &proto.Surrender{})
	assert.Equal(t, room.StageEnd, r.CurrentStage())
	assert.Equal(t, [2]int{0, 1}, r.Score())
	assert.Nil(t, reg.Find("T#pact"))
}

func TestTagSurrenderDuplicateRequestHeld(t *testing.T) {
	d := dispatch.New()
	reg := newRegistry(d)
	room.RegisterRoutes(d, reg)
	NewTagSurrender(reg).Register(d)

	r, clients, transports := tagTable(t, d, reg, "T#twice")

	// Asking twice while the partner deliberates changes nothing.
	send(t, d, clients[0], &proto.Surrender{})
	send(t, d, clients[0], &proto.Surrender{})
	assert.Equal(t, room.StageDueling, r.CurrentStage())
	assert.Equal(t, 1, transports[1].countOpcode(t, proto.STOCTeammateSurrender))
}

func TestTagSurrenderWaiterDisconnectConfirms(t *testing.T) {
	d := dispatch.New()
	reg := newRegistry(d)
	room.RegisterRoutes(d, reg)
	NewTagSurrender(reg).Register(d)
	ctx := context.Background()

	r, clients, _ := tagTable(t, d, reg, "T#gone")

	send(t, d, clients[0], &proto.Surrender{})
	require.Equal(t, room.StageDueling, r.CurrentStage())

	// The teammate who was asked drops out instead of answering: the held
	// request stands confirmed and the opposing team takes the game.
	require.NoError(t, d.Dispatch(ctx, dispatch.DisconnectEvent{}, clients[1]))
	assert.Equal(t, room.StageEnd, r.CurrentStage())
	assert.Equal(t, [2]int{0, 1}, r.Score())
	assert.Nil(t, reg.Find("T#gone"))
}

func TestTagSurrenderInternalBypass(t *testing.T) {
	d := dispatch.New()
	reg := newRegistry(d)
	room.RegisterRoutes(d, reg)
	NewTagSurrender(reg).Register(d)

	r, clients, _ := tagTable(t, d, reg, "T#bot")
	clients[0].IsInternal = true

	// Server-driven seats concede without asking anyone.
	send(t, d, clients[0], &proto.Surrender{})
	assert.Equal(t, room.StageEnd, r.CurrentStage())
}

func TestTagSurrenderExpiresOnNewTurn(t *testing.T) {
	d := dispatch.New()
	reg := newRegistry(d)
	room.RegisterRoutes(d, reg)
	NewTagSurrender(reg).Register(d)

	r, clients, transports := tagTable(t, d, reg, "T#expire")

	send(t, d, clients[0], &proto.Surrender{})
	require.Equal(t, room.StageDueling, r.CurrentStage())
	require.Equal(t, 1, transports[0].countOpcode(t, proto.STOCTeammateSurrender))

	// Play returns to the first team before the partner answers: the pact
	// is void and the partner's own request starts a fresh one.
	r.RelayGameMessage(context.Background(), []byte{proto.GameMsgNewTurn, 0})
	send(t, d, clients[1], &proto.Surrender{})
	assert.Equal(t, room.StageDueling, r.CurrentStage())
	assert.Equal(t, 2, transports[0].countOpcode(t, proto.STOCTeammateSurrender))
	assert.Equal(t, 2, transports[1].countOpcode(t, proto.STOCTeammateSurrender))
}

func TestSingleRoomSurrenderUnaffected(t *testing.T) {
	d := dispatch.New()
	reg := newRegistry(d)
	room.RegisterRoutes(d, reg)
	NewTagSurrender(reg).Register(d)
	ctx := context.Background()

	r, err := reg.FindOrCreate(ctx, "S#solo")
	require.NoError(t, err)
	c1, _ := newClient("one")
	c2, _ := newClient("two")
	r.Join(ctx, c1)
	r.Join(ctx, c2)
	for _, c := range []*conn.Conn{c1, c2} {
		send(t, d, c, &proto.UpdateDeck{Main: []uint32{101, 102, 103}})
	}
	send(t, d, c1, &proto.HsStart{})
	send(t, d, c1, &proto.HandResult{Res: room.HandRock})
	send(t, d, c2, &proto.HandResult{Res: room.HandScissors})
	send(t, d, c1, &proto.TpResult{Res: proto.TpResultFirst})
	require.Equal(t, room.StageDueling, r.CurrentStage())

	// No teammate, no pact: the surrender goes straight through and the
	// single-game match ends.
	send(t, d, c1, &proto.Surrender{})
	assert.Equal(t, room.StageEnd, r.CurrentStage())
}
