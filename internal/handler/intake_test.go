package handler

import (
	"sync"
	"testing"
	"time"

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

type scriptTransport struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
	chunks chan []byte
	stream bool
}

func newScriptTransport() *scriptTransport {
	return &scriptTransport{chunks: make(chan []byte, 32), stream: true}
}

func (s *scriptTransport) push(t *testing.T, msg proto.Marshaler) {
	t.Helper()
	frame, err := proto.EncodeFrame(msg)
	require.NoError(t, err)
	s.chunks <- frame
}

func (s *scriptTransport) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *scriptTransport) ReadChunk() ([]byte, error) {
	chunk, ok := <-s.chunks
	if !ok {
		return nil, eris.New("transport closed")
	}
	return chunk, nil
}

func (s *scriptTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

func (s *scriptTransport) RemoteIP() string    { return "192.0.2.20" }
func (s *scriptTransport) ForwardedIP() string { return "" }
func (s *scriptTransport) Stream() bool        { return s.stream }

func (s *scriptTransport) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scriptTransport) hasOpcode(t *testing.T, op uint8) bool {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.writes {
		msg, err := proto.STOC.Decode(w[2:])
		require.NoError(t, err)
		if msg.Opcode() == op {
			return true
		}
	}
	return false
}

func newIntake(t *testing.T) (*Intake, *room.Registry) {
	t.Helper()
	d := dispatch.New()
	reg := room.NewRegistry(room.Deps{
		Dispatcher: d,
		Reader:     deck.MapReader{},
		LFList:     deck.LFList{},
		Limits:     deck.DefaultLimits(),
		Logger:     zerolog.Nop(),
	})
	room.RegisterRoutes(d, reg)
	return NewIntake(d, reg, conn.Options{Logger: zerolog.Nop()}, zerolog.Nop()), reg
}

func TestIntakeSeatsIdentifiedClient(t *testing.T) {
	intake, reg := newIntake(t)

	tr := newScriptTransport()
	intake.Accept(tr)
	tr.push(t, &proto.PlayerInfo{Name: "duelist$secret"})
	tr.push(t, &proto.JoinGame{Pass: "M#weekly"})

	require.Eventually(t, func() bool {
		r := reg.Find("M#weekly")
		return r != nil && len(r.Seated()) == 1
	}, time.Second, 5*time.Millisecond)

	r := reg.Find("M#weekly")
	c := r.Seated()[0]
	assert.Equal(t, "duelist", c.Name)
	assert.Equal(t, "secret", c.VPass)
	assert.Equal(t, "duelist$secret", c.NameVPass)
	assert.True(t, c.IsHost)
	assert.True(t, tr.hasOpcode(t, proto.STOCJoinGame))
}

func TestIntakeRejectsDuplicateIdentity(t *testing.T) {
	intake, reg := newIntake(t)

	tr1 := newScriptTransport()
	intake.Accept(tr1)
	tr1.push(t, &proto.PlayerInfo{Name: "same"})
	tr1.push(t, &proto.JoinGame{Pass: "S#dup"})
	require.Eventually(t, func() bool {
		r := reg.Find("S#dup")
		return r != nil && len(r.Seated()) == 1
	}, time.Second, 5*time.Millisecond)

	tr2 := newScriptTransport()
	intake.Accept(tr2)
	tr2.push(t, &proto.PlayerInfo{Name: "same"})
	tr2.push(t, &proto.JoinGame{Pass: "S#dup"})
	require.Eventually(t, tr2.isClosed, time.Second, 5*time.Millisecond)

	assert.True(t, tr2.hasOpcode(t, proto.STOCErrorMsg))
	assert.Len(t, reg.Find("S#dup").Seated(), 1)
}

func TestIntakeRequiresIdentityBeforeJoin(t *testing.T) {
	intake, reg := newIntake(t)
	intake.handshakeTimeout = 50 * time.Millisecond

	tr := newScriptTransport()
	intake.Accept(tr)
	tr.push(t, &proto.JoinGame{Pass: "S#anon"})

	require.Eventually(t, tr.isClosed, time.Second, 5*time.Millisecond)
	assert.True(t, tr.hasOpcode(t, proto.STOCErrorMsg))
	assert.Nil(t, reg.Find("S#anon"))
}

func TestIntakeDropsSilentClient(t *testing.T) {
	intake, _ := newIntake(t)
	intake.handshakeTimeout = 50 * time.Millisecond

	tr := newScriptTransport()
	intake.Accept(tr)

	require.Eventually(t, tr.isClosed, time.Second, 5*time.Millisecond)
	assert.True(t, tr.hasOpcode(t, proto.STOCErrorMsg))
}

func TestIntakeExternalAddress(t *testing.T) {
	intake, reg := newIntake(t)

	tr := newScriptTransport()
	intake.Accept(tr)
	tr.push(t, &proto.ExternalAddress{IP: 0x0100007F}) // 127.0.0.1 LE
	tr.push(t, &proto.PlayerInfo{Name: "reporter"})
	tr.push(t, &proto.JoinGame{Pass: "S#addr"})

	require.Eventually(t, func() bool {
		r := reg.Find("S#addr")
		return r != nil && len(r.Seated()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "127.0.0.1", reg.Find("S#addr").Seated()[0].IP)
}

func TestIntakeExternalAddressIgnoredAfterIdentity(t *testing.T) {
	intake, reg := newIntake(t)

	tr := newScriptTransport()
	intake.Accept(tr)
	tr.push(t, &proto.PlayerInfo{Name: "late"})
	tr.push(t, &proto.ExternalAddress{IP: 0x0100007F})
	tr.push(t, &proto.JoinGame{Pass: "S#late"})

	require.Eventually(t, func() bool {
		r := reg.Find("S#late")
		return r != nil && len(r.Seated()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "192.0.2.20", reg.Find("S#late").Seated()[0].IP)
}

func TestIntakeExternalAddressIgnoredOffStream(t *testing.T) {
	intake, reg := newIntake(t)

	tr := newScriptTransport()
	tr.stream = false
	intake.Accept(tr)
	tr.push(t, &proto.ExternalAddress{IP: 0x0100007F})
	tr.push(t, &proto.PlayerInfo{Name: "browser"})
	tr.push(t, &proto.JoinGame{Pass: "S#wsaddr"})

	require.Eventually(t, func() bool {
		r := reg.Find("S#wsaddr")
		return r != nil && len(r.Seated()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "192.0.2.20", reg.Find("S#wsaddr").Seated()[0].IP)
}
