package conn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moecube/duelrelay/internal/proto"
)

// fakeTransport feeds scripted chunks to the read loop and records writes.
type fakeTransport struct {
	mu     sync.Mutex
	chunks chan []byte
	writes [][]byte
	closed bool
	werr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{chunks: make(chan []byte, 64)}
}

func (f *fakeTransport) push(t *testing.T, msg proto.Marshaler) {
	t.Helper()
	frame, err := proto.EncodeFrame(msg)
	require.NoError(t, err)
	f.chunks <- frame
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.werr != nil {
		return f.werr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) ReadChunk() ([]byte, error) {
	chunk, ok := <-f.chunks
	if !ok {
		return nil, eris.New("transport closed")
	}
	return chunk, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.chunks)
	}
	return nil
}

func (f *fakeTransport) RemoteIP() string    { return "192.0.2.1" }
func (f *fakeTransport) ForwardedIP() string { return "" }
func (f *fakeTransport) Stream() bool        { return true }

func newTestConn(tr Transport) *Conn {
	return New(tr, Options{Logger: zerolog.Nop()})
}

func TestWaitForMessageTimeout(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestConn(tr)
	defer c.Disconnect()

	start := time.Now()
	_, err := c.WaitForMessage(context.Background(), 50*time.Millisecond, proto.CTOSPlayerInfo)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestWaitForMessageMatchesType(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestConn(tr)
	defer c.Disconnect()

	tr.push(t, &proto.HsReady{})
	tr.push(t, &proto.PlayerInfo{Name: "alice$pass"})

	msg, err := c.WaitForMessage(context.Background(), time.Second, proto.CTOSPlayerInfo)
	require.NoError(t, err)
	pi, ok := msg.(*proto.PlayerInfo)
	require.True(t, ok)
	assert.Equal(t, "alice$pass", pi.Name)
}

// Two concurrent waiters must both observe the same message; the shared
// sequence is broadcast, not a consuming queue.
func TestReceiveIsBroadcast(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestConn(tr)
	defer c.Disconnect()

	type result struct {
		msg proto.Message
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			msg, err := c.WaitForMessage(context.Background(), time.Second, proto.CTOSSurrender)
			results <- result{msg, err}
		}()
	}

	// Let both waiters subscribe before the message arrives.
	time.Sleep(20 * time.Millisecond)
	tr.push(t, &proto.Surrender{})

	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(t, res.err)
		assert.IsType(t, &proto.Surrender{}, res.msg)
	}
}

func TestDisconnectIsIdempotentOneShot(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestConn(tr)

	fired := make(chan struct{})
	go func() {
		<-c.Done()
		close(fired)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect()
		}()
	}
	wg.Wait()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("disconnect notification never fired")
	}
	assert.False(t, c.Alive())

	// Observers attaching after the fact see the same fired signal.
	select {
	case <-c.Done():
	default:
		t.Fatal("Done did not stay fired")
	}
}

func TestPendingWaitAbandonedOnDisconnect(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestConn(tr)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.WaitForMessage(context.Background(), time.Minute, proto.CTOSChat)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Disconnect()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter leaked past disconnect")
	}
}

func TestSendSwallowsTransportErrors(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.werr = eris.New("broken pipe")
	c := newTestConn(tr)
	defer c.Disconnect()

	// Must not panic or surface the error.
	c.Send(&proto.DuelStart{})
	assert.True(t, c.Alive())
}

func TestDieSendsNoticeThenErrorThenDisconnects(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestConn(tr)

	c.Die("#{update_required}", proto.ChatColorRed)

	assert.False(t, c.Alive())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.writes, 2)

	chat, err := proto.STOC.Decode(tr.writes[0][2:])
	require.NoError(t, err)
	assert.Equal(t, proto.ChatColorRed, chat.(*proto.ChatToClient).Player)

	errMsg, err := proto.STOC.Decode(tr.writes[1][2:])
	require.NoError(t, err)
	assert.Equal(t, proto.ErrMsgJoinError, errMsg.(*proto.ErrorMsg).Msg)
}

func TestDecodeErrorDoesNotKillConnection(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestConn(tr)
	defer c.Disconnect()

	// Unknown opcode frame, then a healthy one.
	tr.chunks <- []byte{0x01, 0x00, 0xEE}
	tr.push(t, &proto.HsStart{})

	msg, err := c.WaitForMessage(context.Background(), time.Second, proto.CTOSHsStart)
	require.NoError(t, err)
	assert.IsType(t, &proto.HsStart{}, msg)
}
