package dispatch

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/proto"
)

func dispatchSurrender(t *testing.T, d *Dispatcher) error {
	t.Helper()
	return d.Dispatch(context.Background(), MessageEvent{Msg: &proto.Surrender{}}, nil)
}

func TestHandlersRunInPriorityThenRegistrationOrder(t *testing.T) {
	t.Parallel()

	d := New()
	kind := CTOSKind(proto.CTOSSurrender)
	var order []string
	record := func(name string) Handler {
		return func(_ context.Context, _ Event, _ *conn.Conn, next func() error) error {
			order = append(order, name)
			return next()
		}
	}

	d.Handle(kind, record("normal-1"))
	d.HandleAfter(kind, record("after-1"))
	d.HandleBefore(kind, record("before-1"))
	d.Handle(kind, record("normal-2"))
	d.HandleBefore(kind, record("before-2"))
	d.SetTerminal(kind, func(context.Context, Event, *conn.Conn) error {
		order = append(order, "terminal")
		return nil
	})

	require.NoError(t, dispatchSurrender(t, d))
	assert.Equal(t,
		[]string{"before-1", "before-2", "normal-1", "normal-2", "after-1", "terminal"},
		order)
}

func TestHandlerConsumesByNotCallingNext(t *testing.T) {
	t.Parallel()

	d := New()
	kind := CTOSKind(proto.CTOSSurrender)
	var reachedNormal, reachedTerminal bool

	d.HandleBefore(kind, func(_ context.Context, _ Event, _ *conn.Conn, _ func() error) error {
		return nil // consume
	})
	d.Handle(kind, func(_ context.Context, _ Event, _ *conn.Conn, next func() error) error {
		reachedNormal = true
		return next()
	})
	d.SetTerminal(kind, func(context.Context, Event, *conn.Conn) error {
		reachedTerminal = true
		return nil
	})

	require.NoError(t, dispatchSurrender(t, d))
	assert.False(t, reachedNormal)
	assert.False(t, reachedTerminal)
}

func TestHandlerErrorsPropagateToCaller(t *testing.T) {
	t.Parallel()

	d := New()
	kind := CTOSKind(proto.CTOSSurrender)
	boom := eris.New("feature bug")
	var afterRan bool

	d.Handle(kind, func(_ context.Context, _ Event, _ *conn.Conn, _ func() error) error {
		return boom
	})
	d.HandleAfter(kind, func(_ context.Context, _ Event, _ *conn.Conn, next func() error) error {
		afterRan = true
		return next()
	})

	err := dispatchSurrender(t, d)
	require.ErrorIs(t, err, boom)
	assert.False(t, afterRan, "error must abort the rest of the chain")
}

func TestUnhandledKindIsNoop(t *testing.T) {
	t.Parallel()

	d := New()
	require.NoError(t, d.Dispatch(context.Background(), DisconnectEvent{}, nil))
}

func TestMessageEventKindTracksOpcode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CTOSKind(proto.CTOSJoinGame), MessageEvent{Msg: &proto.JoinGame{}}.EventKind())
	assert.NotEqual(t,
		MessageEvent{Msg: &proto.JoinGame{}}.EventKind(),
		MessageEvent{Msg: &proto.Surrender{}}.EventKind())
}

func TestSetTerminalTwicePanics(t *testing.T) {
	t.Parallel()

	d := New()
	kind := CTOSKind(proto.CTOSChat)
	d.SetTerminal(kind, func(context.Context, Event, *conn.Conn) error { return nil })
	assert.Panics(t, func() {
		d.SetTerminal(kind, func(context.Context, Event, *conn.Conn) error { return nil })
	})
}
