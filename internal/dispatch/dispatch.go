// Package dispatch is the ordered middleware bus every protocol message and
// room lifecycle event flows through. Features observe or veto events by
// registering handlers against an event kind; the room state machine never
// knows they exist.
//
// Handlers for one event run strictly one after another. A handler either
// calls next() to continue the chain — ending at the kind's terminal action,
// if any — or returns without calling it to consume the event.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/proto"
)

// Kind identifies an event type on the bus.
type Kind string

// CTOSKind is the bus kind of a decoded client message.
func CTOSKind(op uint8) Kind {
	return Kind(fmt.Sprintf("ctos/%#02x", op))
}

// Event is anything dispatchable, tagged with its originating connection.
type Event interface {
	EventKind() Kind
}

// MessageEvent wraps a decoded protocol message for dispatch.
type MessageEvent struct {
	Msg proto.Message
}

func (e MessageEvent) EventKind() Kind { return CTOSKind(e.Msg.Opcode()) }

// DisconnectEvent is the synthetic event dispatched when a connection's
// terminal disconnect fires, so features and rooms can clean up through
// the same pipeline as real messages.
type DisconnectEvent struct{}

// KindDisconnect is DisconnectEvent's bus kind.
const KindDisconnect Kind = "conn/disconnect"

func (DisconnectEvent) EventKind() Kind { return KindDisconnect }

// Handler processes one event. Call next to pass the event on; return
// without calling it to consume the event. Errors propagate to the
// Dispatch caller.
type Handler func(ctx context.Context, ev Event, c *conn.Conn, next func() error) error

// Terminal is the default action at the end of a kind's chain.
type Terminal func(ctx context.Context, ev Event, c *conn.Conn) error

type priority int

const (
	priBefore priority = iota
	priNormal
	priAfter
)

type registration struct {
	pri priority
	seq int
	h   Handler
}

// Dispatcher routes events through per-kind handler chains.
type Dispatcher struct {
	mu        sync.RWMutex
	chains    map[Kind][]registration
	terminals map[Kind]Terminal
	seq       int
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		chains:    make(map[Kind][]registration),
		terminals: make(map[Kind]Terminal),
	}
}

func (d *Dispatcher) register(kind Kind, pri priority, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	regs := append(d.chains[kind], registration{pri: pri, seq: d.seq, h: h})
	// Stable order: priority bucket first, registration order within it.
	for i := len(regs) - 1; i > 0; i-- {
		if regs[i-1].pri <= regs[i].pri {
			break
		}
		regs[i-1], regs[i] = regs[i], regs[i-1]
	}
	d.chains[kind] = regs
}

// Handle registers h at default priority.
func (d *Dispatcher) Handle(kind Kind, h Handler) { d.register(kind, priNormal, h) }

// HandleBefore registers h ahead of all default-priority handlers.
func (d *Dispatcher) HandleBefore(kind Kind, h Handler) { d.register(kind, priBefore, h) }

// HandleAfter registers h behind all default-priority handlers.
func (d *Dispatcher) HandleAfter(kind Kind, h Handler) { d.register(kind, priAfter, h) }

// SetTerminal installs the default action that runs when every handler in
// the chain called next. At most one terminal per kind.
func (d *Dispatcher) SetTerminal(kind Kind, t Terminal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.terminals[kind]; dup {
		panic(fmt.Sprintf("terminal for %q registered twice", kind))
	}
	d.terminals[kind] = t
}

// Dispatch pushes ev through its kind's chain, tagged with the originating
// connection. Handler errors are not swallowed: the first error aborts the
// chain and returns to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, c *conn.Conn) error {
	kind := ev.EventKind()

	d.mu.RLock()
	regs := d.chains[kind]
	chain := make([]Handler, len(regs))
	for i, r := range regs {
		chain[i] = r.h
	}
	terminal := d.terminals[kind]
	d.mu.RUnlock()

	var run func(i int) error
	run = func(i int) error {
		if i < len(chain) {
			return chain[i](ctx, ev, c, func() error { return run(i + 1) })
		}
		if terminal != nil {
			return terminal(ctx, ev, c)
		}
		return nil
	}
	return run(0)
}
