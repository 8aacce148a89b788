// Package conn is the transport-independent connection abstraction. A Conn
// owns one peer: it decodes the inbound byte stream into protocol messages,
// fans them out to any number of listeners without consuming them from each
// other, and models disconnection as a one-shot terminal event.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moecube/duelrelay/internal/deck"
	"github.com/moecube/duelrelay/internal/i18n"
	"github.com/moecube/duelrelay/internal/proto"
)

// DefaultWaitTimeout bounds WaitForMessage when the caller passes no
// explicit timeout.
const DefaultWaitTimeout = 5 * time.Second

// ErrWaitTimeout is returned by WaitForMessage when no matching message
// arrived in time.
var ErrWaitTimeout = eris.New("timed out waiting for message")

// ErrClosed is returned by WaitForMessage when the connection dropped
// before a matching message arrived.
var ErrClosed = eris.New("connection closed")

// Transport is the raw byte pipe under a Conn. Stream transports deliver
// arbitrarily chunked bytes; message transports deliver whole frames — the
// decoder handles both the same way.
type Transport interface {
	// Write transmits data. Called from multiple goroutines.
	Write(data []byte) error
	// ReadChunk blocks for the next inbound chunk. It returns an error
	// once the transport is closed.
	ReadChunk() ([]byte, error)
	Close() error
	// RemoteIP is the socket-level peer address.
	RemoteIP() string
	// ForwardedIP is the proxy-reported client address, or "" when the
	// immediate peer is not a trusted proxy.
	ForwardedIP() string
	// Stream reports whether this is the stream (TCP) transport. Only
	// stream peers may override their IP with an in-band report.
	Stream() bool
}

// Options configures a Conn.
type Options struct {
	Logger     zerolog.Logger
	Translator i18n.Translator

	// Inbound message rate limit. Zero disables limiting.
	MessagesPerSecond rate.Limit
	Burst             int

	MaxFrameBytes  int
	MaxBufferBytes int
}

// Conn is one connected peer.
type Conn struct {
	id  string
	tr  Transport
	log zerolog.Logger
	tls i18n.Translator

	limiter *rate.Limiter
	decCfg  proto.DecoderConfig

	recvOnce sync.Once

	subsMu sync.Mutex
	subs   []*subscriber

	closeOnce sync.Once
	done      chan struct{}

	wmu sync.Mutex

	// Identity and session state. Written by the intake handler and the
	// owning room; the room's lock serializes the room-owned fields.
	IP         string
	Locale     string
	Name       string
	VPass      string
	NameVPass  string
	RoomName   string
	Pos        int
	IsHost     bool
	IsInternal bool

	// Duel-transient state owned by the room.
	Deck      *deck.Deck
	StartDeck *deck.Deck
}

type subscriber struct {
	ch   chan proto.Message
	done chan struct{}
}

// New wraps a transport. The decode pipeline starts lazily on the first
// Subscribe or WaitForMessage call.
func New(tr Transport, opts Options) *Conn {
	c := &Conn{
		id:     uuid.New().String(),
		tr:     tr,
		tls:    opts.Translator,
		done:   make(chan struct{}),
		Locale: i18n.DefaultLocale,
		decCfg: proto.DecoderConfig{
			MaxFrameBytes:  opts.MaxFrameBytes,
			MaxBufferBytes: opts.MaxBufferBytes,
		},
	}
	c.log = opts.Logger.With().Str("conn", c.id).Str("ip", tr.RemoteIP()).Logger()
	if opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(opts.MessagesPerSecond, opts.Burst)
	}
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// PhysicalIP is the transport-resolved peer address, before any in-band or
// proxy override.
func (c *Conn) PhysicalIP() string { return c.tr.RemoteIP() }

// ForwardedIP exposes the transport's trusted proxy report.
func (c *Conn) ForwardedIP() string { return c.tr.ForwardedIP() }

// StreamTransport reports whether the peer is on the stream listener.
func (c *Conn) StreamTransport() bool { return c.tr.Stream() }

// LoggingIP is the best-known client address for log records.
func (c *Conn) LoggingIP() string {
	if c.IP != "" {
		return c.IP
	}
	if ip := c.tr.RemoteIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() zerolog.Logger { return c.log }

// Done is the one-shot disconnect notification: closed exactly once, no
// matter how many times or from which side the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Alive reports whether the connection has not yet disconnected.
func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Disconnect tears the connection down. Idempotent and safe to call from
// any goroutine; the first call closes the transport and fires Done.
func (c *Conn) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.tr.Close(); err != nil {
			c.log.Debug().Err(err).Msg("transport close")
		}
	})
}

// Send serializes and transmits msg. Delivery is at-most-once: failures are
// logged and swallowed, never surfaced to the caller.
func (c *Conn) Send(msg proto.Marshaler) {
	frame, err := proto.EncodeFrame(msg)
	if err != nil {
		c.log.Warn().Err(err).Uint8("opcode", msg.Opcode()).Msg("failed to encode message")
		return
	}
	if !c.Alive() {
		return
	}
	c.wmu.Lock()
	err = c.tr.Write(frame)
	c.wmu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Str("ip", c.LoggingIP()).Msg("failed to send message")
	}
}

// SendChat delivers a localized chat notice tinted with color.
func (c *Conn) SendChat(msg string, color uint16) {
	text := msg
	if c.tls != nil {
		text = c.tls.Translate(c.Locale, msg)
	}
	c.Send(&proto.ChatToClient{Player: color, Msg: text})
}

// Die is the uniform reject-and-close composite: an optional localized
// notice, the standardized terminal error, then disconnect. Every rejection
// path looks identical on the wire.
func (c *Conn) Die(msg string, color uint16) {
	if msg != "" {
		c.SendChat(msg, color)
	}
	c.Send(&proto.ErrorMsg{Msg: proto.ErrMsgJoinError, Code: proto.ErrorCodeDropped})
	c.Disconnect()
}

// start materializes the decode pipeline exactly once. All subscribers
// share it; the underlying sequence is hot, not replayable.
func (c *Conn) start() {
	c.recvOnce.Do(func() {
		go c.readLoop()
	})
}

func (c *Conn) readLoop() {
	defer func() {
		c.Disconnect()
		c.closeSubscribers()
	}()

	cfg := c.decCfg
	cfg.OnError = func(err error) {
		c.log.Warn().Err(err).Str("ip", c.LoggingIP()).Msg("protocol decode error")
	}
	dec := proto.NewDecoder(proto.CTOS, cfg)

	for {
		chunk, err := c.tr.ReadChunk()
		if err != nil {
			return
		}
		msgs, err := dec.Feed(chunk)
		if err != nil {
			// Buffer overflow corrupts the accumulation state and is
			// fatal for this connection.
			c.log.Error().Err(err).Str("ip", c.LoggingIP()).Msg("inbound buffer overflow")
			return
		}
		for _, msg := range msgs {
			if c.limiter != nil && !c.limiter.Allow() {
				c.log.Warn().Str("ip", c.LoggingIP()).Msg("message rate limit exceeded")
				return
			}
			c.publish(msg)
		}
	}
}

func (c *Conn) publish(msg proto.Message) {
	c.subsMu.Lock()
	subs := make([]*subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subsMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) closeSubscribers() {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subsMu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}

// Subscribe attaches a listener to the shared decoded-message sequence.
// Every subscriber observes every message from the point of subscription;
// the returned cancel detaches without affecting other subscribers. The
// channel closes when the connection ends.
func (c *Conn) Subscribe() (<-chan proto.Message, func()) {
	sub := &subscriber{
		ch:   make(chan proto.Message, 16),
		done: make(chan struct{}),
	}

	c.subsMu.Lock()
	closed := !c.Alive() && c.subs == nil
	if !closed {
		c.subs = append(c.subs, sub)
	}
	c.subsMu.Unlock()
	if closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	c.start()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(sub.done)
			c.subsMu.Lock()
			for i, s := range c.subs {
				if s == sub {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					break
				}
			}
			c.subsMu.Unlock()
		})
	}
	return sub.ch, cancel
}

// WaitForMessage blocks until the next message whose opcode is in opcodes
// arrives, the timeout elapses (ErrWaitTimeout), or the connection closes
// (ErrClosed). Non-matching messages are left for other listeners.
func (c *Conn) WaitForMessage(ctx context.Context, timeout time.Duration, opcodes ...uint8) (proto.Message, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	ch, cancel := c.Subscribe()
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil, eris.Wrapf(ErrClosed, "ip %s", c.LoggingIP())
			}
			for _, op := range opcodes {
				if msg.Opcode() == op {
					return msg, nil
				}
			}
		case <-timer.C:
			return nil, eris.Wrapf(ErrWaitTimeout, "after %s (ip %s)", timeout, c.LoggingIP())
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
