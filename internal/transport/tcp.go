package transport

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

const tcpChunkSize = 4096

// TCPServer accepts native duel clients speaking the frame protocol
// directly over a socket.
type TCPServer struct {
	addr   string
	accept AcceptFn
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
	ln      net.Listener
	conns   sync.Map // net.Conn -> struct{}
}

// NewTCPServer builds a listener for addr. Nothing listens until Start.
func NewTCPServer(addr string, accept AcceptFn, log zerolog.Logger) *TCPServer {
	return &TCPServer{addr: addr, accept: accept, log: log}
}

// Start binds the listener and serves accepts until Stop.
func (s *TCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.running = true
	s.ln = ln
	s.mu.Unlock()

	s.log.Info().Str("addr", s.addr).Msg("tcp listener up")
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the bound listener address, useful when the configured
// port was 0.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and every open connection.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.conns.Range(func(key, _ interface{}) bool {
		key.(net.Conn).Close()
		return true
	})
	return err
}

func (s *TCPServer) acceptLoop(ctx context.Context) {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("tcp accept failed")
			}
			return
		}
		s.conns.Store(nc, struct{}{})
		s.accept(&tcpTransport{nc: nc, onClose: func() { s.conns.Delete(nc) }})
	}
}

// tcpTransport adapts a net.Conn. Chunk boundaries carry no meaning; the
// frame decoder reassembles.
type tcpTransport struct {
	nc      net.Conn
	onClose func()

	closeOnce sync.Once
}

func (t *tcpTransport) Write(data []byte) error {
	_, err := t.nc.Write(data)
	return err
}

func (t *tcpTransport) ReadChunk() ([]byte, error) {
	buf := make([]byte, tcpChunkSize)
	n, err := t.nc.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

func (t *tcpTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.nc.Close()
		if t.onClose != nil {
			t.onClose()
		}
	})
	return err
}

func (t *tcpTransport) RemoteIP() string { return hostOf(t.nc.RemoteAddr().String()) }

// ForwardedIP is always empty for raw sockets: there is no proxy header to
// read. Native clients report their address in-band instead.
func (t *tcpTransport) ForwardedIP() string { return "" }

func (t *tcpTransport) Stream() bool { return true }
