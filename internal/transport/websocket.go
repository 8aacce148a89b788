package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const wsReadDeadline = 60 * time.Second

// WSConfig configures the WebSocket endpoint.
type WSConfig struct {
	Addr string
	// Path of the upgrade endpoint. Defaults to "/".
	Path string
	// CheckOrigin validates the browser origin. Nil allows every origin:
	// the duel protocol carries no ambient credentials.
	CheckOrigin func(r *http.Request) bool
	// Trust decides which peers' forwarded headers are believed.
	Trust *ProxyTrust
}

// WSServer accepts browser duel clients over WebSocket. Each binary
// message is one chunk; the frame decoder upstream does not care whether
// frames arrive whole or split.
type WSServer struct {
	cfg    WSConfig
	accept AcceptFn
	log    zerolog.Logger

	mu       sync.Mutex
	running  bool
	server   *http.Server
	upgrader websocket.Upgrader
	conns    sync.Map // *websocket.Conn -> struct{}
}

// NewWSServer builds the endpoint. Nothing listens until Start.
func NewWSServer(cfg WSConfig, accept AcceptFn, log zerolog.Logger) *WSServer {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WSServer{
		cfg:    cfg,
		accept: accept,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Start brings the HTTP server up and returns once it is accepting, or
// with the startup error.
func (s *WSServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	s.server = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.log.Info().Str("addr", s.cfg.Addr).Str("path", s.cfg.Path).Msg("websocket endpoint up")
		return nil
	}
}

// Stop shuts the HTTP server down and closes every open socket.
func (s *WSServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.conns.Range(func(key, _ interface{}) bool {
		key.(*websocket.Conn).Close()
		return true
	})

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	forwarded := ""
	if s.cfg.Trust.Trusted(r.RemoteAddr) {
		forwarded = ForwardedClient(r.Header.Get("X-Forwarded-For"))
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "failed to upgrade connection", http.StatusBadRequest)
		return
	}

	ws.SetReadDeadline(time.Now().Add(wsReadDeadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	s.conns.Store(ws, struct{}{})
	s.accept(&wsTransport{
		ws:        ws,
		forwarded: forwarded,
		onClose:   func() { s.conns.Delete(ws) },
	})
}

// wsTransport adapts a gorilla connection. Writes are serialized: gorilla
// allows at most one concurrent writer.
type wsTransport struct {
	ws        *websocket.Conn
	forwarded string
	onClose   func()

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (t *wsTransport) Write(data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) ReadChunk() ([]byte, error) {
	for {
		kind, data, err := t.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		t.ws.SetReadDeadline(time.Now().Add(wsReadDeadline))
		if kind != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.wmu.Lock()
		t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.wmu.Unlock()
		err = t.ws.Close()
		if t.onClose != nil {
			t.onClose()
		}
	})
	return err
}

func (t *wsTransport) RemoteIP() string { return hostOf(t.ws.RemoteAddr().String()) }

func (t *wsTransport) ForwardedIP() string { return t.forwarded }

func (t *wsTransport) Stream() bool { return false }
