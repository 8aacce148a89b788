package duelrelay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/deck"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/feats"
	"github.com/moecube/duelrelay/internal/handler"
	"github.com/moecube/duelrelay/internal/i18n"
	"github.com/moecube/duelrelay/internal/room"
	"github.com/moecube/duelrelay/internal/transport"
)

// ErrNoListeners is returned by Start when both listeners are disabled.
var ErrNoListeners = eris.New("no listener configured: set PORT or WS_PORT")

// Server assembles the relay: configuration, dispatcher, room registry,
// features, intake, and the configured listeners.
type Server struct {
	cfg Config
	log zerolog.Logger

	dispatcher *dispatch.Dispatcher
	registry   *room.Registry
	intake     *handler.Intake

	tcp *transport.TCPServer
	ws  *transport.WSServer
}

// New builds a Server from cfg. Nothing listens until Start.
func New(cfg Config, log zerolog.Logger) (*Server, error) {
	bundle := i18n.NewBundle(nil)
	if cfg.LocaleDir != "" {
		if err := loadLocales(bundle, cfg.LocaleDir); err != nil {
			return nil, err
		}
	}

	reader := deck.MapReader{}
	if cfg.ExtraCardsFile != "" {
		var err error
		if reader, err = loadExtraCards(cfg.ExtraCardsFile); err != nil {
			return nil, err
		}
	}
	lflist := deck.LFList{}
	if cfg.LFListFile != "" {
		var err error
		if lflist, err = loadLFList(cfg.LFListFile); err != nil {
			return nil, err
		}
	}

	d := dispatch.New()
	registry := room.NewRegistry(room.Deps{
		Dispatcher: d,
		Reader:     reader,
		LFList:     lflist,
		Limits: deck.Limits{
			MinMain:   cfg.DeckMainMin,
			MaxMain:   cfg.DeckMainMax,
			MaxExtra:  cfg.DeckExtraMax,
			MaxSide:   cfg.DeckSideMax,
			MaxCopies: cfg.DeckMaxCopies,
		},
		Logger: log.With().Str("module", "room").Logger(),
	})
	room.RegisterRoutes(d, registry)

	feats.NewVersionCheck(cfg.Version, cfg.AltVersions...).Register(d)
	feats.NewWelcome(cfg.Welcome).Register(d)
	feats.NewTagSurrender(registry).Register(d)

	intake := handler.NewIntake(d, registry, conn.Options{
		Logger:            log.With().Str("module", "conn").Logger(),
		Translator:        bundle,
		MessagesPerSecond: rate.Limit(cfg.MessagesPerSecond),
		Burst:             cfg.MessageBurst,
		MaxFrameBytes:     cfg.MaxFrameBytes,
		MaxBufferBytes:    cfg.MaxBufferBytes,
	}, log.With().Str("module", "intake").Logger())

	s := &Server{
		cfg:        cfg,
		log:        log,
		dispatcher: d,
		registry:   registry,
		intake:     intake,
	}

	if cfg.Port > 0 {
		s.tcp = transport.NewTCPServer(
			fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			intake.Accept,
			log.With().Str("module", "tcp").Logger(),
		)
	}
	if cfg.WSPort > 0 {
		trust, err := transport.ParseProxyTrust(cfg.TrustedProxies)
		if err != nil {
			return nil, err
		}
		s.ws = transport.NewWSServer(transport.WSConfig{
			Addr:  fmt.Sprintf("%s:%d", cfg.Host, cfg.WSPort),
			Path:  cfg.WSPath,
			Trust: trust,
		}, intake.Accept, log.With().Str("module", "ws").Logger())
	}
	return s, nil
}

// Dispatcher exposes the bus so embedders can register extra features
// before Start.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Registry exposes the live rooms.
func (s *Server) Registry() *room.Registry { return s.registry }

// Start brings every configured listener up.
func (s *Server) Start(ctx context.Context) error {
	if s.tcp == nil && s.ws == nil {
		return ErrNoListeners
	}
	if s.tcp != nil {
		if err := s.tcp.Start(ctx); err != nil {
			return err
		}
	}
	if s.ws != nil {
		if err := s.ws.Start(ctx); err != nil {
			if s.tcp != nil {
				s.tcp.Stop(ctx)
			}
			return err
		}
	}
	return nil
}

// Stop closes the listeners and finalizes every live room, dropping all
// remaining clients.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error
	if s.tcp != nil {
		if err := s.tcp.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if s.ws != nil {
		if err := s.ws.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range s.registry.All() {
		r.Finalize(ctx)
	}
	return firstErr
}

func loadLocales(bundle *i18n.Bundle, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrap(err, "read locale dir")
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		locale := strings.TrimSuffix(name, ".json")
		if err := bundle.LoadFile(locale, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func loadExtraCards(path string) (deck.MapReader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read extra cards")
	}
	var ids []uint32
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, eris.Wrap(err, "parse extra cards")
	}
	reader := make(deck.MapReader, len(ids))
	for _, id := range ids {
		reader[id] = true
	}
	return reader, nil
}

func loadLFList(path string) (deck.LFList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read lflist")
	}
	lflist := deck.LFList{}
	if err := json.Unmarshal(raw, &lflist); err != nil {
		return nil, eris.Wrap(err, "parse lflist")
	}
	return lflist, nil
}
