package duelrelay

import (
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// Config is the full environment surface of the relay. Every knob has a
// default; an empty environment yields a WebSocket-only server on :7922.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	// Port is the raw TCP listener for native clients. Zero disables it.
	Port int `env:"PORT" envDefault:"0"`
	// WSPort is the WebSocket listener for browser clients. Zero disables it.
	WSPort int    `env:"WS_PORT" envDefault:"7922"`
	WSPath string `env:"WS_PATH" envDefault:"/"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// TrustedProxies lists CIDRs (or bare addresses) whose
	// X-Forwarded-For headers are believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Version is the protocol revision clients must present. Zero skips
	// the check. AltVersions are additionally accepted.
	Version     uint16   `env:"YGOPRO_VERSION" envDefault:"4960"`
	AltVersions []uint16 `env:"ALT_VERSIONS" envSeparator:","`

	// Welcome is a chat notice sent to every client joining a room.
	Welcome string `env:"WELCOME"`

	// LocaleDir holds per-locale JSON chat text resources
	// (<locale>.json). Empty leaves message keys untranslated.
	LocaleDir string `env:"LOCALE_DIR"`
	// ExtraCardsFile is a JSON array of extra-deck card IDs, the card
	// classification the deck splitter needs.
	ExtraCardsFile string `env:"EXTRA_CARDS_FILE"`
	// LFListFile is a JSON object mapping card ID to allowed copies.
	LFListFile string `env:"LFLIST_FILE"`

	DeckMainMin   int `env:"DECK_MAIN_MIN" envDefault:"40"`
	DeckMainMax   int `env:"DECK_MAIN_MAX" envDefault:"60"`
	DeckExtraMax  int `env:"DECK_EXTRA_MAX" envDefault:"15"`
	DeckSideMax   int `env:"DECK_SIDE_MAX" envDefault:"15"`
	DeckMaxCopies int `env:"DECK_MAX_COPIES" envDefault:"3"`

	MaxFrameBytes  int `env:"MAX_FRAME_BYTES" envDefault:"65536"`
	MaxBufferBytes int `env:"MAX_BUFFER_BYTES" envDefault:"4194304"`

	// Per-connection inbound rate limit. Zero disables limiting.
	MessagesPerSecond float64 `env:"MESSAGES_PER_SECOND" envDefault:"100"`
	MessageBurst      int     `env:"MESSAGE_BURST" envDefault:"200"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, eris.Wrap(err, "parse environment")
	}
	return cfg, nil
}
