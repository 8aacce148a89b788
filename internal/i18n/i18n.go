// Package i18n resolves the localized text of chat notices. Messages may
// embed `#{key}` tokens which are replaced with the locale's text for that
// key; unknown keys render as the key itself so a missing resource is
// visible rather than silent.
package i18n

import (
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// DefaultLocale is used when a connection reported no locale or the
// reported one has no resources.
const DefaultLocale = "en-US"

// Translator resolves a message key for a locale.
type Translator interface {
	Translate(locale, msg string) string
}

// Bundle is a map-backed Translator: locale → key → text.
type Bundle struct {
	locales map[string]map[string]string
}

// NewBundle returns a Bundle with the given resources. The outer key is
// the locale tag.
func NewBundle(locales map[string]map[string]string) *Bundle {
	if locales == nil {
		locales = make(map[string]map[string]string)
	}
	return &Bundle{locales: locales}
}

// LoadFile merges one JSON resource file ({"key": "text", ...}) into the
// bundle under locale.
func (b *Bundle) LoadFile(locale, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read locale %s", locale)
	}
	texts := make(map[string]string)
	if err := json.Unmarshal(raw, &texts); err != nil {
		return eris.Wrapf(err, "parse locale %s", locale)
	}
	existing := b.locales[locale]
	if existing == nil {
		existing = make(map[string]string)
		b.locales[locale] = existing
	}
	for k, v := range texts {
		existing[k] = v
	}
	return nil
}

func (b *Bundle) lookup(locale, key string) (string, bool) {
	if texts, ok := b.locales[locale]; ok {
		if v, ok := texts[key]; ok {
			return v, true
		}
	}
	if locale != DefaultLocale {
		if v, ok := b.locales[DefaultLocale][key]; ok {
			return v, true
		}
	}
	return "", false
}

// Translate expands every `#{key}` token in msg for the locale. A message
// that is exactly one token resolves to that key's text; literal text
// around tokens is preserved.
func (b *Bundle) Translate(locale, msg string) string {
	var sb strings.Builder
	for {
		start := strings.Index(msg, "#{")
		if start < 0 {
			sb.WriteString(msg)
			return sb.String()
		}
		end := strings.Index(msg[start:], "}")
		if end < 0 {
			sb.WriteString(msg)
			return sb.String()
		}
		end += start
		sb.WriteString(msg[:start])
		key := msg[start+2 : end]
		if text, ok := b.lookup(locale, key); ok {
			sb.WriteString(text)
		} else {
			sb.WriteString(key)
		}
		msg = msg[end+1:]
	}
}
