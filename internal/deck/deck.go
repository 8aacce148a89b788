// Package deck models submitted decks and the legality checks the relay
// performs before letting a duel start. Card classification comes from an
// external CardReader collaborator; the relay only needs to know which pile
// a card belongs to and how many copies a list allows.
package deck

import (
	"sort"

	"github.com/rotisserie/eris"
)

// CardReader classifies cards by ID. Implementations typically wrap a card
// database; tests use a map.
type CardReader interface {
	// IsExtraDeckCard reports whether the card belongs to the extra deck.
	IsExtraDeckCard(id uint32) bool
}

// MapReader is a CardReader backed by a set of extra-deck card IDs.
type MapReader map[uint32]bool

func (m MapReader) IsExtraDeckCard(id uint32) bool { return m[id] }

// LFList maps a card ID to the maximum copies allowed. Cards absent from
// the list are unrestricted up to the generic copy limit.
type LFList map[uint32]int

// Limits bounds deck sizes and copy counts.
type Limits struct {
	MinMain   int
	MaxMain   int
	MaxExtra  int
	MaxSide   int
	MaxCopies int
}

// DefaultLimits matches the standard 40-60/15/15 construction rules.
func DefaultLimits() Limits {
	return Limits{MinMain: 40, MaxMain: 60, MaxExtra: 15, MaxSide: 15, MaxCopies: 3}
}

// Deck is a submitted deck after main/extra separation.
type Deck struct {
	Main  []uint32
	Extra []uint32
	Side  []uint32
}

// Split separates a wire submission's mixed main pile into main and extra
// decks by consulting the card reader. The side pile passes through.
func Split(mixed, side []uint32, reader CardReader) *Deck {
	d := &Deck{Side: append([]uint32(nil), side...)}
	for _, id := range mixed {
		if reader.IsExtraDeckCard(id) {
			d.Extra = append(d.Extra, id)
		} else {
			d.Main = append(d.Main, id)
		}
	}
	return d
}

// Pool returns every card of the deck as one sorted multiset. Two decks
// built from the same cards have equal pools regardless of how the cards
// are split across piles.
func (d *Deck) Pool() []uint32 {
	pool := make([]uint32, 0, len(d.Main)+len(d.Extra)+len(d.Side))
	pool = append(pool, d.Main...)
	pool = append(pool, d.Extra...)
	pool = append(pool, d.Side...)
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	return pool
}

// CheckError reports why a deck is illegal. Code is the card ID involved,
// or zero for size violations; it travels to the client in the
// standardized deck-error message.
type CheckError struct {
	Reason string
	Code   uint32
}

func (e *CheckError) Error() string { return e.Reason }

// Check validates construction legality: size bounds, generic copy limits
// and the forbidden/limited list. Returns nil for a legal deck.
func Check(d *Deck, lim Limits, lf LFList) *CheckError {
	switch {
	case len(d.Main) < lim.MinMain || len(d.Main) > lim.MaxMain:
		return &CheckError{Reason: "main deck size out of bounds"}
	case len(d.Extra) > lim.MaxExtra:
		return &CheckError{Reason: "extra deck too large"}
	case len(d.Side) > lim.MaxSide:
		return &CheckError{Reason: "side deck too large"}
	}

	copies := make(map[uint32]int)
	for _, id := range d.Pool() {
		copies[id]++
	}
	for id, n := range copies {
		limit := lim.MaxCopies
		if listed, ok := lf[id]; ok && listed < limit {
			limit = listed
		}
		if n > limit {
			return &CheckError{Reason: "card over copy limit", Code: id}
		}
	}
	return nil
}

// CanReside reports whether next is a legal re-side of original: the same
// card pool, in any order and any main/extra/side split.
func CanReside(original, next *Deck) bool {
	if original == nil || next == nil {
		return false
	}
	a, b := original.Pool(), next.Pool()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ErrNoOriginalDeck is returned when a re-side arrives from a seat that
// never submitted a starting deck.
var ErrNoOriginalDeck = eris.New("no original deck recorded for re-side")
