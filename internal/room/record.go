package room

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/moecube/duelrelay/internal/deck"
)

// SeatRecord is one seat's state at the start of a game, keyed by the
// logical duel position it occupied for that game.
type SeatRecord struct {
	Name string
	Deck *deck.Deck
}

// DuelRecord captures one game of a match: the seed the engine was started
// with, each seat's starting deck, and eventually the winner.
type DuelRecord struct {
	Seed    uint32
	Seats   []SeatRecord
	WinPos  int
	decided bool
}

func newDuelRecord(seats []SeatRecord) *DuelRecord {
	return &DuelRecord{Seed: generateSeed(), Seats: seats, WinPos: -1}
}

func (d *DuelRecord) setWinner(pos int) {
	d.WinPos = pos
	d.decided = true
}

// Encode renders the record for replay delivery. The layout is the relay's
// own: seed, seat count, then per seat a name and deck piles. Full
// engine-replay encoding belongs to the replay collaborator.
func (d *DuelRecord) Encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, d.Seed)
	out = append(out, uint8(len(d.Seats)))
	for _, seat := range d.Seats {
		name := []byte(seat.Name)
		out = append(out, uint8(len(name)))
		out = append(out, name...)
		for _, pile := range [][]uint32{seat.Deck.Main, seat.Deck.Extra, seat.Deck.Side} {
			out = binary.LittleEndian.AppendUint16(out, uint16(len(pile)))
			for _, id := range pile {
				out = binary.LittleEndian.AppendUint32(out, id)
			}
		}
	}
	return out
}

func generateSeed() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the process is in far worse trouble
		// than a predictable shuffle.
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}
