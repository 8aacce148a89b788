package deck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeat(id uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = id
	}
	return out
}

func legalMain() []uint32 {
	var main []uint32
	for i := 0; i < 40; i++ {
		main = append(main, uint32(1000+i))
	}
	return main
}

func TestSplitSeparatesExtraDeckCards(t *testing.T) {
	t.Parallel()

	reader := MapReader{7: true, 9: true}
	d := Split([]uint32{1, 7, 2, 9, 3}, []uint32{4}, reader)

	assert.Equal(t, []uint32{1, 2, 3}, d.Main)
	assert.Equal(t, []uint32{7, 9}, d.Extra)
	assert.Equal(t, []uint32{4}, d.Side)
}

func TestCheck(t *testing.T) {
	t.Parallel()

	lim := DefaultLimits()

	tests := []struct {
		name    string
		deck    *Deck
		lf      LFList
		wantErr string
	}{
		{
			name: "legal deck",
			deck: &Deck{Main: legalMain()},
		},
		{
			name:    "main too small",
			deck:    &Deck{Main: repeat(1, 39)},
			wantErr: "main deck size out of bounds",
		},
		{
			name:    "main too large",
			deck:    &Deck{Main: repeat(1, 61)},
			wantErr: "main deck size out of bounds",
		},
		{
			name:    "extra too large",
			deck:    &Deck{Main: legalMain(), Extra: repeat(2, 16)},
			wantErr: "extra deck too large",
		},
		{
			name:    "side too large",
			deck:    &Deck{Main: legalMain(), Side: repeat(2, 16)},
			wantErr: "side deck too large",
		},
		{
			name:    "over generic copy limit",
			deck:    &Deck{Main: append(legalMain()[:36], repeat(5, 4)...)},
			wantErr: "card over copy limit",
		},
		{
			name:    "over list limit",
			deck:    &Deck{Main: append(legalMain()[:38], repeat(5, 2)...)},
			lf:      LFList{5: 1},
			wantErr: "card over copy limit",
		},
		{
			name: "list limit counts side cards",
			deck: &Deck{Main: append(legalMain()[:39], 5), Side: []uint32{5}},
			lf:   LFList{5: 1},

			wantErr: "card over copy limit",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Check(tt.deck, lim, tt.lf)
			if tt.wantErr == "" {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.wantErr, err.Reason)
		})
	}
}

func TestCanReside(t *testing.T) {
	t.Parallel()

	original := &Deck{Main: []uint32{1, 2, 3}, Extra: []uint32{10}, Side: []uint32{4, 5}}

	// Any resplit and reorder of the same pool is accepted.
	resplit := &Deck{Main: []uint32{5, 3, 2}, Extra: []uint32{10}, Side: []uint32{4, 1}}
	assert.True(t, CanReside(original, resplit))

	// A card absent from the original pool is rejected.
	foreign := &Deck{Main: []uint32{1, 2, 99}, Extra: []uint32{10}, Side: []uint32{4, 5}}
	assert.False(t, CanReside(original, foreign))

	// Dropping a card changes the multiset and is rejected.
	short := &Deck{Main: []uint32{1, 2, 3}, Extra: []uint32{10}, Side: []uint32{4}}
	assert.False(t, CanReside(original, short))

	// Duplicates are counted, not set-compared.
	original2 := &Deck{Main: []uint32{7, 7, 8}}
	swapped := &Deck{Main: []uint32{7, 8, 8}}
	assert.False(t, CanReside(original2, swapped))

	assert.False(t, CanReside(nil, resplit))
}
