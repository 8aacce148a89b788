package namedlock

import (
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSerializesSameName(t *testing.T) {
	t.Parallel()

	k := New()
	const workers = 32

	var inside, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = k.Do("room:test", func() error {
				mu.Lock()
				inside++
				if inside > max {
					max = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "two holders of the same name overlapped")

	// Entries are reclaimed once released.
	k.mu.Lock()
	assert.Empty(t, k.entries)
	k.mu.Unlock()
}

func TestDoDifferentNamesDoNotBlock(t *testing.T) {
	t.Parallel()

	k := New()
	release := make(chan struct{})
	holding := make(chan struct{})

	go func() {
		_ = k.Do("a", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	// Must complete while "a" is still held.
	done := make(chan struct{})
	go func() {
		_ = k.Do("b", func() error { return nil })
		close(done)
	}()
	<-done
	close(release)
}

func TestDoReturnsCallbackError(t *testing.T) {
	t.Parallel()

	k := New()
	sentinel := eris.New("boom")
	err := k.Do("x", func() error { return sentinel })
	require.ErrorIs(t, err, sentinel)
}
