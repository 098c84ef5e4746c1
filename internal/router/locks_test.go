package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/enflame-media/syncrelay/internal/api"
)

func TestStreamLocksSerializePerStream(t *testing.T) {
	locks := newStreamLocks()
	stream := api.SessionStream("u1", "s1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(stream)
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.len())
}

func TestStreamLocksIndependentStreams(t *testing.T) {
	locks := newStreamLocks()

	unlockA := locks.lock(api.UserStream("u1"))
	unlockB := locks.lock(api.UserStream("u2"))
	assert.Equal(t, 2, locks.len())

	unlockA()
	unlockB()
	assert.Equal(t, 0, locks.len())
}
