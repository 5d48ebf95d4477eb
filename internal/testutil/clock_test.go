package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtZero(t *testing.T) {
	clock := NewDeterministicClock(time.Second)
	assert.Equal(t, int64(0), clock.Current())
}

func TestDeterministicClock_NextIncrementsMonotonically(t *testing.T) {
	clock := NewDeterministicClock(16 * time.Millisecond)

	tick := clock.Next()
	assert.Equal(t, int64(1), tick.Frame)
	assert.Equal(t, 16*time.Millisecond, tick.Delta)

	assert.Equal(t, int64(2), clock.Next().Frame)
	spike := clock.NextWith(time.Second)
	assert.Equal(t, int64(3), spike.Frame)
	assert.Equal(t, time.Second, spike.Delta)
	assert.Equal(t, int64(3), clock.Current())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock(time.Second)
	clock.Next()
	clock.Next()
	clock.Reset()

	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next().Frame)
}

func TestDeterministicClock_ConcurrentFramesAreUnique(t *testing.T) {
	clock := NewDeterministicClock(time.Millisecond)
	const n = 100

	var wg sync.WaitGroup
	frames := make(chan int64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frames <- clock.Next().Frame
		}()
	}
	wg.Wait()
	close(frames)

	seen := make(map[int64]bool)
	for f := range frames {
		require.False(t, seen[f], "duplicate frame %d", f)
		seen[f] = true
	}
	assert.Len(t, seen, n)
}
