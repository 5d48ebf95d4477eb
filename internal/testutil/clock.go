package testutil

import (
	"sync"
	"time"

	"github.com/roach88/flowscript/internal/engine"
)

// DeterministicClock hands out fixed-size ticks for tests.
//
// Unlike engine.Clock, DeterministicClock can be reset for test reuse, so
// the same scenario can run several times with identical frame numbers.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	frame int64
	delta time.Duration
}

// NewDeterministicClock creates a clock whose ticks are delta long.
//
// The first call to Next() returns frame 1.
func NewDeterministicClock(delta time.Duration) *DeterministicClock {
	return &DeterministicClock{delta: delta}
}

// Next returns the next tick.
func (c *DeterministicClock) Next() engine.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame++
	return engine.Tick{Frame: c.frame, Delta: c.delta}
}

// NextWith returns the next tick with a one-off delta.
func (c *DeterministicClock) NextWith(delta time.Duration) engine.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame++
	return engine.Tick{Frame: c.frame, Delta: delta}
}

// Current returns the last frame handed out.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Reset resets the clock to frame 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = 0
}
