package engine

import (
	"sync/atomic"
	"time"
)

// Clock numbers frames and accumulates simulated time.
//
// Frame numbers are strictly increasing and start at 1, so a node that has
// never seen a frame (last frame 0 or -1) always fires on the first one.
// Simulated time only moves when Advance is called; nothing here reads the
// wall clock, which keeps runs reproducible.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// A host normally advances it from one goroutine and hands the resulting
// Tick to every script updated that frame.
type Clock struct {
	frame   atomic.Int64
	elapsed atomic.Int64
}

// NewClock creates a clock at frame 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after frame, with elapsed simulated
// time. Used when a host restores a saved session.
func NewClockAt(frame int64, elapsed time.Duration) *Clock {
	c := &Clock{}
	c.frame.Store(frame)
	c.elapsed.Store(int64(elapsed))
	return c
}

// Advance starts the next frame and returns its Tick. Negative deltas are
// treated as zero.
func (c *Clock) Advance(delta time.Duration) Tick {
	delta = max(delta, 0)
	c.elapsed.Add(int64(delta))
	return Tick{Frame: c.frame.Add(1), Delta: delta}
}

// Frame returns the current frame number without advancing.
func (c *Clock) Frame() int64 {
	return c.frame.Load()
}

// Elapsed returns the total simulated time.
func (c *Clock) Elapsed() time.Duration {
	return time.Duration(c.elapsed.Load())
}
