package script

import (
	"slices"
	"time"

	"github.com/roach88/flowscript/internal/graph"
)

// StackFrame records the node and output pin through which a loop body was
// entered. Reaching the end of the body returns the thread to Node.
type StackFrame struct {
	Node graph.NodeID
	Pin  graph.PinID
}

// Thread is one logical cursor walking the graph. It is not an OS thread.
type Thread struct {
	node    graph.NodeID
	running bool
	entered bool
	merging bool

	stack []StackFrame
	// base is the stack depth at which this thread was forked. A thread
	// never rolls back below its base: the frames under it belong to the
	// thread it was forked from.
	base int

	timeSlice   time.Duration
	nodeElapsed time.Duration
}

// NewThread creates a running thread positioned at start.
func NewThread(start graph.NodeID) *Thread {
	return &Thread{node: start, running: true}
}

// Current returns the node under the cursor. ok is false once the thread
// has finished or been terminated.
func (t *Thread) Current() (id graph.NodeID, ok bool) {
	return t.node, t.running
}

// IsRunning reports whether the thread still has a current node.
func (t *Thread) IsRunning() bool { return t.running }

// Entered reports whether the thread is counted in its current node's
// NodeState.ThreadCount.
func (t *Thread) Entered() bool { return t.entered }

// IsMerging reports whether the thread is parked at a join.
func (t *Thread) IsMerging() bool { return t.merging }

// SetMerging parks or releases the thread at a join.
func (t *Thread) SetMerging(merging bool) { t.merging = merging }

// TimeSlice is the time budget left for this thread in the current tick.
func (t *Thread) TimeSlice() time.Duration { return t.timeSlice }

// SetTimeSlice replaces the remaining budget.
func (t *Thread) SetTimeSlice(d time.Duration) { t.timeSlice = max(d, 0) }

// NodeElapsed is the time spent in the current node since entering it.
func (t *Thread) NodeElapsed() time.Duration { return t.nodeElapsed }

// Consume spends d of the thread's budget on the current node.
// d is clamped to the remaining budget so time is never created.
func (t *Thread) Consume(d time.Duration) time.Duration {
	d = min(max(d, 0), t.timeSlice)
	t.timeSlice -= d
	t.nodeElapsed += d
	return d
}

// Stack returns the thread's call stack, outermost frame first.
// Callers must not modify it.
func (t *Thread) Stack() []StackFrame { return t.stack }

// Base returns the stack depth the thread may not roll back below.
func (t *Thread) Base() int { return t.base }

// StackGoesThrough reports whether any frame was entered at node, optionally
// restricted to a specific output pin.
func (t *Thread) StackGoesThrough(node graph.NodeID, pin *graph.PinID) bool {
	for _, f := range t.stack {
		if f.Node == node && (pin == nil || f.Pin == *pin) {
			return true
		}
	}
	return false
}

// unwind maintains the stack as the thread leaves its current node through
// outputPin. A rollback pin either returns to its existing frame (dropping
// every frame above it) or pushes a new one. Any other pin closes the
// frame the node owns, if there is one.
func (t *Thread) unwind(outputPin graph.PinID, rollback bool) {
	frame := StackFrame{Node: t.node, Pin: outputPin}
	if rollback {
		if i := slices.Index(t.stack, frame); i >= t.base {
			t.stack = t.stack[:i+1]
			return
		}
		t.stack = append(t.stack, frame)
		return
	}
	for i := len(t.stack) - 1; i >= t.base; i-- {
		if t.stack[i].Node == t.node {
			t.stack = t.stack[:i]
			return
		}
	}
}

// AdvanceToNode moves the cursor from the current node, through outputPin,
// to next. The thread must have left its current node first.
func (t *Thread) AdvanceToNode(outputPin graph.PinID, next graph.NodeID, rollback bool) {
	t.unwind(outputPin, rollback)
	t.moveTo(next)
}

// EndBranch handles an output pin with nothing connected. If the thread's
// stack has a frame above its base, the cursor returns to that frame's node
// (the loop that owns this body). Otherwise the thread stops.
// Returns true if the thread is still running.
func (t *Thread) EndBranch(outputPin graph.PinID, rollback bool) bool {
	t.unwind(outputPin, rollback)
	if len(t.stack) > t.base {
		t.moveTo(t.stack[len(t.stack)-1].Node)
		return true
	}
	t.running = false
	return false
}

// Fork creates a sibling that leaves the current node through outputPin
// towards next. The sibling gets a deep copy of the stack (node data is not
// copied; it stays keyed by node id) and its own cursor, and inherits the
// remaining time slice. It can not roll back into frames it inherited.
func (t *Thread) Fork(outputPin graph.PinID, next graph.NodeID, rollback bool) *Thread {
	child := &Thread{
		node:      t.node,
		running:   true,
		stack:     slices.Clone(t.stack),
		timeSlice: t.timeSlice,
	}
	child.unwind(outputPin, rollback)
	child.base = len(child.stack)
	child.moveTo(next)
	return child
}

// Merge folds other into t at a join. other is discarded; t keeps the stack
// prefix both threads share and the lower of the two bases, so a forked
// sibling that survives a join regains its parent's loop frames.
// Both threads must have left the join node.
func (t *Thread) Merge(other *Thread) {
	n := 0
	for n < len(t.stack) && n < len(other.stack) && t.stack[n] == other.stack[n] {
		n++
	}
	t.stack = t.stack[:n]
	t.base = min(t.base, other.base, n)
	other.stop()
}

func (t *Thread) moveTo(next graph.NodeID) {
	t.node = next
	t.running = true
	t.merging = false
	t.nodeElapsed = 0
}

func (t *Thread) stop() {
	t.running = false
	t.merging = false
	t.timeSlice = 0
}
