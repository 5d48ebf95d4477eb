package script

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/graph"
)

func TestThread_RollbackPinDoesNotGrowStack(t *testing.T) {
	th := NewThread(1)

	// Loop node 1 enters its body through rollback pin 2, body ends,
	// cursor returns to the loop and the loop re-enters the body.
	for range 1000 {
		th.AdvanceToNode(2, 5, true)
		require.True(t, th.EndBranch(0, false))
		id, ok := th.Current()
		require.True(t, ok)
		require.Equal(t, graph.NodeID(1), id)
	}
	assert.Equal(t, []StackFrame{{Node: 1, Pin: 2}}, th.Stack())

	// Leaving through the non-rollback "after" pin closes the frame.
	th.AdvanceToNode(1, 9, false)
	assert.Empty(t, th.Stack())
}

func TestThread_RollbackUnwindsNestedFrames(t *testing.T) {
	th := NewThread(1)
	th.AdvanceToNode(2, 3, true) // outer body
	th.AdvanceToNode(2, 4, true) // inner loop at 3 enters its body
	require.Len(t, th.Stack(), 2)

	// Jump straight back to the outer loop and take its rollback pin again.
	th.moveTo(1)
	th.AdvanceToNode(2, 3, true)
	assert.Equal(t, []StackFrame{{Node: 1, Pin: 2}}, th.Stack())
}

func TestThread_EndBranchStopsWithoutFrames(t *testing.T) {
	th := NewThread(0)
	th.SetTimeSlice(time.Second)
	assert.False(t, th.EndBranch(0, false))
	assert.False(t, th.IsRunning())
}

func TestThread_ForkCopiesStackAndSetsBase(t *testing.T) {
	parent := NewThread(1)
	parent.AdvanceToNode(2, 3, true)
	parent.SetTimeSlice(300 * time.Millisecond)

	child := parent.Fork(0, 7, false)
	assert.Equal(t, parent.Stack(), child.Stack())
	assert.Equal(t, 1, child.Base())
	assert.Equal(t, 300*time.Millisecond, child.TimeSlice())
	id, _ := child.Current()
	assert.Equal(t, graph.NodeID(7), id)

	// Copies are independent.
	child.AdvanceToNode(1, 8, true)
	assert.Len(t, child.Stack(), 2)
	assert.Len(t, parent.Stack(), 1)

	// The child cannot unwind into frames it inherited: its branch ends
	// by stopping rather than returning to the parent's loop.
	child.moveTo(9)
	child.stack = child.stack[:1]
	assert.False(t, child.EndBranch(0, false))
}

func TestThread_MergeKeepsCommonPrefix(t *testing.T) {
	a := NewThread(1)
	a.AdvanceToNode(2, 3, true)
	b := a.Fork(0, 4, false)
	b.AdvanceToNode(1, 5, true)

	b.Merge(a)
	assert.False(t, a.IsRunning())
	assert.Equal(t, []StackFrame{{Node: 1, Pin: 2}}, b.Stack())
	assert.Equal(t, 0, b.Base())
}

func TestThread_StackGoesThrough(t *testing.T) {
	th := NewThread(1)
	th.AdvanceToNode(2, 3, true)

	pin := graph.PinID(2)
	other := graph.PinID(1)
	assert.True(t, th.StackGoesThrough(1, nil))
	assert.True(t, th.StackGoesThrough(1, &pin))
	assert.False(t, th.StackGoesThrough(1, &other))
	assert.False(t, th.StackGoesThrough(3, nil))
}

func TestThread_ConsumeClampsToSlice(t *testing.T) {
	th := NewThread(0)
	th.SetTimeSlice(100 * time.Millisecond)

	assert.Equal(t, 40*time.Millisecond, th.Consume(40*time.Millisecond))
	assert.Equal(t, 60*time.Millisecond, th.Consume(time.Second))
	assert.Equal(t, time.Duration(0), th.Consume(-time.Second))
	assert.Equal(t, time.Duration(0), th.TimeSlice())
	assert.Equal(t, 100*time.Millisecond, th.NodeElapsed())
}
