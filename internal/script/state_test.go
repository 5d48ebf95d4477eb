package script

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/value"
)

// policyMap is a DataPolicy for tests: nodes listed in loops get LoopData,
// nodes listed in keep retain it after the last thread leaves.
type policyMap struct {
	loops map[graph.NodeID]bool
	keep  map[graph.NodeID]bool
}

func (p policyMap) NewData(id graph.NodeID) NodeData {
	if p.loops[id] {
		return &LoopData{}
	}
	return nil
}

func (p policyMap) KeepsData(id graph.NodeID) bool { return p.keep[id] }

func TestState_StartResetsThreadsKeepsVariables(t *testing.T) {
	s := New()
	assert.Equal(t, NotStarted, s.Status())

	s.SetVariable("lives", value.Int(3))
	s.Start(4, 0xabc)

	require.Len(t, s.Threads(), 1)
	id, ok := s.Threads()[0].Current()
	require.True(t, ok)
	assert.Equal(t, graph.NodeID(4), id)
	assert.Equal(t, uint64(0xabc), s.GraphHash())
	assert.Equal(t, Running, s.Status())

	v, ok := s.Variable("lives")
	require.True(t, ok)
	assert.Equal(t, value.Int(3), v)

	s.Reset()
	assert.Equal(t, NotStarted, s.Status())
	assert.Empty(t, s.VariableNames())
}

func TestState_NodeDataLifecycle(t *testing.T) {
	policy := policyMap{loops: map[graph.NodeID]bool{1: true, 2: true}, keep: map[graph.NodeID]bool{2: true}}
	s := New()
	s.Start(1, 1)
	th := s.Threads()[0]

	require.NoError(t, s.StartNode(th, policy))
	ns, ok := s.LookupNodeState(1)
	require.True(t, ok)
	assert.Equal(t, uint8(1), ns.ThreadCount)
	ns.Data.(*LoopData).Iterations = 5

	// Entering twice does not double count.
	require.NoError(t, s.StartNode(th, policy))
	assert.Equal(t, uint8(1), ns.ThreadCount)

	s.FinishNode(th, policy)
	_, ok = s.LookupNodeState(1)
	assert.False(t, ok, "data released when the last thread leaves")

	// Node 2 keeps its data after flow moves on.
	th.AdvanceToNode(0, 2, false)
	require.NoError(t, s.StartNode(th, policy))
	s.NodeState(2).Data.(*LoopData).Iterations = 7
	s.FinishNode(th, policy)
	ns, ok = s.LookupNodeState(2)
	require.True(t, ok)
	assert.Equal(t, uint8(0), ns.ThreadCount)
	assert.Equal(t, int64(7), ns.Data.(*LoopData).Iterations)
}

func TestState_KeptDataReinitialisedOnFreshEntry(t *testing.T) {
	policy := policyMap{loops: map[graph.NodeID]bool{1: true}, keep: map[graph.NodeID]bool{1: true}}
	s := New()
	s.Start(1, 1)
	th := s.Threads()[0]

	require.NoError(t, s.StartNode(th, policy))
	s.NodeState(1).Data.(*LoopData).Iterations = 1

	// Into the body through a rollback pin and back: data survives.
	s.FinishNode(th, policy)
	th.AdvanceToNode(2, 3, true)
	require.True(t, th.EndBranch(0, false))
	require.NoError(t, s.StartNode(th, policy))
	assert.Equal(t, int64(1), s.NodeState(1).Data.(*LoopData).Iterations)

	// Leave through "after", then arrive again from elsewhere: fresh data.
	s.FinishNode(th, policy)
	th.AdvanceToNode(1, 4, false)
	th.AdvanceToNode(0, 1, false)
	require.NoError(t, s.StartNode(th, policy))
	assert.Equal(t, int64(0), s.NodeState(1).Data.(*LoopData).Iterations)
}

func TestState_ThreadLimit(t *testing.T) {
	s := New()
	s.Start(0, 1)
	s.NodeState(0).ThreadCount = math.MaxUint8

	err := s.StartNode(s.Threads()[0], policyMap{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNodeThreadLimit))
	assert.Equal(t, uint8(math.MaxUint8), s.NodeState(0).ThreadCount)
}

func TestState_TerminateReleasesData(t *testing.T) {
	policy := policyMap{loops: map[graph.NodeID]bool{0: true}}
	s := New()
	s.Start(0, 1)
	th := s.Threads()[0]
	require.NoError(t, s.StartNode(th, policy))

	s.TerminateAll(policy)
	assert.Empty(t, s.Threads())
	_, ok := s.LookupNodeState(0)
	assert.False(t, ok)
	assert.Equal(t, Done, s.Status())
	assert.True(t, s.IsDone())
	assert.True(t, s.IsDead())
}

func TestState_StatusFlags(t *testing.T) {
	s := New()
	s.Start(0, 1)
	s.SetPersist(true)
	assert.Equal(t, Running, s.Status(), "persist does not make a state with threads idle")

	s.TerminateAll(policyMap{})
	assert.Equal(t, Idle, s.Status())
	assert.False(t, s.IsDone())
	assert.False(t, s.IsDead())

	s.SetPersist(false)
	s.SetRestartable(true)
	assert.True(t, s.IsDone())
	assert.False(t, s.IsDead())
}

func TestState_HasThreadAtAndPrune(t *testing.T) {
	s := New()
	s.Start(0, 1)
	s.AddThread(NewThread(3))
	assert.True(t, s.HasThreadAt(3))

	s.TerminateThread(s.Threads()[1], policyMap{})
	assert.False(t, s.HasThreadAt(3))
	assert.Equal(t, 2, s.ThreadCount())
	s.Prune()
	assert.Equal(t, 1, s.ThreadCount())
}

func TestState_Introspection(t *testing.T) {
	s := New()
	s.Start(0, 1)
	th := s.Threads()[0]

	// Disabled: nothing recorded.
	require.NoError(t, s.StartNode(th, policyMap{}))
	assert.Equal(t, Unvisited, s.Introspection(0).Activity)
	s.FinishNode(th, policyMap{})

	s.SetIntrospection(true)
	require.True(t, s.IntrospectionEnabled())
	require.NoError(t, s.StartNode(th, policyMap{}))
	s.AdvanceIntrospection(250 * time.Millisecond)
	assert.Equal(t, NodeActivity{Activity: Active, Elapsed: 250 * time.Millisecond}, s.Introspection(0))

	s.FinishNode(th, policyMap{})
	s.AdvanceIntrospection(time.Second)
	got := s.Introspection(0)
	assert.Equal(t, Visited, got.Activity)
	assert.Equal(t, 250*time.Millisecond, got.Elapsed)

	s.SetIntrospection(false)
	assert.Equal(t, NodeActivity{}, s.Introspection(0))
}
