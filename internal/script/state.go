package script

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/value"
)

// ErrNodeThreadLimit is returned by StartNode when a node already holds the
// maximum number of threads its counter can track.
var ErrNodeThreadLimit = errors.New("script: node thread limit reached")

// Status is the lifecycle state of a State as a whole.
type Status uint8

const (
	NotStarted Status = iota
	Running
	Done
	// Idle is a persisted state with no threads left, kept addressable for
	// variable reads. A persisted state with live threads is Running.
	Idle
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Done:
		return "done"
	case Idle:
		return "idle"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// NodeState is the per-node bookkeeping of one State.
type NodeState struct {
	ThreadCount uint8
	Data        NodeData
}

func (ns *NodeState) empty() bool {
	return ns.ThreadCount == 0 && ns.Data == nil
}

// DataPolicy tells the state how node data is created and retained. The
// engine implements it from the node types of a compiled graph.
type DataPolicy interface {
	// NewData returns fresh data for node, or nil if its type keeps none.
	NewData(node graph.NodeID) NodeData
	// KeepsData reports whether node's data survives its last thread leaving.
	KeepsData(node graph.NodeID) bool
}

// State is the serializable execution state of one script instance.
type State struct {
	threads   []*Thread
	nodes     map[graph.NodeID]*NodeState
	variables map[string]value.Value
	graphHash uint64

	started     bool
	persist     bool
	restartable bool

	activity map[graph.NodeID]*NodeActivity
}

// New returns an empty, not yet started state.
func New() *State {
	return &State{
		nodes:     make(map[graph.NodeID]*NodeState),
		variables: make(map[string]value.Value),
	}
}

// Start discards all threads and node data and creates a single thread at
// entry. Variables are kept so a host can seed them before the first tick.
func (s *State) Start(entry graph.NodeID, graphHash uint64) {
	s.threads = []*Thread{NewThread(entry)}
	clear(s.nodes)
	s.graphHash = graphHash
	s.started = true
	if s.activity != nil {
		clear(s.activity)
	}
}

// Reset returns the state to NotStarted, dropping threads, node data and
// variables. Persistence flags and introspection are left as configured.
func (s *State) Reset() {
	s.threads = nil
	clear(s.nodes)
	clear(s.variables)
	s.graphHash = 0
	s.started = false
	if s.activity != nil {
		clear(s.activity)
	}
}

// GraphHash returns the hash of the graph the state was started against.
func (s *State) GraphHash() uint64 { return s.graphHash }

// Started reports whether Start has been called since the last Reset.
func (s *State) Started() bool { return s.started }

// Persist reports whether the state stays addressable after its flow ends.
func (s *State) Persist() bool { return s.persist }

// SetPersist sets whether the state stays addressable after its flow ends.
func (s *State) SetPersist(persist bool) { s.persist = persist }

// Restartable reports whether a finished state may be started again by an
// external signal.
func (s *State) Restartable() bool { return s.restartable }

// SetRestartable sets whether a finished state may be restarted.
func (s *State) SetRestartable(restartable bool) { s.restartable = restartable }

// Threads returns the state's threads in scheduling order. Callers must not
// modify the slice.
func (s *State) Threads() []*Thread { return s.threads }

// ThreadCount returns the number of threads, running or not yet pruned.
func (s *State) ThreadCount() int { return len(s.threads) }

// AddThread appends a thread. New threads are scheduled after existing ones.
func (s *State) AddThread(t *Thread) { s.threads = append(s.threads, t) }

// Prune removes threads that are no longer running.
func (s *State) Prune() {
	s.threads = slices.DeleteFunc(s.threads, func(t *Thread) bool { return !t.running })
}

// HasThreadAt reports whether a running thread is positioned at node.
func (s *State) HasThreadAt(node graph.NodeID) bool {
	for _, t := range s.threads {
		if t.running && t.node == node {
			return true
		}
	}
	return false
}

// NodeState returns the state for id, creating it on first access.
func (s *State) NodeState(id graph.NodeID) *NodeState {
	ns, ok := s.nodes[id]
	if !ok {
		ns = &NodeState{}
		s.nodes[id] = ns
	}
	return ns
}

// LookupNodeState returns the state for id without creating it.
func (s *State) LookupNodeState(id graph.NodeID) (*NodeState, bool) {
	ns, ok := s.nodes[id]
	return ns, ok
}

// StartNode records t entering its current node. It is a no-op if t has
// already entered. Data is created on the first entry, and re-created when a
// thread arrives fresh at a node that kept data from an earlier visit: the
// node is idle and t is not coming back to it from one of its own loop bodies.
func (s *State) StartNode(t *Thread, policy DataPolicy) error {
	if !t.running || t.entered {
		return nil
	}
	ns := s.NodeState(t.node)
	if ns.ThreadCount == math.MaxUint8 {
		return fmt.Errorf("node %d: %w", t.node, ErrNodeThreadLimit)
	}
	if ns.Data == nil || (ns.ThreadCount == 0 && !t.StackGoesThrough(t.node, nil)) {
		ns.Data = policy.NewData(t.node)
	}
	ns.ThreadCount++
	t.entered = true
	t.nodeElapsed = 0
	s.markActive(t.node)
	return nil
}

// FinishNode records t leaving its current node. When the last thread leaves,
// the node's data is released unless its type keeps it.
func (s *State) FinishNode(t *Thread, policy DataPolicy) {
	if !t.entered {
		return
	}
	t.entered = false
	ns, ok := s.nodes[t.node]
	if !ok || ns.ThreadCount == 0 {
		return
	}
	ns.ThreadCount--
	if ns.ThreadCount > 0 {
		return
	}
	if !policy.KeepsData(t.node) {
		ns.Data = nil
	}
	if ns.empty() {
		delete(s.nodes, t.node)
	}
	s.markVisited(t.node)
}

// TerminateThread stops t immediately, releasing its hold on its node.
func (s *State) TerminateThread(t *Thread, policy DataPolicy) {
	s.FinishNode(t, policy)
	t.stop()
}

// TerminateAll stops every thread.
func (s *State) TerminateAll(policy DataPolicy) {
	for _, t := range s.threads {
		s.TerminateThread(t, policy)
	}
	s.Prune()
}

// Status derives the lifecycle state.
func (s *State) Status() Status {
	switch {
	case !s.started:
		return NotStarted
	case s.hasRunningThreads():
		return Running
	case s.persist:
		return Idle
	default:
		return Done
	}
}

// IsDone reports whether the state has finished and is not kept around.
func (s *State) IsDone() bool { return s.Status() == Done }

// IsDead reports whether the state is done and can not be restarted.
func (s *State) IsDead() bool { return s.IsDone() && !s.restartable }

func (s *State) hasRunningThreads() bool {
	return slices.ContainsFunc(s.threads, (*Thread).IsRunning)
}

// Variable returns a script variable.
func (s *State) Variable(name string) (value.Value, bool) {
	v, ok := s.variables[name]
	return v, ok
}

// SetVariable sets a script variable. A nil value is stored as Null.
func (s *State) SetVariable(name string, v value.Value) {
	if v == nil {
		v = value.Null{}
	}
	s.variables[name] = v
}

// DeleteVariable removes a script variable.
func (s *State) DeleteVariable(name string) { delete(s.variables, name) }

// VariableNames returns variable names in canonical order.
func (s *State) VariableNames() []string {
	return value.Map(s.variables).SortedKeys()
}
