package script

import (
	"time"

	"github.com/roach88/flowscript/internal/graph"
)

// Activity is a node's diagnostic state for visualization.
type Activity uint8

const (
	Unvisited Activity = iota
	Active
	Visited
)

func (a Activity) String() string {
	switch a {
	case Active:
		return "active"
	case Visited:
		return "visited"
	default:
		return "unvisited"
	}
}

// NodeActivity is one node's introspection record. Elapsed counts time
// since the node last became Active.
type NodeActivity struct {
	Activity Activity
	Elapsed  time.Duration
}

// SetIntrospection enables or disables the introspection feed. While
// disabled no bookkeeping happens at all.
func (s *State) SetIntrospection(enabled bool) {
	switch {
	case enabled && s.activity == nil:
		s.activity = make(map[graph.NodeID]*NodeActivity)
	case !enabled:
		s.activity = nil
	}
}

// IntrospectionEnabled reports whether the feed is on.
func (s *State) IntrospectionEnabled() bool { return s.activity != nil }

// Introspection returns the activity record for node. Nodes never entered
// since introspection was enabled report Unvisited.
func (s *State) Introspection(node graph.NodeID) NodeActivity {
	if a, ok := s.activity[node]; ok {
		return *a
	}
	return NodeActivity{}
}

// AdvanceIntrospection adds dt to every Active node's elapsed time.
func (s *State) AdvanceIntrospection(dt time.Duration) {
	for _, a := range s.activity {
		if a.Activity == Active {
			a.Elapsed += dt
		}
	}
}

func (s *State) markActive(node graph.NodeID) {
	if s.activity == nil {
		return
	}
	a, ok := s.activity[node]
	if !ok {
		a = &NodeActivity{}
		s.activity[node] = a
	}
	if a.Activity != Active {
		*a = NodeActivity{Activity: Active}
	}
}

func (s *State) markVisited(node graph.NodeID) {
	if a, ok := s.activity[node]; ok {
		a.Activity = Visited
	}
}
