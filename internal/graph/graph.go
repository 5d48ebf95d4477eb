// Package graph defines the immutable script graph the engine walks: nodes,
// typed pins and the connections between them.
//
// A Graph is built once (Build) and never mutated. It may contain cycles.
// Its content hash identifies it; script states record the hash they were
// built against so an edited graph is never resumed with stale state.
package graph

import (
	"fmt"

	"github.com/roach88/flowscript/internal/value"
)

// NodeID identifies a node within a graph. IDs are dense: 0..len(nodes)-1.
type NodeID uint32

// PinID indexes a node's pin list.
type PinID uint8

// MaxFanOut is the maximum number of connections a single flow output may have.
const MaxFanOut = 8

// PinKind describes a pin's element type and direction.
type PinKind uint8

const (
	FlowIn PinKind = iota
	FlowOut
	DataIn
	DataOut
)

var pinKindNames = [...]string{
	FlowIn:  "flow_in",
	FlowOut: "flow_out",
	DataIn:  "data_in",
	DataOut: "data_out",
}

func (k PinKind) String() string {
	if int(k) < len(pinKindNames) {
		return pinKindNames[k]
	}
	return fmt.Sprintf("pin_kind(%d)", uint8(k))
}

// ParsePinKind maps a pin kind name to its PinKind.
func ParsePinKind(s string) (PinKind, error) {
	for i, name := range pinKindNames {
		if name == s {
			return PinKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pin kind %q", s)
}

// IsFlow reports whether the pin carries control flow.
func (k PinKind) IsFlow() bool { return k == FlowIn || k == FlowOut }

// IsInput reports whether the pin is an input.
func (k PinKind) IsInput() bool { return k == FlowIn || k == DataIn }

// Endpoint is one end of a connection.
type Endpoint struct {
	Node NodeID
	Pin  PinID
}

// Pin is a typed connection point on a node.
// Output pins list their targets, input pins list their sources.
type Pin struct {
	Kind        PinKind
	Connections []Endpoint
}

// Node is a single graph node.
type Node struct {
	ID       NodeID
	Type     string
	Settings value.Map
	Pins     []Pin
}

// Setting returns the named setting, or Null when absent.
func (n *Node) Setting(name string) value.Value {
	if v, ok := n.Settings[name]; ok {
		return v
	}
	return value.Null{}
}

// Pin returns the pin with the given id.
func (n *Node) Pin(id PinID) (*Pin, bool) {
	if int(id) >= len(n.Pins) {
		return nil, false
	}
	return &n.Pins[id], true
}

// Connections returns the endpoints connected to pin id, or nil.
func (n *Node) Connections(id PinID) []Endpoint {
	if p, ok := n.Pin(id); ok {
		return p.Connections
	}
	return nil
}

// FirstPin returns the first pin of the given kind.
func (n *Node) FirstPin(kind PinKind) (PinID, bool) {
	for i, p := range n.Pins {
		if p.Kind == kind {
			return PinID(i), true
		}
	}
	return 0, false
}

// Graph is an immutable, possibly cyclic, node graph.
type Graph struct {
	name  string
	nodes []Node
	hash  uint64
}

// Name returns the graph's display name. It is not part of the hash.
func (g *Graph) Name() string { return g.name }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	if int(id) >= len(g.nodes) {
		return nil, false
	}
	return &g.nodes[id], true
}

// Nodes returns all nodes in id order. Callers must not modify them.
func (g *Graph) Nodes() []Node { return g.nodes }

// Hash returns the content hash computed at build time.
func (g *Graph) Hash() uint64 { return g.hash }

// NodeSpec describes a node to Build.
type NodeSpec struct {
	ID       NodeID
	Type     string
	Settings value.Map
	Pins     []PinKind
}

// Edge connects an output pin to an input pin.
type Edge struct {
	From    NodeID
	FromPin PinID
	To      NodeID
	ToPin   PinID
}

// Build assembles a Graph from node specs and edges.
// It fails on structural problems that make the graph unaddressable:
// sparse or duplicate ids, dangling endpoints, and edges whose pin kinds
// do not line up. Softer authoring checks live in Validate.
func Build(name string, specs []NodeSpec, edges []Edge) (*Graph, error) {
	var errs ValidationErrors

	nodes := make([]Node, len(specs))
	seen := make([]bool, len(specs))
	for i, spec := range specs {
		if int(spec.ID) >= len(specs) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("nodes[%d].id", i),
				Message: fmt.Sprintf("node id %d out of range (ids must be 0..%d)", spec.ID, len(specs)-1),
				Code:    ErrSparseNodeID,
			})
			continue
		}
		if seen[spec.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("nodes[%d].id", i),
				Message: fmt.Sprintf("duplicate node id %d", spec.ID),
				Code:    ErrDuplicateNodeID,
			})
			continue
		}
		seen[spec.ID] = true

		settings := spec.Settings
		if settings == nil {
			settings = value.Map{}
		}
		pins := make([]Pin, len(spec.Pins))
		for j, kind := range spec.Pins {
			pins[j] = Pin{Kind: kind}
		}
		nodes[spec.ID] = Node{ID: spec.ID, Type: spec.Type, Settings: settings, Pins: pins}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	for i, e := range edges {
		field := fmt.Sprintf("edges[%d]", i)
		from, ok := pinAt(nodes, e.From, e.FromPin)
		if !ok {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("source %d:%d does not exist", e.From, e.FromPin),
				Code:    ErrDanglingEdge,
			})
			continue
		}
		to, ok := pinAt(nodes, e.To, e.ToPin)
		if !ok {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("target %d:%d does not exist", e.To, e.ToPin),
				Code:    ErrDanglingEdge,
			})
			continue
		}
		if from.Kind.IsInput() || !to.Kind.IsInput() || from.Kind.IsFlow() != to.Kind.IsFlow() {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("cannot connect %s %d:%d to %s %d:%d", from.Kind, e.From, e.FromPin, to.Kind, e.To, e.ToPin),
				Code:    ErrPinMismatch,
			})
			continue
		}
		from.Connections = append(from.Connections, Endpoint{Node: e.To, Pin: e.ToPin})
		to.Connections = append(to.Connections, Endpoint{Node: e.From, Pin: e.FromPin})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	g := &Graph{name: name, nodes: nodes}
	h, err := contentHash(g)
	if err != nil {
		return nil, fmt.Errorf("hash graph %q: %w", name, err)
	}
	g.hash = h
	return g, nil
}

func pinAt(nodes []Node, id NodeID, pin PinID) (*Pin, bool) {
	if int(id) >= len(nodes) {
		return nil, false
	}
	return nodes[id].Pin(pin)
}
