package engine

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
)

// Catalogue maps node type names to their behavior.
type Catalogue struct {
	types map[string]NodeType
}

// NewCatalogue creates a catalogue holding types. It panics on duplicate
// names, which are a programming error.
func NewCatalogue(types ...NodeType) *Catalogue {
	c := &Catalogue{types: make(map[string]NodeType, len(types))}
	for _, t := range types {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}
	return c
}

// Register adds a node type.
func (c *Catalogue) Register(t NodeType) error {
	if _, dup := c.types[t.Name()]; dup {
		return fmt.Errorf("node type %q already registered", t.Name())
	}
	c.types[t.Name()] = t
	return nil
}

// Lookup returns the node type registered under name.
func (c *Catalogue) Lookup(name string) (NodeType, bool) {
	t, ok := c.types[name]
	return t, ok
}

// Names returns registered type names in sorted order.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Program is a graph bound to the node types that run it. It is immutable
// and safe to share between goroutines.
type Program struct {
	graph *graph.Graph
	types []NodeType
	flags []graph.ValidationError

	entry    graph.NodeID
	hasEntry bool
}

// Compile binds every node of g to its type in cat.
//
// Graphs that violate hard limits (fan-out above graph.MaxFanOut, data
// inputs with several sources) are rejected. Authoring problems local to a
// node (unknown type, pin layout, settings) do not fail compilation: the
// node is flagged and runs as a no-op passthrough.
func Compile(g *graph.Graph, cat *Catalogue) (*Program, error) {
	if errs := graph.Validate(g); len(errs) > 0 {
		return nil, graph.ValidationErrors(errs)
	}

	p := &Program{graph: g, types: make([]NodeType, g.Len())}
	for i := range g.Nodes() {
		node := &g.Nodes()[i]
		nt, flag := bindNode(node, cat)
		p.types[node.ID] = nt
		if flag != nil {
			p.flags = append(p.flags, *flag)
			continue
		}
		if ep, ok := nt.(EntryPoint); ok && ep.IsEntryPoint() && !p.hasEntry {
			p.entry, p.hasEntry = node.ID, true
		}
	}
	if !p.hasEntry {
		p.flags = append(p.flags, graph.ValidationError{
			Field:   "nodes",
			Message: "graph has no entry node",
			Code:    graph.ErrNoEntryNode,
		})
	}
	return p, nil
}

func bindNode(node *graph.Node, cat *Catalogue) (NodeType, *graph.ValidationError) {
	id := node.ID
	field := fmt.Sprintf("nodes[%d]", id)

	nt, ok := cat.Lookup(node.Type)
	if !ok {
		return passthrough{}, &graph.ValidationError{
			Field:   field + ".type",
			Message: fmt.Sprintf("unknown node type %q", node.Type),
			Code:    graph.ErrUnknownNodeType,
			Node:    &id,
		}
	}

	want := nt.Pins(node)
	have := make([]graph.PinKind, len(node.Pins))
	for i, p := range node.Pins {
		have[i] = p.Kind
	}
	if !slices.Equal(want, have) {
		return passthrough{}, &graph.ValidationError{
			Field:   field + ".pins",
			Message: fmt.Sprintf("%s expects pins %v, node has %v", node.Type, want, have),
			Code:    graph.ErrPinLayout,
			Node:    &id,
		}
	}

	if sv, ok := nt.(SettingsValidator); ok {
		if err := sv.ValidateSettings(node); err != nil {
			return passthrough{}, &graph.ValidationError{
				Field:   field + ".settings",
				Message: err.Error(),
				Code:    graph.ErrInvalidSettings,
				Node:    &id,
			}
		}
	}
	return nt, nil
}

// Graph returns the compiled graph.
func (p *Program) Graph() *graph.Graph { return p.graph }

// Hash returns the graph's content hash.
func (p *Program) Hash() uint64 { return p.graph.Hash() }

// Flags returns the authoring problems found at compile time. Flagged nodes
// run as no-ops.
func (p *Program) Flags() []graph.ValidationError { return p.flags }

// Entry returns the node scripts start from.
func (p *Program) Entry() (graph.NodeID, bool) { return p.entry, p.hasEntry }

// Type returns the node type bound to id.
func (p *Program) Type(id graph.NodeID) NodeType {
	if int(id) < len(p.types) {
		return p.types[id]
	}
	return passthrough{}
}

// NewData implements script.DataPolicy.
func (p *Program) NewData(id graph.NodeID) script.NodeData {
	di, ok := p.Type(id).(DataInitializer)
	if !ok {
		return nil
	}
	node, ok := p.graph.Node(id)
	if !ok {
		return nil
	}
	return di.InitData(node)
}

// KeepsData implements script.DataPolicy.
func (p *Program) KeepsData(id graph.NodeID) bool {
	dk, ok := p.Type(id).(DataKeeper)
	return ok && dk.KeepsData()
}

func (p *Program) isRollbackPoint(node *graph.Node, pin graph.PinID) bool {
	rp, ok := p.Type(node.ID).(RollbackPointer)
	return ok && rp.IsStackRollbackPoint(node, pin)
}

var _ script.DataPolicy = (*Program)(nil)

// passthrough stands in for nodes that failed to compile. It leaves through
// the node's first flow output without using any time; a node with no flow
// output ends its branch.
type passthrough struct{}

func (passthrough) Name() string { return "passthrough" }

func (passthrough) Pins(node *graph.Node) []graph.PinKind {
	kinds := make([]graph.PinKind, len(node.Pins))
	for i, p := range node.Pins {
		kinds[i] = p.Kind
	}
	return kinds
}

func (passthrough) Update(_ *Context, _ time.Duration, node *graph.Node, _ script.NodeData) Result {
	out, _ := node.FirstPin(graph.FlowOut)
	return Done(out, 0)
}
