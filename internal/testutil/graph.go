package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/nodes"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/value"
)

// ProbeType is the node type name of Recorder probes.
const ProbeType = "probe"

// Event is one probe hit.
type Event struct {
	Probe string
	Frame int64
	Value value.Value
}

// Recorder collects probe hits. Probes are passthrough nodes that log
// their "name" setting and the value on their data input each time flow
// passes, optionally charging a "cost" in seconds.
//
// Pins: 0 flow in, 1 flow out, 2 data in.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Events returns a copy of the recorded hits in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the probe names hit, in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Probe
	}
	return names
}

// Count returns how many times the named probe was hit.
func (r *Recorder) Count(probe string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Probe == probe {
			n++
		}
	}
	return n
}

// Reset forgets all recorded hits.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *Recorder) Name() string { return ProbeType }

func (r *Recorder) Pins(*graph.Node) []graph.PinKind {
	return []graph.PinKind{graph.FlowIn, graph.FlowOut, graph.DataIn}
}

func (r *Recorder) Update(ctx *engine.Context, _ time.Duration, node *graph.Node, _ script.NodeData) engine.Result {
	e := Event{
		Probe: value.AsString(node.Setting("name"), ""),
		Frame: ctx.Frame(),
		Value: ctx.ReadDataPin(2),
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()

	cost := value.AsFloat(node.Setting("cost"), 0)
	return engine.Done(1, time.Duration(cost*float64(time.Second)))
}

// Catalogue returns the built-in catalogue plus r's probe type.
func (r *Recorder) Catalogue() *engine.Catalogue {
	cat := nodes.Catalogue()
	if err := cat.Register(r); err != nil {
		panic(err)
	}
	return cat
}

// GraphBuilder assembles graphs in tests using the pin layouts of a
// catalogue, so callers only name node types and wire pins.
type GraphBuilder struct {
	name  string
	cat   *engine.Catalogue
	specs []graph.NodeSpec
	edges []graph.Edge
}

// NewGraphBuilder creates a builder resolving pin layouts from cat.
func NewGraphBuilder(name string, cat *engine.Catalogue) *GraphBuilder {
	return &GraphBuilder{name: name, cat: cat}
}

// Add appends a node and returns its id. Unknown types get no pins.
func (b *GraphBuilder) Add(typ string, settings value.Map) graph.NodeID {
	var pins []graph.PinKind
	if nt, ok := b.cat.Lookup(typ); ok {
		pins = nt.Pins(&graph.Node{Type: typ, Settings: settings})
	}
	return b.AddWithPins(typ, settings, pins...)
}

// AddWithPins appends a node with an explicit pin layout.
func (b *GraphBuilder) AddWithPins(typ string, settings value.Map, pins ...graph.PinKind) graph.NodeID {
	id := graph.NodeID(len(b.specs))
	b.specs = append(b.specs, graph.NodeSpec{ID: id, Type: typ, Settings: settings, Pins: pins})
	return id
}

// Probe appends a recorder probe.
func (b *GraphBuilder) Probe(name string) graph.NodeID {
	return b.AddWithPins(ProbeType, value.Map{"name": value.String(name)},
		graph.FlowIn, graph.FlowOut, graph.DataIn)
}

// Connect wires an output pin to an input pin.
func (b *GraphBuilder) Connect(from graph.NodeID, fromPin graph.PinID, to graph.NodeID, toPin graph.PinID) *GraphBuilder {
	b.edges = append(b.edges, graph.Edge{From: from, FromPin: fromPin, To: to, ToPin: toPin})
	return b
}

// Flow connects a flow output to a node's flow input (pin 0).
func (b *GraphBuilder) Flow(from graph.NodeID, fromPin graph.PinID, to graph.NodeID) *GraphBuilder {
	return b.Connect(from, fromPin, to, 0)
}

// Build builds the graph, failing the test on error.
func (b *GraphBuilder) Build(t testing.TB) *graph.Graph {
	t.Helper()
	g, err := graph.Build(b.name, b.specs, b.edges)
	require.NoError(t, err)
	return g
}

// Program builds and compiles the graph, failing the test on error.
func (b *GraphBuilder) Program(t testing.TB) *engine.Program {
	t.Helper()
	prog, err := engine.Compile(b.Build(t), b.cat)
	require.NoError(t, err)
	return prog
}
