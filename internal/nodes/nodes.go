// Package nodes is the built-in node catalogue: the entry point, loops,
// timers, flow control, variables and the host effects.
//
// Pin numbering is part of each type's contract and is what graph files
// refer to in edges. Every type documents its layout.
package nodes

import (
	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
)

const (
	flowIn  = graph.FlowIn
	flowOut = graph.FlowOut
	dataIn  = graph.DataIn
	dataOut = graph.DataOut
)

// base supplies the name and fixed pin layout of a node type.
type base struct {
	name string
	pins []graph.PinKind
}

func (b base) Name() string { return b.name }

func (b base) Pins(*graph.Node) []graph.PinKind { return b.pins }

// keeper is embedded by types whose data outlives the threads visiting them.
type keeper struct{}

func (keeper) KeepsData() bool { return true }

// Catalogue returns a catalogue with every built-in node type.
func Catalogue() *engine.Catalogue {
	return engine.NewCatalogue(
		Start(),
		Sequence(),
		Stop(),
		Wait(),
		Join(),
		ForLoop(),
		WhileLoop(),
		LerpLoop(),
		EveryFrame(),
		EveryTime(),
		Variable(),
		SetVariable(),
		Constant(),
		Latch(),
		PlayMusic(),
		StopMusic(),
		SetProperty(),
		SendMessage(),
		Log(),
	)
}
