package nodes

import (
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/value"
)

type forLoopSettings struct {
	LoopCount int64 `mapstructure:"loopCount"`
}

// ForLoopNode runs its body a fixed number of times, then continues.
// Settings: loopCount (default 0).
// Pins: 0 flow in, 1 flow out after the loop, 2 flow out per iteration.
type ForLoopNode struct {
	base
	keeper
	settings *settingsCache[forLoopSettings]
}

func ForLoop() *ForLoopNode {
	return &ForLoopNode{
		base: base{"forLoop", []graph.PinKind{flowIn, flowOut, flowOut}},
		settings: newSettingsCache(
			func() forLoopSettings { return forLoopSettings{} },
			nil,
		),
	}
}

func (n *ForLoopNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (*ForLoopNode) InitData(*graph.Node) script.NodeData { return &script.LoopData{} }

func (*ForLoopNode) IsStackRollbackPoint(_ *graph.Node, pin graph.PinID) bool { return pin == 2 }

func (n *ForLoopNode) Update(_ *engine.Context, _ time.Duration, node *graph.Node, data script.NodeData) engine.Result {
	d := data.(*script.LoopData)
	if d.Iterations >= n.settings.get(node).LoopCount {
		return engine.Done(1, 0)
	}
	d.Iterations++
	return engine.Done(2, 0)
}

// WhileLoopNode runs its body while its condition reads true. An
// unconnected condition loops forever.
// Pins: 0 flow in, 1 data in condition, 2 flow out after, 3 flow out per
// iteration.
type WhileLoopNode struct{ base }

func WhileLoop() *WhileLoopNode {
	return &WhileLoopNode{base{"whileLoop", []graph.PinKind{flowIn, dataIn, flowOut, flowOut}}}
}

func (*WhileLoopNode) IsStackRollbackPoint(_ *graph.Node, pin graph.PinID) bool { return pin == 3 }

func (*WhileLoopNode) Update(ctx *engine.Context, _ time.Duration, _ *graph.Node, _ script.NodeData) engine.Result {
	if value.AsBool(ctx.ReadDataPin(1), true) {
		return engine.Done(3, 0)
	}
	return engine.Done(2, 0)
}

type lerpSettings struct {
	Time float64 `mapstructure:"time"`
}

// LerpLoopNode runs its body once per tick for a duration, exposing
// progress from 0 to 1.
//
// Completion is checked before time is added, so the body always sees a
// progress of exactly 1 before the loop moves on to "after".
//
// Settings: time (seconds, default 1).
// Pins: 0 flow in, 1 flow out after, 2 flow out per iteration, 3 data out
// progress.
type LerpLoopNode struct {
	base
	keeper
	settings *settingsCache[lerpSettings]
}

func LerpLoop() *LerpLoopNode {
	return &LerpLoopNode{
		base: base{"lerpLoop", []graph.PinKind{flowIn, flowOut, flowOut, dataOut}},
		settings: newSettingsCache(
			func() lerpSettings { return lerpSettings{Time: 1} },
			func(s lerpSettings) error { return nonNegative("time", s.Time) },
		),
	}
}

func (n *LerpLoopNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (*LerpLoopNode) InitData(*graph.Node) script.NodeData { return &script.TimerData{} }

func (*LerpLoopNode) IsStackRollbackPoint(_ *graph.Node, pin graph.PinID) bool { return pin == 2 }

func (n *LerpLoopNode) Update(_ *engine.Context, dt time.Duration, node *graph.Node, data script.NodeData) engine.Result {
	d := data.(*script.TimerData)
	length := seconds(n.settings.get(node).Time)
	if d.Elapsed >= length {
		return engine.Done(1, 0)
	}
	step := min(length-d.Elapsed, dt)
	d.Elapsed += step
	return engine.Done(2, step)
}

func (n *LerpLoopNode) ReadData(_ *engine.Context, node *graph.Node, _ graph.PinID, data script.NodeData) value.Value {
	d, ok := data.(*script.TimerData)
	if !ok {
		return value.Float(0)
	}
	length := seconds(n.settings.get(node).Time)
	if length <= 0 {
		return value.Float(1)
	}
	return value.Float(min(max(float64(d.Elapsed)/float64(length), 0), 1))
}
