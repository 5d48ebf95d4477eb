package nodes

import (
	"errors"
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
)

// StartNode is the entry point. Pins: 0 flow out.
type StartNode struct{ base }

func Start() *StartNode {
	return &StartNode{base{"start", []graph.PinKind{flowOut}}}
}

func (*StartNode) IsEntryPoint() bool { return true }

func (*StartNode) Update(*engine.Context, time.Duration, *graph.Node, script.NodeData) engine.Result {
	return engine.Done(0, 0)
}

// SequenceNode passes flow straight through. Connecting its output to
// several nodes runs them as parallel threads.
// Pins: 0 flow in, 1 flow out.
type SequenceNode struct{ base }

func Sequence() *SequenceNode {
	return &SequenceNode{base{"sequence", []graph.PinKind{flowIn, flowOut}}}
}

func (*SequenceNode) Update(*engine.Context, time.Duration, *graph.Node, script.NodeData) engine.Result {
	return engine.Done(1, 0)
}

// StopNode terminates the thread reaching it. Pins: 0 flow in.
type StopNode struct{ base }

func Stop() *StopNode {
	return &StopNode{base{"stop", []graph.PinKind{flowIn}}}
}

func (*StopNode) Update(*engine.Context, time.Duration, *graph.Node, script.NodeData) engine.Result {
	return engine.Terminate()
}

type waitSettings struct {
	Time float64 `mapstructure:"time"`
}

// WaitNode holds the thread for a fixed time, then continues with whatever
// budget is left. Each thread waits independently.
// Settings: time (seconds, default 1). Pins: 0 flow in, 1 flow out.
type WaitNode struct {
	base
	settings *settingsCache[waitSettings]
}

func Wait() *WaitNode {
	return &WaitNode{
		base: base{"wait", []graph.PinKind{flowIn, flowOut}},
		settings: newSettingsCache(
			func() waitSettings { return waitSettings{Time: 1} },
			func(s waitSettings) error { return nonNegative("time", s.Time) },
		),
	}
}

func (n *WaitNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (n *WaitNode) Update(ctx *engine.Context, dt time.Duration, node *graph.Node, _ script.NodeData) engine.Result {
	remaining := seconds(n.settings.get(node).Time) - ctx.NodeElapsed()
	if remaining <= dt {
		return engine.Done(1, max(remaining, 0))
	}
	return engine.Executing()
}

type joinSettings struct {
	Inputs int `mapstructure:"inputs"`
}

// JoinNode merges threads. The first arrivals park; the one completing the
// count absorbs them and continues alone. The count is of threads still
// parked, so a branch aborted while waiting has to arrive again.
// Settings: inputs (default 2). Pins: 0 flow in, 1 flow out.
type JoinNode struct {
	base
	settings *settingsCache[joinSettings]
}

func Join() *JoinNode {
	return &JoinNode{
		base: base{"join", []graph.PinKind{flowIn, flowOut}},
		settings: newSettingsCache(
			func() joinSettings { return joinSettings{Inputs: 2} },
			func(s joinSettings) error {
				if s.Inputs < 1 {
					return errors.New("inputs must be at least 1")
				}
				return nil
			},
		),
	}
}

func (n *JoinNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (*JoinNode) InitData(*graph.Node) script.NodeData { return &script.JoinData{} }

func (n *JoinNode) Update(ctx *engine.Context, _ time.Duration, node *graph.Node, data script.NodeData) engine.Result {
	d := data.(*script.JoinData)
	d.Arrived = int64(ctx.Parked()) + 1
	if d.Arrived < int64(n.settings.get(node).Inputs) {
		return engine.MergeAndWait()
	}
	d.Arrived = 0
	return engine.MergeAndContinue(1)
}
