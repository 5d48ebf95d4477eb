package nodes

import (
	"errors"
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/value"
)

// EveryFrameNode pulses once per frame and keeps listening.
// Pins: 0 flow in, 1 flow out pulse, 2 data out frame delta (seconds).
type EveryFrameNode struct {
	base
	keeper
}

func EveryFrame() *EveryFrameNode {
	return &EveryFrameNode{base: base{"everyFrame", []graph.PinKind{flowIn, flowOut, dataOut}}}
}

func (*EveryFrameNode) InitData(*graph.Node) script.NodeData {
	return &script.FrameData{LastFrame: -1}
}

func (*EveryFrameNode) Update(ctx *engine.Context, _ time.Duration, _ *graph.Node, data script.NodeData) engine.Result {
	d := data.(*script.FrameData)
	if ctx.Frame() == d.LastFrame {
		return engine.Executing()
	}
	d.LastFrame = ctx.Frame()
	return engine.Fork(1, 0)
}

func (*EveryFrameNode) ReadData(ctx *engine.Context, _ *graph.Node, _ graph.PinID, _ script.NodeData) value.Value {
	return value.Float(ctx.Delta().Seconds())
}

type everyTimeSettings struct {
	Time float64 `mapstructure:"time"`
}

// EveryTimeNode pulses periodically and keeps listening. It fires
// immediately when first reached, then once per period.
//
// It fires at most once per tick: a delta spanning several periods yields
// a single pulse, and the phase restarts from zero at the pulse.
//
// Settings: time (seconds, default 1). Pins: 0 flow in, 1 flow out pulse.
type EveryTimeNode struct {
	base
	keeper
	settings *settingsCache[everyTimeSettings]
}

func EveryTime() *EveryTimeNode {
	return &EveryTimeNode{
		base: base{"everyTime", []graph.PinKind{flowIn, flowOut}},
		settings: newSettingsCache(
			func() everyTimeSettings { return everyTimeSettings{Time: 1} },
			func(s everyTimeSettings) error {
				if !(s.Time > 0) {
					return errors.New("time must be > 0")
				}
				return nil
			},
		),
	}
}

func (n *EveryTimeNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (n *EveryTimeNode) InitData(node *graph.Node) script.NodeData {
	return &script.TimerData{Elapsed: seconds(n.settings.get(node).Time)}
}

func (n *EveryTimeNode) Update(_ *engine.Context, dt time.Duration, node *graph.Node, data script.NodeData) engine.Result {
	d := data.(*script.TimerData)
	period := seconds(n.settings.get(node).Time)
	toNext := max(period-d.Elapsed, 0)
	if toNext <= dt {
		d.Elapsed = 0
		return engine.Fork(1, toNext)
	}
	d.Elapsed += dt
	return engine.Executing()
}
