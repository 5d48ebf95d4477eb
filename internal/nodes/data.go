package nodes

import (
	"errors"
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/value"
)

type variableSettings struct {
	Variable string `mapstructure:"variable"`
}

func checkVariableName(s variableSettings) error {
	if s.Variable == "" {
		return errors.New("variable name is required")
	}
	return nil
}

// VariableNode reads a script variable.
// Settings: variable. Pins: 0 data out.
type VariableNode struct {
	base
	settings *settingsCache[variableSettings]
}

func Variable() *VariableNode {
	return &VariableNode{
		base:     base{"variable", []graph.PinKind{dataOut}},
		settings: newSettingsCache(func() variableSettings { return variableSettings{} }, checkVariableName),
	}
}

func (n *VariableNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (*VariableNode) Update(*engine.Context, time.Duration, *graph.Node, script.NodeData) engine.Result {
	return engine.Terminate()
}

func (n *VariableNode) ReadData(ctx *engine.Context, node *graph.Node, _ graph.PinID, _ script.NodeData) value.Value {
	return ctx.Variable(n.settings.get(node).Variable)
}

// SetVariableNode writes a script variable from its data input, or from
// the "value" setting when the input is unconnected.
// Settings: variable, value. Pins: 0 flow in, 1 flow out, 2 data in.
type SetVariableNode struct {
	base
	settings *settingsCache[variableSettings]
}

func SetVariable() *SetVariableNode {
	return &SetVariableNode{
		base:     base{"setVariable", []graph.PinKind{flowIn, flowOut, dataIn}},
		settings: newSettingsCache(func() variableSettings { return variableSettings{} }, checkVariableName),
	}
}

func (n *SetVariableNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (n *SetVariableNode) Update(ctx *engine.Context, _ time.Duration, node *graph.Node, _ script.NodeData) engine.Result {
	ctx.SetVariable(n.settings.get(node).Variable, inputOrSetting(ctx, node, 2, "value"))
	return engine.Done(1, 0)
}

// ConstantNode outputs its "value" setting. Pins: 0 data out.
type ConstantNode struct{ base }

func Constant() *ConstantNode {
	return &ConstantNode{base{"constant", []graph.PinKind{dataOut}}}
}

func (*ConstantNode) Update(*engine.Context, time.Duration, *graph.Node, script.NodeData) engine.Result {
	return engine.Terminate()
}

func (*ConstantNode) ReadData(_ *engine.Context, node *graph.Node, _ graph.PinID, _ script.NodeData) value.Value {
	return node.Setting("value")
}

// LatchNode samples its data input when flow passes through and keeps
// outputting that sample after flow has moved on.
// Pins: 0 flow in, 1 flow out, 2 data in, 3 data out.
type LatchNode struct {
	base
	keeper
}

func Latch() *LatchNode {
	return &LatchNode{base: base{"latch", []graph.PinKind{flowIn, flowOut, dataIn, dataOut}}}
}

func (*LatchNode) InitData(*graph.Node) script.NodeData {
	return &script.LatchData{Value: value.Null{}}
}

func (*LatchNode) Update(ctx *engine.Context, _ time.Duration, _ *graph.Node, data script.NodeData) engine.Result {
	data.(*script.LatchData).Value = ctx.ReadDataPin(2)
	return engine.Done(1, 0)
}

func (*LatchNode) ReadData(_ *engine.Context, _ *graph.Node, _ graph.PinID, data script.NodeData) value.Value {
	if d, ok := data.(*script.LatchData); ok {
		return d.Value
	}
	return value.Null{}
}

// inputOrSetting reads a data input, falling back to a setting when the
// pin is unconnected.
func inputOrSetting(ctx *engine.Context, node *graph.Node, pin graph.PinID, setting string) value.Value {
	if len(node.Connections(pin)) > 0 {
		return ctx.ReadDataPin(pin)
	}
	return node.Setting(setting)
}
