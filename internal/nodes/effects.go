package nodes

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/value"
)

type musicSettings struct {
	Track string  `mapstructure:"track"`
	Fade  float64 `mapstructure:"fade"`
}

// PlayMusicNode asks the host to play a track.
// Settings: track, fade (seconds). Pins: 0 flow in, 1 flow out.
type PlayMusicNode struct {
	base
	settings *settingsCache[musicSettings]
}

func PlayMusic() *PlayMusicNode {
	return &PlayMusicNode{
		base: base{"playMusic", []graph.PinKind{flowIn, flowOut}},
		settings: newSettingsCache(
			func() musicSettings { return musicSettings{} },
			func(s musicSettings) error {
				if s.Track == "" {
					return errors.New("track is required")
				}
				return nonNegative("fade", s.Fade)
			},
		),
	}
}

func (n *PlayMusicNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (n *PlayMusicNode) Update(ctx *engine.Context, _ time.Duration, node *graph.Node, _ script.NodeData) engine.Result {
	s := n.settings.get(node)
	ctx.Host().PlayMusic(s.Track, seconds(s.Fade))
	return engine.Done(1, 0)
}

// StopMusicNode asks the host to stop the music.
// Settings: fade (seconds). Pins: 0 flow in, 1 flow out.
type StopMusicNode struct {
	base
	settings *settingsCache[musicSettings]
}

func StopMusic() *StopMusicNode {
	return &StopMusicNode{
		base: base{"stopMusic", []graph.PinKind{flowIn, flowOut}},
		settings: newSettingsCache(
			func() musicSettings { return musicSettings{} },
			func(s musicSettings) error { return nonNegative("fade", s.Fade) },
		),
	}
}

func (n *StopMusicNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (n *StopMusicNode) Update(ctx *engine.Context, _ time.Duration, node *graph.Node, _ script.NodeData) engine.Result {
	ctx.Host().StopMusic(seconds(n.settings.get(node).Fade))
	return engine.Done(1, 0)
}

type propertySettings struct {
	Entity   string `mapstructure:"entity"`
	Property string `mapstructure:"property"`
}

// SetPropertyNode sets a property on an entity (the script's own when
// "entity" is empty) from its data input or "value" setting. A missing
// entity is logged and the write dropped.
// Settings: entity, property, value. Pins: 0 flow in, 1 flow out, 2 data in.
type SetPropertyNode struct {
	base
	settings *settingsCache[propertySettings]
}

func SetProperty() *SetPropertyNode {
	return &SetPropertyNode{
		base: base{"setProperty", []graph.PinKind{flowIn, flowOut, dataIn}},
		settings: newSettingsCache(
			func() propertySettings { return propertySettings{} },
			func(s propertySettings) error {
				if s.Property == "" {
					return errors.New("property is required")
				}
				return nil
			},
		),
	}
}

func (n *SetPropertyNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (n *SetPropertyNode) Update(ctx *engine.Context, _ time.Duration, node *graph.Node, _ script.NodeData) engine.Result {
	s := n.settings.get(node)
	target, err := ctx.Target(s.Entity)
	if err == nil {
		err = ctx.Host().SetEntityProperty(target, s.Property, inputOrSetting(ctx, node, 2, "value"))
	}
	ctx.Report(err)
	return engine.Done(1, 0)
}

type messageSettings struct {
	Target  string `mapstructure:"target"`
	Message string `mapstructure:"message"`
}

// SendMessageNode sends a message with an optional payload to an entity.
// A missing target is logged and the message dropped.
// Settings: target, message. Pins: 0 flow in, 1 flow out, 2 data in payload.
type SendMessageNode struct {
	base
	settings *settingsCache[messageSettings]
}

func SendMessage() *SendMessageNode {
	return &SendMessageNode{
		base: base{"sendMessage", []graph.PinKind{flowIn, flowOut, dataIn}},
		settings: newSettingsCache(
			func() messageSettings { return messageSettings{} },
			func(s messageSettings) error {
				if s.Message == "" {
					return errors.New("message is required")
				}
				return nil
			},
		),
	}
}

func (n *SendMessageNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (n *SendMessageNode) Update(ctx *engine.Context, _ time.Duration, node *graph.Node, _ script.NodeData) engine.Result {
	s := n.settings.get(node)
	target, err := ctx.Target(s.Target)
	if err == nil {
		err = ctx.Host().SendMessage(ctx.Entity(), target, s.Message, ctx.ReadDataPin(2))
	}
	ctx.Report(err)
	return engine.Done(1, 0)
}

type logSettings struct {
	Message string `mapstructure:"message"`
	Level   string `mapstructure:"level"`
}

// LogNode writes a log line, with its data input attached when connected.
// Settings: message, level (debug, info, warn, error; default info).
// Pins: 0 flow in, 1 flow out, 2 data in.
type LogNode struct {
	base
	settings *settingsCache[logSettings]
}

func Log() *LogNode {
	return &LogNode{
		base: base{"log", []graph.PinKind{flowIn, flowOut, dataIn}},
		settings: newSettingsCache(
			func() logSettings { return logSettings{Level: "info"} },
			func(s logSettings) error {
				var l slog.Level
				return l.UnmarshalText([]byte(s.Level))
			},
		),
	}
}

func (n *LogNode) ValidateSettings(node *graph.Node) error { return n.settings.validate(node) }

func (n *LogNode) Update(ctx *engine.Context, _ time.Duration, node *graph.Node, _ script.NodeData) engine.Result {
	s := n.settings.get(node)
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Level)); err != nil {
		level = slog.LevelInfo
	}
	args := []any{"frame", ctx.Frame()}
	if len(node.Connections(2)) > 0 {
		args = append(args, "value", value.ToAny(ctx.ReadDataPin(2)))
	}
	ctx.Logger().Log(context.Background(), level, s.Message, args...)
	return engine.Done(1, 0)
}
