package nodes

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/value"
)

// decodeSettings decodes a node's settings onto out, which holds defaults.
// Numbers convert freely between int and float and numeric strings parse,
// matching how authoring tools tend to write them. Unknown keys are ignored
// so editor metadata can live alongside settings.
func decodeSettings(node *graph.Node, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	raw, _ := value.ToAny(node.Settings).(map[string]any)
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%s settings: %w", node.Type, err)
	}
	return nil
}

// settingsCache decodes each node's settings once. Graphs are immutable, so
// node pointers are stable keys for the program's lifetime.
type settingsCache[T any] struct {
	defaults func() T
	check    func(T) error
	m        sync.Map // *graph.Node -> T
}

func newSettingsCache[T any](defaults func() T, check func(T) error) *settingsCache[T] {
	return &settingsCache[T]{defaults: defaults, check: check}
}

func (c *settingsCache[T]) decode(node *graph.Node) (T, error) {
	s := c.defaults()
	if err := decodeSettings(node, &s); err != nil {
		return s, err
	}
	if c.check != nil {
		if err := c.check(s); err != nil {
			return s, fmt.Errorf("%s settings: %w", node.Type, err)
		}
	}
	return s, nil
}

// get returns the node's settings, falling back to defaults when they do not
// decode. Compile has already flagged such nodes.
func (c *settingsCache[T]) get(node *graph.Node) T {
	if s, ok := c.m.Load(node); ok {
		return s.(T)
	}
	s, err := c.decode(node)
	if err != nil {
		s = c.defaults()
	}
	c.m.Store(node, s)
	return s
}

func (c *settingsCache[T]) validate(node *graph.Node) error {
	_, err := c.decode(node)
	return err
}

// seconds converts authoring-time seconds to a Duration, saturating instead
// of overflowing.
func seconds(s float64) time.Duration {
	d := s * float64(time.Second)
	switch {
	case math.IsNaN(d) || d <= 0:
		return 0
	case d >= math.MaxInt64:
		return math.MaxInt64
	}
	return time.Duration(d)
}

func nonNegative(name string, v float64) error {
	if math.IsNaN(v) || v < 0 {
		return fmt.Errorf("%s must be >= 0, got %v", name, v)
	}
	return nil
}
