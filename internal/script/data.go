package script

import (
	"fmt"
	"time"

	"github.com/roach88/flowscript/internal/value"
)

// DataKind tags each NodeData shape in snapshots.
type DataKind string

const (
	DataLoop  DataKind = "loop"
	DataTimer DataKind = "timer"
	DataFrame DataKind = "frame"
	DataJoin  DataKind = "join"
	DataLatch DataKind = "latch"
)

// NodeData is the per-node persistent payload. It is a closed union: node
// types pick one of the shapes below and assert it at access time.
type NodeData interface {
	DataKind() DataKind
	fields() value.Map
}

// LoopData counts completed iterations of a counting loop.
type LoopData struct {
	Iterations int64
}

// TimerData accumulates time for ramps, delays and periodic pulses.
type TimerData struct {
	Elapsed time.Duration
}

// FrameData remembers the last frame a per-frame node fired on.
type FrameData struct {
	LastFrame int64
}

// JoinData counts branches that have arrived at a join.
type JoinData struct {
	Arrived int64
}

// LatchData holds a value that must stay readable after flow moves on.
type LatchData struct {
	Value value.Value
}

func (*LoopData) DataKind() DataKind  { return DataLoop }
func (*TimerData) DataKind() DataKind { return DataTimer }
func (*FrameData) DataKind() DataKind { return DataFrame }
func (*JoinData) DataKind() DataKind  { return DataJoin }
func (*LatchData) DataKind() DataKind { return DataLatch }

func (d *LoopData) fields() value.Map {
	return value.Map{"iterations": value.Int(d.Iterations)}
}

func (d *TimerData) fields() value.Map {
	return value.Map{"elapsed": value.Int(d.Elapsed)}
}

func (d *FrameData) fields() value.Map {
	return value.Map{"last_frame": value.Int(d.LastFrame)}
}

func (d *JoinData) fields() value.Map {
	return value.Map{"arrived": value.Int(d.Arrived)}
}

func (d *LatchData) fields() value.Map {
	return value.Map{"value": value.Tag(d.Value)}
}

func encodeNodeData(d NodeData) value.Map {
	m := d.fields()
	m["kind"] = value.String(d.DataKind())
	return m
}

func decodeNodeData(v value.Value) (NodeData, error) {
	m, ok := v.(value.Map)
	if !ok {
		return nil, fmt.Errorf("node data must be a map")
	}
	kind, _ := m["kind"].(value.String)

	intField := func(name string) (int64, error) {
		n, ok := m[name].(value.Int)
		if !ok {
			return 0, fmt.Errorf("%s data missing integer %q", kind, name)
		}
		return int64(n), nil
	}

	switch DataKind(kind) {
	case DataLoop:
		n, err := intField("iterations")
		return &LoopData{Iterations: n}, err
	case DataTimer:
		n, err := intField("elapsed")
		return &TimerData{Elapsed: time.Duration(n)}, err
	case DataFrame:
		n, err := intField("last_frame")
		return &FrameData{LastFrame: n}, err
	case DataJoin:
		n, err := intField("arrived")
		return &JoinData{Arrived: n}, err
	case DataLatch:
		val, err := value.Untag(m["value"])
		if err != nil {
			return nil, fmt.Errorf("latch data: %w", err)
		}
		return &LatchData{Value: val}, nil
	default:
		return nil, fmt.Errorf("unknown node data kind %q", kind)
	}
}
