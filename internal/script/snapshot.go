package script

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/value"
)

// SnapshotVersion is the layout version written by Encode.
const SnapshotVersion = 1

// ErrGraphMismatch is returned by Resume when a snapshot was taken against a
// different graph than the one being resumed.
var ErrGraphMismatch = errors.New("script: graph hash mismatch")

// ErrMalformedSnapshot is returned by Resume when a snapshot cannot be read
// or does not fit the graph it is resumed against.
var ErrMalformedSnapshot = errors.New("script: malformed snapshot")

// Encode serializes the state to canonical JSON. Encoding the same state
// twice, or a state produced by Decode, yields identical bytes.
//
// Introspection is diagnostic and is not serialized.
func (s *State) Encode() ([]byte, error) {
	threads := make(value.List, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, encodeThread(t))
	}

	nodes := value.Map{}
	for id, ns := range s.nodes {
		if ns.empty() {
			continue
		}
		entry := value.Map{"threads": value.Int(ns.ThreadCount)}
		if ns.Data != nil {
			entry["data"] = encodeNodeData(ns.Data)
		}
		nodes[strconv.FormatUint(uint64(id), 10)] = entry
	}

	vars := value.Map{}
	for name, v := range s.variables {
		vars[name] = value.Tag(v)
	}

	data, err := value.MarshalCanonical(value.Map{
		"version":     value.Int(SnapshotVersion),
		"graph_hash":  value.String(graph.FormatHash(s.graphHash)),
		"started":     value.Bool(s.started),
		"persist":     value.Bool(s.persist),
		"restartable": value.Bool(s.restartable),
		"threads":     threads,
		"nodes":       nodes,
		"variables":   vars,
	})
	if err != nil {
		return nil, fmt.Errorf("encode script state: %w", err)
	}
	return data, nil
}

func encodeThread(t *Thread) value.Map {
	stack := make(value.List, len(t.stack))
	for i, f := range t.stack {
		stack[i] = value.List{value.Int(f.Node), value.Int(f.Pin)}
	}
	m := value.Map{
		"started":      value.Bool(t.entered),
		"stack":        stack,
		"time_slice":   value.Int(t.timeSlice),
		"node_elapsed": value.Int(t.nodeElapsed),
		"merging":      value.Bool(t.merging),
		"base":         value.Int(t.base),
	}
	if t.running {
		m["node"] = value.Int(t.node)
	}
	return m
}

// Decode parses a snapshot produced by Encode. It is strict: unknown
// versions, missing fields, out-of-range ids and thread counts that disagree
// with the thread list are all errors.
func Decode(data []byte) (*State, error) {
	s, err := decodeState(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}
	return s, nil
}

func decodeState(data []byte) (*State, error) {
	raw, err := value.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode script state: %w", err)
	}
	root, ok := raw.(value.Map)
	if !ok {
		return nil, errors.New("decode script state: snapshot must be an object")
	}
	d := decoder{m: root, path: "snapshot"}

	if v := d.int("version", 0, math.MaxInt32); d.err == nil && v != SnapshotVersion {
		return nil, fmt.Errorf("decode script state: unsupported version %d", v)
	}

	s := New()
	if hash := d.string("graph_hash"); d.err == nil {
		s.graphHash, d.err = graph.ParseHash(hash)
	}
	s.started = d.bool("started")
	s.persist = d.bool("persist")
	s.restartable = d.bool("restartable")

	for i, tv := range d.list("threads") {
		td, ok := tv.(value.Map)
		if !ok {
			return nil, fmt.Errorf("decode script state: threads[%d] must be an object", i)
		}
		t, err := decodeThread(decoder{m: td, path: fmt.Sprintf("threads[%d]", i)})
		if err != nil {
			return nil, fmt.Errorf("decode script state: %w", err)
		}
		s.threads = append(s.threads, t)
	}

	for key, nv := range d.mapField("nodes") {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("decode script state: node key %q: %w", key, err)
		}
		nm, ok := nv.(value.Map)
		if !ok {
			return nil, fmt.Errorf("decode script state: nodes[%s] must be an object", key)
		}
		nd := decoder{m: nm, path: "nodes[" + key + "]"}
		ns := &NodeState{ThreadCount: uint8(nd.int("threads", 0, math.MaxUint8))}
		if raw, ok := nm["data"]; ok {
			if ns.Data, err = decodeNodeData(raw); err != nil {
				return nil, fmt.Errorf("decode script state: nodes[%s]: %w", key, err)
			}
		}
		if nd.err != nil {
			return nil, fmt.Errorf("decode script state: %w", nd.err)
		}
		s.nodes[graph.NodeID(id)] = ns
	}

	for name, tagged := range d.mapField("variables") {
		v, err := value.Untag(tagged)
		if err != nil {
			return nil, fmt.Errorf("decode script state: variable %q: %w", name, err)
		}
		s.variables[name] = v
	}

	if d.err != nil {
		return nil, fmt.Errorf("decode script state: %w", d.err)
	}
	if err := s.checkThreadCounts(); err != nil {
		return nil, fmt.Errorf("decode script state: %w", err)
	}
	return s, nil
}

func decodeThread(d decoder) (*Thread, error) {
	t := &Thread{
		entered:     d.bool("started"),
		merging:     d.bool("merging"),
		timeSlice:   time.Duration(d.int("time_slice", 0, math.MaxInt64)),
		nodeElapsed: time.Duration(d.int("node_elapsed", 0, math.MaxInt64)),
		base:        int(d.int("base", 0, math.MaxInt32)),
	}
	if _, ok := d.m["node"]; ok {
		t.node = graph.NodeID(d.int("node", 0, math.MaxUint32))
		t.running = true
	}
	for i, fv := range d.list("stack") {
		pair, ok := fv.(value.List)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%s.stack[%d]: want [node, pin]", d.path, i)
		}
		node, nok := pair[0].(value.Int)
		pin, pok := pair[1].(value.Int)
		if !nok || !pok || node < 0 || node > math.MaxUint32 || pin < 0 || pin > math.MaxUint8 {
			return nil, fmt.Errorf("%s.stack[%d]: frame out of range", d.path, i)
		}
		t.stack = append(t.stack, StackFrame{Node: graph.NodeID(node), Pin: graph.PinID(pin)})
	}
	if d.err != nil {
		return nil, d.err
	}
	if t.base > len(t.stack) {
		return nil, fmt.Errorf("%s: base %d above stack depth %d", d.path, t.base, len(t.stack))
	}
	if !t.running && (t.entered || t.merging) {
		return nil, fmt.Errorf("%s: stopped thread marked started or merging", d.path)
	}
	return t, nil
}

// checkThreadCounts verifies every node's ThreadCount against the threads
// that claim to have entered it.
func (s *State) checkThreadCounts() error {
	counts := make(map[graph.NodeID]int)
	for _, t := range s.threads {
		if t.entered {
			counts[t.node]++
		}
	}
	for id, ns := range s.nodes {
		if int(ns.ThreadCount) != counts[id] {
			return fmt.Errorf("node %d: thread count %d, %d threads entered", id, ns.ThreadCount, counts[id])
		}
		delete(counts, id)
	}
	for id, n := range counts {
		return fmt.Errorf("node %d: %d threads entered but no node state", id, n)
	}
	return nil
}

// Resume decodes a snapshot for g. It always returns a usable state: when
// the payload is malformed, references nodes g does not have, or was taken
// against a different graph, the result is a fresh NotStarted state and the
// error says why.
func Resume(data []byte, g *graph.Graph) (*State, error) {
	return ResumeFor(data, g, nil)
}

// ResumeFor is Resume with an extra check that every saved node payload has
// the shape policy creates for that node. A nil policy skips the check.
func ResumeFor(data []byte, g *graph.Graph, policy DataPolicy) (*State, error) {
	s, err := Decode(data)
	if err != nil {
		return New(), err
	}
	if s.graphHash != g.Hash() {
		return New(), fmt.Errorf("%w: snapshot %s, graph %s",
			ErrGraphMismatch, graph.FormatHash(s.graphHash), graph.FormatHash(g.Hash()))
	}
	if err := s.checkNodeIDs(g.Len()); err != nil {
		return New(), fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}
	if policy != nil {
		if err := s.checkDataKinds(policy); err != nil {
			return New(), fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
		}
	}
	return s, nil
}

// checkDataKinds compares each node's saved data with what its node type
// would create.
func (s *State) checkDataKinds(policy DataPolicy) error {
	for id, ns := range s.nodes {
		if ns.Data == nil {
			continue
		}
		want := policy.NewData(id)
		if want == nil {
			return fmt.Errorf("node %d: %s data on a node that keeps none", id, ns.Data.DataKind())
		}
		if got := ns.Data.DataKind(); got != want.DataKind() {
			return fmt.Errorf("node %d: %s data, node uses %s", id, got, want.DataKind())
		}
	}
	return nil
}

func (s *State) checkNodeIDs(n int) error {
	inRange := func(id graph.NodeID) bool { return int(id) < n }
	for i, t := range s.threads {
		if t.running && !inRange(t.node) {
			return fmt.Errorf("threads[%d]: node %d not in graph", i, t.node)
		}
		for _, f := range t.stack {
			if !inRange(f.Node) {
				return fmt.Errorf("threads[%d]: stack frame node %d not in graph", i, f.Node)
			}
		}
	}
	for id := range s.nodes {
		if !inRange(id) {
			return fmt.Errorf("node state %d not in graph", id)
		}
	}
	return nil
}

// decoder reads typed fields from a snapshot object, keeping the first error.
type decoder struct {
	m    value.Map
	path string
	err  error
}

func (d *decoder) field(name string) (value.Value, bool) {
	if d.err != nil {
		return nil, false
	}
	v, ok := d.m[name]
	if !ok {
		d.err = fmt.Errorf("%s: missing %q", d.path, name)
	}
	return v, ok
}

func (d *decoder) fail(name, want string) {
	d.err = fmt.Errorf("%s.%s: want %s", d.path, name, want)
}

func (d *decoder) int(name string, lo, hi int64) int64 {
	v, ok := d.field(name)
	if !ok {
		return 0
	}
	n, ok := v.(value.Int)
	if !ok || int64(n) < lo || int64(n) > hi {
		d.fail(name, fmt.Sprintf("integer in [%d, %d]", lo, hi))
		return 0
	}
	return int64(n)
}

func (d *decoder) bool(name string) bool {
	v, ok := d.field(name)
	if !ok {
		return false
	}
	b, ok := v.(value.Bool)
	if !ok {
		d.fail(name, "boolean")
	}
	return bool(b)
}

func (d *decoder) string(name string) string {
	v, ok := d.field(name)
	if !ok {
		return ""
	}
	s, ok := v.(value.String)
	if !ok {
		d.fail(name, "string")
	}
	return string(s)
}

func (d *decoder) list(name string) value.List {
	v, ok := d.field(name)
	if !ok {
		return nil
	}
	l, ok := v.(value.List)
	if !ok {
		d.fail(name, "list")
	}
	return l
}

func (d *decoder) mapField(name string) value.Map {
	v, ok := d.field(name)
	if !ok {
		return nil
	}
	m, ok := v.(value.Map)
	if !ok {
		d.fail(name, "object")
	}
	return m
}
