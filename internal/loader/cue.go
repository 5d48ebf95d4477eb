package loader

import (
	_ "embed"
	"fmt"
	"math"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/value"
)

//go:embed schema.cue
var schemaSource string

// ParseCUE parses a CUE graph file. The document is unified with the
// embedded #Graph schema, so type errors are reported with positions.
func ParseCUE(filename string, src []byte) (*Definition, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling graph schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, cueError(ErrCodeParse, err)
	}
	v = schema.LookupPath(cue.ParsePath("#Graph")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}

	def := &Definition{}
	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}
	def.Name = name

	nodes, err := lookup(v, "nodes").List()
	if err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}
	for nodes.Next() {
		n, err := parseCUENode(nodes.Value())
		if err != nil {
			return nil, err
		}
		def.Nodes = append(def.Nodes, n)
	}

	edges, err := lookup(v, "edges").List()
	if err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}
	for edges.Next() {
		e, err := parseCUEEdge(edges.Value())
		if err != nil {
			return nil, err
		}
		def.Edges = append(def.Edges, e)
	}
	return def, nil
}

func lookup(v cue.Value, path string) cue.Value {
	f, _ := v.LookupPath(cue.ParsePath(path)).Default()
	return f
}

func parseCUENode(v cue.Value) (NodeDef, error) {
	id, err := cueUint(lookup(v, "id"), math.MaxUint32)
	if err != nil {
		return NodeDef{}, err
	}
	typ, err := lookup(v, "type").String()
	if err != nil {
		return NodeDef{}, cueError(ErrCodeSchema, err)
	}
	n := NodeDef{ID: graph.NodeID(id), Type: typ, Settings: value.Map{}}

	if s := lookup(v, "settings"); s.Exists() {
		settings, err := fromCUE(s)
		if err != nil {
			return NodeDef{}, err
		}
		n.Settings = settings.(value.Map)
	}

	if p := lookup(v, "pins"); p.Exists() {
		var names []string
		if err := p.Decode(&names); err != nil {
			return NodeDef{}, cueError(ErrCodeSchema, err)
		}
		if names == nil {
			names = []string{}
		}
		if n.Pins, err = parsePins(names); err != nil {
			return NodeDef{}, &LoadError{Code: ErrCodeSchema, Message: err.Error(), Pos: p.Pos(), Err: err}
		}
	}
	return n, nil
}

func parseCUEEdge(v cue.Value) (graph.Edge, error) {
	var nums [4]uint64
	for i, field := range []string{"from", "fromPin", "to", "toPin"} {
		limit := uint64(math.MaxUint32)
		if i%2 == 1 {
			limit = math.MaxUint8
		}
		n, err := cueUint(lookup(v, field), limit)
		if err != nil {
			return graph.Edge{}, err
		}
		nums[i] = n
	}
	return graph.Edge{
		From:    graph.NodeID(nums[0]),
		FromPin: graph.PinID(nums[1]),
		To:      graph.NodeID(nums[2]),
		ToPin:   graph.PinID(nums[3]),
	}, nil
}

func cueUint(v cue.Value, limit uint64) (uint64, error) {
	n, err := v.Uint64()
	if err != nil {
		return 0, cueError(ErrCodeSchema, err)
	}
	if n > limit {
		return 0, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("%d out of range", n), Pos: v.Pos()}
	}
	return n, nil
}

// fromCUE converts a concrete CUE value into a script value.
func fromCUE(v cue.Value) (value.Value, error) {
	v, _ = v.Default()
	switch v.Kind() {
	case cue.NullKind:
		return value.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, cueError(ErrCodeSchema, err)
		}
		return value.Bool(b), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, cueError(ErrCodeSchema, err)
		}
		return value.Int(i), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, cueError(ErrCodeSchema, err)
		}
		return value.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, cueError(ErrCodeSchema, err)
		}
		return value.String(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, cueError(ErrCodeSchema, err)
		}
		out := value.List{}
		for iter.Next() {
			elem, err := fromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, cueError(ErrCodeSchema, err)
		}
		out := value.Map{}
		for iter.Next() {
			elem, err := fromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Label()] = elem
		}
		return out, nil
	default:
		return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("unsupported setting kind %s", v.Kind()), Pos: v.Pos()}
	}
}

// cueError converts a CUE error to a LoadError carrying the first position.
func cueError(code string, err error) *LoadError {
	le := &LoadError{Code: code, Message: err.Error(), Err: err}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return le
	}
	le.Message = errs[0].Error()
	if positions := cueerrors.Positions(errs[0]); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
