// Package loader reads graph definitions from CUE or YAML files.
//
// Both formats describe the same document:
//
//	name: "door"
//	nodes: [
//		{id: 0, type: "start"},
//		{id: 1, type: "wait", settings: {time: 0.5}},
//		{id: 2, type: "setProperty", settings: {entity: "door", property: "open", value: true}},
//	]
//	edges: [
//		{from: 0, fromPin: 0, to: 1},
//		{from: 1, fromPin: 1, to: 2},
//	]
//
// Node ids must be dense (0..n-1). Pins may be listed explicitly as pin kind
// names; when omitted they are taken from the node type's layout in the
// catalogue. Edge pins default to 0.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/value"
)

// Error code constants.
const (
	ErrCodeNotFound    = "E001" // path not found or unreadable
	ErrCodeUnsupported = "E002" // unknown file extension
	ErrCodeParse       = "E003" // syntax error
	ErrCodeSchema      = "E004" // document does not match the graph schema
	ErrCodeBuild       = "E005" // graph could not be assembled
)

// LoadError represents an error that occurred while loading a graph file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is a LoadError with the given code.
func IsLoadError(err error, code string) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Code == code
}

// NodeDef is one node of a parsed definition.
type NodeDef struct {
	ID       graph.NodeID
	Type     string
	Settings value.Map
	// Pins is nil when the file leaves the layout to the catalogue.
	Pins []graph.PinKind
}

// Definition is a parsed graph file, before pins are resolved.
type Definition struct {
	Name  string
	Nodes []NodeDef
	Edges []graph.Edge
}

// Build resolves missing pin layouts from cat and assembles the graph.
// Unknown types without explicit pins get none; Compile flags them.
func (d *Definition) Build(cat *engine.Catalogue) (*graph.Graph, error) {
	specs := make([]graph.NodeSpec, len(d.Nodes))
	for i, n := range d.Nodes {
		pins := n.Pins
		if pins == nil && cat != nil {
			if nt, ok := cat.Lookup(n.Type); ok {
				pins = nt.Pins(&graph.Node{ID: n.ID, Type: n.Type, Settings: n.Settings})
			}
		}
		specs[i] = graph.NodeSpec{ID: n.ID, Type: n.Type, Settings: n.Settings, Pins: pins}
	}
	g, err := graph.Build(d.Name, specs, d.Edges)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuild, Message: err.Error(), Err: err}
	}
	return g, nil
}

// Parse parses src according to the extension of filename.
func Parse(filename string, src []byte) (*Definition, error) {
	var (
		def *Definition
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cue":
		def, err = ParseCUE(filename, src)
	case ".yaml", ".yml", ".json":
		def, err = ParseYAML(src)
	default:
		return nil, &LoadError{Code: ErrCodeUnsupported, Message: fmt.Sprintf("unsupported graph file %s", filename)}
	}
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	return def, nil
}

// LoadFile reads, parses and builds the graph at path.
func LoadFile(path string, cat *engine.Catalogue) (*graph.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading graph file: %v", err), Err: err}
	}
	def, err := Parse(path, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g, err := def.Build(cat)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// FindGraphFiles walks dir and returns every .cue, .yaml and .yml file.
func FindGraphFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".cue", ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func parsePins(names []string) ([]graph.PinKind, error) {
	if names == nil {
		return nil, nil
	}
	pins := make([]graph.PinKind, len(names))
	for i, name := range names {
		k, err := graph.ParsePinKind(name)
		if err != nil {
			return nil, err
		}
		pins[i] = k
	}
	return pins, nil
}
