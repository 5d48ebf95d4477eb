package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/value"
)

type yamlGraph struct {
	Name  string     `yaml:"name"`
	Nodes []yamlNode `yaml:"nodes"`
	Edges []yamlEdge `yaml:"edges"`
}

type yamlNode struct {
	ID       *uint32        `yaml:"id"`
	Type     string         `yaml:"type"`
	Settings map[string]any `yaml:"settings"`
	Pins     []string       `yaml:"pins"`
}

type yamlEdge struct {
	From    uint32 `yaml:"from"`
	FromPin uint8  `yaml:"fromPin"`
	To      uint32 `yaml:"to"`
	ToPin   uint8  `yaml:"toPin"`
}

// ParseYAML parses a YAML (or JSON) graph file. Unknown keys are rejected.
func ParseYAML(src []byte) (*Definition, error) {
	var doc yamlGraph
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &LoadError{Code: ErrCodeParse, Message: "empty graph file"}
		}
		return nil, &LoadError{Code: ErrCodeParse, Message: err.Error(), Err: err}
	}

	def := &Definition{Name: doc.Name}
	for i, n := range doc.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		if n.ID == nil {
			return nil, &LoadError{Code: ErrCodeSchema, Message: field + ".id is required"}
		}
		if n.Type == "" {
			return nil, &LoadError{Code: ErrCodeSchema, Message: field + ".type is required"}
		}
		settings := value.Map{}
		if n.Settings != nil {
			v, err := value.FromAny(n.Settings)
			if err != nil {
				return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("%s.settings: %v", field, err), Err: err}
			}
			settings = v.(value.Map)
		}
		pins, err := parsePins(n.Pins)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("%s.pins: %v", field, err), Err: err}
		}
		def.Nodes = append(def.Nodes, NodeDef{ID: graph.NodeID(*n.ID), Type: n.Type, Settings: settings, Pins: pins})
	}
	for _, e := range doc.Edges {
		def.Edges = append(def.Edges, graph.Edge{
			From:    graph.NodeID(e.From),
			FromPin: graph.PinID(e.FromPin),
			To:      graph.NodeID(e.To),
			ToPin:   graph.PinID(e.ToPin),
		})
	}
	return def, nil
}
