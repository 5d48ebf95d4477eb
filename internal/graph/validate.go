package graph

import (
	"fmt"
	"strings"
)

// Validation error codes (E200-E299)
const (
	// Structural errors, reported by Build (E200-E209)
	ErrSparseNodeID    = "E200" // node id outside 0..n-1
	ErrDuplicateNodeID = "E201" // two nodes share an id
	ErrDanglingEdge    = "E202" // edge references a missing node or pin
	ErrPinMismatch     = "E203" // edge joins incompatible pin kinds

	// Authoring errors, reported by Validate (E210-E229)
	ErrFanOutExceeded  = "E210" // flow output with more than MaxFanOut connections
	ErrDataInputShared = "E211" // data input fed by more than one source
	ErrUnknownNodeType = "E212" // node type not in catalogue
	ErrPinLayout       = "E213" // node pins disagree with the type's layout
	ErrInvalidSettings = "E214" // settings could not be decoded
	ErrNoEntryNode     = "E215" // graph has no entry node
)

// ValidationError represents an authoring or structural problem in a graph.
type ValidationError struct {
	Field   string  `json:"field"`
	Message string  `json:"message"`
	Code    string  `json:"code"`
	Node    *NodeID `json:"node,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors aggregates every problem found in one pass.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate runs graph-level authoring checks that do not need node type
// knowledge. Returns all errors found (does not fail-fast).
func Validate(g *Graph) []ValidationError {
	var errs []ValidationError

	for i := range g.nodes {
		n := &g.nodes[i]
		id := n.ID
		for j, p := range n.Pins {
			field := fmt.Sprintf("nodes[%d].pins[%d]", id, j)
			switch {
			case p.Kind == FlowOut && len(p.Connections) > MaxFanOut:
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("flow output has %d connections, limit is %d", len(p.Connections), MaxFanOut),
					Code:    ErrFanOutExceeded,
					Node:    &id,
				})
			case p.Kind == DataIn && len(p.Connections) > 1:
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("data input has %d sources, at most one allowed", len(p.Connections)),
					Code:    ErrDataInputShared,
					Node:    &id,
				})
			}
		}
	}

	return errs
}
