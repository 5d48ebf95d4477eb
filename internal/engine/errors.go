package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/flowscript/internal/graph"
)

// ScriptError represents an error detected while running a script.
//
// Script errors include:
//   - Graph mismatch: saved state was built against a different graph
//   - Entity not found: a node referenced an entity that no longer exists
//   - Invalid node: unknown type, bad pin layout or malformed settings
//   - Node panic: a node type's update panicked
//
// None of these are fatal to the scheduler. They are logged and the
// affected thread or operation is dropped.
type ScriptError struct {
	// Code identifies the error category.
	Code ScriptErrorCode

	// Message is a human-readable description.
	Message string

	// Node identifies the affected node, if any.
	Node *graph.NodeID

	// Err is the underlying cause, if any.
	Err error
}

// ScriptErrorCode categorizes script errors.
type ScriptErrorCode string

const (
	// ErrCodeGraphMismatch indicates saved state does not belong to the graph.
	ErrCodeGraphMismatch ScriptErrorCode = "GRAPH_MISMATCH"

	// ErrCodeEntityNotFound indicates a host lookup failed.
	ErrCodeEntityNotFound ScriptErrorCode = "ENTITY_NOT_FOUND"

	// ErrCodeInvalidNode indicates an authoring problem with a node.
	ErrCodeInvalidNode ScriptErrorCode = "INVALID_NODE"

	// ErrCodeNodePanic indicates a node type panicked during update.
	ErrCodeNodePanic ScriptErrorCode = "NODE_PANIC"

	// ErrCodeThreadLimit indicates a node could not accept another thread.
	ErrCodeThreadLimit ScriptErrorCode = "THREAD_LIMIT"

	// ErrCodeNoEntry indicates the graph has no entry node.
	ErrCodeNoEntry ScriptErrorCode = "NO_ENTRY"

	// ErrCodeNotRestartable indicates a dead state was asked to restart.
	ErrCodeNotRestartable ScriptErrorCode = "NOT_RESTARTABLE"
)

// ErrEntityNotFound is returned by Host implementations when an entity can
// not be resolved.
var ErrEntityNotFound = errors.New("entity not found")

// Error implements the error interface.
func (e *ScriptError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Node != nil {
		msg = fmt.Sprintf("%s (node=%d)", msg, *e.Node)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ScriptError) Unwrap() error { return e.Err }

func isCode(err error, code ScriptErrorCode) bool {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsGraphMismatch reports whether err is a graph mismatch error.
// Uses errors.As to handle wrapped errors.
func IsGraphMismatch(err error) bool { return isCode(err, ErrCodeGraphMismatch) }

// IsEntityNotFound reports whether err is an entity lookup failure, either a
// ScriptError or a wrapped ErrEntityNotFound from a host.
func IsEntityNotFound(err error) bool {
	return isCode(err, ErrCodeEntityNotFound) || errors.Is(err, ErrEntityNotFound)
}

// IsNodePanic reports whether err came from a recovered node panic.
func IsNodePanic(err error) bool { return isCode(err, ErrCodeNodePanic) }

// IsNoEntry reports whether err means the graph has no entry node.
func IsNoEntry(err error) bool { return isCode(err, ErrCodeNoEntry) }

// IsNotRestartable reports whether err came from restarting a dead state.
func IsNotRestartable(err error) bool { return isCode(err, ErrCodeNotRestartable) }

func nodeError(code ScriptErrorCode, node graph.NodeID, err error, format string, args ...any) *ScriptError {
	return &ScriptError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Node:    &node,
		Err:     err,
	}
}
