package engine

import (
	"fmt"
	"time"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/value"
)

// NodeType is the behavior shared by every node of one kind.
//
// Update is called with the time budget the thread has left this tick and
// the node's persistent data (nil if the type keeps none). It must not
// block: long-running behavior is expressed as repeated Executing results.
// Data is mutated in place.
type NodeType interface {
	Name() string
	Pins(node *graph.Node) []graph.PinKind
	Update(ctx *Context, dt time.Duration, node *graph.Node, data script.NodeData) Result
}

// DataInitializer is implemented by node types that keep persistent data.
type DataInitializer interface {
	InitData(node *graph.Node) script.NodeData
}

// DataReader is implemented by node types with data output pins.
type DataReader interface {
	ReadData(ctx *Context, node *graph.Node, pin graph.PinID, data script.NodeData) value.Value
}

// RollbackPointer is implemented by loop node types. An output pin that is a
// rollback point unwinds the thread's stack to its frame instead of pushing
// a new one each time it is taken.
type RollbackPointer interface {
	IsStackRollbackPoint(node *graph.Node, pin graph.PinID) bool
}

// DataKeeper is implemented by node types whose data must survive the last
// thread leaving the node.
type DataKeeper interface {
	KeepsData() bool
}

// SettingsValidator is implemented by node types with settings that can be
// malformed. A failing node is flagged at compile time and becomes a no-op.
type SettingsValidator interface {
	ValidateSettings(node *graph.Node) error
}

// EntryPoint marks the node type a script starts from.
type EntryPoint interface {
	IsEntryPoint() bool
}

// ResultState tells the scheduler what to do with a thread after an update.
type ResultState uint8

const (
	// ResultDone advances the thread along Output. Unused budget carries on
	// to the next node in the same tick.
	ResultDone ResultState = iota
	// ResultExecuting suspends the thread at the node until the next tick.
	// The thread's whole remaining budget is spent.
	ResultExecuting
	// ResultFork spawns threads down Output while the originating thread
	// stays parked at the node until the next tick.
	ResultFork
	// ResultMergeAndWait parks the thread at a join until the remaining
	// branches arrive.
	ResultMergeAndWait
	// ResultMergeAndContinue folds every thread parked at the node into this
	// one and advances along Output.
	ResultMergeAndContinue
	// ResultTerminate stops the thread.
	ResultTerminate
)

var resultStateNames = [...]string{
	ResultDone:             "done",
	ResultExecuting:        "executing",
	ResultFork:             "fork",
	ResultMergeAndWait:     "merge_and_wait",
	ResultMergeAndContinue: "merge_and_continue",
	ResultTerminate:        "terminate",
}

func (s ResultState) String() string {
	if int(s) < len(resultStateNames) {
		return resultStateNames[s]
	}
	return fmt.Sprintf("result_state(%d)", uint8(s))
}

// Result is returned by NodeType.Update.
type Result struct {
	State    ResultState
	Consumed time.Duration
	Output   graph.PinID
}

// Done finishes the node, having used consumed of the budget.
func Done(out graph.PinID, consumed time.Duration) Result {
	return Result{State: ResultDone, Consumed: consumed, Output: out}
}

// Executing keeps the thread at the node until the next tick.
func Executing() Result {
	return Result{State: ResultExecuting}
}

// Fork emits a pulse down out and parks the originating thread.
func Fork(out graph.PinID, consumed time.Duration) Result {
	return Result{State: ResultFork, Consumed: consumed, Output: out}
}

// MergeAndWait parks the thread at a join.
func MergeAndWait() Result {
	return Result{State: ResultMergeAndWait}
}

// MergeAndContinue completes a join and continues along out.
func MergeAndContinue(out graph.PinID) Result {
	return Result{State: ResultMergeAndContinue, Output: out}
}

// Terminate stops the thread.
func Terminate() Result {
	return Result{State: ResultTerminate}
}
