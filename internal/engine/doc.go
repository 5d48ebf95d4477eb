// Package engine runs script graphs: it binds node types to a graph
// (Compile) and advances script states one tick at a time (Environment).
//
// ARCHITECTURE:
//
// Cooperative scheduling:
// A State holds any number of logical threads. Each tick, every running
// thread gets the tick's delta as its time budget and keeps updating nodes
// until its budget is spent, it suspends (Executing, Fork, MergeAndWait) or
// it ends. There is no preemption and nothing blocks.
//
// Tick Processing Flow:
// 1. States built against another graph are restarted from scratch
// 2. Running threads get their time slice
// 3. Threads run in list order; threads forked during the tick are appended
// and run in the same tick with their parent's leftover budget
// 4. Finished threads are pruned, introspection advances, observers fire
//
// Loops:
// Loop nodes mark the output that enters their body as a stack rollback
// point. Taking it again unwinds the thread's stack to the loop's frame
// instead of pushing another, so stack depth follows graph nesting, not
// iteration count. A body branch that ends returns the thread to the loop.
//
// CRITICAL PATTERNS:
//
// Determinism:
// Threads run in creation order. Time is integer nanoseconds and node
// results are clamped to the remaining budget, so the time charged to the
// nodes a thread visits in one tick always sums to at most the delta.
// Frame numbers and deltas come in as Tick values, never from ambient state.
//
// Fault containment:
// A node that panics terminates only its thread. Nodes that fail to compile
// run as no-ops and are listed in Program.Flags. A zero-time cycle is cut
// off by the per-tick step quota and resumes next tick.
package engine
