// Package script holds the durable side of script execution: threads, per-node
// state, variables and the snapshot format that carries them across save/load.
//
// A State is owned by exactly one scheduler at a time and is not safe for
// concurrent use. States never share NodeState or variable storage, so
// different States may be ticked from different goroutines.
//
// INVARIANTS:
//   - NodeState.ThreadCount equals the number of threads that have entered
//     that node and not yet left it; it never goes negative
//   - A thread's stack holds at most one frame per (node, pin) pair
//   - Encode(Decode(Encode(s))) == Encode(s), byte for byte
package script
