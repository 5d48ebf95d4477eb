// Package harness runs scenario files against the flowscript engine.
//
// A scenario names a graph, a host to run it against and a list of steps.
// The harness ticks one instance of the graph with a deterministic clock,
// records every host effect the script produces and checks the recorded
// trace and the final state against the scenario's expectations.
//
// # Scenario Format
//
//	name: doorbell
//	description: "Rings the gate, then opens after half a second"
//	graph: ../graphs/doorbell.yaml
//	entity: 1
//	entities: {gate: 9}
//	delta: 16ms
//	variables: {score: 0}
//	steps:
//	  - frames: 2
//	    expect: {status: running, threads: 1}
//	  - save_resume: true
//	  - frames: 3
//	    expect:
//	      status: done
//	      variables: {opened: true}
//	assertions:
//	  - type: effect_contains
//	    effect: set_property
//	    name: open
//	    frame: 4
//	  - type: effect_order
//	    names: [ring, open]
//	  - type: effect_count
//	    effect: message
//	    count: 1
//
// Graph paths are relative to the scenario file.
//
// # Steps
//
// A step either runs frames, saves the instance to a SQLite store and
// continues from the restored copy (save_resume), or restarts a finished
// restartable instance (restart). Any step may carry an expect clause that
// is checked after it.
//
// # Assertion Types
//
//   - effect_contains: some effect matches every field given
//   - effect_order: effects with the given names occur in this order
//   - effect_count: exactly count effects match
//
// # Golden Traces
//
// RunWithGolden compares the canonical JSON of the effect trace with
// testdata/golden/<name>.golden. Regenerate with
//
//	go test ./internal/harness -update
package harness
