package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/flowscript/internal/value"
)

// TraceSnapshot renders a trace as canonical JSON for golden comparison.
// The output has no trailing newline.
func TraceSnapshot(name string, trace []TraceEvent) ([]byte, error) {
	events := make(value.List, len(trace))
	for i, e := range trace {
		events[i] = e.canonical()
	}
	return value.MarshalCanonical(value.Map{
		"scenario": value.String(name),
		"trace":    events,
	})
}

// RunWithGolden executes a scenario and compares its effect trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot run. A trace mismatch fails t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := TraceSnapshot(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
