package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, event)
	}

	return buf.String()
}

// String renders an event on one line for failure output.
func (e TraceEvent) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "frame %d %s", e.Frame, e.Effect)
	if e.From != 0 {
		fmt.Fprintf(&buf, " from %d", e.From)
	}
	if e.Entity != 0 {
		fmt.Fprintf(&buf, " to %d", e.Entity)
	}
	if e.Name != "" {
		fmt.Fprintf(&buf, " %s", e.Name)
	}
	if e.Value != nil && !value.IsNull(e.Value) {
		fmt.Fprintf(&buf, " = %v", value.ToAny(e.Value))
	}
	return buf.String()
}

// describe renders the filter fields of an assertion.
func (a Assertion) describe() string {
	var parts []string
	if a.Effect != "" {
		parts = append(parts, a.Effect)
	}
	if a.Name != "" {
		parts = append(parts, "name="+a.Name)
	}
	if a.Entity != 0 {
		parts = append(parts, fmt.Sprintf("entity=%d", a.Entity))
	}
	if a.Frame != 0 {
		parts = append(parts, fmt.Sprintf("frame=%d", a.Frame))
	}
	if a.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", a.Value))
	}
	return strings.Join(parts, " ")
}

// matches reports whether event satisfies every filter the assertion sets.
func (a Assertion) matches(event TraceEvent) bool {
	if a.Effect != "" && event.Effect != a.Effect {
		return false
	}
	if a.Name != "" && event.Name != a.Name {
		return false
	}
	if a.Entity != 0 && event.Entity != engine.EntityID(a.Entity) {
		return false
	}
	if a.Frame != 0 && event.Frame != a.Frame {
		return false
	}
	if a.Value != nil {
		want, err := value.FromAny(a.Value)
		if err != nil || event.Value == nil || !value.Equal(event.Value, want) {
			return false
		}
	}
	return true
}

// assertEffectContains checks that some effect matches the assertion.
func assertEffectContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if assertion.matches(event) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertEffectContains,
		Expected: assertion.describe(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEffectOrder checks that the first effect with each name occurs in
// the given order. Other effects may come in between.
func assertEffectOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if assertion.Effect != "" && event.Effect != assertion.Effect {
			continue
		}
		if _, seen := positions[event.Name]; !seen {
			positions[event.Name] = i + 1 // 1-indexed for readability
		}
	}

	for _, name := range assertion.Names {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertEffectOrder,
				Expected: fmt.Sprintf("all effects present: %v", assertion.Names),
				Actual:   fmt.Sprintf("missing effect: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Names); i++ {
		prev, curr := assertion.Names[i-1], assertion.Names[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEffectOrder,
				Expected: fmt.Sprintf("effects in order: %v", assertion.Names),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertEffectCount checks that exactly Count effects match.
func assertEffectCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if assertion.matches(event) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEffectCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.describe()),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result's trace.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEffectContains:
			err = assertEffectContains(result.Trace, assertion)
		case AssertEffectOrder:
			err = assertEffectOrder(result.Trace, assertion)
		case AssertEffectCount:
			err = assertEffectCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// checkExpect compares the instance after a step with the expect clause.
func checkExpect(step int, expect *ExpectClause, st *script.State) []string {
	if expect == nil {
		return nil
	}
	var errs []string
	status, threads := st.Status().String(), st.ThreadCount()
	if expect.Status != "" && expect.Status != status {
		errs = append(errs, fmt.Sprintf("steps[%d]: expected status %s, got %s", step, expect.Status, status))
	}
	if expect.Threads != nil && *expect.Threads != threads {
		errs = append(errs, fmt.Sprintf("steps[%d]: expected %d thread(s), got %d", step, *expect.Threads, threads))
	}
	for name, raw := range expect.Variables {
		want, err := value.FromAny(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("steps[%d]: variable %s: %v", step, name, err))
			continue
		}
		got, ok := st.Variable(name)
		if !ok {
			errs = append(errs, fmt.Sprintf("steps[%d]: variable %s not set", step, name))
			continue
		}
		if !value.Equal(got, want) {
			errs = append(errs, fmt.Sprintf("steps[%d]: variable %s: expected %v, got %v", step, name, raw, value.ToAny(got)))
		}
	}
	return errs
}
