package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/value"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Frame: 1, Effect: EffectMessage, Entity: 9, From: 1, Name: "ring", Value: value.Null{}},
		{Frame: 2, Effect: EffectPlayMusic, Name: "theme", Value: value.Float(1)},
		{Frame: 4, Effect: EffectSetProperty, Entity: 1, Name: "open", Value: value.Bool(true)},
		{Frame: 5, Effect: EffectMessage, Entity: 9, From: 1, Name: "ring", Value: value.Int(2)},
	}
}

func TestAssertEffectContains(t *testing.T) {
	trace := sampleTrace()
	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"by effect", Assertion{Effect: EffectPlayMusic}, true},
		{"by name and frame", Assertion{Name: "ring", Frame: 5}, true},
		{"by value", Assertion{Name: "open", Value: true}, true},
		{"int payload", Assertion{Name: "ring", Value: 2}, true},
		{"wrong frame", Assertion{Name: "open", Frame: 3}, false},
		{"wrong entity", Assertion{Name: "open", Entity: 9}, false},
		{"wrong value", Assertion{Name: "open", Value: false}, false},
		{"float is not int", Assertion{Name: "theme", Value: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertEffectContains
			err := assertEffectContains(trace, tt.a)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "not found in trace", ae.Actual)
		})
	}
}

func TestAssertEffectOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEffectOrder(trace, Assertion{Names: []string{"ring", "theme", "open"}}))

	err := assertEffectOrder(trace, Assertion{Names: []string{"open", "ring"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open (pos 3) should be before ring (pos 1)")

	err = assertEffectOrder(trace, Assertion{Names: []string{"ring", "close"}})
	assert.ErrorContains(t, err, "missing effect: close")

	// Restricting to messages hides the music.
	err = assertEffectOrder(trace, Assertion{Effect: EffectMessage, Names: []string{"ring", "theme"}})
	assert.ErrorContains(t, err, "missing effect: theme")
}

func TestAssertEffectCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEffectCount(trace, Assertion{Name: "ring", Count: 2}))
	assert.NoError(t, assertEffectCount(trace, Assertion{Effect: EffectStopMusic, Count: 0}))

	err := assertEffectCount(trace, Assertion{Effect: EffectMessage, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 1 occurrences of message")
	assert.Contains(t, err.Error(), "Actual: 2 occurrences")
	assert.Contains(t, err.Error(), "[4] frame 5 message from 1 to 9 ring = 2")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertEffectCount, Name: "ring", Count: 2},
		{Type: AssertEffectContains, Name: "close"},
		{Type: "final_state"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Assertion failed: effect_contains")
	assert.Equal(t, `assertion[2]: unknown assertion type "final_state"`, errs[1])
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
