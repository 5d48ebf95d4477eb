package harness

import (
	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/value"
)

// Effect kinds recorded in a trace.
const (
	EffectSetProperty = "set_property"
	EffectMessage     = "message"
	EffectPlayMusic   = "play_music"
	EffectStopMusic   = "stop_music"
)

// TraceEvent is one host effect, in the order the host received it.
type TraceEvent struct {
	Frame  int64           `json:"frame"`
	Effect string          `json:"effect"`
	Entity engine.EntityID `json:"entity,omitempty"` // target; zero for music
	From   engine.EntityID `json:"from,omitempty"`   // sender of a message
	Name   string          `json:"name,omitempty"`   // property, message or track
	Value  value.Value     `json:"-"`                // property value or message payload
}

// canonical renders the event for golden comparison. Absent fields are
// left out.
func (e TraceEvent) canonical() value.Map {
	m := value.Map{
		"frame":  value.Int(e.Frame),
		"effect": value.String(e.Effect),
	}
	if e.Entity != 0 {
		m["entity"] = value.Int(e.Entity)
	}
	if e.From != 0 {
		m["from"] = value.Int(e.From)
	}
	if e.Name != "" {
		m["name"] = value.String(e.Name)
	}
	if e.Value != nil && !value.IsNull(e.Value) {
		m["value"] = e.Value
	}
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every host effect in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`

	// Status, Threads and Variables describe the instance after the last step.
	Status    string         `json:"status"`
	Threads   int            `json:"threads"`
	Variables map[string]any `json:"variables,omitempty"`

	// Frame is the last frame ticked.
	Frame int64 `json:"frame"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
