package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowscript/internal/script"
)

// Scenario defines one scripted run of a graph and what it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file and
	// the instance.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Graph is the path of the graph file to run, relative to the scenario.
	Graph string `yaml:"graph"`

	// Entity runs the script. Default 1.
	Entity uint64 `yaml:"entity,omitempty"`

	// Entities are the named entities the host knows besides Entity.
	Entities map[string]uint64 `yaml:"entities,omitempty"`

	// Delta is the frame time for steps that do not set their own.
	// Default 16ms.
	Delta time.Duration `yaml:"delta,omitempty"`

	// Variables seed the instance before the first frame.
	Variables map[string]any `yaml:"variables,omitempty"`

	Persist     bool `yaml:"persist,omitempty"`
	Restartable bool `yaml:"restartable,omitempty"`

	// MaxSteps overrides the node update budget per frame.
	MaxSteps int `yaml:"max_steps,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one action of a scenario. Exactly one of Frames, SaveResume and
// Restart is set.
type Step struct {
	// Frames runs that many frames.
	Frames int `yaml:"frames,omitempty"`

	// Delta overrides the scenario delta for these frames.
	Delta time.Duration `yaml:"delta,omitempty"`

	// SaveResume snapshots the instance to the store and continues with the
	// restored copy in a fresh runner.
	SaveResume bool `yaml:"save_resume,omitempty"`

	// Restart starts a finished restartable instance again.
	Restart bool `yaml:"restart,omitempty"`

	// Expect is checked after the step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes the instance after a step. Unset fields are not
// checked; variables are a subset match.
type ExpectClause struct {
	Status    string         `yaml:"status,omitempty"`
	Threads   *int           `yaml:"threads,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty"`
}

// Assertion validates the effect trace.
type Assertion struct {
	// Type is one of effect_contains, effect_order, effect_count.
	Type string `yaml:"type"`

	// Effect, Name, Entity, Frame and Value filter effects. Zero values
	// match anything.
	Effect string `yaml:"effect,omitempty"`
	Name   string `yaml:"name,omitempty"`
	Entity uint64 `yaml:"entity,omitempty"`
	Frame  int64  `yaml:"frame,omitempty"`
	Value  any    `yaml:"value,omitempty"`

	// Count is the expected number of matches (effect_count).
	Count int `yaml:"count,omitempty"`

	// Names is the expected order of effect names (effect_order).
	Names []string `yaml:"names,omitempty"`
}

// Assertion type constants.
const (
	AssertEffectContains = "effect_contains"
	AssertEffectOrder    = "effect_order"
	AssertEffectCount    = "effect_count"
)

var effectKinds = []string{EffectSetProperty, EffectMessage, EffectPlayMusic, EffectStopMusic}

var statusNames = []string{
	script.NotStarted.String(), script.Running.String(), script.Done.String(), script.Idle.String(),
}

// LoadScenario reads and parses a scenario YAML file. The graph path is
// resolved against the scenario's directory. Unknown fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Graph != "" && !filepath.IsAbs(scenario.Graph) {
		scenario.Graph = filepath.Join(filepath.Dir(path), scenario.Graph)
	}
	scenario.applyDefaults()

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func (s *Scenario) applyDefaults() {
	if s.Entity == 0 {
		s.Entity = 1
	}
	if s.Delta == 0 {
		s.Delta = 16 * time.Millisecond
	}
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Graph == "" {
		return fmt.Errorf("graph is required")
	}
	if _, err := os.Stat(s.Graph); err != nil {
		return fmt.Errorf("graph file not found: %s", s.Graph)
	}
	if s.Delta < 0 {
		return fmt.Errorf("delta must not be negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	actions := 0
	if step.Frames != 0 {
		actions++
	}
	if step.SaveResume {
		actions++
	}
	if step.Restart {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of frames, save_resume, restart is required", index)
	}
	if step.Frames < 0 {
		return fmt.Errorf("steps[%d]: frames must be positive", index)
	}
	if step.Delta < 0 {
		return fmt.Errorf("steps[%d]: delta must not be negative", index)
	}
	if step.Expect != nil && step.Expect.Status != "" && !slices.Contains(statusNames, step.Expect.Status) {
		return fmt.Errorf("steps[%d].expect: unknown status %q", index, step.Expect.Status)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Effect != "" && !slices.Contains(effectKinds, a.Effect) {
		return fmt.Errorf("assertions[%d]: unknown effect %q", index, a.Effect)
	}

	switch a.Type {
	case AssertEffectContains:
		if a.Effect == "" && a.Name == "" {
			return fmt.Errorf("assertions[%d]: effect or name is required for effect_contains", index)
		}
	case AssertEffectOrder:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for effect_order", index)
		}
	case AssertEffectCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for effect_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
