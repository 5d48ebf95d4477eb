package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/host"
	"github.com/roach88/flowscript/internal/loader"
	"github.com/roach88/flowscript/internal/nodes"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/store"
	"github.com/roach88/flowscript/internal/value"
)

// Harness is the scenario execution engine. It ticks one instance with a
// deterministic clock and records host effects into a Result.
type Harness struct {
	scenario *Scenario
	prog     *engine.Program
	host     *traceHost
	store    *store.Store
	runner   *host.Runner
	inst     *host.Instance
	clock    *engine.Clock
	logger   *slog.Logger
	result   *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh SQLite store in a temporary directory, used by
// save_resume steps. Errors are returned for scenarios that cannot run at
// all; failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	cat := nodes.Catalogue()
	g, err := loader.LoadFile(scenario.Graph, cat)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph: %w", err)
	}
	prog, err := engine.Compile(g, cat)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}
	if flags := prog.Flags(); len(flags) > 0 {
		return nil, fmt.Errorf("graph %s has authoring errors: %v", g.Name(), flags[0])
	}

	dir, err := os.MkdirTemp("", "flowscript-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		prog:     prog,
		host:     newTraceHost(engine.EntityID(scenario.Entity), scenario.Entities),
		store:    st,
		clock:    engine.NewClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		result:   NewResult(),
	}
	h.host.result = h.result

	ctx := context.Background()
	h.runner = h.newRunner()
	h.inst, err = h.runner.SpawnAs(scenario.Name, prog, engine.EntityID(scenario.Entity))
	if err != nil {
		return nil, fmt.Errorf("failed to spawn instance: %w", err)
	}
	if err := seed(h.inst.State(), scenario); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		for _, msg := range checkExpect(i, step.Expect, h.inst.State()) {
			h.result.AddError(msg)
		}
	}

	final := h.inst.State()
	h.result.Status = final.Status().String()
	h.result.Threads = final.ThreadCount()
	h.result.Variables = variables(final)
	h.result.Frame = h.clock.Frame()

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) newRunner() *host.Runner {
	var engineOpts []engine.Option
	if h.scenario.MaxSteps > 0 {
		engineOpts = append(engineOpts, engine.WithMaxStepsPerTick(h.scenario.MaxSteps))
	}
	return host.NewRunner(h.host,
		host.WithStore(h.store),
		host.WithLogger(h.logger),
		host.WithWorkers(1),
		host.WithEngineOptions(engineOpts...),
	)
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step) error {
	switch {
	case step.Restart:
		return h.runner.Restart(h.inst.ID)

	case step.SaveResume:
		if _, err := h.runner.SaveInstance(ctx, h.inst.ID); err != nil {
			return err
		}
		runner := h.newRunner()
		inst, restored, err := runner.Resume(ctx, h.inst.ID, h.prog, h.inst.Entity)
		if err != nil {
			return err
		}
		if !restored {
			h.result.AddError(fmt.Sprintf("steps[%d]: saved instance did not restore", index))
		}
		h.runner, h.inst = runner, inst
		return nil
	}

	delta := step.Delta
	if delta == 0 {
		delta = h.scenario.Delta
	}
	for range step.Frames {
		tick := h.clock.Advance(delta)
		h.host.frame = tick.Frame
		if _, err := h.runner.Tick(ctx, tick); err != nil {
			return err
		}
	}
	return nil
}

func seed(st *script.State, s *Scenario) error {
	st.SetPersist(s.Persist)
	st.SetRestartable(s.Restartable)
	for name, raw := range s.Variables {
		v, err := value.FromAny(raw)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		st.SetVariable(name, v)
	}
	return nil
}

func variables(st *script.State) map[string]any {
	names := st.VariableNames()
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		v, _ := st.Variable(name)
		out[name] = value.ToAny(v)
	}
	return out
}

// traceHost records effects into the result. Effects reach it only from
// the runner's flush, which runs on the ticking goroutine, so frame needs
// no synchronization.
type traceHost struct {
	self     engine.EntityID
	byName   map[string]engine.EntityID
	existing map[engine.EntityID]bool
	frame    int64
	result   *Result
}

var _ engine.Host = (*traceHost)(nil)

func newTraceHost(self engine.EntityID, entities map[string]uint64) *traceHost {
	h := &traceHost{
		self:     self,
		byName:   make(map[string]engine.EntityID, len(entities)),
		existing: map[engine.EntityID]bool{self: true},
	}
	for name, id := range entities {
		h.byName[name] = engine.EntityID(id)
		h.existing[engine.EntityID(id)] = true
	}
	return h
}

func (h *traceHost) record(e TraceEvent) {
	e.Frame = h.frame
	h.result.Trace = append(h.result.Trace, e)
}

func (h *traceHost) ResolveEntity(name string) (engine.EntityID, error) {
	id, ok := h.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", engine.ErrEntityNotFound, name)
	}
	return id, nil
}

func (h *traceHost) SetEntityProperty(entity engine.EntityID, property string, v value.Value) error {
	if !h.existing[entity] {
		return fmt.Errorf("%w: id %d", engine.ErrEntityNotFound, entity)
	}
	h.record(TraceEvent{Effect: EffectSetProperty, Entity: entity, Name: property, Value: v})
	return nil
}

func (h *traceHost) SendMessage(from, to engine.EntityID, message string, payload value.Value) error {
	if !h.existing[to] {
		return fmt.Errorf("%w: id %d", engine.ErrEntityNotFound, to)
	}
	h.record(TraceEvent{Effect: EffectMessage, Entity: to, From: from, Name: message, Value: payload})
	return nil
}

func (h *traceHost) PlayMusic(track string, fade time.Duration) {
	h.record(TraceEvent{Effect: EffectPlayMusic, Name: track, Value: value.Float(fade.Seconds())})
}

func (h *traceHost) StopMusic(fade time.Duration) {
	h.record(TraceEvent{Effect: EffectStopMusic, Value: value.Float(fade.Seconds())})
}

func (h *traceHost) Variable(string) (value.Value, bool) { return nil, false }

func (h *traceHost) SetVariable(string, value.Value) bool { return false }
