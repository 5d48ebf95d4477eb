package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
)

// Environment is the per-tick scheduler for States running one Program.
//
// An Environment holds no per-script state and may update many States,
// including from several goroutines at once, as long as each State is only
// updated by one goroutine at a time. The Host must tolerate that
// concurrency.
type Environment struct {
	prog     *Program
	host     Host
	logger   *slog.Logger
	observer Observer
	maxSteps int
}

// Option configures an Environment.
type Option func(*Environment)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Environment) {
		e.logger = l
	}
}

// WithMaxStepsPerTick sets the node update budget per State per tick.
//
// Default: DefaultMaxStepsPerTick.
// Use a small value in tests that exercise zero-time cycles.
func WithMaxStepsPerTick(n int) Option {
	return func(e *Environment) {
		e.maxSteps = n
	}
}

// WithObserver registers an observer for scheduler events.
func WithObserver(o Observer) Option {
	return func(e *Environment) {
		e.observer = o
	}
}

// NewEnvironment creates a scheduler for prog. A nil host is replaced by
// NopHost.
func NewEnvironment(prog *Program, host Host, opts ...Option) *Environment {
	if host == nil {
		host = NopHost{}
	}
	e := &Environment{
		prog:     prog,
		host:     host,
		logger:   slog.Default(),
		observer: nopObserver{},
		maxSteps: DefaultMaxStepsPerTick,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("graph", prog.graph.Name())
	return e
}

// Program returns the program the environment runs.
func (e *Environment) Program() *Program { return e.prog }

// Start (re)starts st at the program's entry node.
func (e *Environment) Start(st *script.State) error {
	entry, ok := e.prog.Entry()
	if !ok {
		return &ScriptError{Code: ErrCodeNoEntry, Message: "graph has no entry node"}
	}
	st.TerminateAll(e.prog)
	st.Start(entry, e.prog.Hash())
	return nil
}

// Restart starts st again after it finished. Dead states refuse.
func (e *Environment) Restart(st *script.State) error {
	if st.IsDead() {
		return &ScriptError{Code: ErrCodeNotRestartable, Message: "state is done and not restartable"}
	}
	return e.Start(st)
}

// Resume decodes a snapshot for this program. On any failure the error is
// logged and a fresh, not yet started state is returned instead.
func (e *Environment) Resume(data []byte) (*script.State, bool) {
	st, err := script.ResumeFor(data, e.prog.graph, e.prog)
	if err != nil {
		e.logger.Warn("discarding saved script state", "error", err)
		return st, false
	}
	return st, true
}

// TerminateState stops every thread of st immediately.
func (e *Environment) TerminateState(st *script.State) {
	st.TerminateAll(e.prog)
}

// TerminateThread stops one thread and prunes it.
func (e *Environment) TerminateThread(st *script.State, t *script.Thread) {
	st.TerminateThread(t, e.prog)
	st.Prune()
}

// AbortCodePath terminates every thread that is at node or whose stack
// passes through it (through pin, if given). It returns the number of
// threads terminated.
func (e *Environment) AbortCodePath(st *script.State, node graph.NodeID, pin *graph.PinID) int {
	n := 0
	for _, t := range st.Threads() {
		cur, running := t.Current()
		if !running {
			continue
		}
		if (cur == node && pin == nil) || t.StackGoesThrough(node, pin) {
			st.TerminateThread(t, e.prog)
			n++
		}
	}
	st.Prune()
	return n
}

// Update advances st by one tick on behalf of entity.
//
// Every running thread gets tick.Delta to spend. Threads spawned during the
// tick run in the same tick with whatever budget their parent had left.
// States built against a different graph are restarted from scratch.
func (e *Environment) Update(st *script.State, tick Tick, entity EntityID) TickStats {
	started := time.Now()
	stats := TickStats{Graph: e.prog.graph.Name()}

	if st.Started() && st.GraphHash() != e.prog.Hash() {
		e.logger.Warn("script state belongs to another graph, restarting",
			"state_hash", graph.FormatHash(st.GraphHash()),
			"graph_hash", graph.FormatHash(e.prog.Hash()),
			"entity", entity)
		st.Reset()
		if err := e.Start(st); err != nil {
			e.logger.Error("restart failed", "error", err)
		}
		stats.Restarted = true
	}

	if st.Started() {
		for _, t := range st.Threads() {
			if t.IsRunning() && !t.IsMerging() {
				t.SetTimeSlice(tick.Delta)
			}
		}

		r := &run{env: e, state: st, tick: tick, entity: entity, quota: NewStepQuota(e.maxSteps), stats: &stats}
		// Threads appended during the loop are picked up by the index walk.
		for i := 0; i < len(st.Threads()); i++ {
			r.runThread(st.Threads()[i])
			if r.quota.Exhausted() {
				stats.QuotaHit = true
				e.logger.Warn("step quota exhausted, threads yield until next tick",
					"limit", e.maxSteps, "entity", entity)
				break
			}
		}
		stats.Steps = r.quota.Used()
		st.Prune()
		st.AdvanceIntrospection(tick.Delta)
	}

	stats.Threads = st.ThreadCount()
	stats.Status = st.Status()
	stats.Wall = time.Since(started)
	e.observer.TickCompleted(stats)
	return stats
}

// run carries the state of one Update call.
type run struct {
	env    *Environment
	state  *script.State
	tick   Tick
	entity EntityID
	quota  *StepQuota
	stats  *TickStats
}

func (r *run) runThread(t *script.Thread) {
	for t.IsRunning() && !t.IsMerging() && t.TimeSlice() > 0 {
		if err := r.quota.Take(); err != nil {
			return
		}
		if !r.step(t) {
			return
		}
	}
}

// step updates the thread's current node once and applies the result.
// It returns false when the thread must not run again this tick.
func (r *run) step(t *script.Thread) bool {
	prog := r.env.prog
	id, _ := t.Current()
	node, ok := prog.graph.Node(id)
	if !ok {
		r.env.logger.Error("thread at unknown node, terminating", "node", id)
		r.terminate(t)
		return false
	}

	if err := r.state.StartNode(t, prog); err != nil {
		r.env.logger.Error("cannot enter node, terminating thread",
			"error", nodeError(ErrCodeThreadLimit, id, err, "enter %s", node.Type))
		r.terminate(t)
		return false
	}

	res, err := r.invoke(t, node, t.TimeSlice())
	if err != nil {
		r.env.logger.Error("node update failed, terminating thread", "error", err)
		r.stats.Panics++
		r.terminate(t)
		return false
	}

	var charged time.Duration
	switch res.State {
	case ResultDone:
		charged = t.Consume(res.Consumed)
		r.follow(t, node, res.Output)
	case ResultFork:
		charged = t.Consume(res.Consumed)
		r.spawn(t, node, res.Output)
		// The pulse's siblings carry the remaining budget; the node itself
		// listens again next tick.
		t.SetTimeSlice(0)
	case ResultExecuting:
		charged = t.Consume(t.TimeSlice())
	case ResultMergeAndWait:
		t.SetMerging(true)
		charged = t.Consume(t.TimeSlice())
	case ResultMergeAndContinue:
		charged = t.Consume(res.Consumed)
		r.merge(t, node)
		r.follow(t, node, res.Output)
	case ResultTerminate:
		r.terminate(t)
	default:
		r.env.logger.Error("unknown result state, terminating thread", "node", id, "state", res.State)
		r.terminate(t)
	}

	r.env.observer.NodeUpdated(node, res.State, charged)
	return t.IsRunning()
}

// invoke calls the node's Update, turning a panic into an error.
func (r *run) invoke(t *script.Thread, node *graph.Node, budget time.Duration) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = nodeError(ErrCodeNodePanic, node.ID, nil, "%s update panicked: %v", node.Type, p)
		}
	}()
	ctx := &Context{
		env:    r.env,
		state:  r.state,
		tick:   r.tick,
		entity: r.entity,
		node:   node,
		thread: t,
	}
	var data script.NodeData
	if ns, ok := r.state.LookupNodeState(node.ID); ok {
		data = ns.Data
	}
	return r.env.prog.Type(node.ID).Update(ctx, budget, node, data), nil
}

// follow moves t out of node through out. The first connection continues
// the thread; every other connection gets a forked sibling. An output with
// no connections ends the branch.
func (r *run) follow(t *script.Thread, node *graph.Node, out graph.PinID) {
	rollback := r.env.prog.isRollbackPoint(node, out)
	targets, n := flowTargets(node, out)
	r.state.FinishNode(t, r.env.prog)

	if n == 0 {
		t.EndBranch(out, rollback)
		return
	}
	for _, ep := range targets[1:n] {
		r.state.AddThread(t.Fork(out, ep.Node, rollback))
		r.stats.Forks++
	}
	t.AdvanceToNode(out, targets[0].Node, rollback)
}

// spawn forks a sibling down every connection of out, leaving t in place.
func (r *run) spawn(t *script.Thread, node *graph.Node, out graph.PinID) {
	rollback := r.env.prog.isRollbackPoint(node, out)
	targets, n := flowTargets(node, out)
	for _, ep := range targets[:n] {
		r.state.AddThread(t.Fork(out, ep.Node, rollback))
		r.stats.Forks++
	}
}

// merge folds every other thread parked at node into t.
func (r *run) merge(t *script.Thread, node *graph.Node) {
	for _, other := range r.state.Threads() {
		if other == t || !other.IsMerging() {
			continue
		}
		if cur, ok := other.Current(); !ok || cur != node.ID {
			continue
		}
		r.state.FinishNode(other, r.env.prog)
		t.Merge(other)
		r.stats.Merges++
	}
}

func (r *run) terminate(t *script.Thread) {
	r.state.TerminateThread(t, r.env.prog)
	r.stats.Terminated++
}

// flowTargets copies the connections of a flow output into a fixed-size
// array. Compile rejects graphs with more than graph.MaxFanOut connections
// on one output, so nothing is dropped for compiled programs.
func flowTargets(node *graph.Node, out graph.PinID) ([graph.MaxFanOut]graph.Endpoint, int) {
	var targets [graph.MaxFanOut]graph.Endpoint
	p, ok := node.Pin(out)
	if !ok || p.Kind != graph.FlowOut {
		return targets, 0
	}
	n := copy(targets[:], p.Connections)
	return targets, n
}

// String implements fmt.Stringer for log output.
func (t Tick) String() string {
	return fmt.Sprintf("frame %d (+%s)", t.Frame, t.Delta)
}
