package engine_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/testutil"
	"github.com/roach88/flowscript/internal/value"
)

const self engine.EntityID = 1

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness drives one State through deterministic ticks.
type harness struct {
	t     *testing.T
	env   *engine.Environment
	st    *script.State
	clock *testutil.DeterministicClock
}

func newHarness(t *testing.T, prog *engine.Program, delta time.Duration, opts ...engine.Option) *harness {
	t.Helper()
	opts = append([]engine.Option{engine.WithLogger(quietLogger())}, opts...)
	h := &harness{
		t:     t,
		env:   engine.NewEnvironment(prog, testutil.NewHost(), opts...),
		st:    script.New(),
		clock: testutil.NewDeterministicClock(delta),
	}
	require.NoError(t, h.env.Start(h.st))
	return h
}

func (h *harness) tick() engine.TickStats {
	return h.env.Update(h.st, h.clock.Next(), self)
}

func (h *harness) tickWith(delta time.Duration) engine.TickStats {
	return h.env.Update(h.st, h.clock.NextWith(delta), self)
}

// chargeObserver sums the time charged to nodes in each tick.
type chargeObserver struct {
	cur     time.Duration
	perTick []time.Duration
	states  []engine.ResultState
}

func (o *chargeObserver) NodeUpdated(_ *graph.Node, state engine.ResultState, consumed time.Duration) {
	o.cur += consumed
	o.states = append(o.states, state)
}

func (o *chargeObserver) TickCompleted(engine.TickStats) {
	o.perTick = append(o.perTick, o.cur)
	o.cur = 0
}

func countingLoop(t *testing.T, rec *testutil.Recorder, count int64) *engine.Program {
	b := testutil.NewGraphBuilder("counting", rec.Catalogue())
	start := b.Add("start", nil)
	loop := b.Add("forLoop", value.Map{"loopCount": value.Int(count)})
	body := b.Probe("body")
	after := b.Probe("after")
	b.Flow(start, 0, loop)
	b.Flow(loop, 2, body)
	b.Flow(loop, 1, after)
	return b.Program(t)
}

func TestEnvironment_CountingLoop(t *testing.T) {
	rec := testutil.NewRecorder()
	h := newHarness(t, countingLoop(t, rec, 3), 16*time.Millisecond)

	stats := h.tick()

	assert.Equal(t, []string{"body", "body", "body", "after"}, rec.Names())
	assert.Equal(t, script.Done, stats.Status)
	assert.Equal(t, 0, stats.Threads)
	// start, 4 loop visits, 3 bodies, after
	assert.Equal(t, 9, stats.Steps)
}

func TestEnvironment_CountingLoopZero(t *testing.T) {
	rec := testutil.NewRecorder()
	h := newHarness(t, countingLoop(t, rec, 0), 16*time.Millisecond)
	h.tick()
	assert.Equal(t, []string{"after"}, rec.Names())
}

func TestEnvironment_LoopStackStaysBounded(t *testing.T) {
	const iterations = 100_000
	rec := testutil.NewRecorder()
	h := newHarness(t, countingLoop(t, rec, iterations), 16*time.Millisecond,
		engine.WithMaxStepsPerTick(1001))

	maxDepth := 0
	for range 1000 {
		stats := h.tick()
		for _, th := range h.st.Threads() {
			maxDepth = max(maxDepth, len(th.Stack()))
		}
		if stats.Status == script.Done {
			break
		}
		require.True(t, stats.QuotaHit)
	}

	assert.Equal(t, script.Done, h.st.Status())
	assert.Equal(t, iterations, rec.Count("body"))
	assert.Equal(t, 1, rec.Count("after"))
	assert.Equal(t, 1, maxDepth)
}

func TestEnvironment_NestedLoopsReinitInnerData(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("nested", rec.Catalogue())
	start := b.Add("start", nil)
	outer := b.Add("forLoop", value.Map{"loopCount": value.Int(3)})
	inner := b.Add("forLoop", value.Map{"loopCount": value.Int(4)})
	body := b.Probe("body")
	b.Flow(start, 0, outer)
	b.Flow(outer, 2, inner)
	b.Flow(inner, 2, body)

	h := newHarness(t, b.Program(t), 16*time.Millisecond)
	h.tick()

	assert.Equal(t, 12, rec.Count("body"))
	assert.Equal(t, script.Done, h.st.Status())
}

func TestEnvironment_TimeConservation(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("wait", rec.Catalogue())
	start := b.Add("start", nil)
	wait := b.Add("wait", value.Map{"time": value.Float(0.375)})
	done := b.Probe("done")
	b.Flow(start, 0, wait)
	b.Flow(wait, 1, done)

	obs := &chargeObserver{}
	h := newHarness(t, b.Program(t), 100*time.Millisecond, engine.WithObserver(obs))
	for range 5 {
		h.tick()
	}

	require.Len(t, obs.perTick, 5)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
		75 * time.Millisecond,
		0,
	}, obs.perTick)
	for _, charged := range obs.perTick {
		assert.LessOrEqual(t, charged, 100*time.Millisecond)
	}

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, int64(4), events[0].Frame)
}

func TestEnvironment_PulseBoundary(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("pulse", rec.Catalogue())
	start := b.Add("start", nil)
	every := b.Add("everyTime", value.Map{"time": value.Float(1)})
	pulse := b.Probe("pulse")
	b.Flow(start, 0, every)
	b.Flow(every, 1, pulse)

	h := newHarness(t, b.Program(t), 16*time.Millisecond)
	phase := func() time.Duration {
		ns, ok := h.st.LookupNodeState(every)
		require.True(t, ok)
		return ns.Data.(*script.TimerData).Elapsed
	}

	// Fires on first entry.
	assert.Equal(t, 1, h.tick().Forks)
	assert.Zero(t, phase())

	// Advancing by exactly one period fires exactly once, phase back to 0.
	assert.Equal(t, 1, h.tickWith(time.Second).Forks)
	assert.Zero(t, phase())

	assert.Equal(t, 0, h.tickWith(500*time.Millisecond).Forks)
	assert.Equal(t, 500*time.Millisecond, phase())

	assert.Equal(t, 1, h.tickWith(500*time.Millisecond).Forks)
	assert.Zero(t, phase())

	// Several periods in one tick still fire once.
	assert.Equal(t, 1, h.tickWith(3*time.Second).Forks)
	assert.Zero(t, phase())

	assert.Equal(t, 4, rec.Count("pulse"))
	assert.Equal(t, script.Running, h.st.Status())
}

func TestEnvironment_LerpReachesOneBeforeAfter(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("lerp", rec.Catalogue())
	start := b.Add("start", nil)
	lerp := b.Add("lerpLoop", value.Map{"time": value.Float(0.5)})
	body := b.Probe("body")
	after := b.Probe("after")
	b.Flow(start, 0, lerp)
	b.Flow(lerp, 2, body)
	b.Flow(lerp, 1, after)
	b.Connect(lerp, 3, body, 2)

	h := newHarness(t, b.Program(t), 125*time.Millisecond)
	for range 6 {
		h.tick()
	}

	events := rec.Events()
	require.Len(t, events, 5)
	want := []float64{0.25, 0.5, 0.75, 1}
	for i, w := range want {
		assert.Equal(t, "body", events[i].Probe)
		assert.InDelta(t, w, value.AsFloat(events[i].Value, -1), 1e-9)
	}
	assert.Equal(t, "after", events[4].Probe)
	assert.Equal(t, events[3].Frame, events[4].Frame)
	assert.Equal(t, script.Done, h.st.Status())
}

func TestEnvironment_FanOutForks(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("fanout", rec.Catalogue())
	start := b.Add("start", nil)
	seq := b.Add("sequence", nil)
	b.Flow(start, 0, seq)
	for _, name := range []string{"a", "b", "c"} {
		b.Flow(seq, 1, b.Probe(name))
	}

	h := newHarness(t, b.Program(t), 16*time.Millisecond)
	stats := h.tick()

	assert.Equal(t, []string{"a", "b", "c"}, rec.Names())
	assert.Equal(t, 2, stats.Forks)
	assert.Equal(t, script.Done, stats.Status)
}

func TestEnvironment_JoinMergesBranches(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("join", rec.Catalogue())
	start := b.Add("start", nil)
	seq := b.Add("sequence", nil)
	fast := b.Probe("fast")
	slow := b.Add("wait", value.Map{"time": value.Float(0.25)})
	join := b.Add("join", nil)
	joined := b.Probe("joined")
	b.Flow(start, 0, seq)
	b.Flow(seq, 1, fast)
	b.Flow(seq, 1, slow)
	b.Flow(fast, 1, join)
	b.Flow(slow, 1, join)
	b.Flow(join, 1, joined)

	h := newHarness(t, b.Program(t), 100*time.Millisecond)

	stats := h.tick()
	assert.Equal(t, 0, rec.Count("joined"))
	assert.Equal(t, 2, stats.Threads)
	assert.True(t, h.st.HasThreadAt(join))

	h.tick()
	stats = h.tick()
	assert.Equal(t, 1, rec.Count("joined"))
	assert.Equal(t, 1, stats.Merges)
	assert.Equal(t, script.Done, stats.Status)
	_, ok := h.st.LookupNodeState(join)
	assert.False(t, ok, "join data is released once every branch has left")
}

func TestEnvironment_JoinCountsOnlyLiveBranches(t *testing.T) {
	parkedAt := func(st *script.State, node graph.NodeID) []*script.Thread {
		var out []*script.Thread
		for _, th := range st.Threads() {
			if id, ok := th.Current(); ok && id == node && th.IsMerging() {
				out = append(out, th)
			}
		}
		return out
	}

	tests := []struct {
		name       string
		abort      bool
		wantJoined int
		wantParked int
	}{
		{"all branches arrive", false, 1, 0},
		{"one parked branch aborted", true, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.NewRecorder()
			b := testutil.NewGraphBuilder("join3", rec.Catalogue())
			seq := b.Add("sequence", nil)
			fast := b.Probe("fast")
			mid := b.Add("wait", value.Map{"time": value.Float(0.15)})
			slow := b.Add("wait", value.Map{"time": value.Float(0.45)})
			join := b.Add("join", value.Map{"inputs": value.Int(3)})
			b.Flow(b.Add("start", nil), 0, seq)
			b.Flow(seq, 1, fast).Flow(seq, 1, mid).Flow(seq, 1, slow)
			b.Flow(fast, 1, join).Flow(mid, 1, join).Flow(slow, 1, join)
			b.Flow(join, 1, b.Probe("joined"))

			h := newHarness(t, b.Program(t), 100*time.Millisecond)
			h.tick()
			h.tick()
			parked := parkedAt(h.st, join)
			require.Len(t, parked, 2)
			if tt.abort {
				h.env.TerminateThread(h.st, parked[0])
			}

			for range 4 {
				h.tick()
			}
			assert.Equal(t, tt.wantJoined, rec.Count("joined"))
			assert.Len(t, parkedAt(h.st, join), tt.wantParked)
		})
	}
}

type panicType struct{}

func (panicType) Name() string { return "panic" }

func (panicType) Pins(*graph.Node) []graph.PinKind {
	return []graph.PinKind{graph.FlowIn, graph.FlowOut}
}

func (panicType) Update(*engine.Context, time.Duration, *graph.Node, script.NodeData) engine.Result {
	panic("node exploded")
}

func TestEnvironment_NodePanicTerminatesOnlyItsThread(t *testing.T) {
	rec := testutil.NewRecorder()
	cat := rec.Catalogue()
	require.NoError(t, cat.Register(panicType{}))

	b := testutil.NewGraphBuilder("panic", cat)
	start := b.Add("start", nil)
	seq := b.Add("sequence", nil)
	boom := b.Add("panic", nil)
	after := b.Probe("after-panic")
	survivor := b.Probe("survivor")
	b.Flow(start, 0, seq)
	b.Flow(seq, 1, boom)
	b.Flow(seq, 1, survivor)
	b.Flow(boom, 1, after)

	h := newHarness(t, b.Program(t), 16*time.Millisecond)
	stats := h.tick()

	assert.Equal(t, 1, stats.Panics)
	assert.Equal(t, 1, stats.Terminated)
	assert.Equal(t, []string{"survivor"}, rec.Names())
	assert.Equal(t, script.Done, stats.Status)
	_, ok := h.st.LookupNodeState(boom)
	assert.False(t, ok)
}

func TestCompile_FlagsRunAsPassthrough(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("flags", rec.Catalogue())
	start := b.Add("start", nil)
	mystery := b.AddWithPins("mystery", nil, graph.FlowIn, graph.FlowOut)
	badPins := b.AddWithPins("wait", nil, graph.FlowIn, graph.FlowOut, graph.FlowOut)
	badSettings := b.Add("everyTime", value.Map{"time": value.Float(-1)})
	end := b.Probe("end")
	b.Flow(start, 0, mystery)
	b.Flow(mystery, 1, badPins)
	b.Flow(badPins, 1, badSettings)
	b.Flow(badSettings, 1, end)

	prog := b.Program(t)
	codes := make([]string, 0, len(prog.Flags()))
	for _, f := range prog.Flags() {
		codes = append(codes, f.Code)
		require.NotNil(t, f.Node)
	}
	assert.Equal(t, []string{graph.ErrUnknownNodeType, graph.ErrPinLayout, graph.ErrInvalidSettings}, codes)
	assert.Equal(t, "passthrough", prog.Type(mystery).Name())

	h := newHarness(t, prog, 16*time.Millisecond)
	h.tick()
	assert.Equal(t, []string{"end"}, rec.Names())
}

func TestCompile_RejectsHardLimits(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("fanout", rec.Catalogue())
	start := b.Add("start", nil)
	for i := range graph.MaxFanOut + 1 {
		b.Flow(start, 0, b.Probe(string(rune('a'+i))))
	}

	_, err := engine.Compile(b.Build(t), rec.Catalogue())
	require.Error(t, err)
	var verrs graph.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, graph.ErrFanOutExceeded, verrs[0].Code)
}

func TestEnvironment_NoEntry(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("headless", rec.Catalogue())
	b.Probe("orphan")
	prog := b.Program(t)

	_, hasEntry := prog.Entry()
	assert.False(t, hasEntry)
	require.NotEmpty(t, prog.Flags())
	assert.Equal(t, graph.ErrNoEntryNode, prog.Flags()[len(prog.Flags())-1].Code)

	env := engine.NewEnvironment(prog, nil, engine.WithLogger(quietLogger()))
	st := script.New()
	err := env.Start(st)
	assert.True(t, engine.IsNoEntry(err))

	stats := env.Update(st, engine.Tick{Frame: 1, Delta: time.Second}, self)
	assert.Equal(t, script.NotStarted, stats.Status)
}

func TestEnvironment_StepQuotaBoundsZeroTimeCycles(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("spin", rec.Catalogue())
	start := b.Add("start", nil)
	a := b.Add("sequence", nil)
	c := b.Add("sequence", nil)
	b.Flow(start, 0, a)
	b.Flow(a, 1, c)
	b.Flow(c, 1, a)

	h := newHarness(t, b.Program(t), 16*time.Millisecond, engine.WithMaxStepsPerTick(50))

	for range 3 {
		stats := h.tick()
		assert.True(t, stats.QuotaHit)
		assert.Equal(t, 50, stats.Steps)
		assert.Equal(t, script.Running, stats.Status)
	}
}

func TestEnvironment_AbortCodePath(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("abort", rec.Catalogue())
	start := b.Add("start", nil)
	seq := b.Add("sequence", nil)
	loop := b.Add("forLoop", value.Map{"loopCount": value.Int(2)})
	inLoop := b.Add("wait", value.Map{"time": value.Float(10)})
	outside := b.Add("wait", value.Map{"time": value.Float(10)})
	b.Flow(start, 0, seq)
	b.Flow(seq, 1, loop)
	b.Flow(seq, 1, outside)
	b.Flow(loop, 2, inLoop)

	h := newHarness(t, b.Program(t), 16*time.Millisecond)
	h.tick()
	require.Equal(t, 2, h.st.ThreadCount())

	after := graph.PinID(1)
	assert.Equal(t, 0, h.env.AbortCodePath(h.st, loop, &after))

	body := graph.PinID(2)
	assert.Equal(t, 1, h.env.AbortCodePath(h.st, loop, &body))
	assert.Equal(t, 1, h.st.ThreadCount())
	assert.False(t, h.st.HasThreadAt(inLoop))

	assert.Equal(t, 1, h.env.AbortCodePath(h.st, outside, nil))
	assert.Equal(t, script.Done, h.st.Status())
}

func TestEnvironment_RestartAndDeadStates(t *testing.T) {
	rec := testutil.NewRecorder()
	h := newHarness(t, countingLoop(t, rec, 1), 16*time.Millisecond)
	h.tick()
	require.True(t, h.st.IsDead())

	err := h.env.Restart(h.st)
	require.Error(t, err)
	var se *engine.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.ErrCodeNotRestartable, se.Code)

	h.st.SetRestartable(true)
	require.NoError(t, h.env.Restart(h.st))
	h.tick()
	assert.Equal(t, []string{"body", "after", "body", "after"}, rec.Names())

	h.st.SetPersist(true)
	assert.Equal(t, script.Idle, h.st.Status())
}

func TestEnvironment_TerminateState(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("terminate", rec.Catalogue())
	start := b.Add("start", nil)
	frame := b.Add("everyFrame", nil)
	b.Flow(start, 0, frame)
	b.Flow(frame, 1, b.Probe("frame"))

	h := newHarness(t, b.Program(t), 16*time.Millisecond)
	h.tick()
	h.tick()
	assert.Equal(t, 2, rec.Count("frame"))

	h.env.TerminateState(h.st)
	assert.Equal(t, script.Done, h.st.Status())
	ns, ok := h.st.LookupNodeState(frame)
	require.True(t, ok, "per-frame nodes keep their data")
	assert.Equal(t, int64(2), ns.Data.(*script.FrameData).LastFrame)

	h.tick()
	assert.Equal(t, 2, rec.Count("frame"))
}

func TestEnvironment_Introspection(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("introspect", rec.Catalogue())
	start := b.Add("start", nil)
	probe := b.Probe("p")
	wait := b.Add("wait", value.Map{"time": value.Float(1)})
	unused := b.Probe("unused")
	b.Flow(start, 0, probe)
	b.Flow(probe, 1, wait)

	h := newHarness(t, b.Program(t), 100*time.Millisecond)
	h.st.SetIntrospection(true)
	h.tick()
	h.tick()

	assert.Equal(t, script.Visited, h.st.Introspection(probe).Activity)
	active := h.st.Introspection(wait)
	assert.Equal(t, script.Active, active.Activity)
	assert.Equal(t, 200*time.Millisecond, active.Elapsed)
	assert.Equal(t, script.Unvisited, h.st.Introspection(unused).Activity)
}
