package host

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/store"
	"github.com/roach88/flowscript/internal/testutil"
	"github.com/roach88/flowscript/internal/value"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRunner(h engine.Host, opts ...Option) *Runner {
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithIDGenerator(testutil.NewFixedIDGenerator("")),
	}, opts...)
	return NewRunner(h, opts...)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// greeter messages the door, then marks itself as greeted.
func greeter(t *testing.T) *engine.Program {
	b := testutil.NewGraphBuilder("greeter", testutil.NewRecorder().Catalogue())
	start := b.Add("start", nil)
	send := b.Add("sendMessage", value.Map{"target": value.String("door"), "message": value.String("hi")})
	mark := b.Add("setProperty", value.Map{"property": value.String("greeted"), "value": value.Bool(true)})
	b.Flow(start, 0, send).Flow(send, 1, mark)
	return b.Program(t)
}

// delayed waits half a second, then hits the "done" probe.
func delayed(t *testing.T, rec *testutil.Recorder) *engine.Program {
	b := testutil.NewGraphBuilder("delayed", rec.Catalogue())
	start := b.Add("start", nil)
	wait := b.Add("wait", value.Map{"time": value.Float(0.5)})
	b.Flow(start, 0, wait).Flow(wait, 1, b.Probe("done"))
	return b.Program(t)
}

func oneShot(t *testing.T, rec *testutil.Recorder) *engine.Program {
	b := testutil.NewGraphBuilder("oneshot", rec.Catalogue())
	b.Flow(b.Add("start", nil), 0, b.Probe("hit"))
	return b.Program(t)
}

func TestRunner_EffectsApplyInInstanceOrder(t *testing.T) {
	h := testutil.NewHost()
	for name, id := range map[string]engine.EntityID{"a": 1, "b": 2, "c": 3, "door": 7} {
		h.AddEntity(name, id)
	}
	r := newRunner(h, WithWorkers(3))
	prog := greeter(t)
	for _, entity := range []engine.EntityID{3, 1, 2} {
		_, err := r.Spawn(prog, entity)
		require.NoError(t, err)
	}

	reports, err := r.Tick(context.Background(), engine.Tick{Frame: 1, Delta: 16 * time.Millisecond})
	require.NoError(t, err)

	require.Len(t, reports, 3)
	for i, want := range []string{"test-instance-1", "test-instance-2", "test-instance-3"} {
		assert.Equal(t, want, reports[i].ID)
		assert.Equal(t, script.Done, reports[i].Stats.Status)
	}
	var from []engine.EntityID
	for _, m := range h.Messages() {
		from = append(from, m.From)
		assert.Equal(t, engine.EntityID(7), m.To)
	}
	assert.Equal(t, []engine.EntityID{3, 1, 2}, from)
	for _, entity := range []engine.EntityID{1, 2, 3} {
		v, ok := h.Property(entity, "greeted")
		require.True(t, ok)
		assert.Equal(t, value.Bool(true), v)
	}
}

// variableLog records host variable writes without locking, so a write
// from a worker goroutine shows up under the race detector.
type variableLog struct {
	*testutil.Host
	writes []value.Value
}

func (h *variableLog) SetVariable(name string, v value.Value) bool {
	if !h.Host.SetVariable(name, v) {
		return false
	}
	h.writes = append(h.writes, v)
	return true
}

func TestRunner_HostVariablesWriteInInstanceOrder(t *testing.T) {
	const instances = 8

	progs := make([]*engine.Program, instances)
	for i := range progs {
		b := testutil.NewGraphBuilder("writer", testutil.NewRecorder().Catalogue())
		last := b.Add("setVariable", value.Map{"variable": value.String("last"), "value": value.Int(i + 1)})
		mine := b.Add("setVariable", value.Map{"variable": value.String("mine"), "value": value.Int(i + 1)})
		b.Flow(b.Add("start", nil), 0, last).Flow(last, 1, mine)
		progs[i] = b.Program(t)
	}

	for round := range 20 {
		h := &variableLog{Host: testutil.NewHost()}
		h.SetGlobal("last", value.Int(0))
		r := newRunner(h, WithWorkers(4))
		for i, prog := range progs {
			_, err := r.Spawn(prog, engine.EntityID(i+1))
			require.NoError(t, err)
		}

		_, err := r.Tick(context.Background(), engine.Tick{Frame: 1, Delta: 16 * time.Millisecond})
		require.NoError(t, err)

		want := make([]value.Value, instances)
		for i := range want {
			want[i] = value.Int(i + 1)
		}
		require.Equal(t, want, h.writes, "round %d", round)

		last, _ := h.Variable("last")
		assert.Equal(t, value.Int(instances), last)
		for i, inst := range r.Instances() {
			_, ok := inst.State().Variable("last")
			assert.False(t, ok, "host-owned variable must not land in the script")
			mine, ok := inst.State().Variable("mine")
			require.True(t, ok)
			assert.Equal(t, value.Int(i+1), mine)
		}
	}
}

func TestRunner_ParallelUpdates(t *testing.T) {
	rec := testutil.NewRecorder()
	b := testutil.NewGraphBuilder("counting", rec.Catalogue())
	loop := b.Add("forLoop", value.Map{"loopCount": value.Int(10)})
	b.Flow(b.Add("start", nil), 0, loop).Flow(loop, 2, b.Probe("body"))
	prog := b.Program(t)

	r := newRunner(nil, WithWorkers(4))
	for i := range 50 {
		_, err := r.Spawn(prog, engine.EntityID(i))
		require.NoError(t, err)
	}

	_, err := r.Tick(context.Background(), engine.Tick{Frame: 1, Delta: 16 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 500, rec.Count("body"))
}

func TestRunner_TickHonoursCancellation(t *testing.T) {
	rec := testutil.NewRecorder()
	r := newRunner(nil)
	_, err := r.Spawn(oneShot(t, rec), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Tick(ctx, engine.Tick{Frame: 1, Delta: time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Events())
}

func TestRunner_SaveAndResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	const frames = 8

	controlRec := testutil.NewRecorder()
	control := newRunner(nil)
	_, err := control.Spawn(delayed(t, controlRec), 1)
	require.NoError(t, err)
	clock := testutil.NewDeterministicClock(100 * time.Millisecond)
	for range frames {
		_, err := control.Tick(ctx, clock.Next())
		require.NoError(t, err)
	}
	require.Len(t, controlRec.Events(), 1)

	s := openStore(t)
	firstRec := testutil.NewRecorder()
	first := newRunner(nil, WithStore(s))
	inst, err := first.Spawn(delayed(t, firstRec), 1)
	require.NoError(t, err)
	clock.Reset()
	for range 2 {
		_, err := first.Tick(ctx, clock.Next())
		require.NoError(t, err)
	}
	require.NoError(t, first.Save(ctx))
	assert.Empty(t, firstRec.Events())

	secondRec := testutil.NewRecorder()
	second := newRunner(nil, WithStore(s))
	resumed, restored, err := second.Resume(ctx, inst.ID, delayed(t, secondRec), 1)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, inst.ID, resumed.ID)
	for range frames - 2 {
		_, err := second.Tick(ctx, clock.Next())
		require.NoError(t, err)
	}

	assert.Equal(t, controlRec.Events(), secondRec.Events())
}

func TestRunner_ResumeAgainstAnotherGraphStartsOver(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	rec := testutil.NewRecorder()

	first := newRunner(nil, WithStore(s))
	inst, err := first.Spawn(delayed(t, rec), 1)
	require.NoError(t, err)
	_, err = first.SaveInstance(ctx, inst.ID)
	require.NoError(t, err)

	other := oneShot(t, rec)
	second := newRunner(nil, WithStore(s))
	resumed, restored, err := second.Resume(ctx, inst.ID, other, 1)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.True(t, resumed.State().Started())
	assert.Equal(t, other.Hash(), resumed.State().GraphHash())

	_, err = second.Tick(ctx, engine.Tick{Frame: 1, Delta: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []string{"hit"}, rec.Names())
}

func TestRunner_ResumeErrors(t *testing.T) {
	ctx := context.Background()
	prog := oneShot(t, testutil.NewRecorder())

	_, _, err := newRunner(nil).Resume(ctx, "x", prog, 1)
	assert.Error(t, err, "no store")

	_, _, err = newRunner(nil, WithStore(openStore(t))).Resume(ctx, "missing", prog, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunner_ReapAndRestart(t *testing.T) {
	ctx := context.Background()
	rec := testutil.NewRecorder()
	prog := oneShot(t, rec)
	r := newRunner(nil)

	dead, err := r.Spawn(prog, 1)
	require.NoError(t, err)
	idle, err := r.Spawn(prog, 2)
	require.NoError(t, err)
	idle.State().SetPersist(true)
	again, err := r.Spawn(prog, 3)
	require.NoError(t, err)
	again.State().SetRestartable(true)

	_, err = r.Tick(ctx, engine.Tick{Frame: 1, Delta: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Count("hit"))
	assert.Equal(t, script.Idle, idle.State().Status())

	assert.True(t, engine.IsNotRestartable(r.Restart(dead.ID)))
	assert.Equal(t, []string{dead.ID}, r.Reap())
	assert.Equal(t, 2, r.Len())

	require.NoError(t, r.Restart(again.ID))
	_, err = r.Tick(ctx, engine.Tick{Frame: 2, Delta: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Count("hit"))

	assert.ErrorIs(t, r.Restart("nope"), ErrUnknownInstance)
}

func TestRunner_SpawnAndRemove(t *testing.T) {
	prog := oneShot(t, testutil.NewRecorder())
	r := newRunner(nil)

	inst, err := r.Spawn(prog, 1)
	require.NoError(t, err)
	got, ok := r.Get(inst.ID)
	require.True(t, ok)
	assert.Same(t, inst, got)
	assert.Same(t, prog, inst.Program())

	require.NoError(t, r.Remove(inst.ID))
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.Remove(inst.ID), ErrUnknownInstance)
}

type sameID struct{}

func (sameID) Generate() string { return "dup" }

func TestRunner_SpawnRejectsDuplicateID(t *testing.T) {
	prog := oneShot(t, testutil.NewRecorder())
	r := NewRunner(nil, WithLogger(quietLogger()), WithIDGenerator(sameID{}))

	_, err := r.Spawn(prog, 1)
	require.NoError(t, err)
	_, err = r.Spawn(prog, 2)
	assert.Error(t, err)
}

func TestRunner_DroppedEffectIsLogged(t *testing.T) {
	var logs bytes.Buffer
	h := testutil.NewHost()
	r := NewRunner(h, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	inst := r.newInstance("i", oneShot(t, testutil.NewRecorder()), 1)

	buffered := &bufferedHost{Host: h, mu: &r.hostMu, queue: inst.queue}
	assert.False(t, buffered.SetVariable("score", value.Int(1)), "variables the host does not hold stay with the script")
	require.NoError(t, buffered.SendMessage(1, 99, "hello", value.Null{}))
	buffered.PlayMusic("theme", time.Second)
	assert.Equal(t, 2, inst.queue.len())
	assert.Empty(t, h.Music(), "effects wait for the flush")

	r.flush(inst)
	assert.Zero(t, inst.queue.len())
	assert.Len(t, h.Music(), 1)
	assert.Contains(t, logs.String(), "host effect dropped")
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)

	id, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}
