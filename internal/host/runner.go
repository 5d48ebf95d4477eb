// Package host runs many script instances against one game host.
//
// A Runner owns one script.State per instance, each bound to an entity and
// a compiled program. Tick updates every instance, in parallel on a bounded
// worker pool, and then applies the host effects they produced in instance
// order, so the host sees the same sequence of writes on every run no matter
// how the updates were scheduled. Reads made during the update are
// serialized, so the host never needs to be goroutine-safe.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/store"
)

// ErrUnknownInstance is returned for ids the runner does not hold.
var ErrUnknownInstance = errors.New("host: unknown instance")

// Instance is one running script.
type Instance struct {
	ID     string
	Entity engine.EntityID

	env   *engine.Environment
	state *script.State
	queue *effectQueue
}

// State returns the instance's script state. It must not be modified while
// a Tick is in progress.
func (i *Instance) State() *script.State { return i.state }

// Program returns the program the instance runs.
func (i *Instance) Program() *engine.Program { return i.env.Program() }

// Report is the outcome of one instance's update.
type Report struct {
	ID     string
	Entity engine.EntityID
	Stats  engine.TickStats
}

// Runner updates a set of instances each tick.
//
// Spawn, Resume, Remove and Tick may be called from different goroutines,
// but Ticks must not overlap.
type Runner struct {
	host       engine.Host
	store      store.SnapshotStore
	ids        IDGenerator
	workers    int
	logger     *slog.Logger
	engineOpts []engine.Option

	hostMu    sync.Mutex // serializes host reads from parallel updates
	mu        sync.Mutex
	instances map[string]*Instance
	order     []string
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore sets the snapshot store used by Save and Resume.
func WithStore(s store.SnapshotStore) Option {
	return func(r *Runner) {
		r.store = s
	}
}

// WithIDGenerator sets how instance ids are generated.
//
// Default: UUIDv7Generator.
// Use testutil.FixedIDGenerator for deterministic tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runner) {
		r.ids = g
	}
}

// WithWorkers bounds how many instances are updated at once.
//
// Default: runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(r *Runner) {
		r.workers = n
	}
}

// WithLogger sets the logger for the runner and its environments.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithEngineOptions passes options to every Environment the runner creates.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(r *Runner) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

// NewRunner creates a runner acting on h.
func NewRunner(h engine.Host, opts ...Option) *Runner {
	if h == nil {
		h = engine.NopHost{}
	}
	r := &Runner{
		host:      h,
		ids:       UUIDv7Generator{},
		workers:   runtime.GOMAXPROCS(0),
		logger:    slog.Default(),
		instances: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

func (r *Runner) newInstance(id string, prog *engine.Program, entity engine.EntityID) *Instance {
	q := &effectQueue{}
	opts := append([]engine.Option{engine.WithLogger(r.logger.With("instance", id))}, r.engineOpts...)
	return &Instance{
		ID:     id,
		Entity: entity,
		env:    engine.NewEnvironment(prog, &bufferedHost{Host: r.host, mu: &r.hostMu, queue: q}, opts...),
		queue:  q,
	}
}

func (r *Runner) add(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.ID]; ok {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	r.instances[inst.ID] = inst
	r.order = append(r.order, inst.ID)
	return nil
}

// Spawn starts a new instance of prog for entity under a generated id.
func (r *Runner) Spawn(prog *engine.Program, entity engine.EntityID) (*Instance, error) {
	return r.SpawnAs(r.ids.Generate(), prog, entity)
}

// SpawnAs starts a new instance of prog for entity under id.
func (r *Runner) SpawnAs(id string, prog *engine.Program, entity engine.EntityID) (*Instance, error) {
	inst := r.newInstance(id, prog, entity)
	inst.state = script.New()
	if err := inst.env.Start(inst.state); err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	if err := r.add(inst); err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	r.logger.Debug("instance spawned", "instance", inst.ID, "entity", entity, "graph", prog.Graph().Name())
	return inst, nil
}

// Resume loads the snapshot saved under id and adds it as an instance of
// prog. When the snapshot cannot be resumed against prog, the instance
// starts over and restored is false. A missing snapshot is an error.
func (r *Runner) Resume(ctx context.Context, id string, prog *engine.Program, entity engine.EntityID) (inst *Instance, restored bool, err error) {
	if r.store == nil {
		return nil, false, errors.New("resume: runner has no store")
	}
	snap, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("resume: %w", err)
	}

	inst = r.newInstance(id, prog, entity)
	inst.state, restored = inst.env.Resume(snap.Data)
	if !restored {
		if err := inst.env.Start(inst.state); err != nil {
			return nil, false, fmt.Errorf("resume: %w", err)
		}
	}
	if err := r.add(inst); err != nil {
		return nil, false, fmt.Errorf("resume: %w", err)
	}
	r.logger.Debug("instance resumed", "instance", id, "restored", restored, "seq", snap.Seq)
	return inst, restored, nil
}

// Get returns the instance with the given id.
func (r *Runner) Get(id string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Instances returns every instance in the order they were added.
func (r *Runner) Instances() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Instance, len(r.order))
	for i, id := range r.order {
		out[i] = r.instances[id]
	}
	return out
}

// Len returns the number of instances.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Remove terminates and drops an instance. Effects it queued but has not
// applied yet are discarded.
func (r *Runner) Remove(id string) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if ok {
		delete(r.instances, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("remove %s: %w", id, ErrUnknownInstance)
	}
	inst.env.TerminateState(inst.state)
	inst.queue.drain()
	return nil
}

// Restart starts a finished instance again. Dead instances refuse.
func (r *Runner) Restart(id string) error {
	inst, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("restart %s: %w", id, ErrUnknownInstance)
	}
	if err := inst.env.Restart(inst.state); err != nil {
		return fmt.Errorf("restart %s: %w", id, err)
	}
	return nil
}

// Tick updates every instance once and then applies their effects.
func (r *Runner) Tick(ctx context.Context, tick engine.Tick) ([]Report, error) {
	insts := r.Instances()
	reports := make([]Report, len(insts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, inst := range insts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = Report{
				ID:     inst.ID,
				Entity: inst.Entity,
				Stats:  inst.env.Update(inst.state, tick, inst.Entity),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", tick, err)
	}

	for _, inst := range insts {
		r.flush(inst)
	}
	return reports, nil
}

func (r *Runner) flush(inst *Instance) {
	for _, e := range inst.queue.drain() {
		if err := apply(r.host, e); err != nil {
			// The script has moved on; a lost target only drops the effect.
			r.logger.Warn("host effect dropped",
				"instance", inst.ID, "entity", inst.Entity, "target", e.target, "name", e.name, "error", err)
		}
	}
}

// Reap removes instances that are done and can never run again. Idle
// instances (done but persisted) and restartable ones are kept. Returns the
// removed ids.
func (r *Runner) Reap() []string {
	var dead []string
	for _, inst := range r.Instances() {
		if inst.state.IsDead() && !inst.state.Persist() {
			dead = append(dead, inst.ID)
		}
	}
	for _, id := range dead {
		_ = r.Remove(id)
	}
	return dead
}

// Save writes a snapshot of every instance to the store.
func (r *Runner) Save(ctx context.Context) error {
	for _, inst := range r.Instances() {
		if _, err := r.SaveInstance(ctx, inst.ID); err != nil {
			return err
		}
	}
	return nil
}

// SaveInstance writes a snapshot of one instance and returns its seq.
func (r *Runner) SaveInstance(ctx context.Context, id string) (int64, error) {
	if r.store == nil {
		return 0, errors.New("save: runner has no store")
	}
	inst, ok := r.Get(id)
	if !ok {
		return 0, fmt.Errorf("save %s: %w", id, ErrUnknownInstance)
	}
	snap, err := store.Capture(id, inst.state)
	if err != nil {
		return 0, fmt.Errorf("save: %w", err)
	}
	seq, err := r.store.Save(ctx, snap)
	if err != nil {
		return 0, fmt.Errorf("save: %w", err)
	}
	return seq, nil
}
