package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/host"
	"github.com/roach88/flowscript/internal/metrics"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/store"
	"github.com/roach88/flowscript/internal/value"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config     string
	Frames     int
	Delta      time.Duration
	StartFrame int64
	Entity     uint64
	MaxSteps   int
	Metrics    bool
	store      storeFlags
}

// RunResult is the outcome of a run.
type RunResult struct {
	Instance  string         `json:"instance"`
	Graph     string         `json:"graph"`
	Hash      string         `json:"hash"`
	Frames    int            `json:"frames"`
	LastFrame int64          `json:"last_frame"`
	Status    string         `json:"status"`
	Threads   int            `json:"threads"`
	Steps     int            `json:"steps"`
	Variables map[string]any `json:"variables,omitempty"`
	Restored  bool           `json:"restored"`
	Store     string         `json:"store"`
	Seq       int64          `json:"seq,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Run a graph for a number of frames",
		Long: `Run one instance of a graph against a console host that logs every
host effect.

With --db or --redis the instance is saved under --key when the run ends,
and resumed from that snapshot on the next run of the same graph. A saved
run whose graph has changed starts over. Use --start-frame with the
last_frame of the previous run to keep frame numbers increasing.

Ctrl-C stops the run early; the instance is still saved.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args[0])
		},
	}

	defaults := defaultRunConfig()
	cmd.Flags().StringVar(&opts.Config, "config", "", "YAML run configuration")
	cmd.Flags().IntVar(&opts.Frames, "frames", defaults.Frames, "number of frames to run")
	cmd.Flags().DurationVar(&opts.Delta, "delta", defaults.Delta, "simulated time per frame")
	cmd.Flags().Int64Var(&opts.StartFrame, "start-frame", 0, "frame number the run continues after")
	cmd.Flags().Uint64Var(&opts.Entity, "entity", defaults.Entity, "entity id running the script")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "node updates allowed per frame (0 for the default)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "write Prometheus metrics to stderr when done")
	opts.store.register(cmd.Flags())

	return cmd
}

// config merges the config file, if any, with the flags set explicitly.
func (o *RunOptions) config(cmd *cobra.Command) (RunConfig, error) {
	cfg := defaultRunConfig()
	if o.Config != "" {
		var err error
		if cfg, err = loadRunConfig(o.Config); err != nil {
			return cfg, err
		}
	}
	changed := cmd.Flags().Changed
	if changed("frames") {
		cfg.Frames = o.Frames
	}
	if changed("delta") {
		cfg.Delta = o.Delta
	}
	if changed("start-frame") {
		cfg.StartFrame = o.StartFrame
	}
	if changed("entity") {
		cfg.Entity = o.Entity
	}
	if changed("max-steps") {
		cfg.MaxSteps = o.MaxSteps
	}
	o.store.apply(&cfg.Store, changed)
	return cfg, cfg.validate()
}

func runRun(cmd *cobra.Command, opts *RunOptions, path string) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := opts.config(cmd)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeConfig+": invalid run configuration", err)
	}
	if cfg.Entity == 0 {
		return NewExitError(ExitCommandError, ErrCodeConfig+": entity must not be zero")
	}

	prog, err := loadProgram(path, logger)
	if err != nil {
		return err
	}

	snapshots, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	if snapshots != nil {
		defer snapshots.Close()
	}

	reg := prometheus.NewRegistry()
	observer, err := metrics.New(reg)
	if err != nil {
		return WrapExitError(ExitFailure, "metrics", err)
	}

	engineOpts := []engine.Option{engine.WithObserver(observer)}
	if cfg.MaxSteps > 0 {
		engineOpts = append(engineOpts, engine.WithMaxStepsPerTick(cfg.MaxSteps))
	}
	runnerOpts := []host.Option{
		host.WithLogger(logger),
		host.WithEngineOptions(engineOpts...),
	}
	if snapshots != nil {
		runnerOpts = append(runnerOpts, host.WithStore(snapshots))
	}
	console := newConsoleHost(logger, engine.EntityID(cfg.Entity), cfg.Entities)
	runner := host.NewRunner(console, runnerOpts...)

	// Use the command's context if available (for testing).
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	inst, restored, err := spawnInstance(ctx, runner, prog, cfg, snapshots != nil)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start instance", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Debug("run starting", "instance", inst.ID, "restored", restored,
		"frames", cfg.Frames, "delta", cfg.Delta, "store", describeStore(cfg.Store))

	result := RunResult{
		Instance: inst.ID,
		Graph:    prog.Graph().Name(),
		Hash:     graph.FormatHash(prog.Hash()),
		Restored: restored,
		Store:    describeStore(cfg.Store),
	}

	clock := engine.NewClockAt(cfg.StartFrame, 0)
	for range cfg.Frames {
		if finished(inst.State()) {
			break
		}
		reports, err := runner.Tick(ctx, clock.Advance(cfg.Delta))
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			return WrapExitError(ExitFailure, "run failed", err)
		}
		result.Frames++
		for _, r := range reports {
			result.Steps += r.Stats.Steps
		}
	}
	result.LastFrame = cfg.StartFrame + int64(result.Frames)

	st := inst.State()
	result.Status = st.Status().String()
	result.Threads = st.ThreadCount()
	result.Variables = variables(st)

	if snapshots != nil {
		seq, err := runner.SaveInstance(context.WithoutCancel(ctx), inst.ID)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitFailure, ErrCodeStore+": failed to save instance", err)
		}
		result.Seq = seq
		logger.Debug("instance saved", "instance", inst.ID, "seq", seq)
	}

	if opts.Metrics {
		if err := metrics.WriteText(cmd.ErrOrStderr(), reg); err != nil {
			logger.Warn("metrics output failed", "error", err)
		}
	}

	return formatter.Emit(result, func(w io.Writer) {
		outputRunText(w, result)
	})
}

// spawnInstance resumes the saved instance named by the store key, or
// starts a fresh one seeded from the config.
func spawnInstance(ctx context.Context, runner *host.Runner, prog *engine.Program, cfg RunConfig, hasStore bool) (*host.Instance, bool, error) {
	entity := engine.EntityID(cfg.Entity)
	id := cfg.Store.Key
	if hasStore {
		inst, restored, err := runner.Resume(ctx, id, prog, entity)
		if err == nil {
			if !restored {
				if err := seed(inst.State(), cfg); err != nil {
					return nil, false, err
				}
			}
			return inst, restored, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	var (
		inst *host.Instance
		err  error
	)
	if id == "" {
		inst, err = runner.Spawn(prog, entity)
	} else {
		inst, err = runner.SpawnAs(id, prog, entity)
	}
	if err != nil {
		return nil, false, err
	}
	return inst, false, seed(inst.State(), cfg)
}

func seed(st *script.State, cfg RunConfig) error {
	st.SetPersist(cfg.Persist)
	st.SetRestartable(cfg.Restartable)
	for name, raw := range cfg.Variables {
		v, err := value.FromAny(raw)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		st.SetVariable(name, v)
	}
	return nil
}

// finished reports whether further frames would do nothing.
func finished(st *script.State) bool {
	switch st.Status() {
	case script.Done, script.Idle:
		return true
	}
	return false
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

func outputRunText(w io.Writer, r RunResult) {
	fmt.Fprintf(w, "Graph:     %s (hash %s)\n", r.Graph, r.Hash)
	fmt.Fprintf(w, "Instance:  %s\n", r.Instance)
	if r.Restored {
		fmt.Fprintln(w, "Restored:  yes")
	}
	fmt.Fprintf(w, "Status:    %s after %d frame(s), last frame %d\n", r.Status, r.Frames, r.LastFrame)
	fmt.Fprintf(w, "Threads:   %d\n", r.Threads)
	fmt.Fprintf(w, "Steps:     %d\n", r.Steps)
	if r.Seq > 0 {
		fmt.Fprintf(w, "Saved:     %s seq %d\n", r.Store, r.Seq)
	}
	if len(r.Variables) > 0 {
		fmt.Fprintln(w, "Variables:")
		names := make([]string, 0, len(r.Variables))
		for name := range r.Variables {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s = %v\n", name, r.Variables[name])
		}
	}
}
