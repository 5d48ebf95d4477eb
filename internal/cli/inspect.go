package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/store"
	"github.com/roach88/flowscript/internal/value"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Seq     int64
	History bool
	Current bool
	store   storeFlags
}

// InspectResult describes a saved instance.
type InspectResult struct {
	Key         string         `json:"key"`
	Graph       string         `json:"graph"`
	Hash        string         `json:"hash"`
	Seq         int64          `json:"seq"`
	Status      string         `json:"status"`
	Persist     bool           `json:"persist"`
	Restartable bool           `json:"restartable"`
	Threads     []ThreadInfo   `json:"threads"`
	Nodes       []NodeInfo     `json:"nodes"`
	Variables   map[string]any `json:"variables,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
}

// ThreadInfo is one thread of a saved instance.
type ThreadInfo struct {
	Node    graph.NodeID `json:"node"`
	Type    string       `json:"type"`
	Depth   int          `json:"depth"`
	Merging bool         `json:"merging,omitempty"`
}

// NodeInfo is the saved bookkeeping of one node.
type NodeInfo struct {
	ID      graph.NodeID `json:"id"`
	Type    string       `json:"type"`
	Threads int          `json:"threads"`
	Data    string       `json:"data,omitempty"`
}

// HistoryEntry is one logged save of a key.
type HistoryEntry struct {
	Seq     int64  `json:"seq"`
	Hash    string `json:"hash"`
	Current bool   `json:"current"`
}

// KeyList is the output of inspect without --key.
type KeyList struct {
	Keys []string `json:"keys"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <graph-file>",
		Short: "Show a saved instance",
		Long: `Load the snapshot saved under --key and resume it against the graph,
then print its threads, node data and variables.

Without --key, lists the saved keys; --current keeps only the keys last
saved from this graph. --history, --seq and --current need a SQLite store.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, opts, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.Seq, "seq", 0, "inspect an earlier save (SQLite only)")
	cmd.Flags().BoolVar(&opts.History, "history", false, "list every save of the key (SQLite only)")
	cmd.Flags().BoolVar(&opts.Current, "current", false, "list only keys last saved from this graph (SQLite only)")
	opts.store.register(cmd.Flags())

	return cmd
}

func runInspect(cmd *cobra.Command, opts *InspectOptions, path string) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	var cfg StoreConfig
	opts.store.apply(&cfg, cmd.Flags().Changed)
	if cfg.SQLite == "" && cfg.Redis == "" {
		return outputCommandError(formatter, fmt.Errorf("one of --db or --redis is required"))
	}
	sqlite := cfg.SQLite != ""
	if (opts.History || opts.Seq > 0 || opts.Current) && !sqlite {
		return outputCommandError(formatter, fmt.Errorf("--history, --seq and --current need --db"))
	}

	prog, err := loadProgram(path, logger)
	if err != nil {
		return err
	}
	snapshots, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Key == "" {
		var keys []string
		if opts.Current {
			keys, err = snapshots.(*store.Store).ListByGraph(ctx, prog.Hash())
		} else {
			keys, err = snapshots.List(ctx)
		}
		if err != nil {
			return WrapExitError(ExitFailure, ErrCodeStore+": failed to list keys", err)
		}
		return formatter.Emit(KeyList{Keys: keys}, func(w io.Writer) {
			for _, k := range keys {
				fmt.Fprintln(w, k)
			}
		})
	}

	var snap store.Snapshot
	if opts.Seq > 0 {
		snap, err = snapshots.(*store.Store).LoadAt(ctx, cfg.Key, opts.Seq)
	} else {
		snap, err = snapshots.Load(ctx, cfg.Key)
	}
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error(ErrCodeStore, fmt.Sprintf("no snapshot saved under %q", cfg.Key), nil)
		return NewExitError(ExitFailure, ErrCodeStore+": snapshot not found")
	}
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeStore+": failed to load snapshot", err)
	}

	st, err := snap.Restore(prog.Graph())
	if err != nil {
		msg := err.Error()
		if errors.Is(err, script.ErrGraphMismatch) {
			msg = fmt.Sprintf("snapshot was saved from graph %s, not %s", graph.FormatHash(snap.GraphHash), graph.FormatHash(prog.Hash()))
		}
		_ = formatter.Error(ErrCodeStore, msg, nil)
		return WrapExitError(ExitFailure, ErrCodeStore+": snapshot does not fit graph", err)
	}

	result := describeState(prog, st)
	result.Key = cfg.Key
	result.Seq = snap.Seq

	if opts.History {
		saves, err := snapshots.(*store.Store).History(ctx, cfg.Key)
		if err != nil {
			return WrapExitError(ExitFailure, ErrCodeStore+": failed to read history", err)
		}
		for _, s := range saves {
			result.History = append(result.History, HistoryEntry{
				Seq:     s.Seq,
				Hash:    graph.FormatHash(s.GraphHash),
				Current: s.GraphHash == prog.Hash(),
			})
		}
	}

	return formatter.Emit(result, func(w io.Writer) {
		outputInspectText(w, result)
	})
}

// describeState flattens a resumed state for output.
func describeState(prog *engine.Program, st *script.State) InspectResult {
	g := prog.Graph()
	r := InspectResult{
		Graph:       g.Name(),
		Hash:        graph.FormatHash(prog.Hash()),
		Status:      st.Status().String(),
		Persist:     st.Persist(),
		Restartable: st.Restartable(),
		Threads:     []ThreadInfo{},
		Nodes:       []NodeInfo{},
		Variables:   variables(st),
	}
	for _, t := range st.Threads() {
		id, ok := t.Current()
		if !ok {
			continue
		}
		node, _ := g.Node(id)
		r.Threads = append(r.Threads, ThreadInfo{Node: id, Type: node.Type, Depth: len(t.Stack()), Merging: t.IsMerging()})
	}
	for i := range g.Len() {
		id := graph.NodeID(i)
		ns, ok := st.LookupNodeState(id)
		if !ok {
			continue
		}
		node, _ := g.Node(id)
		r.Nodes = append(r.Nodes, NodeInfo{ID: id, Type: node.Type, Threads: int(ns.ThreadCount), Data: describeData(ns.Data)})
	}
	return r
}

func describeData(d script.NodeData) string {
	switch d := d.(type) {
	case *script.LoopData:
		return fmt.Sprintf("loop iterations=%d", d.Iterations)
	case *script.TimerData:
		return fmt.Sprintf("timer elapsed=%s", d.Elapsed)
	case *script.FrameData:
		return fmt.Sprintf("frame last=%d", d.LastFrame)
	case *script.JoinData:
		return fmt.Sprintf("join arrived=%d", d.Arrived)
	case *script.LatchData:
		return fmt.Sprintf("latch value=%v", value.ToAny(d.Value))
	}
	return ""
}

func outputInspectText(w io.Writer, r InspectResult) {
	fmt.Fprintf(w, "Key:       %s (seq %d)\n", r.Key, r.Seq)
	fmt.Fprintf(w, "Graph:     %s (hash %s)\n", r.Graph, r.Hash)
	fmt.Fprintf(w, "Status:    %s (persist=%t restartable=%t)\n", r.Status, r.Persist, r.Restartable)

	fmt.Fprintf(w, "Threads:   %d\n", len(r.Threads))
	for _, t := range r.Threads {
		line := fmt.Sprintf("  node %d %s depth %d", t.Node, t.Type, t.Depth)
		if t.Merging {
			line += " merging"
		}
		fmt.Fprintln(w, line)
	}

	if len(r.Nodes) > 0 {
		fmt.Fprintln(w, "Nodes:")
		for _, n := range r.Nodes {
			line := fmt.Sprintf("  %d %s threads=%d", n.ID, n.Type, n.Threads)
			if n.Data != "" {
				line += " " + n.Data
			}
			fmt.Fprintln(w, line)
		}
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

	if len(r.History) > 0 {
		fmt.Fprintln(w, "History:")
		for _, h := range r.History {
			mark := " "
			if h.Current {
				mark = "*"
			}
			fmt.Fprintf(w, "  %s seq %d hash %s\n", mark, h.Seq, h.Hash)
		}
	}
}
