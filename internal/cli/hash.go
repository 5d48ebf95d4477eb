package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/loader"
	"github.com/roach88/flowscript/internal/nodes"
)

// HashResult is the content hash of one graph file.
type HashResult struct {
	File  string `json:"file"`
	Graph string `json:"graph"`
	Hash  string `json:"hash"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <graph-file>...",
		Short: "Print graph content hashes",
		Long: `Print the content hash saved scripts are checked against.

Two files with the same hash run identically and accept each other's saved
states. The graph name does not contribute to the hash.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(cmd, rootOpts)
			cat := nodes.Catalogue()
			results := make([]HashResult, 0, len(args))
			for _, file := range args {
				g, err := loader.LoadFile(file, cat)
				if err != nil {
					return outputCommandError(formatter, err)
				}
				results = append(results, HashResult{File: file, Graph: g.Name(), Hash: graph.FormatHash(g.Hash())})
			}

			return formatter.Emit(results, func(w io.Writer) {
				for _, r := range results {
					fmt.Fprintf(w, "%s  %s  %s\n", r.Hash, r.Graph, r.File)
				}
			})
		},
	}
	return cmd
}
