package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/loader"
	"github.com/roach88/flowscript/internal/nodes"
)

// FileResult holds the validation result of one graph file.
type FileResult struct {
	File   string                  `json:"file"`
	Graph  string                  `json:"graph,omitempty"`
	Hash   string                  `json:"hash,omitempty"`
	Nodes  int                     `json:"nodes,omitempty"`
	Valid  bool                    `json:"valid"`
	Errors []graph.ValidationError `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool         `json:"valid"`
	Files []FileResult `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <graph-file-or-dir>",
		Short: "Check graph files for authoring errors",
		Long: `Load every graph file and compile it against the built-in node catalogue.

Reports structural errors (dangling edges, fan-out over the limit, shared
data inputs) and authoring errors (unknown node types, pin layouts, invalid
settings, missing entry node). The engine runs flagged nodes as no-ops,
validate treats them as failures.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	files, err := graphFiles(path)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	formatter.VerboseLog("Found %d graph file(s) in %s", len(files), path)

	cat := nodes.Catalogue()
	result := ValidationResult{Valid: true}
	for _, file := range files {
		formatter.VerboseLog("Validating %s", file)
		fr := validateFile(file, cat)
		if !fr.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, fr)
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validateFile loads and compiles one file, collecting every problem.
func validateFile(file string, cat *engine.Catalogue) FileResult {
	fr := FileResult{File: file}
	g, err := loader.LoadFile(file, cat)
	if err != nil {
		fr.Errors = []graph.ValidationError{loadValidationError(err)}
		return fr
	}
	fr.Graph = g.Name()
	fr.Hash = graph.FormatHash(g.Hash())
	fr.Nodes = g.Len()

	prog, err := engine.Compile(g, cat)
	if err != nil {
		var verrs graph.ValidationErrors
		if errors.As(err, &verrs) {
			fr.Errors = verrs
		} else {
			fr.Errors = []graph.ValidationError{{Field: "graph", Message: err.Error(), Code: ErrCodeCompile}}
		}
		return fr
	}
	fr.Errors = prog.Flags()
	fr.Valid = len(fr.Errors) == 0
	return fr
}

func loadValidationError(err error) graph.ValidationError {
	var le *loader.LoadError
	if errors.As(err, &le) {
		field := "file"
		if le.Pos.IsValid() {
			field = fmt.Sprintf("%s:%d:%d", le.Pos.Filename(), le.Pos.Line(), le.Pos.Column())
		}
		return graph.ValidationError{Field: field, Message: le.Message, Code: le.Code}
	}
	return graph.ValidationError{Field: "file", Message: err.Error(), Code: ErrCodeGeneric}
}

// graphFiles expands path into the graph files it names: the file itself,
// or every graph file under a directory.
func graphFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &loader.LoadError{Code: loader.ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path), Err: err}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	files, err := loader.FindGraphFiles(path)
	if err != nil {
		return nil, &loader.LoadError{Code: loader.ErrCodeNotFound, Message: fmt.Sprintf("scanning %s: %v", path, err), Err: err}
	}
	if len(files) == 0 {
		return nil, &loader.LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no graph files found in %s", path)}
	}
	return files, nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	return formatter.Emit(result, func(w io.Writer) {
		for _, fr := range result.Files {
			fmt.Fprintf(w, "✓ %s (%s, %d nodes, hash %s)\n", fr.File, fr.Graph, fr.Nodes, fr.Hash)
		}
		fmt.Fprintln(w, "✓ All graphs valid")
	})
}

// outputCommandError reports a failure to even start validating.
func outputCommandError(formatter *OutputFormatter, err error) error {
	code, message := ErrCodeGeneric, err.Error()
	var le *loader.LoadError
	if errors.As(err, &le) {
		code, message = le.Code, le.Message
	}
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every file's problems.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	var first graph.ValidationError
	count := 0
	for _, fr := range result.Files {
		if count == 0 && len(fr.Errors) > 0 {
			first = fr.Errors[0]
		}
		count += len(fr.Errors)
	}

	if err := formatter.ErrorWithData(first.Code, first.Message, result); err != nil {
		return err
	}
	if !formatter.JSON() {
		outputValidationText(formatter.Writer, result)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", count))
}

func outputValidationText(w io.Writer, result ValidationResult) {
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)

	for _, fr := range result.Files {
		if fr.Valid {
			fmt.Fprintf(w, "✓ %s\n", fr.File)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", fr.File)
		for _, e := range fr.Errors {
			if e.Node != nil {
				fmt.Fprintf(w, "  node %d\n", *e.Node)
			}
			fmt.Fprintf(w, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
		}
		fmt.Fprintln(w)
	}
}
