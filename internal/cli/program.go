package cli

import (
	"errors"
	"log/slog"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/loader"
	"github.com/roach88/flowscript/internal/nodes"
)

// loadProgram loads and compiles one graph file. Authoring flags are logged
// as warnings; the flagged nodes run as no-ops.
func loadProgram(path string, logger *slog.Logger) (*engine.Program, error) {
	cat := nodes.Catalogue()
	g, err := loader.LoadFile(path, cat)
	if err != nil {
		code := ErrCodeGeneric
		var le *loader.LoadError
		if errors.As(err, &le) {
			code = le.Code
		}
		return nil, WrapExitError(ExitCommandError, code+": failed to load graph", err)
	}

	prog, err := engine.Compile(g, cat)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeCompile+": graph rejected", err)
	}
	for _, flag := range prog.Flags() {
		attrs := []any{"code", flag.Code, "field", flag.Field, "message", flag.Message}
		if flag.Node != nil {
			attrs = append(attrs, "node", *flag.Node)
		}
		logger.Warn("node flagged, running as no-op", attrs...)
	}
	logger.Debug("graph compiled", "graph", g.Name(), "nodes", g.Len(), "hash", graph.FormatHash(g.Hash()))
	return prog, nil
}
