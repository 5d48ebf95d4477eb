package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/nodes"
	"github.com/roach88/flowscript/internal/value"
)

func TestLoadFile_CUEAndYAMLAgree(t *testing.T) {
	cat := nodes.Catalogue()

	fromCUE, err := LoadFile("testdata/counter.cue", cat)
	require.NoError(t, err)
	fromYAML, err := LoadFile("testdata/counter.yaml", cat)
	require.NoError(t, err)

	assert.Equal(t, "counter", fromCUE.Name())
	assert.Equal(t, 5, fromCUE.Len())
	assert.Equal(t, fromCUE.Hash(), fromYAML.Hash())

	prog, err := engine.Compile(fromCUE, cat)
	require.NoError(t, err)
	assert.Empty(t, prog.Flags())
}

func TestLoadFile_SettingsValues(t *testing.T) {
	g, err := LoadFile("testdata/counter.cue", nodes.Catalogue())
	require.NoError(t, err)

	loop, ok := g.Node(1)
	require.True(t, ok)
	assert.Equal(t, value.Int(3), loop.Setting("loopCount"))
	assert.Len(t, loop.Pins, 3, "pins come from the catalogue")
	assert.Equal(t, []graph.Endpoint{{Node: 3, Pin: 0}}, loop.Connections(2))

	constant, ok := g.Node(4)
	require.True(t, ok)
	assert.Equal(t, value.Map{
		"score":   value.Int(10),
		"tags":    value.List{value.String("a"), value.String("b")},
		"ratio":   value.Float(0.5),
		"enabled": value.Bool(true),
	}, constant.Setting("value"))
}

func TestLoadFile_ExplicitPins(t *testing.T) {
	g, err := LoadFile("testdata/explicit_pins.yaml", nodes.Catalogue())
	require.NoError(t, err)

	assert.Equal(t, "explicit_pins", g.Name(), "name defaults to the file name")
	custom, ok := g.Node(1)
	require.True(t, ok)
	require.Len(t, custom.Pins, 3)
	assert.Equal(t, graph.DataIn, custom.Pins[2].Kind)

	prog, err := engine.Compile(g, nodes.Catalogue())
	require.NoError(t, err)
	require.Len(t, prog.Flags(), 1)
	assert.Equal(t, graph.ErrUnknownNodeType, prog.Flags()[0].Code)
}

func TestLoadFile_Errors(t *testing.T) {
	cases := []struct {
		name string
		path string
		code string
	}{
		{"missing", "testdata/nope.yaml", ErrCodeNotFound},
		{"schema violation", "testdata/bad_schema.cue", ErrCodeSchema},
		{"unknown field", "testdata/unknown_field.yaml", ErrCodeParse},
		{"dangling edge", "testdata/dangling.yaml", ErrCodeBuild},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(tc.path, nodes.Catalogue())
			require.Error(t, err)
			assert.True(t, IsLoadError(err, tc.code), "got %v", err)
		})
	}
}

func TestParseCUE_ReportsPosition(t *testing.T) {
	_, err := ParseCUE("inline.cue", []byte(`name: "x", nodes: [{id: 0, type: 7}]`))
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeSchema, le.Code)
	assert.True(t, le.Pos.IsValid())
}

func TestParseCUE_SyntaxError(t *testing.T) {
	_, err := ParseCUE("broken.cue", []byte(`name: "x" nodes: [`))
	assert.True(t, IsLoadError(err, ErrCodeParse))
}

func TestParseYAML_Validation(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"missing id", "nodes: [{type: start}]"},
		{"missing type", "nodes: [{id: 0}]"},
		{"bad pin", "nodes: [{id: 0, type: x, pins: [sideways]}]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tc.src))
			require.Error(t, err)
			var le *LoadError
			assert.ErrorAs(t, err, &le)
		})
	}
}

func TestParse_UnsupportedExtension(t *testing.T) {
	_, err := Parse("graph.toml", nil)
	assert.True(t, IsLoadError(err, ErrCodeUnsupported))
}

func TestFindGraphFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.cue", "b.yaml", "c.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "d.cue"), nil, 0o644))

	files, err := FindGraphFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.cue"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "c.yml"),
		filepath.Join(dir, "sub", "d.cue"),
	}, files)
}
