package script

import (
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/value"
)

func TestEncode_Golden(t *testing.T) {
	policy := policyMap{loops: map[graph.NodeID]bool{1: true}}
	s := New()
	s.Start(0, 0x2a)
	th := s.Threads()[0]

	require.NoError(t, s.StartNode(th, policy))
	s.FinishNode(th, policy)
	th.AdvanceToNode(0, 1, false)
	require.NoError(t, s.StartNode(th, policy))
	s.NodeState(1).Data.(*LoopData).Iterations = 2
	s.SetVariable("score", value.Int(3))

	data, err := s.Encode()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "state_parked_loop", data)
}

// threeThreadState builds a state with one thread parked mid-loop, one forked
// sibling and one parked at a join.
func threeThreadState(t *testing.T) *State {
	t.Helper()
	policy := policyMap{
		loops: map[graph.NodeID]bool{1: true, 4: true},
		keep:  map[graph.NodeID]bool{1: true},
	}
	s := New()
	s.Start(1, 0xfeedface)
	s.SetPersist(true)
	s.SetVariable("ratio", value.Float(1))
	s.SetVariable("tags", value.List{value.String("a"), value.Null{}})

	loop := s.Threads()[0]
	require.NoError(t, s.StartNode(loop, policy))
	s.NodeState(1).Data.(*LoopData).Iterations = 41
	s.FinishNode(loop, policy)
	loop.AdvanceToNode(2, 3, true)
	loop.SetTimeSlice(16 * time.Millisecond)
	require.NoError(t, s.StartNode(loop, policy))

	forked := loop.Fork(0, 5, false)
	s.AddThread(forked)
	forked.Consume(3 * time.Millisecond)

	merging := NewThread(4)
	s.AddThread(merging)
	require.NoError(t, s.StartNode(merging, policy))
	merging.SetMerging(true)
	s.NodeState(4).Data = &JoinData{Arrived: 1}
	return s
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := threeThreadState(t)
	first, err := s.Encode()
	require.NoError(t, err)

	decoded, err := Decode(first)
	require.NoError(t, err)

	require.Equal(t, s.ThreadCount(), decoded.ThreadCount())
	for i, want := range s.Threads() {
		got := decoded.Threads()[i]
		wantNode, wantOK := want.Current()
		gotNode, gotOK := got.Current()
		assert.Equal(t, wantOK, gotOK)
		assert.Equal(t, wantNode, gotNode)
		assert.Equal(t, want.Stack(), got.Stack())
		assert.Equal(t, want.Base(), got.Base())
		assert.Equal(t, want.IsMerging(), got.IsMerging())
		assert.Equal(t, want.Entered(), got.Entered())
		assert.Equal(t, want.TimeSlice(), got.TimeSlice())
	}
	for _, id := range []graph.NodeID{1, 3, 4} {
		want, _ := s.LookupNodeState(id)
		got, ok := decoded.LookupNodeState(id)
		require.True(t, ok, "node %d", id)
		assert.Equal(t, want, got, "node %d", id)
	}
	ratio, _ := decoded.Variable("ratio")
	assert.Equal(t, value.Float(1), ratio)
	assert.True(t, decoded.Persist())
	assert.Equal(t, Running, decoded.Status())

	second, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestResume_GraphMismatchYieldsFreshState(t *testing.T) {
	g, err := graph.Build("g", []graph.NodeSpec{{ID: 0, Type: "start", Pins: []graph.PinKind{graph.FlowOut}}}, nil)
	require.NoError(t, err)

	s := New()
	s.Start(0, g.Hash()^1)
	data, err := s.Encode()
	require.NoError(t, err)

	resumed, err := Resume(data, g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGraphMismatch))
	require.NotNil(t, resumed)
	assert.Equal(t, NotStarted, resumed.Status())
	assert.Zero(t, resumed.ThreadCount())

	s.Start(0, g.Hash())
	data, err = s.Encode()
	require.NoError(t, err)
	resumed, err = Resume(data, g)
	require.NoError(t, err)
	assert.Equal(t, Running, resumed.Status())
}

func TestResume_NodeOutsideGraph(t *testing.T) {
	g, err := graph.Build("g", []graph.NodeSpec{{ID: 0, Type: "start"}}, nil)
	require.NoError(t, err)

	s := New()
	s.Start(7, g.Hash())
	data, err := s.Encode()
	require.NoError(t, err)

	resumed, err := Resume(data, g)
	require.Error(t, err)
	assert.Equal(t, NotStarted, resumed.Status())
}

func TestDecode_Malformed(t *testing.T) {
	valid := `"graph_hash":"000000000000002a","nodes":{},"persist":false,"restartable":false,"started":true,"variables":{},"version":1`
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"version":`},
		{"not an object", `[1,2]`},
		{"wrong version", `{"graph_hash":"000000000000002a","nodes":{},"persist":false,"restartable":false,"started":true,"threads":[],"variables":{},"version":9}`},
		{"missing threads", `{` + valid + `}`},
		{"bad hash", `{"graph_hash":"xyz","nodes":{},"persist":false,"restartable":false,"started":true,"threads":[],"variables":{},"version":1}`},
		{"bad frame", `{` + valid + `,"threads":[{"base":0,"merging":false,"node":0,"node_elapsed":0,"stack":[[1]],"started":false,"time_slice":0}]}`},
		{"base above stack", `{` + valid + `,"threads":[{"base":2,"merging":false,"node":0,"node_elapsed":0,"stack":[],"started":false,"time_slice":0}]}`},
		{"count without threads", `{"graph_hash":"000000000000002a","nodes":{"0":{"threads":1}},"persist":false,"restartable":false,"started":true,"threads":[],"variables":{},"version":1}`},
		{"unknown data kind", `{"graph_hash":"000000000000002a","nodes":{"0":{"data":{"kind":"mystery"},"threads":0}},"persist":false,"restartable":false,"started":true,"threads":[],"variables":{},"version":1}`},
		{"untagged variable", `{"graph_hash":"000000000000002a","nodes":{},"persist":false,"restartable":false,"started":true,"threads":[],"variables":{"x":3},"version":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformedSnapshot)
		})
	}
}

func TestNodeData_AllShapesRoundTrip(t *testing.T) {
	shapes := []NodeData{
		&LoopData{Iterations: 3},
		&TimerData{Elapsed: 1500 * time.Millisecond},
		&FrameData{LastFrame: 99},
		&JoinData{Arrived: 2},
		&LatchData{Value: value.Map{"x": value.Float(0.5)}},
	}
	for _, d := range shapes {
		t.Run(string(d.DataKind()), func(t *testing.T) {
			got, err := decodeNodeData(encodeNodeData(d))
			require.NoError(t, err)
			assert.Equal(t, d, got)
		})
	}
}
