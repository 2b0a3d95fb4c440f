package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear() (*Node, *Node, *Node) {
	start := &Node{ID: "start", Name: "start", Type: NodeTypeStart, OutputHandles: []HandleName{HandleDefault}}
	mid := &Node{ID: "mid", Name: "mid", Type: NodeTypePersonJob,
		InputHandles: []HandleName{HandleDefault}, OutputHandles: []HandleName{HandleDefault}}
	end := &Node{ID: "end", Name: "end", Type: NodeTypeEndpoint, InputHandles: []HandleName{HandleDefault}}
	return start, mid, end
}

func TestNew_LinearDiagram(t *testing.T) {
	start, mid, end := linear()
	d, err := New(
		[]*Node{start, mid, end},
		[]*Edge{
			{ID: "e1", SourceNode: "start", SourceHandle: HandleDefault, TargetNode: "mid", TargetHandle: HandleDefault},
			{ID: "e2", SourceNode: "mid", SourceHandle: HandleDefault, TargetNode: "end", TargetHandle: HandleDefault},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Nodes["start"].Level())
	assert.Equal(t, 1, d.Nodes["mid"].Level())
	assert.Equal(t, 2, d.Nodes["end"].Level())
	for _, e := range d.Edges {
		assert.False(t, e.IsBackEdge())
	}
}

func TestNew_RejectsEdgeIntoStart(t *testing.T) {
	start, mid, end := linear()
	_, err := New(
		[]*Node{start, mid, end},
		[]*Edge{
			{ID: "e1", SourceNode: "mid", SourceHandle: HandleDefault, TargetNode: "start", TargetHandle: HandleDefault},
		},
	)
	require.Error(t, err)
	assert.IsType(t, &StructuralError{}, err)
}

func TestNew_RejectsUndeclaredHandle(t *testing.T) {
	start, mid, end := linear()
	_, err := New(
		[]*Node{start, mid, end},
		[]*Edge{
			{ID: "e1", SourceNode: "start", SourceHandle: "nope", TargetNode: "mid", TargetHandle: HandleDefault},
		},
	)
	require.Error(t, err)
}

func TestNew_ClassifiesLoopBackEdge(t *testing.T) {
	start := &Node{ID: "start", Name: "start", Type: NodeTypeStart, OutputHandles: []HandleName{HandleDefault}}
	code := &Node{ID: "code", Name: "code", Type: NodeTypeCodeJob,
		InputHandles: []HandleName{HandleDefault}, OutputHandles: []HandleName{HandleDefault}}
	cond := &Node{ID: "cond", Name: "cond", Type: NodeTypeCondition,
		InputHandles: []HandleName{HandleDefault}, OutputHandles: []HandleName{HandleTrue, HandleFalse}}
	end := &Node{ID: "end", Name: "end", Type: NodeTypeEndpoint, InputHandles: []HandleName{HandleDefault}}

	d, err := New(
		[]*Node{start, code, cond, end},
		[]*Edge{
			{ID: "e1", SourceNode: "start", SourceHandle: HandleDefault, TargetNode: "code", TargetHandle: HandleDefault},
			{ID: "e2", SourceNode: "code", SourceHandle: HandleDefault, TargetNode: "cond", TargetHandle: HandleDefault},
			{ID: "e3", SourceNode: "cond", SourceHandle: HandleTrue, TargetNode: "code", TargetHandle: HandleDefault},
			{ID: "e4", SourceNode: "cond", SourceHandle: HandleFalse, TargetNode: "end", TargetHandle: HandleDefault},
		},
	)
	require.NoError(t, err)

	var backEdgeCount int
	for _, e := range d.Edges {
		if e.IsBackEdge() {
			backEdgeCount++
			assert.Equal(t, EdgeID("e3"), e.ID)
		}
	}
	assert.Equal(t, 1, backEdgeCount)
	assert.Less(t, d.Nodes["code"].Level(), 2)
}

func TestOutEdgesAndInEdges(t *testing.T) {
	start, mid, end := linear()
	d, err := New(
		[]*Node{start, mid, end},
		[]*Edge{
			{ID: "e1", SourceNode: "start", SourceHandle: HandleDefault, TargetNode: "mid", TargetHandle: HandleDefault},
			{ID: "e2", SourceNode: "mid", SourceHandle: HandleDefault, TargetNode: "end", TargetHandle: HandleDefault},
		},
	)
	require.NoError(t, err)
	assert.Len(t, d.OutEdges("start"), 1)
	assert.Len(t, d.InEdges("end"), 1)
	assert.Empty(t, d.InEdges("start"))
}

func TestDefaultPolicies(t *testing.T) {
	start, mid, end := linear()
	d, err := New([]*Node{start, mid, end}, nil)
	require.NoError(t, err)
	assert.Equal(t, JoinAll, d.Nodes["mid"].JoinPolicy.Kind)
	assert.Equal(t, ConcurrencySingleton, d.Nodes["mid"].ConcurrencyPolicy.Kind)
}
