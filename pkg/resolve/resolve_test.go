package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/rules"
	"github.com/dipeo/core/pkg/token"
)

func fanInDiagram(t *testing.T) (*diagram.ExecutableDiagram, *diagram.Edge, *diagram.Edge) {
	t.Helper()
	a := &diagram.Node{ID: "a", Name: "a", Type: diagram.NodeTypeStart, OutputHandles: []diagram.HandleName{diagram.HandleDefault}}
	b := &diagram.Node{ID: "b", Name: "b", Type: diagram.NodeTypeCodeJob, OutputHandles: []diagram.HandleName{diagram.HandleDefault}}
	c := &diagram.Node{ID: "c", Name: "c", Type: diagram.NodeTypeCodeJob, InputHandles: []diagram.HandleName{diagram.HandleDefault}}
	e1 := &diagram.Edge{ID: "e1", SourceNode: "a", SourceHandle: diagram.HandleDefault, TargetNode: "c", TargetHandle: diagram.HandleDefault}
	e2 := &diagram.Edge{ID: "e2", SourceNode: "b", SourceHandle: diagram.HandleDefault, TargetNode: "c", TargetHandle: diagram.HandleDefault}
	d, err := diagram.New([]*diagram.Node{a, b, c}, []*diagram.Edge{e1, e2})
	require.NoError(t, err)
	return d, e1, e2
}

func TestResolve_FanInCollectsBothEnvelopesOnSameHandle(t *testing.T) {
	d, e1, e2 := fanInDiagram(t)
	r := New(rules.NewRegistry(), false)

	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New("from-a", envelope.RawText, "a")},
		e2.ID: {Edge: e2.ID, Envelope: envelope.New("from-b", envelope.RawText, "b")},
	}

	in, err := r.Resolve(d, d.Nodes["c"], consumed, 0)
	require.NoError(t, err)
	assert.Len(t, in[diagram.HandleDefault], 2)
}

func TestResolve_AppliesEdgeTransformRules(t *testing.T) {
	d, e1, _ := fanInDiagram(t)
	e1.TransformRules = []string{"select_field:.x"}
	r := New(rules.NewRegistry(), false)

	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New(map[string]any{"x": 42}, envelope.Object, "a")},
	}

	in, err := r.Resolve(d, d.Nodes["c"], consumed, 0)
	require.NoError(t, err)
	env, ok := in.First(diagram.HandleDefault)
	require.True(t, ok)
	v, err := env.AsJSON()
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)
}

func TestResolve_StrictModeRejectsMissingRequiredHandle(t *testing.T) {
	d, _, _ := fanInDiagram(t)
	r := New(rules.NewRegistry(), true)

	_, err := r.Resolve(d, d.Nodes["c"], map[diagram.EdgeID]token.Token{}, 0)
	assert.Error(t, err)
}

func TestResolve_LooseModeAllowsMissingInput(t *testing.T) {
	d, _, _ := fanInDiagram(t)
	r := New(rules.NewRegistry(), false)

	in, err := r.Resolve(d, d.Nodes["c"], map[diagram.EdgeID]token.Token{}, 0)
	require.NoError(t, err)
	assert.Empty(t, in[diagram.HandleDefault])
}

func TestResolve_StartNodeGetsEmptyDefaultInput(t *testing.T) {
	d, _, _ := fanInDiagram(t)
	r := New(rules.NewRegistry(), false)

	in, err := r.Resolve(d, d.Nodes["a"], map[diagram.EdgeID]token.Token{}, 0)
	require.NoError(t, err)
	_, ok := in[diagram.HandleDefault]
	assert.True(t, ok)
}

func TestResolve_CoercesRawTextToObjectWhenHandleDeclaresObject(t *testing.T) {
	d, e1, _ := fanInDiagram(t)
	d.Nodes["c"].InputTypes = map[diagram.HandleName]string{diagram.HandleDefault: string(envelope.Object)}
	r := New(rules.NewRegistry(), true)

	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New(`{"x":1}`, envelope.RawText, "a")},
	}
	in, err := r.Resolve(d, d.Nodes["c"], consumed, 0)
	require.NoError(t, err)
	env, _ := in.First(diagram.HandleDefault)
	v, err := env.AsJSON()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1)}, v)
}

func TestResolve_CoercesObjectToRawTextWhenHandleDeclaresText(t *testing.T) {
	d, e1, _ := fanInDiagram(t)
	d.Nodes["c"].InputTypes = map[diagram.HandleName]string{diagram.HandleDefault: string(envelope.RawText)}
	r := New(rules.NewRegistry(), true)

	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New(map[string]any{"x": 1}, envelope.Object, "a")},
	}
	in, err := r.Resolve(d, d.Nodes["c"], consumed, 0)
	require.NoError(t, err)
	env, _ := in.First(diagram.HandleDefault)
	text, err := env.AsText()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, text)
}

func TestResolve_StrictModeRejectsUnparseableCoercion(t *testing.T) {
	d, e1, _ := fanInDiagram(t)
	d.Nodes["c"].InputTypes = map[diagram.HandleName]string{diagram.HandleDefault: string(envelope.Object)}
	r := New(rules.NewRegistry(), true)

	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New("not json", envelope.RawText, "a")},
	}
	_, err := r.Resolve(d, d.Nodes["c"], consumed, 0)
	require.Error(t, err)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, ContentTypeMismatch, resErr.Kind)
}

func TestResolve_LooseModePassesThroughUnparseableCoercion(t *testing.T) {
	d, e1, _ := fanInDiagram(t)
	d.Nodes["c"].InputTypes = map[diagram.HandleName]string{diagram.HandleDefault: string(envelope.Object)}
	r := New(rules.NewRegistry(), false)

	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New("not json", envelope.RawText, "a")},
	}
	in, err := r.Resolve(d, d.Nodes["c"], consumed, 0)
	require.NoError(t, err)
	env, _ := in.First(diagram.HandleDefault)
	assert.Equal(t, envelope.RawText, env.ContentType())
}

func TestResolve_MissingRequiredInputRaisesTypedError(t *testing.T) {
	d, _, _ := fanInDiagram(t)
	r := New(rules.NewRegistry(), true)

	_, err := r.Resolve(d, d.Nodes["c"], map[diagram.EdgeID]token.Token{}, 0)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, MissingRequiredInput, resErr.Kind)
}

func TestResolve_ConditionNodePrunesNonDefaultHandles(t *testing.T) {
	a := &diagram.Node{ID: "a", Name: "a", Type: diagram.NodeTypeStart, OutputHandles: []diagram.HandleName{diagram.HandleDefault}}
	cond := &diagram.Node{ID: "cond", Name: "cond", Type: diagram.NodeTypeCondition,
		InputHandles:  []diagram.HandleName{diagram.HandleDefault, diagram.HandleName("extra")},
		OutputHandles: []diagram.HandleName{diagram.HandleTrue, diagram.HandleFalse}}
	e1 := &diagram.Edge{ID: "e1", SourceNode: "a", SourceHandle: diagram.HandleDefault, TargetNode: "cond", TargetHandle: diagram.HandleDefault}
	e2 := &diagram.Edge{ID: "e2", SourceNode: "a", SourceHandle: diagram.HandleDefault, TargetNode: "cond", TargetHandle: diagram.HandleName("extra")}
	d, err := diagram.New([]*diagram.Node{a, cond}, []*diagram.Edge{e1, e2})
	require.NoError(t, err)

	r := New(rules.NewRegistry(), false)
	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New("keep", envelope.RawText, "a")},
		e2.ID: {Edge: e2.ID, Envelope: envelope.New("prune", envelope.RawText, "a")},
	}
	in, err := r.Resolve(d, cond, consumed, 0)
	require.NoError(t, err)
	_, ok := in[diagram.HandleName("extra")]
	assert.False(t, ok)
	assert.Len(t, in[diagram.HandleDefault], 1)
}

func TestResolve_PersonJobStrictModeRejectsNonConversationStateOnConversationHandle(t *testing.T) {
	a := &diagram.Node{ID: "a", Name: "a", Type: diagram.NodeTypeStart, OutputHandles: []diagram.HandleName{diagram.HandleDefault}}
	pj := &diagram.Node{ID: "pj", Name: "pj", Type: diagram.NodeTypePersonJob,
		InputHandles: []diagram.HandleName{diagram.HandleDefault, diagram.HandleConversation}}
	e1 := &diagram.Edge{ID: "e1", SourceNode: "a", SourceHandle: diagram.HandleDefault, TargetNode: "pj", TargetHandle: diagram.HandleConversation}
	d, err := diagram.New([]*diagram.Node{a, pj}, []*diagram.Edge{e1})
	require.NoError(t, err)

	r := New(rules.NewRegistry(), true)
	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New("not a conversation", envelope.RawText, "a")},
	}
	_, err = r.Resolve(d, pj, consumed, 0)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, TypeMismatch, resErr.Kind)
}

func TestResolve_PersonJobLooseModeDropsNonConversationStateOnConversationHandle(t *testing.T) {
	a := &diagram.Node{ID: "a", Name: "a", Type: diagram.NodeTypeStart, OutputHandles: []diagram.HandleName{diagram.HandleDefault}}
	pj := &diagram.Node{ID: "pj", Name: "pj", Type: diagram.NodeTypePersonJob,
		InputHandles: []diagram.HandleName{diagram.HandleDefault, diagram.HandleConversation}}
	e1 := &diagram.Edge{ID: "e1", SourceNode: "a", SourceHandle: diagram.HandleDefault, TargetNode: "pj", TargetHandle: diagram.HandleConversation}
	d, err := diagram.New([]*diagram.Node{a, pj}, []*diagram.Edge{e1})
	require.NoError(t, err)

	r := New(rules.NewRegistry(), false)
	consumed := map[diagram.EdgeID]token.Token{
		e1.ID: {Edge: e1.ID, Envelope: envelope.New("not a conversation", envelope.RawText, "a")},
	}
	in, err := r.Resolve(d, pj, consumed, 0)
	require.NoError(t, err)
	_, ok := in[diagram.HandleConversation]
	assert.False(t, ok)
}

func TestResolve_ExposeIndexAsInjectsCurrentEpochAsNamedInput(t *testing.T) {
	d, _, _ := fanInDiagram(t)
	d.Nodes["c"].ExposeIndexAs = "loop_index"
	r := New(rules.NewRegistry(), false)

	in, err := r.Resolve(d, d.Nodes["c"], map[diagram.EdgeID]token.Token{}, 2)
	require.NoError(t, err)
	env, ok := in.First(diagram.HandleName("loop_index"))
	require.True(t, ok)
	v, err := env.AsJSON()
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}
