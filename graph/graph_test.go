package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/vfunc/formula"
	"github.com/timzifer/vfunc/value"
)

// recorder records the Index it observes and fails on run failOn.
type recorder struct {
	Node
	seen   *[]int64
	failOn int
}

func (p *recorder) Lists() []ListRef { return nil }

func (p *recorder) Clone() Function {
	c := *p
	c.Node = p.Node.clone()
	return &c
}

func (p *recorder) Process(_ *Exec, vars []value.Variable) (bool, error) {
	index := int64(-1)
	if v, ok := formula.Resolve(vars, "Index", formula.OuterWins); ok {
		i, err := value.AsInt(value.Payload(v.Value()))
		if err != nil {
			return false, err
		}
		index = i
	}
	*p.seen = append(*p.seen, index)
	return len(*p.seen) != p.failOn, nil
}

func newTestGraph(t *testing.T, seen *[]int64, failOn int) *Graph {
	t.Helper()
	kinds := DefaultKinds()
	require.NoError(t, kinds.Register("Recorder", func(*Graph) (Function, error) {
		return &recorder{Node: NewNode("Recorder"), seen: seen, failOn: failOn}, nil
	}))
	return New(NewSession(nil), kinds)
}

func addNode(t *testing.T, g *Graph, list ListID, kind string) NodeID {
	t.Helper()
	id, err := g.AddNode(list, kind, -1)
	require.NoError(t, err)
	return id
}

func setInput(t *testing.T, g *Graph, id NodeID, name string, v value.Value) {
	t.Helper()
	require.NoError(t, g.SetFieldValue(id, InputFields, name, v))
}

func globalInt(t *testing.T, g *Graph, name string) int64 {
	t.Helper()
	f, ok := g.Globals().Get(name)
	require.True(t, ok)
	i, err := value.AsInt(value.Payload(f.Value()))
	require.NoError(t, err)
	return i
}

func TestIfSelectsOtherwiseOnFalseStatement(t *testing.T) {
	g := New(nil, nil)
	require.NoError(t, g.AddGlobal(g.Root(), NewFieldValue("yes", value.NewIntRef(0))))
	require.NoError(t, g.AddGlobal(g.Root(), NewFieldValue("no", value.NewIntRef(0))))

	id := addNode(t, g, g.Root(), KindIf)
	setInput(t, g, id, "Condition", value.NewScript("true;false"))
	fn, _ := g.Node(id)
	branch := fn.(*If)

	yes := addNode(t, g, branch.Then, KindRun)
	setInput(t, g, yes, "Formula", value.NewScript("yes = 1"))
	no := addNode(t, g, branch.Otherwise, KindRun)
	setInput(t, g, no, "Formula", value.NewScript("no = 1"))

	ok, err := g.Invoke(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), globalInt(t, g, "yes"))
	require.Equal(t, int64(1), globalInt(t, g, "no"))

	setInput(t, g, id, "Condition", value.NewScript("1 + 1; true"))
	ok, err = g.Invoke(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), globalInt(t, g, "yes"))
}

func TestIfBranchGlobalsAreVisible(t *testing.T) {
	g := New(nil, nil)
	require.NoError(t, g.AddGlobal(g.Root(), NewFieldValue("out", value.NewIntRef(0))))
	id := addNode(t, g, g.Root(), KindIf)
	require.NoError(t, g.AddField(id, InputFields, NewFieldValue("limit", value.NewInt(5))))
	setInput(t, g, id, "Condition", value.NewScript("limit > 3"))
	fn, _ := g.Node(id)
	then := fn.(*If).Then
	require.NoError(t, g.AddGlobal(then, NewFieldValue("step", value.NewInt(7))))

	run := addNode(t, g, then, KindRun)
	setInput(t, g, run, "Formula", value.NewScript("out = limit + step"))

	_, err := g.Invoke(nil)
	require.NoError(t, err)
	require.Equal(t, int64(12), globalInt(t, g, "out"))
}

func TestForRunsBodyWithIndex(t *testing.T) {
	var seen []int64
	g := newTestGraph(t, &seen, 0)
	id := addNode(t, g, g.Root(), KindFor)
	fn, _ := g.Node(id)
	loop := fn.(*For)
	require.NoError(t, loop.Inputs[0].Value().Set(int64(3)))
	addNode(t, g, loop.Body, "Recorder")

	ok, err := g.Invoke(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []int64{0, 1, 2}, seen)
}

func TestForStopsAtFailingIteration(t *testing.T) {
	var seen []int64
	g := newTestGraph(t, &seen, 2)
	id := addNode(t, g, g.Root(), KindFor)
	fn, _ := g.Node(id)
	loop := fn.(*For)
	require.NoError(t, loop.Inputs[0].Value().Set(int64(3)))
	addNode(t, g, loop.Body, "Recorder")
	require.NoError(t, g.AddGlobal(g.Root(), NewFieldValue("after", value.NewIntRef(0))))
	after := addNode(t, g, g.Root(), KindRun)
	setInput(t, g, after, "Formula", value.NewScript("after = 1"))

	ok, err := g.Invoke(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []int64{0, 1}, seen)
	require.Equal(t, int64(1), globalInt(t, g, "after"))
}

func TestForLoopsFromFormula(t *testing.T) {
	var seen []int64
	g := newTestGraph(t, &seen, 0)
	require.NoError(t, g.AddGlobal(g.Root(), NewFieldValue("n", value.NewInt(2))))
	id := addNode(t, g, g.Root(), KindFor)
	setInput(t, g, id, "Loops", value.NewFormula("n * 2"))
	fn, _ := g.Node(id)
	addNode(t, g, fn.(*For).Body, "Recorder")

	_, err := g.Invoke(nil)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 2, 3}, seen)
}

func TestListStopsAtFirstFalse(t *testing.T) {
	var seen []int64
	g := newTestGraph(t, &seen, 0)
	guard := addNode(t, g, g.Root(), KindGuard)
	setInput(t, g, guard, "Condition", value.NewScript("1 < 2; 2 < 1"))
	addNode(t, g, g.Root(), "Recorder")

	ok, err := g.Invoke(nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, seen)

	require.NoError(t, g.SetEnabled(guard, false))
	ok, err = g.Invoke(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []int64{-1}, seen)
}

func TestFormulaInputsAreRefreshed(t *testing.T) {
	g := New(nil, nil)
	a := NewFieldValue("a", value.NewIntRef(2))
	require.NoError(t, g.AddGlobal(g.Root(), a))
	id := addNode(t, g, g.Root(), KindLog)
	sum := NewFieldValue("sum", value.NewFormula("a + 1"))
	require.NoError(t, g.AddField(id, InputFields, sum))

	_, err := g.Invoke(nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), value.Payload(sum.Value()))

	require.NoError(t, a.Value().Set(int64(10)))
	_, err = g.Invoke(nil)
	require.NoError(t, err)
	require.Equal(t, int64(11), value.Payload(sum.Value()))
}

func TestEmptyFormulaInputIsUnset(t *testing.T) {
	g := New(nil, nil)
	id := addNode(t, g, g.Root(), KindLog)
	pending := NewFieldValue("pending", value.NewFormula(""))
	require.NoError(t, g.AddField(id, InputFields, pending))
	guard := addNode(t, g, g.Root(), KindGuard)
	setInput(t, g, guard, "Condition", value.NewScript("  "))

	ok, err := g.Invoke(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, value.Payload(pending.Value()))
}

func TestAmbientVariables(t *testing.T) {
	g := New(nil, nil)
	out := NewFieldValue("out", value.NewIntRef(0))
	require.NoError(t, g.AddGlobal(g.Root(), out))
	run := addNode(t, g, g.Root(), KindRun)
	setInput(t, g, run, "Formula", value.NewScript("out = host * 2"))

	_, err := g.Invoke([]value.Variable{value.Bind("host", value.NewInt(21))})
	require.NoError(t, err)
	require.Equal(t, int64(42), value.Payload(out.Value()))
}

func TestResolutionErrorAbortsInvocation(t *testing.T) {
	var seen []int64
	g := newTestGraph(t, &seen, 0)
	id := addNode(t, g, g.Root(), KindIf)
	fn, _ := g.Node(id)
	run := addNode(t, g, fn.(*If).Then, KindRun)
	setInput(t, g, run, "Formula", value.NewScript("missing + 1"))
	addNode(t, g, g.Root(), "Recorder")

	ok, err := g.Invoke(nil)
	require.Error(t, err)
	require.False(t, ok)
	require.Empty(t, seen)

	var resolution *formula.ResolutionError
	require.True(t, errors.As(err, &resolution))
	require.Equal(t, "missing", resolution.Name)
	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	require.Equal(t, run, nodeErr.Node)
}

func TestMaxDepth(t *testing.T) {
	g := New(nil, nil)
	id := addNode(t, g, g.Root(), KindIf)
	fn, _ := g.Node(id)
	addNode(t, g, fn.(*If).Then, KindRun)
	g.MaxDepth = 1

	_, err := g.Invoke(nil)
	require.ErrorIs(t, err, ErrDepthExceeded)
}

func TestEditsClearCache(t *testing.T) {
	g := New(nil, nil)
	run := addNode(t, g, g.Root(), KindRun)
	setInput(t, g, run, "Formula", value.NewScript("1 + 2"))
	_, err := g.Invoke(nil)
	require.NoError(t, err)
	cache := g.Session().Engine().Cache()
	require.Equal(t, 1, cache.Len())

	require.NoError(t, g.AddGlobal(g.Root(), NewFieldValue("x", value.NewInt(1))))
	require.Zero(t, cache.Len())

	_, err = g.Invoke(nil)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())
	require.NoError(t, g.RemoveGlobal(g.Root(), "x"))
	require.Zero(t, cache.Len())
}

func TestCopyPasteNode(t *testing.T) {
	g := New(nil, nil)
	id := addNode(t, g, g.Root(), KindIf)
	setInput(t, g, id, "Condition", value.NewScript("true"))
	fn, _ := g.Node(id)
	orig := fn.(*If)
	require.NoError(t, g.AddGlobal(orig.Then, NewFieldValue("local", value.NewIntRef(4))))
	inner := addNode(t, g, orig.Then, KindRun)

	require.NoError(t, g.CopyNode(id))
	require.True(t, g.Session().HasCopiedNode())
	_, err := g.Invoke(nil)
	require.NoError(t, err)

	pasted, err := g.PasteNode(g.Root(), -1)
	require.NoError(t, err)
	require.False(t, g.Session().HasCopiedNode())
	require.Zero(t, g.Session().Engine().Cache().Len())
	_, err = g.PasteNode(g.Root(), -1)
	require.Error(t, err)

	pfn, ok := g.Node(pasted)
	require.True(t, ok)
	copyIf := pfn.(*If)
	require.NotEqual(t, orig.ID, copyIf.ID)
	require.NotEqual(t, orig.UID, copyIf.UID)
	require.NotEqual(t, orig.Then, copyIf.Then)

	list, ok := g.List(copyIf.Then)
	require.True(t, ok)
	require.Len(t, list.Nodes, 1)
	require.NotEqual(t, inner, list.Nodes[0])

	// The copy owns its values.
	local, _ := list.Globals.Get("local")
	require.NoError(t, local.Value().Set(int64(9)))
	origList, _ := g.List(orig.Then)
	origLocal, _ := origList.Globals.Get("local")
	require.Equal(t, int64(4), value.Payload(origLocal.Value()))

	cond, _ := copyIf.Input("Condition")
	cond.Value().(*value.Script).Text = "false"
	origCond, _ := orig.Input("Condition")
	require.Equal(t, "true", origCond.Value().(*value.Script).Text)

	root, _ := g.List(g.Root())
	require.Equal(t, []NodeID{id, pasted}, root.Nodes)
}

func TestRemoveAndMoveNode(t *testing.T) {
	g := New(nil, nil)
	id := addNode(t, g, g.Root(), KindFor)
	fn, _ := g.Node(id)
	body := fn.(*For).Body
	inner := addNode(t, g, body, KindRun)

	require.Error(t, g.MoveNode(id, body, 0))
	require.NoError(t, g.MoveNode(inner, g.Root(), 0))
	root, _ := g.List(g.Root())
	require.Equal(t, []NodeID{inner, id}, root.Nodes)

	require.NoError(t, g.MoveNode(inner, body, -1))
	require.NoError(t, g.RemoveNode(id))
	require.Zero(t, g.Len())
	_, ok := g.List(body)
	require.False(t, ok)
}

func TestDuplicate(t *testing.T) {
	g := New(nil, nil)
	a := addNode(t, g, g.Root(), KindRun)
	b := addNode(t, g, g.Root(), KindLog)
	dup, err := g.Duplicate(a)
	require.NoError(t, err)
	root, _ := g.List(g.Root())
	require.Equal(t, []NodeID{a, dup, b}, root.Nodes)
}

func TestCopyPasteField(t *testing.T) {
	g := New(nil, nil)
	src := addNode(t, g, g.Root(), KindLog)
	dst := addNode(t, g, g.Root(), KindLog)
	require.NoError(t, g.AddField(src, InputFields, NewFieldValue("count", value.NewIntRef(3))))

	require.NoError(t, g.CopyField(src, InputFields, "count"))
	require.NoError(t, g.PasteField(dst, InputFields))
	require.False(t, g.Session().HasCopiedField())
	require.Error(t, g.PasteField(dst, InputFields))

	fn, _ := g.Node(dst)
	pasted, ok := fn.Base().Input("count")
	require.True(t, ok)
	require.NoError(t, pasted.Value().Set(int64(8)))
	sfn, _ := g.Node(src)
	orig, _ := sfn.Base().Input("count")
	require.Equal(t, int64(3), value.Payload(orig.Value()))
}

func TestRenameField(t *testing.T) {
	g := New(nil, nil)
	id := addNode(t, g, g.Root(), KindLog)
	a := NewFieldValue("a", value.NewFormula("a+b"))
	a.Renamable = true
	lit := NewFieldValue("lit", value.NewFormula(`"a"+a`))
	require.NoError(t, g.AddField(id, InputFields, a))
	require.NoError(t, g.AddField(id, InputFields, lit))

	require.NoError(t, g.RenameField(id, InputFields, "a", "x"))
	require.Equal(t, "x", a.Name())
	require.Equal(t, "x+b", a.Value().(*value.Formula).Text)
	require.Equal(t, `"a"+x`, lit.Value().(*value.Formula).Text)

	err := g.RenameField(id, InputFields, "x", "bad name")
	var invalid *formula.InvalidIdentifierError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, "x", a.Name())
	require.Equal(t, "x+b", a.Value().(*value.Formula).Text)

	require.Error(t, g.RenameField(id, InputFields, "Message", "Text"))
	require.Error(t, g.RenameField(id, InputFields, "x", "lit"))
}

func TestNewField(t *testing.T) {
	f, err := NewField("n", reflect.TypeOf(0))
	var mismatch *value.TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Nil(t, f.Value())
	require.Error(t, New(nil, nil).AddGlobal(1, f))

	f, err = NewField("n", reflect.TypeOf(&value.Int{}))
	require.NoError(t, err)
	require.NoError(t, f.Value().Set(int64(4)))
	require.Equal(t, int64(4), value.Payload(f.Value()))
}

func TestFieldCloneIsDeep(t *testing.T) {
	f := NewFieldValue("items", value.NewList[int64](1, 2))
	c := f.Clone()
	c.Value().(*value.List[int64]).Items[0] = 9
	require.Equal(t, []int64{1, 2}, value.Payload(f.Value()))
}

func TestSetFieldType(t *testing.T) {
	g := New(nil, nil)
	id := addNode(t, g, g.Root(), KindLog)
	require.Error(t, g.SetFieldType(id, InputFields, "Message", "Unknown"))
}

func TestKindsRegistry(t *testing.T) {
	kinds := DefaultKinds()
	require.Equal(t, []string{"For", "Guard", "If", "Log", "Run"}, kinds.Names())
	require.Error(t, kinds.Register(KindIf, newIf))
	require.Error(t, kinds.Register("", newIf))

	g := New(nil, kinds)
	_, err := g.AddNode(g.Root(), "Missing", -1)
	require.Error(t, err)
}
