// Package graph executes ordered lists of function nodes whose fields are
// literal or formula-backed values.
package graph

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/timzifer/vfunc/formula"
	"github.com/timzifer/vfunc/value"
)

// DefaultMaxDepth bounds the nesting of function lists during execution.
const DefaultMaxDepth = 32

// ErrDepthExceeded is returned when lists nest deeper than MaxDepth.
var ErrDepthExceeded = errors.New("function list nesting exceeds maximum depth")

// NodeError reports the node whose Process failed.
type NodeError struct {
	Node NodeID
	UID  string
	Kind string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s node %d: %v", e.Kind, e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Graph is an arena of nodes and lists. The root list holds the top-level
// nodes and the graph globals.
type Graph struct {
	session *Session
	kinds   *Kinds

	nodes    map[NodeID]Function
	lists    map[ListID]*List
	root     ListID
	nextNode NodeID
	nextList ListID

	// MaxDepth bounds list nesting during Invoke.
	MaxDepth int
}

// New returns an empty graph. A nil session or kinds registry is replaced
// by a default one.
func New(session *Session, kinds *Kinds) *Graph {
	if session == nil {
		session = NewSession(nil)
	}
	if kinds == nil {
		kinds = DefaultKinds()
	}
	g := newArena()
	g.session = session
	g.kinds = kinds
	g.root = g.NewList()
	return g
}

func newArena() *Graph {
	return &Graph{
		nodes:    make(map[NodeID]Function),
		lists:    make(map[ListID]*List),
		MaxDepth: DefaultMaxDepth,
	}
}

func (g *Graph) Session() *Session { return g.session }

func (g *Graph) Kinds() *Kinds { return g.kinds }

// Root returns the top-level list.
func (g *Graph) Root() ListID { return g.root }

// Globals returns the fields of the root list.
func (g *Graph) Globals() Fields { return g.lists[g.root].Globals }

// NewList allocates an empty list.
func (g *Graph) NewList() ListID {
	g.nextList++
	id := g.nextList
	g.lists[id] = &List{ID: id, UID: uuid.NewString()}
	return id
}

// Node returns the node with id.
func (g *Graph) Node(id NodeID) (Function, bool) {
	fn, ok := g.nodes[id]
	return fn, ok
}

// List returns the list with id.
func (g *Graph) List(id ListID) (*List, bool) {
	l, ok := g.lists[id]
	return l, ok
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int { return len(g.nodes) }

// Walk visits the nodes of list in execution order, depth first.
func (g *Graph) Walk(list ListID, visit func(Function) bool) {
	l, ok := g.lists[list]
	if !ok {
		return
	}
	for _, id := range l.Nodes {
		fn := g.nodes[id]
		if !visit(fn) {
			return
		}
		for _, ref := range fn.Lists() {
			g.Walk(*ref.ID, visit)
		}
	}
}

// Invoke runs the root list. vars are the ambient variables supplied by the
// host; the graph globals follow them. Failures are logged and returned.
func (g *Graph) Invoke(vars []value.Variable) (bool, error) {
	start := time.Now()
	x := &Exec{graph: g}
	ok, err := x.RunList(g.root, formula.Concat(vars, x.Globals(g.root)))
	g.session.collector.ObserveInvoke(time.Since(start))
	if err != nil {
		g.session.logger.Error().Err(err).Msg("graph invocation failed")
		return false, err
	}
	return ok, nil
}

// Exec carries one invocation through nested lists.
type Exec struct {
	graph *Graph
	depth int
}

func (x *Exec) Graph() *Graph { return x.graph }

func (x *Exec) Engine() *formula.Engine { return x.graph.session.engine }

func (x *Exec) Logger() *zerolog.Logger { return &x.graph.session.logger }

// Evaluate evaluates text for owner.
func (x *Exec) Evaluate(owner, text string, vars []value.Variable) ([]any, error) {
	return x.Engine().Evaluate(owner, text, vars)
}

// Holds evaluates a condition. It fails at the first boolean result that is
// false, leaving later statements unevaluated; other results are ignored. An
// empty condition holds.
func (x *Exec) Holds(owner, text string, vars []value.Variable) (bool, error) {
	if text == "" {
		return true, nil
	}
	holds := true
	err := x.Engine().EvaluateEach(owner, text, vars, func(_ int, result any) bool {
		if b, ok := result.(bool); ok && !b {
			holds = false
			return false
		}
		return true
	})
	if err != nil {
		return false, err
	}
	return holds, nil
}

// Globals returns the globals of list as variables.
func (x *Exec) Globals(list ListID) []value.Variable {
	l, ok := x.graph.lists[list]
	if !ok {
		return nil
	}
	return l.Globals.Variables()
}

// RunList refreshes the formula-backed globals of list and invokes its nodes
// in order. It stops at the first node returning false. vars must already
// contain the list globals.
func (x *Exec) RunList(id ListID, vars []value.Variable) (bool, error) {
	l, ok := x.graph.lists[id]
	if !ok {
		return false, fmt.Errorf("list %d not found", id)
	}
	if x.depth >= x.graph.MaxDepth {
		return false, ErrDepthExceeded
	}
	x.depth++
	defer func() { x.depth-- }()

	if err := x.refresh(l.UID, l.Globals, vars); err != nil {
		return false, err
	}
	for _, nid := range l.Nodes {
		fn, ok := x.graph.nodes[nid]
		if !ok {
			return false, fmt.Errorf("list %d references missing node %d", id, nid)
		}
		ok, err := x.Invoke(fn, vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Invoke runs one node: disabled nodes are skipped and report success,
// formula-backed inputs are refreshed before Process.
func (x *Exec) Invoke(fn Function, vars []value.Variable) (bool, error) {
	n := fn.Base()
	if !n.Enabled {
		return true, nil
	}
	collector := x.graph.session.collector
	err := x.refresh(n.UID, n.Inputs, formula.Concat(vars, n.Inputs.Variables()))
	ok := false
	if err == nil {
		ok, err = fn.Process(x, vars)
	}
	if err != nil {
		var nodeErr *NodeError
		if errors.As(err, &nodeErr) {
			return false, err
		}
		collector.IncNodeError(n.Kind)
		return false, &NodeError{Node: n.ID, UID: n.UID, Kind: n.Kind, Err: err}
	}
	if !ok {
		collector.IncNodeShortCircuit(n.Kind)
		x.Logger().Debug().Str("node", n.UID).Str("kind", n.Kind).Msg("node stopped list")
	}
	return ok, nil
}

func (x *Exec) refresh(owner string, fields Fields, vars []value.Variable) error {
	for _, f := range fields {
		fv, ok := f.Value().(*value.Formula)
		if !ok {
			continue
		}
		if err := fv.Evaluate(x.Engine(), owner, vars); err != nil {
			return fmt.Errorf("field %s: %w", f.Name(), err)
		}
	}
	return nil
}
