package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/timzifer/vfunc/value"
)

// NodeID addresses a node in a graph arena.
type NodeID uint64

// ListID addresses a function list in a graph arena.
type ListID uint64

// Node carries the state shared by every function kind.
type Node struct {
	ID      NodeID
	UID     string
	Kind    string
	Enabled bool
	Inputs  Fields
	Outputs Fields
	// Attributes holds free-form editor attributes.
	Attributes map[string]string
}

// Base returns the node itself so embedding kinds satisfy Function.
func (n *Node) Base() *Node { return n }

// Input returns the input field named name.
func (n *Node) Input(name string) (*Field, bool) { return n.Inputs.Get(name) }

// Output returns the output field named name.
func (n *Node) Output(name string) (*Field, bool) { return n.Outputs.Get(name) }

// Variables returns the node's inputs followed by its outputs.
func (n *Node) Variables() []value.Variable {
	vars := n.Inputs.Variables()
	return append(vars, n.Outputs.Variables()...)
}

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.Kind, n.ID)
}

// Copy deep-copies the node for use in Function.Clone.
func (n Node) Copy() Node { return n.clone() }

// clone deep-copies fields and attributes. Identity is kept; copying into an
// arena assigns fresh IDs.
func (n Node) clone() Node {
	out := n
	out.Inputs = n.Inputs.Clone()
	out.Outputs = n.Outputs.Clone()
	if n.Attributes != nil {
		out.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// NewNode returns an enabled node of kind with a fresh UID. Kinds defined
// outside this package embed it.
func NewNode(kind string) Node {
	return Node{Kind: kind, UID: uuid.NewString(), Enabled: true}
}

// ListRef names a function list owned by a node.
type ListRef struct {
	Name string
	ID   *ListID
}

// Function is an executable node. Process receives the variables visible to
// the node, inputs excluded; a false result stops the enclosing list.
type Function interface {
	Base() *Node
	Lists() []ListRef
	Process(x *Exec, vars []value.Variable) (bool, error)
	Clone() Function
}

// List is an ordered sequence of nodes plus the globals it passes on to them.
type List struct {
	ID      ListID
	UID     string
	Globals Fields
	Nodes   []NodeID
}

func (l *List) index(id NodeID) int {
	for i, n := range l.Nodes {
		if n == id {
			return i
		}
	}
	return -1
}

func (l *List) insert(id NodeID, pos int) {
	if pos < 0 || pos > len(l.Nodes) {
		pos = len(l.Nodes)
	}
	l.Nodes = append(l.Nodes, 0)
	copy(l.Nodes[pos+1:], l.Nodes[pos:])
	l.Nodes[pos] = id
}

func (l *List) remove(id NodeID) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	l.Nodes = append(l.Nodes[:i], l.Nodes[i+1:]...)
	return true
}
