package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/timzifer/vfunc/value"
)

// Every edit below changes what formulas may resolve to and clears the
// session parse cache when it succeeds.

// AddNode creates a node of kind and inserts it into list at pos. A negative
// or out of range pos appends.
func (g *Graph) AddNode(list ListID, kind string, pos int) (NodeID, error) {
	l, ok := g.lists[list]
	if !ok {
		return 0, fmt.Errorf("list %d not found", list)
	}
	fn, err := g.kinds.instantiate(kind, g)
	if err != nil {
		return 0, err
	}
	id := g.adopt(fn)
	l.insert(id, pos)
	g.edited("node added", fn.Base())
	return id, nil
}

func (g *Graph) adopt(fn Function) NodeID {
	g.nextNode++
	n := fn.Base()
	n.ID = g.nextNode
	g.nodes[n.ID] = fn
	return n.ID
}

// RemoveNode deletes a node together with the lists it owns.
func (g *Graph) RemoveNode(id NodeID) error {
	fn, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node %d not found", id)
	}
	if parent, ok := g.parent(id); ok {
		parent.remove(id)
	}
	g.drop(fn)
	g.edited("node removed", fn.Base())
	return nil
}

func (g *Graph) drop(fn Function) {
	delete(g.nodes, fn.Base().ID)
	for _, ref := range fn.Lists() {
		l, ok := g.lists[*ref.ID]
		if !ok {
			continue
		}
		for _, child := range l.Nodes {
			if c, ok := g.nodes[child]; ok {
				g.drop(c)
			}
		}
		delete(g.lists, l.ID)
	}
}

// MoveNode moves a node into list at pos. Moving a node into a list it owns
// is rejected.
func (g *Graph) MoveNode(id NodeID, list ListID, pos int) error {
	fn, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node %d not found", id)
	}
	dst, ok := g.lists[list]
	if !ok {
		return fmt.Errorf("list %d not found", list)
	}
	if g.owns(fn, list) {
		return fmt.Errorf("cannot move %s into its own list %d", fn.Base(), list)
	}
	if parent, ok := g.parent(id); ok {
		parent.remove(id)
	}
	dst.insert(id, pos)
	g.edited("node moved", fn.Base())
	return nil
}

func (g *Graph) owns(fn Function, list ListID) bool {
	for _, ref := range fn.Lists() {
		if *ref.ID == list {
			return true
		}
		l, ok := g.lists[*ref.ID]
		if !ok {
			continue
		}
		for _, child := range l.Nodes {
			if c, ok := g.nodes[child]; ok && g.owns(c, list) {
				return true
			}
		}
	}
	return false
}

func (g *Graph) parent(id NodeID) (*List, bool) {
	for _, l := range g.lists {
		if l.index(id) >= 0 {
			return l, true
		}
	}
	return nil, false
}

// SetEnabled enables or disables a node.
func (g *Graph) SetEnabled(id NodeID, enabled bool) error {
	fn, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node %d not found", id)
	}
	fn.Base().Enabled = enabled
	g.edited("node toggled", fn.Base())
	return nil
}

// FieldSet selects which fields of a node an edit applies to.
type FieldSet uint8

const (
	InputFields FieldSet = iota
	OutputFields
)

func (s FieldSet) String() string {
	if s == OutputFields {
		return "output"
	}
	return "input"
}

func (g *Graph) fields(id NodeID, set FieldSet) (*Fields, *Node, error) {
	fn, ok := g.nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("node %d not found", id)
	}
	n := fn.Base()
	if set == OutputFields {
		return &n.Outputs, n, nil
	}
	return &n.Inputs, n, nil
}

func (g *Graph) globals(list ListID) (*Fields, error) {
	l, ok := g.lists[list]
	if !ok {
		return nil, fmt.Errorf("list %d not found", list)
	}
	return &l.Globals, nil
}

// AddField appends f to the inputs or outputs of a node.
func (g *Graph) AddField(id NodeID, set FieldSet, f *Field) error {
	fields, n, err := g.fields(id, set)
	if err != nil {
		return err
	}
	if err := add(fields, f); err != nil {
		return fmt.Errorf("%s: %w", n, err)
	}
	g.edited(set.String()+" added", n)
	return nil
}

// AddGlobal appends f to the globals of list.
func (g *Graph) AddGlobal(list ListID, f *Field) error {
	fields, err := g.globals(list)
	if err != nil {
		return err
	}
	if err := add(fields, f); err != nil {
		return fmt.Errorf("list %d: %w", list, err)
	}
	g.edited("global added", nil)
	return nil
}

func add(fields *Fields, f *Field) error {
	if f == nil || f.Value() == nil {
		return fmt.Errorf("field is unset")
	}
	if _, taken := fields.Get(f.Name()); taken {
		return fmt.Errorf("field %s already exists", f.Name())
	}
	*fields = append(*fields, f)
	return nil
}

// RemoveField removes a node field by name.
func (g *Graph) RemoveField(id NodeID, set FieldSet, name string) error {
	fields, n, err := g.fields(id, set)
	if err != nil {
		return err
	}
	if !remove(fields, name) {
		return fmt.Errorf("%s: %s %s not found", n, set, name)
	}
	g.edited(set.String()+" removed", n)
	return nil
}

// RemoveGlobal removes a global of list by name.
func (g *Graph) RemoveGlobal(list ListID, name string) error {
	fields, err := g.globals(list)
	if err != nil {
		return err
	}
	if !remove(fields, name) {
		return fmt.Errorf("list %d: global %s not found", list, name)
	}
	g.edited("global removed", nil)
	return nil
}

func remove(fields *Fields, name string) bool {
	for i, f := range *fields {
		if f.Name() == name {
			*fields = append((*fields)[:i], (*fields)[i+1:]...)
			return true
		}
	}
	return false
}

// SetFieldValue rebinds a node field to v, changing its type.
func (g *Graph) SetFieldValue(id NodeID, set FieldSet, name string, v value.Value) error {
	fields, n, err := g.fields(id, set)
	if err != nil {
		return err
	}
	f, ok := fields.Get(name)
	if !ok {
		return fmt.Errorf("%s: %s %s not found", n, set, name)
	}
	if v == nil {
		return fmt.Errorf("%s: %s %s: value is nil", n, set, name)
	}
	f.Set(v)
	g.edited("field type changed", n)
	return nil
}

// SetFieldType rebinds a node field to a reference of the allow-listed type
// typeName.
func (g *Graph) SetFieldType(id NodeID, set FieldSet, name, typeName string) error {
	info, ok := g.session.engine.Registry().Lookup(typeName)
	if !ok {
		return fmt.Errorf("type %s is not allowed", typeName)
	}
	return g.SetFieldValue(id, set, name, value.NewTypedReference(info.Type))
}

// RenameField renames a node field and rewrites the formulas of its sibling
// fields. Nothing changes when the rename is rejected.
func (g *Graph) RenameField(id NodeID, set FieldSet, oldName, newName string) error {
	fields, n, err := g.fields(id, set)
	if err != nil {
		return err
	}
	if err := fields.Rename(oldName, newName); err != nil {
		return err
	}
	g.edited("field renamed", n)
	return nil
}

// RenameGlobal renames a global of list.
func (g *Graph) RenameGlobal(list ListID, oldName, newName string) error {
	fields, err := g.globals(list)
	if err != nil {
		return err
	}
	if err := fields.Rename(oldName, newName); err != nil {
		return err
	}
	g.edited("global renamed", nil)
	return nil
}

// CopyField puts a deep copy of a node field on the clipboard.
func (g *Graph) CopyField(id NodeID, set FieldSet, name string) error {
	fields, n, err := g.fields(id, set)
	if err != nil {
		return err
	}
	f, ok := fields.Get(name)
	if !ok {
		return fmt.Errorf("%s: %s %s not found", n, set, name)
	}
	g.session.copiedField = f.Clone()
	return nil
}

// CopyGlobal puts a deep copy of a global on the clipboard.
func (g *Graph) CopyGlobal(list ListID, name string) error {
	fields, err := g.globals(list)
	if err != nil {
		return err
	}
	f, ok := fields.Get(name)
	if !ok {
		return fmt.Errorf("list %d: global %s not found", list, name)
	}
	g.session.copiedField = f.Clone()
	return nil
}

// PasteField adds the copied field to a node and empties the clipboard.
func (g *Graph) PasteField(id NodeID, set FieldSet) error {
	f := g.session.copiedField
	if f == nil {
		return fmt.Errorf("no field copied")
	}
	if err := g.AddField(id, set, f.Clone()); err != nil {
		return err
	}
	g.session.copiedField = nil
	return nil
}

// PasteGlobal adds the copied field to the globals of list and empties the
// clipboard.
func (g *Graph) PasteGlobal(list ListID) error {
	f := g.session.copiedField
	if f == nil {
		return fmt.Errorf("no field copied")
	}
	if err := g.AddGlobal(list, f.Clone()); err != nil {
		return err
	}
	g.session.copiedField = nil
	return nil
}

// fragment is a detached copy of a node and everything it owns.
type fragment struct {
	arena *Graph
	root  NodeID
}

// CopyNode puts a deep copy of a node and its lists on the clipboard.
func (g *Graph) CopyNode(id NodeID) error {
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("node %d not found", id)
	}
	arena := newArena()
	root, err := copyNode(g, arena, id)
	if err != nil {
		return err
	}
	g.session.copiedNode = &fragment{arena: arena, root: root}
	return nil
}

// PasteNode inserts the copied node into list at pos with fresh identities
// and empties the clipboard.
func (g *Graph) PasteNode(list ListID, pos int) (NodeID, error) {
	frag := g.session.copiedNode
	if frag == nil {
		return 0, fmt.Errorf("no node copied")
	}
	l, ok := g.lists[list]
	if !ok {
		return 0, fmt.Errorf("list %d not found", list)
	}
	id, err := copyNode(frag.arena, g, frag.root)
	if err != nil {
		return 0, err
	}
	l.insert(id, pos)
	g.session.copiedNode = nil
	fn := g.nodes[id]
	g.edited("node pasted", fn.Base())
	return id, nil
}

// Duplicate inserts a deep copy of a node right after it.
func (g *Graph) Duplicate(id NodeID) (NodeID, error) {
	parent, ok := g.parent(id)
	if !ok {
		return 0, fmt.Errorf("node %d is not in a list", id)
	}
	dup, err := copyNode(g, g, id)
	if err != nil {
		return 0, err
	}
	parent.insert(dup, parent.index(id)+1)
	g.edited("node duplicated", g.nodes[dup].Base())
	return dup, nil
}

func copyNode(src, dst *Graph, id NodeID) (NodeID, error) {
	fn, ok := src.nodes[id]
	if !ok {
		return 0, fmt.Errorf("node %d not found", id)
	}
	clone := fn.Clone()
	clone.Base().UID = uuid.NewString()
	for _, ref := range clone.Lists() {
		copied, err := copyList(src, dst, *ref.ID)
		if err != nil {
			return 0, err
		}
		*ref.ID = copied
	}
	return dst.adopt(clone), nil
}

func copyList(src, dst *Graph, id ListID) (ListID, error) {
	l, ok := src.lists[id]
	if !ok {
		return 0, fmt.Errorf("list %d not found", id)
	}
	out := dst.NewList()
	copied := dst.lists[out]
	copied.Globals = l.Globals.Clone()
	for _, child := range l.Nodes {
		cid, err := copyNode(src, dst, child)
		if err != nil {
			return 0, err
		}
		copied.Nodes = append(copied.Nodes, cid)
	}
	return out, nil
}

func (g *Graph) edited(what string, n *Node) {
	if g.session == nil {
		return
	}
	g.session.ClearCache()
	ev := g.session.logger.Debug()
	if n != nil {
		ev = ev.Str("node", n.UID).Str("kind", n.Kind)
	}
	ev.Msg(what)
}
