package graph

import (
	"github.com/timzifer/vfunc/formula"
	"github.com/timzifer/vfunc/value"
)

// Built-in node kinds.
const (
	KindIf    = "If"
	KindFor   = "For"
	KindRun   = "Run"
	KindGuard = "Guard"
	KindLog   = "Log"
)

// If runs Then when every boolean result of its Condition is true and
// Otherwise as soon as one is false.
type If struct {
	Node
	Then      ListID
	Otherwise ListID
}

func newIf(g *Graph) (Function, error) {
	n := &If{Node: NewNode(KindIf), Then: g.NewList(), Otherwise: g.NewList()}
	n.Inputs = Fields{NewFieldValue("Condition", value.NewScript(""))}
	return n, nil
}

func (n *If) Lists() []ListRef {
	return []ListRef{{Name: "Then", ID: &n.Then}, {Name: "Otherwise", ID: &n.Otherwise}}
}

func (n *If) Clone() Function {
	c := *n
	c.Node = n.Node.clone()
	return &c
}

func (n *If) Process(x *Exec, vars []value.Variable) (bool, error) {
	scope := formula.Concat(vars, n.Inputs.Variables())
	holds, err := x.Holds(n.UID, script(n.Inputs, "Condition"), scope)
	if err != nil {
		return false, err
	}
	branch := n.Otherwise
	if holds {
		branch = n.Then
	}
	return x.RunList(branch, formula.Concat(scope, x.Globals(branch)))
}

// For runs Body Loops times, exposing the iteration through Index. It stops
// at the first failing iteration and always reports success.
type For struct {
	Node
	Body ListID
}

func newFor(g *Graph) (Function, error) {
	n := &For{Node: NewNode(KindFor), Body: g.NewList()}
	loops := NewFieldValue("Loops", value.NewIntRef(0))
	loops.Renamable = true
	index := NewFieldValue("Index", value.NewIntRef(0))
	index.Renamable = true
	n.Inputs = Fields{loops, index}
	return n, nil
}

func (n *For) Lists() []ListRef { return []ListRef{{Name: "Body", ID: &n.Body}} }

func (n *For) Clone() Function {
	c := *n
	c.Node = n.Node.clone()
	return &c
}

func (n *For) Process(x *Exec, vars []value.Variable) (bool, error) {
	if len(n.Inputs) < 2 {
		return true, nil
	}
	loops, index := n.Inputs[0].Value(), n.Inputs[1].Value()
	scope := formula.Concat(vars, n.Inputs.Variables(), x.Globals(n.Body))
	if err := index.Set(int64(0)); err != nil {
		return false, err
	}
	for {
		limit, err := value.AsInt(value.Payload(loops))
		if err != nil {
			return false, err
		}
		i, err := value.AsInt(value.Payload(index))
		if err != nil {
			return false, err
		}
		if i >= limit {
			break
		}
		ok, err := x.RunList(n.Body, scope)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		if err := index.Set(i + 1); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Run evaluates its Formula for side effects on outputs and globals.
type Run struct {
	Node
}

func newRun(*Graph) (Function, error) {
	n := &Run{Node: NewNode(KindRun)}
	n.Inputs = Fields{NewFieldValue("Formula", value.NewScript(""))}
	return n, nil
}

func (n *Run) Lists() []ListRef { return nil }

func (n *Run) Clone() Function {
	c := *n
	c.Node = n.Node.clone()
	return &c
}

func (n *Run) Process(x *Exec, vars []value.Variable) (bool, error) {
	text := script(n.Inputs, "Formula")
	if text == "" {
		return true, nil
	}
	_, err := x.Evaluate(n.UID, text, formula.Concat(vars, n.Variables()))
	return err == nil, err
}

// Guard stops the enclosing list when its Condition does not hold.
type Guard struct {
	Node
}

func newGuard(*Graph) (Function, error) {
	n := &Guard{Node: NewNode(KindGuard)}
	n.Inputs = Fields{NewFieldValue("Condition", value.NewScript(""))}
	return n, nil
}

func (n *Guard) Lists() []ListRef { return nil }

func (n *Guard) Clone() Function {
	c := *n
	c.Node = n.Node.clone()
	return &c
}

func (n *Guard) Process(x *Exec, vars []value.Variable) (bool, error) {
	return x.Holds(n.UID, script(n.Inputs, "Condition"), formula.Concat(vars, n.Inputs.Variables()))
}

// Log writes the payload of every input.
type Log struct {
	Node
}

func newLog(*Graph) (Function, error) {
	n := &Log{Node: NewNode(KindLog)}
	msg := NewFieldValue("Message", value.NewText(""))
	n.Inputs = Fields{msg}
	return n, nil
}

func (n *Log) Lists() []ListRef { return nil }

func (n *Log) Clone() Function {
	c := *n
	c.Node = n.Node.clone()
	return &c
}

func (n *Log) Process(x *Exec, _ []value.Variable) (bool, error) {
	message := "log node"
	fields := make(map[string]interface{}, len(n.Inputs))
	for _, in := range n.Inputs {
		payload := value.Payload(in.Value())
		if in.Name() == "Message" {
			if text, ok := payload.(string); ok && text != "" {
				message = text
			}
			continue
		}
		fields[in.Name()] = payload
	}
	x.Logger().Info().Str("node", n.UID).Fields(fields).Msg(message)
	return true, nil
}

func script(fields Fields, name string) string {
	f, ok := fields.Get(name)
	if !ok {
		return ""
	}
	text, _ := value.FormulaText(f.Value())
	return text
}
