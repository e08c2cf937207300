package value

import (
	"fmt"
	"reflect"
	"strings"
)

// Policy governs when a Formula recomputes its payload.
type Policy uint8

const (
	// RecalculateOnUse recomputes the payload on every evaluation.
	RecalculateOnUse Policy = iota
	// CacheUntilChanged recomputes only when the formula text changed or the
	// payload is unset.
	CacheUntilChanged
)

func (p Policy) String() string {
	if p == CacheUntilChanged {
		return "cache"
	}
	return "always"
}

// Formula is a value whose payload is computed from formula text.
type Formula struct {
	Text   string
	Policy Policy

	lastText string
	payload  any
}

// NewFormula returns a formula value recomputed on every use.
func NewFormula(text string) *Formula {
	return &Formula{Text: text}
}

// Evaluate refreshes the payload according to the recompute policy. The
// payload becomes the result of the last statement.
func (f *Formula) Evaluate(ev Evaluator, owner string, vars []Variable) error {
	switch {
	case f.lastText != f.Text:
		f.lastText = f.Text
	case f.Policy == RecalculateOnUse:
	case f.payload == nil:
	default:
		return nil
	}
	results, err := ev.Evaluate(owner, f.Text, vars)
	if err != nil {
		return err
	}
	f.payload = nil
	if len(results) > 0 {
		f.payload = results[len(results)-1]
	}
	return nil
}

// Stale reports whether the next Evaluate would recompute.
func (f *Formula) Stale() bool {
	return f.lastText != f.Text || f.Policy == RecalculateOnUse || f.payload == nil
}

func (f *Formula) Get() any { return f.payload }

func (f *Formula) Set(v any) error {
	if inner, ok := v.(Value); ok {
		v = Payload(inner)
	}
	f.payload = v
	return nil
}

func (f *Formula) Type() Type {
	if f.payload == nil {
		return Type{Kind: KindFormula}
	}
	return TypeOf(f.payload)
}

// Clone copies text, policy and payload. The copy recomputes on first use.
func (f *Formula) Clone() Value {
	return &Formula{Text: f.Text, Policy: f.Policy, payload: deepCopyAny(f.payload)}
}

// Script is formula text consumed by a node rather than evaluated into a
// payload, e.g. a branch condition.
type Script struct {
	Text string
}

// NewScript returns a script value.
func NewScript(text string) *Script { return &Script{Text: text} }

func (s *Script) Get() any { return s.Text }

func (s *Script) Set(v any) error {
	text, ok := v.(string)
	if !ok {
		return mismatch("text", v)
	}
	s.Text = text
	return nil
}

func (s *Script) Type() Type {
	return Type{Kind: KindFormula, Go: reflect.TypeOf("")}
}

func (s *Script) Clone() Value { return &Script{Text: s.Text} }

// CustomFunction is a user-defined multi-statement formula callable by name.
// The result of a call is the result of the last statement of Body.
type CustomFunction struct {
	Params []string
	Body   string
}

func (c *CustomFunction) Get() any { return c }

func (c *CustomFunction) Set(v any) error {
	switch fn := v.(type) {
	case *CustomFunction:
		c.Params = append([]string(nil), fn.Params...)
		c.Body = fn.Body
	case string:
		c.Body = fn
	default:
		return mismatch("function", v)
	}
	return nil
}

func (c *CustomFunction) Type() Type { return Type{Kind: KindFunction, Go: functionType} }

func (c *CustomFunction) Clone() Value {
	return &CustomFunction{Params: append([]string(nil), c.Params...), Body: c.Body}
}

// Signature renders the function as name(a, b).
func (c *CustomFunction) Signature(name string) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(c.Params, ", "))
}

// FormulaText returns the formula text carried by v, if any.
func FormulaText(v Value) (string, bool) {
	switch f := v.(type) {
	case *Formula:
		return f.Text, true
	case *Script:
		return f.Text, true
	case *CustomFunction:
		return f.Body, true
	default:
		return "", false
	}
}

// SetFormulaText replaces the formula text carried by v.
func SetFormulaText(v Value, text string) bool {
	switch f := v.(type) {
	case *Formula:
		f.Text = text
	case *Script:
		f.Text = text
	case *CustomFunction:
		f.Body = text
	default:
		return false
	}
	return true
}
