package formula

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/vfunc/registry"
	"github.com/timzifer/vfunc/value"
)

// Expression is one operand chain or an operator expression over several.
// Operators and literals are compiled once with expr; each operand chain is
// bound to a placeholder function which the VM calls only when it reaches
// the operand, so &&, ||, ?: and ?? short-circuit.
type Expression struct {
	Text     string
	Operands []*Chain

	program *vm.Program
}

// Single reports whether the expression is a bare accessor chain.
func (e *Expression) Single() bool { return e.program == nil }

func (e *Expression) evalRaw(x *evalContext) (any, error) {
	if e.program == nil {
		v, err := e.Operands[0].eval(x)
		if err != nil {
			return nil, err
		}
		return value.Payload(v), nil
	}
	var failed error
	env := make(map[string]interface{}, len(e.Operands))
	for i, op := range e.Operands {
		op := op
		env[placeholder(i)] = func() any {
			v, err := op.eval(x)
			if err != nil {
				failed = err
				panic(err)
			}
			return value.Payload(v)
		}
	}
	out, err := vm.Run(e.program, env)
	if failed != nil {
		return nil, failed
	}
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", e.Text, err)
	}
	return normalize(out), nil
}

func placeholder(i int) string {
	return fmt.Sprintf("__v%d", i)
}

// operandEnv declares the placeholder functions for compilation.
func operandEnv(n int) map[string]interface{} {
	env := make(map[string]interface{}, n)
	for i := 0; i < n; i++ {
		env[placeholder(i)] = func() any { return nil }
	}
	return env
}

func normalize(out any) any {
	switch v := out.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return out
	}
}

// Words handled by expr itself rather than resolved as variables.
var keywords = map[string]struct{}{
	"true": {}, "false": {}, "nil": {},
	"and": {}, "or": {}, "not": {}, "in": {},
	"matches": {}, "contains": {}, "startsWith": {}, "endsWith": {},
}

var builtins = map[string]struct{}{
	"len": {}, "abs": {}, "max": {}, "min": {},
	"round": {}, "floor": {}, "ceil": {},
	"upper": {}, "lower": {}, "trim": {},
	"int": {}, "float": {}, "string": {},
}

type parser struct {
	reg  *registry.Registry
	vars []value.Variable
	// scope records every identifier whose visibility decided how it was
	// classified.
	scope map[string]bool
}

func (p *parser) known(name string) bool {
	_, ok := Resolve(p.vars, name, OuterWins)
	if p.scope == nil {
		p.scope = make(map[string]bool)
	}
	p.scope[name] = ok
	return ok
}

func (p *parser) statement(src string) (*Statement, error) {
	text := strings.TrimSpace(src)
	at := findAssignment(text)
	if at < 0 {
		e, err := p.expression(text)
		if err != nil {
			return nil, err
		}
		return &Statement{Text: text, Expr: e}, nil
	}
	target, err := p.expression(text[:at])
	if err != nil {
		return nil, err
	}
	if !target.Single() {
		return nil, &ParseError{Text: text, Pos: at, Msg: "assignment target must be a variable, property or item"}
	}
	chain := target.Operands[0]
	if n := len(chain.Callers); n == 0 {
		if chain.Root == "" {
			return nil, &ParseError{Text: text, Pos: at, Msg: "invalid assignment target"}
		}
	} else if kind := chain.Callers[n-1].Kind; kind != PropertyCaller && kind != ArrayItemCaller {
		return nil, &ParseError{Text: text, Pos: at, Msg: fmt.Sprintf("cannot assign to %s call", kind)}
	}
	rhs, err := p.expression(text[at+1:])
	if err != nil {
		return nil, err
	}
	return &Statement{Text: text, Target: chain, Expr: rhs}, nil
}

// expression replaces every operand chain with a placeholder call and
// compiles the remaining operator skeleton.
func (p *parser) expression(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, &ParseError{Text: src, Msg: "empty expression"}
	}
	var skeleton strings.Builder
	var operands []*Chain
	for idx := 0; idx < len(src); {
		ch := src[idx]
		switch {
		case isQuote(ch):
			end, err := scanStringLiteral(src, idx)
			if err != nil {
				return nil, &ParseError{Text: src, Pos: idx, Msg: err.Error()}
			}
			skeleton.WriteString(src[idx : end+1])
			idx = end + 1
		case isDigit(ch):
			end := scanNumber(src, idx)
			skeleton.WriteString(src[idx:end])
			idx = end
		case isIdentStart(ch):
			end := scanIdentifier(src, idx)
			if p.passthrough(src, idx, end) {
				skeleton.WriteString(src[idx:end])
				idx = end
				continue
			}
			chain, next, err := p.chain(src, idx)
			if err != nil {
				return nil, err
			}
			skeleton.WriteString(placeholder(len(operands)) + "()")
			operands = append(operands, chain)
			idx = next
		default:
			skeleton.WriteByte(ch)
			idx++
		}
	}
	code := strings.TrimSpace(skeleton.String())
	if len(operands) == 1 && code == placeholder(0)+"()" {
		return &Expression{Text: src, Operands: operands}, nil
	}
	program, err := expr.Compile(code, expr.Env(operandEnv(len(operands))), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &ParseError{Text: src, Msg: err.Error()}
	}
	return &Expression{Text: src, Operands: operands, program: program}, nil
}

func (p *parser) passthrough(src string, start, end int) bool {
	name := src[start:end]
	if _, ok := keywords[name]; ok {
		return true
	}
	if _, ok := builtins[name]; !ok {
		return false
	}
	if end >= len(src) || src[end] != '(' || p.known(name) {
		return false
	}
	_, isType := p.reg.Lookup(name)
	return !isType
}

// chain parses an accessor chain starting at the identifier at start and
// returns the index just past it. The head is classified here: a visible
// variable is the root, a call on a variable is a custom function call and a
// registered type name starts a constructor or static call.
func (p *parser) chain(src string, start int) (*Chain, int, error) {
	end := scanIdentifier(src, start)
	name := src[start:end]
	chain := &Chain{}
	isVar := p.known(name)
	info, isType := p.reg.Lookup(name)
	pos := end

	switch {
	case pos < len(src) && src[pos] == '(':
		params, next, err := p.arguments(src, pos)
		if err != nil {
			return nil, start, err
		}
		switch {
		case isVar:
			chain.Callers = append(chain.Callers, &Caller{Kind: CustomFunctionCaller, Name: name, Params: params})
		case isType:
			chain.Callers = append(chain.Callers, &Caller{Kind: ConstructorCaller, Name: name, Static: info, Params: params})
		default:
			return nil, start, &ResolutionError{Name: name}
		}
		pos = next
	case isVar:
		chain.Root = name
	case isType:
		if pos+1 >= len(src) || src[pos] != '.' || !isIdentStart(src[pos+1]) {
			return nil, start, &ResolutionError{Name: name, Detail: "type name used as a value"}
		}
		memberEnd := scanIdentifier(src, pos+1)
		member := src[pos+1 : memberEnd]
		if memberEnd >= len(src) || src[memberEnd] != '(' {
			return nil, start, &ResolutionError{Name: member, Type: info.Name, Detail: "static members must be called"}
		}
		params, next, err := p.arguments(src, memberEnd)
		if err != nil {
			return nil, start, err
		}
		chain.Callers = append(chain.Callers, &Caller{Kind: MethodCaller, Name: member, Static: info, Params: params})
		pos = next
	default:
		return nil, start, &ResolutionError{Name: name}
	}

	for pos < len(src) {
		switch src[pos] {
		case '.':
			if pos+1 >= len(src) || !isIdentStart(src[pos+1]) {
				chain.Text = src[start:pos]
				return chain, pos, nil
			}
			memberEnd := scanIdentifier(src, pos+1)
			member := src[pos+1 : memberEnd]
			typeArgs, open, generic := scanTypeArguments(src, memberEnd)
			if !generic {
				open = memberEnd
			}
			if open < len(src) && src[open] == '(' {
				params, next, err := p.arguments(src, open)
				if err != nil {
					return nil, start, err
				}
				chain.Callers = append(chain.Callers, &Caller{Kind: MethodCaller, Name: member, TypeArgs: typeArgs, Params: params})
				pos = next
				continue
			}
			chain.Callers = append(chain.Callers, &Caller{Kind: PropertyCaller, Name: member})
			pos = memberEnd
		case '[':
			index, next, err := p.arguments(src, pos)
			if err != nil {
				return nil, start, err
			}
			if len(index) == 0 {
				return nil, start, &ParseError{Text: src, Pos: pos, Msg: "empty index"}
			}
			chain.Callers = append(chain.Callers, &Caller{Kind: ArrayItemCaller, Index: index})
			pos = next
		default:
			chain.Text = src[start:pos]
			return chain, pos, nil
		}
	}
	chain.Text = src[start:pos]
	return chain, pos, nil
}

func (p *parser) arguments(src string, open int) ([]*Expression, int, error) {
	closing, err := matchClose(src, open)
	if err != nil {
		return nil, open, &ParseError{Text: src, Pos: open, Msg: err.Error()}
	}
	parts, err := splitArguments(src[open+1 : closing])
	if err != nil {
		return nil, open, &ParseError{Text: src, Pos: open, Msg: err.Error()}
	}
	args := make([]*Expression, 0, len(parts))
	for _, part := range parts {
		arg, err := p.expression(part)
		if err != nil {
			return nil, open, err
		}
		args = append(args, arg)
	}
	return args, closing + 1, nil
}
