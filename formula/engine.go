// Package formula parses formula text into accessor chains and evaluates
// them against ordered variable bindings.
package formula

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/vfunc/registry"
	"github.com/timzifer/vfunc/telemetry"
	"github.com/timzifer/vfunc/value"
)

// DefaultMaxCallDepth bounds nested custom function calls.
const DefaultMaxCallDepth = 64

// Program is a parsed formula: one statement per delimiter-separated part.
type Program struct {
	Text       string
	Statements []*Statement

	scope map[string]bool
}

// Matches reports whether vars classify the program's identifiers the same
// way as the variables it was parsed against.
func (p *Program) Matches(vars []value.Variable) bool {
	for name, visible := range p.scope {
		if _, ok := Resolve(vars, name, OuterWins); ok != visible {
			return false
		}
	}
	return true
}

// Statement is an expression, optionally assigned to the chain in Target.
type Statement struct {
	Text   string
	Target *Chain
	Expr   *Expression
}

func (s *Statement) eval(x *evalContext) (any, error) {
	result, err := s.Expr.evalRaw(x)
	if err != nil {
		return nil, err
	}
	if s.Target != nil {
		if err := s.Target.assign(x, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Parse parses text. Identifiers are classified against vars and the types
// allow-listed in reg.
func Parse(reg *registry.Registry, text string, vars []value.Variable) (*Program, error) {
	if reg == nil {
		reg = registry.New()
	}
	parts, err := splitStatements(text)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, &ParseError{Text: text, Msg: "empty formula"}
	}
	p := &parser{reg: reg, vars: vars}
	prog := &Program{Text: text, Statements: make([]*Statement, 0, len(parts))}
	for _, part := range parts {
		stmt, err := p.statement(part)
		if err != nil {
			return nil, err
		}
		prog.Statements = append(prog.Statements, stmt)
	}
	prog.scope = p.scope
	return prog, nil
}

// Engine evaluates formulas. It owns the parse cache; hosts call ClearCache
// after every structural edit of the graph.
type Engine struct {
	registry     *registry.Registry
	cache        *Cache
	logger       zerolog.Logger
	collector    telemetry.Collector
	shadowing    Shadowing
	maxCallDepth int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "formula").Logger()
	}
}

// WithTelemetry sets the metrics collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(e *Engine) {
		if collector != nil {
			e.collector = collector
		}
	}
}

// WithShadowing selects the variable shadowing policy.
func WithShadowing(policy Shadowing) Option {
	return func(e *Engine) { e.shadowing = policy }
}

// WithMaxCallDepth bounds nested custom function calls.
func WithMaxCallDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxCallDepth = depth
		}
	}
}

// NewEngine returns an engine resolving types through reg.
func NewEngine(reg *registry.Registry, opts ...Option) *Engine {
	if reg == nil {
		reg = registry.New()
	}
	e := &Engine{
		registry:     reg,
		cache:        NewCache(),
		logger:       zerolog.Nop(),
		collector:    telemetry.Noop(),
		maxCallDepth: DefaultMaxCallDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Engine) Registry() *registry.Registry { return e.registry }

func (e *Engine) Cache() *Cache { return e.cache }

func (e *Engine) Shadowing() Shadowing { return e.shadowing }

// ClearCache drops every parsed program.
func (e *Engine) ClearCache() {
	n := e.cache.Len()
	e.cache.Clear()
	e.logger.Debug().Int("entries", n).Msg("parse cache cleared")
}

// Evaluate runs every statement of text in order and returns one raw result
// per statement. Blank text yields no results.
func (e *Engine) Evaluate(owner, text string, vars []value.Variable) ([]any, error) {
	var results []any
	err := e.run(owner, text, vars, 0, func(_ int, result any) bool {
		results = append(results, result)
		return true
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// EvaluateEach runs the statements of text in order and hands each result to
// fn. Evaluation stops early when fn returns false.
func (e *Engine) EvaluateEach(owner, text string, vars []value.Variable, fn func(i int, result any) bool) error {
	return e.run(owner, text, vars, 0, fn)
}

// run evaluates text at the given call depth. Errors are wrapped with the
// formula text only at depth zero so recursion does not repeat it.
func (e *Engine) run(owner, text string, vars []value.Variable, depth int, fn func(int, any) bool) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	prog, err := e.program(owner, text, vars)
	if err != nil {
		e.collector.IncEvaluation(false)
		return err
	}
	x := &evalContext{engine: e, vars: vars, depth: depth}
	for i, stmt := range prog.Statements {
		result, err := stmt.eval(x)
		if err != nil {
			e.collector.IncEvaluation(false)
			if depth > 0 {
				return err
			}
			return fmt.Errorf("formula %q statement %d: %w", text, i+1, err)
		}
		if fn != nil && !fn(i, result) {
			break
		}
	}
	e.collector.IncEvaluation(true)
	return nil
}

func (e *Engine) program(owner, text string, vars []value.Variable) (*Program, error) {
	prog, hit, err := e.cache.GetOrParse(Key{Owner: owner, Text: text}, vars, func() (*Program, error) {
		e.collector.IncParse()
		return Parse(e.registry, text, vars)
	})
	e.collector.IncCacheLookup(hit)
	if err != nil {
		return nil, err
	}
	if !hit {
		e.logger.Trace().Str("owner", owner).Str("formula", text).Int("statements", len(prog.Statements)).Msg("formula parsed")
	}
	return prog, nil
}
