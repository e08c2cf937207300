package formula

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/timzifer/vfunc/registry"
	"github.com/timzifer/vfunc/value"
)

// CallerKind tags one resolvable step of an accessor chain.
type CallerKind uint8

const (
	PropertyCaller CallerKind = iota
	MethodCaller
	ConstructorCaller
	CustomFunctionCaller
	ArrayItemCaller
)

var callerKindNames = [...]string{
	PropertyCaller:       "property",
	MethodCaller:         "method",
	ConstructorCaller:    "constructor",
	CustomFunctionCaller: "function",
	ArrayItemCaller:      "item",
}

func (k CallerKind) String() string {
	if int(k) < len(callerKindNames) {
		return callerKindNames[k]
	}
	return "unknown"
}

// Caller is one step of an accessor chain. Instance and Result hold the
// values seen by the most recent evaluation.
type Caller struct {
	Kind     CallerKind
	Name     string
	Params   []*Expression
	TypeArgs []string
	Index    []*Expression
	// Static is the registered type for constructors and static calls.
	Static *registry.TypeInfo

	Instance value.Value
	Result   value.Value
}

// Chain is a root variable followed by accessor steps. Root is empty when
// the first step needs no instance (constructors, statics, custom functions).
type Chain struct {
	Text    string
	Root    string
	Callers []*Caller
}

type evalContext struct {
	engine *Engine
	vars   []value.Variable
	depth  int
}

func (x *evalContext) variable(name string) (value.Value, error) {
	v, ok := Resolve(x.vars, name, x.engine.shadowing)
	if !ok {
		return nil, &ResolutionError{Name: name}
	}
	val := v.Value()
	if val == nil {
		return nil, &ResolutionError{Name: name, Detail: "variable is unset"}
	}
	return val, nil
}

func (x *evalContext) typeOf(payload any, member string) (*registry.TypeInfo, error) {
	info, ok := x.engine.registry.TypeOf(payload)
	if !ok {
		return nil, &ResolutionError{Name: member, Type: value.TypeOf(payload).Name(), Detail: "type is not allow-listed"}
	}
	return info, nil
}

func (x *evalContext) args(params []*Expression) ([]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make([]any, len(params))
	for i, p := range params {
		v, err := p.evalRaw(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (x *evalContext) typeArgs(names []string) ([]*registry.TypeInfo, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]*registry.TypeInfo, len(names))
	for i, name := range names {
		info, ok := x.engine.registry.Lookup(name)
		if !ok {
			return nil, &ResolutionError{Name: name, Detail: "type is not allow-listed"}
		}
		out[i] = info
	}
	return out, nil
}

func (c *Chain) eval(x *evalContext) (value.Value, error) {
	var current value.Value
	if c.Root != "" {
		v, err := x.variable(c.Root)
		if err != nil {
			return nil, err
		}
		current = v
	}
	for _, caller := range c.Callers {
		next, err := caller.invoke(x, current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// assign writes v through the last step of the chain.
func (c *Chain) assign(x *evalContext, v any) error {
	if len(c.Callers) == 0 {
		target, err := x.variable(c.Root)
		if err != nil {
			return err
		}
		return target.Set(v)
	}
	var current value.Value
	if c.Root != "" {
		root, err := x.variable(c.Root)
		if err != nil {
			return err
		}
		current = root
	}
	last := len(c.Callers) - 1
	for _, caller := range c.Callers[:last] {
		next, err := caller.invoke(x, current)
		if err != nil {
			return err
		}
		current = next
	}
	target := c.Callers[last]
	target.Instance = current
	var index []any
	if target.Kind == ArrayItemCaller {
		var err error
		if index, err = x.args(target.Index); err != nil {
			return err
		}
	}
	return assignMember(x.engine.registry, target.Kind, target.Name, current, index, v)
}

func (c *Caller) invoke(x *evalContext, instance value.Value) (value.Value, error) {
	c.Instance = instance
	var (
		result value.Value
		err    error
	)
	switch c.Kind {
	case PropertyCaller:
		result, err = readMember(x.engine.registry, c.Kind, c.Name, instance, nil)
	case ArrayItemCaller:
		var index []any
		if index, err = x.args(c.Index); err == nil {
			result, err = readMember(x.engine.registry, c.Kind, c.Name, instance, index)
		}
	case MethodCaller:
		result, err = c.call(x, instance)
	case ConstructorCaller:
		result, err = c.construct(x)
	case CustomFunctionCaller:
		result, err = c.callFunction(x)
	default:
		err = fmt.Errorf("unknown accessor kind %d", c.Kind)
	}
	if err != nil {
		return nil, err
	}
	c.Result = result
	return result, nil
}

func (c *Caller) call(x *evalContext, instance value.Value) (value.Value, error) {
	var (
		info    *registry.TypeInfo
		payload any
		method  *registry.Method
		found   bool
		err     error
	)
	if c.Static != nil {
		info = c.Static
		method, found = info.Static(c.Name, len(c.Params))
	} else {
		payload = value.Payload(instance)
		if info, err = x.typeOf(payload, c.Name); err != nil {
			return nil, err
		}
		method, found = info.Method(c.Name, len(c.Params))
	}
	if !found {
		return nil, &ResolutionError{Name: c.Name, Type: info.Name}
	}
	if method == nil {
		return nil, &ResolutionError{Name: c.Name, Type: info.Name, Detail: fmt.Sprintf("no overload takes %d arguments", len(c.Params))}
	}
	types, err := x.typeArgs(c.TypeArgs)
	if err != nil {
		return nil, err
	}
	args, err := x.args(c.Params)
	if err != nil {
		return nil, err
	}
	out, updated, err := method.Call(payload, types, args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", info.Name, c.Name, err)
	}
	if c.Static == nil && info.ValueType() && updated != nil && !reflect.DeepEqual(updated, payload) {
		if err := writeBack(instance, updated); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", info.Name, c.Name, err)
		}
	}
	return box(out), nil
}

func (c *Caller) construct(x *evalContext) (value.Value, error) {
	info := c.Static
	ctor, found := info.Constructor(len(c.Params))
	if !found || ctor == nil {
		return nil, &ResolutionError{Name: info.Name, Detail: fmt.Sprintf("no constructor takes %d arguments", len(c.Params))}
	}
	args, err := x.args(c.Params)
	if err != nil {
		return nil, err
	}
	out, _, err := ctor.Call(nil, nil, args)
	if err != nil {
		return nil, fmt.Errorf("new %s: %w", info.Name, err)
	}
	return value.NewReference(out), nil
}

func (c *Caller) callFunction(x *evalContext) (value.Value, error) {
	v, err := x.variable(c.Name)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(*value.CustomFunction)
	if !ok {
		return nil, &TypeMismatchError{Expected: "function", Actual: value.EffectiveType(v).Name(), Detail: c.Name + " is not callable"}
	}
	if len(fn.Params) != len(c.Params) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", fn.Signature(c.Name), len(fn.Params), len(c.Params))
	}
	if x.depth+1 > x.engine.maxCallDepth {
		return nil, fmt.Errorf("%w (limit %d)", ErrCallDepth, x.engine.maxCallDepth)
	}
	args, err := x.args(c.Params)
	if err != nil {
		return nil, err
	}
	params := make([]value.Variable, len(args))
	for i, name := range fn.Params {
		params[i] = value.Bind(name, value.NewReference(args[i]))
	}
	// Parameters must win over same-named outer variables.
	scope := Concat(params, x.vars)
	if x.engine.shadowing == InnerWins {
		scope = Concat(x.vars, params)
	}
	var last any
	err = x.engine.run(functionOwner(c.Name), fn.Body, scope, x.depth+1, func(_ int, r any) bool {
		last = r
		return true
	})
	if err != nil {
		if x.depth == 0 {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		return nil, err
	}
	return box(last), nil
}

func functionOwner(name string) string { return "fn:" + name }

func box(out any) value.Value {
	if v, ok := out.(value.Value); ok {
		return v
	}
	return value.NewReference(out)
}

// memberSlot is the result of a property or item read. Assigning to it
// writes through the owning instance, so nested value-type members commit
// back into their root variable.
type memberSlot struct {
	reg      *registry.Registry
	kind     CallerKind
	name     string
	instance value.Value
	index    []any
	payload  any
}

func (s *memberSlot) Get() any { return s.payload }

func (s *memberSlot) Set(v any) error {
	if err := assignMember(s.reg, s.kind, s.name, s.instance, s.index, v); err != nil {
		return err
	}
	payload, err := readPayload(s.reg, s.kind, s.name, s.instance, s.index)
	if err != nil {
		return err
	}
	s.payload = payload
	return nil
}

func (s *memberSlot) Type() value.Type { return value.TypeOf(s.payload) }

// Clone detaches the slot from its owner.
func (s *memberSlot) Clone() value.Value {
	return value.NewReference(s.payload).Clone()
}

func readMember(reg *registry.Registry, kind CallerKind, name string, instance value.Value, index []any) (value.Value, error) {
	payload, err := readPayload(reg, kind, name, instance, index)
	if err != nil {
		return nil, err
	}
	if v, ok := payload.(value.Value); ok {
		return v, nil
	}
	return &memberSlot{reg: reg, kind: kind, name: name, instance: instance, index: index, payload: payload}, nil
}

func readPayload(reg *registry.Registry, kind CallerKind, name string, instance value.Value, index []any) (any, error) {
	payload := value.Payload(instance)
	info, registered := reg.TypeOf(payload)
	switch kind {
	case PropertyCaller:
		if !registered {
			return nil, &ResolutionError{Name: name, Type: value.TypeOf(payload).Name(), Detail: "type is not allow-listed"}
		}
		prop, ok := info.Property(name)
		if !ok {
			return nil, &ResolutionError{Name: name, Type: info.Name}
		}
		out, err := prop.Get(payload)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", info.Name, name, err)
		}
		return out, nil
	case ArrayItemCaller:
		if registered && info.Indexer() != nil {
			out, err := info.Indexer().Get(payload, index)
			if err != nil {
				return nil, fmt.Errorf("%s[]: %w", info.Name, err)
			}
			return out, nil
		}
		return getIndex(payload, index)
	default:
		return nil, fmt.Errorf("%s is not readable", kind)
	}
}

// assignMember applies the write-back rule: value-type owners are mutated as
// a copy which is then committed into instance, reference-type owners are
// mutated in place.
func assignMember(reg *registry.Registry, kind CallerKind, name string, instance value.Value, index []any, v any) error {
	payload := value.Payload(instance)
	info, registered := reg.TypeOf(payload)
	switch kind {
	case PropertyCaller:
		if !registered {
			return &ResolutionError{Name: name, Type: value.TypeOf(payload).Name(), Detail: "type is not allow-listed"}
		}
		prop, ok := info.Property(name)
		if !ok {
			return &ResolutionError{Name: name, Type: info.Name}
		}
		if prop.ReadOnly {
			return &ReadOnlyError{Member: name, Type: info.Name}
		}
		updated, err := prop.Set(payload, v)
		if err != nil {
			if errors.Is(err, registry.ErrReadOnly) {
				return &ReadOnlyError{Member: name, Type: info.Name}
			}
			return fmt.Errorf("%s.%s: %w", info.Name, name, err)
		}
		if info.ValueType() {
			return writeBack(instance, updated)
		}
		return nil
	case ArrayItemCaller:
		if registered && info.Indexer() != nil {
			ix := info.Indexer()
			if ix.ReadOnly {
				return &ReadOnlyError{Member: "[]", Type: info.Name}
			}
			updated, err := ix.Set(payload, index, v)
			if err != nil {
				return fmt.Errorf("%s[]: %w", info.Name, err)
			}
			if info.ValueType() {
				return writeBack(instance, updated)
			}
			return nil
		}
		updated, copied, err := setIndex(payload, index, v)
		if err != nil {
			return err
		}
		if copied {
			return writeBack(instance, updated)
		}
		return nil
	default:
		return &ReadOnlyError{Member: name, Type: kind.String()}
	}
}

func writeBack(instance value.Value, updated any) error {
	if instance == nil {
		return fmt.Errorf("no owner to write back into")
	}
	if ref, ok := instance.(value.RefValuer); ok {
		return ref.SetRefValue(updated)
	}
	return instance.Set(updated)
}
