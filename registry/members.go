package registry

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/timzifer/vfunc/value"
)

// Variadic marks a method or constructor accepting any number of arguments.
const Variadic = -1

// Property is a readable and optionally writable member of a registered type.
type Property struct {
	Name string
	// Type is the declared Go type of the member, nil for computed properties.
	Type     reflect.Type
	ReadOnly bool

	get func(recv any) (any, error)
	set func(recv any, v any) (any, error)
}

// Get reads the property from recv.
func (p *Property) Get(recv any) (any, error) {
	return p.get(recv)
}

// Set assigns v to the property of recv and returns the receiver to commit.
// For value types the returned receiver is a mutated copy and recv itself is
// left untouched; pointer receivers are mutated in place and returned as is.
func (p *Property) Set(recv any, v any) (any, error) {
	if p.ReadOnly || p.set == nil {
		return recv, ErrReadOnly
	}
	return p.set(recv, v)
}

// Method is a callable member, a static function or a constructor.
type Method struct {
	Name string
	// Arity is the number of value arguments, or Variadic.
	Arity int
	// TypeArgs is the number of generic type arguments the method expects.
	TypeArgs int

	call func(recv any, types []*TypeInfo, args []any) (result any, updated any, err error)
}

// Accepts reports whether the method can be called with argc arguments.
func (m *Method) Accepts(argc int) bool {
	return m.Arity == Variadic || m.Arity == argc
}

// Call invokes the method. The second result is the receiver after the call;
// it differs from recv only when a value-type receiver was mutated.
func (m *Method) Call(recv any, types []*TypeInfo, args []any) (any, any, error) {
	if len(types) != m.TypeArgs {
		return nil, recv, fmt.Errorf("%s expects %d type arguments, got %d", m.Name, m.TypeArgs, len(types))
	}
	if !m.Accepts(len(args)) {
		return nil, recv, fmt.Errorf("%s expects %d arguments, got %d", m.Name, m.Arity, len(args))
	}
	return m.call(recv, types, args)
}

// Indexer reads and writes elements addressed by an index list.
type Indexer struct {
	ReadOnly bool

	get func(recv any, index []any) (any, error)
	set func(recv any, index []any, v any) (any, error)
}

// Get reads the element at index.
func (ix *Indexer) Get(recv any, index []any) (any, error) {
	return ix.get(recv, index)
}

// Set writes the element at index and returns the receiver to commit.
func (ix *Indexer) Set(recv any, index []any, v any) (any, error) {
	if ix.ReadOnly || ix.set == nil {
		return recv, ErrReadOnly
	}
	return ix.set(recv, index, v)
}

var (
	// ErrReadOnly is returned when assigning to a member without a setter.
	ErrReadOnly = errors.New("member is read-only")
	errReceiver = errors.New("invalid receiver")
)

func fieldProperty(f reflect.StructField, readOnly bool) *Property {
	idx := f.Index
	return &Property{
		Name:     f.Name,
		Type:     f.Type,
		ReadOnly: readOnly,
		get: func(recv any) (any, error) {
			target, err := structValue(recv)
			if err != nil {
				return nil, err
			}
			field, err := target.FieldByIndexErr(idx)
			if err != nil {
				return nil, err
			}
			return field.Interface(), nil
		},
		set: func(recv any, v any) (any, error) {
			rv := reflect.ValueOf(recv)
			if !rv.IsValid() {
				return recv, errReceiver
			}
			out := recv
			target := rv
			if rv.Kind() == reflect.Pointer {
				if rv.IsNil() {
					return recv, errReceiver
				}
				target = rv.Elem()
			} else {
				target = reflect.New(rv.Type()).Elem()
				target.Set(rv)
			}
			field, err := target.FieldByIndexErr(idx)
			if err != nil {
				return recv, err
			}
			if err := assign(field, v); err != nil {
				return recv, err
			}
			if rv.Kind() != reflect.Pointer {
				out = target.Interface()
			}
			return out, nil
		},
	}
}

func structValue(recv any) (reflect.Value, error) {
	rv := reflect.ValueOf(recv)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, errReceiver
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, errReceiver
	}
	return rv, nil
}

func assign(dst reflect.Value, v any) error {
	converted, err := value.ConvertTo(v, dst.Type())
	if err != nil {
		return err
	}
	if converted == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	dst.Set(reflect.ValueOf(converted))
	return nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// reflectMethod builds a method entry for an exported Go method. Value-type
// receivers are copied into an addressable temporary so pointer-receiver
// methods can run; the temporary is returned as the updated receiver.
func reflectMethod(m reflect.Method, recvType reflect.Type) (*Method, bool) {
	fn := m.Type
	out := fn.NumOut()
	switch {
	case out > 2:
		return nil, false
	case out == 2 && fn.Out(1) != errorType:
		return nil, false
	}
	arity := fn.NumIn() - 1
	if fn.IsVariadic() {
		arity = Variadic
	}
	index := m.Index
	byPointer := recvType.Kind() != reflect.Pointer
	return &Method{
		Name:  m.Name,
		Arity: arity,
		call: func(recv any, _ []*TypeInfo, args []any) (any, any, error) {
			rv := reflect.ValueOf(recv)
			if !rv.IsValid() || rv.Type() != recvType {
				return nil, recv, errReceiver
			}
			target := rv
			if byPointer {
				target = reflect.New(recvType)
				target.Elem().Set(rv)
			}
			method := target.Method(index)
			in, err := callArgs(method.Type(), args)
			if err != nil {
				return nil, recv, fmt.Errorf("%s: %w", m.Name, err)
			}
			var results []reflect.Value
			if method.Type().IsVariadic() {
				results = method.CallSlice(in)
			} else {
				results = method.Call(in)
			}
			updated := recv
			if byPointer {
				updated = target.Elem().Interface()
			}
			return unpackResults(results, updated)
		},
	}, true
}

func callArgs(fn reflect.Type, args []any) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, fn.NumIn())
	fixed := fn.NumIn()
	if fn.IsVariadic() {
		fixed--
	}
	if len(args) < fixed {
		return nil, fmt.Errorf("expected at least %d arguments, got %d", fixed, len(args))
	}
	for i := 0; i < fixed; i++ {
		arg, err := convertArg(args[i], fn.In(i))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, arg)
	}
	if fn.IsVariadic() {
		sliceType := fn.In(fixed)
		rest := reflect.MakeSlice(sliceType, 0, len(args)-fixed)
		for i := fixed; i < len(args); i++ {
			arg, err := convertArg(args[i], sliceType.Elem())
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			rest = reflect.Append(rest, arg)
		}
		in = append(in, rest)
	}
	return in, nil
}

func convertArg(v any, t reflect.Type) (reflect.Value, error) {
	converted, err := value.ConvertTo(v, t)
	if err != nil {
		return reflect.Value{}, err
	}
	if converted == nil {
		return reflect.Zero(t), nil
	}
	return reflect.ValueOf(converted), nil
}

func unpackResults(results []reflect.Value, updated any) (any, any, error) {
	switch len(results) {
	case 0:
		return nil, updated, nil
	case 1:
		if results[0].Type() == errorType {
			if err, _ := results[0].Interface().(error); err != nil {
				return nil, updated, err
			}
			return nil, updated, nil
		}
		return results[0].Interface(), updated, nil
	default:
		if err, _ := results[1].Interface().(error); err != nil {
			return nil, updated, err
		}
		return results[0].Interface(), updated, nil
	}
}
