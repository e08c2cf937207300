package registry

import (
	"fmt"
	"reflect"

	"github.com/timzifer/vfunc/value"
)

type builder[T any] struct {
	info *TypeInfo
}

// Option customises the member table of T during registration.
type Option[T any] func(*builder[T]) error

func receiver[T any](recv any) (T, error) {
	typed, ok := recv.(T)
	if !ok {
		var zero T
		return zero, &value.TypeMismatchError{Expected: reflect.TypeOf((*T)(nil)).Elem().String(), Actual: value.TypeOf(recv).Name()}
	}
	return typed, nil
}

// Arg converts args[i] to T.
func Arg[T any](args []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, fmt.Errorf("missing argument %d", i)
	}
	converted, err := value.ConvertTo(args[i], reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, fmt.Errorf("argument %d: %w", i, err)
	}
	if converted == nil {
		return zero, nil
	}
	return converted.(T), nil
}

// WithProperty adds a computed property. A nil set makes it read-only. set
// returns the receiver to commit, which for value types is the mutated copy.
func WithProperty[T any](name string, get func(T) (any, error), set func(T, any) (T, error)) Option[T] {
	return func(b *builder[T]) error {
		if get == nil {
			return fmt.Errorf("property %s: getter must not be nil", name)
		}
		p := &Property{
			Name:     name,
			ReadOnly: set == nil,
			get: func(recv any) (any, error) {
				typed, err := receiver[T](recv)
				if err != nil {
					return nil, err
				}
				return get(typed)
			},
		}
		if set != nil {
			p.set = func(recv any, v any) (any, error) {
				typed, err := receiver[T](recv)
				if err != nil {
					return recv, err
				}
				updated, err := set(typed, v)
				if err != nil {
					return recv, err
				}
				return updated, nil
			}
		}
		b.info.properties[name] = p
		return nil
	}
}

// WithReadOnly marks existing field properties as read-only.
func WithReadOnly[T any](names ...string) Option[T] {
	return func(b *builder[T]) error {
		for _, name := range names {
			p, ok := b.info.properties[name]
			if !ok {
				return fmt.Errorf("unknown property %s", name)
			}
			p.ReadOnly = true
		}
		return nil
	}
}

// WithHidden removes members from the table.
func WithHidden[T any](names ...string) Option[T] {
	return func(b *builder[T]) error {
		for _, name := range names {
			delete(b.info.properties, name)
			delete(b.info.methods, name)
		}
		return nil
	}
}

// WithMethod adds a method. The receiver is passed by value; methods of
// value types cannot mutate the owner.
func WithMethod[T any](name string, arity int, fn func(recv T, args []any) (any, error)) Option[T] {
	return func(b *builder[T]) error {
		if fn == nil {
			return fmt.Errorf("method %s: function must not be nil", name)
		}
		b.info.methods[name] = append(b.info.methods[name], &Method{
			Name:  name,
			Arity: arity,
			call: func(recv any, _ []*TypeInfo, args []any) (any, any, error) {
				typed, err := receiver[T](recv)
				if err != nil {
					return nil, recv, err
				}
				out, err := fn(typed, args)
				return out, recv, err
			},
		})
		return nil
	}
}

// WithGenericMethod adds a method taking typeArgs registered types as generic
// arguments, e.g. inv.Count<Sword>().
func WithGenericMethod[T any](name string, typeArgs, arity int, fn func(recv T, types []*TypeInfo, args []any) (any, error)) Option[T] {
	return func(b *builder[T]) error {
		if fn == nil {
			return fmt.Errorf("method %s: function must not be nil", name)
		}
		if typeArgs < 1 {
			return fmt.Errorf("method %s: generic methods need at least one type argument", name)
		}
		b.info.methods[name] = append(b.info.methods[name], &Method{
			Name:     name,
			Arity:    arity,
			TypeArgs: typeArgs,
			call: func(recv any, types []*TypeInfo, args []any) (any, any, error) {
				typed, err := receiver[T](recv)
				if err != nil {
					return nil, recv, err
				}
				out, err := fn(typed, types, args)
				return out, recv, err
			},
		})
		return nil
	}
}

// WithStatic adds a function called through the type name, e.g. Math.Max(a, b).
func WithStatic[T any](name string, arity int, fn func(args []any) (any, error)) Option[T] {
	return func(b *builder[T]) error {
		if fn == nil {
			return fmt.Errorf("static %s: function must not be nil", name)
		}
		b.info.statics[name] = append(b.info.statics[name], &Method{
			Name:  name,
			Arity: arity,
			call: func(_ any, _ []*TypeInfo, args []any) (any, any, error) {
				out, err := fn(args)
				return out, nil, err
			},
		})
		return nil
	}
}

// WithConstructor adds a constructor called as Name(args...). Registering any
// constructor replaces the implicit zero-value constructor.
func WithConstructor[T any](arity int, fn func(args []any) (T, error)) Option[T] {
	return func(b *builder[T]) error {
		if fn == nil {
			return fmt.Errorf("constructor must not be nil")
		}
		b.info.constructors = append(b.info.constructors, &Method{
			Name:  b.info.Name,
			Arity: arity,
			call: func(_ any, _ []*TypeInfo, args []any) (any, any, error) {
				out, err := fn(args)
				if err != nil {
					return nil, nil, err
				}
				return out, nil, nil
			},
		})
		return nil
	}
}

// WithIndexer adds element access through recv[i, j]. A nil set makes the
// indexer read-only.
func WithIndexer[T any](get func(recv T, index []any) (any, error), set func(recv T, index []any, v any) (T, error)) Option[T] {
	return func(b *builder[T]) error {
		if get == nil {
			return fmt.Errorf("indexer getter must not be nil")
		}
		ix := &Indexer{
			ReadOnly: set == nil,
			get: func(recv any, index []any) (any, error) {
				typed, err := receiver[T](recv)
				if err != nil {
					return nil, err
				}
				return get(typed, index)
			},
		}
		if set != nil {
			ix.set = func(recv any, index []any, v any) (any, error) {
				typed, err := receiver[T](recv)
				if err != nil {
					return recv, err
				}
				updated, err := set(typed, index, v)
				if err != nil {
					return recv, err
				}
				return updated, nil
			}
		}
		b.info.indexer = ix
		return nil
	}
}
