package value

import (
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
)

// List holds an ordered sequence of T.
type List[T any] struct {
	Items []T
}

// NewList returns a list holding items.
func NewList[T any](items ...T) *List[T] {
	return &List[T]{Items: items}
}

func (l *List[T]) Get() any { return l.Items }

func (l *List[T]) Set(v any) error {
	converted, err := ConvertTo(v, reflect.TypeOf((*[]T)(nil)).Elem())
	if err != nil {
		return err
	}
	l.Items = converted.([]T)
	return nil
}

func (l *List[T]) Type() Type {
	return typeOfReflect(reflect.TypeOf((*[]T)(nil)).Elem())
}

// Clone copies the sequence element-wise. Elements that are Values are cloned.
func (l *List[T]) Clone() Value {
	if l.Items == nil {
		return &List[T]{}
	}
	items := make([]T, len(l.Items))
	for i, item := range l.Items {
		if inner, ok := any(item).(Value); ok {
			if cloned, ok := inner.Clone().(T); ok {
				items[i] = cloned
				continue
			}
		}
		items[i] = item
	}
	return &List[T]{Items: items}
}

// ListFactory creates an empty list value for one element type.
type ListFactory func() Value

var scalarLists = map[Kind]ListFactory{
	KindInt:     func() Value { return NewList[int64]() },
	KindFloat:   func() Value { return NewList[float64]() },
	KindBool:    func() Value { return NewList[bool]() },
	KindText:    func() Value { return NewList[string]() },
	KindDecimal: func() Value { return NewList[decimal.Decimal]() },
}

// ListOf returns the factory for a scalar element kind.
func ListOf(kind Kind) (ListFactory, error) {
	factory, ok := scalarLists[kind]
	if !ok {
		return nil, &TypeMismatchError{Expected: "scalar list element", Actual: kind.String()}
	}
	return factory, nil
}

// AnyList is a list whose element type is chosen at runtime. It exposes the
// inner typed list through RefValue and RefType.
type AnyList struct {
	inner Value
}

// SetList selects the element type by installing a fresh list from factory.
func (l *AnyList) SetList(factory ListFactory) error {
	if factory == nil {
		return fmt.Errorf("list factory must not be nil")
	}
	inner := factory()
	if inner.Type().Kind != KindList {
		return &TypeMismatchError{Expected: "list", Actual: inner.Type().Name()}
	}
	l.inner = inner
	return nil
}

// Defined reports whether an element type was selected.
func (l *AnyList) Defined() bool { return l.inner != nil }

func (l *AnyList) Get() any {
	if l.inner == nil {
		return nil
	}
	return l.inner.Get()
}

func (l *AnyList) Set(v any) error {
	if l.inner == nil {
		return fmt.Errorf("list element type not selected")
	}
	return l.inner.Set(v)
}

func (l *AnyList) RefValue() any { return l.Get() }

func (l *AnyList) SetRefValue(v any) error { return l.Set(v) }

func (l *AnyList) RefType() Type {
	if l.inner == nil {
		return Type{Kind: KindList, Go: reflect.TypeOf(l)}
	}
	return l.inner.Type()
}

func (l *AnyList) Type() Type { return l.RefType() }

func (l *AnyList) Clone() Value {
	if l.inner == nil {
		return &AnyList{}
	}
	return &AnyList{inner: l.inner.Clone()}
}
