package value

import (
	"reflect"

	"github.com/mitchellh/copystructure"
	"github.com/shopspring/decimal"
)

// Plain holds a payload of a statically declared type.
type Plain[T any] struct {
	V T
}

// Int, Float, Bool, Text and Decimal are the plain scalar values.
type (
	Int     = Plain[int64]
	Float   = Plain[float64]
	Bool    = Plain[bool]
	Text    = Plain[string]
	Decimal = Plain[decimal.Decimal]
)

// NewPlain returns a plain value holding v.
func NewPlain[T any](v T) *Plain[T] {
	return &Plain[T]{V: v}
}

func NewInt(v int64) *Int { return &Int{V: v} }
func NewFloat(v float64) *Float { return &Float{V: v} }
func NewBool(v bool) *Bool { return &Bool{V: v} }
func NewText(v string) *Text { return &Text{V: v} }
func NewDecimal(v decimal.Decimal) *Decimal { return &Decimal{V: v} }

func (p *Plain[T]) Get() any { return p.V }

func (p *Plain[T]) Set(v any) error {
	converted, err := ConvertTo(v, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return err
	}
	p.V = converted.(T)
	return nil
}

func (p *Plain[T]) Type() Type {
	return typeOfReflect(reflect.TypeOf((*T)(nil)).Elem())
}

func (p *Plain[T]) Clone() Value {
	return &Plain[T]{V: deepCopy(p.V)}
}

func deepCopy[T any](v T) T {
	switch any(v).(type) {
	case nil, int64, float64, bool, string, decimal.Decimal:
		return v
	}
	copied, err := copystructure.Copy(v)
	if err != nil {
		return v
	}
	out, ok := copied.(T)
	if !ok {
		return v
	}
	return out
}

func deepCopyAny(v any) any {
	if v == nil {
		return nil
	}
	if inner, ok := v.(Value); ok {
		return inner.Clone()
	}
	if _, ok := v.(Asset); ok {
		return v
	}
	return deepCopy(v)
}
