package value

import (
	"reflect"

	"github.com/shopspring/decimal"
)

// Kind tags the representation of a payload stored inside a Value.
type Kind uint8

const (
	// KindNone marks an unset payload.
	KindNone Kind = iota
	// KindInt represents signed integers (stored as int64).
	KindInt
	// KindFloat represents floating point numbers (stored as float64).
	KindFloat
	// KindBool represents booleans.
	KindBool
	// KindText represents UTF-8 strings.
	KindText
	// KindDecimal represents arbitrary precision decimals.
	KindDecimal
	// KindObject represents an opaque host object handle.
	KindObject
	// KindList represents an ordered sequence of one element type.
	KindList
	// KindAsset represents an external asset referenced by identity.
	KindAsset
	// KindFunction represents a user-defined formula function.
	KindFunction
	// KindFormula represents unevaluated formula text.
	KindFormula
)

var kindNames = [...]string{
	KindNone:     "none",
	KindInt:      "int",
	KindFloat:    "float",
	KindBool:     "bool",
	KindText:     "text",
	KindDecimal:  "decimal",
	KindObject:   "object",
	KindList:     "list",
	KindAsset:    "asset",
	KindFunction: "function",
	KindFormula:  "formula",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Type describes the runtime type of a payload.
type Type struct {
	Kind Kind
	// Go is the concrete Go type of the payload, nil for KindNone.
	Go reflect.Type
}

// Name returns a human readable type name.
func (t Type) Name() string {
	if t.Go == nil {
		return t.Kind.String()
	}
	if name := t.Go.Name(); name != "" {
		return name
	}
	return t.Go.String()
}

// Elem returns the element type of a list type.
func (t Type) Elem() Type {
	if t.Kind != KindList || t.Go == nil {
		return Type{}
	}
	return typeOfReflect(t.Go.Elem())
}

// Value is the capability shared by every storable, typed, cloneable datum.
type Value interface {
	Get() any
	Set(v any) error
	Type() Type
	Clone() Value
}

// RefValuer is implemented by values whose committed payload lives outside the
// Value itself and must be read back after a mutation.
type RefValuer interface {
	RefValue() any
	SetRefValue(v any) error
}

// RefTyper is implemented by thin wrappers that expose another type as their
// effective type for member lookup.
type RefTyper interface {
	RefType() Type
}

// Asset is an external object referenced by identity rather than by copy.
type Asset interface {
	AssetID() string
}

// Variable binds a name to a Value.
type Variable interface {
	Name() string
	Value() Value
}

// Evaluator evaluates formula text for an owner against a set of variables
// and returns one raw result per statement.
type Evaluator interface {
	Evaluate(owner, text string, vars []Variable) ([]any, error)
}

type binding struct {
	name string
	val  Value
}

func (b binding) Name() string { return b.name }
func (b binding) Value() Value { return b.val }

// Bind returns a Variable for hosts that do not keep their own field types.
func Bind(name string, v Value) Variable {
	return binding{name: name, val: v}
}

// Payload unwraps v, following RefValuer indirection.
func Payload(v Value) any {
	if v == nil {
		return nil
	}
	if ref, ok := v.(RefValuer); ok {
		return ref.RefValue()
	}
	return v.Get()
}

// EffectiveType returns the type used for member lookup on v.
func EffectiveType(v Value) Type {
	if v == nil {
		return Type{}
	}
	if ref, ok := v.(RefTyper); ok {
		return ref.RefType()
	}
	return v.Type()
}

var (
	decimalType  = reflect.TypeOf(decimal.Decimal{})
	assetType    = reflect.TypeOf((*Asset)(nil)).Elem()
	functionType = reflect.TypeOf((*CustomFunction)(nil))
	valueType    = reflect.TypeOf((*Value)(nil)).Elem()
)

// ValueInterface returns the reflect type of the Value interface.
func ValueInterface() reflect.Type { return valueType }

// TypeOf returns the runtime type of a raw payload.
func TypeOf(v any) Type {
	if v == nil {
		return Type{}
	}
	if inner, ok := v.(Value); ok {
		return inner.Type()
	}
	return typeOfReflect(reflect.TypeOf(v))
}

func typeOfReflect(t reflect.Type) Type {
	if t == nil {
		return Type{}
	}
	switch {
	case t == decimalType:
		return Type{Kind: KindDecimal, Go: t}
	case t == functionType:
		return Type{Kind: KindFunction, Go: t}
	case t.Kind() != reflect.Interface && t.Implements(assetType):
		return Type{Kind: KindAsset, Go: t}
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Type{Kind: KindInt, Go: t}
	case reflect.Float32, reflect.Float64:
		return Type{Kind: KindFloat, Go: t}
	case reflect.Bool:
		return Type{Kind: KindBool, Go: t}
	case reflect.String:
		return Type{Kind: KindText, Go: t}
	case reflect.Slice, reflect.Array:
		return Type{Kind: KindList, Go: t}
	default:
		return Type{Kind: KindObject, Go: t}
	}
}
