package value

import (
	"fmt"
	"math"
	"reflect"

	"github.com/shopspring/decimal"
)

// TypeMismatchError reports a payload or type that does not satisfy the
// expected capability.
type TypeMismatchError struct {
	Expected string
	Actual   string
	Detail   string
}

func (e *TypeMismatchError) Error() string {
	msg := fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Actual)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func mismatch(expected string, v any) error {
	return &TypeMismatchError{Expected: expected, Actual: TypeOf(v).Name()}
}

// Convert coerces a raw payload into the canonical representation of kind.
//
// Integers are int64, floats float64, decimals decimal.Decimal. Bool and number
// payloads convert into each other, text only accepts strings.
func Convert(v any, kind Kind) (any, error) {
	if inner, ok := v.(Value); ok {
		v = Payload(inner)
	}
	switch kind {
	case KindInt:
		return toInt(v)
	case KindFloat:
		return toFloat(v)
	case KindBool:
		return toBool(v)
	case KindText:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		default:
			return nil, mismatch("text", v)
		}
	case KindDecimal:
		return toDecimal(v)
	default:
		return v, nil
	}
}

// AsInt converts a payload to int64.
func AsInt(v any) (int64, error) {
	out, err := Convert(v, KindInt)
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// AsBool converts a payload to bool.
func AsBool(v any) (bool, error) {
	out, err := Convert(v, KindBool)
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// ConvertTo coerces v into a payload assignable to t.
func ConvertTo(v any, t reflect.Type) (any, error) {
	if inner, ok := v.(Value); ok && !t.Implements(valueType) {
		v = Payload(inner)
	}
	if v == nil {
		return reflect.Zero(t).Interface(), nil
	}
	src := reflect.TypeOf(v)
	if src.AssignableTo(t) {
		return v, nil
	}
	if t == decimalType {
		return toDecimal(v)
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if reflect.Zero(t).OverflowInt(n) {
			return nil, overflow(t, src, n)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u, err := toUint(v)
		if err != nil {
			return nil, err
		}
		if reflect.Zero(t).OverflowUint(u) {
			return nil, overflow(t, src, u)
		}
		return reflect.ValueOf(u).Convert(t).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if reflect.Zero(t).OverflowFloat(f) {
			return nil, overflow(t, src, f)
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	case reflect.Bool:
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(b).Convert(t).Interface(), nil
	case reflect.String:
		if src.Kind() == reflect.String {
			return reflect.ValueOf(v).Convert(t).Interface(), nil
		}
	case reflect.Slice:
		if src.Kind() == reflect.Slice || src.Kind() == reflect.Array {
			return convertSlice(reflect.ValueOf(v), t)
		}
	case reflect.Interface:
		if src.Implements(t) {
			return v, nil
		}
	}
	return nil, &TypeMismatchError{Expected: t.String(), Actual: src.String()}
}

func overflow(t, src reflect.Type, v any) error {
	return &TypeMismatchError{Expected: t.String(), Actual: src.String(), Detail: fmt.Sprintf("%v overflows %s", v, t)}
}

// toUint is toInt for unsigned targets: negative values are rejected and
// uint64 payloads above math.MaxInt64 pass through.
func toUint(value any) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	}
	n, err := toInt(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &TypeMismatchError{Expected: "unsigned", Actual: TypeOf(value).Name(), Detail: fmt.Sprintf("%d is negative", n)}
	}
	return uint64(n), nil
}

func convertSlice(src reflect.Value, t reflect.Type) (any, error) {
	out := reflect.MakeSlice(t, src.Len(), src.Len())
	for i := 0; i < src.Len(); i++ {
		elem, err := ConvertTo(src.Index(i).Interface(), t.Elem())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(elem))
	}
	return out.Interface(), nil
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float32:
		return toInt(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, &TypeMismatchError{Expected: "int", Actual: "float", Detail: fmt.Sprintf("%v is not integral", v)}
		}
		return int64(v), nil
	case decimal.Decimal:
		if !v.IsInteger() {
			return 0, &TypeMismatchError{Expected: "int", Actual: "decimal", Detail: v.String() + " is not integral"}
		}
		return v.IntPart(), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, mismatch("int", value)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("invalid float value %v", v)
		}
		return v, nil
	case float32:
		return float64(v), nil
	case decimal.Decimal:
		return v.InexactFloat64(), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		n, err := toInt(value)
		if err != nil {
			return 0, mismatch("float", value)
		}
		return float64(n), nil
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case float32:
		return v != 0, nil
	case decimal.Decimal:
		return !v.IsZero(), nil
	default:
		n, err := toInt(value)
		if err != nil {
			return false, mismatch("bool", value)
		}
		return n != 0, nil
	}
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, &TypeMismatchError{Expected: "decimal", Actual: "text", Detail: err.Error()}
		}
		return d, nil
	default:
		n, err := toInt(value)
		if err != nil {
			return decimal.Decimal{}, mismatch("decimal", value)
		}
		return decimal.NewFromInt(n), nil
	}
}
