package formula

import (
	"fmt"
	"reflect"

	"github.com/timzifer/vfunc/value"
)

// getIndex reads container[index[0]][index[1]]... from native slices, arrays,
// strings and maps.
func getIndex(container any, index []any) (any, error) {
	cur := reflect.ValueOf(container)
	for _, key := range index {
		cur = indirect(cur)
		if !cur.IsValid() {
			return nil, &ResolutionError{Name: "[]", Type: "none"}
		}
		switch cur.Kind() {
		case reflect.Slice, reflect.Array, reflect.String:
			i, err := position(key, cur.Len())
			if err != nil {
				return nil, err
			}
			cur = cur.Index(i)
		case reflect.Map:
			k, err := convertValue(key, cur.Type().Key())
			if err != nil {
				return nil, err
			}
			elem := cur.MapIndex(k)
			if !elem.IsValid() {
				return nil, &ResolutionError{Name: fmt.Sprint(key), Type: cur.Type().String(), Detail: "key not present"}
			}
			cur = elem
		default:
			return nil, &ResolutionError{Name: "[]", Type: cur.Type().String()}
		}
	}
	return cur.Interface(), nil
}

// setIndex writes v at index inside a copy of container. copied reports
// whether the container is a value type whose copy must be written back.
func setIndex(container any, index []any, v any) (updated any, copied bool, err error) {
	rv := reflect.ValueOf(container)
	if !rv.IsValid() {
		return container, false, &ResolutionError{Name: "[]", Type: "none"}
	}
	if len(index) == 0 {
		return container, false, fmt.Errorf("empty index")
	}
	root := reflect.New(rv.Type()).Elem()
	root.Set(rv)
	if err := setPath(root, index, v); err != nil {
		return container, false, err
	}
	return root.Interface(), rv.Kind() == reflect.Array, nil
}

func setPath(cur reflect.Value, index []any, v any) error {
	key, rest := index[0], index[1:]
	switch cur.Kind() {
	case reflect.Pointer:
		if cur.IsNil() {
			return &ResolutionError{Name: "[]", Type: cur.Type().String(), Detail: "nil"}
		}
		return setPath(cur.Elem(), index, v)
	case reflect.Interface:
		if cur.IsNil() {
			return &ResolutionError{Name: "[]", Type: "none"}
		}
		tmp := reflect.New(cur.Elem().Type()).Elem()
		tmp.Set(cur.Elem())
		if err := setPath(tmp, index, v); err != nil {
			return err
		}
		cur.Set(tmp)
		return nil
	case reflect.Slice, reflect.Array:
		i, err := position(key, cur.Len())
		if err != nil {
			return err
		}
		elem := cur.Index(i)
		if len(rest) == 0 {
			return assignReflect(elem, v)
		}
		return setPath(elem, rest, v)
	case reflect.Map:
		if cur.IsNil() {
			return &ResolutionError{Name: "[]", Type: cur.Type().String(), Detail: "nil map"}
		}
		k, err := convertValue(key, cur.Type().Key())
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			val, err := convertValue(v, cur.Type().Elem())
			if err != nil {
				return err
			}
			cur.SetMapIndex(k, val)
			return nil
		}
		elem := cur.MapIndex(k)
		if !elem.IsValid() {
			return &ResolutionError{Name: fmt.Sprint(key), Type: cur.Type().String(), Detail: "key not present"}
		}
		tmp := reflect.New(elem.Type()).Elem()
		tmp.Set(elem)
		if err := setPath(tmp, rest, v); err != nil {
			return err
		}
		cur.SetMapIndex(k, tmp)
		return nil
	case reflect.String:
		return &ReadOnlyError{Member: "[]", Type: "string"}
	default:
		return &ResolutionError{Name: "[]", Type: cur.Type().String()}
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func position(key any, length int) (int, error) {
	i, err := value.AsInt(key)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= int64(length) {
		return 0, fmt.Errorf("index %d out of range [0,%d)", i, length)
	}
	return int(i), nil
}

func convertValue(v any, t reflect.Type) (reflect.Value, error) {
	converted, err := value.ConvertTo(v, t)
	if err != nil {
		return reflect.Value{}, err
	}
	if converted == nil {
		return reflect.Zero(t), nil
	}
	return reflect.ValueOf(converted), nil
}

func assignReflect(dst reflect.Value, v any) error {
	val, err := convertValue(v, dst.Type())
	if err != nil {
		return err
	}
	dst.Set(val)
	return nil
}
