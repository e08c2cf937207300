package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type vector struct {
	X, Y float64
	Tag  string `vf:"readonly"`
	note string
}

func (v vector) Len2() float64 { return v.X*v.X + v.Y*v.Y }

func (v *vector) Scale(f float64) { v.X *= f; v.Y *= f }

func (v vector) Div(f float64) (vector, error) {
	if f == 0 {
		return v, errors.New("division by zero")
	}
	return vector{X: v.X / f, Y: v.Y / f}, nil
}

type bag struct {
	Items []string
}

func (b *bag) Add(items ...string) int {
	b.Items = append(b.Items, items...)
	return len(b.Items)
}

func TestRegisterReflectsFields(t *testing.T) {
	r := New()
	info, err := Register[vector](r, "Vector")
	require.NoError(t, err)
	require.True(t, info.ValueType())
	require.Equal(t, []string{"Tag", "X", "Y"}, info.Properties())

	tag, ok := info.Property("Tag")
	require.True(t, ok)
	require.True(t, tag.ReadOnly)

	_, ok = info.Property("note")
	require.False(t, ok)
}

func TestPropertySetCopiesValueTypes(t *testing.T) {
	r := New()
	info := MustRegister[vector](r, "Vector")
	x, _ := info.Property("X")

	orig := vector{X: 1, Y: 2}
	updated, err := x.Set(orig, 5)
	require.NoError(t, err)
	require.Equal(t, vector{X: 5, Y: 2}, updated)
	require.Equal(t, float64(1), orig.X)

	got, err := x.Get(updated)
	require.NoError(t, err)
	require.Equal(t, float64(5), got)
}

func TestPropertySetMutatesPointers(t *testing.T) {
	r := New()
	info := MustRegister[*bag](r, "Bag")
	require.False(t, info.ValueType())
	items, _ := info.Property("Items")

	b := &bag{}
	updated, err := items.Set(b, []any{"a"})
	require.NoError(t, err)
	require.Same(t, b, updated)
	require.Equal(t, []string{"a"}, b.Items)
}

func TestReadOnlyProperty(t *testing.T) {
	r := New()
	info := MustRegister[vector](r, "Vector")
	tag, _ := info.Property("Tag")

	orig := vector{Tag: "a"}
	updated, err := tag.Set(orig, "b")
	require.ErrorIs(t, err, ErrReadOnly)
	require.Equal(t, orig, updated)
}

func TestReflectedMethods(t *testing.T) {
	r := New()
	info := MustRegister[vector](r, "Vector")

	m, ok := info.Method("Len2", 0)
	require.True(t, ok)
	out, _, err := m.Call(vector{X: 3, Y: 4}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, float64(25), out)

	scale, ok := info.Method("Scale", 1)
	require.True(t, ok)
	_, updated, err := scale.Call(vector{X: 1, Y: 2}, nil, []any{int64(2)})
	require.NoError(t, err)
	require.Equal(t, vector{X: 2, Y: 4}, updated)

	div, _ := info.Method("Div", 1)
	_, _, err = div.Call(vector{X: 1}, nil, []any{0})
	require.EqualError(t, err, "division by zero")

	_, _, err = m.Call(vector{}, nil, []any{1})
	require.Error(t, err)

	_, ok = info.Method("Missing", 0)
	require.False(t, ok)
}

func TestVariadicMethod(t *testing.T) {
	r := New()
	info := MustRegister[*bag](r, "Bag")
	add, ok := info.Method("Add", 3)
	require.True(t, ok)
	require.Equal(t, Variadic, add.Arity)

	b := &bag{}
	out, _, err := add.Call(b, nil, []any{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, 3, out)
}

func TestOptions(t *testing.T) {
	r := New()
	info, err := Register[vector](r, "Vector",
		WithConstructor(2, func(args []any) (vector, error) {
			x, err := Arg[float64](args, 0)
			if err != nil {
				return vector{}, err
			}
			y, err := Arg[float64](args, 1)
			if err != nil {
				return vector{}, err
			}
			return vector{X: x, Y: y}, nil
		}),
		WithStatic[vector]("Zero", 0, func([]any) (any, error) { return vector{}, nil }),
		WithProperty("Sum", func(v vector) (any, error) { return v.X + v.Y, nil }, nil),
		WithIndexer(func(v vector, index []any) (any, error) {
			i, err := Arg[int](index, 0)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				return v.X, nil
			}
			return v.Y, nil
		}, func(v vector, index []any, val any) (vector, error) {
			f, err := Arg[float64]([]any{val}, 0)
			if err != nil {
				return v, err
			}
			if i, _ := Arg[int](index, 0); i == 0 {
				v.X = f
			} else {
				v.Y = f
			}
			return v, nil
		}),
	)
	require.NoError(t, err)

	ctor, ok := info.Constructor(2)
	require.True(t, ok)
	out, _, err := ctor.Call(nil, nil, []any{1, 2.5})
	require.NoError(t, err)
	require.Equal(t, vector{X: 1, Y: 2.5}, out)

	none, ok := info.Constructor(0)
	require.True(t, ok)
	require.Nil(t, none)

	zero, ok := info.Static("Zero", 0)
	require.True(t, ok)
	out, _, err = zero.Call(nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, vector{}, out)

	sum, ok := info.Property("Sum")
	require.True(t, ok)
	require.True(t, sum.ReadOnly)
	got, err := sum.Get(vector{X: 1, Y: 2})
	require.NoError(t, err)
	require.Equal(t, float64(3), got)

	ix := info.Indexer()
	require.NotNil(t, ix)
	updated, err := ix.Set(vector{}, []any{1}, 4)
	require.NoError(t, err)
	require.Equal(t, vector{Y: 4}, updated)
}

func TestGenericMethod(t *testing.T) {
	r := New()
	MustRegister[vector](r, "Vector")
	info := MustRegister[*bag](r, "Bag", WithGenericMethod("CountOf", 1, 0,
		func(b *bag, types []*TypeInfo, _ []any) (any, error) {
			return types[0].Name + ":" + b.Items[0], nil
		}))
	vec, _ := r.Lookup("Vector")

	m, ok := info.Method("CountOf", 0)
	require.True(t, ok)
	out, _, err := m.Call(&bag{Items: []string{"x"}}, []*TypeInfo{vec}, nil)
	require.NoError(t, err)
	require.Equal(t, "Vector:x", out)

	_, _, err = m.Call(&bag{}, nil, nil)
	require.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	r := New()
	MustRegister[vector](r, "Vector")

	_, err := Register[vector](r, "Vector")
	require.Error(t, err)
	_, err = Register[vector](r, "Other")
	require.Error(t, err)
	_, err = Register[bag](r, "1bag")
	require.Error(t, err)

	info, ok := r.TypeOf(vector{})
	require.True(t, ok)
	require.Equal(t, "Vector", info.Name)
	require.False(t, r.Allowed(nil))
	require.Equal(t, []string{"Vector"}, r.Names())

	ctor, ok := info.Constructor(0)
	require.True(t, ok)
	out, _, err := ctor.Call(nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, vector{}, out)
}

type narrow struct {
	B int8
	U uint8
}

func TestPropertySetRejectsOverflow(t *testing.T) {
	r := New()
	info := MustRegister[narrow](r, "Narrow")
	b, _ := info.Property("B")
	u, _ := info.Property("U")

	orig := narrow{B: 1, U: 1}
	_, err := b.Set(orig, 300)
	require.Error(t, err)
	_, err = u.Set(orig, -1)
	require.Error(t, err)

	updated, err := b.Set(orig, -128)
	require.NoError(t, err)
	require.Equal(t, narrow{B: -128, U: 1}, updated)
}
