package processor

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/timzifer/vfunc/registry"
)

// Vector is a two-dimensional value type exposed to formulas.
type Vector struct {
	X float64
	Y float64
}

// Len returns the Euclidean length.
func (v Vector) Len() float64 { return math.Hypot(v.X, v.Y) }

// Add returns the component-wise sum.
func (v Vector) Add(o Vector) Vector { return Vector{X: v.X + o.X, Y: v.Y + o.Y} }

// Scale multiplies both components in place.
func (v *Vector) Scale(f float64) { v.X *= f; v.Y *= f }

// Math groups numeric helpers called as statics, e.g. Math.Max(a, b).
type Math struct{}

func floats(args []any) ([]float64, error) {
	out := make([]float64, len(args))
	for i := range args {
		f, err := registry.Arg[float64](args, i)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func fold(pick func(a, b float64) float64) func([]any) (any, error) {
	return func(args []any) (any, error) {
		values, err := floats(args)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("at least one argument required")
		}
		acc := values[0]
		for _, v := range values[1:] {
			acc = pick(acc, v)
		}
		return acc, nil
	}
}

func unary(fn func(float64) float64) func([]any) (any, error) {
	return func(args []any) (any, error) {
		x, err := registry.Arg[float64](args, 0)
		if err != nil {
			return nil, err
		}
		return fn(x), nil
	}
}

// RegisterDefaultTypes allow-lists Decimal, Vector and the Math statics.
func RegisterDefaultTypes(reg *registry.Registry) error {
	if _, err := registry.Register[decimal.Decimal](reg, "Decimal",
		registry.WithConstructor[decimal.Decimal](1, func(args []any) (decimal.Decimal, error) {
			return registry.Arg[decimal.Decimal](args, 0)
		}),
	); err != nil {
		return err
	}

	if _, err := registry.Register[Vector](reg, "Vector",
		registry.WithConstructor[Vector](2, func(args []any) (Vector, error) {
			values, err := floats(args)
			if err != nil {
				return Vector{}, err
			}
			return Vector{X: values[0], Y: values[1]}, nil
		}),
	); err != nil {
		return err
	}

	_, err := registry.Register[Math](reg, "Math",
		registry.WithStatic[Math]("Max", registry.Variadic, fold(math.Max)),
		registry.WithStatic[Math]("Min", registry.Variadic, fold(math.Min)),
		registry.WithStatic[Math]("Abs", 1, unary(math.Abs)),
		registry.WithStatic[Math]("Sqrt", 1, unary(math.Sqrt)),
		registry.WithStatic[Math]("Round", 1, unary(math.Round)),
		registry.WithStatic[Math]("Pow", 2, func(args []any) (any, error) {
			values, err := floats(args)
			if err != nil {
				return nil, err
			}
			return math.Pow(values[0], values[1]), nil
		}),
		registry.WithStatic[Math]("Clamp", 3, func(args []any) (any, error) {
			values, err := floats(args)
			if err != nil {
				return nil, err
			}
			return math.Min(math.Max(values[0], values[1]), values[2]), nil
		}),
	)
	return err
}
