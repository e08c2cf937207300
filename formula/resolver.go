package formula

import (
	"fmt"
	"strings"

	"github.com/timzifer/vfunc/value"
)

// Shadowing selects which binding wins when several visible variables share
// a name. Variable lists are ordered outer to inner: ambient variables,
// then node inputs, then branch or iteration globals.
type Shadowing uint8

const (
	// OuterWins resolves to the first binding with the name.
	OuterWins Shadowing = iota
	// InnerWins resolves to the last binding with the name.
	InnerWins
)

func (s Shadowing) String() string {
	if s == InnerWins {
		return "inner"
	}
	return "outer"
}

// ParseShadowing parses "outer" or "inner". The empty string selects OuterWins.
func ParseShadowing(s string) (Shadowing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "outer":
		return OuterWins, nil
	case "inner":
		return InnerWins, nil
	default:
		return OuterWins, fmt.Errorf("unknown shadowing policy %q", s)
	}
}

// Resolve finds the variable named name under policy.
func Resolve(vars []value.Variable, name string, policy Shadowing) (value.Variable, bool) {
	if policy == InnerWins {
		for i := len(vars) - 1; i >= 0; i-- {
			if vars[i] != nil && vars[i].Name() == name {
				return vars[i], true
			}
		}
		return nil, false
	}
	for _, v := range vars {
		if v != nil && v.Name() == name {
			return v, true
		}
	}
	return nil, false
}

// Concat joins scopes outer to inner into a fresh slice.
func Concat(scopes ...[]value.Variable) []value.Variable {
	n := 0
	for _, scope := range scopes {
		n += len(scope)
	}
	out := make([]value.Variable, 0, n)
	for _, scope := range scopes {
		out = append(out, scope...)
	}
	return out
}
