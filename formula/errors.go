package formula

import (
	"errors"
	"fmt"

	"github.com/timzifer/vfunc/value"
)

// ParseError reports malformed formula text.
type ParseError struct {
	Text string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q at %d: %s", e.Text, e.Pos, e.Msg)
}

// ResolutionError reports an identifier or member that does not resolve.
// Type is empty when a variable lookup failed.
type ResolutionError struct {
	Name   string
	Type   string
	Detail string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%s not found", e.Name)
	if e.Type != "" {
		msg = fmt.Sprintf("member %s not found on %s", e.Name, e.Type)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// ReadOnlyError reports an assignment to a member without a setter.
type ReadOnlyError struct {
	Member string
	Type   string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("member %s of %s is read-only", e.Member, e.Type)
}

// TypeMismatchError reports a value that does not satisfy the expected type.
type TypeMismatchError = value.TypeMismatchError

// InvalidIdentifierError rejects a rename target.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q", e.Name)
}

// ErrCallDepth is returned when custom functions recurse too deeply.
var ErrCallDepth = errors.New("custom function call depth exceeded")
