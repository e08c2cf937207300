package value

import (
	"reflect"
)

type cell struct {
	payload any
}

// Reference holds its payload in a shared cell. Several references may point
// at the same cell (see Share), which is how global variables and assets are
// referenced by identity instead of by copy.
//
// When typ is set, assignments are converted to that type.
type Reference struct {
	typ  reflect.Type
	cell *cell
}

// NewReference returns a reference holding payload. The declared type is the
// payload's dynamic type.
func NewReference(payload any) *Reference {
	var typ reflect.Type
	if payload != nil {
		typ = reflect.TypeOf(payload)
	}
	return &Reference{typ: typ, cell: &cell{payload: payload}}
}

// NewTypedReference returns a reference restricted to typ, initialised with
// the zero value of typ.
func NewTypedReference(typ reflect.Type) *Reference {
	return &Reference{typ: typ, cell: &cell{payload: reflect.Zero(typ).Interface()}}
}

// NewIntRef returns an integer reference.
func NewIntRef(v int64) *Reference { return NewReference(v) }

// NewFloatRef returns a float reference.
func NewFloatRef(v float64) *Reference { return NewReference(v) }

// NewBoolRef returns a boolean reference.
func NewBoolRef(v bool) *Reference { return NewReference(v) }

// NewTextRef returns a text reference.
func NewTextRef(v string) *Reference { return NewReference(v) }

func (r *Reference) Get() any { return r.cell.payload }

func (r *Reference) Set(v any) error {
	if r.typ == nil {
		r.cell.payload = v
		return nil
	}
	converted, err := ConvertTo(v, r.typ)
	if err != nil {
		return err
	}
	r.cell.payload = converted
	return nil
}

func (r *Reference) RefValue() any { return r.cell.payload }

func (r *Reference) SetRefValue(v any) error { return r.Set(v) }

func (r *Reference) RefType() Type {
	if r.typ != nil {
		return typeOfReflect(r.typ)
	}
	return TypeOf(r.cell.payload)
}

func (r *Reference) Type() Type { return r.RefType() }

// Clone copies the payload into a new cell. Assets keep their identity.
func (r *Reference) Clone() Value {
	return &Reference{typ: r.typ, cell: &cell{payload: deepCopyAny(r.cell.payload)}}
}

// Share returns a reference bound to the same cell.
func (r *Reference) Share() *Reference {
	return &Reference{typ: r.typ, cell: r.cell}
}

// SameCell reports whether both references point at the same payload cell.
func (r *Reference) SameCell(other *Reference) bool {
	return other != nil && r.cell == other.cell
}
