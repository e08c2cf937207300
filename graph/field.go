package graph

import (
	"fmt"
	"reflect"

	"github.com/timzifer/vfunc/formula"
	"github.com/timzifer/vfunc/value"
)

// Field binds a name to a Value. Fields are the inputs, outputs and globals
// visible to formulas.
type Field struct {
	name  string
	value value.Value
	// Renamable allows editors to rename the field.
	Renamable bool
}

// NewField creates a field holding a fresh value of typ. typ must implement
// value.Value; otherwise the returned field is unset and the error is a
// TypeMismatchError.
func NewField(name string, typ reflect.Type) (*Field, error) {
	f := &Field{name: name}
	if typ == nil || !typ.Implements(value.ValueInterface()) {
		actual := "nil"
		if typ != nil {
			actual = typ.String()
		}
		return f, &value.TypeMismatchError{Expected: "value implementation", Actual: actual, Detail: "field " + name}
	}
	var v reflect.Value
	if typ.Kind() == reflect.Pointer {
		v = reflect.New(typ.Elem())
	} else {
		v = reflect.New(typ).Elem()
	}
	f.value = v.Interface().(value.Value)
	return f, nil
}

// NewFieldValue creates a field bound to v.
func NewFieldValue(name string, v value.Value) *Field {
	return &Field{name: name, value: v}
}

func (f *Field) Name() string { return f.name }

func (f *Field) Value() value.Value { return f.value }

// Set replaces the bound value.
func (f *Field) Set(v value.Value) { f.value = v }

// Clone deep-copies the field and its value.
func (f *Field) Clone() *Field {
	out := &Field{name: f.name, Renamable: f.Renamable}
	if f.value != nil {
		out.value = f.value.Clone()
	}
	return out
}

func (f *Field) String() string {
	if f.value == nil {
		return f.name + ": <unset>"
	}
	return fmt.Sprintf("%s: %s = %v", f.name, value.EffectiveType(f.value).Name(), value.Payload(f.value))
}

// Fields is an ordered set of uniquely named fields.
type Fields []*Field

// Get returns the field named name.
func (fs Fields) Get(name string) (*Field, bool) {
	for _, f := range fs {
		if f.name == name {
			return f, true
		}
	}
	return nil, false
}

// Variables exposes the fields as formula variables.
func (fs Fields) Variables() []value.Variable {
	out := make([]value.Variable, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

// Clone deep-copies every field.
func (fs Fields) Clone() Fields {
	if fs == nil {
		return nil
	}
	out := make(Fields, len(fs))
	for i, f := range fs {
		out[i] = f.Clone()
	}
	return out
}

// Rename renames the field oldName to newName and rewrites the formula text
// of every field in the set. Nothing is modified when newName is invalid,
// taken, or the field cannot be renamed.
func (fs Fields) Rename(oldName, newName string) error {
	if !formula.ValidIdentifier(newName) {
		return &formula.InvalidIdentifierError{Name: newName}
	}
	target, ok := fs.Get(oldName)
	if !ok {
		return &formula.ResolutionError{Name: oldName}
	}
	if !target.Renamable {
		return fmt.Errorf("field %s cannot be renamed", oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, taken := fs.Get(newName); taken {
		return fmt.Errorf("field %s already exists", newName)
	}
	rewritten := make(map[*Field]string)
	for _, f := range fs {
		text, ok := value.FormulaText(f.value)
		if !ok {
			continue
		}
		updated, err := formula.RenameIdentifier(text, oldName, newName)
		if err != nil {
			return err
		}
		if updated != text {
			rewritten[f] = updated
		}
	}
	for f, text := range rewritten {
		value.SetFormulaText(f.value, text)
	}
	target.name = newName
	return nil
}
