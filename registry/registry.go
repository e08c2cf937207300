// Package registry holds the allow-list of host types formulas may construct,
// read and call. Member tables are built once per type at registration time.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// TypeInfo is the member table of one allow-listed type.
type TypeInfo struct {
	Name string
	Type reflect.Type

	properties   map[string]*Property
	methods      map[string][]*Method
	statics      map[string][]*Method
	constructors []*Method
	indexer      *Indexer
}

// ValueType reports whether instances are copied on assignment. Members of
// value types are written back through their owner after mutation.
func (t *TypeInfo) ValueType() bool {
	switch t.Type.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return false
	default:
		return true
	}
}

// Property returns the named property.
func (t *TypeInfo) Property(name string) (*Property, bool) {
	p, ok := t.properties[name]
	return p, ok
}

// Method returns the named method accepting argc arguments. The boolean
// result reports whether any method of that name exists.
func (t *TypeInfo) Method(name string, argc int) (*Method, bool) {
	return pick(t.methods[name], argc)
}

// Static returns the named static function accepting argc arguments.
func (t *TypeInfo) Static(name string, argc int) (*Method, bool) {
	return pick(t.statics[name], argc)
}

// Constructor returns the constructor accepting argc arguments.
func (t *TypeInfo) Constructor(argc int) (*Method, bool) {
	return pick(t.constructors, argc)
}

// Indexer returns the registered indexer, nil if the type has none.
func (t *TypeInfo) Indexer() *Indexer { return t.indexer }

// HasMember reports whether name is a property, method or static of the type.
func (t *TypeInfo) HasMember(name string) bool {
	if _, ok := t.properties[name]; ok {
		return true
	}
	return len(t.methods[name]) > 0 || len(t.statics[name]) > 0
}

// Properties returns the property names in sorted order.
func (t *TypeInfo) Properties() []string {
	return sortedKeys(t.properties)
}

// Methods returns the method names in sorted order.
func (t *TypeInfo) Methods() []string {
	return sortedKeys(t.methods)
}

// pick prefers an exact arity match over a variadic overload. A nil method
// with found=true means the name exists but no overload takes argc arguments.
func pick(overloads []*Method, argc int) (*Method, bool) {
	if len(overloads) == 0 {
		return nil, false
	}
	var variadic *Method
	for _, m := range overloads {
		if m.Arity == argc {
			return m, true
		}
		if m.Arity == Variadic && variadic == nil {
			variadic = m
		}
	}
	return variadic, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry is the allow-list consulted when formulas name a type or resolve
// members on an instance.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*TypeInfo
	byType map[reflect.Type]*TypeInfo
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]*TypeInfo),
		byType: make(map[reflect.Type]*TypeInfo),
	}
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byName[name]
	return info, ok
}

// TypeOf returns the registration for the dynamic type of payload.
func (r *Registry) TypeOf(payload any) (*TypeInfo, bool) {
	if payload == nil {
		return nil, false
	}
	return r.ForType(reflect.TypeOf(payload))
}

// ForType returns the registration for t.
func (r *Registry) ForType(t reflect.Type) (*TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byType[t]
	return info, ok
}

// Allowed reports whether t may be used for reference values and constructors.
func (r *Registry) Allowed(t reflect.Type) bool {
	_, ok := r.ForType(t)
	return ok
}

// Names returns every registered type name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byName)
}

func (r *Registry) add(info *TypeInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[info.Name]; exists {
		return fmt.Errorf("type %s already registered", info.Name)
	}
	if prev, exists := r.byType[info.Type]; exists {
		return fmt.Errorf("go type %s already registered as %s", info.Type, prev.Name)
	}
	r.byName[info.Name] = info
	r.byType[info.Type] = info
	return nil
}

// Register allow-lists T under name. Exported struct fields become
// properties (tag `vf:"readonly"` disables assignment, `vf:"-"` hides the
// field) and exported methods become callable members. Options add computed
// properties, constructors, statics, generic methods and an indexer.
func Register[T any](r *Registry, name string, opts ...Option[T]) (*TypeInfo, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid type name %q", name)
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() == reflect.Interface {
		return nil, fmt.Errorf("type %s: interfaces cannot be registered", name)
	}
	info := &TypeInfo{
		Name:       name,
		Type:       typ,
		properties: make(map[string]*Property),
		methods:    make(map[string][]*Method),
		statics:    make(map[string][]*Method),
	}
	reflectMembers(info)
	b := &builder[T]{info: info}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("type %s: %w", name, err)
		}
	}
	if len(info.constructors) == 0 {
		info.constructors = []*Method{zeroConstructor(typ)}
	}
	if err := r.add(info); err != nil {
		return nil, err
	}
	return info, nil
}

// MustRegister is Register for package initialisation; it panics on error.
func MustRegister[T any](r *Registry, name string, opts ...Option[T]) *TypeInfo {
	info, err := Register[T](r, name, opts...)
	if err != nil {
		panic(err)
	}
	return info
}

func reflectMembers(info *TypeInfo) {
	typ := info.Type
	structType := typ
	if structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}
	if structType.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(structType) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			tag := f.Tag.Get("vf")
			if tag == "-" {
				continue
			}
			info.properties[f.Name] = fieldProperty(f, tag == "readonly")
		}
	}

	methodSet := typ
	if typ.Kind() != reflect.Pointer {
		methodSet = reflect.PointerTo(typ)
	}
	for i := 0; i < methodSet.NumMethod(); i++ {
		m := methodSet.Method(i)
		if !m.IsExported() {
			continue
		}
		method, ok := reflectMethod(m, typ)
		if !ok {
			continue
		}
		info.methods[m.Name] = append(info.methods[m.Name], method)
	}
}

func zeroConstructor(typ reflect.Type) *Method {
	return &Method{
		Name:  "new",
		Arity: 0,
		call: func(_ any, _ []*TypeInfo, _ []any) (any, any, error) {
			if typ.Kind() == reflect.Pointer {
				return reflect.New(typ.Elem()).Interface(), nil, nil
			}
			return reflect.Zero(typ).Interface(), nil, nil
		},
	}
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
