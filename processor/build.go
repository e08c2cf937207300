package processor

import (
	"fmt"
	"sort"

	"github.com/timzifer/vfunc/config"
	"github.com/timzifer/vfunc/graph"
	"github.com/timzifer/vfunc/registry"
	"github.com/timzifer/vfunc/value"
)

var scalarKinds = map[config.FieldType]value.Kind{
	config.FieldInt:     value.KindInt,
	config.FieldFloat:   value.KindFloat,
	config.FieldBool:    value.KindBool,
	config.FieldText:    value.KindText,
	config.FieldDecimal: value.KindDecimal,
}

// Build creates a graph for cfg inside session. Node kinds come from kinds
// and object types from the session engine's registry.
func Build(cfg *config.Config, session *graph.Session, kinds *graph.Kinds) (*graph.Graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	g := graph.New(session, kinds)
	if cfg.Engine.MaxDepth > 0 {
		g.MaxDepth = cfg.Engine.MaxDepth
	}
	b := &builder{graph: g, reg: g.Session().Engine().Registry()}
	if err := b.list(g.Root(), config.ListConfig{Globals: cfg.Globals, Functions: cfg.Functions}, "root"); err != nil {
		return nil, err
	}
	// Building is a sequence of structural edits; start from a clean cache.
	g.Session().ClearCache()
	return g, nil
}

type builder struct {
	graph *graph.Graph
	reg   *registry.Registry
}

func (b *builder) list(id graph.ListID, cfg config.ListConfig, path string) error {
	for _, fc := range cfg.Globals {
		f, err := NewField(b.reg, fc)
		if err != nil {
			return fmt.Errorf("%s: global %s: %w", path, fc.Name, err)
		}
		if err := b.graph.AddGlobal(id, f); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for i, fn := range cfg.Functions {
		if err := b.function(id, fn, fmt.Sprintf("%s/%d:%s", path, i, fn.Kind)); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) function(list graph.ListID, cfg config.FunctionConfig, path string) error {
	id, err := b.graph.AddNode(list, cfg.Kind, -1)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fn, _ := b.graph.Node(id)
	node := fn.Base()
	if cfg.Name != "" {
		if node.Attributes == nil {
			node.Attributes = make(map[string]string)
		}
		node.Attributes["name"] = cfg.Name
	}
	if err := b.fields(id, graph.InputFields, &node.Inputs, cfg.Inputs); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := b.fields(id, graph.OutputFields, &node.Outputs, cfg.Outputs); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	owned := make(map[string]graph.ListID)
	for _, ref := range fn.Lists() {
		owned[ref.Name] = *ref.ID
	}
	names := make([]string, 0, len(cfg.Lists))
	for name := range cfg.Lists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		listID, ok := owned[name]
		if !ok {
			return fmt.Errorf("%s: %s nodes have no list %s", path, cfg.Kind, name)
		}
		if err := b.list(listID, cfg.Lists[name], path+"/"+name); err != nil {
			return err
		}
	}
	if cfg.Disabled {
		return b.graph.SetEnabled(id, false)
	}
	return nil
}

// fields replaces default fields of the same name and adds the others.
func (b *builder) fields(id graph.NodeID, set graph.FieldSet, current *graph.Fields, cfgs []config.FieldConfig) error {
	for _, fc := range cfgs {
		f, err := NewField(b.reg, fc)
		if err != nil {
			return fmt.Errorf("%s %s: %w", set, fc.Name, err)
		}
		if existing, ok := current.Get(fc.Name); ok {
			if err := b.graph.SetFieldValue(id, set, fc.Name, f.Value()); err != nil {
				return err
			}
			if fc.Renamable {
				existing.Renamable = true
			}
			continue
		}
		if err := b.graph.AddField(id, set, f); err != nil {
			return err
		}
	}
	return nil
}

// NewField creates the field described by cfg. Scalars become references so
// formulas can assign to them.
func NewField(reg *registry.Registry, cfg config.FieldConfig) (*graph.Field, error) {
	v, err := newValue(reg, cfg)
	if err != nil {
		return nil, err
	}
	f := graph.NewFieldValue(cfg.Name, v)
	f.Renamable = cfg.Renamable
	return f, nil
}

func newValue(reg *registry.Registry, cfg config.FieldConfig) (value.Value, error) {
	if kind, ok := scalarKinds[cfg.Type]; ok {
		payload, err := value.Convert(zeroOr(cfg.Value, kind), kind)
		if err != nil {
			return nil, err
		}
		return value.NewReference(payload), nil
	}
	switch cfg.Type {
	case config.FieldFormula:
		f := value.NewFormula(cfg.Formula)
		if cfg.Policy == "cache" {
			f.Policy = value.CacheUntilChanged
		}
		return f, nil
	case config.FieldScript:
		return value.NewScript(cfg.Formula), nil
	case config.FieldFunction:
		return &value.CustomFunction{Params: append([]string(nil), cfg.Params...), Body: cfg.Formula}, nil
	case config.FieldList:
		factory, err := value.ListOf(scalarKinds[cfg.Element])
		if err != nil {
			return nil, err
		}
		list := &value.AnyList{}
		if err := list.SetList(factory); err != nil {
			return nil, err
		}
		if cfg.Value != nil {
			if err := list.Set(cfg.Value); err != nil {
				return nil, err
			}
		}
		return list, nil
	case config.FieldObject:
		return newObject(reg, cfg)
	default:
		return nil, fmt.Errorf("unknown field type %q", cfg.Type)
	}
}

func zeroOr(v any, kind value.Kind) any {
	if v != nil {
		return v
	}
	switch kind {
	case value.KindText:
		return ""
	case value.KindBool:
		return false
	default:
		return 0
	}
}

func newObject(reg *registry.Registry, cfg config.FieldConfig) (value.Value, error) {
	info, ok := reg.Lookup(cfg.Object)
	if !ok {
		return nil, fmt.Errorf("type %s is not allowed", cfg.Object)
	}
	ref := value.NewTypedReference(info.Type)
	if cfg.Value == nil {
		return ref, nil
	}
	props, ok := cfg.Value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("object value must be a mapping of properties")
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	payload := ref.Get()
	for _, name := range names {
		prop, ok := info.Property(name)
		if !ok {
			return nil, fmt.Errorf("type %s has no property %s", info.Name, name)
		}
		updated, err := prop.Set(payload, props[name])
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		payload = updated
	}
	if err := ref.Set(payload); err != nil {
		return nil, err
	}
	return ref, nil
}
