package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a node of one kind with its default fields. Factories
// allocate the lists the node owns through g.NewList.
type Factory func(g *Graph) (Function, error)

// Kinds is the registry of constructible node kinds.
type Kinds struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewKinds returns an empty registry.
func NewKinds() *Kinds {
	return &Kinds{factories: make(map[string]Factory)}
}

// DefaultKinds returns a registry holding the built-in kinds.
func DefaultKinds() *Kinds {
	k := NewKinds()
	k.MustRegister(KindIf, newIf)
	k.MustRegister(KindFor, newFor)
	k.MustRegister(KindRun, newRun)
	k.MustRegister(KindGuard, newGuard)
	k.MustRegister(KindLog, newLog)
	return k
}

// Register adds a kind. Names must be unique.
func (k *Kinds) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("node kind must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("node kind %s: factory must not be nil", name)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.factories[name]; exists {
		return fmt.Errorf("node kind %s already registered", name)
	}
	k.factories[name] = factory
	return nil
}

// MustRegister is Register panicking on error.
func (k *Kinds) MustRegister(name string, factory Factory) {
	if err := k.Register(name, factory); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (k *Kinds) Has(name string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.factories[name]
	return ok
}

// Names returns the registered kinds in sorted order.
func (k *Kinds) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.factories))
	for name := range k.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (k *Kinds) instantiate(name string, g *Graph) (Function, error) {
	k.mu.RLock()
	factory, ok := k.factories[name]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node kind %s not registered", name)
	}
	fn, err := factory(g)
	if err != nil {
		return nil, fmt.Errorf("create %s node: %w", name, err)
	}
	n := fn.Base()
	if n.Kind == "" {
		n.Kind = name
	}
	if n.UID == "" {
		n.UID = NewNode(name).UID
	}
	return fn, nil
}
