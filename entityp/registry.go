package entityp

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry is a static registry of entities keyed by record type, filled once at startup.
type Registry struct {
	entities sync.Map // map[reflect.Type]any(*Entity[E, ID])
}

// Default is the registry generated entities register into.
var Default = &Registry{}

// Register adds e to r. Each record type can only be registered once.
func Register[E any, ID comparable](r *Registry, e *Entity[E, ID]) error {
	t := reflect.TypeFor[E]()
	if _, loaded := r.entities.LoadOrStore(t, e); loaded {
		return fmt.Errorf("entityp: %v already registered", t)
	}
	return nil
}

// MustRegister is like Register but panics, and returns e for package level declarations.
func MustRegister[E any, ID comparable](r *Registry, e *Entity[E, ID]) *Entity[E, ID] {
	if err := Register(r, e); err != nil {
		panic(err)
	}
	return e
}

// Lookup returns the entity registered for E, if it was registered with an id of type ID.
func Lookup[E any, ID comparable](r *Registry) (*Entity[E, ID], bool) {
	v, ok := r.entities.Load(reflect.TypeFor[E]())
	if !ok {
		return nil, false
	}
	e, ok := v.(*Entity[E, ID])
	return e, ok
}
