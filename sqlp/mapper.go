package sqlp

import (
	"fmt"
	"maps"
)

// Mapper powers generic, non reflective mappings of column names to struct fields
type Mapper[E any] map[string]Mapping[*E]

// Mapping is a mapping directly to field on the struct
type Mapping[E any] func(e E) any

// Addr returns an address for given column against the given entity
func (m Mapper[E]) Addr(e *E, col string) (any, bool) {
	mapping, ok := m[col]
	if !ok {
		return nil, false
	}
	return mapping(e), true
}

// Targets returns scan destinations on e for cols, in order.
func (m Mapper[E]) Targets(e *E, cols []string) ([]any, error) {
	targets := make([]any, len(cols))
	for i, c := range cols {
		addr, ok := m.Addr(e, c)
		if !ok {
			return nil, fmt.Errorf("failed to get mapping for %v", c)
		}
		targets[i] = addr
	}
	return targets, nil
}

// MergeMappers nests m2 under m1 with columns prefixed "ns_", eg. a joined pet's "pet_name".
// get must return the nested record, allocating it when needed.
func MergeMappers[E, T any](m1 Mapper[E], m2 Mapper[T], ns string, get func(*E) *T) Mapper[E] {
	out := maps.Clone(m1)
	if out == nil {
		out = make(Mapper[E], len(m2))
	}
	for col, mapping := range m2 {
		out[ns+"_"+col] = func(e *E) any {
			return mapping(get(e))
		}
	}
	return out
}
