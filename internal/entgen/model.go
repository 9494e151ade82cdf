package entgen

import (
	"fmt"
	"go/types"
	"reflect"
	"strings"

	"github.com/go-openapi/inflect"
	"github.com/greghart/sqlsplice/internal/reflectp"
)

// Model is an entity ready for emission, read from a struct type the same way entityp.Derive
// reads it at runtime.
type Model struct {
	Name     string // Go type name
	Table    string
	IDColumn string
	// IDPath is the field path of the id inside the record, empty when records do not hold it.
	IDPath []string
	IDType types.Type
	Fields []Field
}

type Field struct {
	Column string
	Path   []string // eg. Timestamps, CreatedAt
	Type   types.Type
}

// NewModel builds the model of named, which must be a struct type.
func NewModel(named *types.Named, ec EntityConfig) (*Model, error) {
	s, ok := named.Underlying().(*types.Struct)
	if !ok {
		return nil, fmt.Errorf("%s is %s, expected struct", named.Obj().Name(), named.Underlying())
	}

	m := &Model{Name: named.Obj().Name(), Table: ec.Table}
	if m.Table == "" {
		m.Table = DefaultTable(m.Name)
	}

	var all []field
	if err := collect(&all, s, nil, "", map[*types.Struct]bool{}); err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}

	id := -1
	for i, f := range all {
		switch {
		case ec.IDColumn != "":
			if f.Column == ec.IDColumn {
				id = i
			}
		case f.pk:
			if id >= 0 && all[id].pk {
				return nil, fmt.Errorf("%s has more than one pk field", m.Name)
			}
			id = i
		case f.Column == "id" && id < 0:
			id = i
		}
	}

	m.IDColumn = ec.IDColumn
	m.IDType = types.Typ[types.Int64]
	if id >= 0 {
		m.IDColumn = all[id].Column
		m.IDPath = all[id].Path
		m.IDType = all[id].Type
	}
	if m.IDColumn == "" {
		m.IDColumn = "id"
	}
	if !types.Comparable(m.IDType) {
		return nil, fmt.Errorf("%s id %s is not comparable", m.Name, m.IDType)
	}

	for i, f := range all {
		if i == id || f.generated {
			continue
		}
		m.Fields = append(m.Fields, f.Field)
	}
	if len(m.Fields) == 0 {
		return nil, fmt.Errorf("%s has no fields", m.Name)
	}
	return m, nil
}

// DefaultTable is the table name for a type with none configured, eg. Person -> people.
func DefaultTable(typeName string) string {
	return inflect.Pluralize(inflect.Underscore(typeName))
}

type field struct {
	Field
	pk, generated bool
}

// collect follows the promotion rules of reflectp.FieldsFactory over go/types.
func collect(fields *[]field, s *types.Struct, path []string, prefix string, visited map[*types.Struct]bool) error {
	if visited[s] {
		return fmt.Errorf("recursive promotion at %s", strings.Join(path, "."))
	}
	visited[s] = true
	defer delete(visited, s)

	for i := 0; i < s.NumFields(); i++ {
		v := s.Field(i)
		if v.Embedded() {
			if !v.Exported() && !isStruct(v.Type()) {
				continue
			}
		} else if !v.Exported() {
			continue
		}

		tag := reflect.StructTag(s.Tag(i)).Get("sqlp")
		if tag == "-" {
			continue
		}
		column, opts := reflectp.ParseTag(tag)
		if !reflectp.IsValidTag(column) {
			column = ""
		}
		tagged := column != ""
		if column == "" {
			column = v.Name()
		}
		fieldPath := append(append([]string{}, path...), v.Name())

		if (opts.Contains("promote") || (v.Embedded() && !tagged)) && isStruct(v.Type()) {
			if _, ok := v.Type().(*types.Pointer); ok {
				return fmt.Errorf("cannot promote pointer field %s", strings.Join(fieldPath, "."))
			}
			sub := prefix
			if tagged {
				sub = prefix + column + "_"
			}
			if err := collect(fields, v.Type().Underlying().(*types.Struct), fieldPath, sub, visited); err != nil {
				return err
			}
			continue
		}

		for _, f := range *fields {
			if f.Column == prefix+column {
				return fmt.Errorf("duplicate column name %s", f.Column)
			}
		}
		*fields = append(*fields, field{
			Field:     Field{Column: prefix + column, Path: fieldPath, Type: v.Type()},
			pk:        opts.Contains("pk"),
			generated: opts.Contains("generated"),
		})
	}
	return nil
}

func isStruct(t types.Type) bool {
	if p, ok := t.(*types.Pointer); ok {
		t = p.Elem()
	}
	_, ok := t.Underlying().(*types.Struct)
	return ok
}
