package reflectp

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// Field represents a column backed by a (possibly promoted) struct field.
// Adapted from json package reflection.
// Key difference is json recursively encodes/decodes, we're handling flat tabular data.
type Field struct {
	Column string
	Name   string // dotted Go path, eg. Timestamps.CreatedAt

	Tag       bool
	Index     []int
	Type      reflect.Type
	PK        bool // tagged `pk`
	Generated bool // tagged `generated`, value assigned by the database
}

// Addr returns a pointer to the field within strct, which must be an addressable struct value.
func (f *Field) Addr(strct reflect.Value) any {
	return strct.FieldByIndex(f.Index).Addr().Interface()
}

////////////////////////////////////////////////////////////////////////////////

// Fields represents the columns of a struct, in declaration order.
type Fields struct {
	List         []*Field
	ByColumnName map[string]*Field
	Type         reflect.Type
}

// Internally, all types are stored in a cache to avoid repeated work.
func FieldsFactory(t reflect.Type) (*Fields, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("given %v, expected struct", t.Kind())
	}
	if f, ok := fieldsCache.Load(t); ok {
		return f.(*Fields), nil
	}
	f := &Fields{Type: t, ByColumnName: map[string]*Field{}}
	if err := f.collect(t, nil, "", "", map[reflect.Type]bool{}); err != nil {
		return nil, err
	}
	fCache, _ := fieldsCache.LoadOrStore(t, f)
	return fCache.(*Fields), nil
}

// Columns returns the column names in order.
func (f *Fields) Columns() []string {
	cols := make([]string, len(f.List))
	for i, field := range f.List {
		cols[i] = field.Column
	}
	return cols
}

// collect adds the columns of struct t, reached through index, to f.
func (f *Fields) collect(t reflect.Type, index []int, prefix, namePrefix string, visited map[reflect.Type]bool) error {
	if visited[t] {
		return fmt.Errorf("recursive promotion of %v", t)
	}
	visited[t] = true
	defer delete(visited, t)

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		// Ignore cases
		if sf.Anonymous {
			t := sf.Type
			if t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
			if !sf.IsExported() && t.Kind() != reflect.Struct {
				// Ignore embedded fields of unexported non-struct types.
				continue
			}
			// Do not ignore embedded fields of unexported struct types
			// since they may have exported fields.
		} else if !sf.IsExported() {
			// Ignore unexported non-embedded fields.
			continue
		}

		// Process
		tag := sf.Tag.Get("sqlp")
		if tag == "-" {
			continue
		}
		column, opts := ParseTag(tag)
		if !IsValidTag(column) {
			column = ""
		}
		tagged := column != ""
		if column == "" {
			column = sf.Name
		}
		path := append(append([]int{}, index...), i)

		// Whether to "promote" field: normal go embeds or opt-ins
		promote := (opts.Contains("promote") || (sf.Anonymous && !tagged)) && deref(sf.Type).Kind() == reflect.Struct
		if promote {
			if sf.Type.Kind() == reflect.Pointer {
				return fmt.Errorf("cannot promote pointer field %s%s", namePrefix, sf.Name)
			}
			sub := prefix
			if tagged {
				sub = prefix + column + "_"
			}
			if err := f.collect(sf.Type, path, sub, namePrefix+sf.Name+".", visited); err != nil {
				return fmt.Errorf("failed to process sub struct %s: %w", sf.Name, err)
			}
			continue
		}

		field := &Field{
			Column:    prefix + column,
			Name:      namePrefix + sf.Name,
			Tag:       tagged,
			Index:     path,
			Type:      sf.Type,
			PK:        opts.Contains("pk"),
			Generated: opts.Contains("generated"),
		}
		if _, ok := f.ByColumnName[field.Column]; ok {
			return fmt.Errorf("duplicate column name %s", field.Column)
		}
		f.ByColumnName[field.Column] = field
		f.List = append(f.List, field)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// TagOptions is the string following a comma in a struct field's "sqlp"
// tag, or the empty string. It does not include the leading comma.
type TagOptions string

// ParseTag splits a struct field's sqlp tag into its name and comma-separated options.
func ParseTag(tag string) (string, TagOptions) {
	tag, opt, _ := strings.Cut(tag, ",")
	return tag, TagOptions(opt)
}

// Contains reports whether a comma-separated list of options
// contains a particular substr flag. substr must be surrounded by a
// string boundary or commas.
func (o TagOptions) Contains(optionName string) bool {
	if len(o) == 0 {
		return false
	}
	s := string(o)
	for s != "" {
		var name string
		name, s, _ = strings.Cut(s, ",")
		if name == optionName {
			return true
		}
	}
	return false
}

func IsValidTag(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case strings.ContainsRune("!#$%&()*+-./:;<=>?@[]^_{|}~ ", c):
			// Backslash and quote chars are reserved, but
			// otherwise any punctuation chars are allowed
			// in a tag name.
		case !unicode.IsLetter(c) && !unicode.IsDigit(c):
			return false
		}
	}
	return true
}

var fieldsCache sync.Map // map[reflect.Type]*Fields

func deref(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
