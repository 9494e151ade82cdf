package entityp

import (
	"fmt"
	"reflect"

	"github.com/greghart/sqlsplice/internal/reflectp"
	"github.com/greghart/sqlsplice/queryp"
	"github.com/greghart/sqlsplice/sqlp"
)

// DefaultIDColumn is the id column used when a Definition leaves it empty.
const DefaultIDColumn = "id"

// Definition describes how record type E maps onto a table with an id of type ID.
type Definition[E any, ID comparable] struct {
	// Table may be schema qualified, eg. "public.people".
	Table string
	// IDColumn defaults to DefaultIDColumn. It is never part of Fields.
	IDColumn string
	// Fields are the columns written on insert and read on select, in row order. Server
	// generated columns are left out.
	Fields []string
	// Mapper must map exactly the Fields.
	Mapper sqlp.Mapper[E]
	// ID optionally points at the id inside a record, filled in whenever records are read with
	// their id.
	ID func(*E) *ID
}

// Entity is validated, immutable metadata for record type E. Build one with New or Derive,
// once per type, and share it freely.
type Entity[E any, ID comparable] struct {
	table    queryp.Ident
	idColumn queryp.Ident
	columns  []string
	fields   []queryp.Ident
	mapper   sqlp.Mapper[E]
	id       func(*E) *ID
}

// New validates def into an Entity.
func New[E any, ID comparable](def Definition[E, ID]) (*Entity[E, ID], error) {
	fail := func(format string, args ...any) (*Entity[E, ID], error) {
		return nil, &MetadataError{Table: def.Table, Reason: fmt.Sprintf(format, args...)}
	}
	if queryp.ParseIdent(def.Table).IsZero() {
		return fail("empty table name")
	}
	if def.IDColumn == "" {
		def.IDColumn = DefaultIDColumn
	}
	if len(def.Fields) == 0 {
		return fail("no fields")
	}

	seen := make(map[string]bool, len(def.Fields))
	fields := make([]queryp.Ident, len(def.Fields))
	for i, f := range def.Fields {
		switch {
		case f == "":
			return fail("field %d is empty", i)
		case f == def.IDColumn:
			return fail("id column %q listed as a field", f)
		case seen[f]:
			return fail("duplicate field %q", f)
		}
		if _, ok := def.Mapper[f]; !ok {
			return fail("field %q has no mapping", f)
		}
		seen[f] = true
		fields[i] = queryp.NewIdent(f)
	}
	for col := range def.Mapper {
		if !seen[col] {
			return fail("mapping %q has no field", col)
		}
	}

	return &Entity[E, ID]{
		table:    queryp.ParseIdent(def.Table),
		idColumn: queryp.NewIdent(def.IDColumn),
		columns:  append([]string(nil), def.Fields...),
		fields:   fields,
		mapper:   def.Mapper,
		id:       def.ID,
	}, nil
}

// MustNew is like New but panics, for package level entities.
func MustNew[E any, ID comparable](def Definition[E, ID]) *Entity[E, ID] {
	e, err := New(def)
	if err != nil {
		panic(err)
	}
	return e
}

// Derive builds an Entity from E's `sqlp` struct tags. The id field is the one tagged `pk`, or
// else the one whose column is "id", and its type must be ID. Fields tagged `generated` are
// left out.
func Derive[E any, ID comparable](table string) (*Entity[E, ID], error) {
	t := reflect.TypeFor[E]()
	fields, err := reflectp.FieldsFactory(t)
	if err != nil {
		return nil, &MetadataError{Table: table, Reason: err.Error()}
	}

	var idField *reflectp.Field
	for _, f := range fields.List {
		if f.PK {
			if idField != nil && idField.PK {
				return nil, &MetadataError{Table: table, Reason: fmt.Sprintf("%v has more than one pk field", t)}
			}
			idField = f
		} else if f.Column == DefaultIDColumn && idField == nil {
			idField = f
		}
	}

	def := Definition[E, ID]{Table: table, Mapper: sqlp.Mapper[E]{}}
	if idField != nil {
		if idField.Type != reflect.TypeFor[ID]() {
			return nil, &MetadataError{
				Table:  table,
				Reason: fmt.Sprintf("id field %s is %v, wanted %v", idField.Name, idField.Type, reflect.TypeFor[ID]()),
			}
		}
		def.IDColumn = idField.Column
		def.ID = func(e *E) *ID {
			return idField.Addr(reflect.ValueOf(e).Elem()).(*ID)
		}
	}
	for _, f := range fields.List {
		if f == idField || f.Generated {
			continue
		}
		def.Fields = append(def.Fields, f.Column)
		def.Mapper[f.Column] = func(e *E) any {
			return f.Addr(reflect.ValueOf(e).Elem())
		}
	}
	return New(def)
}

// Table returns the table identifier.
func (e *Entity[E, ID]) Table() queryp.Ident {
	return e.table
}

// IDColumn returns the id column identifier.
func (e *Entity[E, ID]) IDColumn() queryp.Ident {
	return e.idColumn
}

// Fields returns the field identifiers in row order.
func (e *Entity[E, ID]) Fields() []queryp.Ident {
	return append([]queryp.Ident(nil), e.fields...)
}

// Columns returns the field names in row order.
func (e *Entity[E, ID]) Columns() []string {
	return append([]string(nil), e.columns...)
}

// Mapper returns the column mapper for records.
func (e *Entity[E, ID]) Mapper() sqlp.Mapper[E] {
	return e.mapper
}

// Row returns record as a marked row in field order.
func (e *Entity[E, ID]) Row(record E) queryp.Row {
	row := queryp.NewRow()
	for i, col := range e.columns {
		addr, _ := e.mapper.Addr(&record, col)
		row = row.SetIdent(e.fields[i], queryp.Param(reflect.ValueOf(addr).Elem().Interface()))
	}
	return row
}

// setID copies id into record, when the entity knows where ids live in records.
func (e *Entity[E, ID]) setID(record *E, id ID) {
	if e.id != nil {
		*e.id(record) = id
	}
}
