package queryp

import "slices"

// Row is a marked row: an ordered list of identifier/value pairs, rendered as equality lists
// in WHERE clauses or assignments in SET clauses.
// Insertion order is kept and decides the column order of generated SQL. Duplicate identifiers
// are not checked; that is up to the caller.
type Row struct {
	fields []RowField
}

type RowField struct {
	Ident Ident
	Value Builder
}

// RowMarker is implemented by types that can describe themselves as a marked row.
type RowMarker interface {
	MarkedRow() Row
}

// RowOf returns the marked row of m.
func RowOf(m RowMarker) Row {
	return m.MarkedRow()
}

func NewRow() Row {
	return Row{}
}

// Set adds col bound to the value v.
func (r Row) Set(col string, v any) Row {
	return r.SetIdent(ParseIdent(col), Param(v))
}

// SetBuilder adds col bound to an arbitrary fragment, eg. Lit("CURRENT_TIMESTAMP").
func (r Row) SetBuilder(col string, b Builder) Row {
	return r.SetIdent(ParseIdent(col), b)
}

// SetIdent adds i bound to b.
func (r Row) SetIdent(i Ident, b Builder) Row {
	fields := make([]RowField, len(r.fields), len(r.fields)+1)
	copy(fields, r.fields)
	return Row{fields: append(fields, RowField{Ident: i, Value: b})}
}

func (r Row) Len() int {
	return len(r.fields)
}

func (r Row) IsEmpty() bool {
	return len(r.fields) == 0
}

// Fields returns a copy of the row entries.
func (r Row) Fields() []RowField {
	return slices.Clone(r.fields)
}

// Idents returns the identifiers of the row, in order.
func (r Row) Idents() []Ident {
	out := make([]Ident, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Ident
	}
	return out
}

// Values returns the value builders of the row, in order.
func (r Row) Values() []Builder {
	out := make([]Builder, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Value
	}
	return out
}

// Render renders `ident = value` for every entry, with sep between entries.
// An empty row renders to the empty builder.
func (r Row) Render(sep string) Builder {
	parts := make([]Builder, len(r.fields))
	for i, f := range r.fields {
		parts[i] = Concat(Embed(f.Ident), Lit(" = "), f.Value)
	}
	return Join(sep, parts...)
}

// Merge returns r with the entries of o applied on top. When both have an identifier the value
// from o wins and keeps r's position; other entries of o are appended.
func (r Row) Merge(o Row) Row {
	fields := slices.Clone(r.fields)
	for _, of := range o.fields {
		i := slices.IndexFunc(fields, func(f RowField) bool { return f.Ident.Equal(of.Ident) })
		if i >= 0 {
			fields[i].Value = of.Value
			continue
		}
		fields = append(fields, of)
	}
	return Row{fields: fields}
}

// Without drops every entry matching one of idents.
func (r Row) Without(idents ...Ident) Row {
	fields := make([]RowField, 0, len(r.fields))
	for _, f := range r.fields {
		if slices.ContainsFunc(idents, f.Ident.Equal) {
			continue
		}
		fields = append(fields, f)
	}
	return Row{fields: fields}
}

// MapIdents rewrites every identifier, eg. to qualify columns with a table alias.
func (r Row) MapIdents(f func(Ident) Ident) Row {
	fields := slices.Clone(r.fields)
	for i := range fields {
		fields[i].Ident = f(fields[i].Ident)
	}
	return Row{fields: fields}
}
