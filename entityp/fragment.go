package entityp

import (
	"github.com/greghart/sqlsplice/queryp"
)

// Fragments are pure builders for the entity's statements. Splice them into templates with
// ^{...} to extend them, eg. ^{people.SelectFragment()} WHERE ...

type selectOptions struct {
	withoutID         bool
	transform         func(queryp.Ident) queryp.Ident
	requireConditions bool
	exclude           []queryp.Ident
}

// SelectOption configures select fragments.
type SelectOption func(*selectOptions)

// WithoutID leaves the id column out of the selected columns.
func WithoutID() SelectOption {
	return func(o *selectOptions) { o.withoutID = true }
}

// Transform maps every selected column, including the id, before embedding. Useful to qualify
// columns when joining, eg. Transform(func(i Ident) Ident { return i.Qualify(NewIdent("p")) }).
func Transform(f func(queryp.Ident) queryp.Ident) SelectOption {
	return func(o *selectOptions) { o.transform = f }
}

// RequireConditions makes SelectByFragment fail with ErrNoConditions on an empty row, instead of
// selecting every record.
func RequireConditions() SelectOption {
	return func(o *selectOptions) { o.requireConditions = true }
}

// ExcludeColumns drops conditions on the given columns before rendering the WHERE clause.
func ExcludeColumns(idents ...queryp.Ident) SelectOption {
	return func(o *selectOptions) { o.exclude = append(o.exclude, idents...) }
}

func newSelectOptions(opts []SelectOption) selectOptions {
	o := selectOptions{transform: func(i queryp.Ident) queryp.Ident { return i }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

////////////////////////////////////////////////////////////////////////////////

// InsertFragment is `INSERT INTO t (f1, ..., fn) VALUES (p1, ..., pn)`.
func (e *Entity[E, ID]) InsertFragment(record E) queryp.Builder {
	return e.InsertRowFragment(e.Row(record))
}

// InsertEntFragment also writes the id, for client assigned keys.
func (e *Entity[E, ID]) InsertEntFragment(ent Ent[E, ID]) queryp.Builder {
	row := queryp.NewRow().SetIdent(e.idColumn, queryp.Param(ent.ID))
	return e.InsertRowFragment(row.Merge(e.Row(ent.Record)))
}

// InsertManyFragment writes one VALUES tuple per record. It reports false for no records, as
// there is no valid empty VALUES list.
func (e *Entity[E, ID]) InsertManyFragment(records []E) (queryp.Builder, bool) {
	if len(records) == 0 {
		return queryp.Empty(), false
	}
	tuples := make([]queryp.Builder, len(records))
	for i, r := range records {
		tuples[i] = tuple(e.Row(r).Values())
	}
	return queryp.Concat(
		e.insertInto(e.fields),
		queryp.Join(", ", tuples...),
	), true
}

// InsertRowFragment inserts an arbitrary row into the entity's table.
func (e *Entity[E, ID]) InsertRowFragment(row queryp.Row) queryp.Builder {
	return queryp.Concat(e.insertInto(row.Idents()), tuple(row.Values()))
}

func (e *Entity[E, ID]) insertInto(cols []queryp.Ident) queryp.Builder {
	return queryp.Concat(
		queryp.Lit("INSERT INTO "),
		queryp.Embed(e.table),
		queryp.Lit(" "),
		tuple(embedAll(cols, nil)),
		queryp.Lit(" VALUES "),
	)
}

// ReturningFragment is ` RETURNING id`.
func (e *Entity[E, ID]) ReturningFragment() queryp.Builder {
	return queryp.Concat(queryp.Lit(" RETURNING "), queryp.Embed(e.idColumn))
}

// SelectFragment is `SELECT id, f1, ..., fn FROM t`.
func (e *Entity[E, ID]) SelectFragment(opts ...SelectOption) queryp.Builder {
	o := newSelectOptions(opts)
	cols := e.fields
	if !o.withoutID {
		cols = append([]queryp.Ident{e.idColumn}, e.fields...)
	}
	return queryp.Concat(
		queryp.Lit("SELECT "),
		queryp.Join(", ", embedAll(cols, o.transform)...),
		queryp.Lit(" FROM "),
		queryp.Embed(e.table),
	)
}

// SelectByFragment is SelectFragment filtered by equality on every entry of where. An empty row
// selects everything unless RequireConditions is given.
func (e *Entity[E, ID]) SelectByFragment(where queryp.Row, opts ...SelectOption) (queryp.Builder, error) {
	o := newSelectOptions(opts)
	if len(o.exclude) > 0 {
		where = where.Without(o.exclude...)
	}
	if where.IsEmpty() && o.requireConditions {
		return queryp.Builder{}, ErrNoConditions
	}
	return queryp.Concat(e.SelectFragment(opts...), e.WhereFragment(where)), nil
}

// UpdateFragment is `UPDATE t SET a = ?, b = ?`. It reports false for an empty set, as there
// is nothing to update.
func (e *Entity[E, ID]) UpdateFragment(set queryp.Row) (queryp.Builder, bool) {
	if set.IsEmpty() {
		return queryp.Empty(), false
	}
	return queryp.Concat(
		queryp.Lit("UPDATE "),
		queryp.Embed(e.table),
		queryp.Lit(" SET "),
		set.Render(", "),
	), true
}

// WhereFragment is ` WHERE a = ? AND b = ?`, or nothing for an empty row.
func (e *Entity[E, ID]) WhereFragment(where queryp.Row) queryp.Builder {
	if where.IsEmpty() {
		return queryp.Empty()
	}
	return queryp.Concat(queryp.Lit(" WHERE "), where.Render(" AND "))
}

// IDRow is the condition row matching id.
func (e *Entity[E, ID]) IDRow(id ID) queryp.Row {
	return queryp.NewRow().SetIdent(e.idColumn, queryp.Param(id))
}

// DeleteFragment is `DELETE FROM t` filtered by where.
func (e *Entity[E, ID]) DeleteFragment(where queryp.Row) queryp.Builder {
	return queryp.Concat(queryp.Lit("DELETE FROM "), queryp.Embed(e.table), e.WhereFragment(where))
}

// CountFragment is `SELECT COUNT(*) FROM t` filtered by where.
func (e *Entity[E, ID]) CountFragment(where queryp.Row) queryp.Builder {
	return queryp.Concat(queryp.Lit("SELECT COUNT(*) FROM "), queryp.Embed(e.table), e.WhereFragment(where))
}

////////////////////////////////////////////////////////////////////////////////

func tuple(bs []queryp.Builder) queryp.Builder {
	return queryp.Concat(queryp.Lit("("), queryp.Join(", ", bs...), queryp.Lit(")"))
}

func embedAll(idents []queryp.Ident, transform func(queryp.Ident) queryp.Ident) []queryp.Builder {
	bs := make([]queryp.Builder, len(idents))
	for i, ident := range idents {
		if transform != nil {
			ident = transform(ident)
		}
		bs[i] = queryp.Embed(ident)
	}
	return bs
}
