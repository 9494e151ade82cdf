package entityp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/greghart/sqlsplice/queryp"
	"github.com/greghart/sqlsplice/sqlp"
)

// Repository provides a data access layer for a specific entity.
// Every operation runs on a single connection acquired from its provider.
type Repository[E any, ID comparable] struct {
	p sqlp.Provider
	e *Entity[E, ID]
}

func NewRepository[E any, ID comparable](p sqlp.Provider, e *Entity[E, ID]) *Repository[E, ID] {
	return &Repository[E, ID]{p: p, e: e}
}

// With returns a copy of the repository running against p, typically a transaction.
func (r *Repository[E, ID]) With(p sqlp.Provider) *Repository[E, ID] {
	return &Repository[E, ID]{p: p, e: r.e}
}

// Entity returns the entity the repository operates on.
func (r *Repository[E, ID]) Entity() *Entity[E, ID] {
	return r.e
}

// RepsertResult reports what Repsert did.
type RepsertResult struct {
	Updated  int64 // rows updated
	Inserted bool
}

////////////////////////////////////////////////////////////////////////////////
// Inserts

// Insert inserts record and returns its generated id.
func (r *Repository[E, ID]) Insert(ctx context.Context, record E) (id ID, err error) {
	err = r.p.WithConn(ctx, func(ex sqlp.Executor) error {
		b := r.e.InsertFragment(record)
		if ex.Dialect().Returning {
			return scanID(ex.QueryRow(ctx, b.Append(r.e.ReturningFragment())), &id)
		}
		res, err := ex.Exec(ctx, b)
		if err != nil {
			return err
		}
		return lastInsertID(res, 0, &id)
	})
	return id, err
}

// InsertEnt inserts a record under an id chosen by the caller.
func (r *Repository[E, ID]) InsertEnt(ctx context.Context, ent Ent[E, ID]) error {
	return r.p.WithConn(ctx, func(ex sqlp.Executor) error {
		_, err := ex.Exec(ctx, r.e.InsertEntFragment(ent))
		return err
	})
}

// InsertMany inserts records in one statement, returning their ids in the order the database
// reports them. Postgres and MySQL report them in record order; SQLite does not promise any
// order for RETURNING rows. No records means no statement.
func (r *Repository[E, ID]) InsertMany(ctx context.Context, records []E) ([]ID, error) {
	b, ok := r.e.InsertManyFragment(records)
	if !ok {
		return nil, nil
	}
	ids := make([]ID, 0, len(records))
	err := r.p.WithConn(ctx, func(ex sqlp.Executor) error {
		if !ex.Dialect().Returning {
			res, err := ex.Exec(ctx, b)
			if err != nil {
				return err
			}
			// Multi row inserts are assigned consecutive ids, starting from the reported one
			for i := range records {
				var id ID
				if err := lastInsertID(res, int64(i), &id); err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return nil
		}

		rows, err := ex.Query(ctx, b.Append(r.e.ReturningFragment()))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id ID
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("failed to scan id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) != len(records) {
			return fmt.Errorf("%w: got %d ids for %d records", ErrNoID, len(ids), len(records))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

////////////////////////////////////////////////////////////////////////////////
// Selects

// Get fetches a record by id, failing with a NotFoundError when there is none.
func (r *Repository[E, ID]) Get(ctx context.Context, id ID) (E, error) {
	ent, err := r.GetEnt(ctx, id)
	return ent.Record, err
}

// GetEnt fetches a record and its id, failing with a NotFoundError when there is none.
func (r *Repository[E, ID]) GetEnt(ctx context.Context, id ID) (Ent[E, ID], error) {
	ents, err := r.SelectBy(ctx, r.e.IDRow(id))
	if err != nil {
		return Ent[E, ID]{}, err
	}
	if len(ents) == 0 {
		return Ent[E, ID]{}, &NotFoundError{table: r.e.table.String(), id: id}
	}
	return ents[0], nil
}

// SelectBy fetches every record matching where, along with its id.
func (r *Repository[E, ID]) SelectBy(ctx context.Context, where queryp.Row, opts ...SelectOption) ([]Ent[E, ID], error) {
	b, err := r.e.SelectByFragment(where, opts...)
	if err != nil {
		return nil, err
	}
	return r.Query(ctx, b)
}

// SelectRecordsBy fetches every record matching where.
func (r *Repository[E, ID]) SelectRecordsBy(ctx context.Context, where queryp.Row, opts ...SelectOption) ([]E, error) {
	b, err := r.e.SelectByFragment(where, append(slices.Clone(opts), WithoutID())...)
	if err != nil {
		return nil, err
	}
	return r.QueryRecords(ctx, b)
}

// All fetches every record with its id.
func (r *Repository[E, ID]) All(ctx context.Context) ([]Ent[E, ID], error) {
	return r.Query(ctx, r.e.SelectFragment())
}

// Query runs a select whose columns are the id followed by the entity fields, as
// SelectFragment writes them.
func (r *Repository[E, ID]) Query(ctx context.Context, b queryp.Builder) ([]Ent[E, ID], error) {
	var ents []Ent[E, ID]
	err := r.query(ctx, b, func(s *sqlp.MappingScanner[E]) error {
		var id ID
		record, err := s.ScanWith(&id)
		if err != nil {
			return err
		}
		r.e.setID(&record, id)
		ents = append(ents, Ent[E, ID]{ID: id, Record: record})
		return nil
	})
	return ents, err
}

// QueryRecords runs a select whose columns are the entity fields, as
// SelectFragment(WithoutID()) writes them.
func (r *Repository[E, ID]) QueryRecords(ctx context.Context, b queryp.Builder) ([]E, error) {
	var records []E
	err := r.query(ctx, b, func(s *sqlp.MappingScanner[E]) error {
		record, err := s.Scan()
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

func (r *Repository[E, ID]) query(ctx context.Context, b queryp.Builder, scan func(*sqlp.MappingScanner[E]) error) error {
	return r.p.WithConn(ctx, func(ex sqlp.Executor) error {
		rows, err := ex.Query(ctx, b)
		if err != nil {
			return err
		}
		defer rows.Close()

		scanner := sqlp.NewMappingScanner(rows, r.e.mapper).WithColumns(r.e.columns)
		for rows.Next() {
			if err := scan(scanner); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
		}
		return rows.Err()
	})
}

// Count counts the records matching where.
func (r *Repository[E, ID]) Count(ctx context.Context, where queryp.Row) (n int64, err error) {
	err = r.p.WithConn(ctx, func(ex sqlp.Executor) error {
		return ex.QueryRow(ctx, r.e.CountFragment(where)).Scan(&n)
	})
	return n, err
}

////////////////////////////////////////////////////////////////////////////////
// Updates

// Update sets columns of the record with id. It reports whether exactly one row was updated;
// an empty set updates nothing and issues no statement.
func (r *Repository[E, ID]) Update(ctx context.Context, id ID, set queryp.Row) (bool, error) {
	n, err := r.update(ctx, r.e.IDRow(id), set)
	return n == 1, err
}

// UpdateBy sets columns of every record matching where, returning the rows affected.
// An empty where is refused with ErrNoConditions.
func (r *Repository[E, ID]) UpdateBy(ctx context.Context, where, set queryp.Row) (int64, error) {
	if where.IsEmpty() {
		return 0, ErrNoConditions
	}
	return r.update(ctx, where, set)
}

// Replace overwrites every field of the record with id.
func (r *Repository[E, ID]) Replace(ctx context.Context, id ID, record E) (bool, error) {
	return r.Update(ctx, id, r.e.Row(record))
}

func (r *Repository[E, ID]) update(ctx context.Context, where, set queryp.Row) (n int64, err error) {
	b, ok := r.e.UpdateFragment(set)
	if !ok {
		return 0, nil
	}
	err = r.p.WithConn(ctx, func(ex sqlp.Executor) error {
		n, err = exec(ctx, ex, b.Append(r.e.WhereFragment(where)))
		return err
	})
	return n, err
}

// Repsert updates the records matching match with update, or when there are none, inserts
// match merged with update. Columns in both rows take their value from update.
// With an empty update, Repsert only inserts match when no record matches it.
func (r *Repository[E, ID]) Repsert(ctx context.Context, match, update queryp.Row) (res RepsertResult, err error) {
	if match.IsEmpty() {
		return res, ErrNoConditions
	}
	err = r.p.WithConn(ctx, func(ex sqlp.Executor) error {
		if b, ok := r.e.UpdateFragment(update); ok {
			n, err := exec(ctx, ex, b.Append(r.e.WhereFragment(match)))
			if err != nil || n > 0 {
				res.Updated = n
				return err
			}
		} else {
			var n int64
			if err := ex.QueryRow(ctx, r.e.CountFragment(match)).Scan(&n); err != nil || n > 0 {
				return err
			}
		}

		if _, err := ex.Exec(ctx, r.e.InsertRowFragment(match.Merge(update))); err != nil {
			return err
		}
		res.Inserted = true
		return nil
	})
	return res, err
}

////////////////////////////////////////////////////////////////////////////////
// Deletes

// Delete deletes the record with id, reporting whether exactly one row was deleted.
func (r *Repository[E, ID]) Delete(ctx context.Context, id ID) (bool, error) {
	n, err := r.delete(ctx, r.e.IDRow(id))
	return n == 1, err
}

// DeleteBy deletes every record matching where, returning the rows affected.
// An empty where is refused with ErrNoConditions.
func (r *Repository[E, ID]) DeleteBy(ctx context.Context, where queryp.Row) (int64, error) {
	if where.IsEmpty() {
		return 0, ErrNoConditions
	}
	return r.delete(ctx, where)
}

func (r *Repository[E, ID]) delete(ctx context.Context, where queryp.Row) (n int64, err error) {
	err = r.p.WithConn(ctx, func(ex sqlp.Executor) error {
		n, err = exec(ctx, ex, r.e.DeleteFragment(where))
		return err
	})
	return n, err
}

////////////////////////////////////////////////////////////////////////////////

func exec(ctx context.Context, ex sqlp.Executor, b queryp.Builder) (int64, error) {
	res, err := ex.Exec(ctx, b)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanID[ID comparable](row *sqlp.Row, id *ID) error {
	err := row.Scan(id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoID
	}
	return err
}

// lastInsertID sets id to the result's last insert id plus offset, for integer ids. A last
// insert id of zero means the statement generated none.
func lastInsertID[ID comparable](res sql.Result, offset int64, id *ID) error {
	last, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoID, err)
	}
	// No auto increment value was generated
	if last <= 0 {
		return ErrNoID
	}
	v := reflect.ValueOf(id).Elem()
	switch {
	case v.CanInt():
		v.SetInt(last + offset)
	case v.CanUint():
		v.SetUint(uint64(last + offset))
	default:
		return fmt.Errorf("%w: cannot store %d in %v", ErrNoID, last, v.Type())
	}
	return nil
}
