package sqlp

import (
	"context"
	"database/sql"

	"github.com/greghart/sqlsplice/queryp"
	"github.com/rs/zerolog"
)

// Executor runs builders against a live connection, whether a pool, a single connection or a
// transaction.
type Executor interface {
	Dialect() queryp.Dialect
	Exec(ctx context.Context, b queryp.Builder) (sql.Result, error)
	Query(ctx context.Context, b queryp.Builder) (*sql.Rows, error)
	QueryRow(ctx context.Context, b queryp.Builder) *Row
}

// Provider hands out an Executor scoped to a single connection for the duration of fn.
// DB acquires one from the pool, while a Tx provides itself.
type Provider interface {
	WithConn(ctx context.Context, fn func(Executor) error) error
}

// Queryer is the subset of database/sql shared by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Row is the result of QueryRow. Render errors are deferred until Scan, like sql.Row does for
// query errors.
type Row struct {
	*sql.Row
	err error
}

func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.Row.Scan(dest...)
}

func (r *Row) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.Row.Err()
}

////////////////////////////////////////////////////////////////////////////////

type executor struct {
	q       Queryer
	dialect queryp.Dialect
	logger  zerolog.Logger
}

// on returns a copy of the executor running against q.
func (e executor) on(q Queryer) executor {
	e.q = q
	return e
}

func (e executor) Dialect() queryp.Dialect {
	return e.dialect
}

func (e executor) Exec(ctx context.Context, b queryp.Builder) (sql.Result, error) {
	q, args, err := e.render(b)
	if err != nil {
		return nil, err
	}
	return e.q.ExecContext(ctx, q, args...)
}

func (e executor) Query(ctx context.Context, b queryp.Builder) (*sql.Rows, error) {
	q, args, err := e.render(b)
	if err != nil {
		return nil, err
	}
	return e.q.QueryContext(ctx, q, args...)
}

func (e executor) QueryRow(ctx context.Context, b queryp.Builder) *Row {
	q, args, err := e.render(b)
	if err != nil {
		return &Row{err: err}
	}
	return &Row{Row: e.q.QueryRowContext(ctx, q, args...)}
}

func (e executor) render(b queryp.Builder) (string, []any, error) {
	q, args, err := b.Render(e.dialect)
	if err != nil {
		return "", nil, err
	}
	e.logger.Debug().Str("sql", q).Int("args", len(args)).Msg("statement")
	return q, args, nil
}
