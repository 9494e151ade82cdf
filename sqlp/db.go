package sqlp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/greghart/sqlsplice/queryp"
	"github.com/rs/zerolog"
)

// DB extends the stdlib sql.DB type with a dialect, a logger and builder based APIs.
type DB struct {
	*sql.DB
	executor
	retry RetryPolicy
}

// NewDB builds a new sqlp.DB for when you already have an existing sql.DB.
func NewDB(db *sql.DB, dialect queryp.Dialect) *DB {
	logger := zerolog.New(os.Stderr).
		Level(zerolog.WarnLevel).
		With().Timestamp().Str("component", "sqlp").
		Logger()
	return &DB{
		DB:       db,
		executor: executor{q: db, dialect: dialect, logger: logger},
		retry:    DefaultRetryPolicy(),
	}
}

// Open opens a database, picking the dialect from the driver name.
func Open(driverName, dataSourceName string) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}

	return NewDB(db, queryp.DialectFor(driverName)), nil
}

func (db *DB) WithLogger(logger zerolog.Logger) *DB {
	db.logger = logger
	return db
}

func (db *DB) WithDialect(dialect queryp.Dialect) *DB {
	db.dialect = dialect
	return db
}

func (db *DB) WithRetryPolicy(p RetryPolicy) *DB {
	db.retry = p
	return db
}

// Logger returns the logger statements and transactions are logged to.
func (db *DB) Logger() zerolog.Logger {
	return db.logger
}

////////////////////////////////////////////////////////////////////////////////
// Standardized APIs

// Exec runs ExecContext.
func (db *DB) Exec(ctx context.Context, b queryp.Builder) (sql.Result, error) {
	return db.executor.Exec(ctx, b)
}

// Query runs QueryContext.
func (db *DB) Query(ctx context.Context, b queryp.Builder) (*sql.Rows, error) {
	return db.executor.Query(ctx, b)
}

// QueryRow runs QueryRowContext.
func (db *DB) QueryRow(ctx context.Context, b queryp.Builder) *Row {
	return db.executor.QueryRow(ctx, b)
}

// WithConn runs fn against a single connection from the pool, released when fn returns.
func (db *DB) WithConn(ctx context.Context, fn func(Executor) error) (err error) {
	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlp: acquire connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			err = errors.Join(err, fmt.Errorf("sqlp: release connection: %w", cerr))
		}
	}()

	return fn(db.executor.on(conn))
}

////////////////////////////////////////////////////////////////////////////////
// Transactional APIs

// RunInTx runs the callback fxn in a transaction.
// You can return an error from the callback to trigger the transaction to rollback, a panic
// rolls back as well before propagating.
func (db *DB) RunInTx(ctx context.Context, fn func(context.Context, *Tx) error) error {
	return db.runInTx(ctx, nil, fn)
}

// RunInSerializableTx runs fn in a serializable transaction, retrying the whole transaction
// while the retry policy deems the failure retryable. fn must be safe to run more than once.
func (db *DB) RunInSerializableTx(ctx context.Context, fn func(context.Context, *Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	if db.dialect.Name == queryp.SQLite.Name {
		// Already serializable
		opts = nil
	}
	return db.retry.Run(ctx, db.logger, func(ctx context.Context) error {
		return db.runInTx(ctx, opts, fn)
	})
}

func (db *DB) runInTx(ctx context.Context, opts *sql.TxOptions, fn func(context.Context, *Tx) error) error {
	sqlTx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("sqlp: begin: %w", err)
	}
	defer func() {
		err := sqlTx.Rollback()
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			// Rolled back due to error, but errored on rollback.
			db.logger.Error().Err(err).Msg("failed to rollback transaction")
		}
	}()

	if err := fn(ctx, &Tx{executor: db.executor.on(sqlTx)}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlp: commit: %w", err)
	}
	return nil
}
