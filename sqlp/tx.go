package sqlp

import (
	"context"
	"errors"
	"fmt"

	"github.com/greghart/sqlsplice/queryp"
)

// Tx is a transaction handed to RunInTx callbacks. It is an Executor, and a Provider that
// always provides itself, so repositories can be rebound to it.
type Tx struct {
	executor
	depth int
}

// WithConn runs fn against the transaction's connection.
func (tx *Tx) WithConn(_ context.Context, fn func(Executor) error) error {
	return fn(tx)
}

// RunInTx runs fn in a savepoint nested in this transaction. An error or panic from fn rolls
// back to the savepoint, leaving the enclosing transaction usable.
func (tx *Tx) RunInTx(ctx context.Context, fn func(context.Context, *Tx) error) (err error) {
	nested := &Tx{executor: tx.executor, depth: tx.depth + 1}
	sp := queryp.Embed(queryp.NewIdent(fmt.Sprintf("sp_%d", nested.depth)))
	if _, err := tx.Exec(ctx, queryp.Concat(queryp.Lit("SAVEPOINT "), sp)); err != nil {
		return fmt.Errorf("sqlp: savepoint: %w", err)
	}

	release := func() error {
		_, err := tx.Exec(ctx, queryp.Concat(queryp.Lit("RELEASE SAVEPOINT "), sp))
		return err
	}
	rollback := func() error {
		if _, err := tx.Exec(ctx, queryp.Concat(queryp.Lit("ROLLBACK TO SAVEPOINT "), sp)); err != nil {
			return err
		}
		return release()
	}

	panicked := true
	defer func() {
		if panicked {
			if rbErr := rollback(); rbErr != nil {
				tx.logger.Error().Err(rbErr).Msg("failed to rollback savepoint")
			}
		}
	}()
	err = fn(ctx, nested)
	panicked = false

	if err != nil {
		if rbErr := rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("sqlp: rollback savepoint: %w", rbErr))
		}
		return err
	}
	if err := release(); err != nil {
		return fmt.Errorf("sqlp: release savepoint: %w", err)
	}
	return nil
}
