package sqlp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/greghart/sqlsplice/errcmp"
	"github.com/greghart/sqlsplice/queryp"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	selectCounter = queryp.MustParse("SELECT value FROM counters WHERE name = #{name}")
	updateCounter = queryp.MustParse("UPDATE counters SET value = #{value} WHERE name = #{name}")
)

func TestIsSerializationFailure(t *testing.T) {
	tests := map[string]struct {
		err      error
		expected bool
	}{
		"nil":                   {nil, false},
		"plain error":           {errors.New("40001"), false},
		"pg serialization":      {&pq.Error{Code: "40001"}, true},
		"pg deadlock":           {&pq.Error{Code: "40P01"}, true},
		"pg unique violation":   {&pq.Error{Code: "23505"}, false},
		"mysql deadlock":        {&mysql.MySQLError{Number: 1213}, true},
		"mysql lock timeout":    {&mysql.MySQLError{Number: 1205}, true},
		"mysql duplicate entry": {&mysql.MySQLError{Number: 1062}, false},
		"sqlite busy":           {sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		"sqlite locked":         {sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		"sqlite constraint":     {sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		"wrapped":               {fmt.Errorf("sqlp: commit: %w", &pq.Error{Code: "40001"}), true},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			if got := IsSerializationFailure(test.err); got != test.expected {
				t.Errorf("got %v, wanted %v", got, test.expected)
			}
		})
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 5 * time.Millisecond, 10 * time.Millisecond},
		{2, 10 * time.Millisecond, 20 * time.Millisecond},
		{3, 20 * time.Millisecond, 40 * time.Millisecond},
		{10, 50 * time.Millisecond, 100 * time.Millisecond},
	}
	for _, test := range tests {
		for i := 0; i < 20; i++ {
			if d := p.Backoff(test.attempt); d < test.min || d > test.max {
				t.Errorf("attempt %d: backoff %v outside [%v, %v]", test.attempt, d, test.min, test.max)
			}
		}
	}
	if d := (RetryPolicy{}).Backoff(3); d != 0 {
		t.Errorf("zero delays should not wait, got %v", d)
	}
}

func TestRetryPolicy_Run(t *testing.T) {
	logger := zerolog.Nop()
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}

	t.Run("stops on success", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{}.Run(context.Background(), logger, func(context.Context) error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		errcmp.MustMatch(t, err, "")
		if calls != 3 {
			t.Errorf("got %d calls, wanted 3", calls)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{}.Run(context.Background(), logger, func(context.Context) error {
			calls++
			return errors.New("boom")
		})
		errcmp.MustMatch(t, err, "boom")
		if calls != 1 {
			t.Errorf("got %d calls, wanted 1", calls)
		}
	})

	t.Run("bounded attempts", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{}.Run(context.Background(), logger, func(context.Context) error {
			calls++
			return busy
		})
		var retryErr *RetryError
		if !errors.As(err, &retryErr) || retryErr.Attempts != 5 {
			t.Fatalf("got %v, wanted a RetryError after 5 attempts", err)
		}
		if calls != 5 {
			t.Errorf("got %d calls, wanted 5", calls)
		}
		if !IsSerializationFailure(err) {
			t.Errorf("retry error should wrap the last failure")
		}
	})

	t.Run("honours cancellation while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryPolicy{BaseDelay: time.Hour, MaxDelay: time.Hour}.Run(ctx, logger, func(context.Context) error {
			calls++
			cancel()
			return busy
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, wanted context canceled", err)
		}
		if calls != 1 {
			t.Errorf("got %d calls, wanted 1", calls)
		}
	})
}

func TestDB_RunInSerializableTx_retries(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer sqlDB.Close()
	db := NewDB(sqlDB, queryp.Postgres).
		WithLogger(zerolog.Nop()).
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3})

	update := regexp.QuoteMeta("UPDATE counters SET value = $1 WHERE name = $2")
	mock.ExpectBegin()
	mock.ExpectExec(update).WithArgs(int64(1), "hits").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(update).WithArgs(int64(1), "hits").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempts := 0
	err = db.RunInSerializableTx(context.Background(), func(ctx context.Context, tx *Tx) error {
		attempts++
		b, err := updateCounter.Eval(queryp.Env{"name": "hits", "value": 1})
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, b)
		return err
	})
	errcmp.MustMatch(t, err, "")
	if attempts != 2 {
		t.Errorf("got %d attempts, wanted 2", attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDB_RunInSerializableTx_exhausted(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer sqlDB.Close()
	db := NewDB(sqlDB, queryp.Postgres).
		WithLogger(zerolog.Nop()).
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2})

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
	}

	err = db.RunInSerializableTx(context.Background(), func(ctx context.Context, tx *Tx) error {
		return nil
	})
	var retryErr *RetryError
	if !errors.As(err, &retryErr) || retryErr.Attempts != 2 {
		t.Errorf("got %v, wanted a RetryError after 2 attempts", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDB_RunInSerializableTx_concurrent(t *testing.T) {
	for name, open := range map[string]func(*testing.T) (*DB, context.Context, func()){
		"sqlite":   testDB,
		"postgres": testPG,
	} {
		t.Run(name, func(t *testing.T) {
			db, ctx, cleanup := open(t)
			defer cleanup()
			db.WithRetryPolicy(RetryPolicy{MaxAttempts: 50, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond})

			_, err := db.Exec(ctx, queryp.Lit("INSERT INTO counters (name, value) VALUES ('hits', 0)"))
			errcmp.MustMatch(t, err, "")

			const workers = 8
			g, gctx := errgroup.WithContext(ctx)
			for i := 0; i < workers; i++ {
				g.Go(func() error {
					return db.RunInSerializableTx(gctx, incrementCounter)
				})
			}
			errcmp.MustMatch(t, g.Wait(), "")

			var value int
			err = db.QueryRow(ctx, mustBuild(t, selectCounter, queryp.Env{"name": "hits"})).Scan(&value)
			errcmp.MustMatch(t, err, "")
			if value != workers {
				t.Errorf("got counter %d, wanted %d", value, workers)
			}
		})
	}
}

func incrementCounter(ctx context.Context, tx *Tx) error {
	sel, err := selectCounter.Eval(queryp.Env{"name": "hits"})
	if err != nil {
		return err
	}
	var value int64
	if err := tx.QueryRow(ctx, sel).Scan(&value); err != nil {
		return err
	}
	upd, err := updateCounter.Eval(queryp.Env{"name": "hits", "value": value + 1})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, upd)
	return err
}
