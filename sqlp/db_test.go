package sqlp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/greghart/sqlsplice/errcmp"
	"github.com/greghart/sqlsplice/queryp"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	insertPerson = queryp.MustParse(
		"INSERT INTO people (first_name, last_name, parent_id) VALUES (#{first}, #{last}, #{parent})",
	)
	insertPet = queryp.MustParse(
		"INSERT INTO pets (name, type, parent_id) VALUES (#{name}, #{type}, #{parent})",
	)
	selectPersonByID = queryp.MustParse(
		"SELECT id, first_name, last_name FROM people WHERE id = #{id}",
	)
)

func TestDB_Exec(t *testing.T) {
	db, ctx, cleanup := testDB(t)
	defer cleanup()

	res, err := db.Exec(ctx, mustBuild(t, insertPerson, queryp.Env{"first": "John", "last": "Doe", "parent": nil}))
	if err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	lastInsertId, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("failed to get last insert id: %v", err)
	}
	if lastInsertId == 0 {
		t.Fatalf("last insert id should be set properly")
	}
}

func TestDB_Exec_renderError(t *testing.T) {
	db, ctx, cleanup := testDB(t)
	defer cleanup()

	type unencodable struct{ A int }
	_, err := db.Exec(ctx, queryp.Concat(queryp.Lit("SELECT "), queryp.Param(unencodable{})))
	errcmp.MustMatch(t, err, "parameter 1")

	var p person
	err = db.QueryRow(ctx, queryp.Concat(queryp.Lit("SELECT "), queryp.Param(unencodable{}))).Scan(&p.ID)
	errcmp.MustMatch(t, err, "parameter 1")
}

func TestDB_Query(t *testing.T) {
	db, ctx, cleanup := testDB(t)
	defer cleanup()
	albert := albertSetup(ctx, t, db)

	rows, err := db.Query(ctx, mustBuild(t, selectPersonByID, queryp.Env{"id": albert.ID}))
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	defer rows.Close()
	var people []person
	for rows.Next() {
		var p person
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName); err != nil {
			t.Fatalf("failed to scan row: %v", err)
		}
		people = append(people, p)
	}
	errcmp.MustMatch(t, rows.Err(), "")
	if !cmp.Equal(people, []person{albert}, personComparer) {
		t.Errorf("selected people unexpected:\n%v", cmp.Diff([]person{albert}, people, personComparer))
	}
}

func TestDB_QueryRow(t *testing.T) {
	db, ctx, cleanup := testDB(t)
	defer cleanup()
	albert := albertSetup(ctx, t, db)

	row := db.QueryRow(ctx, mustBuild(t, selectPersonByID, queryp.Env{"id": albert.ID}))
	var p person
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName); err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if p.FirstName != "Albert" {
		t.Errorf("got %v, expected albert", p)
	}

	row = db.QueryRow(ctx, mustBuild(t, selectPersonByID, queryp.Env{"id": -1}))
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("got %v, expected no rows", err)
	}
}

func TestDB_WithConn(t *testing.T) {
	db, ctx, cleanup := testDB(t)
	defer cleanup()

	t.Run("statements share a connection", func(t *testing.T) {
		err := db.WithConn(ctx, func(e Executor) error {
			if _, err := e.Exec(ctx, queryp.Lit("CREATE TEMP TABLE scratch (v INTEGER)")); err != nil {
				return err
			}
			// Temp tables only exist on the connection that created them
			var n int
			return e.QueryRow(ctx, queryp.Lit("SELECT COUNT(*) FROM scratch")).Scan(&n)
		})
		errcmp.MustMatch(t, err, "")
	})

	t.Run("callback errors are returned", func(t *testing.T) {
		err := db.WithConn(ctx, func(e Executor) error {
			return fmt.Errorf("test error")
		})
		errcmp.MustMatch(t, err, "test error")
	})

	t.Run("connection is released", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			errcmp.MustMatch(t, db.WithConn(ctx, func(e Executor) error { return nil }), "")
		}
		if inUse := db.Stats().InUse; inUse != 0 {
			t.Errorf("got %d connections in use, expected 0", inUse)
		}
	})
}

func TestDB_RunInTx(t *testing.T) {
	for name, open := range map[string]func(*testing.T) (*DB, context.Context, func()){
		"sqlite":   testDB,
		"postgres": testPG,
	} {
		t.Run(name, func(t *testing.T) {
			db, ctx, cleanup := open(t)
			defer cleanup()
			testRunInTx(t, ctx, db)
		})
	}
}

func testRunInTx(t *testing.T, ctx context.Context, db *DB) {
	t.Run("transacts operations as expected", func(t *testing.T) {
		var id int64
		err := db.RunInTx(ctx, func(ctx context.Context, tx *Tx) error {
			id = insertPersonRow(ctx, t, tx, "John", "Doe", nil)
			// is found within transaction?
			if p := getPerson(ctx, t, tx, id); p.ID == 0 {
				t.Fatalf("found no person, expected person")
			}
			return nil
		})
		errcmp.MustMatch(t, err, "")

		// person committed now
		if p := getPerson(ctx, t, db, id); p.ID == 0 {
			t.Fatalf("found no person, expected person")
		}
	})

	t.Run("auto rolls back operations on panic", func(t *testing.T) {
		var id int64
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Fatalf("expected panic to propagate")
				}
			}()
			db.RunInTx(ctx, func(ctx context.Context, tx *Tx) error { // nolint:errcheck
				id = insertPersonRow(ctx, t, tx, "John", "Doe", nil)
				panic("uhoh")
			})
		}()

		if p := getPerson(ctx, t, db, id); p.ID != 0 {
			t.Fatalf("got %v, expected no person", p)
		}
	})

	t.Run("auto rolls back operations on error", func(t *testing.T) {
		var id int64
		err := db.RunInTx(ctx, func(ctx context.Context, tx *Tx) error {
			id = insertPersonRow(ctx, t, tx, "John", "Doe", nil)
			return fmt.Errorf("test error")
		})
		errcmp.MustMatch(t, err, "test error")

		if p := getPerson(ctx, t, db, id); p.ID != 0 {
			t.Fatalf("got %v, expected no person", p)
		}
	})

	t.Run("savepoints roll back nested scopes only", func(t *testing.T) {
		var outer, inner, sibling int64
		err := db.RunInTx(ctx, func(ctx context.Context, tx *Tx) error {
			outer = insertPersonRow(ctx, t, tx, "Outer", "", nil)
			err := tx.RunInTx(ctx, func(ctx context.Context, tx *Tx) error {
				inner = insertPersonRow(ctx, t, tx, "Inner", "", outer)
				return fmt.Errorf("inner error")
			})
			errcmp.MustMatch(t, err, "inner error")
			return tx.RunInTx(ctx, func(ctx context.Context, tx *Tx) error {
				sibling = insertPersonRow(ctx, t, tx, "Sibling", "", outer)
				return nil
			})
		})
		errcmp.MustMatch(t, err, "")

		if p := getPerson(ctx, t, db, outer); p.FirstName != "Outer" {
			t.Errorf("got %v, expected outer person", p)
		}
		if p := getPerson(ctx, t, db, inner); p.ID != 0 {
			t.Errorf("got %v, expected inner person rolled back", p)
		}
		if p := getPerson(ctx, t, db, sibling); p.FirstName != "Sibling" {
			t.Errorf("got %v, expected sibling person", p)
		}
	})
}

////////////////////////////////////////////////////////////////////////////////

func mustBuild(t *testing.T, tmpl *queryp.Template, env queryp.Env) queryp.Builder {
	t.Helper()
	b, err := tmpl.Eval(env)
	if err != nil {
		t.Fatalf("failed to build %s: %v", tmpl, err)
	}
	return b
}

// insertPersonRow inserts through e, using RETURNING so it works the same on every dialect.
func insertPersonRow(ctx context.Context, t *testing.T, e Executor, first, last string, parent any) int64 {
	t.Helper()
	b := mustBuild(t, insertPerson, queryp.Env{"first": first, "last": last, "parent": parent})
	var id int64
	if err := e.QueryRow(ctx, b.Append(queryp.Lit(" RETURNING id"))).Scan(&id); err != nil {
		t.Fatalf("failed to insert %s: %v", first, err)
	}
	return id
}

func getPerson(ctx context.Context, t *testing.T, e Executor, id int64) person {
	t.Helper()
	var p person
	err := e.QueryRow(ctx, mustBuild(t, selectPersonByID, queryp.Env{"id": id})).Scan(&p.ID, &p.FirstName, &p.LastName)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("failed to get person %d: %v", id, err)
	}
	return p
}

func grandchildrenSetup(ctx context.Context, t *testing.T, db *DB) person {
	t.Helper()
	id := insertPersonRow(ctx, t, db, "John", "Doe", nil)
	id2 := insertPersonRow(ctx, t, db, "Lil Johnnie", "Doe", id)
	id3 := insertPersonRow(ctx, t, db, "Lil Lil Johnnie", "Doe", id2)
	_, err := db.Exec(ctx, mustBuild(t, insertPet, queryp.Env{"name": "Eevee", "type": "Dog", "parent": id2}))
	errcmp.MustMatch(t, err, "")
	return person{
		ID: id, FirstName: "John", LastName: "Doe",
		Child: &person{
			ID: id2, FirstName: "Lil Johnnie", LastName: "Doe",
			Child: &person{
				ID: id3, FirstName: "Lil Lil Johnnie", LastName: "Doe",
			},
			Pet: &pet{ID: 1, Name: "Eevee", Type: stringPtr("Dog")},
		},
	}
}

func albertSetup(ctx context.Context, t *testing.T, db *DB) person {
	t.Helper()
	albertId := insertPersonRow(ctx, t, db, "Albert", "Einstein", nil)
	return person{
		ID: albertId, FirstName: "Albert", LastName: "Einstein",
	}
}

////////////////////////////////////////////////////////////////////////////////

// Verify some tests with Postgres as well, when a database is available.
func testPG(t *testing.T) (*DB, context.Context, func()) {
	t.Helper()

	dsn := os.Getenv("SQLSPLICE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SQLSPLICE_POSTGRES_DSN not set")
	}
	db, err := Open("postgres", dsn)
	if err != nil {
		t.Fatalf("testPG failed to open: %v", err)
	}
	return testDBSetup(t, db, "SERIAL PRIMARY KEY")
}

// testDB returns a test database and a cleanup function.
func testDB(t *testing.T) (*DB, context.Context, func()) {
	t.Helper()

	db, err := Open("sqlite3", testDSN(t))
	if err != nil {
		t.Fatalf("testDB failed to open: %v", err)
	}
	return testDBSetup(t, db, "INTEGER PRIMARY KEY")
}

// testDSN is a fresh sqlite file that tolerates concurrent writers.
func testDSN(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_txlock=immediate"
}

func testDBSetup(t *testing.T, db *DB, pk string) (*DB, context.Context, func()) {
	t.Helper()

	db.WithLogger(zerolog.New(os.Stdout).Level(zerolog.Disabled))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("testDB failed to ping: %v", err)
	}

	// Setup test tables for the tests.
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS people",
		"DROP TABLE IF EXISTS pets",
		"DROP TABLE IF EXISTS counters",
		`CREATE TABLE people (
			id ` + pk + `,
			first_name TEXT,
			last_name TEXT,
			parent_id INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE pets (
			id ` + pk + `,
			name TEXT,
			type TEXT,
			parent_id INTEGER
		)`,
		`CREATE TABLE counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
	} {
		if _, err := db.Exec(ctx, queryp.Lit(stmt)); err != nil {
			t.Fatalf("testDB failed to setup tables: %v", err)
		}
	}
	return db, ctx, func() {
		db.Close()
		cancel()
	}
}

func isWithinDuration(t1 time.Time, t2 time.Time, d time.Duration) bool {
	if t1.IsZero() || t2.IsZero() { // if the "expectation" is 0, we don't care
		return true
	}
	return time.Duration(math.Abs(float64(t1.Sub(t2)))) <= d
}

func _ptrComparer[T any](x, y *T, cmp func(a, b T) bool) bool {
	if x == nil && y == nil {
		return true
	}
	if x != nil && y != nil {
		return cmp(*x, *y)
	}
	return false
}

func _petComparer(x, y pet) bool {
	return (x.ID == y.ID &&
		x.Name == y.Name &&
		cmp.Equal(x.Type, y.Type))
}

func _personComparer(x, y person) bool {
	return (x.ID == y.ID &&
		x.FirstName == y.FirstName &&
		x.LastName == y.LastName &&
		isWithinDuration(x.CreatedAt, y.CreatedAt, 5*time.Second) &&
		isWithinDuration(x.UpdatedAt, y.UpdatedAt, 5*time.Second) &&
		_ptrComparer(x.Child, y.Child, _personComparer) &&
		_ptrComparer(x.Pet, y.Pet, _petComparer))
}

var personComparer = cmp.Comparer(_personComparer)

type person struct {
	ID        int64
	FirstName string
	LastName  string
	Child     *person
	Pet       *pet
	timestamps
}

type pet struct {
	ID   int64
	Name string
	Type *string
}

type timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

func stringPtr(s string) *string {
	return &s
}
