package queryp

import (
	"database/sql/driver"
	"strings"
)

// Dialect is the live context a builder is rendered against: how placeholders look, how
// identifiers are quoted and how values are encoded.
type Dialect struct {
	Name          string
	Placeholderer Placeholderer
	Quoter        Quoter
	Converter     driver.ValueConverter // nil passes values through untouched
	Returning     bool                  // supports INSERT ... RETURNING
}

var (
	SQLite = Dialect{
		Name:          "sqlite",
		Placeholderer: SqlitePlaceholderer,
		Quoter:        DoubleQuote,
		Converter:     driver.DefaultParameterConverter,
		Returning:     true,
	}
	Postgres = Dialect{
		Name:          "postgres",
		Placeholderer: PostgresPlaceholderer,
		Quoter:        DoubleQuote,
		Converter:     driver.DefaultParameterConverter,
		Returning:     true,
	}
	MySQL = Dialect{
		Name:          "mysql",
		Placeholderer: SqlitePlaceholderer,
		Quoter:        Backtick,
		Converter:     driver.DefaultParameterConverter,
	}
)

// DialectFor picks a dialect from a database/sql driver name, defaulting to SQLite.
func DialectFor(driverName string) Dialect {
	switch {
	case strings.HasPrefix(driverName, "postgres"), driverName == "pgx":
		return Postgres
	case strings.HasPrefix(driverName, "mysql"):
		return MySQL
	default:
		return SQLite
	}
}

// Args returns a fresh argument collector for the dialect.
func (d Dialect) Args() *Args {
	return NewArgs().WithPlaceholderer(d.Placeholderer).WithConverter(d.Converter)
}

// QuoteIdent quotes i for the dialect.
func (d Dialect) QuoteIdent(i Ident) string {
	return i.Quote(d.Quoter)
}
