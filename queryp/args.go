package queryp

import (
	"database/sql/driver"
	"fmt"
)

// Args collects placeholder arguments for a query being rendered.
// Placeholders are only handed out here, so numbering always follows the order values are
// added, no matter how the builder that produced them was composed.
type Args struct {
	placeholderer Placeholderer
	converter     driver.ValueConverter
	args          []any
}

type Placeholderer func(i int) string

func NewArgs() *Args {
	return &Args{
		placeholderer: SqlitePlaceholderer, // Default to SQLite placeholder style
	}
}

func (a *Args) WithPlaceholderer(p Placeholderer) *Args {
	if p != nil {
		a.placeholderer = p
	}
	return a
}

// WithConverter sets how values are encoded before being handed to the driver.
// Nil leaves values as they are.
func (a *Args) WithConverter(c driver.ValueConverter) *Args {
	a.converter = c
	return a
}

// Add adds an argument and returns a placeholder for it.
func (a *Args) Add(arg any) (string, error) {
	if a.converter != nil {
		v, err := a.converter.ConvertValue(arg)
		if err != nil {
			return "", fmt.Errorf("parameter %d: %w", len(a.args)+1, err)
		}
		arg = v
	}
	a.args = append(a.args, arg)
	return a.placeholderer(len(a.args) - 1), nil
}

func (a *Args) Args() []any {
	return a.args
}

func (a *Args) Len() int {
	return len(a.args)
}

////////////////////////////////////////////////////////////////////////////////

var SqlitePlaceholderer = func(i int) string {
	return "?"
}

var PostgresPlaceholderer = func(i int) string {
	return fmt.Sprintf("$%d", i+1) // Postgres placeholders start at $1, so we add 1 to the index
}
