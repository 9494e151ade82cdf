package sqlp

import (
	"database/sql"
	"fmt"
)

// MappingScanner scans rows into new entities through a Mapper.
type MappingScanner[E any] struct {
	*sql.Rows
	cols   []string
	mapper Mapper[E]
}

func NewMappingScanner[E any](rows *sql.Rows, mapper Mapper[E]) *MappingScanner[E] {
	return &MappingScanner[E]{
		Rows:   rows,
		mapper: mapper,
	}
}

// WithColumns sets the entity columns, following any leading targets, by position rather than
// by the names the driver reports.
// Useful when the statement is built from known columns and names may come back qualified or
// aliased.
func (ms *MappingScanner[E]) WithColumns(cols []string) *MappingScanner[E] {
	ms.cols = cols
	return ms
}

func (ms *MappingScanner[E]) Scan() (E, error) {
	return ms.ScanWith()
}

// ScanWith scans the leading result columns into lead, and the rest into a new entity.
func (ms *MappingScanner[E]) ScanWith(lead ...any) (E, error) {
	var e E

	if ms.cols == nil {
		cols, err := ms.Columns()
		if err != nil {
			return e, fmt.Errorf("failed to get columns: %w", err)
		}
		if len(cols) < len(lead) {
			return e, fmt.Errorf("got %d columns, wanted at least %d", len(cols), len(lead))
		}
		ms.cols = cols[len(lead):]
	}

	targets, err := ms.mapper.Targets(&e, ms.cols)
	if err != nil {
		return e, err
	}

	return e, ms.Rows.Scan(append(lead, targets...)...)
}
