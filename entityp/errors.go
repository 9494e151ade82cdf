package entityp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("entityp: not found")
	// ErrNoID is returned when an insert did not report the id it created.
	ErrNoID = errors.New("entityp: insert returned no id")
	// ErrNoConditions is returned by operations refusing to run without a WHERE clause.
	ErrNoConditions = errors.New("entityp: no conditions given")
)

// NotFoundError returns when trying to fetch a specific entity and it was not found.
type NotFoundError struct {
	table string
	id    any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entityp: %s not found (id=%v)", e.table, e.id)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Table returns the table that was searched.
func (e *NotFoundError) Table() string {
	return e.table
}

// ID returns the ID that was searched for.
func (e *NotFoundError) ID() any {
	return e.id
}

// MetadataError reports an entity definition that does not match its record shape.
type MetadataError struct {
	Table  string
	Reason string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("entityp: invalid entity %q: %s", e.Table, e.Reason)
}
