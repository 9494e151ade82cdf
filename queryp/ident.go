package queryp

import (
	"slices"
	"strings"
)

// Ident is a possibly qualified SQL name, such as a column, a table or `schema.table.column`.
// Each part is quoted on its own when rendered, so a part can hold any text without breaking
// out of identifier position.
type Ident struct {
	parts []string
}

// NewIdent builds an identifier from its parts, outermost first. Empty parts are dropped.
func NewIdent(parts ...string) Ident {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return Ident{parts: out}
}

// ParseIdent splits a dotted name ("t.id") into an identifier.
func ParseIdent(s string) Ident {
	return NewIdent(strings.Split(s, ".")...)
}

// Parts returns a copy of the identifier parts.
func (i Ident) Parts() []string {
	return slices.Clone(i.parts)
}

// Last returns the innermost part, eg. the column of "t.id".
func (i Ident) Last() string {
	if len(i.parts) == 0 {
		return ""
	}
	return i.parts[len(i.parts)-1]
}

// IsZero reports whether the identifier has no parts.
func (i Ident) IsZero() bool {
	return len(i.parts) == 0
}

// Append returns a new identifier with the given parts added at the end.
func (i Ident) Append(parts ...string) Ident {
	return NewIdent(append(slices.Clone(i.parts), parts...)...)
}

// Qualify returns prefix.i, eg. "id" qualified by "p" is "p.id".
func (i Ident) Qualify(prefix Ident) Ident {
	return prefix.Append(i.parts...)
}

// Equal reports structural equality.
func (i Ident) Equal(o Ident) bool {
	return slices.Equal(i.parts, o.parts)
}

// Compare orders identifiers part by part.
func (i Ident) Compare(o Ident) int {
	return slices.Compare(i.parts, o.parts)
}

// String returns the unquoted dotted form, for messages and map keys.
func (i Ident) String() string {
	return strings.Join(i.parts, ".")
}

// Quote renders the identifier with every part quoted by q.
func (i Ident) Quote(q Quoter) string {
	if q == nil {
		q = DoubleQuote
	}
	quoted := make([]string, len(i.parts))
	for j, p := range i.parts {
		quoted[j] = q(p)
	}
	return strings.Join(quoted, ".")
}

////////////////////////////////////////////////////////////////////////////////

// Quoter quotes a single identifier part.
type Quoter func(part string) string

// DoubleQuote is the ANSI quoter used by sqlite and postgres.
func DoubleQuote(part string) string {
	return `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
}

// Backtick is the mysql quoter.
func Backtick(part string) string {
	return "`" + strings.ReplaceAll(part, "`", "``") + "`"
}
