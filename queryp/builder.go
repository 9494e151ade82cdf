package queryp

import (
	"fmt"
	"slices"
	"strings"
)

// Builder is an immutable SQL fragment: literal text, bound parameters and embedded
// identifiers in order. Builders compose with Concat and are only turned into text plus
// arguments by Render, which is when placeholders get their positions.
// The zero Builder is the empty fragment.
type Builder struct {
	segs []segment
}

type segmentKind uint8

const (
	literalSegment segmentKind = iota
	paramSegment
	identSegment
)

type segment struct {
	kind  segmentKind
	text  string
	value any
	ident Ident
}

// Fragment is implemented by anything that can be spliced into a builder as raw SQL.
type Fragment interface {
	SQL() Builder
}

// Empty returns the empty builder.
func Empty() Builder {
	return Builder{}
}

// Lit returns a builder of fixed SQL text.
func Lit(text string) Builder {
	if text == "" {
		return Builder{}
	}
	return Builder{segs: []segment{{kind: literalSegment, text: text}}}
}

// Param returns a builder holding a single placeholder bound to v.
func Param(v any) Builder {
	return Builder{segs: []segment{{kind: paramSegment, value: v}}}
}

// Embed returns a builder rendering the quoted identifier.
func Embed(i Ident) Builder {
	if i.IsZero() {
		return Builder{}
	}
	return Builder{segs: []segment{{kind: identSegment, ident: i}}}
}

// Concat joins builders in order.
func Concat(bs ...Builder) Builder {
	n := 0
	for _, b := range bs {
		n += len(b.segs)
	}
	if n == 0 {
		return Builder{}
	}
	segs := make([]segment, 0, n)
	for _, b := range bs {
		segs = append(segs, b.segs...)
	}
	return Builder{segs: segs}
}

// Join concatenates builders with sep placed between them, never before or after.
func Join(sep string, bs ...Builder) Builder {
	parts := make([]Builder, 0, len(bs)*2)
	s := Lit(sep)
	for i, b := range bs {
		if i > 0 {
			parts = append(parts, s)
		}
		parts = append(parts, b)
	}
	return Concat(parts...)
}

// Append returns b followed by bs.
func (b Builder) Append(bs ...Builder) Builder {
	return Concat(append([]Builder{b}, bs...)...)
}

// Map transforms the literal text of b. Parameters and identifiers are left alone.
func (b Builder) Map(f func(string) string) Builder {
	segs := slices.Clone(b.segs)
	for i := range segs {
		if segs[i].kind == literalSegment {
			segs[i].text = f(segs[i].text)
		}
	}
	return Builder{segs: segs}
}

// IsEmpty reports whether rendering b would produce nothing.
func (b Builder) IsEmpty() bool {
	for _, s := range b.segs {
		if s.kind != literalSegment || s.text != "" {
			return false
		}
	}
	return true
}

// Params returns the bound values in placeholder order, before any encoding.
func (b Builder) Params() []any {
	var out []any
	for _, s := range b.segs {
		if s.kind == paramSegment {
			out = append(out, s.value)
		}
	}
	return out
}

// Render produces the final statement text and its arguments for the dialect.
// It fails only when a bound value cannot be encoded by the dialect's converter.
func (b Builder) Render(d Dialect) (string, []any, error) {
	args := d.Args()
	q := strings.Builder{}
	for _, s := range b.segs {
		switch s.kind {
		case literalSegment:
			q.WriteString(s.text)
		case identSegment:
			q.WriteString(d.QuoteIdent(s.ident))
		case paramSegment:
			ph, err := args.Add(s.value)
			if err != nil {
				return "", nil, fmt.Errorf("queryp: render: %w", err)
			}
			q.WriteString(ph)
		}
	}
	return q.String(), args.Args(), nil
}

// String renders b with SQLite placeholders, for debugging. Values are not encoded.
func (b Builder) String() string {
	d := SQLite
	d.Converter = nil
	q, _, _ := b.Render(d)
	return q
}
