package queryp

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// Template is a parsed SQL template. Literal SQL is kept as is, while splices hold Go
// expressions evaluated against an Env when the template is built:
//
//	#{expr}  value splice, bound as a placeholder parameter
//	!{expr}  identifier splice, quoted and embedded (Ident, string or []string)
//	^{expr}  builder splice, a Builder or Fragment concatenated in place
//
// Doubling the marker (`##{`) writes the marker and brace literally.
// A Template is immutable and can be built any number of times, concurrently.
type Template struct {
	text  string
	parts []part
}

type spliceKind uint8

const (
	literalPart spliceKind = iota
	valueSplice
	identSplice
	rawSplice
)

var spliceMarkers = map[byte]spliceKind{
	'#': valueSplice,
	'!': identSplice,
	'^': rawSplice,
}

type part struct {
	kind   spliceKind
	text   string // literal text, or the expression source of a splice
	expr   ast.Expr
	offset int
}

// SyntaxError reports a malformed template.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("queryp: template syntax error at offset %d: %s", e.Offset, e.Msg)
}

// NewTemplate parses text into a Template.
func NewTemplate(text string) (*Template, error) {
	parts, err := parseTemplate(text)
	if err != nil {
		return nil, err
	}
	return &Template{text: text, parts: parts}, nil
}

// Must panics on a parse error. Meant for package level templates, so a bad template fails
// as soon as the program (or its tests) start.
func Must(t *Template, err error) *Template {
	if err != nil {
		panic(err)
	}
	return t
}

// MustParse is Must(NewTemplate(text)).
func MustParse(text string) *Template {
	return Must(NewTemplate(text))
}

// Eval builds the template against env.
func (t *Template) Eval(env Env) (Builder, error) {
	bs := make([]Builder, 0, len(t.parts))
	for _, p := range t.parts {
		if p.kind == literalPart {
			bs = append(bs, Lit(p.text))
			continue
		}
		v, err := evalExpr(p.expr, env)
		if err != nil {
			return Builder{}, &EvalError{Expr: p.text, Offset: p.offset, Err: err}
		}
		b, err := p.splice(v)
		if err != nil {
			return Builder{}, &EvalError{Expr: p.text, Offset: p.offset, Err: err}
		}
		bs = append(bs, b)
	}
	return Concat(bs...), nil
}

// Build returns a TemplateBuilder that can be used to bind data for the template.
func (t *Template) Build() *TemplateBuilder {
	return newTemplateBuilder(t)
}

// Param sets a named value visible to splice expressions.
// Proxies to TemplateBuilder under the hood.
func (t *Template) Param(key string, val any) *TemplateBuilder {
	return t.Build().Param(key, val)
}

// Params sets multiple named values at a time (additive with existing ones).
// Proxies to TemplateBuilder under the hood.
func (t *Template) Params(params map[string]any) *TemplateBuilder {
	return t.Build().Params(params)
}

// Dialect sets the dialect to render with.
// Proxies to TemplateBuilder under the hood.
func (t *Template) Dialect(d Dialect) *TemplateBuilder {
	return t.Build().Dialect(d)
}

// Execute renders the template with no bound values.
// Proxies to TemplateBuilder under the hood.
func (t *Template) Execute() (string, []any, error) {
	return t.Build().Execute()
}

func (t *Template) String() string {
	return t.text
}

func (p part) splice(v any) (Builder, error) {
	switch p.kind {
	case valueSplice:
		switch v.(type) {
		case Builder, *Builder, Fragment:
			return Builder{}, fmt.Errorf("value splice given a %T, use ^{} to splice builders", v)
		}
		return Param(v), nil
	case identSplice:
		i, err := toIdent(v)
		if err != nil {
			return Builder{}, err
		}
		if i.IsZero() {
			return Builder{}, fmt.Errorf("identifier splice given an empty identifier")
		}
		return Embed(i), nil
	case rawSplice:
		return toBuilder(v)
	}
	return Builder{}, fmt.Errorf("unknown splice kind %d", p.kind)
}

func toIdent(v any) (Ident, error) {
	switch v := v.(type) {
	case Ident:
		return v, nil
	case *Ident:
		if v != nil {
			return *v, nil
		}
	case string:
		return ParseIdent(v), nil
	case []string:
		return NewIdent(v...), nil
	}
	return Ident{}, fmt.Errorf("identifier splice given %T, wanted Ident, string or []string", v)
}

func toBuilder(v any) (Builder, error) {
	switch v := v.(type) {
	case Builder:
		return v, nil
	case *Builder:
		if v != nil {
			return *v, nil
		}
	case Fragment:
		return v.SQL(), nil
	}
	return Builder{}, fmt.Errorf("builder splice given %T, wanted Builder or Fragment", v)
}

////////////////////////////////////////////////////////////////////////////////

// TemplateBuilder binds values and a dialect to a Template.
type TemplateBuilder struct {
	*Template
	params  Env
	dialect Dialect
}

func newTemplateBuilder(t *Template) *TemplateBuilder {
	return &TemplateBuilder{
		Template: t,
		params:   make(Env),
		dialect:  SQLite,
	}
}

// Dialect sets the dialect Execute renders with (defaults to SQLite).
func (t *TemplateBuilder) Dialect(d Dialect) *TemplateBuilder {
	t.dialect = d
	return t
}

func (t *TemplateBuilder) Param(key string, val any) *TemplateBuilder {
	return t.Params(map[string]any{key: val})
}

func (t *TemplateBuilder) Params(params map[string]any) *TemplateBuilder {
	for k, v := range params {
		t.params[k] = v
	}
	return t
}

// Builder evaluates the template against the bound values.
func (t *TemplateBuilder) Builder() (Builder, error) {
	return t.Template.Eval(t.params)
}

// Execute evaluates and renders the template.
func (t *TemplateBuilder) Execute() (string, []any, error) {
	b, err := t.Builder()
	if err != nil {
		return "", nil, err
	}
	return b.Render(t.dialect)
}

////////////////////////////////////////////////////////////////////////////////

func parseTemplate(text string) ([]part, error) {
	var parts []part
	lit := strings.Builder{}
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, part{kind: literalPart, text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		kind, ok := spliceMarkers[c]
		if !ok {
			lit.WriteByte(c)
			continue
		}
		// Escaped marker, eg. "##{" is a literal "#{"
		if strings.HasPrefix(text[i+1:], string(c)+"{") {
			lit.WriteByte(c)
			lit.WriteByte('{')
			i += 2
			continue
		}
		if i+1 >= len(text) || text[i+1] != '{' {
			lit.WriteByte(c)
			continue
		}
		end, err := spliceEnd(text, i+2)
		if err != nil {
			return nil, err
		}
		src := text[i+2 : end]
		if strings.TrimSpace(src) == "" {
			return nil, &SyntaxError{Offset: i, Msg: "empty splice"}
		}
		expr, err := parser.ParseExpr(src)
		if err != nil {
			return nil, &SyntaxError{Offset: i, Msg: fmt.Sprintf("invalid expression %q: %v", src, err)}
		}
		if err := checkExpr(expr); err != nil {
			return nil, &SyntaxError{Offset: i, Msg: fmt.Sprintf("invalid expression %q: %v", src, err)}
		}
		flush()
		parts = append(parts, part{kind: kind, text: src, expr: expr, offset: i})
		i = end
	}
	flush()
	return parts, nil
}

// spliceEnd returns the index of the brace closing a splice body starting at start.
// Nested braces are counted, and braces inside Go string or rune literals are skipped.
func spliceEnd(text string, start int) (int, error) {
	depth := 1
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		case '"', '\'':
			i = skipQuoted(text, i, text[i], true)
		case '`':
			i = skipQuoted(text, i, '`', false)
		}
	}
	return 0, &SyntaxError{Offset: start - 2, Msg: "unterminated splice"}
}

// skipQuoted returns the index of the quote closing the literal opened at i, or len(text).
func skipQuoted(text string, i int, quote byte, escapes bool) int {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			if escapes {
				j++
			}
		case quote:
			return j
		}
	}
	return len(text)
}

// checkExpr rejects expressions the evaluator does not support.
func checkExpr(expr ast.Expr) error {
	var err error
	ast.Inspect(expr, func(n ast.Node) bool {
		if err != nil || n == nil {
			return false
		}
		switch n := n.(type) {
		case *ast.Ident, *ast.SelectorExpr, *ast.IndexExpr, *ast.ParenExpr, *ast.StarExpr:
		case *ast.BasicLit:
			if n.Kind == token.IMAG {
				err = fmt.Errorf("imaginary literals are not supported")
			}
		case *ast.CallExpr:
			if n.Ellipsis.IsValid() {
				err = fmt.Errorf("variadic calls are not supported")
			}
		case *ast.UnaryExpr:
			if n.Op != token.SUB && n.Op != token.NOT {
				err = fmt.Errorf("unary %s is not supported", n.Op)
			}
		default:
			err = fmt.Errorf("%T is not supported", n)
		}
		return err == nil
	})
	return err
}
