package queryp

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"reflect"
	"strconv"
)

// Env holds the names visible to template splice expressions.
type Env map[string]any

// EvalError reports a splice expression that could not be evaluated or spliced.
type EvalError struct {
	Expr   string
	Offset int
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("queryp: splice %q at offset %d: %v", e.Expr, e.Offset, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// evalExpr evaluates a checked expression. A nil result means SQL NULL for value splices.
func evalExpr(expr ast.Expr, env Env) (any, error) {
	v, err := eval(expr, env)
	if err != nil {
		return nil, err
	}
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

func eval(expr ast.Expr, env Env) (reflect.Value, error) {
	switch e := expr.(type) {
	case *ast.Ident:
		return evalIdent(e.Name, env)
	case *ast.BasicLit:
		return evalLit(e)
	case *ast.ParenExpr:
		return eval(e.X, env)
	case *ast.StarExpr:
		v, err := eval(e.X, env)
		if err != nil {
			return reflect.Value{}, err
		}
		v = unwrap(v)
		if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
			return reflect.Value{}, fmt.Errorf("cannot dereference %s", describe(v))
		}
		return v.Elem(), nil
	case *ast.UnaryExpr:
		return evalUnary(e, env)
	case *ast.SelectorExpr:
		v, err := eval(e.X, env)
		if err != nil {
			return reflect.Value{}, err
		}
		return selectMember(v, e.Sel.Name)
	case *ast.IndexExpr:
		return evalIndex(e, env)
	case *ast.CallExpr:
		return evalCall(e, env)
	}
	return reflect.Value{}, fmt.Errorf("unsupported expression %T", expr)
}

func evalIdent(name string, env Env) (reflect.Value, error) {
	if v, ok := env[name]; ok {
		return reflect.ValueOf(v), nil
	}
	switch name {
	case "nil":
		return reflect.Value{}, nil
	case "true":
		return reflect.ValueOf(true), nil
	case "false":
		return reflect.ValueOf(false), nil
	}
	return reflect.Value{}, fmt.Errorf("undefined: %s", name)
}

func evalLit(lit *ast.BasicLit) (reflect.Value, error) {
	switch lit.Kind {
	case token.INT:
		i, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(int(i)), nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f), nil
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil
	case token.CHAR:
		r, _, _, err := strconv.UnquoteChar(lit.Value[1:len(lit.Value)-1], '\'')
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(r), nil
	}
	return reflect.Value{}, fmt.Errorf("unsupported literal %s", lit.Value)
}

func evalUnary(e *ast.UnaryExpr, env Env) (reflect.Value, error) {
	v, err := eval(e.X, env)
	if err != nil {
		return reflect.Value{}, err
	}
	v = unwrap(v)
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("invalid operand nil for %s", e.Op)
	}
	out := reflect.New(v.Type()).Elem()
	switch {
	case e.Op == token.NOT && v.Kind() == reflect.Bool:
		out.SetBool(!v.Bool())
	case e.Op == token.SUB && v.CanInt():
		out.SetInt(-v.Int())
	case e.Op == token.SUB && v.CanFloat():
		out.SetFloat(-v.Float())
	default:
		return reflect.Value{}, fmt.Errorf("invalid operation %s on %s", e.Op, v.Type())
	}
	return out, nil
}

// selectMember resolves v.name as a method, struct field or string map key.
func selectMember(v reflect.Value, name string) (reflect.Value, error) {
	v = unwrap(v)
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("cannot select %s from nil", name)
	}
	if m := v.MethodByName(name); m.IsValid() {
		return m, nil
	}
	// Pointer receiver methods on a value
	if v.Kind() != reflect.Pointer {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		if m := p.MethodByName(name); m.IsValid() {
			return m, nil
		}
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("cannot select %s from nil %s", name, v.Type())
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		sf, ok := v.Type().FieldByName(name)
		if !ok || !sf.IsExported() {
			return reflect.Value{}, fmt.Errorf("%s has no exported field or method %s", v.Type(), name)
		}
		return v.FieldByIndex(sf.Index), nil
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			return mapIndex(v, reflect.ValueOf(name))
		}
	}
	return reflect.Value{}, fmt.Errorf("%s has no field or method %s", v.Type(), name)
}

func evalIndex(e *ast.IndexExpr, env Env) (reflect.Value, error) {
	v, err := eval(e.X, env)
	if err != nil {
		return reflect.Value{}, err
	}
	idx, err := eval(e.Index, env)
	if err != nil {
		return reflect.Value{}, err
	}
	v, idx = unwrap(v), unwrap(idx)
	for v.IsValid() && v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("cannot index nil")
	}
	switch v.Kind() {
	case reflect.Map:
		return mapIndex(v, idx)
	case reflect.Slice, reflect.Array, reflect.String:
		if !idx.IsValid() || !idx.CanInt() {
			return reflect.Value{}, fmt.Errorf("invalid index %s", describe(idx))
		}
		i := int(idx.Int())
		if i < 0 || i >= v.Len() {
			return reflect.Value{}, fmt.Errorf("index %d out of range [0:%d]", i, v.Len())
		}
		return v.Index(i), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot index %s", v.Type())
}

func mapIndex(m, key reflect.Value) (reflect.Value, error) {
	key, err := assign(key, m.Type().Key())
	if err != nil {
		return reflect.Value{}, fmt.Errorf("map key: %w", err)
	}
	if !key.Comparable() {
		return reflect.Value{}, fmt.Errorf("unhashable map key %s", describe(key))
	}
	v := m.MapIndex(key)
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("map has no key %v", key.Interface())
	}
	return v, nil
}

func evalCall(e *ast.CallExpr, env Env) (reflect.Value, error) {
	fn, err := eval(e.Fun, env)
	if err != nil {
		return reflect.Value{}, err
	}
	fn = unwrap(fn)
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return reflect.Value{}, fmt.Errorf("cannot call %s", describe(fn))
	}
	ft := fn.Type()
	if len(e.Args) < ft.NumIn()-1 || (!ft.IsVariadic() && len(e.Args) != ft.NumIn()) {
		return reflect.Value{}, fmt.Errorf("wrong argument count: have %d, want %d", len(e.Args), ft.NumIn())
	}
	args := make([]reflect.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := eval(a, env)
		if err != nil {
			return reflect.Value{}, err
		}
		in := ft.In(min(i, ft.NumIn()-1))
		if ft.IsVariadic() && i >= ft.NumIn()-1 {
			in = in.Elem()
		}
		if args[i], err = assign(v, in); err != nil {
			return reflect.Value{}, fmt.Errorf("argument %d: %w", i+1, err)
		}
	}

	out := fn.Call(args)
	switch {
	case len(out) == 1:
		return out[0], nil
	case len(out) == 2 && ft.Out(1) == errorType:
		if !out[1].IsNil() {
			return reflect.Value{}, out[1].Interface().(error)
		}
		return out[0], nil
	case len(out) == 0:
		return reflect.Value{}, errors.New("function call has no value")
	}
	return reflect.Value{}, fmt.Errorf("function returns %d values", len(out))
}

// assign makes v usable where a t is expected, converting between basic kinds like Go
// untyped constants would.
func assign(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	if !v.IsValid() {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", t)
	}
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	v = unwrap(v)
	if v.IsValid() && isBasic(v.Kind()) && isBasic(t.Kind()) &&
		(v.Kind() == reflect.String) == (t.Kind() == reflect.String) && v.Type().ConvertibleTo(t) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", describe(v), t)
}

func isBasic(k reflect.Kind) bool {
	return (k >= reflect.Bool && k <= reflect.Complex128) || k == reflect.String
}

func unwrap(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func describe(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	return v.Type().String()
}
