package fetch

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/roach88/graphstore/internal/value"
)

// Predicate decides whether an object's properties match a fetch request.
type Predicate interface {
	Match(props value.Map) (bool, error)
}

// Func adapts a Go function to a Predicate.
type Func func(props value.Map) (bool, error)

// Match implements Predicate.
func (f Func) Match(props value.Map) (bool, error) {
	return f(props)
}

type eq struct {
	key  string
	want value.Value
}

// Eq matches objects whose property key equals v. A missing property
// equals Null.
func Eq(key string, v value.Value) Predicate {
	return eq{key: key, want: v}
}

func (e eq) Match(props value.Map) (bool, error) {
	return value.Equal(props[e.key], e.want), nil
}

type and []Predicate

// And matches when every predicate matches. An empty And matches everything.
func And(preds ...Predicate) Predicate {
	return and(preds)
}

func (a and) Match(props value.Map) (bool, error) {
	for _, p := range a {
		ok, err := p.Match(props)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Expr is a CEL predicate. The object's properties are bound to the
// variable self:
//
//	self.title == "a" && has(self.count) && self.count > 2
type Expr struct {
	Source  string
	program cel.Program
}

var exprEnv = mustEnv()

func mustEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("self", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("fetch: create CEL environment: %v", err))
	}
	return env
}

// Compile parses and type-checks a CEL predicate. The expression must
// produce a bool.
func Compile(source string) (*Expr, error) {
	if source == "" {
		return nil, fmt.Errorf("compile predicate: expression is empty")
	}
	ast, issues := exprEnv.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", source, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compile predicate %q: result type is %s, want bool", source, out)
	}
	prg, err := exprEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", source, err)
	}
	return &Expr{Source: source, program: prg}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string) *Expr {
	e, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return e
}

// Match implements Predicate. Evaluation errors, such as reading a property
// the object lacks, are returned.
func (e *Expr) Match(props value.Map) (bool, error) {
	out, _, err := e.program.Eval(map[string]any{
		"self": value.MapToNative(props),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate predicate %q: %w", e.Source, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluate predicate %q: result %v is not a bool", e.Source, out.Value())
	}
	return b, nil
}
