package feed

import (
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/PhiYerion/bucface/internal/protocol"
)

// Filter is a compiled CEL predicate over cached events. The expression sees
// id, author, machine, body and ts_ms. The zero Filter matches everything.
//
//	author == "alice" && body.contains("deploy")
//	machine.startsWith("web-") && ts_ms > 1700000000000
type Filter struct {
	prog cel.Program
}

// CompileFilter parses and type-checks expr. An empty expression yields a
// Filter that matches every event.
func CompileFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.UintType),
		cel.Variable("author", cel.StringType),
		cel.Variable("machine", cel.StringType),
		cel.Variable("body", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, &FilterTypeError{Expr: expr, Type: ast.OutputType().String()}
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog}, nil
}

// FilterTypeError rejects expressions that do not evaluate to a bool.
type FilterTypeError struct {
	Expr string
	Type string
}

func (e *FilterTypeError) Error() string {
	return "feed: filter " + e.Expr + " evaluates to " + e.Type + ", want bool"
}

// Match evaluates the filter against ev. Evaluation errors count as no match.
func (f Filter) Match(ev protocol.PersistedEvent) bool {
	if f.prog == nil {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":      ev.ID,
		"author":  ev.Author,
		"machine": ev.Machine,
		"body":    ev.Body,
		"ts_ms":   ev.Timestamp.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
