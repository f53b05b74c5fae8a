package guard

import (
	"context"
	"database/sql"
	"fmt"
)

// Queryer is the minimal subset of *sql.DB / *sql.Tx the evaluator needs to
// bind a predicate to a single-row query, mirroring the narrow
// schema.ExecQuerier-style interfaces the teacher threads through its
// inspector and safety-check packages instead of taking a concrete *sql.DB.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Builtin binds a guard call name to a parameterized predicate query that
// returns exactly one boolean column. Args are passed as $1, $2, ... bound
// parameters, never interpolated into the query text.
type Builtin struct {
	// MinArgs/MaxArgs bound how many literal arguments the call accepts.
	MinArgs, MaxArgs int
	// Query returns the SQL text and bound parameters for the given call
	// arguments and the evaluator's default schema.
	Query func(schema string, args []Literal) (query string, params []any)
}

// builtins is the fixed predicate set spec.md §4.4 calls "the built-in
// predicate set plus one escape hatch" (sql(...), handled separately in
// evalCall since its semantics — run the given text as-is — differ
// from every other builtin's bind-and-query shape).
var builtins = map[string]Builtin{
	"table_exists": {
		MinArgs: 1, MaxArgs: 2,
		Query: func(schema string, args []Literal) (string, []any) {
			s, table := schemaAndName(schema, args)
			return `SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
				[]any{s, table}
		},
	},
	"column_exists": {
		MinArgs: 2, MaxArgs: 3,
		Query: func(schema string, args []Literal) (string, []any) {
			s, table, col := schemaAndTwo(schema, args)
			return `SELECT EXISTS(SELECT 1 FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 AND column_name = $3)`,
				[]any{s, table, col}
		},
	},
	"index_exists": {
		MinArgs: 2, MaxArgs: 3,
		Query: func(schema string, args []Literal) (string, []any) {
			s, table, idx := schemaAndTwo(schema, args)
			return `SELECT EXISTS(
				SELECT 1 FROM pg_indexes WHERE schemaname = $1 AND tablename = $2 AND indexname = $3
			)`, []any{s, table, idx}
		},
	},
	"constraint_exists": {
		MinArgs: 2, MaxArgs: 3,
		Query: func(schema string, args []Literal) (string, []any) {
			s, table, name := schemaAndTwo(schema, args)
			return `SELECT EXISTS(
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = $1 AND table_name = $2 AND constraint_name = $3
			)`, []any{s, table, name}
		},
	},
	"enum_exists": {
		MinArgs: 1, MaxArgs: 2,
		Query: func(schema string, args []Literal) (string, []any) {
			s, name := schemaAndName(schema, args)
			return `SELECT EXISTS(
				SELECT 1 FROM pg_type t JOIN pg_namespace n ON n.oid = t.typnamespace
				WHERE n.nspname = $1 AND t.typname = $2 AND t.typtype = 'e'
			)`, []any{s, name}
		},
	},
	"row_count": {
		MinArgs: 1, MaxArgs: 2,
		Query: func(schema string, args []Literal) (string, []any) {
			s, table := schemaAndName(schema, args)
			return `SELECT COALESCE(
				(SELECT reltuples FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
				 WHERE n.nspname = $1 AND c.relname = $2), 0)`, []any{s, table}
		},
	},
}

func schemaAndName(defaultSchema string, args []Literal) (schema, name string) {
	if len(args) == 2 {
		return args[0].Str, args[1].Str
	}
	return defaultSchema, args[0].Str
}

func schemaAndTwo(defaultSchema string, args []Literal) (schema, a, b string) {
	if len(args) == 3 {
		return args[0].Str, args[1].Str, args[2].Str
	}
	return defaultSchema, args[0].Str, args[1].Str
}

// Evaluator binds a parsed guard Expr to a live database connection.
type Evaluator struct {
	DB             Queryer
	Schema         string
	AllowEscapeSQL bool // enables the sql("...") escape hatch
}

// value is the evaluator's intermediate result: a Call can resolve to a
// bool (existence predicates) or a number (row_count); a bare atom is a
// Num or Str literal.
type value struct {
	b      bool
	n      float64
	s      string
	isBool bool
	isNum  bool
	isStr  bool
}

// Eval evaluates expr against the live schema and returns its boolean
// result. It returns an error if expr (or a sub-expression fed into a
// logical operator) does not resolve to a boolean.
func (e *Evaluator) Eval(ctx context.Context, expr Expr) (bool, error) {
	v, err := e.evalValue(ctx, expr)
	if err != nil {
		return false, err
	}
	if !v.isBool {
		return false, fmt.Errorf("guard: expression does not evaluate to a boolean")
	}
	return v.b, nil
}

func (e *Evaluator) evalValue(ctx context.Context, expr Expr) (value, error) {
	switch x := expr.(type) {
	case And:
		l, err := e.Eval(ctx, x.X)
		if err != nil {
			return value{}, err
		}
		if !l {
			return value{b: false, isBool: true}, nil
		}
		r, err := e.Eval(ctx, x.Y)
		if err != nil {
			return value{}, err
		}
		return value{b: r, isBool: true}, nil
	case Or:
		l, err := e.Eval(ctx, x.X)
		if err != nil {
			return value{}, err
		}
		if l {
			return value{b: true, isBool: true}, nil
		}
		r, err := e.Eval(ctx, x.Y)
		if err != nil {
			return value{}, err
		}
		return value{b: r, isBool: true}, nil
	case Not:
		v, err := e.Eval(ctx, x.X)
		if err != nil {
			return value{}, err
		}
		return value{b: !v, isBool: true}, nil
	case Cmp:
		return e.evalCmp(ctx, x)
	case Num:
		return value{n: x.Value, isNum: true}, nil
	case Str:
		return value{s: x.Value, isStr: true}, nil
	case Call:
		return e.evalCall(ctx, x)
	default:
		return value{}, fmt.Errorf("guard: unhandled expression node %T", expr)
	}
}

func (e *Evaluator) evalCmp(ctx context.Context, c Cmp) (value, error) {
	l, err := e.evalValue(ctx, c.X)
	if err != nil {
		return value{}, err
	}
	r, err := e.evalValue(ctx, c.Y)
	if err != nil {
		return value{}, err
	}
	var res bool
	switch {
	case l.isNum && r.isNum:
		res = compareFloat(c.Op, l.n, r.n)
	case l.isStr && r.isStr:
		res = compareString(c.Op, l.s, r.s)
	default:
		return value{}, fmt.Errorf("guard: cannot compare mismatched operand types")
	}
	return value{b: res, isBool: true}, nil
}

func compareFloat(op CmpOp, a, b float64) bool {
	switch op {
	case OpLT:
		return a < b
	case OpGT:
		return a > b
	case OpLE:
		return a <= b
	case OpGE:
		return a >= b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	default:
		return false
	}
}

func compareString(op CmpOp, a, b string) bool {
	switch op {
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	case OpLT:
		return a < b
	case OpGT:
		return a > b
	case OpLE:
		return a <= b
	case OpGE:
		return a >= b
	default:
		return false
	}
}

func (e *Evaluator) evalCall(ctx context.Context, c Call) (value, error) {
	if c.Name == "sql" {
		return e.evalSQLEscape(ctx, c)
	}
	bi, ok := builtins[c.Name]
	if !ok {
		return value{}, fmt.Errorf("guard: unknown predicate %q", c.Name)
	}
	if len(c.Args) < bi.MinArgs || len(c.Args) > bi.MaxArgs {
		return value{}, fmt.Errorf("guard: %s expects between %d and %d arguments, got %d", c.Name, bi.MinArgs, bi.MaxArgs, len(c.Args))
	}
	query, params := bi.Query(e.Schema, c.Args)
	row := e.DB.QueryRowContext(ctx, query, params...)
	if c.Name == "row_count" {
		var n float64
		if err := row.Scan(&n); err != nil {
			return value{}, fmt.Errorf("guard: evaluating %s: %w", c.Name, err)
		}
		return value{n: n, isNum: true}, nil
	}
	var b bool
	if err := row.Scan(&b); err != nil {
		return value{}, fmt.Errorf("guard: evaluating %s: %w", c.Name, err)
	}
	return value{b: b, isBool: true}, nil
}

// evalSQLEscape implements the sql("...") escape hatch: the provided text
// is executed as-is under the same connection and must return exactly one
// boolean column. It is documented as trusted input — the body is the
// migration author's responsibility (spec.md §4.4, §9 open questions).
func (e *Evaluator) evalSQLEscape(ctx context.Context, c Call) (value, error) {
	if !e.AllowEscapeSQL {
		return value{}, fmt.Errorf("guard: sql() escape hatch is disabled by configuration")
	}
	if len(c.Args) != 1 || !c.Args[0].IsString {
		return value{}, fmt.Errorf("guard: sql() expects exactly one string argument")
	}
	var b bool
	if err := e.DB.QueryRowContext(ctx, c.Args[0].Str).Scan(&b); err != nil {
		return value{}, fmt.Errorf("guard: evaluating sql() escape: %w", err)
	}
	return value{b: b, isBool: true}, nil
}
