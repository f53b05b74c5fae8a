// Package guard implements the boolean expression language used by
// "-- waypoint:require" and "-- waypoint:ensure" directives: a small
// recursive-descent grammar over built-in schema predicates, evaluated
// against the live database with parameterized queries (spec.md §4.4).
package guard

// Expr is the guard AST. The concrete node types below form a closed,
// tagged variant the same way schema.Change does in the teacher — callers
// type-switch rather than calling an interface method.
type Expr interface{ expr() }

// Call is a predicate invocation, e.g. table_exists("users").
type Call struct {
	Name string
	Args []Literal
}

// Literal is a parsed argument to a Call: either a string or a number.
type Literal struct {
	Str      string
	Num      float64
	IsString bool
}

// And is a conjunction of two sub-expressions.
type And struct{ X, Y Expr }

// Or is a disjunction of two sub-expressions.
type Or struct{ X, Y Expr }

// Not negates a sub-expression.
type Not struct{ X Expr }

// CmpOp enumerates the comparison operators the grammar accepts.
type CmpOp string

// Supported comparison operators.
const (
	OpLT CmpOp = "<"
	OpGT CmpOp = ">"
	OpLE CmpOp = "<="
	OpGE CmpOp = ">="
	OpEQ CmpOp = "="
	OpNE CmpOp = "!="
)

// Cmp compares two atoms, each a literal or a Call whose result is
// compared directly, e.g. row_count("t") > 1000. Both sides must evaluate
// to numbers or both to strings.
type Cmp struct {
	Op   CmpOp
	X, Y Expr
}

// Num is a bare numeric literal used as an atom.
type Num struct{ Value float64 }

// Str is a bare string literal used as an atom.
type Str struct{ Value string }

func (Call) expr() {}
func (And) expr()  {}
func (Or) expr()   {}
func (Not) expr()  {}
func (Cmp) expr()  {}
func (Num) expr()  {}
func (Str) expr()  {}
