// Package safety classifies DDL statements by the PostgreSQL lock they
// take and the impact of that lock given the target table's size,
// producing the SAFE/CAUTION/DANGER verdict spec.md §4.6 describes.
package safety

// Shape is the recognized DDL pattern a statement matches.
type Shape string

const (
	ShapeCreateTable               Shape = "CREATE_TABLE"
	ShapeCreateIndex               Shape = "CREATE_INDEX"
	ShapeCreateIndexConcurrently   Shape = "CREATE_INDEX_CONCURRENTLY"
	ShapeAddColumn                 Shape = "ADD_COLUMN"
	ShapeAddColumnNotNullDefault   Shape = "ADD_COLUMN_NOT_NULL_DEFAULT"
	ShapeAddColumnNotNullNoDefault Shape = "ADD_COLUMN_NOT_NULL_NO_DEFAULT"
	ShapeAlterColumnType           Shape = "ALTER_COLUMN_TYPE"
	ShapeDropTable                 Shape = "DROP_TABLE"
	ShapeDropColumn                Shape = "DROP_COLUMN"
	ShapeTruncate                  Shape = "TRUNCATE"
	ShapeVacuum                    Shape = "VACUUM"
	ShapeOther                     Shape = "OTHER"
)

// LockLevel names the PostgreSQL lock mode a statement acquires on its
// target relation, ordered loosely from least to most blocking.
type LockLevel string

const (
	LockNone                  LockLevel = "NONE"
	LockRowExclusive          LockLevel = "ROW_EXCLUSIVE"
	LockShareUpdateExclusive  LockLevel = "SHARE_UPDATE_EXCLUSIVE"
	LockShareRowExclusive     LockLevel = "SHARE_ROW_EXCLUSIVE"
	LockAccessExclusive       LockLevel = "ACCESS_EXCLUSIVE"
)

// TableClass buckets a table by row count, read from pg_class.reltuples.
type TableClass string

const (
	ClassSmall  TableClass = "SMALL"
	ClassMedium TableClass = "MEDIUM"
	ClassLarge  TableClass = "LARGE"
	ClassHuge   TableClass = "HUGE"
)

// Thresholds configures the row-count boundaries between table classes.
// Defaults follow common operational guidance: below Medium is Small,
// [Medium, Large) is Medium, [Large, Huge) is Large, >= Huge is Huge.
type Thresholds struct {
	Medium float64
	Large  float64
	Huge   float64
}

// DefaultThresholds is used when the caller supplies none.
var DefaultThresholds = Thresholds{
	Medium: 10_000,
	Large:  1_000_000,
	Huge:   10_000_000,
}

// ClassifyTableSize buckets rows into a TableClass per t.
func ClassifyTableSize(rows float64, t Thresholds) TableClass {
	switch {
	case rows >= t.Huge:
		return ClassHuge
	case rows >= t.Large:
		return ClassLarge
	case rows >= t.Medium:
		return ClassMedium
	default:
		return ClassSmall
	}
}

// Verdict is the safety analyzer's final judgment on a statement.
type Verdict string

const (
	VerdictSafe    Verdict = "SAFE"
	VerdictCaution Verdict = "CAUTION"
	VerdictDanger  Verdict = "DANGER"
)

// Diagnostic is the analyzer's output for one statement.
type Diagnostic struct {
	Statement string
	Shape     Shape
	Lock      LockLevel
	Class     TableClass
	Verdict   Verdict
	Hint      string
}
