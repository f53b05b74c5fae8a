package safety

// lockLevels is the fixed shape→lock table spec.md §4.6 calls for.
var lockLevels = map[Shape]LockLevel{
	ShapeCreateTable:               LockNone,
	ShapeCreateIndex:               LockShareRowExclusive,
	ShapeCreateIndexConcurrently:   LockShareUpdateExclusive,
	ShapeAddColumn:                 LockAccessExclusive,
	ShapeAddColumnNotNullDefault:   LockAccessExclusive,
	ShapeAddColumnNotNullNoDefault: LockAccessExclusive,
	ShapeAlterColumnType:           LockAccessExclusive,
	ShapeDropTable:                 LockAccessExclusive,
	ShapeDropColumn:                LockAccessExclusive,
	ShapeTruncate:                  LockAccessExclusive,
	ShapeVacuum:                    LockShareUpdateExclusive,
	ShapeOther:                     LockNone,
}

// LockLevelFor returns the fixed lock level for a shape.
func LockLevelFor(shape Shape) LockLevel {
	if l, ok := lockLevels[shape]; ok {
		return l
	}
	return LockNone
}

// baseVerdicts are the verdict each shape carries independent of table
// size — size escalates some of these, per escalation below, but never
// de-escalates.
var baseVerdicts = map[Shape]Verdict{
	ShapeCreateTable:               VerdictSafe,
	ShapeCreateIndexConcurrently:   VerdictSafe,
	ShapeCreateIndex:               VerdictCaution,
	ShapeAddColumn:                 VerdictSafe,
	ShapeAddColumnNotNullDefault:   VerdictCaution,
	ShapeAddColumnNotNullNoDefault: VerdictCaution,
	ShapeAlterColumnType:           VerdictCaution,
	ShapeDropTable:                 VerdictDanger,
	ShapeDropColumn:                VerdictDanger,
	ShapeTruncate:                  VerdictDanger,
	ShapeVacuum:                    VerdictSafe,
	ShapeOther:                     VerdictSafe,
}

// escalatesOnSize lists shapes whose CAUTION verdict becomes DANGER once
// the target table reaches ClassLarge or bigger — an ACCESS EXCLUSIVE or
// full-table-rewrite statement against a large table blocks production
// traffic for long enough that it stops being merely cautionary.
var escalatesOnSize = map[Shape]bool{
	ShapeCreateIndex:               true,
	ShapeAddColumnNotNullDefault:   true,
	ShapeAddColumnNotNullNoDefault: true,
	ShapeAlterColumnType:           true,
}

// Judge computes the deterministic verdict for (shape, class) per
// spec.md §4.6: a fixed per-shape base verdict, escalated to DANGER when
// the shape is size-sensitive and the table is LARGE or HUGE.
func Judge(shape Shape, class TableClass) Verdict {
	v, ok := baseVerdicts[shape]
	if !ok {
		v = VerdictSafe
	}
	if v == VerdictCaution && escalatesOnSize[shape] && (class == ClassLarge || class == ClassHuge) {
		return VerdictDanger
	}
	return v
}

// rewriteHints is a static, advisory map from shape to a human-readable
// rewrite suggestion; the table's size class does not select a different
// hint. It never mutates SQL.
var rewriteHints = map[Shape]string{
	ShapeCreateIndex:               `consider CREATE INDEX CONCURRENTLY to avoid a SHARE lock blocking writes`,
	ShapeAddColumnNotNullDefault:   `consider adding the column nullable, backfilling, then adding a NOT NULL constraint in a later migration`,
	ShapeAddColumnNotNullNoDefault: `a NOT NULL column with no default requires a table rewrite on tables with existing rows`,
	ShapeAlterColumnType:           `an in-place type change rewrites the table; consider a new column + backfill + swap instead`,
	ShapeDropTable:                 `ensure the table has no remaining dependents and a backup exists before dropping`,
	ShapeDropColumn:                `data in the dropped column is unrecoverable; confirm the column is unused first`,
	ShapeTruncate:                  `TRUNCATE cannot be rolled back after commit; consider DELETE inside the migration's transaction if reversibility matters`,
}

// RewriteHint returns the advisory hint for shape, or "" if none applies.
func RewriteHint(shape Shape) string {
	return rewriteHints[shape]
}

// IsSizeSensitive reports whether shape's verdict depends on the target
// table's row count — only these shapes are worth an extra round trip to
// pg_class.reltuples.
func IsSizeSensitive(shape Shape) bool {
	return escalatesOnSize[shape]
}
