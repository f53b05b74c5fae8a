package safety

import (
	"fmt"
	"strings"

	pgquery "github.com/pganalyze/pg_query_go/v5"
)

// Classified is the shape-matcher's output: the recognized Shape, the
// table it targets (empty if the shape has none), and — for ADD COLUMN —
// whether the new column is NOT NULL and whether it carries a DEFAULT.
type Classified struct {
	Shape      Shape
	Table      string
	NotNull    bool
	HasDefault bool
}

// Classify parses stmt with the real PostgreSQL grammar (via pg_query_go,
// the same parser the teacher uses for its own statement-shape analysis
// in cmd/atlas/internal/sqlparse/pgparse) and matches it against the
// fixed set of shapes spec.md §4.6 names.
func Classify(stmt string) (Classified, error) {
	tr, err := pgquery.Parse(stmt)
	if err != nil {
		return Classified{}, fmt.Errorf("safety: parse statement: %w", err)
	}
	if len(tr.Stmts) == 0 {
		return Classified{Shape: ShapeOther}, nil
	}
	node := tr.Stmts[0].Stmt

	switch {
	case node.GetCreateStmt() != nil:
		return Classified{Shape: ShapeCreateTable, Table: node.GetCreateStmt().GetRelation().GetRelname()}, nil

	case node.GetIndexStmt() != nil:
		ix := node.GetIndexStmt()
		shape := ShapeCreateIndex
		if ix.GetConcurrent() {
			shape = ShapeCreateIndexConcurrently
		}
		return Classified{Shape: shape, Table: ix.GetRelation().GetRelname()}, nil

	case node.GetDropStmt() != nil:
		drop := node.GetDropStmt()
		if drop.GetRemoveType() == pgquery.ObjectType_OBJECT_TABLE {
			table := ""
			if len(drop.GetObjects()) > 0 {
				table = lastListItemString(drop.GetObjects()[0])
			}
			return Classified{Shape: ShapeDropTable, Table: table}, nil
		}
		return Classified{Shape: ShapeOther}, nil

	case node.GetTruncateStmt() != nil:
		tr := node.GetTruncateStmt()
		table := ""
		if len(tr.GetRelations()) > 0 {
			table = tr.GetRelations()[0].GetRangeVar().GetRelname()
		}
		return Classified{Shape: ShapeTruncate, Table: table}, nil

	case node.GetAlterTableStmt() != nil:
		return classifyAlterTable(node.GetAlterTableStmt())

	case node.GetVacuumStmt() != nil:
		table := ""
		if rels := node.GetVacuumStmt().GetRels(); len(rels) > 0 {
			table = rels[0].GetVacuumRelation().GetRelation().GetRelname()
		}
		return Classified{Shape: ShapeVacuum, Table: table}, nil

	default:
		return Classified{Shape: ShapeOther}, nil
	}
}

func classifyAlterTable(alter *pgquery.AlterTableStmt) (Classified, error) {
	table := alter.GetRelation().GetRelname()
	for _, cmdNode := range alter.GetCmds() {
		cmd := cmdNode.GetAlterTableCmd()
		if cmd == nil {
			continue
		}
		switch cmd.GetSubtype() {
		case pgquery.AlterTableType_AT_AddColumn:
			def := cmd.GetDef().GetColumnDef()
			notNull, hasDefault := columnConstraints(def)
			shape := ShapeAddColumn
			switch {
			case notNull && hasDefault:
				shape = ShapeAddColumnNotNullDefault
			case notNull && !hasDefault:
				shape = ShapeAddColumnNotNullNoDefault
			}
			return Classified{Shape: shape, Table: table, NotNull: notNull, HasDefault: hasDefault}, nil
		case pgquery.AlterTableType_AT_DropColumn:
			return Classified{Shape: ShapeDropColumn, Table: table}, nil
		case pgquery.AlterTableType_AT_AlterColumnType:
			return Classified{Shape: ShapeAlterColumnType, Table: table}, nil
		}
	}
	return Classified{Shape: ShapeOther, Table: table}, nil
}

func columnConstraints(def *pgquery.ColumnDef) (notNull, hasDefault bool) {
	if def == nil {
		return false, false
	}
	for _, c := range def.GetConstraints() {
		switch c.GetConstraint().GetContype() {
		case pgquery.ConstrType_CONSTR_NOTNULL:
			notNull = true
		case pgquery.ConstrType_CONSTR_DEFAULT:
			hasDefault = true
		}
	}
	return notNull, hasDefault
}

// lastListItemString extracts the trailing string value of a qualified
// name list node (e.g. the table name in DROP TABLE schema.table).
func lastListItemString(n *pgquery.Node) string {
	items := n.GetList().GetItems()
	if len(items) == 0 {
		return ""
	}
	last := items[len(items)-1].GetString_().GetSval()
	return strings.TrimSpace(last)
}
