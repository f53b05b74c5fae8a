package pgschema

import (
	"fmt"
	"strings"
)

// GenerateForward walks d in the dependency-safe order spec.md §4.5
// requires: create sequences and types, create tables, add columns, add
// constraints (PK, UQ, CHECK, FK last), create indexes — then emits drops
// in the reverse of that order, since anything being removed must go
// before the objects it used to depend on are gone.
func GenerateForward(d *Diff, schema string) []string {
	var stmts []string

	for _, s := range d.SequencesAdded {
		stmts = append(stmts, fmt.Sprintf(`CREATE SEQUENCE %s.%s`, q(schema), q(s.Name)))
	}
	for _, e := range d.EnumsAdded {
		stmts = append(stmts, createEnumDDL(schema, e))
	}
	for _, ed := range d.EnumsChanged {
		for _, v := range ed.ValuesAdded {
			stmts = append(stmts, fmt.Sprintf(`ALTER TYPE %s.%s ADD VALUE %s`, q(schema), q(ed.Name), lit(v)))
		}
	}

	for _, t := range orderTablesByDependency(d.TablesAdded) {
		stmts = append(stmts, createTableDDL(schema, t))
		for _, idx := range t.Indexes {
			stmts = append(stmts, createIndexDDL(schema, t.Name, idx))
		}
	}

	for _, td := range d.TablesChanged {
		for _, c := range td.ColumnsAdded {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s ADD COLUMN %s`, q(schema), q(td.Name), columnDDL(c)))
		}
		for _, cc := range td.ColumnsChanged {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s ALTER COLUMN %s TYPE %s`, q(schema), q(td.Name), q(cc.Name), cc.After.Type))
			if cc.Before.Nullable != cc.After.Nullable {
				if cc.After.Nullable {
					stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s ALTER COLUMN %s DROP NOT NULL`, q(schema), q(td.Name), q(cc.Name)))
				} else {
					stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s ALTER COLUMN %s SET NOT NULL`, q(schema), q(td.Name), q(cc.Name)))
				}
			}
		}
		if td.PrimaryKeyChanged && len(td.PrimaryKeyAfter) > 0 {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s ADD PRIMARY KEY (%s)`, q(schema), q(td.Name), qcols(td.PrimaryKeyAfter)))
		}
		for _, u := range td.UniquesAdded {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s ADD UNIQUE (%s)`, q(schema), q(td.Name), qcols(u)))
		}
		for _, c := range td.ChecksAdded {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s ADD CONSTRAINT %s CHECK (%s)`, q(schema), q(td.Name), q(c.Name), c.Expr))
		}
		for _, fk := range td.ForeignKeysAdded {
			stmts = append(stmts, foreignKeyDDL(schema, td.Name, fk))
		}
		for _, idx := range td.IndexesAdded {
			stmts = append(stmts, createIndexDDL(schema, td.Name, idx))
		}
	}

	// Drops: reverse of the create order above.
	for _, td := range d.TablesChanged {
		for _, idx := range td.IndexesRemoved {
			stmts = append(stmts, fmt.Sprintf(`DROP INDEX %s.%s`, q(schema), q(idx.Name)))
		}
		for _, fk := range td.ForeignKeysRemoved {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s DROP CONSTRAINT %s`, q(schema), q(td.Name), q(fk.Name)))
		}
		for _, c := range td.ChecksRemoved {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s DROP CONSTRAINT %s`, q(schema), q(td.Name), q(c.Name)))
		}
		for _, u := range td.UniquesRemoved {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s DROP CONSTRAINT %s_%s_key`, q(schema), q(td.Name), td.Name, strings.Join(u, "_")))
		}
		if td.PrimaryKeyChanged && len(td.PrimaryKeyBefore) > 0 && len(td.PrimaryKeyAfter) == 0 {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s DROP CONSTRAINT %s_pkey`, q(schema), q(td.Name), td.Name))
		}
		for _, c := range td.ColumnsRemoved {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s.%s DROP COLUMN %s`, q(schema), q(td.Name), q(c.Name)))
		}
	}
	for _, t := range d.TablesRemoved {
		stmts = append(stmts, fmt.Sprintf(`DROP TABLE %s.%s`, q(schema), q(t.Name)))
	}
	for _, e := range d.EnumsRemoved {
		stmts = append(stmts, fmt.Sprintf(`DROP TYPE %s.%s`, q(schema), q(e.Name)))
	}
	for _, s := range d.SequencesRemoved {
		stmts = append(stmts, fmt.Sprintf(`DROP SEQUENCE %s.%s`, q(schema), q(s.Name)))
	}

	return stmts
}

// GenerateReverse synthesizes reverse DDL for d: added↔removed swap, and
// changed columns invert their before/after pair. Non-invertible changes
// (type changes that lose precision, or anything already captured by
// Diff.HasDataLoss) are still emitted as best-effort DDL — the caller
// is expected to have already surfaced a data-loss warning from
// Diff.HasDataLoss before trusting this as a safe undo.
func GenerateReverse(d *Diff, schema string) []string {
	inverted := &Diff{
		TablesAdded:      d.TablesRemoved,
		TablesRemoved:    d.TablesAdded,
		EnumsAdded:       d.EnumsRemoved,
		EnumsRemoved:     d.EnumsAdded,
		SequencesAdded:   d.SequencesRemoved,
		SequencesRemoved: d.SequencesAdded,
	}
	for _, td := range d.TablesChanged {
		rtd := TableDiff{
			Name:               td.Name,
			ColumnsAdded:       td.ColumnsRemoved,
			ColumnsRemoved:     td.ColumnsAdded,
			IndexesAdded:       td.IndexesRemoved,
			IndexesRemoved:     td.IndexesAdded,
			ChecksAdded:        td.ChecksRemoved,
			ChecksRemoved:      td.ChecksAdded,
			ForeignKeysAdded:   td.ForeignKeysRemoved,
			ForeignKeysRemoved: td.ForeignKeysAdded,
			UniquesAdded:       td.UniquesRemoved,
			UniquesRemoved:     td.UniquesAdded,
		}
		if td.PrimaryKeyChanged {
			rtd.PrimaryKeyChanged = true
			rtd.PrimaryKeyBefore = td.PrimaryKeyAfter
			rtd.PrimaryKeyAfter = td.PrimaryKeyBefore
		}
		for _, cc := range td.ColumnsChanged {
			rtd.ColumnsChanged = append(rtd.ColumnsChanged, ColumnChange{Name: cc.Name, Before: cc.After, After: cc.Before})
		}
		inverted.TablesChanged = append(inverted.TablesChanged, rtd)
	}
	for _, ed := range d.EnumsChanged {
		inverted.EnumsChanged = append(inverted.EnumsChanged, EnumDiff{
			Name:          ed.Name,
			ValuesAdded:   ed.ValuesRemoved,
			ValuesRemoved: ed.ValuesAdded,
		})
	}
	return GenerateForward(inverted, schema)
}

// orderTablesByDependency walks tables (already sorted by name) depth
// first, visiting each table's foreign-key targets before the table
// itself, so createTableDDL's inlined FK clauses never reference a table
// that hasn't been created yet. Tables with no FK relationship to one
// another keep their incoming name order.
func orderTablesByDependency(tables []Table) []Table {
	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	visited := make(map[string]bool, len(tables))
	out := make([]Table, 0, len(tables))
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		t, ok := byName[name]
		if !ok {
			return
		}
		for _, fk := range t.ForeignKeys {
			visit(fk.RefTable)
		}
		out = append(out, t)
	}
	for _, t := range tables {
		visit(t.Name)
	}
	return out
}

func createEnumDDL(schema string, e Enum) string {
	vals := make([]string, len(e.Values))
	for i, v := range e.Values {
		vals[i] = lit(v)
	}
	return fmt.Sprintf(`CREATE TYPE %s.%s AS ENUM (%s)`, q(schema), q(e.Name), strings.Join(vals, ", "))
}

func createTableDDL(schema string, t Table) string {
	var parts []string
	for _, c := range t.Columns {
		parts = append(parts, columnDDL(c))
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", qcols(t.PrimaryKey)))
	}
	for _, u := range t.Uniques {
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", qcols(u)))
	}
	for _, c := range t.Checks {
		parts = append(parts, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", q(c.Name), c.Expr))
	}
	for _, fk := range t.ForeignKeys {
		parts = append(parts, foreignKeyClause(fk))
	}
	return fmt.Sprintf("CREATE TABLE %s.%s (\n\t%s\n)", q(schema), q(t.Name), strings.Join(parts, ",\n\t"))
}

func createIndexDDL(schema, table string, idx Index) string {
	kw := "INDEX"
	if idx.Unique {
		kw = "UNIQUE INDEX"
	}
	return fmt.Sprintf(`CREATE %s %s ON %s.%s (%s)`, kw, q(idx.Name), q(schema), q(table), qcols(idx.Columns))
}

func foreignKeyDDL(schema, table string, fk ForeignKey) string {
	return fmt.Sprintf(`ALTER TABLE %s.%s ADD %s`, q(schema), q(table), foreignKeyClause(fk))
}

func foreignKeyClause(fk ForeignKey) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		q(fk.Name), qcols(fk.Columns), q(fk.RefTable), qcols(fk.RefColumns))
}

func columnDDL(c Column) string {
	s := fmt.Sprintf("%s %s", q(c.Name), c.Type)
	if !c.Nullable {
		s += " NOT NULL"
	}
	if c.Default != "" {
		s += " DEFAULT " + c.Default
	}
	return s
}

func q(ident string) string { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` }

func qcols(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = q(c)
	}
	return strings.Join(out, ", ")
}

func lit(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }
