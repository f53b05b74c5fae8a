package pgschema

import "reflect"

// Diff is the structural difference between two snapshots of the same
// schema taken at different times, classified per spec.md §4.5 into
// added/removed/changed on each dimension.
type Diff struct {
	TablesAdded      []Table
	TablesRemoved    []Table
	TablesChanged    []TableDiff
	EnumsAdded       []Enum
	EnumsRemoved     []Enum
	EnumsChanged     []EnumDiff
	SequencesAdded   []Sequence
	SequencesRemoved []Sequence
}

// Empty reports whether the diff contains no changes at all.
func (d *Diff) Empty() bool {
	return len(d.TablesAdded) == 0 && len(d.TablesRemoved) == 0 && len(d.TablesChanged) == 0 &&
		len(d.EnumsAdded) == 0 && len(d.EnumsRemoved) == 0 && len(d.EnumsChanged) == 0 &&
		len(d.SequencesAdded) == 0 && len(d.SequencesRemoved) == 0
}

// HasDataLoss reports whether applying this diff forward could destroy
// data: dropped tables, dropped columns, or a column type change are all
// non-invertible without the original data.
func (d *Diff) HasDataLoss() bool {
	if len(d.TablesRemoved) > 0 {
		return true
	}
	for _, td := range d.TablesChanged {
		if len(td.ColumnsRemoved) > 0 {
			return true
		}
		for _, cc := range td.ColumnsChanged {
			if cc.Before.Type != cc.After.Type {
				return true
			}
		}
	}
	return false
}

// TableDiff is the field-by-field change to one table present in both
// snapshots.
type TableDiff struct {
	Name string

	ColumnsAdded   []Column
	ColumnsRemoved []Column
	ColumnsChanged []ColumnChange

	IndexesAdded   []Index
	IndexesRemoved []Index

	ChecksAdded   []Check
	ChecksRemoved []Check

	ForeignKeysAdded   []ForeignKey
	ForeignKeysRemoved []ForeignKey

	PrimaryKeyChanged bool
	PrimaryKeyBefore  []string
	PrimaryKeyAfter   []string

	UniquesAdded   [][]string
	UniquesRemoved [][]string
}

// Empty reports whether this table has no changes (and so shouldn't
// appear in Diff.TablesChanged).
func (td *TableDiff) Empty() bool {
	return len(td.ColumnsAdded) == 0 && len(td.ColumnsRemoved) == 0 && len(td.ColumnsChanged) == 0 &&
		len(td.IndexesAdded) == 0 && len(td.IndexesRemoved) == 0 &&
		len(td.ChecksAdded) == 0 && len(td.ChecksRemoved) == 0 &&
		len(td.ForeignKeysAdded) == 0 && len(td.ForeignKeysRemoved) == 0 &&
		!td.PrimaryKeyChanged && len(td.UniquesAdded) == 0 && len(td.UniquesRemoved) == 0
}

// ColumnChange is a column present in both snapshots whose definition
// differs.
type ColumnChange struct {
	Name   string
	Before Column
	After  Column
}

// EnumDiff is an enum type present in both snapshots whose value set
// differs.
type EnumDiff struct {
	Name         string
	ValuesAdded  []string
	ValuesRemoved []string
}

// Compute diffs before against after. Both snapshots must already be
// canonically sorted (Inspect guarantees this).
func Compute(before, after *Snapshot) *Diff {
	d := &Diff{}

	beforeTables := indexTables(before.Tables)
	afterTables := indexTables(after.Tables)

	for _, t := range after.Tables {
		if _, ok := beforeTables[t.Name]; !ok {
			d.TablesAdded = append(d.TablesAdded, t)
		}
	}
	for _, t := range before.Tables {
		if _, ok := afterTables[t.Name]; !ok {
			d.TablesRemoved = append(d.TablesRemoved, t)
		}
	}
	for _, b := range before.Tables {
		a, ok := afterTables[b.Name]
		if !ok {
			continue
		}
		td := diffTable(b.Name, b, a)
		if !td.Empty() {
			d.TablesChanged = append(d.TablesChanged, td)
		}
	}

	beforeEnums := indexEnums(before.Enums)
	afterEnums := indexEnums(after.Enums)
	for _, e := range after.Enums {
		if _, ok := beforeEnums[e.Name]; !ok {
			d.EnumsAdded = append(d.EnumsAdded, e)
		}
	}
	for _, e := range before.Enums {
		if _, ok := afterEnums[e.Name]; !ok {
			d.EnumsRemoved = append(d.EnumsRemoved, e)
		}
	}
	for _, b := range before.Enums {
		a, ok := afterEnums[b.Name]
		if !ok {
			continue
		}
		ed := diffEnum(b.Name, b, a)
		if len(ed.ValuesAdded) > 0 || len(ed.ValuesRemoved) > 0 {
			d.EnumsChanged = append(d.EnumsChanged, ed)
		}
	}

	beforeSeqs := indexSequences(before.Sequences)
	afterSeqs := indexSequences(after.Sequences)
	for _, s := range after.Sequences {
		if _, ok := beforeSeqs[s.Name]; !ok {
			d.SequencesAdded = append(d.SequencesAdded, s)
		}
	}
	for _, s := range before.Sequences {
		if _, ok := afterSeqs[s.Name]; !ok {
			d.SequencesRemoved = append(d.SequencesRemoved, s)
		}
	}

	return d
}

func diffTable(name string, b, a Table) TableDiff {
	td := TableDiff{Name: name}

	beforeCols := indexColumns(b.Columns)
	afterCols := indexColumns(a.Columns)
	for _, c := range a.Columns {
		if _, ok := beforeCols[c.Name]; !ok {
			td.ColumnsAdded = append(td.ColumnsAdded, c)
		}
	}
	for _, c := range b.Columns {
		if _, ok := afterCols[c.Name]; !ok {
			td.ColumnsRemoved = append(td.ColumnsRemoved, c)
		}
	}
	for _, bc := range b.Columns {
		ac, ok := afterCols[bc.Name]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(bc, ac) {
			td.ColumnsChanged = append(td.ColumnsChanged, ColumnChange{Name: bc.Name, Before: bc, After: ac})
		}
	}

	beforeIdx := indexIndexes(b.Indexes)
	afterIdx := indexIndexes(a.Indexes)
	for _, idx := range a.Indexes {
		if _, ok := beforeIdx[idx.Name]; !ok {
			td.IndexesAdded = append(td.IndexesAdded, idx)
		}
	}
	for _, idx := range b.Indexes {
		if _, ok := afterIdx[idx.Name]; !ok {
			td.IndexesRemoved = append(td.IndexesRemoved, idx)
		}
	}

	beforeChecks := indexChecks(b.Checks)
	afterChecks := indexChecks(a.Checks)
	for _, c := range a.Checks {
		if _, ok := beforeChecks[c.Name]; !ok {
			td.ChecksAdded = append(td.ChecksAdded, c)
		}
	}
	for _, c := range b.Checks {
		if _, ok := afterChecks[c.Name]; !ok {
			td.ChecksRemoved = append(td.ChecksRemoved, c)
		}
	}

	beforeFKs := indexFKs(b.ForeignKeys)
	afterFKs := indexFKs(a.ForeignKeys)
	for _, fk := range a.ForeignKeys {
		if _, ok := beforeFKs[fk.Name]; !ok {
			td.ForeignKeysAdded = append(td.ForeignKeysAdded, fk)
		}
	}
	for _, fk := range b.ForeignKeys {
		if _, ok := afterFKs[fk.Name]; !ok {
			td.ForeignKeysRemoved = append(td.ForeignKeysRemoved, fk)
		}
	}

	if !reflect.DeepEqual(b.PrimaryKey, a.PrimaryKey) {
		td.PrimaryKeyChanged = true
		td.PrimaryKeyBefore = b.PrimaryKey
		td.PrimaryKeyAfter = a.PrimaryKey
	}

	beforeUQ := map[string]bool{}
	for _, u := range b.Uniques {
		beforeUQ[joinCSV(u)] = true
	}
	afterUQ := map[string]bool{}
	for _, u := range a.Uniques {
		afterUQ[joinCSV(u)] = true
	}
	for _, u := range a.Uniques {
		if !beforeUQ[joinCSV(u)] {
			td.UniquesAdded = append(td.UniquesAdded, u)
		}
	}
	for _, u := range b.Uniques {
		if !afterUQ[joinCSV(u)] {
			td.UniquesRemoved = append(td.UniquesRemoved, u)
		}
	}

	return td
}

func diffEnum(name string, b, a Enum) EnumDiff {
	ed := EnumDiff{Name: name}
	beforeVals := map[string]bool{}
	for _, v := range b.Values {
		beforeVals[v] = true
	}
	afterVals := map[string]bool{}
	for _, v := range a.Values {
		afterVals[v] = true
	}
	for _, v := range a.Values {
		if !beforeVals[v] {
			ed.ValuesAdded = append(ed.ValuesAdded, v)
		}
	}
	for _, v := range b.Values {
		if !afterVals[v] {
			ed.ValuesRemoved = append(ed.ValuesRemoved, v)
		}
	}
	return ed
}

func indexTables(ts []Table) map[string]Table {
	m := make(map[string]Table, len(ts))
	for _, t := range ts {
		m[t.Name] = t
	}
	return m
}

func indexColumns(cs []Column) map[string]Column {
	m := make(map[string]Column, len(cs))
	for _, c := range cs {
		m[c.Name] = c
	}
	return m
}

func indexIndexes(is []Index) map[string]Index {
	m := make(map[string]Index, len(is))
	for _, i := range is {
		m[i.Name] = i
	}
	return m
}

func indexChecks(cs []Check) map[string]Check {
	m := make(map[string]Check, len(cs))
	for _, c := range cs {
		m[c.Name] = c
	}
	return m
}

func indexFKs(fks []ForeignKey) map[string]ForeignKey {
	m := make(map[string]ForeignKey, len(fks))
	for _, fk := range fks {
		m[fk.Name] = fk
	}
	return m
}

func indexEnums(es []Enum) map[string]Enum {
	m := make(map[string]Enum, len(es))
	for _, e := range es {
		m[e.Name] = e
	}
	return m
}

func indexSequences(ss []Sequence) map[string]Sequence {
	m := make(map[string]Sequence, len(ss))
	for _, s := range ss {
		m[s.Name] = s
	}
	return m
}
