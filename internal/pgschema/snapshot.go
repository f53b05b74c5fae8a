// Package pgschema models a normalized snapshot of a single PostgreSQL
// schema's structure, introspects it from a live connection, diffs two
// snapshots, and generates forward/reverse DDL from the diff.
package pgschema

import "sort"

// Snapshot is a canonical, name-sorted view of everything in one managed
// schema that migrations can affect: tables, enum types, and sequences.
// Canonical ordering means two snapshots of the same schema state diff
// deterministically regardless of catalog scan order.
type Snapshot struct {
	Tables    []Table
	Enums     []Enum
	Sequences []Sequence
}

// Table describes one table's columns, keys, indexes, and check
// constraints.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	Uniques     [][]string
	Indexes     []Index
	Checks      []Check
	ForeignKeys []ForeignKey
}

// Column describes a single column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string // empty means no default
}

// Index describes a non-constraint index (constraint-backed indexes are
// represented via PrimaryKey/Uniques instead, matching how
// information_schema separates the two).
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// Check is a named CHECK constraint and its boolean expression.
type Check struct {
	Name string
	Expr string
}

// ForeignKey describes a FOREIGN KEY constraint.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// Enum describes a CREATE TYPE ... AS ENUM value.
type Enum struct {
	Name   string
	Values []string
}

// Sequence describes a standalone sequence (not one implicitly owned by a
// serial/identity column).
type Sequence struct {
	Name string
}

func (s *Snapshot) sortCanonical() {
	sort.Slice(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	for i := range s.Tables {
		s.Tables[i].sortCanonical()
	}
	sort.Slice(s.Enums, func(i, j int) bool { return s.Enums[i].Name < s.Enums[j].Name })
	sort.Slice(s.Sequences, func(i, j int) bool { return s.Sequences[i].Name < s.Sequences[j].Name })
}

func (t *Table) sortCanonical() {
	sort.Slice(t.Columns, func(i, j int) bool { return t.Columns[i].Name < t.Columns[j].Name })
	sort.Slice(t.Indexes, func(i, j int) bool { return t.Indexes[i].Name < t.Indexes[j].Name })
	sort.Slice(t.Checks, func(i, j int) bool { return t.Checks[i].Name < t.Checks[j].Name })
	sort.Slice(t.ForeignKeys, func(i, j int) bool { return t.ForeignKeys[i].Name < t.ForeignKeys[j].Name })
	sort.Strings(t.PrimaryKey)
	sort.Slice(t.Uniques, func(i, j int) bool {
		return joinCSV(t.Uniques[i]) < joinCSV(t.Uniques[j])
	})
}

func joinCSV(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// TableByName returns the table with the given name, or nil.
func (s *Snapshot) TableByName(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// ColumnByName returns the column with the given name, or nil.
func (t *Table) ColumnByName(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}
