package pgschema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Queryer is the minimal subset of *sql.DB / *sql.Tx introspection needs —
// the same narrow-interface convention used throughout this module (see
// guard.Queryer) instead of taking a concrete *sql.DB.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Inspect builds a canonical Snapshot of the given schema by reading
// information_schema and pg_catalog. It issues one query per object kind,
// mirroring the teacher's inspect.go shape.
func Inspect(ctx context.Context, db Queryer, schema string) (*Snapshot, error) {
	snap := &Snapshot{}

	tables, err := inspectTables(ctx, db, schema)
	if err != nil {
		return nil, fmt.Errorf("pgschema: inspect tables: %w", err)
	}
	snap.Tables = tables

	for i := range snap.Tables {
		t := &snap.Tables[i]
		if t.Columns, err = inspectColumns(ctx, db, schema, t.Name); err != nil {
			return nil, fmt.Errorf("pgschema: inspect columns of %s: %w", t.Name, err)
		}
		if t.PrimaryKey, t.Uniques, err = inspectKeys(ctx, db, schema, t.Name); err != nil {
			return nil, fmt.Errorf("pgschema: inspect keys of %s: %w", t.Name, err)
		}
		if t.Indexes, err = inspectIndexes(ctx, db, schema, t.Name); err != nil {
			return nil, fmt.Errorf("pgschema: inspect indexes of %s: %w", t.Name, err)
		}
		if t.Checks, err = inspectChecks(ctx, db, schema, t.Name); err != nil {
			return nil, fmt.Errorf("pgschema: inspect checks of %s: %w", t.Name, err)
		}
		if t.ForeignKeys, err = inspectForeignKeys(ctx, db, schema, t.Name); err != nil {
			return nil, fmt.Errorf("pgschema: inspect foreign keys of %s: %w", t.Name, err)
		}
	}

	if snap.Enums, err = inspectEnums(ctx, db, schema); err != nil {
		return nil, fmt.Errorf("pgschema: inspect enums: %w", err)
	}
	if snap.Sequences, err = inspectSequences(ctx, db, schema); err != nil {
		return nil, fmt.Errorf("pgschema: inspect sequences: %w", err)
	}
	snap.sortCanonical()
	return snap, nil
}

const tablesQuery = `
SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

func inspectTables(ctx context.Context, db Queryer, schema string) ([]Table, error) {
	rows, err := db.QueryContext(ctx, tablesQuery, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []Table
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name})
	}
	return tables, rows.Err()
}

const columnsQuery = `
SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

func inspectColumns(ctx context.Context, db Queryer, schema, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var name, typ, nullable, def string
		if err := rows.Scan(&name, &typ, &nullable, &def); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: typ, Nullable: nullable == "YES", Default: def})
	}
	return cols, rows.Err()
}

const keysQuery = `
SELECT tc.constraint_type, kcu.constraint_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2
  AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
ORDER BY kcu.constraint_name, kcu.ordinal_position`

func inspectKeys(ctx context.Context, db Queryer, schema, table string) (pk []string, uniques [][]string, err error) {
	rows, err := db.QueryContext(ctx, keysQuery, schema, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	uq := map[string][]string{}
	var uqOrder []string
	for rows.Next() {
		var kind, name, col string
		if err := rows.Scan(&kind, &name, &col); err != nil {
			return nil, nil, err
		}
		switch kind {
		case "PRIMARY KEY":
			pk = append(pk, col)
		case "UNIQUE":
			if _, ok := uq[name]; !ok {
				uqOrder = append(uqOrder, name)
			}
			uq[name] = append(uq[name], col)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	for _, name := range uqOrder {
		uniques = append(uniques, uq[name])
	}
	return pk, uniques, nil
}

const indexesQuery = `
SELECT i.relname AS index_name, ix.indisunique, a.attname
FROM pg_class t
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN pg_index ix ON ix.indrelid = t.oid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
WHERE n.nspname = $1 AND t.relname = $2 AND ix.indisprimary = false
  AND NOT EXISTS (
    SELECT 1 FROM pg_constraint c
    WHERE c.conrelid = ix.indrelid AND c.conindid = ix.indexrelid AND c.contype IN ('p', 'u', 'x'))
ORDER BY i.relname`

func inspectIndexes(ctx context.Context, db Queryer, schema, table string) ([]Index, error) {
	rows, err := db.QueryContext(ctx, indexesQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byName := map[string]*Index{}
	var order []string
	for rows.Next() {
		var name string
		var unique bool
		var col string
		if err := rows.Scan(&name, &unique, &col); err != nil {
			return nil, err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &Index{Name: name, Unique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []Index
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

const checksQuery = `
SELECT con.conname, pg_get_constraintdef(con.oid)
FROM pg_constraint con
JOIN pg_class t ON t.oid = con.conrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = $1 AND t.relname = $2 AND con.contype = 'c'
ORDER BY con.conname`

func inspectChecks(ctx context.Context, db Queryer, schema, table string) ([]Check, error) {
	rows, err := db.QueryContext(ctx, checksQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var checks []Check
	for rows.Next() {
		var name, expr string
		if err := rows.Scan(&name, &expr); err != nil {
			return nil, err
		}
		checks = append(checks, Check{Name: name, Expr: expr})
	}
	return checks, rows.Err()
}

const fksQuery = `
SELECT
  con.conname,
  (SELECT array_agg(att.attname ORDER BY k.ord)
     FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
     JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum),
  ref.relname,
  (SELECT array_agg(att.attname ORDER BY k.ord)
     FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
     JOIN pg_attribute att ON att.attrelid = con.confrelid AND att.attnum = k.attnum)
FROM pg_constraint con
JOIN pg_class t ON t.oid = con.conrelid
JOIN pg_class ref ON ref.oid = con.confrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = $1 AND t.relname = $2 AND con.contype = 'f'
ORDER BY con.conname`

func inspectForeignKeys(ctx context.Context, db Queryer, schema, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fksQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var fks []ForeignKey
	for rows.Next() {
		var name, refTable string
		var cols, refCols pq.StringArray
		if err := rows.Scan(&name, &cols, &refTable, &refCols); err != nil {
			return nil, err
		}
		fks = append(fks, ForeignKey{Name: name, Columns: cols, RefTable: refTable, RefColumns: refCols})
	}
	return fks, rows.Err()
}

const enumsQuery = `
SELECT t.typname, e.enumlabel
FROM pg_type t
JOIN pg_namespace n ON n.oid = t.typnamespace
JOIN pg_enum e ON e.enumtypid = t.oid
WHERE n.nspname = $1 AND t.typtype = 'e'
ORDER BY t.typname, e.enumsortorder`

func inspectEnums(ctx context.Context, db Queryer, schema string) ([]Enum, error) {
	rows, err := db.QueryContext(ctx, enumsQuery, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byName := map[string]*Enum{}
	var order []string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		e, ok := byName[name]
		if !ok {
			e = &Enum{Name: name}
			byName[name] = e
			order = append(order, name)
		}
		e.Values = append(e.Values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []Enum
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

const sequencesQuery = `
SELECT sequence_name FROM information_schema.sequences
WHERE sequence_schema = $1
  AND NOT EXISTS (
    SELECT 1 FROM pg_depend d
    JOIN pg_class c ON c.oid = d.objid AND d.classid = 'pg_class'::regclass
    JOIN pg_namespace n ON n.oid = c.relnamespace
    WHERE c.relkind = 'S' AND d.deptype IN ('a', 'i')
      AND n.nspname = sequence_schema AND c.relname = sequence_name)
ORDER BY sequence_name`

func inspectSequences(ctx context.Context, db Queryer, schema string) ([]Sequence, error) {
	rows, err := db.QueryContext(ctx, sequencesQuery, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seqs []Sequence
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		seqs = append(seqs, Sequence{Name: name})
	}
	return seqs, rows.Err()
}
