// Package scan discovers migration files in one or more directories and
// wires migfile + directive + checksum together to produce
// the in-memory migration descriptors spec.md §3/§4.1 defines, detecting
// duplicate versions and classifying hook files along the way.
package scan

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/tensorbee/waypoint/internal/checksum"
	"github.com/tensorbee/waypoint/internal/directive"
	"github.com/tensorbee/waypoint/internal/migfile"
)

// Migration is the fully-resolved descriptor for one migration file.
type Migration struct {
	Kind        migfile.Kind
	Version     string // empty for Repeatable
	Description string
	Path        string
	RawSQL      string
	Checksum    int32
	Directives  *directive.Set
}

// Hook is a classified hook file (beforeMigrate.sql, afterEachMigrate*.sql, ...).
type Hook struct {
	Name string // "beforeMigrate", "afterMigrate", "beforeEachMigrate", "afterEachMigrate"
	Path string
}

// DuplicateVersionError is returned when two files parse to the same
// Versioned version — detected before any DB work, per spec.md §4.1.
type DuplicateVersionError struct {
	Version string
	Paths   []string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("scan: duplicate version %q across files: %s", e.Version, strings.Join(e.Paths, ", "))
}

// MalformedFile is a non-fatal warning: the file was skipped, not
// aborted, per spec.md §4.1/§7.
type MalformedFile struct {
	Path string
	Err  error
}

// Result is everything one or more Scan calls produced.
type Result struct {
	Migrations []Migration
	Hooks      []Hook
	Warnings   []MalformedFile
}

// ReadFileFS is the minimal filesystem surface Scan needs, matching
// io/fs's own read-file extension interface — the same abstraction the
// teacher's migrate.Dir wraps an os.DirFS in.
type ReadFileFS interface {
	fs.ReadDirFS
	fs.ReadFileFS
}

// Scan walks every given location (non-recursively) and parses each
// .sql file it finds.
func Scan(locations []ReadFileFS) (*Result, error) {
	res := &Result{}
	seenVersions := map[string][]string{}

	for _, loc := range locations {
		entries, err := loc.ReadDir(".")
		if err != nil {
			return nil, fmt.Errorf("scan: read directory: %w", err)
		}
		// Sort for deterministic warning/ordering output; final migration
		// order is migfile.CompareVersions's job, not directory order.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
				continue
			}
			name := entry.Name()
			if hook, ok := migfile.IsHook(name); ok {
				res.Hooks = append(res.Hooks, Hook{Name: hook, Path: name})
				continue
			}

			raw, err := loc.ReadFile(name)
			if err != nil {
				res.Warnings = append(res.Warnings, MalformedFile{Path: name, Err: err})
				continue
			}
			parsed, err := migfile.Parse(name)
			if err != nil {
				res.Warnings = append(res.Warnings, MalformedFile{Path: name, Err: err})
				continue
			}

			content := string(raw)
			m := Migration{
				Kind:        parsed.Kind,
				Version:     parsed.Version,
				Description: parsed.Description,
				Path:        name,
				RawSQL:      content,
				Checksum:    checksum.Of(content),
				Directives:  directive.Parse(content),
			}
			if m.Kind == migfile.Versioned {
				seenVersions[m.Version] = append(seenVersions[m.Version], m.Path)
			}
			res.Migrations = append(res.Migrations, m)
		}
	}

	for version, paths := range seenVersions {
		if len(paths) > 1 {
			sort.Strings(paths)
			return nil, &DuplicateVersionError{Version: version, Paths: paths}
		}
	}

	sort.Slice(res.Migrations, func(i, j int) bool {
		a, b := res.Migrations[i], res.Migrations[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Kind == migfile.Repeatable {
			return a.Description < b.Description
		}
		return migfile.CompareVersions(a.Version, b.Version) < 0
	})

	return res, nil
}
