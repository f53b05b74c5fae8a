// Package migfile parses Waypoint's Flyway-compatible migration filename
// grammar and implements the total order over dotted-integer versions.
//
//	migration  := ('V' version | 'R' | 'U' version) '__' description '.sql'
//	version    := NUM ('.' NUM)*
//	description:= [A-Za-z0-9][A-Za-z0-9_]*
package migfile

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which of the three filename shapes a file matched.
type Kind int

const (
	// Versioned migrations are applied at most once, identified by version.
	Versioned Kind = iota
	// Repeatable migrations are re-applied whenever their checksum changes.
	Repeatable
	// Undo migrations are explicit reversals of a Versioned migration.
	Undo
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Versioned:
		return "Versioned"
	case Repeatable:
		return "Repeatable"
	case Undo:
		return "Undo"
	default:
		return "Unknown"
	}
}

// Parsed is the result of successfully parsing a migration filename.
type Parsed struct {
	Kind        Kind
	Version     string // empty for Repeatable
	Description string // underscores replaced with spaces
}

const sep = "__"

// Parse parses name (a base filename, e.g. "V1.1__Add_email.sql") against the
// migration filename grammar. A file that does not match the grammar is not
// fatal to a scan: callers should warn and skip it, per spec.
func Parse(name string) (*Parsed, error) {
	if !strings.HasSuffix(name, ".sql") {
		return nil, fmt.Errorf("migfile: %q: missing .sql suffix", name)
	}
	base := strings.TrimSuffix(name, ".sql")
	idx := strings.Index(base, sep)
	if idx < 0 {
		return nil, fmt.Errorf("migfile: %q: missing \"__\" separator", name)
	}
	prefix, desc := base[:idx], base[idx+len(sep):]
	if err := validateDescription(desc); err != nil {
		return nil, fmt.Errorf("migfile: %q: %w", name, err)
	}
	p := &Parsed{Description: strings.ReplaceAll(desc, "_", " ")}
	switch {
	case prefix == "R":
		p.Kind = Repeatable
	case len(prefix) > 1 && prefix[0] == 'V':
		if err := validateVersion(prefix[1:]); err != nil {
			return nil, fmt.Errorf("migfile: %q: %w", name, err)
		}
		p.Kind = Versioned
		p.Version = prefix[1:]
	case len(prefix) > 1 && prefix[0] == 'U':
		if err := validateVersion(prefix[1:]); err != nil {
			return nil, fmt.Errorf("migfile: %q: %w", name, err)
		}
		p.Kind = Undo
		p.Version = prefix[1:]
	default:
		return nil, fmt.Errorf("migfile: %q: unrecognized prefix %q", name, prefix)
	}
	return p, nil
}

func validateDescription(desc string) error {
	if desc == "" {
		return fmt.Errorf("empty description")
	}
	for i := 0; i < len(desc); i++ {
		c := desc[i]
		alnum := c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
		if i == 0 && !alnum {
			return fmt.Errorf("description must start with a letter or digit")
		}
		if !alnum && c != '_' {
			return fmt.Errorf("description contains invalid character %q", c)
		}
	}
	return nil
}

func validateVersion(v string) error {
	if v == "" {
		return fmt.Errorf("empty version")
	}
	for _, part := range strings.Split(v, ".") {
		if part == "" {
			return fmt.Errorf("invalid version %q: empty component", v)
		}
		if _, err := strconv.ParseUint(part, 10, 64); err != nil {
			return fmt.Errorf("invalid version %q: component %q is not numeric", v, part)
		}
	}
	return nil
}

// CompareVersions implements the total order over dotted-integer versions:
// components compare as integers, and a shorter prefix is strictly less than
// a longer version when all shared components are equal ("1" < "1.1"). It
// panics if a or b is not a previously-validated version string; callers are
// expected to only compare versions that already passed Parse.
func CompareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, err := strconv.ParseUint(as[i], 10, 64)
		if err != nil {
			panic(fmt.Sprintf("migfile: invalid version component %q in %q", as[i], a))
		}
		bn, err := strconv.ParseUint(bs[i], 10, 64)
		if err != nil {
			panic(fmt.Sprintf("migfile: invalid version component %q in %q", bs[i], b))
		}
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}

// IsHook reports whether name matches one of the reserved hook filenames:
// beforeMigrate.sql, afterMigrate.sql, beforeEachMigrate*.sql, afterEachMigrate*.sql.
func IsHook(name string) (hook string, ok bool) {
	base := strings.TrimSuffix(name, ".sql")
	for _, h := range []string{"beforeMigrate", "afterMigrate"} {
		if base == h {
			return h, true
		}
	}
	for _, h := range []string{"beforeEachMigrate", "afterEachMigrate"} {
		if base == h || strings.HasPrefix(base, h) {
			return h, true
		}
	}
	return "", false
}
