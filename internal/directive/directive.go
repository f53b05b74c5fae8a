// Package directive extracts "-- waypoint:*" header directives from a
// migration file, matching the syntax documented in spec.md §6:
//
//	^--\s*waypoint:<key>(\s+<value>)?$
//
// Directives only count when they appear in the contiguous block of leading
// "--"-prefixed lines, before the first non-comment token in the file — the
// same convention the teacher uses for its own "-- atlas:*" directives
// (sql/migrate/dir.go), except Waypoint's prefix matching is word-bounded so
// "waypoint:env" and "waypoint:environment" never collide.
package directive

import (
	"regexp"
	"strings"
)

// Recognized directive keys.
const (
	Env            = "env"
	Depends        = "depends"
	Require        = "require"
	Ensure         = "ensure"
	SafetyOverride = "safety-override"
)

// Set is the parsed directive header of a single migration file.
type Set struct {
	Env            []string
	Depends        []string
	Require        []string
	Ensure         []string
	SafetyOverride bool
}

var reLine = regexp.MustCompile(`^--\s*waypoint:([A-Za-z][A-Za-z-]*)(?:\s+(.*))?$`)

// Parse scans the leading comment header of content and returns the
// accumulated directive Set. It stops at the first line that is not a
// comment line, so directives never leak in from statement bodies.
func Parse(content string) *Set {
	set := &Set{}
	for _, raw := range headerLines(content) {
		line := strings.TrimRight(raw, " \t")
		m := reLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := m[1], strings.TrimSpace(m[2])
		switch key {
		case Env:
			set.Env = append(set.Env, splitCSV(value)...)
		case Depends:
			set.Depends = append(set.Depends, splitCSV(value)...)
		case Require:
			if value != "" {
				set.Require = append(set.Require, value)
			}
		case Ensure:
			if value != "" {
				set.Ensure = append(set.Ensure, value)
			}
		case SafetyOverride:
			set.SafetyOverride = true
		}
	}
	return set
}

// headerLines returns the contiguous run of leading lines that begin with
// "--", stopping as soon as a blank line or a non-comment line is seen.
func headerLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		if !strings.HasPrefix(trimmed, "--") {
			break
		}
		lines = append(lines, strings.TrimRight(strings.TrimRight(line, "\r"), " \t"))
	}
	return lines
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
