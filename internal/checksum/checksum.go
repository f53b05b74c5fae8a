// Package checksum computes the Flyway-compatible CRC32 checksum used to
// detect drift between a migration file on disk and the row recorded for it
// in the schema history table.
package checksum

import (
	"hash"
	"hash/crc32"
)

// Of computes the checksum of the given migration file content. It folds the
// file's logical lines (split on '\n', with any trailing '\r' trimmed) into a
// single CRC32 (IEEE polynomial) without writing a delimiter between lines,
// so the value is stable across trailing-newline and CRLF/LF rewrites of the
// same file. This matches Flyway's own checksum algorithm, which Waypoint
// must remain bit-compatible with.
func Of(content string) int32 {
	crc := crc32.NewIEEE()
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] != '\n' {
			continue
		}
		writeLine(crc, content[start:i])
		start = i + 1
	}
	// Final (possibly unterminated) line, if non-empty.
	if start < len(content) {
		writeLine(crc, content[start:])
	}
	return int32(crc.Sum32())
}

// writeLine folds a single logical line into the running CRC, trimming a
// trailing carriage return so "foo\r\n" and "foo\n" checksum identically.
func writeLine(crc hash.Hash32, line string) {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	_, _ = crc.Write([]byte(line))
}
