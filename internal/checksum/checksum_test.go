package checksum_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/checksum"
)

func TestOf_StableAcrossLineEndings(t *testing.T) {
	lf := "create table users(\n  id serial primary key\n);\n"
	crlf := "create table users(\r\n  id serial primary key\r\n);\r\n"
	noTrailingNewline := "create table users(\n  id serial primary key\n);"

	require.Equal(t, checksum.Of(lf), checksum.Of(crlf))
	require.Equal(t, checksum.Of(lf), checksum.Of(noTrailingNewline))
}

func TestOf_DifferentContentDiffers(t *testing.T) {
	require.NotEqual(t, checksum.Of("select 1;\n"), checksum.Of("select 2;\n"))
}

func TestOf_EmptyFile(t *testing.T) {
	require.Equal(t, int32(0), checksum.Of(""))
}

func TestOf_TrailingNewlineIsNotAnExtraLine(t *testing.T) {
	// A trailing "\n" produces no extra empty logical line, so the checksum
	// of a file with and without its final newline must match.
	require.Equal(t, checksum.Of("select 1;\n"), checksum.Of("select 1;"))
}

func TestOf_ExtraTrailingNewlineStillMatches(t *testing.T) {
	// The empty logical line between two trailing newlines writes zero
	// bytes into the CRC, so it doesn't change the checksum either.
	require.Equal(t, checksum.Of("select 1;\n"), checksum.Of("select 1;\n\n"))
}
