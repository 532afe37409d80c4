package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileCopiesStreamAndReportsProgress(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")

	rec := newRecorder()
	err := WriteFile(strings.NewReader("some decoded bytes"), target, false, rec)
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "some decoded bytes", string(got))
	require.EqualValues(t, len("some decoded bytes"), rec.unpacked)
	require.True(t, rec.finished[0])
}

func TestWriteFileOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(target, []byte("stale"), 0644))

	rec := newRecorder()
	err := WriteFile(strings.NewReader("fresh"), target, true, rec)
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(got))
}
