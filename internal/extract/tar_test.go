package extract

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	pushed   []string
	finished map[int]bool
	unpacked int64
}

func newRecorder() *recorder { return &recorder{finished: make(map[int]bool)} }

func (r *recorder) PushUnpackedFile(index int, name string, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, name)
}

func (r *recorder) MarkUnpackedFileFinished(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[index] = true
}

func (r *recorder) AddUnpacked(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unpacked += n
}

func buildTar(t *testing.T, entries map[string]string, dirs []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for _, d := range dirs {
		require.NoError(t, w.WriteHeader(&tar.Header{Name: d, Typeflag: tar.TypeDir, Mode: 0755}))
	}
	for name, content := range entries {
		require.NoError(t, w.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))}))
		_, err := w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractTarWritesFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	data := buildTar(t, map[string]string{
		"sub/a.txt": "hello",
		"b.txt":     "world",
	}, []string{"sub/"})

	rec := newRecorder()
	err := ExtractTar(bytes.NewReader(data), Options{OutputDir: dir, WriteWorkers: 4}, rec)
	require.NoError(t, err)

	a, err := os.ReadFile(filepath.Join(dir, "sub/a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(a))

	b, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "world", string(b))

	require.Equal(t, int64(10), rec.unpacked)
	require.Len(t, rec.finished, 2)
}

func TestExtractTarStripComponents(t *testing.T) {
	dir := t.TempDir()
	data := buildTar(t, map[string]string{"root/nested/file.txt": "x"}, nil)

	rec := newRecorder()
	err := ExtractTar(bytes.NewReader(data), Options{OutputDir: dir, StripComponents: 1, WriteWorkers: 2}, rec)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "nested/file.txt"))
	require.NoError(t, err)
}

func TestExtractTarIgnoreSymlinks(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(&tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "target"}))
	require.NoError(t, w.Close())

	rec := newRecorder()
	err := ExtractTar(bytes.NewReader(buf.Bytes()), Options{OutputDir: dir, IgnoreSymlinks: true, WriteWorkers: 1}, rec)
	require.NoError(t, err)

	_, err = os.Lstat(filepath.Join(dir, "link"))
	require.True(t, os.IsNotExist(err))
}

func TestExtractTarUnsupportedTypeFailsUnlessIgnored(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(&tar.Header{Name: "dev0", Typeflag: tar.TypeChar}))
	require.NoError(t, w.Close())

	rec := newRecorder()
	err := ExtractTar(bytes.NewReader(buf.Bytes()), Options{OutputDir: dir, WriteWorkers: 1}, rec)
	require.Error(t, err)

	err = ExtractTar(bytes.NewReader(buf.Bytes()), Options{OutputDir: dir, WriteWorkers: 1, IgnoreNodeFiles: true}, rec)
	require.NoError(t, err)
}
