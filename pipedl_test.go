package pipedl

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pipedl/internal/mockorigin"
)

func TestDownloaderEndToEnd(t *testing.T) {
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "fox.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write(raw.Bytes())
	require.NoError(t, gw.Close())

	origin := mockorigin.New(gz.Bytes())
	defer origin.Close()

	cfg := DefaultConfig()
	cfg.IgnoreTargetExists = true
	target := t.TempDir()

	dl := New(cfg)
	require.NoError(t, dl.Start(context.Background(), origin.URL()+"/fox.tar.gz", target))
	require.True(t, dl.IsStarted())

	deadline := time.After(10 * time.Second)
	for !dl.IsFinished() {
		select {
		case <-deadline:
			t.Fatal("download did not finish in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	snap := dl.Progress()
	require.Nil(t, snap.ErrorMessage)

	got, err := os.ReadFile(filepath.Join(target, "fox.txt"))
	require.NoError(t, err)
	require.Equal(t, content, got)

	require.NotEmpty(t, dl.ProgressLine())
}

func TestDownloaderAlreadyStarted(t *testing.T) {
	origin := mockorigin.New(make([]byte, 10))
	defer origin.Close()

	cfg := DefaultConfig()
	cfg.IgnoreTargetExists = true
	dl := New(cfg)

	require.NoError(t, dl.Start(context.Background(), origin.URL(), filepath.Join(t.TempDir(), "out")))

	err := dl.Start(context.Background(), origin.URL(), filepath.Join(t.TempDir(), "out2"))
	require.Error(t, err)
}
