// Package extract writes a decoded byte stream out to disk, either as a
// single file or by unpacking a tar archive.
package extract

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProgressRecorder receives unpack progress notifications. progress.State
// satisfies this implicitly.
type ProgressRecorder interface {
	PushUnpackedFile(index int, name string, size int64)
	MarkUnpackedFileFinished(index int)
	AddUnpacked(n int64)
}

// Options configures one tar extraction run.
type Options struct {
	OutputDir       string
	StripComponents int
	Overwrite       bool
	IgnoreSymlinks  bool
	IgnoreNodeFiles bool
	WriteWorkers    int
	StopCh          <-chan struct{}
}

type pendingDir struct {
	path string
	mode os.FileMode
	uid  int
	gid  int
}

// ExtractTar unpacks a tar stream under opts.OutputDir. Directory entries
// are collected and applied only after every regular file has been
// written, since an archive may list a directory's mtime/mode before a
// later sibling entry that should not perturb it again.
func ExtractTar(stream io.Reader, opts Options, rec ProgressRecorder) error {
	writeWorkers := opts.WriteWorkers
	if writeWorkers < 1 {
		writeWorkers = 1
	}
	openFileTokens := make(chan bool, writeWorkers)
	for i := 0; i < writeWorkers; i++ {
		openFileTokens <- true
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	var dirs []pendingDir
	index := 0
	tarReader := tar.NewReader(stream)

	for {
		select {
		case <-opts.StopCh:
			wg.Wait()
			return fmt.Errorf("extraction stopped")
		default:
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			wg.Wait()
			return fmt.Errorf("reading tar entry: %w", err)
		}

		name := header.Name
		linkName := header.Linkname
		if opts.StripComponents > 0 {
			parts := strings.Split(name, "/")
			if opts.StripComponents < len(parts) {
				name = filepath.Join(parts[opts.StripComponents:]...)
			} else {
				name = ""
			}
			if linkName != "" {
				lparts := strings.Split(linkName, "/")
				if opts.StripComponents < len(lparts) {
					linkName = filepath.Join(lparts[opts.StripComponents:]...)
				}
			}
		}
		if name == "" {
			continue
		}

		path := filepath.Join(opts.OutputDir, name)
		info := header.FileInfo()
		pathDir := filepath.Dir(path)
		if err := os.MkdirAll(pathDir, 0755); err != nil {
			wg.Wait()
			return fmt.Errorf("creating parent dir for %s: %w", name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			dirs = append(dirs, pendingDir{path: path, mode: info.Mode(), uid: header.Uid, gid: header.Gid})
		case tar.TypeReg:
			buf, err := io.ReadAll(tarReader)
			if err != nil {
				wg.Wait()
				return fmt.Errorf("reading %s: %w", name, err)
			}
			myIndex := index
			index++
			rec.PushUnpackedFile(myIndex, name, int64(len(buf)))
			<-openFileTokens
			wg.Add(1)
			go writeFileAsync(path, buf, header, &wg, openFileTokens, opts.Overwrite, rec, myIndex, setErr)
		case tar.TypeLink:
			if opts.IgnoreSymlinks {
				continue
			}
			newPath := filepath.Join(opts.OutputDir, linkName)
			wg.Wait()
			if err := hardLink(newPath, path, header, opts.Overwrite); err != nil {
				return fmt.Errorf("hardlinking %s: %w", name, err)
			}
		case tar.TypeSymlink:
			if opts.IgnoreSymlinks {
				continue
			}
			if opts.Overwrite {
				if _, err := os.Lstat(path); err == nil {
					os.Remove(path)
				}
			}
			if err := os.Symlink(linkName, path); err != nil {
				wg.Wait()
				return fmt.Errorf("symlinking %s: %w", name, err)
			}
			os.Lchown(path, header.Uid, header.Gid)
		default:
			if !opts.IgnoreNodeFiles {
				wg.Wait()
				return fmt.Errorf("unsupported tar entry type %q in %s", string(header.Typeflag), name)
			}
		}
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.mode); err != nil {
			return fmt.Errorf("creating dir %s: %w", d.path, err)
		}
		os.Chmod(d.path, d.mode)
		os.Chown(d.path, d.uid, d.gid)
	}

	return nil
}

func writeFileAsync(filename string, buf []byte, header *tar.Header, wg *sync.WaitGroup, tokens chan bool, overwrite bool, rec ProgressRecorder, index int, setErr func(error)) {
	defer wg.Done()
	defer func() { tokens <- true }()
	defer rec.MarkUnpackedFileFinished(index)

	if overwrite {
		if _, err := os.Stat(filename); err == nil {
			os.Remove(filename)
		}
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, header.FileInfo().Mode())
	if err != nil {
		setErr(fmt.Errorf("creating %s: %w", filename, err))
		return
	}
	defer file.Close()
	defer os.Chmod(filename, header.FileInfo().Mode())
	defer os.Chown(filename, header.Uid, header.Gid)

	n, err := io.Copy(file, bytes.NewReader(buf))
	if err != nil {
		setErr(fmt.Errorf("writing %s: %w", filename, err))
		return
	}
	rec.AddUnpacked(n)
}

func hardLink(newPath, path string, header *tar.Header, overwrite bool) error {
	if overwrite {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
	}
	if err := os.Link(newPath, path); err != nil {
		return err
	}
	os.Chown(path, header.Uid, header.Gid)
	return nil
}
