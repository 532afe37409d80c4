// Package codec dispatches a resolved URL to the decompression reader
// matching its suffix. Every stream is decode-only: the pipeline never
// writes compressed output.
package codec

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"
)

// NewDecoder wraps r in the decompressor matching url's suffix. A plain
// .tar passes through unchanged; any other unrecognized suffix is an error.
func NewDecoder(url string, r io.Reader) (io.Reader, error) {
	switch {
	case hasSuffix(url, ".tar.gz", ".tgz", ".gz"):
		return gzip.NewReader(r)
	case hasSuffix(url, ".tar.bz2", ".tbz2", ".bz2"):
		return bzip2.NewReader(r), nil
	case hasSuffix(url, ".tar.xz", ".xz"):
		return xz.NewReader(r)
	case hasSuffix(url, ".tar.zst", ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &zstdReadCloser{dec}, nil
	case hasSuffix(url, ".tar.lz4", ".lz4"):
		return lz4.NewReader(r), nil
	case hasSuffix(url, ".tar"):
		return r, nil
	default:
		return nil, fmt.Errorf("no codec registered for url %q", url)
	}
}

// IsArchive reports whether url names a tar archive (compressed or not),
// as opposed to a single compressed file that should be written out
// verbatim once decoded.
func IsArchive(url string) bool {
	lower := strings.ToLower(url)
	return hasSuffix(lower, ".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar.xz", ".tar.zst", ".tar.lz4", ".tar")
}

func hasSuffix(url string, suffixes ...string) bool {
	lower := strings.ToLower(url)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// zstdReadCloser adapts *zstd.Decoder's Close (which returns nothing) away
// from the caller so NewDecoder can return a plain io.Reader.
type zstdReadCloser struct {
	dec *zstd.Decoder
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }
