package extract

import (
	"fmt"
	"io"
	"os"
)

// WriteFile copies a decoded, non-archive stream straight to targetPath in
// fixed increments, reporting each increment to rec.
func WriteFile(stream io.Reader, targetPath string, overwrite bool, rec ProgressRecorder) error {
	if overwrite {
		if _, err := os.Stat(targetPath); err == nil {
			os.Remove(targetPath)
		}
	}
	f, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", targetPath, err)
	}
	defer f.Close()

	rec.PushUnpackedFile(0, targetPath, -1)
	buf := make([]byte, 1<<20)
	for {
		n, rerr := stream.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing %s: %w", targetPath, werr)
			}
			rec.AddUnpacked(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("reading decoded stream: %w", rerr)
		}
	}
	rec.MarkUnpackedFileFinished(0)
	return nil
}
