package pipeline

import (
	"time"

	"pipedl/internal/codec"
	"pipedl/internal/extract"
	"pipedl/internal/progress"
)

// runSink is the single-threaded stage C: it re-assembles the UP queue
// (already strictly ordered by the decoder) into a reader and either
// unpacks it as a tar archive or writes it out as one plain file.
func runSink(cfg Config, st *progress.State, upQueue <-chan DataChunk, outputTarget string) error {
	url, err := resolveDownloadURL(st)
	if err != nil {
		return err
	}

	stream := newReorderReader(upQueue, false, st.StopChan(), 0)

	if codec.IsArchive(url) {
		opts := extract.Options{
			OutputDir:       outputTarget,
			StripComponents: cfg.StripComponents,
			Overwrite:       cfg.Overwrite,
			IgnoreSymlinks:  cfg.IgnoreSymlinks,
			IgnoreNodeFiles: cfg.IgnoreNodeFiles,
			WriteWorkers:    cfg.WriteWorkerCount,
			StopCh:          st.StopChan(),
		}
		err := extract.ExtractTar(stream, opts, st)
		// The UP queue closes both on a clean decoder finish and on a
		// decoder wind-down triggered by stop, so a nil err here does not
		// by itself mean the archive is complete: check stop first.
		if st.IsStopRequested() {
			return stoppedErr
		}
		if err != nil {
			return newErr(KindExtractFailure, outputTarget, err)
		}
		return nil
	}

	err = extract.WriteFile(stream, outputTarget, cfg.Overwrite, st)
	if st.IsStopRequested() {
		return stoppedErr
	}
	if err != nil {
		return newErr(KindWriteFailure, outputTarget, err)
	}
	return nil
}

// resolveDownloadURL polls the shared state for the resolved URL the
// initializer publishes, rather than re-fetching a `.link` indirection.
func resolveDownloadURL(st *progress.State) (string, error) {
	for {
		if url, ok := st.DownloadURL(); ok {
			return url, nil
		}
		select {
		case <-time.After(time.Second):
		case <-st.StopChan():
			return "", stoppedErr
		}
	}
}
