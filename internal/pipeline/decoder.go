package pipeline

import (
	"io"

	"github.com/sirupsen/logrus"

	"pipedl/internal/codec"
	"pipedl/internal/progress"
)

// runDecoder is the single-threaded stage B: it re-sequences the DL queue
// into a strictly ordered byte stream, feeds it through the codec selected
// by the resolved URL's suffix, and republishes fixed-size blocks onto the
// UP queue for the sink to consume.
func runDecoder(cfg Config, plan *Plan, st *progress.State, dlQueue <-chan DataChunk, upQueue chan<- DataChunk) error {
	reorder := plan.ActiveWorkerCount > 1
	maxEarly := plan.ActiveWorkerCount - 1
	if maxEarly < 0 {
		maxEarly = 0
	}

	raw := newReorderReader(dlQueue, reorder, st.StopChan(), maxEarly)

	dec, err := codec.NewDecoder(plan.ResolvedURL, raw)
	if err != nil {
		if st.IsStopRequested() {
			return stoppedErr
		}
		return newErr(KindUnknownCompression, plan.ResolvedURL, err)
	}

	blockSize := cfg.DecodeBlockBytes
	if blockSize <= 0 {
		blockSize = 10_000_000
	}

	index := 0
	var pos int64
	buf := make([]byte, blockSize)

	for {
		if st.IsStopRequested() {
			return stoppedErr
		}

		n, err := io.ReadFull(dec, buf)
		if n > 0 {
			block := make([]byte, n)
			copy(block, buf[:n])
			select {
			case upQueue <- DataChunk{Index: index, Start: pos, End: pos + int64(n), Data: block}:
			case <-st.StopChan():
				return stoppedErr
			}
			index++
			pos += int64(n)
		}

		if err == nil {
			continue
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if pe, ok := err.(*Error); ok {
			return pe
		}
		logrus.WithError(err).Error("decoder read failed")
		return newErr(KindDecoderFailure, "decode stream error", err)
	}
}
