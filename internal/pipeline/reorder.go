package pipeline

import "io"

// reorderReader adapts a bounded DataChunk channel into a blocking byte
// stream reader. When reorder is enabled it re-sequences out-of-order
// arrivals (buffering "early" chunks in a side list keyed by start
// offset) so bytes are always produced in strictly ascending order; when
// disabled, it assumes the producer already sends in order (the decoder
// feeding the sink) and simply forwards chunks as they arrive.
type reorderReader struct {
	in      <-chan DataChunk
	stopCh  <-chan struct{}
	reorder bool

	pos int64

	cur    []byte
	curPos int

	early map[int64][]byte
	// maxEarly bounds the side list: with the window gate in place it can
	// hold at most activeWorkerCount-1 entries.
	maxEarly int
}

func newReorderReader(in <-chan DataChunk, reorder bool, stopCh <-chan struct{}, maxEarly int) *reorderReader {
	return &reorderReader{
		in:       in,
		stopCh:   stopCh,
		reorder:  reorder,
		early:    make(map[int64][]byte),
		maxEarly: maxEarly,
	}
}

func (r *reorderReader) Read(p []byte) (int, error) {
	for r.curPos >= len(r.cur) {
		if data, ok := r.early[r.pos]; r.reorder && ok {
			delete(r.early, r.pos)
			r.cur = data
			r.curPos = 0
			continue
		}

		select {
		case chunk, ok := <-r.in:
			if !ok {
				// The producer closed the channel after its last send: a
				// clean end of stream, not a failure. An abnormal halt
				// (stop requested mid-stream) is signaled separately via
				// stopCh below.
				return 0, io.EOF
			}
			if !r.reorder || chunk.Start == r.pos {
				r.cur = chunk.Data
				r.curPos = 0
				continue
			}
			r.early[chunk.Start] = chunk.Data
			if r.maxEarly >= 0 && len(r.early) > r.maxEarly {
				panic("reorder buffer exceeded window bound")
			}
		case <-r.stopCh:
			return 0, stoppedErr
		}
	}
	n := copy(p, r.cur[r.curPos:])
	r.curPos += n
	r.pos += int64(n)
	return n, nil
}
