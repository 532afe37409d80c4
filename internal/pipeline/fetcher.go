package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"pipedl/internal/progress"
)

const (
	fetchRetryDelay     = 5 * time.Second
	pauseSleepInterval  = 5 * time.Second
	windowGatePoll      = 100 * time.Millisecond
	progressGranularity = 1 << 20 // 1 MiB
)

// runFetchWorker owns every chunk index k with k % ActiveWorkerCount ==
// workerID, gated by the window rule and retried per §4.3/§9.
func runFetchWorker(ctx context.Context, workerID int, plan *Plan, cfg Config, st *progress.State, client *http.Client, dlQueue chan<- DataChunk) error {
	if plan.ActiveWorkerCount == 1 && workerID != 0 {
		return nil
	}

	var reuse *http.Response
	defer func() {
		if reuse != nil {
			reuse.Body.Close()
		}
	}()

	for idx := workerID; idx < len(plan.Chunks); idx += plan.ActiveWorkerCount {
		cr := plan.Chunks[idx]

		if err := waitWindowGate(st, idx, plan.ActiveWorkerCount); err != nil {
			return err
		}

		st.BeginChunk(idx, chunkLength(cr, plan.TotalBytes))

		data, err := fetchChunkWithRetry(ctx, workerID, idx, cr, plan, cfg, st, client, &reuse)
		if err != nil {
			return err
		}

		st.CompleteChunk(idx, workerID)

		select {
		case dlQueue <- DataChunk{Index: idx, Start: cr.Start, End: cr.End, Data: data}:
		case <-st.StopChan():
			// The decoder only quits early after requesting stop (recording
			// its own error first, if any), so this is a control-flow exit.
			return stoppedErr
		}
	}
	return nil
}

func chunkLength(cr ChunkRange, totalBytes int64) int64 {
	if cr.End < 0 {
		if totalBytes < 0 {
			return 0
		}
		return totalBytes - cr.Start
	}
	return cr.End - cr.Start
}

// waitWindowGate blocks while chunk idx races more than ActiveWorkerCount
// ahead of the slowest unfinished chunk, bounding the reorder buffer.
func waitWindowGate(st *progress.State, idx, activeWorkers int) error {
	for {
		if st.IsStopRequested() {
			return stoppedErr
		}
		minUnfinished, ok := st.MinUnfinishedChunk()
		if !ok || idx-minUnfinished <= activeWorkers {
			return nil
		}
		select {
		case <-time.After(windowGatePoll):
		case <-st.StopChan():
			return stoppedErr
		}
	}
}

// fetchChunkWithRetry runs the attempt loop described in §4.3: observe
// stop/pause, issue the request (fresh per attempt when multiple workers
// are active, reused across chunks for the single-worker range case),
// read with throttling and progress reporting, retry on transient
// failure only when ranges are enabled.
func fetchChunkWithRetry(ctx context.Context, workerID, idx int, cr ChunkRange, plan *Plan, cfg Config, st *progress.State, client *http.Client, reuse **http.Response) ([]byte, error) {
	for {
		if st.IsStopRequested() {
			return nil, stoppedErr
		}
		for st.IsPaused() {
			logrus.Info("download still paused...")
			select {
			case <-time.After(pauseSleepInterval):
			case <-st.StopChan():
				return nil, stoppedErr
			}
			if st.IsStopRequested() {
				return nil, stoppedErr
			}
		}

		if plan.ActiveWorkerCount > 1 {
			*reuse = nil
		}

		var resp *http.Response
		var err error
		reuseRange := plan.ActiveWorkerCount == 1 && plan.SupportsRanges
		if *reuse != nil {
			resp = *reuse
		} else {
			resp, err = requestChunk(ctx, client, plan, cr, reuseRange)
		}

		if err != nil {
			st.ResetChunkDownloaded(workerID)
			if !plan.SupportsRanges {
				return nil, newErr(KindTransientConnect, "connect failed", err)
			}
			if st.IsStopRequested() {
				return nil, stoppedErr
			}
			logrus.WithError(err).Warn("error while requesting chunk, trying again")
			if !sleepOrStop(st, fetchRetryDelay) {
				return nil, stoppedErr
			}
			continue
		}

		buf, err := readChunkBody(resp, cr, workerID, idx, cfg, st)
		if err == nil {
			if plan.ActiveWorkerCount == 1 {
				*reuse = resp
			} else {
				resp.Body.Close()
			}
			return buf, nil
		}

		resp.Body.Close()
		*reuse = nil
		st.ResetChunkDownloaded(workerID)

		if isControlFlow(err) {
			return nil, err
		}
		if !plan.SupportsRanges {
			return nil, err
		}
		if st.IsStopRequested() {
			return nil, stoppedErr
		}
		logrus.WithError(err).Warn("error while downloading chunk, trying again")
		if !sleepOrStop(st, fetchRetryDelay) {
			return nil, stoppedErr
		}
	}
}

func sleepOrStop(st *progress.State, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-st.StopChan():
		return false
	}
}

// requestChunk issues the GET for one chunk. When reuseRange is true
// (single active worker, ranges enabled) it requests from cr.Start to
// the end of the resource so the response can be read across multiple
// subsequent chunks without reconnecting.
func requestChunk(ctx context.Context, client *http.Client, plan *Plan, cr ChunkRange, reuseRange bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, plan.ResolvedURL, nil)
	if err != nil {
		return nil, err
	}

	wantLen := cr.End - cr.Start
	if plan.SupportsRanges {
		rangeEnd := cr.End - 1
		if reuseRange {
			if plan.TotalBytes < 0 {
				return nil, newErr(KindContentLengthMissing, "unknown total length in reuse mode", nil)
			}
			rangeEnd = plan.TotalBytes - 1
			wantLen = plan.TotalBytes - cr.Start
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", cr.Start, rangeEnd))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if plan.SupportsRanges {
		if resp.StatusCode == http.StatusOK && cr.Start != 0 {
			resp.Body.Close()
			return nil, newErr(KindPartialContentUnsupported, "server returned 200 to a ranged request", nil)
		}
		if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, newErr(KindUnexpectedStatus, fmt.Sprintf("status %d", resp.StatusCode), nil)
		}
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil && n != wantLen {
				resp.Body.Close()
				return nil, newErr(KindContentLengthMismatch, fmt.Sprintf("got %d want %d", n, wantLen), nil)
			}
		}
	} else if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, newErr(KindUnexpectedStatus, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	return resp, nil
}

// readChunkBody reads exactly cr.End-cr.Start bytes (or, in unknown-length
// no-ranges mode, until EOF) in up-to-1MiB increments, reporting progress
// after every increment and applying the speed throttle if configured.
func readChunkBody(resp *http.Response, cr ChunkRange, workerID, idx int, cfg Config, st *progress.State) ([]byte, error) {
	unbounded := cr.End < 0
	want := cr.End - cr.Start

	var result []byte
	if !unbounded {
		result = make([]byte, 0, want)
	}
	readBuf := make([]byte, progressGranularity)
	var total int64
	startTime := time.Now()

	for unbounded || total < want {
		if st.IsStopRequested() {
			return nil, stoppedErr
		}
		readSize := int64(len(readBuf))
		if !unbounded {
			if remain := want - total; remain < readSize {
				readSize = remain
			}
		}
		n, err := resp.Body.Read(readBuf[:readSize])
		if n > 0 {
			result = append(result, readBuf[:n]...)
			total += int64(n)
			st.AddChunkDownloaded(idx, workerID, int64(n))
		}
		if err != nil {
			if err == io.EOF {
				if unbounded || total == want {
					break
				}
				return nil, newErr(KindTransientRead, "unexpected end of body", err)
			}
			return nil, newErr(KindTransientRead, "read error", err)
		}
		if n == 0 {
			return nil, newErr(KindTransientRead, "zero-byte read without error", nil)
		}

		if cfg.MaxSpeedPerWorker > 0 {
			shouldTake := time.Duration(float64(total) / float64(cfg.MaxSpeedPerWorker) * float64(time.Second))
			for time.Since(startTime) < shouldTake {
				if st.IsStopRequested() {
					return nil, stoppedErr
				}
				time.Sleep(time.Millisecond)
			}
		}
	}

	if !unbounded && total != want {
		return nil, newErr(KindContentLengthMismatch, "truncated chunk read", nil)
	}
	return result, nil
}
