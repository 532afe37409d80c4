package pipeline

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"pipedl/internal/progress"
)

// Controller owns one pipeline run end to end: init, the fetch worker
// pool, the decoder, and the sink, wired together by the DL and UP queues.
type Controller struct {
	cfg Config
	st  *progress.State

	mu      sync.Mutex
	started bool

	client *http.Client
	cancel context.CancelFunc
}

// NewController builds an idle controller around a fresh progress.State.
func NewController(cfg Config) *Controller {
	dialer := &net.Dialer{Timeout: effectiveTimeout(cfg)}
	return &Controller{
		cfg: cfg,
		st:  progress.New(),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: effectiveTimeout(cfg),
			},
		},
	}
}

func effectiveTimeout(cfg Config) time.Duration {
	if cfg.ConnTimeout <= 0 {
		return 10 * time.Second
	}
	return cfg.ConnTimeout
}

// Progress returns a point-in-time snapshot safe for JSON serialization.
func (c *Controller) Progress() progress.Snapshot { return c.st.Snapshot() }

// ProgressLine renders the same human-readable summary line the original
// implementation prints to its console.
func (c *Controller) ProgressLine() string {
	snap := c.st.Snapshot()

	etaStr := "ETA: unknown"
	if snap.ETASec != nil {
		eta := *snap.ETASec
		h := eta / 3600
		m := (eta / 60) % 60
		s := eta % 60
		etaStr = fmt.Sprintf("ETA: %02d:%02d:%02d", h, m, s)
	}

	percentStr := ""
	if snap.TotalDownloadSize != nil && *snap.TotalDownloadSize > 0 {
		percentStr = fmt.Sprintf("[%.2f%%]", float64(snap.Downloaded)/float64(*snap.TotalDownloadSize)*100.0)
	}

	return fmt.Sprintf(
		"Downloaded: %s [%s/s now: %s/s], Unpack: %s [%s/s now: %s/s] - %s %s",
		bytesToHuman(snap.Downloaded),
		bytesToHuman(snap.LifetimeDownloadSpeed),
		bytesToHuman(snap.CurrentDownloadSpeed),
		bytesToHuman(snap.Unpacked),
		bytesToHuman(snap.LifetimeUnpackSpeed),
		bytesToHuman(snap.CurrentUnpackSpeed),
		etaStr,
		percentStr,
	)
}

func bytesToHuman(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func (c *Controller) SignalStop() {
	c.st.SignalStop()
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) Pause()  { c.st.SetPaused(true) }
func (c *Controller) Resume() { c.st.SetPaused(false) }

func (c *Controller) IsFinished() bool { return c.st.IsFinished() }

func (c *Controller) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Start resolves the target path, pre-flight checks it, and launches the
// initializer followed by the worker/decoder/sink stages in the
// background. It returns once the plan is ready or initialization fails;
// the transfer itself continues asynchronously.
func (c *Controller) Start(ctx context.Context, rawURL, targetPath string) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return newErr(KindAlreadyStarted, rawURL, nil)
	}
	c.started = true
	c.mu.Unlock()

	resolvedTarget := targetPath
	if resolvedTarget == "" {
		inferred, err := inferTargetPath(rawURL)
		if err != nil {
			return err
		}
		resolvedTarget = inferred
	}

	if !c.cfg.IgnoreTargetExists {
		if _, err := os.Stat(resolvedTarget); err == nil {
			return newErr(KindTargetExists, resolvedTarget, nil)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.st.SetStartTime(time.Now())

	plan, err := initialize(runCtx, c.cfg, rawURL, c.client, c.st)
	if err != nil {
		c.st.SetErrorOverall(err.Error())
		c.st.SetErrorTime(time.Now())
		return err
	}

	dlQueue := make(chan DataChunk, 1)
	upQueue := make(chan DataChunk, 1)

	go c.run(runCtx, plan, dlQueue, upQueue, resolvedTarget)

	return nil
}

// run drives the worker pool, decoder, and sink to completion, recording
// the first failure from any stage as the overall error.
func (c *Controller) run(ctx context.Context, plan *Plan, dlQueue, upQueue chan DataChunk, target string) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	record := func(err error) {
		if err == nil || isControlFlow(err) {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(plan.ActiveWorkerCount)
	for w := 0; w < plan.ActiveWorkerCount; w++ {
		go func(id int) {
			defer wg.Done()
			if err := runFetchWorker(ctx, id, plan, c.cfg, c.st, c.client, dlQueue); err != nil {
				c.st.SetErrorDownload(err.Error())
				record(err)
				c.st.SignalStop()
			}
		}(w)
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(dlQueue)
		wg.Wait()
		close(workersDone)
	}()

	decoderDone := make(chan error, 1)
	go func() {
		err := runDecoder(c.cfg, plan, c.st, dlQueue, upQueue)
		close(upQueue)
		if err != nil && !isControlFlow(err) {
			c.st.SetErrorUnpack(err.Error())
			record(err)
			c.st.SignalStop()
		}
		decoderDone <- err
	}()

	sinkDone := make(chan error, 1)
	go func() {
		err := runSink(c.cfg, c.st, upQueue, target)
		sinkDone <- err
	}()

	<-workersDone
	<-decoderDone
	sinkErr := <-sinkDone
	if sinkErr != nil && !isControlFlow(sinkErr) {
		c.st.SetErrorUnpack(sinkErr.Error())
		record(sinkErr)
	}

	if firstErr != nil {
		c.st.SetErrorOverall(firstErr.Error())
	}
	c.st.SetFinishTime(time.Now())
}

// inferTargetPath implements the last-segment rule: a `.tar.<ext>` member
// infers its enclosing directory name; anything else requires an explicit
// target path.
func inferTargetPath(rawURL string) (string, error) {
	trimmed := strings.TrimRight(rawURL, "/")
	parts := strings.Split(trimmed, "/")
	last := parts[len(parts)-1]

	idx := strings.Index(last, ".tar.")
	if idx <= 0 {
		return "", newErr(KindCannotInferTarget, rawURL, nil)
	}
	return last[:idx], nil
}
