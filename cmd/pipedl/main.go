package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/alecthomas/kingpin.v2"

	"pipedl"
	"pipedl/internal/pipeline"
)

var (
	rawURL             = kingpin.Arg("url", "URL to download from, optionally ending in .link").Required().String()
	targetPath         = kingpin.Flag("target", "Output path; inferred from the url when omitted").Short('C').String()
	numWorkers         = kingpin.Flag("download-workers", "How many parallel range-fetch workers to run").Default("2").Int()
	chunkSizeMB        = kingpin.Flag("chunk-size", "Size of one range fetch, in MB").Default("30").Int64()
	decodeBlockMB      = kingpin.Flag("decode-block-size", "Size of one decoder output block, in MB").Default("10").Int64()
	writeWorkers       = kingpin.Flag("write-workers", "How many parallel workers write extracted files to disk").Default("8").Int()
	stripComponents    = kingpin.Flag("strip-components", "Strip this many leading path components on extraction").Int()
	forceNoRanges      = kingpin.Flag("force-no-ranges", "Disable range requests, fetching the whole body in one worker").Default("false").Bool()
	ignoreSymlinks     = kingpin.Flag("ignore-symlinks", "Skip symlink and hard-link entries instead of recreating them").Default("false").Bool()
	ignoreNodeFiles    = kingpin.Flag("ignore-node-files", "Skip unsupported tar entry types instead of failing").Default("false").Bool()
	ignoreTargetExists = kingpin.Flag("ignore-target-exists", "Do not error if the target path already exists").Default("false").Bool()
	overwrite          = kingpin.Flag("overwrite", "Overwrite existing files/symlinks encountered during extraction").Default("false").Bool()
	maxSpeedKB         = kingpin.Flag("max-speed-per-worker", "Cap each worker's throughput, in KB/s (0 = unlimited)").Default("0").Int64()
	retryCount         = kingpin.Flag("retry-count", "Max retries for the HEAD/.link probes").Default("5").Int()
	retryWaitSec       = kingpin.Flag("retry-wait", "Base backoff between probe retries, in seconds").Default("1").Int64()
	connTimeoutSec     = kingpin.Flag("conn-timeout", "Dial/TLS handshake timeout, in seconds").Default("10").Int64()
	verbose            = kingpin.Flag("verbose", "Enable debug logging").Default("false").Bool()
)

func main() {
	kingpin.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg := pipedl.DefaultConfig()
	cfg.WorkerCount = *numWorkers
	cfg.DownloadChunkBytes = *chunkSizeMB << 20
	cfg.DecodeBlockBytes = *decodeBlockMB << 20
	cfg.WriteWorkerCount = *writeWorkers
	cfg.StripComponents = *stripComponents
	cfg.ForceNoRanges = *forceNoRanges
	cfg.IgnoreSymlinks = *ignoreSymlinks
	cfg.IgnoreNodeFiles = *ignoreNodeFiles
	cfg.IgnoreTargetExists = *ignoreTargetExists
	cfg.Overwrite = *overwrite
	cfg.MaxSpeedPerWorker = *maxSpeedKB << 10
	cfg.RetryCount = *retryCount
	cfg.RetryWait = time.Duration(*retryWaitSec) * time.Second
	cfg.ConnTimeout = time.Duration(*connTimeoutSec) * time.Second

	dl := pipedl.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := dl.Start(ctx, *rawURL, *targetPath); err != nil {
		logrus.WithError(err).Error("failed to start download")
		os.Exit(exitCodeFor(err))
	}

	go func() {
		<-ctx.Done()
		dl.SignalStop()
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for !dl.IsFinished() {
		<-ticker.C
		fmt.Fprintln(os.Stderr, dl.ProgressLine())
	}

	snap := dl.Progress()
	if snap.ErrorMessage != nil {
		fmt.Fprintln(os.Stderr, "failed:", *snap.ErrorMessage)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "done:", dl.ProgressLine())
}

// exitCodeFor maps a pipeline.Error's Kind to a unix errno-based exit
// code, following the teacher's convention of exiting with unix.* values
// on fatal HTTP/IO failures instead of a bare os.Exit(1).
func exitCodeFor(err error) int {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		return int(unix.EIO)
	}
	switch pe.Kind {
	case pipeline.KindTargetExists:
		return int(unix.EEXIST)
	case pipeline.KindCannotInferTarget, pipeline.KindBadLinkURL:
		return int(unix.EINVAL)
	case pipeline.KindEmptyBody, pipeline.KindUnexpectedStatus, pipeline.KindContentLengthMissing:
		return int(unix.ENOENT)
	case pipeline.KindAlreadyStarted:
		return int(unix.EBUSY)
	default:
		return int(unix.EIO)
	}
}
