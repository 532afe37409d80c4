package pipeline

import "time"

// Config is the immutable-after-start configuration for one pipeline run.
type Config struct {
	// DownloadChunkBytes is the nominal size of one range fetch.
	DownloadChunkBytes int64
	// DecodeBlockBytes is the fixed read size for decoder output blocks.
	DecodeBlockBytes int64
	// MaxSpeedPerWorker caps bytes/sec per fetcher; 0 means unlimited.
	MaxSpeedPerWorker int64
	// ForceNoRanges forces the single-connection fallback.
	ForceNoRanges bool
	// WorkerCount is the desired fetcher parallelism.
	WorkerCount int
	// IgnoreSymlinks skips tar entries of type symlink or hard-link.
	IgnoreSymlinks bool
	// IgnoreTargetExists suppresses the TargetExists pre-flight error.
	IgnoreTargetExists bool
	// IgnoreNodeFiles silently skips unsupported tar entry types instead
	// of failing the whole extraction.
	IgnoreNodeFiles bool
	// Overwrite removes a pre-existing file/symlink before recreating it.
	Overwrite bool
	// StripComponents drops this many leading path segments from every
	// tar entry name, mirroring tar --strip-components.
	StripComponents int
	// WriteWorkerCount bounds concurrent in-flight file writes during
	// tar extraction.
	WriteWorkerCount int

	// ConnTimeout bounds dial and TLS handshake time for every fetcher's
	// HTTP client, ambient per the teacher's netTransport construction.
	ConnTimeout time.Duration
	// RetryCount bounds the initializer's HEAD/probe retry budget.
	RetryCount int
	// RetryWait is the base backoff between initializer probe retries.
	RetryWait time.Duration
}

// DefaultConfig returns the documented defaults from the data model.
func DefaultConfig() Config {
	return Config{
		DownloadChunkBytes: 30_000_000,
		DecodeBlockBytes:   10_000_000,
		WorkerCount:        2,
		ConnTimeout:        10 * time.Second,
		RetryCount:         5,
		RetryWait:          time.Second,
		WriteWorkerCount:   8,
	}
}
