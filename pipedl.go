// Package pipedl streams a remote (optionally compressed, optionally tar)
// archive straight to disk: parallel ranged fetch, single-threaded decode,
// extraction read by one goroutine (tar file writes go through a small
// write-worker pool), connected by bounded queues so memory stays
// proportional to worker count rather than file size.
package pipedl

import (
	"context"

	"pipedl/internal/pipeline"
	"pipedl/internal/progress"
)

// Config mirrors pipeline.Config; re-exported so callers never need to
// import the internal package directly.
type Config = pipeline.Config

// Snapshot mirrors progress.Snapshot.
type Snapshot = progress.Snapshot

// DefaultConfig returns the documented default tuning knobs.
func DefaultConfig() Config { return pipeline.DefaultConfig() }

// Downloader is the public handle for one pipeline run.
type Downloader struct {
	ctrl *pipeline.Controller
}

// New builds an idle Downloader. Call Start to begin the transfer.
func New(cfg Config) *Downloader {
	return &Downloader{ctrl: pipeline.NewController(cfg)}
}

// Start resolves targetPath (inferring it from url when empty), pre-flight
// checks it, and launches the transfer in the background. It returns once
// the origin has been probed and the chunk plan built, or immediately
// with an error for any controller-level pre-flight failure
// (AlreadyStarted, TargetExists, CannotInferTarget, or an initializer
// failure such as BadLinkUrl/EmptyBody/UnexpectedStatus).
func (d *Downloader) Start(ctx context.Context, url, targetPath string) error {
	return d.ctrl.Start(ctx, url, targetPath)
}

// Progress returns a point-in-time snapshot of the transfer.
func (d *Downloader) Progress() Snapshot { return d.ctrl.Progress() }

// ProgressLine renders a one-line human-readable summary suitable for a
// terminal status line.
func (d *Downloader) ProgressLine() string { return d.ctrl.ProgressLine() }

// SignalStop requests cancellation; IsFinished becomes true shortly after.
func (d *Downloader) SignalStop() { d.ctrl.SignalStop() }

// Pause suspends fetch workers before their next attempt; Resume lifts it.
func (d *Downloader) Pause()  { d.ctrl.Pause() }
func (d *Downloader) Resume() { d.ctrl.Resume() }

// IsStarted reports whether Start has been called, including a call that
// returned an error.
func (d *Downloader) IsStarted() bool { return d.ctrl.IsStarted() }

// IsFinished reports whether the transfer has stopped, successfully or not.
func (d *Downloader) IsFinished() bool { return d.ctrl.IsFinished() }
