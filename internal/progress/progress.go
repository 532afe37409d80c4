// Package progress holds the single lock-protected record shared by every
// pipeline stage, plus the public, JSON-serializable snapshot derived from it.
package progress

import (
	"sync"
	"time"
)

// ChunkProgress tracks one in-flight chunk's download/unpack progress.
// Entries are created when a worker begins a chunk and cleared on success.
type ChunkProgress struct {
	Downloaded int64
	ToDownload int64
	Unpacked   int64
	ToUnpack   int64
}

// UnpackedFile is one entry in the bounded last-10 extraction FIFO.
type UnpackedFile struct {
	Index    int
	Name     string
	Size     int64
	Finished bool
}

// State is the single mutex-protected record mutated by every stage.
type State struct {
	mu sync.Mutex

	startTime         time.Time
	totalChunks       int
	unfinishedChunks  []int // reverse order: highest index first, index 0 at the tail
	chunkDownloaded   []int64
	totalDownloaded   int64
	totalUnpacked     int64
	totalDownloadSize int64 // -1 means unknown
	paused            bool
	stopRequested     bool
	finishTime        time.Time
	errorTime         time.Time
	errDownload       string
	errUnpack         string
	errOverall        string
	lastUnpacked      []UnpackedFile
	downloadURL       string
	currentChunks     map[int]*ChunkProgress

	downloadSampler *Sampler
	unpackSampler   *Sampler

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New returns a freshly initialized shared progress record.
func New() *State {
	return &State{
		totalDownloadSize: -1,
		currentChunks:     make(map[int]*ChunkProgress),
		downloadSampler:   NewSampler(),
		unpackSampler:     NewSampler(),
		stopCh:            make(chan struct{}),
	}
}

// StopChan is closed exactly once, the instant stop is requested, so
// blocking operations across the pipeline can select on it.
func (s *State) StopChan() <-chan struct{} { return s.stopCh }

func (s *State) SignalStop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *State) IsStopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *State) SetPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

func (s *State) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *State) SetStartTime(t time.Time) {
	s.mu.Lock()
	s.startTime = t
	s.mu.Unlock()
}

func (s *State) SetTotalDownloadSize(n int64) {
	s.mu.Lock()
	s.totalDownloadSize = n
	s.mu.Unlock()
}

// SetDownloadURL publishes the resolved URL so later stages (decoder,
// sink) can read it without a second `.link` network round-trip.
func (s *State) SetDownloadURL(url string) {
	s.mu.Lock()
	s.downloadURL = url
	s.mu.Unlock()
}

func (s *State) DownloadURL() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadURL, s.downloadURL != ""
}

// InitChunks seeds the unfinished-chunk set in reverse order (highest
// index first) and sizes the per-worker counters. The initializer calls
// it once; any later call is ignored.
func (s *State) InitChunks(totalChunks, activeWorkers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totalChunks != 0 {
		return
	}
	s.totalChunks = totalChunks
	s.unfinishedChunks = make([]int, 0, totalChunks)
	for i := totalChunks - 1; i >= 0; i-- {
		s.unfinishedChunks = append(s.unfinishedChunks, i)
	}
	s.chunkDownloaded = make([]int64, activeWorkers)
}

// MinUnfinishedChunk returns the smallest remaining chunk index (the tail
// of the reverse-ordered slice) used by the worker window gate.
func (s *State) MinUnfinishedChunk() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unfinishedChunks) == 0 {
		return 0, false
	}
	return s.unfinishedChunks[len(s.unfinishedChunks)-1], true
}

func (s *State) UnfinishedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unfinishedChunks)
}

// BeginChunk registers a DownloadChunkProgress entry for chunk idx.
func (s *State) BeginChunk(idx int, toDownload int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentChunks[idx] = &ChunkProgress{ToDownload: toDownload, ToUnpack: toDownload}
}

// AddChunkDownloaded records n freshly downloaded bytes for chunk idx on
// worker workerID: the shared per-chunk counter, the per-worker counter,
// and the rolling download sampler.
func (s *State) AddChunkDownloaded(idx, workerID int, n int64) {
	s.mu.Lock()
	if cp, ok := s.currentChunks[idx]; ok {
		cp.Downloaded += n
	}
	if workerID >= 0 && workerID < len(s.chunkDownloaded) {
		s.chunkDownloaded[workerID] += n
	}
	s.mu.Unlock()
	s.downloadSampler.AddBytes(n)
}

// ResetChunkDownloaded zeroes a worker's per-chunk counter, used before a
// fresh attempt or retry.
func (s *State) ResetChunkDownloaded(workerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workerID >= 0 && workerID < len(s.chunkDownloaded) {
		s.chunkDownloaded[workerID] = 0
	}
}

// CompleteChunk atomically folds a worker's per-chunk counter into the
// lifetime total, removes idx from the unfinished set (searching from the
// right, since chunks tend to finish in decreasing index per worker), and
// clears the chunk's progress entry.
func (s *State) CompleteChunk(idx, workerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workerID >= 0 && workerID < len(s.chunkDownloaded) {
		s.totalDownloaded += s.chunkDownloaded[workerID]
		s.chunkDownloaded[workerID] = 0
	}
	for i := len(s.unfinishedChunks) - 1; i >= 0; i-- {
		if s.unfinishedChunks[i] == idx {
			s.unfinishedChunks = append(s.unfinishedChunks[:i], s.unfinishedChunks[i+1:]...)
			break
		}
	}
	delete(s.currentChunks, idx)
}

func (s *State) AddUnpacked(n int64) {
	s.mu.Lock()
	s.totalUnpacked += n
	s.mu.Unlock()
	s.unpackSampler.AddBytes(n)
}

// PushUnpackedFile implements extract.ProgressRecorder: appends a new
// entry to the bounded 10-entry FIFO, evicting the oldest when full.
func (s *State) PushUnpackedFile(index int, name string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUnpacked = append(s.lastUnpacked, UnpackedFile{Index: index, Name: name, Size: size})
	if len(s.lastUnpacked) > 10 {
		s.lastUnpacked = s.lastUnpacked[len(s.lastUnpacked)-10:]
	}
}

// MarkUnpackedFileFinished flags a FIFO entry as finished, if still present.
func (s *State) MarkUnpackedFileFinished(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lastUnpacked {
		if s.lastUnpacked[i].Index == index {
			s.lastUnpacked[i].Finished = true
			return
		}
	}
}

func (s *State) SetErrorDownload(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errDownload == "" {
		s.errDownload = msg
	}
}

func (s *State) SetErrorUnpack(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errUnpack == "" {
		s.errUnpack = msg
	}
}

func (s *State) SetErrorOverall(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errOverall == "" {
		s.errOverall = msg
	}
}

func (s *State) SetFinishTime(t time.Time) {
	s.mu.Lock()
	s.finishTime = t
	s.mu.Unlock()
}

func (s *State) SetErrorTime(t time.Time) {
	s.mu.Lock()
	s.errorTime = t
	s.mu.Unlock()
}

func (s *State) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finishTime.IsZero() || !s.errorTime.IsZero()
}

// downloadedLocked returns the lifetime total plus whatever every worker has
// accumulated in-flight on its current chunk.
func (s *State) downloadedLocked() int64 {
	total := s.totalDownloaded
	for _, v := range s.chunkDownloaded {
		total += v
	}
	return total
}

// lifetimeDownloadSpeed is the lifetime average. It drives the ETA and the
// lifetime figure in ProgressLine: the original implementation this was
// distilled from computes ETA off the lifetime average rather than the
// short-window sampler despite both being informally called "current
// speed" — see DESIGN.md.
func (s *State) lifetimeDownloadSpeed() int64 {
	if !s.finishTime.IsZero() {
		return 0
	}
	elapsed := time.Since(s.startTime)
	if elapsed <= 0 {
		return 0
	}
	return int64(float64(s.downloadedLocked()) / elapsed.Seconds())
}

// lifetimeUnpackSpeed mirrors lifetimeDownloadSpeed for the unpack side,
// giving the progress line a lifetime average distinct from the
// short-window sampler's CurrentUnpackSpeed.
func (s *State) lifetimeUnpackSpeed() int64 {
	if !s.finishTime.IsZero() {
		return 0
	}
	elapsed := time.Since(s.startTime)
	if elapsed <= 0 {
		return 0
	}
	return int64(float64(s.totalUnpacked) / elapsed.Seconds())
}

// Snapshot is the public, wire-serializable progress record (camelCase
// JSON tags per the external interface). LifetimeDownloadSpeed and
// LifetimeUnpackSpeed are excluded from the wire format (not part of the
// documented external interface) but are carried for ProgressLine, which
// needs both the lifetime average and the short-window figure.
type Snapshot struct {
	StartTime             time.Time  `json:"startTime"`
	Downloaded            int64      `json:"downloaded"`
	Unpacked              int64      `json:"unpacked"`
	StopRequested         bool       `json:"stopRequested"`
	Paused                bool       `json:"paused"`
	ElapsedTimeSec        float64    `json:"elapsedTimeSec"`
	ETASec                *int64     `json:"etaSec,omitempty"`
	FinishTime            *time.Time `json:"finishTime,omitempty"`
	CurrentDownloadSpeed  int64      `json:"currentDownloadSpeed"`
	CurrentUnpackSpeed    int64      `json:"currentUnpackSpeed"`
	LifetimeDownloadSpeed int64      `json:"-"`
	LifetimeUnpackSpeed   int64      `json:"-"`
	ErrorMessage          *string    `json:"errorMessage,omitempty"`
	ErrorMessageDownload  *string    `json:"errorMessageDownload,omitempty"`
	ErrorMessageUnpack    *string    `json:"errorMessageUnpack,omitempty"`
	TotalUnpackSize       *int64     `json:"totalUnpackSize,omitempty"`
	TotalDownloadSize     *int64     `json:"totalDownloadSize,omitempty"`
	DownloadURL           *string    `json:"downloadUrl,omitempty"`
	ChunksDownloading     int        `json:"chunksDownloading"`
	ChunksTotal           int        `json:"chunksTotal"`
	ChunksLeft            int        `json:"chunksLeft"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Snapshot clones the fields exposed on the public API under one lock
// acquisition: point-in-time consistent within the call, not across calls.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.startTime)
	if !s.finishTime.IsZero() {
		elapsed = s.finishTime.Sub(s.startTime)
	}

	snap := Snapshot{
		StartTime:             s.startTime,
		Downloaded:            s.downloadedLocked(),
		Unpacked:              s.totalUnpacked,
		StopRequested:         s.stopRequested,
		Paused:                s.paused,
		ElapsedTimeSec:        elapsed.Seconds(),
		CurrentDownloadSpeed:  s.downloadSampler.Speed(),
		CurrentUnpackSpeed:    s.unpackSampler.Speed(),
		LifetimeDownloadSpeed: s.lifetimeDownloadSpeed(),
		LifetimeUnpackSpeed:   s.lifetimeUnpackSpeed(),
		ErrorMessage:          strPtr(s.errOverall),
		ErrorMessageDownload:  strPtr(s.errDownload),
		ErrorMessageUnpack:    strPtr(s.errUnpack),
		DownloadURL:           strPtr(s.downloadURL),
		ChunksDownloading:     len(s.chunkDownloaded),
		ChunksTotal:           s.totalChunks,
		ChunksLeft:            len(s.unfinishedChunks),
	}
	if !s.finishTime.IsZero() {
		ft := s.finishTime
		snap.FinishTime = &ft
	}
	if s.totalDownloadSize >= 0 {
		tds := s.totalDownloadSize
		snap.TotalDownloadSize = &tds
		tus := s.totalDownloadSize
		snap.TotalUnpackSize = &tus
	}

	if !s.finishTime.IsZero() {
		zero := int64(0)
		snap.ETASec = &zero
	} else if speed := s.lifetimeDownloadSpeed(); speed >= 100 && s.totalDownloadSize >= 0 {
		remaining := s.totalDownloadSize - s.downloadedLocked()
		if remaining < 0 {
			remaining = 0
		}
		eta := remaining / speed
		snap.ETASec = &eta
	}
	return snap
}
