package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitChunksSeedsReverseOrder(t *testing.T) {
	st := New()
	st.InitChunks(5, 2)

	min, ok := st.MinUnfinishedChunk()
	require.True(t, ok)
	require.Equal(t, 0, min)
	require.Equal(t, 5, st.UnfinishedCount())
}

func TestCompleteChunkRemovesFromUnfinishedSet(t *testing.T) {
	st := New()
	st.InitChunks(3, 1)

	st.BeginChunk(0, 100)
	st.AddChunkDownloaded(0, 0, 100)
	st.CompleteChunk(0, 0)

	require.Equal(t, 2, st.UnfinishedCount())
	min, ok := st.MinUnfinishedChunk()
	require.True(t, ok)
	require.Equal(t, 1, min)

	snap := st.Snapshot()
	require.Equal(t, int64(100), snap.Downloaded)
}

func TestCompleteChunkOutOfOrder(t *testing.T) {
	st := New()
	st.InitChunks(3, 3)
	for i := 0; i < 3; i++ {
		st.BeginChunk(i, 10)
	}

	st.CompleteChunk(2, 2)
	min, ok := st.MinUnfinishedChunk()
	require.True(t, ok)
	require.Equal(t, 0, min)

	st.CompleteChunk(0, 0)
	min, ok = st.MinUnfinishedChunk()
	require.True(t, ok)
	require.Equal(t, 1, min)

	st.CompleteChunk(1, 1)
	_, ok = st.MinUnfinishedChunk()
	require.False(t, ok)
}

func TestStopChanClosesOnce(t *testing.T) {
	st := New()
	require.False(t, st.IsStopRequested())
	st.SignalStop()
	st.SignalStop() // must not panic on double close

	select {
	case <-st.StopChan():
	default:
		t.Fatal("expected StopChan to be closed after SignalStop")
	}
	require.True(t, st.IsStopRequested())
}

func TestUnpackedFileFIFOBoundedToTen(t *testing.T) {
	st := New()
	for i := 0; i < 15; i++ {
		st.PushUnpackedFile(i, "f", 1)
	}
	st.MarkUnpackedFileFinished(14)

	st.mu.Lock()
	n := len(st.lastUnpacked)
	first := st.lastUnpacked[0].Index
	last := st.lastUnpacked[len(st.lastUnpacked)-1]
	st.mu.Unlock()

	require.Equal(t, 10, n)
	require.Equal(t, 5, first)
	require.True(t, last.Finished)
}

func TestSnapshotErrorFieldsFirstWriteWins(t *testing.T) {
	st := New()
	st.SetErrorDownload("first")
	st.SetErrorDownload("second")

	snap := st.Snapshot()
	require.Equal(t, "first", *snap.ErrorMessageDownload)
}

func TestSnapshotOmitsSizeFieldsWhenUnknown(t *testing.T) {
	st := New()
	snap := st.Snapshot()
	require.Nil(t, snap.TotalDownloadSize)
	require.Nil(t, snap.TotalUnpackSize)
}

func TestSnapshotETAZeroAfterFinish(t *testing.T) {
	st := New()
	st.SetTotalDownloadSize(100)
	st.SetFinishTime(time.Now())

	snap := st.Snapshot()
	require.NotNil(t, snap.ETASec)
	require.Equal(t, int64(0), *snap.ETASec)
	require.True(t, st.IsFinished())
}
