package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pipedl/internal/mockorigin"
	"pipedl/internal/progress"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryCount = 2
	cfg.RetryWait = time.Millisecond
	return cfg
}

func TestInitializeBuildsRangedPlanForLargeFile(t *testing.T) {
	origin := mockorigin.New(make([]byte, 100_000))
	defer origin.Close()

	st := progress.New()
	plan, err := initialize(context.Background(), testConfig(), origin.URL(), http.DefaultClient, st)
	require.NoError(t, err)
	require.True(t, plan.SupportsRanges)
	require.Equal(t, int64(100_000), plan.TotalBytes)
	require.Greater(t, plan.ActiveWorkerCount, 0)
}

func TestInitializeForcesSingleConnectionForSmallFile(t *testing.T) {
	origin := mockorigin.New(make([]byte, 500))
	defer origin.Close()

	st := progress.New()
	plan, err := initialize(context.Background(), testConfig(), origin.URL(), http.DefaultClient, st)
	require.NoError(t, err)
	require.False(t, plan.SupportsRanges)
	require.Equal(t, 1, plan.ActiveWorkerCount)
}

func TestInitializeFallsBackWhenRangesUnsupported(t *testing.T) {
	origin := mockorigin.New(make([]byte, 50_000))
	origin.SetRangeSupport(false)
	defer origin.Close()

	st := progress.New()
	plan, err := initialize(context.Background(), testConfig(), origin.URL(), http.DefaultClient, st)
	require.NoError(t, err)
	require.False(t, plan.SupportsRanges)
	require.Equal(t, 1, plan.ActiveWorkerCount)
}

func TestInitializeEmptyBodyFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	st := progress.New()
	_, err := initialize(context.Background(), testConfig(), server.URL, http.DefaultClient, st)
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindEmptyBody, pe.Kind)
}

func TestInitializeResolvesLinkIndirection(t *testing.T) {
	origin := mockorigin.New(make([]byte, 10_000))
	defer origin.Close()

	st := progress.New()
	plan, err := initialize(context.Background(), testConfig(), origin.URL()+"/archive.tar.gz.link", http.DefaultClient, st)
	require.NoError(t, err)
	require.Equal(t, origin.URL(), plan.ResolvedURL)

	url, ok := st.DownloadURL()
	require.True(t, ok)
	require.Equal(t, origin.URL(), url)
}

func TestBuildChunkPlanKnownSize(t *testing.T) {
	chunks := buildChunkPlan(25, 10)
	require.Equal(t, []ChunkRange{{0, 10}, {10, 20}, {20, 25}}, chunks)
}

func TestBuildChunkPlanUnknownSize(t *testing.T) {
	chunks := buildChunkPlan(-1, 10)
	require.Equal(t, []ChunkRange{{0, -1}}, chunks)
}
