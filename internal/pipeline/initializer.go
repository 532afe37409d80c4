package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"pipedl/internal/progress"
)

const smallFileThreshold = 10_000

// initialize resolves `.link` indirection, probes the origin, and builds
// the immutable Plan workers and the decoder/sink stages depend on.
func initialize(ctx context.Context, cfg Config, rawURL string, client *http.Client, st *progress.State) (*Plan, error) {
	resolvedURL := rawURL
	if strings.HasSuffix(rawURL, ".link") {
		body, err := fetchLinkBody(ctx, client, rawURL, cfg)
		if err != nil {
			return nil, newErr(KindBadLinkURL, rawURL, err)
		}
		body = strings.TrimSpace(body)
		if body == "" {
			return nil, newErr(KindBadLinkURL, "empty link body", nil)
		}
		if !strings.HasPrefix(body, "http://") && !strings.HasPrefix(body, "https://") {
			return nil, newErr(KindBadLinkURL, "link body is not an http(s) url", nil)
		}
		resolvedURL = body
	}
	// Publish early: the decoder and sink stages poll this value rather
	// than re-resolving the `.link` themselves.
	st.SetDownloadURL(resolvedURL)

	useRanges := !cfg.ForceNoRanges

	headResp, err := headWithRetry(ctx, client, resolvedURL, cfg)
	if err != nil {
		return nil, newErr(KindUnexpectedStatus, "HEAD probe failed", err)
	}
	io.Copy(io.Discard, headResp.Body)
	headResp.Body.Close()

	totalBytes := int64(-1)
	if cl := headResp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			totalBytes = n
		}
	}
	if totalBytes < 0 {
		logrus.Warn("Content-Length header not found, continuing without size knowledge")
		useRanges = false
	}
	if totalBytes == 0 {
		return nil, newErr(KindEmptyBody, "Content-Length is 0", nil)
	}
	if totalBytes > 0 && totalBytes < smallFileThreshold {
		logrus.Info("file is small, forcing single connection mode")
		useRanges = false
	}

	if useRanges {
		ok, err := probeRangeSupport(ctx, client, resolvedURL, cfg)
		if err != nil || !ok {
			logrus.Warn("server does not support partial content, falling back to single request")
			useRanges = false
		}
	}

	activeWorkers := cfg.WorkerCount
	if activeWorkers < 1 {
		activeWorkers = 1
	}
	if !useRanges {
		activeWorkers = 1
	}

	chunks := buildChunkPlan(totalBytes, cfg.DownloadChunkBytes)

	st.SetTotalDownloadSize(totalBytes)
	st.InitChunks(len(chunks), activeWorkers)

	plan := &Plan{
		ResolvedURL:       resolvedURL,
		TotalBytes:        totalBytes,
		SupportsRanges:    useRanges,
		ActiveWorkerCount: activeWorkers,
		Chunks:            chunks,
	}
	logrus.WithFields(logrus.Fields{
		"totalBytes":     totalBytes,
		"supportsRanges": useRanges,
		"workers":        activeWorkers,
		"chunks":         len(chunks),
	}).Info("pipeline initialized")
	return plan, nil
}

func buildChunkPlan(totalBytes, chunkSize int64) []ChunkRange {
	if totalBytes < 0 {
		return []ChunkRange{{Start: 0, End: -1}}
	}
	count := (totalBytes + chunkSize - 1) / chunkSize
	if count < 1 {
		count = 1
	}
	chunks := make([]ChunkRange, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > totalBytes {
			end = totalBytes
		}
		if end <= start {
			break
		}
		chunks = append(chunks, ChunkRange{Start: start, End: end})
	}
	if len(chunks) == 0 {
		chunks = append(chunks, ChunkRange{Start: 0, End: totalBytes})
	}
	return chunks
}

func fetchLinkBody(ctx context.Context, client *http.Client, url string, cfg Config) (string, error) {
	var body string
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("unexpected status %d fetching link", resp.StatusCode)
			}
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			body = string(b)
			return nil
		},
		retry.Attempts(uint(retryAttempts(cfg))),
		retry.Delay(cfg.RetryWait),
		retry.DelayType(retry.BackOffDelay),
	)
	return body, err
}

func headWithRetry(ctx context.Context, client *http.Client, url string, cfg Config) (*http.Response, error) {
	var resp *http.Response
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				return err
			}
			r, err := client.Do(req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Attempts(uint(retryAttempts(cfg))),
		retry.Delay(cfg.RetryWait),
		retry.DelayType(retry.BackOffDelay),
	)
	return resp, err
}

// probeRangeSupport issues HEAD bytes=1000-2000 and requires a 206 to
// conclude the origin honors range requests.
func probeRangeSupport(ctx context.Context, client *http.Client, url string, cfg Config) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", "bytes=1000-2000")
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusPartialContent, nil
}

func retryAttempts(cfg Config) int {
	if cfg.RetryCount <= 0 {
		return 1
	}
	return cfg.RetryCount
}
