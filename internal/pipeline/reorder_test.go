package pipeline

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReorderReaderInOrderPassthrough(t *testing.T) {
	in := make(chan DataChunk, 3)
	in <- DataChunk{Start: 0, End: 3, Data: []byte("abc")}
	in <- DataChunk{Start: 3, End: 6, Data: []byte("def")}
	close(in)

	r := newReorderReader(in, true, make(chan struct{}), 2)
	buf, err := io.ReadAll(r)
	require.NoError(t, err, "a clean channel close must read as io.EOF, not a read error")
	require.Equal(t, "abcdef", string(buf))
}

func TestReorderReaderBuffersOutOfOrderArrivals(t *testing.T) {
	in := make(chan DataChunk, 3)
	// second chunk arrives first
	in <- DataChunk{Start: 3, End: 6, Data: []byte("def")}
	in <- DataChunk{Start: 0, End: 3, Data: []byte("abc")}
	close(in)

	r := newReorderReader(in, true, make(chan struct{}), 2)
	buf, err := io.ReadAll(r)
	require.NoError(t, err, "a clean channel close must read as io.EOF, not a read error")
	require.Equal(t, "abcdef", string(buf))
}

func TestReorderReaderDisabledForwardsAsIs(t *testing.T) {
	in := make(chan DataChunk, 2)
	in <- DataChunk{Start: 0, End: 3, Data: []byte("xyz")}
	close(in)

	r := newReorderReader(in, false, make(chan struct{}), 0)
	out := make([]byte, 3)
	n, err := r.Read(out)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "xyz", string(out))
}

func TestReorderReaderReturnsEOFOnCleanClose(t *testing.T) {
	in := make(chan DataChunk, 1)
	in <- DataChunk{Start: 0, End: 3, Data: []byte("abc")}
	close(in)

	r := newReorderReader(in, true, make(chan struct{}), 2)
	buf := make([]byte, 3)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = r.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestReorderReaderStopsOnSignal(t *testing.T) {
	in := make(chan DataChunk)
	stop := make(chan struct{})
	close(stop)

	r := newReorderReader(in, true, stop, 1)
	_, err := r.Read(make([]byte, 1))
	require.Error(t, err)
}
