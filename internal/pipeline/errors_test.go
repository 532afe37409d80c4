package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newErr(KindTransientRead, "chunk 3", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "chunk 3")
	require.Contains(t, err.Error(), "TransientRead")
}

func TestIsControlFlow(t *testing.T) {
	require.True(t, isControlFlow(stoppedErr))
	require.True(t, isControlFlow(newErr(KindPaused, "", nil)))
	require.False(t, isControlFlow(newErr(KindUnexpectedStatus, "", nil)))
	require.False(t, isControlFlow(errors.New("plain")))
}

func TestKindStringCoversAllValues(t *testing.T) {
	for k := KindCannotInferTarget; k <= KindPaused; k++ {
		require.NotEqual(t, "Unknown", k.String())
	}
}
