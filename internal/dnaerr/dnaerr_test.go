package dnaerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Temporary, cause, "dial object store")

	require.Equal(t, Temporary, KindOf(err))
	require.True(t, IsKind(err, Temporary))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "dial object store: connection refused", err.Error())
}

func TestKindOfIsUnknownWithoutWrapping(t *testing.T) {
	cause := New(Configuration, "missing flag")
	wrapped := errors.New("wrapper: " + cause.Error())

	require.Equal(t, Unknown, KindOf(wrapped))
	require.Equal(t, Configuration, KindOf(cause))
}

func TestExitCodeMapsKinds(t *testing.T) {
	require.Equal(t, ExitOK, ExitCode(nil))
	require.Equal(t, ExitOK, ExitCode(New(Cancelled, "shutdown")))
	require.Equal(t, ExitTemporary, ExitCode(New(Temporary, "retry me")))
	require.Equal(t, ExitConfiguration, ExitCode(New(Configuration, "bad flag")))
	require.Equal(t, ExitFatal, ExitCode(New(Fatal, "invariant violated")))
	require.Equal(t, ExitFatal, ExitCode(errors.New("plain error")))
}
