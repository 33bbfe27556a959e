package ptperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCarriesKind(t *testing.T) {
	err := New(Timeout, "rot elapsed waiting for seq=%d", 101)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, Timeout, kind)
	require.True(t, Is(err, Timeout))
	require.False(t, Is(err, ChannelClosed))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ChannelClosed, "dial receiver")
	require.True(t, Is(err, ChannelClosed))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection refused")
}

func TestWrapNilReturnsNil(t *testing.T) {
	require.NoError(t, Wrap(nil, Timeout, "no-op"))
}

func TestKindOfMissing(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	require.False(t, ok)
}
