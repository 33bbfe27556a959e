package ptp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSenderStateStrings(t *testing.T) {
	require.Equal(t, "CLOSED", SenderClosed.String())
	require.Equal(t, "SYN_SENT", SenderSynSent.String())
	require.Equal(t, "ESTABLISHED", SenderEstablished.String())
	require.Equal(t, "FIN_SENT", SenderFinSent.String())
	require.Contains(t, SenderState(99).String(), "SenderState")
}

func TestReceiverStateStrings(t *testing.T) {
	require.Equal(t, "LISTEN", ReceiverListen.String())
	require.Equal(t, "ESTABLISHED", ReceiverEstablished.String())
	require.Equal(t, "CLOSED", ReceiverClosed.String())
	require.Contains(t, ReceiverState(99).String(), "ReceiverState")
}
