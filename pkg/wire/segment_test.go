package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Segment{
		{Type: SYN, Seq: 100},
		{Type: ACK, Seq: 101},
		{Type: DATA, Seq: 101, Payload: []byte("hello")},
		{Type: FIN, Seq: 106},
		{Type: RESET, Seq: 0},
	}
	for _, want := range cases {
		buf := Encode(want)
		got, err := Decode(buf)
		require.NoError(t, err)
		if diff := cmp.Diff(want.Type, got.Type); diff != "" {
			t.Errorf("type mismatch (-want +got):\n%s", diff)
		}
		require.Equal(t, want.Seq, got.Seq)
		if len(want.Payload) == 0 {
			require.Empty(t, got.Payload)
		} else {
			require.Equal(t, want.Payload, got.Payload)
		}
	}
}

func TestDecodeRejectsShortInput(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2})
	require.Error(t, err)
}

func TestDecodeAcceptsUnknownType(t *testing.T) {
	seg, err := Decode([]byte{0, 9, 0, 1})
	require.NoError(t, err)
	require.False(t, seg.Type.Valid())
}

func TestMaxSegmentSize(t *testing.T) {
	seg := Segment{Type: DATA, Seq: 1, Payload: make([]byte, MaxPayload)}
	require.Len(t, Encode(seg), MaxSegment)
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "DATA", DATA.String())
	require.Equal(t, "RESET", RESET.String())
	require.Contains(t, Type(99).String(), "UNKNOWN")
}
