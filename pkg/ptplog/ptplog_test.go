package ptplog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telepresenceio/ptp/pkg/wire"
)

func TestFirstEventIsAnchoredAtZero(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Event(Snd, wire.SYN, 100, 0)

	line := strings.TrimSuffix(buf.String(), "\n")
	fields := strings.Split(line, "\t")
	require.Len(t, fields, 5)
	require.Equal(t, "snd", fields[0])
	require.Equal(t, "0.00", fields[1])
	require.Equal(t, "SYN", fields[2])
	require.Equal(t, "100", fields[3])
	require.Equal(t, "0", fields[4])
}

func TestDataLineConcatenatesTypeAndSeq(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Event(Snd, wire.DATA, 101, 5)

	line := strings.TrimSuffix(buf.String(), "\n")
	fields := strings.Split(line, "\t")
	require.Len(t, fields, 4, "DATA line has one fewer tab than other types")
	require.Equal(t, "DATA101", fields[2])
	require.Equal(t, "5", fields[3])
}

func TestDataConcatenationAppliesToReceiveDirectionToo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Event(Rcv, wire.DATA, 101, 5)

	line := strings.TrimSuffix(buf.String(), "\n")
	require.Contains(t, strings.Split(line, "\t"), "DATA101")
}

func TestStartPinsAnchorOnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Start()
	anchor1 := l.anchor
	l.Start()
	require.Equal(t, anchor1, l.anchor)
}

func TestFirstEventStaysAtZeroWhenMoreFollow(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Event(Snd, wire.SYN, 1, 0)
	l.Event(Rcv, wire.ACK, 2, 0)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "0.00", strings.Split(lines[0], "\t")[1])
}
