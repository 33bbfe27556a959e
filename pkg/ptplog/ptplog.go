// Package ptplog writes the wire-compatible PTP event trace: one
// tab-separated line per segment sent or received, timestamped relative to
// the connection's first SYN. This is a fixed, externally-parsed format and
// is deliberately independent of the dlog-based diagnostic logging used
// elsewhere in pkg/ptp.
package ptplog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/telepresenceio/ptp/pkg/wire"
)

// Direction is which way a segment crossed the wire relative to the process
// writing the event.
type Direction string

const (
	Snd Direction = "snd"
	Rcv Direction = "rcv"
)

// FormatVersion selects the wire-event line format. Only FormatLegacy is
// implemented: a DATA line concatenates "DATA" with its seq/ack number
// instead of tab-separating them, a long-standing quirk consumers already
// parse around. A future FormatVersion could fix the quirk without breaking
// FormatLegacy readers.
type FormatVersion int

const FormatLegacy FormatVersion = 0

// Logger appends PTP event lines to an underlying writer, anchoring t=0 at
// the first Event call (see Start for explicit control over the anchor).
type Logger struct {
	mu      sync.Mutex
	w       *bufio.Writer
	flusher io.Writer
	format  FormatVersion

	anchored bool
	anchor   time.Time
	emitted  bool
}

// New wraps w. Closers of w remain the caller's responsibility.
func New(w io.Writer) *Logger {
	return &Logger{w: bufio.NewWriter(w), flusher: w, format: FormatLegacy}
}

// Start pins the t=0 anchor to now, if it has not already been pinned.
// The receiver calls it on the connection's first non-dropped SYN, so the
// anchor is fixed exactly once, there; dropped SYNs reach neither Start nor
// Event.
func (l *Logger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.anchored {
		l.anchor = time.Now()
		l.anchored = true
	}
}

// Event appends one trace line for a segment of the given type, carrying
// seqOrAck in its seq/ack field and length bytes of payload (0 for
// non-DATA segments). The first line ever emitted by this Logger always
// carries t_ms=0 exactly, whether or not Start pinned the anchor earlier.
func (l *Logger) Event(dir Direction, segType wire.Type, seqOrAck uint16, length int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.anchored {
		l.anchor = time.Now()
		l.anchored = true
	}

	var tMs float64
	if !l.emitted {
		l.emitted = true
	} else {
		tMs = float64(time.Since(l.anchor).Microseconds()) / 1000.0
	}

	tStr := strconv.FormatFloat(roundTo2(tMs), 'f', 2, 64)
	if segType == wire.DATA {
		fmt.Fprintf(l.w, "%s\t%s\tDATA%d\t%d\n", dir, tStr, seqOrAck, length)
	} else {
		fmt.Fprintf(l.w, "%s\t%s\t%s\t%d\t%d\n", dir, tStr, segType, seqOrAck, length)
	}
	l.w.Flush()
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
