package ptp

import (
	"context"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/telepresenceio/ptp/pkg/lossfilter"
	"github.com/telepresenceio/ptp/pkg/ptplog"
	"github.com/telepresenceio/ptp/pkg/wire"
)

// Receiver implements the PTP receiver FSM: a single-threaded,
// event-driven accept/data/teardown loop.
type Receiver struct {
	conn   *net.UDPConn
	filter *lossfilter.Filter

	fs         afero.Fs
	outputPath string
	outFile    afero.File

	log    *ptplog.Logger
	connID uuid.UUID

	state   atomic.Int32
	started bool

	expectedSeq uint16
	buffer      map[uint16][]byte
	nextAfter   map[uint16]uint16
	seen        map[uint16]bool
}

// NewReceiver constructs a Receiver bound to conn, writing delivered bytes
// to outputPath through fs (append mode, created if absent), applying
// filter's Bernoulli drops to every inbound SYN/DATA/FIN and every outbound
// ACK. An inbound RESET is never dropped.
func NewReceiver(conn *net.UDPConn, filter *lossfilter.Filter, fs afero.Fs, outputPath string, log *ptplog.Logger) *Receiver {
	r := &Receiver{
		conn:       conn,
		filter:     filter,
		fs:         fs,
		outputPath: outputPath,
		log:        log,
		connID:     uuid.New(),
		buffer:     make(map[uint16][]byte),
		nextAfter:  make(map[uint16]uint16),
		seen:       make(map[uint16]bool),
	}
	r.state.Store(int32(ReceiverListen))
	return r
}

// State returns the receiver's current connection state.
func (r *Receiver) State() ReceiverState {
	return ReceiverState(r.state.Load())
}

// Run blocks, processing segments until a FIN or RESET terminates the
// connection, the context is cancelled, or the socket is closed
// externally. It always returns a nil error on a protocol-level
// termination (FIN or RESET), which callers treat as a clean exit.
func (r *Receiver) Run(ctx context.Context) error {
	f, err := r.fs.OpenFile(r.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.outFile = f

	buf := make([]byte, wire.MaxSegment+64)
	for {
		select {
		case <-ctx.Done():
			return r.closeAll(nil)
		default:
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, addr, rerr := r.conn.ReadFromUDP(buf)
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(rerr, net.ErrClosed) {
				return r.closeAll(nil)
			}
			dlog.Debugf(ctx, "CON %s read error: %v", r.connID, rerr)
			continue
		}

		seg, derr := wire.Decode(buf[:n])
		if derr != nil {
			dlog.Debugf(ctx, "CON %s malformed segment from %s: %v", r.connID, addr, derr)
			continue
		}
		if !seg.Type.Valid() {
			dlog.Debugf(ctx, "CON %s unknown segment type %d discarded", r.connID, seg.Type)
			continue
		}

		switch seg.Type {
		case wire.SYN:
			r.handleSyn(ctx, seg, addr)
		case wire.DATA:
			r.handleData(ctx, seg, addr)
		case wire.FIN:
			if r.handleFin(ctx, seg, addr) {
				return r.closeAll(nil)
			}
		case wire.RESET:
			r.handleReset(ctx, seg)
			return r.closeAll(nil)
		}
	}
}

func (r *Receiver) writeSegment(addr *net.UDPAddr, seg wire.Segment) error {
	_, err := r.conn.WriteToUDP(wire.Encode(seg), addr)
	return err
}

// handleSyn replies to a SYN with ACK(S+1). Per the reference
// implementation (see DESIGN.md open questions), the expected_seq/state
// transition is only committed if the reply ACK itself survives the
// reverse loss filter; a dropped SYN-ACK leaves the receiver exactly as it
// was, ready to answer a retransmitted SYN.
func (r *Receiver) handleSyn(ctx context.Context, seg wire.Segment, addr *net.UDPAddr) {
	if r.filter.DropForward() {
		dlog.Debugf(ctx, "CON %s SYN dropped", r.connID)
		return
	}
	if !r.started {
		r.log.Start()
		r.started = true
	}
	r.log.Event(ptplog.Rcv, wire.SYN, seg.Seq, 0)

	ack := addSeq(seg.Seq, 1)
	r.log.Event(ptplog.Snd, wire.ACK, ack, 0)
	if r.filter.DropReverse() {
		dlog.Debugf(ctx, "CON %s SYN-ACK dropped", r.connID)
		return
	}
	if err := r.writeSegment(addr, wire.Segment{Type: wire.ACK, Seq: ack}); err != nil {
		dlog.Errorf(ctx, "CON %s SYN-ACK write failed: %v", r.connID, err)
		return
	}
	r.expectedSeq = ack
	r.state.Store(int32(ReceiverEstablished))
}

// handleData stores, drains, and acknowledges an inbound DATA segment.
// Buffer mutation and the in-order drain to the output file happen
// unconditionally: a sender retransmit that arrives after the ACK was
// already dropped once must still see the same cumulative progress, so
// only the ACK's actual transmission is gated by rlp.
func (r *Receiver) handleData(ctx context.Context, seg wire.Segment, addr *net.UDPAddr) {
	if r.filter.DropForward() {
		dlog.Debugf(ctx, "CON %s DATA seq=%d dropped", r.connID, seg.Seq)
		return
	}
	length := len(seg.Payload)
	r.log.Event(ptplog.Rcv, wire.DATA, seg.Seq, length)

	r.nextAfter[seg.Seq] = addSeq(seg.Seq, length)
	if !r.seen[seg.Seq] {
		r.seen[seg.Seq] = true
		payload := make([]byte, length)
		copy(payload, seg.Payload)
		r.buffer[seg.Seq] = payload
	}

	for {
		payload, ok := r.buffer[r.expectedSeq]
		if !ok {
			break
		}
		if _, err := r.outFile.Write(payload); err != nil {
			dlog.Errorf(ctx, "CON %s output write failed: %v", r.connID, err)
			break
		}
		delete(r.buffer, r.expectedSeq)
		r.expectedSeq = r.nextAfter[r.expectedSeq]
	}

	ack := r.expectedSeq
	r.log.Event(ptplog.Snd, wire.ACK, ack, 0)
	if r.filter.DropReverse() {
		dlog.Debugf(ctx, "CON %s DATA-ACK dropped", r.connID)
		return
	}
	if err := r.writeSegment(addr, wire.Segment{Type: wire.ACK, Seq: ack}); err != nil {
		dlog.Errorf(ctx, "CON %s DATA-ACK write failed: %v", r.connID, err)
	}
}

// handleFin replies to a FIN with ACK(F+1) and reports whether the
// connection should now terminate. As with SYN, termination only commits
// once the ACK has survived the reverse filter; otherwise the receiver
// keeps running, ready for a retransmitted FIN.
func (r *Receiver) handleFin(ctx context.Context, seg wire.Segment, addr *net.UDPAddr) bool {
	if r.filter.DropForward() {
		dlog.Debugf(ctx, "CON %s FIN dropped", r.connID)
		return false
	}
	r.log.Event(ptplog.Rcv, wire.FIN, seg.Seq, 0)

	ack := addSeq(seg.Seq, 1)
	r.log.Event(ptplog.Snd, wire.ACK, ack, 0)
	if r.filter.DropReverse() {
		dlog.Debugf(ctx, "CON %s FIN-ACK dropped", r.connID)
		return false
	}
	if err := r.writeSegment(addr, wire.Segment{Type: wire.ACK, Seq: ack}); err != nil {
		dlog.Errorf(ctx, "CON %s FIN-ACK write failed: %v", r.connID, err)
		return false
	}
	r.state.Store(int32(ReceiverClosed))
	return true
}

func (r *Receiver) handleReset(ctx context.Context, seg wire.Segment) {
	r.log.Event(ptplog.Rcv, wire.RESET, seg.Seq, 0)
	dlog.Errorf(ctx, "CON %s RESET received, connection closed", r.connID)
	r.state.Store(int32(ReceiverClosed))
}

func (r *Receiver) closeAll(err error) error {
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if r.outFile != nil {
		if cerr := r.outFile.Close(); cerr != nil {
			result = multierror.Append(result, cerr)
		}
	}
	if cerr := r.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		result = multierror.Append(result, cerr)
	}
	return result.ErrorOrNil()
}
