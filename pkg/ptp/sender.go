package ptp

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/telepresenceio/ptp/pkg/ptpconfig"
	"github.com/telepresenceio/ptp/pkg/ptperr"
	"github.com/telepresenceio/ptp/pkg/ptplog"
	"github.com/telepresenceio/ptp/pkg/wire"
)

// Sender implements the PTP sender FSM: active open (SYN), windowed,
// acknowledged data transfer, and active close (FIN).
type Sender struct {
	conn *net.UDPConn
	cfg  *ptpconfig.Config

	maxWin int
	rot    time.Duration

	fs        afero.Fs
	inputPath string

	log    *ptplog.Logger
	connID uuid.UUID

	writeMu sync.Mutex
	bus     *ackBus

	state     atomic.Int32
	nextSeq   uint16
	finSeq    uint16
	resetOnce sync.Once
}

// NewSender constructs a Sender that talks to the receiver over conn (a
// socket already connected to the peer), subject to maxWinBytes (a byte budget, per §4.2) and a retransmission
// timeout rot. The file at inputPath is read through fs so tests can swap
// in an in-memory filesystem.
func NewSender(conn *net.UDPConn, cfg *ptpconfig.Config, maxWinBytes int, rot time.Duration, fs afero.Fs, inputPath string, log *ptplog.Logger) *Sender {
	s := &Sender{
		conn:      conn,
		cfg:       cfg,
		maxWin:    maxWinBytes,
		rot:       rot,
		fs:        fs,
		inputPath: inputPath,
		log:       log,
		connID:    uuid.New(),
		bus:       newAckBus(),
	}
	s.state.Store(int32(SenderClosed))
	return s
}

// State returns the sender's current connection state.
func (s *Sender) State() SenderState {
	return SenderState(s.state.Load())
}

// Run drives the full connection lifecycle to completion: SYN, data
// transfer, FIN. It returns nil only on a clean, fully-acknowledged
// transfer; a protocol failure returns a *ptperr.Error describing why (the
// sender will already have sent RESET if that's how it terminated), and a
// failure of the demultiplexer goroutine is returned as reported by its
// dgroup.Group.
func (s *Sender) Run(ctx context.Context) error {
	g := dgroup.NewGroup(dcontext.WithSoftness(ctx), dgroup.GroupConfig{
		EnableWithSoftness: true,
		ShutdownOnNonError: true,
	})
	g.Go("demux", func(ctx context.Context) error {
		return s.runDemux(ctx)
	})

	data, readErr := afero.ReadFile(s.fs, s.inputPath)

	runErr := func() error {
		if readErr != nil {
			return ptperr.Wrap(readErr, ptperr.ChannelClosed, "read input file")
		}
		if err := s.doSyn(ctx); err != nil {
			return err
		}
		if err := s.transferData(ctx, data); err != nil {
			return err
		}
		return s.doFin(ctx)
	}()

	_ = s.conn.Close()
	if waitErr := g.Wait(); waitErr != nil && runErr == nil {
		runErr = waitErr
	}
	return runErr
}

func (s *Sender) runDemux(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = derror.PanicToError(r)
		}
	}()
	buf := make([]byte, wire.MaxSegment+64)
	hardCtx := dcontext.HardContext(ctx)
	for {
		select {
		case <-hardCtx.Done():
			return nil
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, rerr := s.conn.Read(buf)
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(rerr, net.ErrClosed) {
				return nil
			}
			dlog.Debugf(ctx, "CON %s demux read error: %v", s.connID, rerr)
			return nil
		}
		seg, derr := wire.Decode(buf[:n])
		if derr != nil {
			dlog.Debugf(ctx, "CON %s malformed segment: %v", s.connID, derr)
			continue
		}
		if !seg.Type.Valid() {
			dlog.Debugf(ctx, "CON %s unknown segment type %d discarded", s.connID, seg.Type)
			continue
		}
		if seg.Type != wire.ACK {
			dlog.Debugf(ctx, "CON %s unexpected %s on sender socket discarded", s.connID, seg.Type)
			continue
		}
		s.log.Event(ptplog.Rcv, wire.ACK, seg.Seq, 0)
		s.bus.publish(seg.Seq)
	}
}

func (s *Sender) writeSegment(seg wire.Segment) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(wire.Encode(seg))
	return err
}

func (s *Sender) sendReset(ctx context.Context) {
	s.resetOnce.Do(func() {
		if err := s.writeSegment(wire.Segment{Type: wire.RESET, Seq: 0}); err != nil {
			dlog.Debugf(ctx, "CON %s RESET send failed: %v", s.connID, err)
		}
		s.log.Event(ptplog.Snd, wire.RESET, 0, 0)
		s.state.Store(int32(SenderClosed))
		dlog.Errorf(ctx, "CON %s connection failed, RESET sent, returned to CLOSED", s.connID)
	})
}

// doSyn performs the active-open handshake.
func (s *Sender) doSyn(ctx context.Context) error {
	isn := uint16(rand.Intn(65536))
	id, ch := s.bus.subscribe(s.cfg.AckBusBuffer)
	defer s.bus.unsubscribe(id)

	wantAck := addSeq(isn, 1)
	for attempt := 0; attempt < s.cfg.MaxTransmissions; attempt++ {
		if err := s.writeSegment(wire.Segment{Type: wire.SYN, Seq: isn}); err != nil {
			return ptperr.Wrap(err, ptperr.ChannelClosed, "send SYN")
		}
		s.log.Event(ptplog.Snd, wire.SYN, isn, 0)
		s.state.Store(int32(SenderSynSent))

		if s.waitForAck(ctx, ch, wantAck, 0, nil) {
			s.state.Store(int32(SenderEstablished))
			s.nextSeq = wantAck
			return nil
		}
		dlog.Debugf(ctx, "CON %s SYN timeout, %d attempt(s) left", s.connID, s.cfg.MaxTransmissions-attempt-1)
	}
	s.sendReset(ctx)
	return ptperr.New(ptperr.RetransmitExhausted, "SYN exhausted after %d attempts", s.cfg.MaxTransmissions)
}

// waitForAck blocks until rot elapses or an ack arrives on ch that matches
// wantAck exactly, or (when ackToOrdinal is non-nil) cumulatively
// acknowledges ordinal via a later chunk's expected ack.
func (s *Sender) waitForAck(ctx context.Context, ch chan uint16, wantAck uint16, ordinal int, ackToOrdinal map[uint16]int) bool {
	timer := time.NewTimer(s.rot)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case a := <-ch:
			if a == wantAck {
				return true
			}
			if ackToOrdinal != nil {
				if o, ok := ackToOrdinal[a]; ok && o > ordinal {
					return true
				}
			}
		case <-timer.C:
			return false
		}
	}
}

// transferData chunks data and transmits it in non-overlapping batches of
// W = floor(maxWin/1000) chunks.
func (s *Sender) transferData(ctx context.Context, data []byte) error {
	chunks, finSeq := buildChunks(data, s.nextSeq)
	s.finSeq = finSeq
	if len(chunks) == 0 {
		return nil
	}

	ackToOrdinal := make(map[uint16]int, len(chunks))
	for _, c := range chunks {
		ackToOrdinal[c.ExpectedAck] = c.Ordinal
	}

	w := s.maxWin / wire.MaxPayload
	if w < 1 {
		w = 1
	}

	for start := 0; start < len(chunks); start += w {
		end := start + w
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.sendBatch(ctx, chunks[start:end], ackToOrdinal); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) sendBatch(ctx context.Context, batch []Chunk, ackToOrdinal map[uint16]int) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(batch))
	for _, c := range batch {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.sendChunkReliable(ctx, c, ackToOrdinal)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// sendChunkReliable drives a single chunk to acknowledgment: send, await ACK
// within rot, retransmit on timeout, up to cfg.MaxTransmissions total
// transmissions.
func (s *Sender) sendChunkReliable(ctx context.Context, c Chunk, ackToOrdinal map[uint16]int) error {
	id, ch := s.bus.subscribe(s.cfg.AckBusBuffer)
	defer s.bus.unsubscribe(id)

	for attempt := 0; attempt < s.cfg.MaxTransmissions; attempt++ {
		if err := s.writeSegment(wire.Segment{Type: wire.DATA, Seq: c.Seq, Payload: c.Payload}); err != nil {
			return ptperr.Wrap(err, ptperr.ChannelClosed, "send DATA")
		}
		s.log.Event(ptplog.Snd, wire.DATA, c.Seq, len(c.Payload))

		if s.awaitChunkAck(ctx, ch, c, ackToOrdinal) {
			return nil
		}
		dlog.Debugf(ctx, "CON %s DATA seq=%d timeout, %d attempt(s) left", s.connID, c.Seq, s.cfg.MaxTransmissions-attempt-1)
	}
	s.sendReset(ctx)
	return ptperr.New(ptperr.RetransmitExhausted, "DATA seq=%d exhausted after %d attempts", c.Seq, s.cfg.MaxTransmissions)
}

// awaitChunkAck waits up to rot for an ack that confirms chunk c: an exact
// match on its expected ack, a later chunk's ack (which cumulatively
// confirms every earlier chunk), or an ack that falls in the FIN's range,
// which also implicitly confirms every chunk ahead of it.
func (s *Sender) awaitChunkAck(ctx context.Context, ch chan uint16, c Chunk, ackToOrdinal map[uint16]int) bool {
	timer := time.NewTimer(s.rot)
	defer timer.Stop()
	finWant := addSeq(s.finSeq, 1)
	for {
		select {
		case <-ctx.Done():
			return false
		case a := <-ch:
			if addSeq(a, 1) == finWant {
				return true
			}
			if a == c.ExpectedAck {
				return true
			}
			if o, ok := ackToOrdinal[a]; ok {
				if o > c.Ordinal {
					return true
				}
				// o <= c.Ordinal: stale/earlier ack, keep waiting.
			}
		case <-timer.C:
			return false
		}
	}
}

// doFin performs the active-close handshake, then lingers briefly to
// absorb a retransmitted FIN before the caller closes the socket.
func (s *Sender) doFin(ctx context.Context) error {
	id, ch := s.bus.subscribe(s.cfg.AckBusBuffer)
	defer s.bus.unsubscribe(id)

	wantAck := addSeq(s.finSeq, 1)
	for attempt := 0; attempt < s.cfg.MaxTransmissions; attempt++ {
		if err := s.writeSegment(wire.Segment{Type: wire.FIN, Seq: s.finSeq}); err != nil {
			return ptperr.Wrap(err, ptperr.ChannelClosed, "send FIN")
		}
		s.log.Event(ptplog.Snd, wire.FIN, s.finSeq, 0)
		s.state.Store(int32(SenderFinSent))

		if s.waitForAck(ctx, ch, wantAck, 0, nil) {
			select {
			case <-time.After(s.cfg.LingerDuration):
			case <-ctx.Done():
			}
			s.state.Store(int32(SenderClosed))
			return nil
		}
		dlog.Debugf(ctx, "CON %s FIN timeout, %d attempt(s) left", s.connID, s.cfg.MaxTransmissions-attempt-1)
	}
	s.sendReset(ctx)
	return ptperr.New(ptperr.RetransmitExhausted, "FIN exhausted after %d attempts", s.cfg.MaxTransmissions)
}
