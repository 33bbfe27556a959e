// Command ptp-sender drives the PTP sender FSM against a single receiver:
// read a file, hand it off chunk by chunk inside acknowledged batches, and
// tear the connection down cleanly with FIN.
package main

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/telepresenceio/ptp/pkg/ptpconfig"
	"github.com/telepresenceio/ptp/pkg/ptperr"
	"github.com/telepresenceio/ptp/pkg/ptplog"
	"github.com/telepresenceio/ptp/pkg/wire"

	"github.com/telepresenceio/ptp/pkg/ptp"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbosity string
	var logPath string

	cmd := &cobra.Command{
		Use:   "ptp-sender sender_port receiver_port input_file max_win rot",
		Short: "Send a file to a PTP receiver",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args, verbosity, logPath)
		},
	}
	cmd.Flags().StringVar(&verbosity, "verbosity", "info", "diagnostic log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&logPath, "log-format", "ptp-sender.log", "path to the wire-event trace file")
	return cmd
}

func run(ctx context.Context, args []string, verbosity, logPath string) error {
	senderPort, receiverPort, inputPath, maxWin, rot, err := parseArgs(args)
	if err != nil {
		return err
	}

	logger := logrus.New()
	if lvl, lerr := logrus.ParseLevel(verbosity); lerr == nil {
		logger.SetLevel(lvl)
	}
	ctx = dlog.WithLogger(ctx, dlog.NewLogrusLogger(logger))
	ctx = dcontext.WithSoftness(ctx)

	cfg, err := ptpconfig.Load(ctx)
	if err != nil {
		return ptperr.Wrap(err, ptperr.UsageError, "load configuration")
	}

	traceFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer traceFile.Close()
	trace := ptplog.New(traceFile)

	localAddr := &net.UDPAddr{Port: senderPort}
	peerAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: receiverPort}
	conn, err := net.DialUDP("udp", localAddr, peerAddr)
	if err != nil {
		return ptperr.Wrap(err, ptperr.ChannelClosed, "dial receiver")
	}

	s := ptp.NewSender(conn, cfg, maxWin, time.Duration(rot)*time.Millisecond, afero.NewOsFs(), inputPath, trace)
	dlog.Infof(ctx, "sender starting: local=%d peer=%d file=%s max_win=%d rot=%dms", senderPort, receiverPort, inputPath, maxWin, rot)

	if err := s.Run(ctx); err != nil {
		dlog.Errorf(ctx, "transfer failed: %v", err)
		return err
	}
	dlog.Infof(ctx, "transfer complete, state=%s", s.State())
	return nil
}

func parseArgs(args []string) (senderPort, receiverPort int, inputPath string, maxWin, rot int, err error) {
	senderPort, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "sender_port: %v", err)
	}
	receiverPort, err = strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "receiver_port: %v", err)
	}
	inputPath = args[2]

	maxWin, err = strconv.Atoi(args[3])
	if err != nil || maxWin < wire.MaxPayload || maxWin%wire.MaxPayload != 0 {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "max_win must be a multiple of %d, got %q", wire.MaxPayload, args[3])
	}

	rotVal, err := strconv.ParseUint(args[4], 10, 32)
	if err != nil {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "rot: %v", err)
	}
	rot = int(rotVal)

	if _, statErr := os.Stat(inputPath); statErr != nil {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "input_file: %v", statErr)
	}
	return senderPort, receiverPort, inputPath, maxWin, rot, nil
}
