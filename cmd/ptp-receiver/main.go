// Command ptp-receiver accepts a single PTP connection, reassembles the
// incoming byte stream into a file, and acknowledges segments subject to
// an injected Bernoulli loss rate in each direction.
package main

import (
	"context"
	"net"
	"os"
	"strconv"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/telepresenceio/ptp/pkg/lossfilter"
	"github.com/telepresenceio/ptp/pkg/ptperr"
	"github.com/telepresenceio/ptp/pkg/ptplog"

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
		Use:   "ptp-receiver receiver_port sender_port output_file flp rlp",
		Short: "Receive a file from a PTP sender",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args, verbosity, logPath)
		},
	}
	cmd.Flags().StringVar(&verbosity, "verbosity", "info", "diagnostic log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&logPath, "log-format", "ptp-receiver.log", "path to the wire-event trace file")
	return cmd
}

func run(ctx context.Context, args []string, verbosity, logPath string) error {
	receiverPort, _, outputPath, flp, rlp, err := parseArgs(args)
	if err != nil {
		return err
	}

	logger := logrus.New()
	if lvl, lerr := logrus.ParseLevel(verbosity); lerr == nil {
		logger.SetLevel(lvl)
	}
	ctx = dlog.WithLogger(ctx, dlog.NewLogrusLogger(logger))
	ctx = dcontext.WithSoftness(ctx)

	traceFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer traceFile.Close()
	trace := ptplog.New(traceFile)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: receiverPort})
	if err != nil {
		return ptperr.Wrap(err, ptperr.ChannelClosed, "listen")
	}

	filter := lossfilter.New(flp, rlp, nil)
	r := ptp.NewReceiver(conn, filter, afero.NewOsFs(), outputPath, trace)

	dlog.Infof(ctx, "receiver starting: port=%d output=%s flp=%.3f rlp=%.3f", receiverPort, outputPath, flp, rlp)
	if err := r.Run(ctx); err != nil {
		dlog.Errorf(ctx, "connection ended with error: %v", err)
		return err
	}
	dlog.Infof(ctx, "connection closed, state=%s", r.State())
	return nil
}

func parseArgs(args []string) (receiverPort, senderPort int, outputPath string, flp, rlp float64, err error) {
	receiverPort, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "receiver_port: %v", err)
	}
	senderPort, err = strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "sender_port: %v", err)
	}
	outputPath = args[2]

	flp, err = strconv.ParseFloat(args[3], 64)
	if err != nil || flp < 0 || flp > 1 {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "flp must be in [0.0, 1.0], got %q", args[3])
	}
	rlp, err = strconv.ParseFloat(args[4], 64)
	if err != nil || rlp < 0 || rlp > 1 {
		return 0, 0, "", 0, 0, ptperr.New(ptperr.UsageError, "rlp must be in [0.0, 1.0], got %q", args[4])
	}
	return receiverPort, senderPort, outputPath, flp, rlp, nil
}
