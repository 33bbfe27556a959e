package ptp

import "fmt"

// SenderState is one of the sender-side connection states.
type SenderState int32

const (
	SenderClosed SenderState = iota
	SenderSynSent
	SenderEstablished
	SenderFinSent
)

func (s SenderState) String() string {
	switch s {
	case SenderClosed:
		return "CLOSED"
	case SenderSynSent:
		return "SYN_SENT"
	case SenderEstablished:
		return "ESTABLISHED"
	case SenderFinSent:
		return "FIN_SENT"
	default:
		return fmt.Sprintf("SenderState(%d)", int32(s))
	}
}

// ReceiverState is one of the receiver-side connection states.
type ReceiverState int32

const (
	ReceiverListen ReceiverState = iota
	ReceiverEstablished
	ReceiverClosed
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverListen:
		return "LISTEN"
	case ReceiverEstablished:
		return "ESTABLISHED"
	case ReceiverClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ReceiverState(%d)", int32(s))
	}
}
