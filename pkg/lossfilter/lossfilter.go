// Package lossfilter applies independent Bernoulli drops to segments
// crossing the receiver's send/recv boundary, simulating the lossy
// datagram channel the PTP protocol is designed to tolerate.
package lossfilter

import "math/rand"

// Filter drops inbound segments with probability Forward and outbound ACKs
// with probability Reverse. Only the receiver endpoint runs a Filter; the
// sender applies no loss injection of its own.
type Filter struct {
	forward float64
	reverse float64
	rnd     *rand.Rand
}

// New builds a Filter. flp and rlp are expected in [0.0, 1.0]; rnd may be
// nil, in which case a source seeded from the package-level math/rand
// generator is used.
func New(flp, rlp float64, rnd *rand.Rand) *Filter {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Filter{forward: flp, reverse: rlp, rnd: rnd}
}

// DropForward reports whether an inbound SYN/DATA/FIN should be discarded.
func (f *Filter) DropForward() bool {
	return f.draw() < f.forward
}

// DropReverse reports whether an outbound ACK should be discarded.
func (f *Filter) DropReverse() bool {
	return f.draw() < f.reverse
}

func (f *Filter) draw() float64 {
	return f.rnd.Float64()
}
