package ptp

import "math/rand"

// scriptedSource drives math/rand.Rand.Float64 with a pre-determined
// sequence of outputs (recycled once exhausted), letting tests force an
// exact drop/keep decision at an exact point in the wire exchange instead
// of depending on statistical luck.
type scriptedSource struct {
	vals []float64
	i    int
}

func newScriptedRand(vals ...float64) *rand.Rand {
	return rand.New(&scriptedSource{vals: vals})
}

func (s *scriptedSource) Int63() int64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	// rand.Rand.Float64 computes float64(Int63())/(1<<63); invert that here
	// so draw() returns (approximately) v.
	return int64(v * (1 << 62) * 2)
}

func (s *scriptedSource) Seed(int64) {}
