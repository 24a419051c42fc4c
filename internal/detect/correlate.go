package detect

import (
	"math"

	"gonum.org/v1/gonum/cmplxs"
)

// correlator slides a fixed reference over a sample buffer.
type correlator struct {
	ref     []complex128
	refNorm float64
}

func newCorrelator(ref []complex128) *correlator {
	return &correlator{ref: ref, refNorm: cmplxs.Norm(ref, 2)}
}

func (c *correlator) len() int { return len(c.ref) }

// raw returns |sum r[n+m] conj(ref[m])|, proportional to the received
// amplitude of the reference at n.
func (c *correlator) raw(rx []complex128, n int) float64 {
	w := rx[n : n+len(c.ref)]
	return abs(cmplxs.Dot(c.ref, w))
}

// normalized returns raw divided by both window norms, in [0, 1].
func (c *correlator) normalized(rx []complex128, n int) float64 {
	w := rx[n : n+len(c.ref)]
	den := c.refNorm * cmplxs.Norm(w, 2)
	if den == 0 {
		return 0
	}
	return abs(cmplxs.Dot(c.ref, w)) / den
}

// trace evaluates normalized for n in [start, end), clipped to positions
// where the whole reference fits.
func (c *correlator) trace(rx []complex128, start, end int) []float64 {
	start = max(start, 0)
	end = min(end, len(rx)-len(c.ref)+1)
	if start >= end {
		return nil
	}
	out := make([]float64, end-start)
	for i := range out {
		out[i] = c.normalized(rx, start+i)
	}
	return out
}

func abs(v complex128) float64 {
	return math.Hypot(real(v), imag(v))
}
