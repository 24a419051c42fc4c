package fec

import (
	"fmt"
	"math/bits"
)

// Industry-standard K=7 convolutional code used by 802.11 OFDM.
const (
	ConstraintLength = 7
	numStates        = 1 << (ConstraintLength - 1)
	generatorA       = 0o133
	generatorB       = 0o171
)

// CodeRate identifies a punctured code rate of the mother rate-1/2 code.
type CodeRate int

const (
	Rate1_2 CodeRate = iota
	Rate2_3
	Rate3_4
)

// puncture patterns per input bit: keepA[i], keepB[i] for position i in the period.
var puncturePatterns = map[CodeRate]struct {
	keepA []bool
	keepB []bool
}{
	Rate1_2: {keepA: []bool{true}, keepB: []bool{true}},
	Rate2_3: {keepA: []bool{true, true}, keepB: []bool{true, false}},
	Rate3_4: {keepA: []bool{true, true, false}, keepB: []bool{true, false, true}},
}

// String returns the rate as a fraction.
func (r CodeRate) String() string {
	switch r {
	case Rate1_2:
		return "1/2"
	case Rate2_3:
		return "2/3"
	case Rate3_4:
		return "3/4"
	default:
		return fmt.Sprintf("CodeRate(%d)", int(r))
	}
}

// Fraction returns numerator and denominator of the rate.
func (r CodeRate) Fraction() (int, int) {
	switch r {
	case Rate2_3:
		return 2, 3
	case Rate3_4:
		return 3, 4
	default:
		return 1, 2
	}
}

// Period returns the number of input bits in one puncturing period.
func (r CodeRate) Period() int {
	return len(puncturePatterns[r].keepA)
}

// CodedLength returns the number of output bits for n input bits.
func (r CodeRate) CodedLength(n int) int {
	p, ok := puncturePatterns[r]
	if !ok {
		return 0
	}
	out := 0
	for i := 0; i < n; i++ {
		k := i % len(p.keepA)
		if p.keepA[k] {
			out++
		}
		if p.keepB[k] {
			out++
		}
	}
	return out
}

func encodeStep(state int, bit byte) (a, b byte, next int) {
	reg := int(bit&1)<<(ConstraintLength-1) | state
	a = byte(bits.OnesCount(uint(reg&generatorA)) & 1)
	b = byte(bits.OnesCount(uint(reg&generatorB)) & 1)
	return a, b, reg >> 1
}

// ConvEncode encodes bits (one per byte) starting from the all-zero state and
// applies the puncturing pattern of rate.
func ConvEncode(in []byte, rate CodeRate) ([]byte, error) {
	p, ok := puncturePatterns[rate]
	if !ok {
		return nil, fmt.Errorf("unsupported code rate %v", rate)
	}
	if len(in)%len(p.keepA) != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of puncturing period %d", len(in), len(p.keepA))
	}

	out := make([]byte, 0, rate.CodedLength(len(in)))
	state := 0
	for i, bit := range in {
		a, b, next := encodeStep(state, bit)
		state = next
		k := i % len(p.keepA)
		if p.keepA[k] {
			out = append(out, a)
		}
		if p.keepB[k] {
			out = append(out, b)
		}
	}
	return out, nil
}

// ViterbiDecode performs hard-decision maximum-likelihood decoding of a
// punctured stream produced by ConvEncode. Punctured positions are treated as
// erasures. The survivor with the best final metric is traced back, so the
// stream does not need to be terminated.
func ViterbiDecode(coded []byte, rate CodeRate) ([]byte, error) {
	p, ok := puncturePatterns[rate]
	if !ok {
		return nil, fmt.Errorf("unsupported code rate %v", rate)
	}
	period := len(p.keepA)
	perPeriod := rate.CodedLength(period)
	if len(coded)%perPeriod != 0 {
		return nil, fmt.Errorf("coded length %d is not a multiple of %d", len(coded), perPeriod)
	}
	steps := len(coded) / perPeriod * period

	const unreachable = 1 << 30
	metrics := make([]int, numStates)
	nextMetrics := make([]int, numStates)
	for s := 1; s < numStates; s++ {
		metrics[s] = unreachable
	}
	// decisions[t][s] holds the low bit of the predecessor of state s at step t.
	decisions := make([][numStates]byte, steps)

	pos := 0
	for t := 0; t < steps; t++ {
		k := t % period
		var ra, rb byte
		hasA, hasB := p.keepA[k], p.keepB[k]
		if hasA {
			ra = coded[pos] & 1
			pos++
		}
		if hasB {
			rb = coded[pos] & 1
			pos++
		}

		for ns := 0; ns < numStates; ns++ {
			bit := byte(ns >> (ConstraintLength - 2))
			best := unreachable * 2
			var choice byte
			for x := 0; x < 2; x++ {
				prev := (ns&(numStates/2-1))<<1 | x
				a, b, _ := encodeStep(prev, bit)
				m := metrics[prev]
				if hasA && a != ra {
					m++
				}
				if hasB && b != rb {
					m++
				}
				if m < best {
					best = m
					choice = byte(x)
				}
			}
			nextMetrics[ns] = best
			decisions[t][ns] = choice
		}
		metrics, nextMetrics = nextMetrics, metrics
	}

	state := 0
	for s := 1; s < numStates; s++ {
		if metrics[s] < metrics[state] {
			state = s
		}
	}

	out := make([]byte, steps)
	for t := steps - 1; t >= 0; t-- {
		out[t] = byte(state >> (ConstraintLength - 2))
		state = (state&(numStates/2-1))<<1 | int(decisions[t][state])
	}
	return out, nil
}
