package modem

import "fmt"

// Interleaver permutes the coded bits of one OFDM symbol so that adjacent
// coded bits land on non-adjacent subcarriers and alternate between more
// and less significant constellation bits.
type Interleaver struct {
	cbps    int
	forward []int // forward[k] is the output position of input bit k
}

// NewInterleaver builds the two-step block permutation for n coded bits per
// symbol with bpsc bits per subcarrier.
func NewInterleaver(cbps, bpsc int) *Interleaver {
	s := max(bpsc/2, 1)
	forward := make([]int, cbps)
	for k := 0; k < cbps; k++ {
		i := (cbps/16)*(k%16) + k/16
		j := s*(i/s) + (i+cbps-(16*i/cbps))%s
		forward[k] = j
	}
	return &Interleaver{cbps: cbps, forward: forward}
}

// Interleave permutes one symbol worth of coded bits.
func (il *Interleaver) Interleave(in []byte) ([]byte, error) {
	if len(in) != il.cbps {
		return nil, fmt.Errorf("interleave: got %d bits, want %d", len(in), il.cbps)
	}
	out := make([]byte, il.cbps)
	for k, j := range il.forward {
		out[j] = in[k]
	}
	return out, nil
}

// Deinterleave reverses Interleave.
func (il *Interleaver) Deinterleave(in []byte) ([]byte, error) {
	if len(in) != il.cbps {
		return nil, fmt.Errorf("deinterleave: got %d bits, want %d", len(in), il.cbps)
	}
	out := make([]byte, il.cbps)
	for k, j := range il.forward {
		out[k] = in[j]
	}
	return out, nil
}
