package modem

import "math/cmplx"

// Pilot subcarrier management for OFDM.
// Pilots are used for common phase tracking.

// PilotPattern lists the logical pilot subcarriers.
var PilotPattern = [NumPilots]int{-21, -7, 7, 21}

// pilotBase holds the pilot values before polarity is applied.
var pilotBase = [NumPilots]complex128{1, 1, 1, -1}

// pilotPolarity is the 127-element sequence p_0..p_126 produced by the
// scrambler x^7+x^4+1 seeded with all ones, mapped 0 to +1 and 1 to -1.
var pilotPolarity = func() [127]float64 {
	var seq [127]float64
	state := byte(0x7f)
	for i := range seq {
		bit := ((state >> 6) ^ (state >> 3)) & 1
		state = (state<<1 | bit) & 0x7f
		if bit == 0 {
			seq[i] = 1
		} else {
			seq[i] = -1
		}
	}
	return seq
}()

// PilotPolarity returns the polarity for the symbol with the given index.
// The SIGNAL symbol uses index 0 and data symbols count up from 1.
func PilotPolarity(symbolIndex int) float64 {
	return pilotPolarity[symbolIndex%len(pilotPolarity)]
}

// PilotValues returns the four pilots for the symbol with the given index.
func PilotValues(symbolIndex int) [NumPilots]complex128 {
	p := complex(PilotPolarity(symbolIndex), 0)
	var out [NumPilots]complex128
	for i, v := range pilotBase {
		out[i] = v * p
	}
	return out
}

// IsPilot returns true if the given logical subcarrier is a pilot.
func IsPilot(k int) bool {
	for _, p := range PilotPattern {
		if k == p {
			return true
		}
	}
	return false
}

// IsUsed reports whether logical subcarrier k carries energy.
func IsUsed(k int) bool {
	return k != 0 && k >= -NumUsedSubcarriers/2 && k <= NumUsedSubcarriers/2
}

// DataSubcarriers lists the logical data subcarriers in ascending order.
var DataSubcarriers = func() []int {
	var data []int
	for k := -NumUsedSubcarriers / 2; k <= NumUsedSubcarriers/2; k++ {
		if IsUsed(k) && !IsPilot(k) {
			data = append(data, k)
		}
	}
	return data
}()

// UsedSubcarriers lists the 52 logical subcarriers that carry data or pilots.
var UsedSubcarriers = func() []int {
	var used []int
	for k := -NumUsedSubcarriers / 2; k <= NumUsedSubcarriers/2; k++ {
		if IsUsed(k) {
			used = append(used, k)
		}
	}
	return used
}()

// InsertPilots builds the FFT bin array for one symbol from 48 data points.
func InsertPilots(dataSymbols []complex128, symbolIndex int) []complex128 {
	bins := make([]complex128, FFTSize)
	for i, k := range DataSubcarriers {
		if i < len(dataSymbols) {
			bins[binIndex(k)] = dataSymbols[i]
		}
	}
	pilots := PilotValues(symbolIndex)
	for i, k := range PilotPattern {
		bins[binIndex(k)] = pilots[i]
	}
	return bins
}

// ExtractPilots extracts pilot values from the received bins.
func ExtractPilots(bins []complex128) []complex128 {
	pilots := make([]complex128, NumPilots)
	for i, k := range PilotPattern {
		pilots[i] = bins[binIndex(k)]
	}
	return pilots
}

// ExtractData extracts the 48 data points from the received bins.
func ExtractData(bins []complex128) []complex128 {
	data := make([]complex128, len(DataSubcarriers))
	for i, k := range DataSubcarriers {
		data[i] = bins[binIndex(k)]
	}
	return data
}

// EstimatePhaseOffset estimates the common phase error of equalized pilots
// against the values transmitted in symbol symbolIndex.
func EstimatePhaseOffset(receivedPilots []complex128, symbolIndex int) float64 {
	expected := PilotValues(symbolIndex)
	var acc complex128
	for i, p := range receivedPilots {
		if i >= NumPilots {
			break
		}
		acc += p * cmplx.Conj(expected[i])
	}
	if acc == 0 {
		return 0
	}
	return cmplx.Phase(acc)
}

// CorrectPhase rotates symbols by -phaseOffset.
func CorrectPhase(symbols []complex128, phaseOffset float64) []complex128 {
	corrected := make([]complex128, len(symbols))
	correction := cmplx.Rect(1, -phaseOffset)
	for i, s := range symbols {
		corrected[i] = s * correction
	}
	return corrected
}
