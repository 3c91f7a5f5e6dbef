package domain

import "math"

// DecibelToLinear converts a loudness in dB (usually -60..0) to a linear amplitude.
func DecibelToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LoudnessMapper maps segment loudness onto a device brightness range.
//
// Linear loudness values of the whole track are clipped to
// mean ± clipSigma standard deviations before taking the min/max used for
// normalisation, so one extreme transient does not squash the range for the
// rest of the track.
type LoudnessMapper struct {
	lo, hi        float64
	minBrightness int
	maxBrightness int
}

// NewLoudnessMapper builds a mapper from the loudness_start of every segment.
func NewLoudnessMapper(segments []TimedItem, minBrightness, maxBrightness int, clipSigma float64) LoudnessMapper {
	m := LoudnessMapper{minBrightness: minBrightness, maxBrightness: maxBrightness}
	if maxBrightness < minBrightness {
		m.minBrightness, m.maxBrightness = maxBrightness, minBrightness
	}
	if len(segments) == 0 {
		return m
	}

	linear := make([]float64, len(segments))
	var sum float64
	for i, s := range segments {
		linear[i] = DecibelToLinear(s.LoudnessStart)
		sum += linear[i]
	}
	mean := sum / float64(len(linear))

	var sq float64
	for _, v := range linear {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(linear)))

	lowerBound, upperBound := math.Inf(-1), math.Inf(1)
	if clipSigma > 0 {
		lowerBound = mean - clipSigma*std
		upperBound = mean + clipSigma*std
	}

	m.lo, m.hi = math.Inf(1), math.Inf(-1)
	for _, v := range linear {
		v = math.Max(lowerBound, math.Min(upperBound, v))
		m.lo = math.Min(m.lo, v)
		m.hi = math.Max(m.hi, v)
	}
	return m
}

// Brightness returns the device brightness for a loudness in dB.
// A degenerate range (empty or constant-loudness track) maps to the minimum.
func (m LoudnessMapper) Brightness(loudnessDB float64) int {
	if !(m.hi > m.lo) {
		return m.minBrightness
	}
	v := DecibelToLinear(loudnessDB)
	v = math.Max(m.lo, math.Min(m.hi, v))
	norm := (v - m.lo) / (m.hi - m.lo)
	span := float64(m.maxBrightness - m.minBrightness)
	return m.minBrightness + int(math.Round(norm*span))
}

// Range returns the clipped linear loudness range.
func (m LoudnessMapper) Range() (lo, hi float64) {
	return m.lo, m.hi
}
