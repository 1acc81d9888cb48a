// SPDX-License-Identifier: MIT
package audio

import "math"

// ApplyGain multiplies every sample by gain in place, saturating at the
// int16 range instead of wrapping.
func ApplyGain(samples []int16, gain int) {
	if gain == 1 {
		return
	}
	g := int32(gain)
	for i, s := range samples {
		v := int32(s) * g
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
}

// Peak returns the largest absolute amplitude in samples.
func Peak(samples []int16) int32 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		mask := v >> 31
		amplitude := (v ^ mask) - mask
		if amplitude > peak {
			peak = amplitude
		}
	}
	return peak
}
