// SPDX-License-Identifier: MIT
package classifier

import (
	"fmt"
	"math"
)

const (
	// lowBandHz is the lower edge of the first feature band.
	lowBandHz = 100.0

	dynamicRangeDB = 60.0
)

// FeatureConfig shapes the band-energy features.
type FeatureConfig struct {
	SampleRate float64
	FFTSize    int
	Bands      int
	Window     WindowFunc
}

// band is a half-open bin range [lo, hi).
type band struct {
	lo, hi int
}

// FeatureExtractor turns a block of samples into a gain-independent vector
// of log band energies accumulated over half-overlapping FFT frames.
type FeatureExtractor struct {
	cfg      FeatureConfig
	spec     *spectrum
	bands    []band
	energies []float64
	out      []float64
}

// NewFeatureExtractor validates cfg and pre-allocates all buffers.
func NewFeatureExtractor(cfg FeatureConfig) (*FeatureExtractor, error) {
	spec, err := newSpectrum(cfg.FFTSize, cfg.SampleRate, cfg.Window)
	if err != nil {
		return nil, err
	}
	bands, err := logBands(spec, cfg.Bands)
	if err != nil {
		return nil, err
	}
	return &FeatureExtractor{
		cfg:      cfg,
		spec:     spec,
		bands:    bands,
		energies: make([]float64, len(bands)),
		out:      make([]float64, len(bands)),
	}, nil
}

// logBands splits the spectrum between lowBandHz and Nyquist into n
// logarithmically spaced bands of at least one bin each.
func logBands(spec *spectrum, n int) ([]band, error) {
	bins := len(spec.magnitude)
	binHz := spec.sampleRate / float64(spec.size)
	nyquist := spec.sampleRate / 2

	first := int(math.Ceil(lowBandHz / binHz))
	if n < 1 || n > bins-first {
		return nil, fmt.Errorf("cannot fit %d bands into %d bins above %.0f Hz", n, bins-first, lowBandHz)
	}

	ratio := nyquist / lowBandHz
	bands := make([]band, n)
	lo := first
	for k := range n {
		edge := lowBandHz * math.Pow(ratio, float64(k+1)/float64(n))
		hi := int(math.Round(edge / binHz))
		// Leave room for the remaining bands.
		hi = min(max(hi, lo+1), bins-(n-k-1))
		if k == n-1 {
			hi = bins
		}
		bands[k] = band{lo: lo, hi: hi}
		lo = hi
	}
	return bands, nil
}

// Dim returns the feature vector length.
func (e *FeatureExtractor) Dim() int {
	return len(e.bands)
}

// Config returns the extractor settings.
func (e *FeatureExtractor) Config() FeatureConfig {
	return e.cfg
}

// Extract returns the feature vector for samples. The result is reused by
// the next call; copy it to keep it.
func (e *FeatureExtractor) Extract(samples []float32) []float64 {
	clear(e.energies)

	hop := e.spec.size / 2
	for off := 0; off == 0 || off+e.spec.size <= len(samples); off += hop {
		end := min(off+e.spec.size, len(samples))
		mag := e.spec.compute(samples[off:end])
		for i, b := range e.bands {
			var sum float64
			for _, m := range mag[b.lo:b.hi] {
				sum += m * m
			}
			e.energies[i] += sum / float64(b.hi-b.lo)
		}
	}

	// Bands more than dynamicRangeDB below the loudest are clamped so the
	// noise floor does not depend on input level.
	var peak float64
	for _, en := range e.energies {
		peak = max(peak, en)
	}
	floor := max(peak*math.Pow(10, -dynamicRangeDB/10), 1e-12)

	// Log energies shift by a constant under gain; removing the mean and
	// scaling to unit length leaves only the spectral shape.
	var mean float64
	for i, en := range e.energies {
		e.out[i] = math.Log10(max(en, floor))
		mean += e.out[i]
	}
	mean /= float64(len(e.out))

	var norm float64
	for i := range e.out {
		e.out[i] -= mean
		norm += e.out[i] * e.out[i]
	}
	if norm = math.Sqrt(norm); norm > 1e-9 {
		for i := range e.out {
			e.out[i] /= norm
		}
	}
	return e.out
}
