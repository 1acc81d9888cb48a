// SPDX-License-Identifier: MIT
package classifier

import (
	"fmt"
	"math/cmplx"
	"strings"

	"kws/internal/log"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the FFT window function.
type WindowFunc int

const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var windowNames = map[WindowFunc]string{
	BartlettHann:    "BartlettHann",
	Blackman:        "Blackman",
	BlackmanNuttall: "BlackmanNuttall",
	Hann:            "Hann",
	Hamming:         "Hamming",
	Lanczos:         "Lanczos",
	Nuttall:         "Nuttall",
}

func (w WindowFunc) String() string {
	if name, ok := windowNames[w]; ok {
		return name
	}
	return fmt.Sprintf("WindowFunc(%d)", int(w))
}

// ParseWindowFunc converts a case-insensitive name to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning", "":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

func applyWindow(coeffs []float64, windowType WindowFunc) {
	// Window functions scale in place, so start from ones.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		log.Warnf("Classifier: unknown window function %d, using Hann", windowType)
		window.Hann(coeffs)
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// spectrum computes magnitude spectra of fixed-size frames with
// pre-allocated buffers.
type spectrum struct {
	fft        *fourier.FFT
	size       int
	sampleRate float64

	input     []float64
	coeffs    []complex128
	magnitude []float64
	window    []float64
}

func newSpectrum(size int, sampleRate float64, windowType WindowFunc) (*spectrum, error) {
	if !isPowerOfTwo(size) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	coeffs := make([]float64, size)
	applyWindow(coeffs, windowType)

	// Real input of N points yields N/2+1 complex coefficients.
	bins := size/2 + 1

	return &spectrum{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		input:      make([]float64, size),
		coeffs:     make([]complex128, bins),
		magnitude:  make([]float64, bins),
		window:     coeffs,
	}, nil
}

// compute windows frame, zero-padding short input, and returns the magnitude
// spectrum. The returned slice is reused by the next call.
//
// Performance Critical (Hot Path):
//   - No allocations
func (s *spectrum) compute(frame []float32) []float64 {
	const normFactor = 1.0 / 32768.0
	for i := range s.size {
		if i < len(frame) {
			s.input[i] = float64(frame[i]) * normFactor * s.window[i]
		} else {
			s.input[i] = 0
		}
	}

	s.fft.Coefficients(s.coeffs, s.input)
	for i, c := range s.coeffs {
		s.magnitude[i] = cmplx.Abs(c)
	}
	return s.magnitude
}

// binFrequency returns the center frequency in Hz of bin i.
func (s *spectrum) binFrequency(i int) float64 {
	if i < 0 || i >= len(s.coeffs) {
		return 0
	}
	return s.fft.Freq(i) * s.sampleRate
}
