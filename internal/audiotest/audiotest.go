// SPDX-License-Identifier: MIT
//
// Package audiotest provides deterministic signals and scripted sample
// sources for tests.
package audiotest

import (
	"io"
	"math"
	"sync"
	"time"
)

// SineWave returns size samples of a sine at frequency, scaled to 90% of
// the int16 range.
func SineWave(size int, sampleRate, frequency float64) []int16 {
	return ScaledSine(size, sampleRate, frequency, 0.9)
}

// ScaledSine returns size samples of a sine at frequency with the given peak
// as a fraction of full scale.
func ScaledSine(size int, sampleRate, frequency, amplitude float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int16(math.Sin(2*math.Pi*frequency*t) * math.MaxInt16 * amplitude)
	}
	return buffer
}

// ComplexWave returns a 440Hz fundamental with two harmonics.
func ComplexWave(size int, sampleRate float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = int16(signal * math.MaxInt16 * 0.9)
	}
	return buffer
}

// Ramp returns samples 0, 1, 2, ... wrapping at the int16 range. Useful for
// checking sample order through a buffer.
func Ramp(size int) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		buffer[i] = int16(i)
	}
	return buffer
}

// Step is one scripted Read result. When Samples is nil, N zero samples are
// returned; Err is returned alongside.
type Step struct {
	Samples []int16
	N       int
	Err     error
	Delay   time.Duration
}

// ScriptedSource replays a fixed sequence of Read results and then reports
// io.EOF. It satisfies audio.SampleSource.
type ScriptedSource struct {
	mu    sync.Mutex
	steps []Step
	reads int
}

// NewScriptedSource returns a source that plays steps in order.
func NewScriptedSource(steps ...Step) *ScriptedSource {
	return &ScriptedSource{steps: steps}
}

// Read returns the next scripted step.
func (s *ScriptedSource) Read(buf []int16, _ time.Duration) (int, error) {
	s.mu.Lock()
	if s.reads >= len(s.steps) {
		s.mu.Unlock()
		return 0, io.EOF
	}
	step := s.steps[s.reads]
	s.reads++
	s.mu.Unlock()

	if step.Delay > 0 {
		time.Sleep(step.Delay)
	}

	var n int
	if step.Samples != nil {
		n = copy(buf, step.Samples)
	} else {
		n = min(step.N, len(buf))
		clear(buf[:n])
	}
	return n, step.Err
}

// Reads returns how many steps have been consumed.
func (s *ScriptedSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
